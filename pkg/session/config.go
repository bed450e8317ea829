package session

import (
	"github.com/voxhome/voxlive/pkg/core"
	"github.com/voxhome/voxlive/pkg/tools"
)

// Defaults applied during normalization.
const (
	DefaultGeminiModel = "gemini-2.5-flash-native-audio-preview-12-2025"
	DefaultOpenAIModel = "gpt-realtime"
	DefaultVoice       = "Kore"
	DefaultTemperature = 0.7

	// Context window compression thresholds, in tokens.
	DefaultCompressionTrigger = 32000
	DefaultCompressionTarget  = 12800

	DefaultMediaResolution = "MEDIA_RESOLUTION_MEDIUM"
)

// Config describes a live session.
type Config struct {
	// APIKey authenticates against the upstream. Either APIKey or
	// EphemeralToken is required.
	APIKey string

	// EphemeralToken is a short-lived token minted server-side; when
	// set it is used instead of APIKey.
	EphemeralToken string

	// Model selects the realtime model. Defaults per adapter.
	Model string

	// Voice selects the synthesis voice.
	Voice string

	// Temperature is the sampling temperature.
	Temperature float64

	// SystemInstruction is prepended to every session.
	SystemInstruction string

	// Tools are declared to the model at setup. Tool.InputSchema is
	// passed through as the JSON Schema for the arguments.
	Tools []tools.Tool

	// ResumptionHandle, when set, asks the upstream to resume a prior
	// session instead of starting fresh.
	ResumptionHandle string

	// InputTranscription and OutputTranscription enable transcription
	// of user and model audio respectively.
	InputTranscription  bool
	OutputTranscription bool

	// CompressionTrigger and CompressionTarget tune context window
	// compression. Zero means the adapter default.
	CompressionTrigger int
	CompressionTarget  int

	// MediaResolution controls image/video token spend (Gemini only).
	MediaResolution string

	// BaseURL overrides the upstream endpoint. Test hook.
	BaseURL string
}

func (c *Config) normalize(defaultModel string) error {
	if c.APIKey == "" && c.EphemeralToken == "" {
		return core.NewInvalidRequestError("api key or ephemeral token is required")
	}
	if c.Model == "" {
		c.Model = defaultModel
	}
	if c.Voice == "" {
		c.Voice = DefaultVoice
	}
	if c.Temperature == 0 {
		c.Temperature = DefaultTemperature
	}
	if c.CompressionTrigger == 0 {
		c.CompressionTrigger = DefaultCompressionTrigger
	}
	if c.CompressionTarget == 0 {
		c.CompressionTarget = DefaultCompressionTarget
	}
	if c.MediaResolution == "" {
		c.MediaResolution = DefaultMediaResolution
	}
	return nil
}
