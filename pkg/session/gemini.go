package session

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/voxhome/voxlive/pkg/audio"
	"github.com/voxhome/voxlive/pkg/core"
)

const geminiBaseURL = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

// GeminiAdapter speaks the Gemini Live (BidiGenerateContent) protocol.
type GeminiAdapter struct{}

func NewGeminiAdapter() *GeminiAdapter { return &GeminiAdapter{} }

func (*GeminiAdapter) Name() string { return "gemini" }

func (*GeminiAdapter) Normalize(cfg *Config) error {
	return cfg.normalize(DefaultGeminiModel)
}

func (*GeminiAdapter) Endpoint(cfg Config) (string, http.Header, error) {
	base := cfg.BaseURL
	if base == "" {
		base = geminiBaseURL
	}
	if cfg.EphemeralToken != "" {
		return base + "?access_token=" + cfg.EphemeralToken, nil, nil
	}
	return base + "?key=" + cfg.APIKey, nil, nil
}

func (a *GeminiAdapter) Setup(cfg Config) ([][]byte, error) {
	return a.Encode(cfg, ConfigUpdate{Config: cfg})
}

// Wire shapes, trimmed to the fields the engine uses.

type geminiServerMessage struct {
	SetupComplete *struct{} `json:"setupComplete"`

	ServerContent *struct {
		ModelTurn *struct {
			Parts []struct {
				Text       string `json:"text"`
				InlineData *struct {
					MIMEType string `json:"mimeType"`
					Data     string `json:"data"`
				} `json:"inlineData"`
			} `json:"parts"`
		} `json:"modelTurn"`
		Interrupted         bool `json:"interrupted"`
		TurnComplete        bool `json:"turnComplete"`
		GenerationComplete  bool `json:"generationComplete"`
		InputTranscription  *struct {
			Text string `json:"text"`
		} `json:"inputTranscription"`
		OutputTranscription *struct {
			Text string `json:"text"`
		} `json:"outputTranscription"`
	} `json:"serverContent"`

	ToolCall *struct {
		FunctionCalls []struct {
			ID   string         `json:"id"`
			Name string         `json:"name"`
			Args map[string]any `json:"args"`
		} `json:"functionCalls"`
	} `json:"toolCall"`

	SessionResumptionUpdate *struct {
		NewHandle string `json:"newHandle"`
		Resumable bool   `json:"resumable"`
	} `json:"sessionResumptionUpdate"`

	GoAway *struct {
		TimeLeft string `json:"timeLeft"`
	} `json:"goAway"`

	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (*GeminiAdapter) Decode(frame []byte) ([]Event, error) {
	var msg geminiServerMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, core.NewAPIError(fmt.Sprintf("malformed server frame: %v", err))
	}

	var out []Event

	if msg.SetupComplete != nil {
		out = append(out, ready{})
	}

	if sc := msg.ServerContent; sc != nil {
		if sc.Interrupted {
			out = append(out, Interrupted{})
		}
		if sc.ModelTurn != nil {
			for _, part := range sc.ModelTurn.Parts {
				if part.Text != "" {
					out = append(out, TextDelta{Text: part.Text})
				}
				if part.InlineData != nil && strings.HasPrefix(part.InlineData.MIMEType, "audio/") {
					pcm, err := audio.DecodeBase64(part.InlineData.Data)
					if err != nil {
						return nil, core.NewAPIError(fmt.Sprintf("malformed audio delta: %v", err))
					}
					out = append(out, AudioDelta{Data: pcm})
				}
			}
		}
		if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
			out = append(out, InputTranscription{Text: sc.InputTranscription.Text})
		}
		if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
			out = append(out, OutputTranscription{Text: sc.OutputTranscription.Text})
		}
		if sc.GenerationComplete {
			out = append(out, GenerationComplete{Resumable: true})
		}
		if sc.TurnComplete {
			out = append(out, TurnComplete{})
		}
	}

	if tc := msg.ToolCall; tc != nil {
		for _, call := range tc.FunctionCalls {
			out = append(out, ToolCallRequest{CallID: call.ID, Name: call.Name, Args: call.Args})
		}
	}

	if ru := msg.SessionResumptionUpdate; ru != nil {
		out = append(out, ResumptionUpdate{Handle: ru.NewHandle, Resumable: ru.Resumable})
	}

	if ga := msg.GoAway; ga != nil {
		out = append(out, GoAway{SecondsRemaining: parseTimeLeft(ga.TimeLeft)})
	}

	if msg.Error != nil {
		out = append(out, ErrorEvent{Message: msg.Error.Message})
	}

	return out, nil
}

// parseTimeLeft parses the goAway countdown, which arrives as a
// protobuf duration string ("50s", "1.5s").
func parseTimeLeft(s string) int {
	if s == "" {
		return 0
	}
	if d, err := time.ParseDuration(s); err == nil {
		return int(d / time.Second)
	}
	digits := strings.TrimFunc(s, func(r rune) bool { return r < '0' || r > '9' })
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0
	}
	return n
}

func (*GeminiAdapter) Encode(cfg Config, cmd Command) ([][]byte, error) {
	var payload any

	switch c := cmd.(type) {
	case ConfigUpdate:
		payload = map[string]any{"setup": geminiSetup(c.Config)}

	case UserTurn:
		payload = map[string]any{
			"clientContent": map[string]any{
				"turns": []map[string]any{{
					"role":  "user",
					"parts": []map[string]any{{"text": c.Text}},
				}},
				"turnComplete": c.TurnComplete,
			},
		}

	case AudioAppend:
		payload = map[string]any{
			"realtimeInput": map[string]any{
				"audio": map[string]any{
					"mimeType": fmt.Sprintf("audio/pcm;rate=%d", audio.InputSampleRate),
					"data":     audio.EncodeBase64(c.Data),
				},
			},
		}

	case AudioStreamEnd:
		payload = map[string]any{
			"realtimeInput": map[string]any{"audioStreamEnd": true},
		}

	case ImageAppend:
		payload = map[string]any{
			"realtimeInput": map[string]any{
				"video": map[string]any{
					"mimeType": c.MIMEType,
					"data":     audio.EncodeBase64(c.Data),
				},
			},
		}

	case ToolResult:
		payload = map[string]any{
			"toolResponse": map[string]any{
				"functionResponses": []map[string]any{{
					"id":       c.CallID,
					"name":     c.Name,
					"response": c.Result,
				}},
			},
		}

	default:
		return nil, core.NewInvalidRequestError(fmt.Sprintf("unsupported command %T", cmd))
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return [][]byte{data}, nil
}

func geminiSetup(cfg Config) map[string]any {
	model := cfg.Model
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}

	generation := map[string]any{
		"temperature":        cfg.Temperature,
		"responseModalities": []string{"AUDIO"},
		"mediaResolution":    cfg.MediaResolution,
		"speechConfig": map[string]any{
			"voiceConfig": map[string]any{
				"prebuiltVoiceConfig": map[string]any{"voiceName": cfg.Voice},
			},
		},
	}

	setup := map[string]any{
		"model":            model,
		"generationConfig": generation,
		"contextWindowCompression": map[string]any{
			"triggerTokens": cfg.CompressionTrigger,
			"slidingWindow": map[string]any{"targetTokens": cfg.CompressionTarget},
		},
	}

	if cfg.SystemInstruction != "" {
		setup["systemInstruction"] = map[string]any{
			"parts": []map[string]any{{"text": cfg.SystemInstruction}},
		}
	}
	if len(cfg.Tools) > 0 {
		decls := make([]map[string]any, 0, len(cfg.Tools))
		for _, t := range cfg.Tools {
			decl := map[string]any{"name": t.Name, "description": t.Description}
			if t.InputSchema != nil {
				decl["parameters"] = t.InputSchema
			}
			decls = append(decls, decl)
		}
		setup["tools"] = []map[string]any{{"functionDeclarations": decls}}
	}
	if cfg.ResumptionHandle != "" {
		setup["sessionResumption"] = map[string]any{"handle": cfg.ResumptionHandle}
	} else {
		setup["sessionResumption"] = map[string]any{}
	}
	if cfg.InputTranscription {
		setup["inputAudioTranscription"] = map[string]any{}
	}
	if cfg.OutputTranscription {
		setup["outputAudioTranscription"] = map[string]any{}
	}
	return setup
}
