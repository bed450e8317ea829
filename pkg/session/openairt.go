package session

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/voxhome/voxlive/pkg/audio"
	"github.com/voxhome/voxlive/pkg/core"
)

const openAIBaseURL = "wss://api.openai.com/v1/realtime"

// OpenAIAdapter speaks the OpenAI Realtime protocol.
type OpenAIAdapter struct{}

func NewOpenAIAdapter() *OpenAIAdapter { return &OpenAIAdapter{} }

func (*OpenAIAdapter) Name() string { return "openai" }

func (*OpenAIAdapter) Normalize(cfg *Config) error {
	if err := cfg.normalize(DefaultOpenAIModel); err != nil {
		return err
	}
	if cfg.Voice == DefaultVoice {
		cfg.Voice = "alloy"
	}
	return nil
}

func (*OpenAIAdapter) Endpoint(cfg Config) (string, http.Header, error) {
	base := cfg.BaseURL
	if base == "" {
		base = openAIBaseURL
	}
	token := cfg.APIKey
	if cfg.EphemeralToken != "" {
		token = cfg.EphemeralToken
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	header.Set("OpenAI-Beta", "realtime=v1")
	return base + "?model=" + cfg.Model, header, nil
}

func (a *OpenAIAdapter) Setup(cfg Config) ([][]byte, error) {
	return a.Encode(cfg, ConfigUpdate{Config: cfg})
}

type openAIServerMessage struct {
	Type string `json:"type"`

	Delta string `json:"delta"`

	Item *struct {
		CallID    string `json:"call_id"`
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"item"`

	// Present on response.function_call_arguments.done.
	CallID    string `json:"call_id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`

	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (*OpenAIAdapter) Decode(frame []byte) ([]Event, error) {
	var msg openAIServerMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, core.NewAPIError(fmt.Sprintf("malformed server frame: %v", err))
	}

	switch msg.Type {
	case "session.created":
		return []Event{ready{}}, nil

	case "response.text.delta", "response.output_text.delta":
		return []Event{TextDelta{Text: msg.Delta}}, nil

	case "response.audio.delta", "response.output_audio.delta":
		pcm, err := audio.DecodeBase64(msg.Delta)
		if err != nil {
			return nil, core.NewAPIError(fmt.Sprintf("malformed audio delta: %v", err))
		}
		return []Event{AudioDelta{Data: pcm}}, nil

	case "response.audio_transcript.delta", "response.output_audio_transcript.delta":
		return []Event{OutputTranscription{Text: msg.Delta}}, nil

	case "conversation.item.input_audio_transcription.delta":
		return []Event{InputTranscription{Text: msg.Delta}}, nil

	case "input_audio_buffer.speech_started":
		return []Event{Interrupted{}}, nil

	case "response.function_call_arguments.done":
		args := map[string]any{}
		if msg.Arguments != "" {
			if err := json.Unmarshal([]byte(msg.Arguments), &args); err != nil {
				return nil, core.NewAPIError(fmt.Sprintf("malformed tool arguments: %v", err))
			}
		}
		return []Event{ToolCallRequest{CallID: msg.CallID, Name: msg.Name, Args: args}}, nil

	case "response.done":
		return []Event{GenerationComplete{Resumable: false}, TurnComplete{}}, nil

	case "error":
		message := "unknown error"
		if msg.Error != nil {
			message = msg.Error.Message
		}
		return []Event{ErrorEvent{Message: message}}, nil
	}

	// Lifecycle chatter (session.updated, response.created, rate
	// limit notices) carries nothing the engine acts on.
	return nil, nil
}

func (*OpenAIAdapter) Encode(cfg Config, cmd Command) ([][]byte, error) {
	var payloads []any

	switch c := cmd.(type) {
	case ConfigUpdate:
		payloads = []any{map[string]any{
			"type":    "session.update",
			"session": openAISession(c.Config),
		}}

	case UserTurn:
		payloads = []any{
			map[string]any{
				"type": "conversation.item.create",
				"item": map[string]any{
					"type": "message",
					"role": "user",
					"content": []map[string]any{{
						"type": "input_text",
						"text": c.Text,
					}},
				},
			},
			map[string]any{"type": "response.create"},
		}

	case AudioAppend:
		payloads = []any{map[string]any{
			"type":  "input_audio_buffer.append",
			"audio": audio.EncodeBase64(c.Data),
		}}

	case AudioStreamEnd:
		payloads = []any{map[string]any{"type": "input_audio_buffer.commit"}}

	case ImageAppend:
		payloads = []any{map[string]any{
			"type": "conversation.item.create",
			"item": map[string]any{
				"type": "message",
				"role": "user",
				"content": []map[string]any{{
					"type":      "input_image",
					"image_url": fmt.Sprintf("data:%s;base64,%s", c.MIMEType, audio.EncodeBase64(c.Data)),
				}},
			},
		}}

	case ToolResult:
		output, err := json.Marshal(c.Result)
		if err != nil {
			return nil, err
		}
		payloads = []any{
			map[string]any{
				"type": "conversation.item.create",
				"item": map[string]any{
					"type":    "function_call_output",
					"call_id": c.CallID,
					"output":  string(output),
				},
			},
			map[string]any{"type": "response.create"},
		}

	default:
		return nil, core.NewInvalidRequestError(fmt.Sprintf("unsupported command %T", cmd))
	}

	frames := make([][]byte, 0, len(payloads))
	for _, p := range payloads {
		data, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		frames = append(frames, data)
	}
	return frames, nil
}

func openAISession(cfg Config) map[string]any {
	session := map[string]any{
		"modalities":  []string{"text", "audio"},
		"voice":       cfg.Voice,
		"temperature": cfg.Temperature,
	}
	if cfg.SystemInstruction != "" {
		session["instructions"] = cfg.SystemInstruction
	}
	if len(cfg.Tools) > 0 {
		decls := make([]map[string]any, 0, len(cfg.Tools))
		for _, t := range cfg.Tools {
			decl := map[string]any{
				"type":        "function",
				"name":        t.Name,
				"description": t.Description,
			}
			if t.InputSchema != nil {
				decl["parameters"] = t.InputSchema
			}
			decls = append(decls, decl)
		}
		session["tools"] = decls
	}
	if cfg.InputTranscription {
		session["input_audio_transcription"] = map[string]any{"model": "whisper-1"}
	}
	return session
}
