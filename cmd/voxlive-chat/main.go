// Command voxlive-chat is a terminal client for a live realtime
// session: text turns in, streamed deltas out, with federated tools
// dispatched through the router.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/voxhome/voxlive/internal/dotenv"
	"github.com/voxhome/voxlive/pkg/events"
	"github.com/voxhome/voxlive/pkg/session"
	"github.com/voxhome/voxlive/pkg/tools"
)

const defaultTurnTimeout = 90 * time.Second

type chatConfig struct {
	Provider string
	APIKey   string
	Model    string
	Voice    string
	System   string
	Timeout  time.Duration
	Verbose  bool

	// Optional MCP tool servers.
	MCPURL     string
	MCPToken   string
	MCPCommand string
}

func parseChatConfig(args []string, getenv func(string) string) (chatConfig, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	cfg := chatConfig{}
	fs := flag.NewFlagSet("voxlive-chat", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.Provider, "provider", "gemini", "realtime provider (gemini or openai)")
	fs.StringVar(&cfg.Model, "model", "", "model override (defaults per provider)")
	fs.StringVar(&cfg.Voice, "voice", "", "synthesis voice override")
	fs.StringVar(&cfg.System, "system", "", "optional system instruction")
	fs.DurationVar(&cfg.Timeout, "timeout", defaultTurnTimeout, "per-turn timeout (e.g. 90s)")
	fs.BoolVar(&cfg.Verbose, "v", false, "debug logging")
	fs.StringVar(&cfg.MCPURL, "mcp-url", "", "HTTP MCP tool server endpoint")
	fs.StringVar(&cfg.MCPToken, "mcp-token", strings.TrimSpace(getenv("VOXLIVE_MCP_TOKEN")), "bearer token for the HTTP tool server (or VOXLIVE_MCP_TOKEN)")
	fs.StringVar(&cfg.MCPCommand, "mcp-command", "", "command spawning a stdio MCP tool server")

	if err := fs.Parse(args); err != nil {
		return chatConfig{}, err
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "gemini":
		cfg.Provider = "gemini"
		cfg.APIKey = strings.TrimSpace(getenv("GEMINI_API_KEY"))
		if cfg.APIKey == "" {
			cfg.APIKey = strings.TrimSpace(getenv("GOOGLE_API_KEY"))
		}
		if cfg.APIKey == "" {
			return chatConfig{}, errors.New("missing provider key (set GEMINI_API_KEY or GOOGLE_API_KEY)")
		}
	case "openai":
		cfg.Provider = "openai"
		cfg.APIKey = strings.TrimSpace(getenv("OPENAI_API_KEY"))
		if cfg.APIKey == "" {
			return chatConfig{}, errors.New("missing provider key (set OPENAI_API_KEY)")
		}
	default:
		return chatConfig{}, fmt.Errorf("unknown provider %q (want gemini or openai)", cfg.Provider)
	}

	if cfg.Timeout <= 0 {
		return chatConfig{}, errors.New("timeout must be > 0")
	}
	cfg.MCPCommand = strings.TrimSpace(cfg.MCPCommand)
	return cfg, nil
}

func buildAdapter(provider string) session.Adapter {
	if provider == "openai" {
		return session.NewOpenAIAdapter()
	}
	return session.NewGeminiAdapter()
}

func buildRouter(cfg chatConfig, logger *slog.Logger) (*tools.Router, error) {
	router := tools.NewRouter(logger)

	if cfg.MCPURL != "" {
		err := router.RegisterProvider(tools.ProviderConfig{
			Name:        "mcp",
			Transport:   tools.TransportHTTP,
			Endpoint:    cfg.MCPURL,
			BearerToken: cfg.MCPToken,
			Enabled:     true,
		})
		if err != nil {
			return nil, err
		}
	}
	if cfg.MCPCommand != "" {
		parts := strings.Fields(cfg.MCPCommand)
		if len(parts) == 0 {
			return nil, errors.New("mcp-command is blank")
		}
		err := router.RegisterProvider(tools.ProviderConfig{
			Name:      "local_server",
			Transport: tools.TransportProcess,
			Command:   parts[0],
			Args:      parts[1:],
			Enabled:   true,
		})
		if err != nil {
			return nil, err
		}
	}

	// A builtin tool so the session always has something to call.
	builtin := tools.NewLocalProvider()
	builtin.Register(tools.Tool{
		Name:        "get_time",
		Description: "Get the current local time",
		InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
	}, func(ctx context.Context, args map[string]any) (map[string]any, error) {
		return map[string]any{"result": time.Now().Format(time.RFC1123)}, nil
	})
	if err := router.AttachLocal("builtin", builtin); err != nil {
		return nil, err
	}
	return router, nil
}

func runChat(ctx context.Context, cfg chatConfig, in io.Reader, out io.Writer, errOut io.Writer) error {
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}

	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: level}))

	router, err := buildRouter(cfg, logger)
	if err != nil {
		return err
	}
	defer router.Close(context.Background())

	status := router.ConnectAll(ctx)
	for name, ok := range status {
		if !ok {
			fmt.Fprintf(errOut, "tool provider %s unavailable, continuing without it\n", name)
		}
	}

	conn, err := session.NewConn(buildAdapter(cfg.Provider), session.Config{
		APIKey:              cfg.APIKey,
		Model:               cfg.Model,
		Voice:               cfg.Voice,
		SystemInstruction:   cfg.System,
		Tools:               router.Tools(),
		OutputTranscription: true,
	}, session.WithLogger(logger), session.WithTurnTimeout(cfg.Timeout))
	if err != nil {
		return err
	}

	bus := conn.Bus()
	bus.Subscribe(session.KindToolCallRequest, func(ev events.Event) {
		req := ev.(session.ToolCallRequest)
		fmt.Fprintf(out, "\n[tool] %s\n", req.Name)
		result, derr := router.Dispatch(ctx, req.Name, req.Args)
		if derr != nil {
			result = map[string]any{"error": derr.Error()}
		}
		if err := conn.SendToolResult(req.CallID, result); err != nil {
			logger.Warn("tool result not delivered", "tool", req.Name, "error", err)
		}
	})
	bus.Subscribe(session.KindTextDelta, func(ev events.Event) {
		fmt.Fprint(out, ev.(session.TextDelta).Text)
	})
	bus.Subscribe(session.KindOutputTranscription, func(ev events.Event) {
		fmt.Fprint(out, ev.(session.OutputTranscription).Text)
	})
	bus.Subscribe(session.KindError, func(ev events.Event) {
		fmt.Fprintf(errOut, "session error: %s\n", ev.(session.ErrorEvent).Message)
	})
	bus.Subscribe(session.KindGoAway, func(ev events.Event) {
		goAway := ev.(session.GoAway)
		fmt.Fprintf(errOut, "upstream closing in %ds (resumption handle %q)\n", goAway.SecondsRemaining, goAway.Handle)
	})

	if err := conn.Connect(ctx); err != nil {
		return err
	}
	defer conn.Close(context.Background())

	fmt.Fprintf(out, "voxlive connected via %s\n", cfg.Provider)
	if names := router.Providers(); len(names) > 0 {
		fmt.Fprintf(out, "tool providers: %s\n", strings.Join(names, ", "))
	}
	fmt.Fprintln(out, "Type /exit or /quit to stop.")

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			fmt.Fprintln(out)
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch line {
		case "/exit", "/quit":
			fmt.Fprintln(out, "bye")
			return nil
		}

		turnCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		resp, err := conn.SendText(turnCtx, line)
		cancel()
		if err != nil {
			fmt.Fprintf(errOut, "turn failed: %v\n", err)
			continue
		}
		fmt.Fprintln(out)
		if resp.Status != session.StatusCompleted {
			fmt.Fprintf(errOut, "turn ended %s\n", resp.Status)
		}
	}
}

func main() {
	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "voxlive-chat: %v\n", err)
		os.Exit(1)
	}

	cfg, err := parseChatConfig(os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voxlive-chat: %v\n", err)
		os.Exit(1)
	}

	if err := runChat(context.Background(), cfg, os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "voxlive-chat: %v\n", err)
		os.Exit(1)
	}
}
