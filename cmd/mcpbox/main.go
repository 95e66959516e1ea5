// ABOUTME: Entry point for the mcpbox gateway
// ABOUTME: Parses CLI flags, loads configuration, and runs the gateway until a shutdown signal

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/mcpbox/internal/config"
	"github.com/2389/mcpbox/internal/gateway"
)

// version is set by goreleaser at build time.
var version = "dev"

const banner = `
                       _
  _ __ ___   ___ _ __ | |__   _____  __
 | '_ ' _ \ / __| '_ \| '_ \ / _ \ \/ /
 | | | | | | (__| |_) | |_) | (_) >  <
 |_| |_| |_|\___| .__/|_.__/ \___/_/\_\
                |_|
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	configPath, help, showVersion, err := parseFlags(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if help {
		printUsage()
		return 0
	}
	if showVersion {
		fmt.Printf("mcpbox %s\n", version)
		return 0
	}

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: loading config: %v\n", err)
		return 1
	}

	logger := setupLogger(cfg.Log)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config: %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:   :%d\n", cfg.Server.Port)
	green.Print("    ▶ ")
	fmt.Printf("Auth:   %s\n", authModeLabel(cfg))
	fmt.Println()

	logger.Info("starting mcpbox", "config", configPath, "port", cfg.Server.Port, "auth", authModeLabel(cfg))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// A second signal while shutdown is already underway forces
	// immediate exit, per SPEC_FULL.md §5.
	forceCtx, forceStop := context.WithCancel(context.Background())
	go func() {
		<-ctx.Done()
		second, cancelSecond := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancelSecond()
		<-second.Done()
		forceStop()
	}()

	gw, err := gateway.New(context.Background(), cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: starting gateway: %v\n", err)
		return 1
	}

	runErr := make(chan error, 1)
	go func() { runErr <- gw.Run(ctx) }()

	select {
	case err := <-runErr:
		if err != nil {
			logger.Error("gateway exited with error", "error", err)
			return 1
		}
		return 0
	case <-forceCtx.Done():
		logger.Warn("second shutdown signal received, forcing exit")
		return 1
	}
}

func authModeLabel(cfg *config.Config) string {
	if cfg.Auth.Type == "" {
		return "none"
	}
	return cfg.Auth.Type
}

func parseFlags(args []string) (configPath string, help, showVersion bool, err error) {
	configPath = "mcpbox.json"

	var positional []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "-h" || arg == "--help":
			help = true
		case arg == "-v" || arg == "--version":
			showVersion = true
		case arg == "-c" || arg == "--config":
			if i+1 >= len(args) {
				return "", false, false, fmt.Errorf("%s requires a value", arg)
			}
			configPath = args[i+1]
			i++
		case strings.HasPrefix(arg, "--config="):
			configPath = strings.TrimPrefix(arg, "--config=")
		case strings.HasPrefix(arg, "-c="):
			configPath = strings.TrimPrefix(arg, "-c=")
		case strings.HasPrefix(arg, "-"):
			return "", false, false, fmt.Errorf("unknown flag: %s", arg)
		default:
			positional = append(positional, arg)
		}
	}

	// A lone positional argument is the config path, for backward
	// compatibility with the pre-flag CLI surface.
	if len(positional) == 1 {
		configPath = positional[0]
	} else if len(positional) > 1 {
		return "", false, false, fmt.Errorf("unexpected arguments: %s", strings.Join(positional[1:], " "))
	}

	return configPath, help, showVersion, nil
}

func printUsage() {
	fmt.Println("mcpbox — an MCP gateway with an embedded OAuth 2.1 authorization server")
	fmt.Println()
	fmt.Println("Usage: mcpbox [-c|--config <path>] [-h|--help] [-v|--version]")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  -c, --config <path>   configuration file path (default mcpbox.json)")
	fmt.Println("  -h, --help            show this help and exit")
	fmt.Println("  -v, --version         show version and exit")
}

func setupLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = &colorHandler{level: level}
	}
	return slog.New(handler)
}

// colorHandler renders log records the way the teacher's gateway does:
// a dim timestamp, a colorized level, the message, then key=value
// attribute pairs — easier to scan during local development than JSON.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{level: h.level, attrs: newAttrs, groups: h.groups}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{level: h.level, attrs: h.attrs, groups: newGroups}
}
