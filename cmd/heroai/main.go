// Command heroai is the main entry point for the HeroAI voice server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/heroai/internal/app"
	"github.com/MrWong99/heroai/internal/config"
	"github.com/MrWong99/heroai/internal/observe"
	"github.com/MrWong99/heroai/pkg/audio"
	"github.com/MrWong99/heroai/pkg/audio/ffmpeg"
	"github.com/MrWong99/heroai/pkg/audio/playback"
	"github.com/MrWong99/heroai/pkg/provider/assist"
	assistanyllm "github.com/MrWong99/heroai/pkg/provider/assist/anyllm"
	assistgenai "github.com/MrWong99/heroai/pkg/provider/assist/genai"
	assistopenai "github.com/MrWong99/heroai/pkg/provider/assist/openai"
	liveprov "github.com/MrWong99/heroai/pkg/provider/live"
	"github.com/MrWong99/heroai/pkg/provider/live/gemini"
	livegenai "github.com/MrWong99/heroai/pkg/provider/live/genai"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (optional)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := loadConfig(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "heroai: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "heroai: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Slog())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("heroai starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "heroai",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(tctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := app.BuildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers, app.WithTelemetry(tel), app.WithLogLevel(level))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	if *configPath != "" {
		w, err := config.NewWatcher(*configPath, application.ApplyConfig)
		if err != nil {
			slog.Warn("config hot reload disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	slog.Info("server ready; press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// loadConfig reads path, or builds the default config from the environment
// when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	cfg := config.Default()
	config.ApplyEnv(cfg, os.Getenv)
	return cfg, config.Validate(cfg)
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// builtinProviders lists the implementations that ship with HeroAI. Used for
// startup logging.
var builtinProviders = map[string][]string{
	"live":   {"genai", "gemini"},
	"assist": {"genai", "openai", "anyllm"},
	"input":  {config.DriverFFmpeg},
	"output": {config.DriverFFmpeg, config.DriverDiscard},
}

// registerBuiltinProviders wires all built-in provider and device factories
// into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Live ──────────────────────────────────────────────────────────────────

	reg.RegisterLive("genai", func(entry config.ProviderEntry) (liveprov.Provider, error) {
		if entry.APIKey == "" {
			return nil, errors.New("genai: api key required (set GEMINI_API_KEY)")
		}
		var opts []livegenai.Option
		if entry.Model != "" {
			opts = append(opts, livegenai.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, livegenai.WithBaseURL(entry.BaseURL))
		}
		return livegenai.New(entry.APIKey, opts...), nil
	})

	reg.RegisterLive("gemini", func(entry config.ProviderEntry) (liveprov.Provider, error) {
		if entry.APIKey == "" {
			return nil, errors.New("gemini: api key required (set GEMINI_API_KEY)")
		}
		var opts []gemini.Option
		if entry.Model != "" {
			opts = append(opts, gemini.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(entry.BaseURL))
		}
		return gemini.New(entry.APIKey, opts...), nil
	})

	// ── Assist ────────────────────────────────────────────────────────────────

	reg.RegisterAssist("genai", func(entry config.ProviderEntry) (assist.Backend, error) {
		if entry.APIKey == "" {
			return nil, errors.New("genai: api key required (set GEMINI_API_KEY)")
		}
		var opts []assistgenai.Option
		if entry.Model != "" {
			opts = append(opts, assistgenai.WithModel(assist.KindChat, entry.Model))
		}
		for _, kind := range assist.Kinds {
			if m := entry.Option(string(kind) + "_model"); m != "" {
				opts = append(opts, assistgenai.WithModel(kind, m))
			}
		}
		if entry.BaseURL != "" {
			opts = append(opts, assistgenai.WithBaseURL(entry.BaseURL))
		}
		if s := entry.Option("instruction"); s != "" {
			opts = append(opts, assistgenai.WithChatInstruction(s))
		}
		return assistgenai.New(entry.APIKey, opts...), nil
	})

	reg.RegisterAssist("openai", func(entry config.ProviderEntry) (assist.Backend, error) {
		var opts []assistopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, assistopenai.WithBaseURL(entry.BaseURL))
		}
		if org := entry.Option("organization"); org != "" {
			opts = append(opts, assistopenai.WithOrganization(org))
		}
		if m := entry.Option("think_model"); m != "" {
			opts = append(opts, assistopenai.WithThinkModel(m))
		}
		if s := entry.Option("instruction"); s != "" {
			opts = append(opts, assistopenai.WithInstruction(s))
		}
		return assistopenai.New(entry.APIKey, entry.Model, opts...)
	})

	// anyllm reaches every provider any-llm-go supports; options.provider
	// selects which one.
	reg.RegisterAssist("anyllm", func(entry config.ProviderEntry) (assist.Backend, error) {
		var opts []anyllmlib.Option
		if entry.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
		}
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		b, err := assistanyllm.New(entry.Option("provider"), entry.Model, opts...)
		if err != nil {
			return nil, err
		}
		if s := entry.Option("instruction"); s != "" {
			b = b.WithInstruction(s)
		}
		return b, nil
	})

	// ── Audio devices ─────────────────────────────────────────────────────────

	reg.RegisterInput(config.DriverFFmpeg, func(dev config.DeviceConfig) (audio.Microphone, error) {
		return ffmpeg.NewMicrophone(ffmpeg.WithFFmpegPath(dev.Path), ffmpeg.WithInput(dev.Device))
	})

	// Output devices are created per session; the renderer's clock only runs
	// while the session does.
	reg.RegisterOutput(config.DriverFFmpeg, func(_ context.Context, dev config.DeviceConfig) (playback.OutputDevice, error) {
		sp, err := ffmpeg.NewSpeaker(audio.OutputFormat, ffmpeg.WithFFplayPath(dev.Path), ffmpeg.WithVolume(dev.Volume))
		if err != nil {
			return nil, err
		}
		return playback.NewRenderer(sp, playback.WithFormat(audio.OutputFormat)), nil
	})

	reg.RegisterOutput(config.DriverDiscard, func(context.Context, config.DeviceConfig) (playback.OutputDevice, error) {
		return playback.NewRenderer(io.Discard, playback.WithFormat(audio.OutputFormat)), nil
	})

	for kind, names := range builtinProviders {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         HeroAI · startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Live", cfg.Providers.Live.Name, cfg.LiveSession().Model)
	printRow("Voice", cfg.LiveSession().Voice, "")
	for i, e := range cfg.Providers.Assist {
		printRow(fmt.Sprintf("Assist #%d", i+1), e.Label(), e.Model)
	}
	printRow("Input", cfg.Audio.Input.Driver, cfg.Audio.Input.Device)
	printRow("Output", cfg.Audio.Output.Driver, "")
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr, "")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(kind, name, detail string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if detail != "" {
		value = name + " / " + detail
	}
	if len([]rune(value)) > 19 {
		value = string([]rune(value)[:18]) + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}
