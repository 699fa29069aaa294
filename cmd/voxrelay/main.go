// Command voxrelay listens in one language and speaks the translation in
// another.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/voxrelay/internal/app"
	"github.com/MrWong99/voxrelay/internal/config"
	"github.com/MrWong99/voxrelay/internal/observe"
	"github.com/MrWong99/voxrelay/internal/transcript"
	"github.com/MrWong99/voxrelay/pkg/provider/stt"
	"github.com/MrWong99/voxrelay/pkg/provider/stt/deepgram"
	"github.com/MrWong99/voxrelay/pkg/provider/stt/speechmatics"
	"github.com/MrWong99/voxrelay/pkg/provider/translate"
	"github.com/MrWong99/voxrelay/pkg/provider/translate/anyllm"
	"github.com/MrWong99/voxrelay/pkg/provider/translate/deepl"
	"github.com/MrWong99/voxrelay/pkg/provider/translate/openai"
	"github.com/MrWong99/voxrelay/pkg/provider/tts"
	"github.com/MrWong99/voxrelay/pkg/provider/tts/elevenlabs"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", true, "apply log level, correction and voice changes from the config file while running")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxrelay: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxrelay: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	levelVar := new(slog.LevelVar)
	levelVar.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar})))

	slog.Info("voxrelay starting",
		"version", version,
		"config", *configPath,
		"source", cfg.Languages.Source,
		"target", cfg.Languages.Target,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceName:    "voxrelay",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers, app.WithLevelVar(levelVar))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	if *watch {
		w, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
			application.ApplyConfig(ctx, old, new)
		})
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			go func() { _ = w.Run(ctx) }()
		}
	}

	slog.Info("listening, press Ctrl+C to stop")

	code := 0
	if err := application.Run(ctx); err != nil {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return code
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// llmTranslators are the any-llm backends usable for translation. ollama,
// llamacpp and llamafile are local servers addressed by base_url.
var llmTranslators = []string{"anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"}

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("speechmatics", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []speechmatics.Option
		if entry.BaseURL != "" {
			opts = append(opts, speechmatics.WithEndpoint(entry.BaseURL))
		}
		op := entry.Model
		if op == "" {
			op = optString(entry.Options, "operating_point")
		}
		if op != "" {
			opts = append(opts, speechmatics.WithOperatingPoint(op))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, speechmatics.WithLanguage(lang))
		}
		if d, ok := optFloat(entry.Options, "max_delay"); ok {
			opts = append(opts, speechmatics.WithMaxDelay(d))
		}
		if n, ok := optFloat(entry.Options, "chunk_bytes"); ok {
			opts = append(opts, speechmatics.WithChunkBytes(int(n)))
		}
		return speechmatics.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// ── Translate ─────────────────────────────────────────────────────────────

	reg.RegisterTranslate("deepl", func(entry config.ProviderEntry) (translate.Provider, error) {
		var opts []deepl.Option
		if entry.BaseURL != "" {
			opts = append(opts, deepl.WithBaseURL(entry.BaseURL))
		}
		if f := optString(entry.Options, "formality"); f != "" {
			opts = append(opts, deepl.WithFormality(f))
		}
		if d, ok := optDuration(entry.Options, "timeout"); ok {
			opts = append(opts, deepl.WithTimeout(d))
		}
		return deepl.New(entry.APIKey, opts...)
	})

	reg.RegisterTranslate("openai", func(entry config.ProviderEntry) (translate.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		if t, ok := optFloat(entry.Options, "temperature"); ok {
			opts = append(opts, openai.WithTemperature(t))
		}
		if n, ok := optFloat(entry.Options, "max_retries"); ok {
			opts = append(opts, openai.WithMaxRetries(int(n)))
		}
		if d, ok := optDuration(entry.Options, "timeout"); ok {
			opts = append(opts, openai.WithTimeout(d))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	for _, providerName := range llmTranslators {
		reg.RegisterTranslate(providerName, func(entry config.ProviderEntry) (translate.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		stability, okS := optFloat(entry.Options, "stability")
		similarity, okB := optFloat(entry.Options, "similarity_boost")
		if okS || okB {
			opts = append(opts, elevenlabs.WithVoiceSettings(stability, similarity))
		}
		if entry.BaseURL != "" {
			api := strings.TrimSuffix(entry.BaseURL, "/")
			ws := optString(entry.Options, "ws_url")
			if ws == "" {
				ws = "ws" + strings.TrimPrefix(api, "http") + "/text-to-speech"
			}
			opts = append(opts, elevenlabs.WithEndpoints(ws, api))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	for kind, names := range reg.Names() {
		slog.Debug("registered providers", "kind", kind, "names", names)
	}
}

// buildProviders instantiates the primary and fallback providers named in cfg.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	sttp, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, err
	}
	ps.STT = app.Named[stt.Provider]{Name: cfg.Providers.STT.Name, Provider: sttp}
	slog.Info("provider created", "kind", "stt", "name", cfg.Providers.STT.Name)

	for _, entry := range append([]config.ProviderEntry{cfg.Providers.Translate}, cfg.Providers.TranslateFallbacks...) {
		p, err := reg.CreateTranslate(entry)
		if err != nil {
			return nil, err
		}
		ps.Translate = append(ps.Translate, app.Named[translate.Provider]{Name: entry.Name, Provider: p})
		slog.Info("provider created", "kind", "translate", "name", entry.Name, "fallback", len(ps.Translate) > 1)
	}

	for _, entry := range append([]config.ProviderEntry{cfg.Providers.TTS}, cfg.Providers.TTSFallbacks...) {
		p, err := reg.CreateTTS(entry)
		if err != nil {
			return nil, err
		}
		ps.TTS = append(ps.TTS, app.Named[tts.Provider]{Name: entry.Name, Provider: p})
		slog.Info("provider created", "kind", "tts", "name", entry.Name, "fallback", len(ps.TTS) > 1)
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        voxrelay startup summary       ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("Translate", cfg.Providers.Translate.Name, cfg.Providers.Translate.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printRow("Fallbacks", fmt.Sprintf("%d translate, %d tts", len(cfg.Providers.TranslateFallbacks), len(cfg.Providers.TTSFallbacks)))
	printRow("Languages", cfg.Languages.Source+" -> "+cfg.Languages.Target)
	input := string(cfg.Audio.Input)
	if cfg.Audio.Input == config.InputFile {
		input = "file " + cfg.Audio.FilePath
	}
	printRow("Input", input)
	if cfg.Correction.IsEnabled() {
		printRow("Correction", fmt.Sprintf("below %.2f", cfg.Correction.ThresholdOr(transcript.DefaultThreshold)))
	} else {
		printRow("Correction", "(disabled)")
	}
	if cfg.Store.PostgresDSN != "" {
		printRow("Store", "postgres")
	} else {
		printRow("Store", "(disabled)")
	}
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	printRow(kind, value)
}

func printRow(label, value string) {
	if len([]rune(value)) > 19 {
		value = string([]rune(value)[:18]) + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optFloat extracts a number from a provider Options map. YAML integers and
// floats are both accepted.
func optFloat(opts map[string]any, key string) (float64, bool) {
	switch v := opts[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// optDuration extracts a duration such as "10s" from a provider Options map.
func optDuration(opts map[string]any, key string) (time.Duration, bool) {
	s := optString(opts, key)
	if s == "" {
		return 0, false
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		slog.Warn("ignoring invalid duration option", "key", key, "value", s, "err", err)
		return 0, false
	}
	return d, true
}
