package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/voxrelay/pkg/audio"
)

// ValidProviderNames lists the built-in provider names per kind. [Validate]
// warns about names not listed here; they may still be registered by hand.
var ValidProviderNames = map[string][]string{
	"stt":       {"speechmatics", "deepgram"},
	"translate": {"deepl", "openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts":       {"elevenlabs"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields that have a non-zero default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.Audio.Input == "" {
		cfg.Audio.Input = InputMic
	}
	if cfg.Audio.RelayCapacity <= 0 {
		cfg.Audio.RelayCapacity = audio.DefaultRelayCapacity
	}
	if cfg.Audio.Input == InputFile {
		if cfg.Audio.Channels == 0 {
			cfg.Audio.Channels = 1
		}
		if cfg.Audio.Encoding == "" {
			cfg.Audio.Encoding = string(audio.EncodingS16LE)
		}
	}
}

// Validate checks that cfg is coherent. It returns all failures joined.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	for _, p := range []struct {
		kind  string
		entry ProviderEntry
	}{
		{"stt", cfg.Providers.STT},
		{"translate", cfg.Providers.Translate},
		{"tts", cfg.Providers.TTS},
	} {
		if p.entry.Name == "" {
			errs = append(errs, fmt.Errorf("providers.%s.name is required", p.kind))
			continue
		}
		validateProviderName(p.kind, p.entry.Name)
	}
	for i, fb := range cfg.Providers.TranslateFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.translate_fallbacks[%d].name is required", i))
		}
		validateProviderName("translate", fb.Name)
	}
	for i, fb := range cfg.Providers.TTSFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.tts_fallbacks[%d].name is required", i))
		}
		validateProviderName("tts", fb.Name)
	}

	a := cfg.Audio
	if a.Input != "" && !a.Input.IsValid() {
		errs = append(errs, fmt.Errorf("audio.input %q is invalid; valid values: mic, file", a.Input))
	}
	if a.Input == InputFile {
		if a.FilePath == "" {
			errs = append(errs, errors.New("audio.file_path is required when audio.input is file"))
		}
		if a.SampleRate <= 0 {
			errs = append(errs, errors.New("audio.sample_rate is required when audio.input is file"))
		}
	}
	if a.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must not be negative", a.SampleRate))
	}
	if a.Channels < 0 || a.Channels > 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d is out of range [0, 2]", a.Channels))
	}
	if a.Encoding != "" && !audio.Encoding(a.Encoding).Valid() {
		errs = append(errs, fmt.Errorf("audio.encoding %q is invalid; valid values: %s, %s", a.Encoding, audio.EncodingF32LE, audio.EncodingS16LE))
	}

	if cfg.Languages.Source == "" {
		errs = append(errs, errors.New("languages.source is required"))
	}
	if cfg.Languages.Target == "" {
		errs = append(errs, errors.New("languages.target is required"))
	}
	if cfg.Languages.Voice == "" {
		slog.Warn("languages.voice is empty; the tts provider's default voice will be used")
	}

	if t := cfg.Correction.Threshold; t != nil && (*t < 0 || *t > 1) {
		errs = append(errs, fmt.Errorf("correction.threshold %.2f is out of range [0, 1]", *t))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is not a built-in provider of
// the given kind.
func validateProviderName(kind, name string) {
	if name == "" || slices.Contains(ValidProviderNames[kind], name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or a custom registration",
		"kind", kind,
		"name", name,
		"known", ValidProviderNames[kind],
	)
}
