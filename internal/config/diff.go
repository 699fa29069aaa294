package config

// ConfigDiff describes the hot-reloadable changes between two configs.
// Everything else requires a restart and is reported in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ThresholdChanged bool
	NewThreshold     float64

	CorrectionToggled bool
	CorrectionEnabled bool

	VoiceChanged bool
	NewVoice     string

	// RestartRequired lists top-level sections that changed but cannot be
	// applied to a running session.
	RestartRequired []string
}

// Empty reports whether d carries no change at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.ThresholdChanged && !d.CorrectionToggled &&
		!d.VoiceChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new and returns what changed. defaultThreshold is the
// correction threshold in effect when none is configured.
func Diff(old, new *Config, defaultThreshold float64) ConfigDiff {
	var d ConfigDiff

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if o, n := old.Correction.ThresholdOr(defaultThreshold), new.Correction.ThresholdOr(defaultThreshold); o != n {
		d.ThresholdChanged = true
		d.NewThreshold = n
	}
	if old.Correction.IsEnabled() != new.Correction.IsEnabled() {
		d.CorrectionToggled = true
		d.CorrectionEnabled = new.Correction.IsEnabled()
	}
	if old.Languages.Voice != new.Languages.Voice {
		d.VoiceChanged = true
		d.NewVoice = new.Languages.Voice
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || old.Server.ShutdownTimeout != new.Server.ShutdownTimeout {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !providersEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.Languages.Source != new.Languages.Source || old.Languages.Target != new.Languages.Target {
		d.RestartRequired = append(d.RestartRequired, "languages")
	}
	if old.Store != new.Store {
		d.RestartRequired = append(d.RestartRequired, "store")
	}
	return d
}

func providersEqual(a, b ProvidersConfig) bool {
	return entryEqual(a.STT, b.STT) && entryEqual(a.Translate, b.Translate) && entryEqual(a.TTS, b.TTS) &&
		entriesEqual(a.TranslateFallbacks, b.TranslateFallbacks) && entriesEqual(a.TTSFallbacks, b.TTSFallbacks)
}

func entriesEqual(a, b []ProviderEntry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !entryEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

// entryEqual compares the scalar fields and the option keys and values that
// are comparable.
func entryEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) != len(b.Options) {
		return false
	}
	for k, av := range a.Options {
		bv, ok := b.Options[k]
		if !ok || !sameOption(av, bv) {
			return false
		}
	}
	return true
}

func sameOption(a, b any) bool {
	switch a.(type) {
	case string, int, float64, bool, nil:
		return a == b
	default:
		// Nested maps and lists are treated as changed.
		return false
	}
}
