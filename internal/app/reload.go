package app

import (
	"context"
	"log/slog"

	"github.com/MrWong99/voxrelay/internal/config"
	"github.com/MrWong99/voxrelay/internal/speech"
	"github.com/MrWong99/voxrelay/internal/transcript"
)

// ApplyConfig applies the hot-reloadable differences between old and new to
// the running session: log level, correction threshold and toggle, and the
// synthesis voice. Changes that need a restart are logged and ignored.
func (a *App) ApplyConfig(ctx context.Context, old, new *config.Config) {
	d := config.Diff(old, new, transcript.DefaultThreshold)
	if d.Empty() {
		return
	}

	if d.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.ThresholdChanged {
		a.corrector.SetThreshold(d.NewThreshold)
		slog.Info("correction threshold changed", "threshold", d.NewThreshold)
	}
	if d.CorrectionToggled {
		a.correct.Store(d.CorrectionEnabled)
		slog.Info("correction toggled", "enabled", d.CorrectionEnabled)
	}
	if d.VoiceChanged {
		voice, err := speech.ResolveVoice(ctx, a.synth, d.NewVoice)
		if err != nil {
			slog.Warn("voice lookup failed, passing name through", "voice", d.NewVoice, "err", err)
		}
		a.speaker.SetVoice(voice)
		slog.Info("voice changed", "voice", voice.Name, "voice_id", voice.ID)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart to take effect", "sections", d.RestartRequired)
	}
}
