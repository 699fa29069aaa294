// Package app wires the voxrelay subsystems into a running translation
// session.
//
// [New] builds everything from the config: audio input and output, the
// transcript corrector, translation and synthesis behind circuit-breaking
// fallbacks, the utterance queue and the optional transcript store. [App.Run]
// executes the pipeline until the input ends or the context is cancelled and
// then drains what is still queued.
//
// For testing, inject doubles via functional options ([WithSource],
// [WithSink], [WithStore]). When an option is not provided, New opens the real
// devices and database named in the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxrelay/internal/config"
	"github.com/MrWong99/voxrelay/internal/health"
	"github.com/MrWong99/voxrelay/internal/observe"
	"github.com/MrWong99/voxrelay/internal/pipeline"
	"github.com/MrWong99/voxrelay/internal/resilience"
	"github.com/MrWong99/voxrelay/internal/session"
	"github.com/MrWong99/voxrelay/internal/speech"
	"github.com/MrWong99/voxrelay/internal/transcript"
	"github.com/MrWong99/voxrelay/pkg/audio"
	"github.com/MrWong99/voxrelay/pkg/audio/device"
	"github.com/MrWong99/voxrelay/pkg/provider/stt"
	"github.com/MrWong99/voxrelay/pkg/provider/translate"
	"github.com/MrWong99/voxrelay/pkg/provider/tts"
	"github.com/MrWong99/voxrelay/pkg/store"
	"github.com/MrWong99/voxrelay/pkg/store/postgres"
)

// finalFlushTimeout bounds the last write of the session log on exit.
const finalFlushTimeout = 5 * time.Second

// Named pairs a provider with the config name it was created from.
type Named[T any] struct {
	Name     string
	Provider T
}

// Providers holds the constructed backends. Translate and TTS list the
// primary first, then the fallbacks in order. Populated by main via the
// config registry.
type Providers struct {
	STT       Named[stt.Provider]
	Translate []Named[translate.Provider]
	TTS       []Named[tts.Provider]
}

// App owns all subsystem lifetimes of one translation session.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics
	levelVar  *slog.LevelVar

	session    *session.Session
	corrector  *transcript.Corrector
	correct    atomic.Bool
	translator *resilience.TranslateFallback
	synth      *resilience.TTSFallback
	speaker    *speech.Speaker
	orch       *pipeline.Orchestrator
	relay      *audio.Relay
	source     Source
	sink       audio.Sink
	store      store.UtteranceLog
	flusher    *session.Flusher
	health     *health.Handler

	devices *device.Context

	// closers run in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for [New]. Use these to inject test doubles.
type Option func(*App)

// WithSource injects the audio input instead of opening the configured one.
func WithSource(s Source) Option {
	return func(a *App) { a.source = s }
}

// WithSink injects the audio output instead of opening a playback device.
func WithSink(s audio.Sink) Option {
	return func(a *App) { a.sink = s }
}

// WithStore injects the transcript store instead of connecting to
// store.postgres_dsn.
func WithStore(s store.UtteranceLog) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics records on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar lets config reloads change the log level through v.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = v }
}

// New creates an App by wiring all subsystems together.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if err := providers.validate(); err != nil {
		return nil, err
	}
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	src, tgt := cfg.Languages.Source, cfg.Languages.Target
	a.session = session.New(src, tgt)

	a.corrector = transcript.NewCorrector(
		transcript.WithThreshold(cfg.Correction.ThresholdOr(transcript.DefaultThreshold)),
		transcript.WithDiagnostics(func(err error) {
			slog.Debug("transcript correction incomplete", "session_id", a.session.ID(), "err", err)
		}),
	)
	a.correct.Store(cfg.Correction.IsEnabled())

	if err := a.initBackends(); err != nil {
		a.cleanup()
		return nil, err
	}
	if err := a.initStore(ctx); err != nil {
		a.cleanup()
		return nil, fmt.Errorf("app: init store: %w", err)
	}
	if err := a.initAudio(); err != nil {
		a.cleanup()
		return nil, fmt.Errorf("app: init audio: %w", err)
	}

	a.relay = audio.NewRelay(cfg.Audio.RelayCapacity, audio.WithBlockObserver(a.metrics.RecordRelayBlock))

	voice, err := speech.ResolveVoice(ctx, a.synth, cfg.Languages.Voice)
	if err != nil {
		slog.Warn("voice lookup failed, passing name through", "voice", cfg.Languages.Voice, "err", err)
	}
	a.speaker = speech.New(a.synth, a.sink, voice)

	a.orch = pipeline.New(a.translator, a.speaker,
		pipeline.WithLanguages(src, tgt),
		pipeline.WithMetrics(a.metrics),
		pipeline.WithProviderNames(providers.Translate[0].Name, providers.TTS[0].Name),
		pipeline.WithOnTranslated(func(u pipeline.Utterance, translated string) {
			if err := a.session.SetTranslation(u.ID, translated); err != nil {
				slog.Warn("failed to record translation", "id", u.ID, "err", err)
			}
		}),
	)

	a.initHealth()
	return a, nil
}

func (p *Providers) validate() error {
	var errs []error
	if p.STT.Provider == nil {
		errs = append(errs, errors.New("stt provider is required"))
	}
	if len(p.Translate) == 0 || p.Translate[0].Provider == nil {
		errs = append(errs, errors.New("translate provider is required"))
	}
	if len(p.TTS) == 0 || p.TTS[0].Provider == nil {
		errs = append(errs, errors.New("tts provider is required"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("app: %w", errors.Join(errs...))
	}
	return nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initBackends puts translation and synthesis behind fallback groups.
func (a *App) initBackends() error {
	breakerCfg := func(kind string) resilience.FallbackConfig {
		return resilience.FallbackConfig{
			CircuitBreaker: resilience.CircuitBreakerConfig{
				OnStateChange: func(name string, from, to resilience.State) {
					slog.Warn("circuit breaker state changed", "kind", kind, "provider", name, "from", from, "to", to)
				},
			},
			OnFailure: func(name string, _ error) {
				a.metrics.RecordProviderError(context.Background(), name, kind)
			},
		}
	}

	tr := a.providers.Translate
	a.translator = resilience.NewTranslateFallback(tr[0].Provider, tr[0].Name, breakerCfg("translate"))
	for _, fb := range tr[1:] {
		a.translator.AddFallback(fb.Name, fb.Provider)
	}

	ts := a.providers.TTS
	a.synth = resilience.NewTTSFallback(ts[0].Provider, ts[0].Name, breakerCfg("tts"))
	for _, fb := range ts[1:] {
		if err := a.synth.AddFallback(fb.Name, fb.Provider); err != nil {
			return fmt.Errorf("app: %w", err)
		}
	}
	return nil
}

// initStore connects the optional transcript store.
func (a *App) initStore(ctx context.Context) error {
	if a.store == nil && a.cfg.Store.PostgresDSN != "" {
		s, err := postgres.NewStore(ctx, a.cfg.Store.PostgresDSN)
		if err != nil {
			return err
		}
		a.store = s
		a.closers = append(a.closers, func() error {
			s.Close()
			return nil
		})
	}
	if a.store != nil {
		a.flusher = session.NewFlusher(a.session, a.store, 0)
	}
	return nil
}

// initAudio opens whatever input and output was not injected.
func (a *App) initAudio() error {
	ac := a.cfg.Audio
	if a.source == nil && ac.Input == config.InputFile {
		a.source = NewFileSource(ac.FilePath, audio.Format{
			SampleRate: ac.SampleRate,
			Channels:   ac.Channels,
			Encoding:   audio.Encoding(ac.Encoding),
		})
	}
	if a.source != nil && a.sink != nil {
		return nil
	}

	devices, err := device.NewContext()
	if err != nil {
		return err
	}
	a.devices = devices

	if a.source == nil {
		mic, err := OpenMic(devices, device.Config{
			Device:     ac.InputDevice,
			SampleRate: ac.SampleRate,
			Channels:   ac.Channels,
		})
		if err != nil {
			return err
		}
		a.source = mic
		a.closers = append(a.closers, mic.Close)
	}
	if a.sink == nil {
		out := a.synth.OutputFormat()
		pb, err := device.OpenPlayback(devices, device.Config{
			Device:     ac.OutputDevice,
			SampleRate: out.SampleRate,
			Channels:   out.Channels,
		}, out.Encoding, 0)
		if err != nil {
			return err
		}
		a.sink = pb
		a.closers = append(a.closers, pb.Close)
	}
	a.closers = append(a.closers, devices.Close)
	return nil
}

func (a *App) initHealth() {
	a.health = health.New(
		health.FlagCheck("transcription", a.session.Running, "transcription session not running"),
		health.BreakerCheck("translate", a.translator.Status),
		health.BreakerCheck("tts", a.synth.Status),
	)
	if p, ok := a.store.(health.Pinger); ok {
		a.health.Add(health.PingCheck("store", p))
	}
	if a.flusher != nil {
		a.health.Add(health.FlagCheck("store_flush", func() bool { return !a.flusher.Degraded() }, "last session flush failed"))
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Session returns the session context.
func (a *App) Session() *session.Session { return a.session }

// Health returns the readiness handler.
func (a *App) Health() *health.Handler { return a.health }

// Stats returns the orchestrator counters.
func (a *App) Stats() pipeline.Stats { return a.orch.Stats() }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run streams the input through transcription, correction, translation and
// synthesis until the input ends or ctx is cancelled.
//
// On cancellation the input stops, the relay is closed so the STT provider
// flushes its last result, and utterances still queued are translated and
// spoken for up to server.shutdown_timeout. The session log is flushed to the
// store before Run returns. Run returns nil after a clean stop and the first
// pipeline error otherwise.
func (a *App) Run(ctx context.Context) error {
	drainCtx, cancelDrain := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelDrain()
	go a.enforceDrainDeadline(ctx, drainCtx, cancelDrain)

	aux, auxCtx := errgroup.WithContext(drainCtx)
	auxCtx, stopAux := context.WithCancel(auxCtx)
	if a.flusher != nil {
		aux.Go(func() error { return a.flusher.Run(auxCtx) })
	}
	if addr := a.cfg.Server.ListenAddr; addr != "" {
		aux.Go(func() error { return a.serve(auxCtx, addr) })
	}

	g, gctx := errgroup.WithContext(drainCtx)
	inputCtx, stopInput := context.WithCancel(ctx)
	defer stopInput()
	context.AfterFunc(gctx, stopInput)

	g.Go(func() error {
		defer a.relay.Close()
		if err := a.source.Stream(inputCtx, a.relay); err != nil && !errors.Is(err, audio.ErrRelayClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		defer a.orch.Close()
		defer a.relay.Close()
		return a.transcribe(gctx)
	})
	g.Go(func() error {
		return a.orch.Run(gctx)
	})

	slog.Info("session running", "session_id", a.session.ID(), "input", a.source.Format())
	err := g.Wait()
	if ctx.Err() != nil && drainCtx.Err() != nil {
		slog.Warn("shutdown deadline exceeded, queued utterances dropped", "pending", a.orch.Pending())
		err = nil
	}

	stopAux()
	if auxErr := aux.Wait(); auxErr != nil && err == nil {
		err = auxErr
	}

	a.finalFlush()
	st := a.orch.Stats()
	slog.Info("session finished",
		"session_id", a.session.ID(),
		"utterances", a.session.Len(),
		"spoken", st.Processed,
		"translate_failed", st.TranslateFailed,
		"synthesize_failed", st.SynthesizeFailed,
	)
	return err
}

// enforceDrainDeadline cancels the drain context once ctx has been done for
// longer than the shutdown timeout.
func (a *App) enforceDrainDeadline(ctx, drainCtx context.Context, cancel context.CancelFunc) {
	select {
	case <-ctx.Done():
	case <-drainCtx.Done():
		return
	}
	slog.Info("stopping, draining queued utterances", "pending", a.orch.Pending(), "timeout", a.cfg.Server.ShutdownTimeout)
	timer := time.NewTimer(a.cfg.Server.ShutdownTimeout)
	defer timer.Stop()
	select {
	case <-timer.C:
		cancel()
	case <-drainCtx.Done():
	}
}

func (a *App) transcribe(ctx context.Context) error {
	f := a.source.Format()
	cfg := stt.StreamConfig{
		SampleRate: f.SampleRate,
		Channels:   f.Channels,
		Encoding:   f.Encoding,
		Language:   a.cfg.Languages.Source,
	}

	cb := a.session.Callbacks(a.handleFinal)
	started, stopped := cb.OnSessionStarted, cb.OnSessionStopped
	cb.OnSessionStarted = func(info stt.SessionInfo) {
		a.metrics.ActiveSessions.Add(ctx, 1)
		started(info)
	}
	cb.OnSessionStopped = func(info stt.SessionInfo) {
		a.metrics.ActiveSessions.Add(ctx, -1)
		stopped(info)
	}
	cb.OnPartial = func(t stt.Transcript) {
		slog.Debug("recognizing", "text", t.Text)
	}

	err := a.providers.STT.Provider.Transcribe(ctx, a.relay, cfg, cb)
	if err != nil {
		a.metrics.RecordProviderError(ctx, a.providers.STT.Name, "stt")
		return fmt.Errorf("app: transcribe: %w", err)
	}
	return nil
}

// handleFinal corrects a final transcript, logs it and queues it for
// translation. It runs on the STT provider's receive goroutine.
func (a *App) handleFinal(t stt.Transcript) {
	if strings.TrimSpace(t.Text) == "" {
		return
	}
	ctx := context.Background()
	a.metrics.RecordUtterance(ctx, a.providers.STT.Name)

	res := transcript.Result{Text: t.Text, Skipped: transcript.SkipDisabled}
	if a.correct.Load() {
		res = a.corrector.CorrectTranscript(t)
	}
	reason := ""
	switch {
	case res.Skipped != transcript.SkipNone:
		reason = res.Skipped.String()
	case res.Err != nil:
		reason = "partial"
	}
	a.metrics.RecordCorrection(ctx, res.Applied, reason)

	u := a.session.Record(t.Text, res.Text, res.Applied, time.Now())
	slog.Info("recognized", "id", u.ID, "text", t.Text, "corrected", res.Text, "deleted", res.Applied)

	if err := a.orch.Enqueue(pipeline.Utterance{ID: u.ID, Text: res.Text, Received: u.Received}); err != nil {
		slog.Warn("utterance not queued", "id", u.ID, "err", err)
	}
}

func (a *App) finalFlush() {
	if a.flusher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
	defer cancel()
	if n, err := a.flusher.FlushNow(ctx); err == nil {
		slog.Info("session log stored", "session_id", a.session.ID(), "utterances", n)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown releases devices and connections in order. It respects the
// context deadline: closers not reached before ctx expires are skipped.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		for i, closer := range a.closers {
			if ctx.Err() != nil {
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				err = ctx.Err()
				return
			}
			if cerr := closer(); cerr != nil {
				slog.Warn("closer error", "index", i, "err", cerr)
			}
		}
		slog.Info("shutdown complete")
	})
	return err
}

// cleanup releases whatever New managed to open before failing.
func (a *App) cleanup() {
	_ = a.Shutdown(context.Background())
}
