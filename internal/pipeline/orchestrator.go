// Package pipeline runs corrected transcripts through translation and speech
// synthesis, one utterance at a time and in arrival order.
//
// The transcription callbacks hand utterances to [Orchestrator.Enqueue], which
// never blocks. A single consumer goroutine in [Orchestrator.Run] takes them
// off the queue, translates, then speaks the result before moving on, so the
// listener hears translations in the order the speaker said them even when a
// later translation would have finished first.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/voxrelay/internal/observe"
	"github.com/MrWong99/voxrelay/pkg/provider/translate"
)

// Speaker turns text into audible speech. Speak returns once playback of text
// has completed.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// Utterance is one corrected final transcript waiting for translation.
type Utterance struct {
	// ID identifies the utterance in the session log.
	ID string

	// Text is the corrected transcript.
	Text string

	// Received is when the final transcript arrived.
	Received time.Time
}

// Stats summarises what Run has done so far.
type Stats struct {
	Processed        int64 `json:"processed"`
	TranslateFailed  int64 `json:"translate_failed"`
	SynthesizeFailed int64 `json:"synthesize_failed"`
	Skipped          int64 `json:"skipped"`
}

// Option is a functional option for [New].
type Option func(*Orchestrator)

// WithLanguages sets the source and target language codes passed to the
// translator.
func WithLanguages(source, target string) Option {
	return func(o *Orchestrator) {
		o.source = source
		o.target = target
	}
}

// WithMetrics records stage latencies and failures on m. Default:
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithOnTranslated registers fn to run after each successful translation and
// before it is spoken. fn runs on the consumer goroutine.
func WithOnTranslated(fn func(u Utterance, translated string)) Option {
	return func(o *Orchestrator) {
		o.onTranslated = fn
	}
}

// WithProviderNames sets the provider attribute used on error metrics.
func WithProviderNames(translator, speaker string) Option {
	return func(o *Orchestrator) {
		o.translatorName = translator
		o.speakerName = speaker
	}
}

// Orchestrator is the single consumer of the utterance queue.
type Orchestrator struct {
	translator translate.Provider
	speaker    Speaker
	queue      *Queue[Utterance]

	source, target              string
	translatorName, speakerName string
	metrics                     *observe.Metrics
	onTranslated                func(Utterance, string)

	running          atomic.Bool
	processed        atomic.Int64
	translateFailed  atomic.Int64
	synthesizeFailed atomic.Int64
	skipped          atomic.Int64
}

// New returns an Orchestrator that translates with tr and speaks with sp.
func New(tr translate.Provider, sp Speaker, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		translator:     tr,
		speaker:        sp,
		queue:          NewQueue[Utterance](),
		translatorName: "translate",
		speakerName:    "tts",
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o
}

// Enqueue adds u to the back of the queue. It never blocks and returns
// [ErrQueueClosed] after [Orchestrator.Close].
func (o *Orchestrator) Enqueue(u Utterance) error {
	if u.Received.IsZero() {
		u.Received = time.Now()
	}
	if err := o.queue.Push(u); err != nil {
		return fmt.Errorf("pipeline: enqueue %s: %w", u.ID, err)
	}
	o.metrics.QueueDepth.Add(context.Background(), 1)
	return nil
}

// Close stops accepting utterances. Run drains what is already queued and
// then returns nil.
func (o *Orchestrator) Close() {
	o.queue.Close()
}

// Pending reports the number of utterances not yet picked up by Run.
func (o *Orchestrator) Pending() int {
	return o.queue.Len()
}

// Stats returns a snapshot of the processing counters.
func (o *Orchestrator) Stats() Stats {
	return Stats{
		Processed:        o.processed.Load(),
		TranslateFailed:  o.translateFailed.Load(),
		SynthesizeFailed: o.synthesizeFailed.Load(),
		Skipped:          o.skipped.Load(),
	}
}

// Run consumes the queue until it is closed and drained, or ctx is done.
// Each utterance is translated and then spoken before the next one is taken.
// Provider failures are logged and counted; they never stop the loop.
//
// Run returns nil after a drain and ctx.Err() on cancellation. Only one Run
// may be active at a time.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.running.CompareAndSwap(false, true) {
		return errors.New("pipeline: run: already running")
	}
	defer o.running.Store(false)

	for {
		u, err := o.queue.Pop(ctx)
		if errors.Is(err, ErrQueueClosed) {
			return nil
		}
		if err != nil {
			return err
		}
		o.metrics.QueueDepth.Add(ctx, -1)
		o.process(ctx, u)
	}
}

func (o *Orchestrator) process(ctx context.Context, u Utterance) {
	if strings.TrimSpace(u.Text) == "" {
		o.skipped.Add(1)
		observe.Logger(ctx).Debug("pipeline: skipping empty utterance", "id", u.ID)
		return
	}

	ctx, span := observe.StartSpan(ctx, "pipeline.utterance",
		trace.WithAttributes(
			attribute.String("utterance.id", u.ID),
			attribute.String("language.source", o.source),
			attribute.String("language.target", o.target),
		),
	)
	var spanErr error
	defer func() { observe.EndSpan(span, spanErr) }()
	log := observe.Logger(ctx)

	start := time.Now()
	translated, err := o.translator.Translate(ctx, u.Text, o.source, o.target)
	o.metrics.TranslateDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		spanErr = err
		o.translateFailed.Add(1)
		o.metrics.RecordProviderRequest(ctx, o.translatorName, "translate", "error")
		o.metrics.RecordProviderError(ctx, o.translatorName, "translate")
		log.Warn("pipeline: translation failed, dropping utterance", "id", u.ID, "err", err)
		return
	}
	o.metrics.RecordProviderRequest(ctx, o.translatorName, "translate", "ok")
	log.Info("translated", "id", u.ID, "text", translated)

	if o.onTranslated != nil {
		o.onTranslated(u, translated)
	}

	start = time.Now()
	err = o.speaker.Speak(ctx, translated)
	o.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		spanErr = err
		o.synthesizeFailed.Add(1)
		o.metrics.RecordProviderRequest(ctx, o.speakerName, "tts", "error")
		o.metrics.RecordProviderError(ctx, o.speakerName, "tts")
		log.Warn("pipeline: synthesis failed", "id", u.ID, "err", err)
		return
	}
	o.metrics.RecordProviderRequest(ctx, o.speakerName, "tts", "ok")
	o.metrics.UtteranceDuration.Record(ctx, time.Since(u.Received).Seconds())
	o.processed.Add(1)
}
