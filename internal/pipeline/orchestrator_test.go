package pipeline_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/voxrelay/internal/observe"
	"github.com/MrWong99/voxrelay/internal/pipeline"
	translatemock "github.com/MrWong99/voxrelay/pkg/provider/translate/mock"
)

// ─── helpers ─────────────────────────────────────────────────────────────────

// fakeSpeaker records every spoken text and fails those listed in errs.
type fakeSpeaker struct {
	mu     sync.Mutex
	spoken []string
	errs   map[string]error
}

func (s *fakeSpeaker) Speak(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errs[text]; err != nil {
		return err
	}
	s.spoken = append(s.spoken, text)
	return nil
}

func (s *fakeSpeaker) Spoken() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.spoken)
}

func newMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// runUntilDrained enqueues texts, closes the orchestrator and waits for Run.
func runUntilDrained(t *testing.T, o *pipeline.Orchestrator, texts ...string) {
	t.Helper()
	for i, text := range texts {
		if err := o.Enqueue(pipeline.Utterance{ID: string(rune('a' + i)), Text: text}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	o.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

// ─── ordering ────────────────────────────────────────────────────────────────

func TestRun_PreservesOrderWithSlowTranslation(t *testing.T) {
	t.Parallel()

	tr := &translatemock.Provider{
		Delays: map[string]time.Duration{"eins": 50 * time.Millisecond},
	}
	sp := &fakeSpeaker{}
	m, _ := newMetrics(t)
	o := pipeline.New(tr, sp, pipeline.WithLanguages("de", "en"), pipeline.WithMetrics(m))

	runUntilDrained(t, o, "eins", "zwei", "drei")

	want := []string{"en:eins", "en:zwei", "en:drei"}
	if got := sp.Spoken(); !slices.Equal(got, want) {
		t.Errorf("spoken = %v, want %v", got, want)
	}
	calls := tr.Calls()
	if len(calls) != 3 || calls[0].SourceLang != "de" || calls[0].TargetLang != "en" {
		t.Errorf("translate calls = %+v", calls)
	}
	if st := o.Stats(); st.Processed != 3 {
		t.Errorf("Processed = %d, want 3", st.Processed)
	}
}

func TestRun_TranslateStartsOnlyAfterPreviousSpeak(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		events []string
	)
	record := func(e string) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}

	tr := &orderedTranslator{record: record}
	sp := speakerFunc(func(_ context.Context, text string) error {
		record("speak:" + text)
		return nil
	})
	m, _ := newMetrics(t)
	o := pipeline.New(tr, sp, pipeline.WithMetrics(m))

	runUntilDrained(t, o, "a", "b")

	want := []string{"translate:a", "speak:A", "translate:b", "speak:B"}
	mu.Lock()
	defer mu.Unlock()
	if !slices.Equal(events, want) {
		t.Errorf("events = %v, want %v", events, want)
	}
}

type orderedTranslator struct {
	record func(string)
}

func (o *orderedTranslator) Translate(_ context.Context, text, _, _ string) (string, error) {
	o.record("translate:" + text)
	return string(rune(text[0] - 'a' + 'A')), nil
}

type speakerFunc func(ctx context.Context, text string) error

func (f speakerFunc) Speak(ctx context.Context, text string) error { return f(ctx, text) }

// ─── failures ────────────────────────────────────────────────────────────────

func TestRun_TranslateErrorDropsOnlyThatUtterance(t *testing.T) {
	t.Parallel()

	tr := &translatemock.Provider{
		Errors: map[string]error{"zwei": errors.New("quota exceeded")},
	}
	sp := &fakeSpeaker{}
	m, reader := newMetrics(t)
	o := pipeline.New(tr, sp, pipeline.WithLanguages("de", "en"), pipeline.WithMetrics(m),
		pipeline.WithProviderNames("deepl", "elevenlabs"))

	runUntilDrained(t, o, "eins", "zwei", "drei")

	want := []string{"en:eins", "en:drei"}
	if got := sp.Spoken(); !slices.Equal(got, want) {
		t.Errorf("spoken = %v, want %v", got, want)
	}
	st := o.Stats()
	if st.Processed != 2 || st.TranslateFailed != 1 || st.SynthesizeFailed != 0 {
		t.Errorf("stats = %+v", st)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if got := counterValue(rm, "voxrelay.provider.errors", "provider", "deepl"); got != 1 {
		t.Errorf("deepl provider errors = %d, want 1", got)
	}
}

func TestRun_SpeakErrorIsNotFatal(t *testing.T) {
	t.Parallel()

	tr := &translatemock.Provider{}
	sp := &fakeSpeaker{errs: map[string]error{"en:eins": errors.New("socket closed")}}
	m, _ := newMetrics(t)
	o := pipeline.New(tr, sp, pipeline.WithLanguages("de", "en"), pipeline.WithMetrics(m))

	runUntilDrained(t, o, "eins", "zwei")

	if got := sp.Spoken(); !slices.Equal(got, []string{"en:zwei"}) {
		t.Errorf("spoken = %v", got)
	}
	st := o.Stats()
	if st.Processed != 1 || st.SynthesizeFailed != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestRun_SkipsBlankUtterances(t *testing.T) {
	t.Parallel()

	tr := &translatemock.Provider{}
	sp := &fakeSpeaker{}
	m, _ := newMetrics(t)
	o := pipeline.New(tr, sp, pipeline.WithMetrics(m))

	runUntilDrained(t, o, "  ", "", "hallo")

	if n := len(tr.Calls()); n != 1 {
		t.Errorf("translate called %d times, want 1", n)
	}
	if st := o.Stats(); st.Skipped != 2 || st.Processed != 1 {
		t.Errorf("stats = %+v", st)
	}
}

// ─── hooks and lifecycle ─────────────────────────────────────────────────────

func TestRun_OnTranslatedSeesEveryTranslation(t *testing.T) {
	t.Parallel()

	type pair struct{ id, text string }
	var got []pair
	tr := &translatemock.Provider{Responses: map[string]string{"hallo": "hello"}}
	m, _ := newMetrics(t)
	o := pipeline.New(tr, &fakeSpeaker{}, pipeline.WithMetrics(m),
		pipeline.WithOnTranslated(func(u pipeline.Utterance, translated string) {
			got = append(got, pair{u.ID, translated})
		}))

	runUntilDrained(t, o, "hallo")

	if len(got) != 1 || got[0] != (pair{"a", "hello"}) {
		t.Errorf("onTranslated calls = %+v", got)
	}
}

func TestEnqueue_AfterClose(t *testing.T) {
	t.Parallel()

	m, _ := newMetrics(t)
	o := pipeline.New(&translatemock.Provider{}, &fakeSpeaker{}, pipeline.WithMetrics(m))
	o.Close()
	if err := o.Enqueue(pipeline.Utterance{ID: "late", Text: "x"}); !errors.Is(err, pipeline.ErrQueueClosed) {
		t.Errorf("err = %v, want ErrQueueClosed", err)
	}
}

func TestEnqueue_NeverBlocks(t *testing.T) {
	t.Parallel()

	m, _ := newMetrics(t)
	o := pipeline.New(&translatemock.Provider{}, &fakeSpeaker{}, pipeline.WithMetrics(m))
	for i := range 1000 {
		if err := o.Enqueue(pipeline.Utterance{Text: "x"}); err != nil {
			t.Fatalf("Enqueue %d: %v", i, err)
		}
	}
	if o.Pending() != 1000 {
		t.Errorf("Pending = %d, want 1000", o.Pending())
	}
}

func TestRun_CancelledContext(t *testing.T) {
	t.Parallel()

	m, _ := newMetrics(t)
	o := pipeline.New(&translatemock.Provider{}, &fakeSpeaker{}, pipeline.WithMetrics(m))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- o.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_RejectsSecondConsumer(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	sp := speakerFunc(func(context.Context, string) error {
		close(started)
		<-release
		return nil
	})
	m, _ := newMetrics(t)
	o := pipeline.New(&translatemock.Provider{}, sp, pipeline.WithMetrics(m))
	_ = o.Enqueue(pipeline.Utterance{Text: "x"})
	o.Close()

	done := make(chan error, 1)
	go func() { done <- o.Run(context.Background()) }()
	<-started

	if err := o.Run(context.Background()); err == nil {
		t.Error("second Run should fail while the first is active")
	}
	close(release)
	if err := <-done; err != nil {
		t.Errorf("first Run = %v, want nil", err)
	}
}

func TestRun_QueueDepthReturnsToZero(t *testing.T) {
	t.Parallel()

	m, reader := newMetrics(t)
	o := pipeline.New(&translatemock.Provider{}, &fakeSpeaker{}, pipeline.WithMetrics(m))

	runUntilDrained(t, o, "a", "b", "c")

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if got := counterValue(rm, "voxrelay.queue.depth", "", ""); got != 0 {
		t.Errorf("queue depth = %d, want 0", got)
	}
}

// counterValue sums int64 data points of the named metric, restricted to
// points carrying key=value when key is non-empty.
func counterValue(rm metricdata.ResourceMetrics, name, key, value string) int64 {
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != name {
				continue
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				if key != "" {
					v, ok := dp.Attributes.Value(attribute.Key(key))
					if !ok || v.AsString() != value {
						continue
					}
				}
				total += dp.Value
			}
		}
	}
	return total
}
