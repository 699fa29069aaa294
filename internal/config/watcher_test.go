package config_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxrelay/internal/config"
)

const watcherUpdatedYAML = `
server:
  log_level: debug
providers:
  stt:
    name: speechmatics
  translate:
    name: deepl
  tts:
    name: elevenlabs
languages:
  source: de-DE
  target: en-US
  voice: Adam
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
}

// startWatcher writes content to a temp file and runs a fast-polling watcher
// on it until the test ends.
func startWatcher(t *testing.T, content string, onChange config.ChangeFunc) (*config.Watcher, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "voxrelay.yaml")
	writeFile(t, path, content)

	w, err := config.NewWatcher(path, onChange, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return w, path
}

// bumpMtime moves the file's mtime forward so the next poll sees a change
// even on filesystems with coarse timestamps.
func bumpMtime(t *testing.T, path string, by time.Duration) {
	t.Helper()
	ts := time.Now().Add(by)
	if err := os.Chtimes(path, ts, ts); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	w, _ := startWatcher(t, minimalYAML, nil)

	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() returned nil after initial load")
	}
	if cfg.Server.LogLevel != config.LogInfo || cfg.Languages.Voice != "Rachel" {
		t.Errorf("initial config = %+v", cfg)
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()

	type change struct{ old, new *config.Config }
	changes := make(chan change, 1)
	w, path := startWatcher(t, minimalYAML, func(old, new *config.Config) {
		select {
		case changes <- change{old, new}:
		default:
		}
	})

	writeFile(t, path, watcherUpdatedYAML)
	bumpMtime(t, path, time.Second)

	var got change
	select {
	case got = <-changes:
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not invoked")
	}

	d := config.Diff(got.old, got.new, 0.3)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level diff = %+v", d)
	}
	if !d.VoiceChanged || d.NewVoice != "Adam" {
		t.Errorf("voice diff = %+v", d)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("RestartRequired = %v", d.RestartRequired)
	}
	if w.Current().Languages.Voice != "Adam" {
		t.Errorf("Current() voice = %q", w.Current().Languages.Voice)
	}
}

func TestWatcher_InvalidFileKeepsOldConfig(t *testing.T) {
	t.Parallel()
	var (
		mu    sync.Mutex
		calls int
	)
	w, path := startWatcher(t, minimalYAML, func(_, _ *config.Config) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	writeFile(t, path, watcherInvalidYAML)
	bumpMtime(t, path, time.Second)
	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Errorf("callback fired %d times for an invalid file", calls)
	}
	if w.Current().Server.LogLevel != config.LogInfo {
		t.Errorf("Current() log_level = %q, want previous config", w.Current().Server.LogLevel)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher("/nonexistent/voxrelay.yaml", nil); err == nil {
		t.Fatal("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	writeFile(t, path, watcherInvalidYAML)
	_, err := config.NewWatcher(path, nil)
	if err == nil || !strings.Contains(err.Error(), "server.log_level") {
		t.Errorf("err = %v, want validation error", err)
	}
}

func TestWatcher_RunStopsOnCancel(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "voxrelay.yaml")
	writeFile(t, path, minimalYAML)
	w, err := config.NewWatcher(path, nil, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()
	var (
		mu    sync.Mutex
		calls int
	)
	_, path := startWatcher(t, minimalYAML, func(_, _ *config.Config) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	bumpMtime(t, path, time.Second)
	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Errorf("callback fired %d times for a touch-only change", calls)
	}
}
