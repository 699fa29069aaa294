package speechmatics

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxrelay/pkg/audio"
	"github.com/MrWong99/voxrelay/pkg/provider/stt"
)

// ---- helpers ----

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func startServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("send: %v", err)
	}
}

func assertEqual(t *testing.T, label, want, got string) {
	t.Helper()
	if want != got {
		t.Errorf("%s: want %q, got %q", label, want, got)
	}
}

const finalJSON = `{
	"message": "AddTranscript",
	"metadata": {"transcript": "hello world.", "start_time": 0.5, "end_time": 1.5},
	"results": [
		{"type": "word", "start_time": 0.5, "end_time": 0.9, "alternatives": [{"content": "hello", "confidence": 0.95}]},
		{"type": "word", "start_time": 1.0, "end_time": 1.4, "alternatives": [{"content": "world", "confidence": 0.15}]},
		{"type": "punctuation", "start_time": 1.4, "end_time": 1.4, "alternatives": [{"content": ".", "confidence": 1}]}
	]
}`

// ---- constructor ----

func TestNew_EmptyAPIKey(t *testing.T) {
	t.Parallel()
	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	assertEqual(t, "endpoint", defaultEndpoint, p.endpoint)
	assertEqual(t, "operating point", defaultOperatingPoint, p.operatingPoint)
	assertEqual(t, "language", defaultLanguage, p.language)
}

// ---- StartRecognition ----

func TestStartMessage(t *testing.T) {
	t.Parallel()
	p, _ := New("key", WithLanguage("de"), WithOperatingPoint("standard"))

	tests := []struct {
		name     string
		cfg      stt.StreamConfig
		wantEnc  string
		wantLang string
		wantErr  bool
	}{
		{"float32 default", stt.StreamConfig{SampleRate: 48000, Channels: 1, Encoding: audio.EncodingF32LE, Language: "en-US"}, "pcm_f32le", "en", false},
		{"int16", stt.StreamConfig{SampleRate: 16000, Channels: 1, Encoding: audio.EncodingS16LE}, "pcm_s16le", "de", false},
		{"empty encoding is float32", stt.StreamConfig{SampleRate: 16000}, "pcm_f32le", "de", false},
		{"stereo rejected", stt.StreamConfig{SampleRate: 16000, Channels: 2}, "", "", true},
		{"unknown encoding", stt.StreamConfig{SampleRate: 16000, Encoding: "mulaw"}, "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m, err := p.startMessage(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("startMessage: %v", err)
			}
			assertEqual(t, "message", "StartRecognition", m.Message)
			assertEqual(t, "type", "raw", m.AudioFormat.Type)
			assertEqual(t, "encoding", tt.wantEnc, m.AudioFormat.Encoding)
			assertEqual(t, "language", tt.wantLang, m.TranscriptionConfig.Language)
			assertEqual(t, "operating point", "standard", m.TranscriptionConfig.OperatingPoint)
			if m.AudioFormat.SampleRate != tt.cfg.SampleRate {
				t.Errorf("sample rate: got %d, want %d", m.AudioFormat.SampleRate, tt.cfg.SampleRate)
			}
			if !m.TranscriptionConfig.EnablePartials {
				t.Error("expected partials enabled")
			}
		})
	}
}

func TestStartMessage_UnsupportedEncodingIsSentinel(t *testing.T) {
	t.Parallel()
	p, _ := New("key")
	_, err := p.startMessage(stt.StreamConfig{Encoding: "opus"})
	if !errors.Is(err, stt.ErrUnsupportedEncoding) {
		t.Errorf("got %v, want ErrUnsupportedEncoding", err)
	}
}

// ---- parsing ----

func TestToTranscript(t *testing.T) {
	t.Parallel()
	var m serverMessage
	if err := json.Unmarshal([]byte(finalJSON), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	tr := toTranscript(m, true)

	assertEqual(t, "text", "hello world.", tr.Text)
	if !tr.IsFinal {
		t.Error("expected IsFinal")
	}
	if len(tr.Words) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(tr.Words))
	}
	if tr.Words[2].Kind != stt.KindPunctuation {
		t.Errorf("entry 2 kind: got %q, want punctuation", tr.Words[2].Kind)
	}
	spoken := tr.SpokenWords()
	if len(spoken) != 2 {
		t.Fatalf("expected 2 spoken words, got %d", len(spoken))
	}
	assertEqual(t, "word[1]", "world", spoken[1].Content)
	if math.Abs(spoken[1].Confidence-0.15) > 1e-9 {
		t.Errorf("word[1] confidence: got %v", spoken[1].Confidence)
	}
	if tr.Start != 500*time.Millisecond || tr.End != 1500*time.Millisecond {
		t.Errorf("unexpected span %v-%v", tr.Start, tr.End)
	}
	if got, want := tr.Confidence, (0.95+0.15)/2; math.Abs(got-want) > 1e-9 {
		t.Errorf("confidence: got %v, want %v", got, want)
	}
}

func TestBaseLanguage(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]string{"en-US": "en", "de_DE": "de", "FR": "fr", "": ""} {
		assertEqual(t, in, want, baseLanguage(in))
	}
}

// ---- end to end ----

func TestTranscribe_FullSession(t *testing.T) {
	t.Parallel()

	var (
		mu        sync.Mutex
		gotAuth   string
		gotStart  startRecognition
		gotAudio  bytes.Buffer
		gotLastSq int
	)

	srv := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		mu.Lock()
		gotAuth = r.Header.Get("Authorization")
		mu.Unlock()

		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		mu.Lock()
		_ = json.Unmarshal(data, &gotStart)
		mu.Unlock()
		send(t, conn, map[string]any{"message": "RecognitionStarted", "id": "sess-42"})

		for {
			typ, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			if typ == websocket.MessageBinary {
				mu.Lock()
				gotAudio.Write(data)
				mu.Unlock()
				continue
			}
			var eos endOfStream
			_ = json.Unmarshal(data, &eos)
			if eos.Message == "EndOfStream" {
				mu.Lock()
				gotLastSq = eos.LastSeqNo
				mu.Unlock()
				break
			}
		}

		send(t, conn, map[string]any{
			"message":  "AddPartialTranscript",
			"metadata": map[string]any{"transcript": "hello"},
			"results":  []any{},
		})
		_ = conn.Write(ctx, websocket.MessageText, []byte(finalJSON))
		send(t, conn, map[string]any{"message": "EndOfTranscript"})
	})

	p, err := New("secret", WithEndpoint(wsURL(srv)), WithChunkBytes(4))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var (
		events   []string
		finals   []stt.Transcript
		partials []stt.Transcript
		started  stt.SessionInfo
	)
	cb := stt.Callbacks{
		OnSessionStarted: func(info stt.SessionInfo) { started = info; events = append(events, "started") },
		OnSessionStopped: func(stt.SessionInfo) { events = append(events, "stopped") },
		OnCanceled:       func(_ stt.SessionInfo, err error) { events = append(events, "canceled: "+err.Error()) },
		OnPartial:        func(tr stt.Transcript) { partials = append(partials, tr) },
		OnFinal:          func(tr stt.Transcript) { finals = append(finals, tr) },
	}

	pcm := []byte("0123456789")
	cfg := stt.StreamConfig{SampleRate: 16000, Channels: 1, Encoding: audio.EncodingF32LE, Language: "en"}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Transcribe(ctx, bytes.NewReader(pcm), cfg, cb); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	assertEqual(t, "auth header", "Bearer secret", gotAuth)
	assertEqual(t, "encoding", "pcm_f32le", gotStart.AudioFormat.Encoding)
	if !bytes.Equal(gotAudio.Bytes(), pcm) {
		t.Errorf("server received %q, want %q", gotAudio.Bytes(), pcm)
	}
	// 10 bytes in 4-byte chunks: 4 + 4 + 2.
	if gotLastSq != 3 {
		t.Errorf("last_seq_no: got %d, want 3", gotLastSq)
	}

	assertEqual(t, "session id", "sess-42", started.ID)
	if len(events) != 2 || events[0] != "started" || events[1] != "stopped" {
		t.Errorf("events: %v", events)
	}
	if len(partials) != 1 || partials[0].IsFinal {
		t.Errorf("partials: %+v", partials)
	}
	if len(finals) != 1 {
		t.Fatalf("expected 1 final, got %d", len(finals))
	}
	assertEqual(t, "final text", "hello world.", finals[0].Text)
}

func TestTranscribe_ServerErrorCancelsSession(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
		send(t, conn, map[string]any{"message": "Error", "type": "not_authorised", "reason": "bad key"})
	})

	p, _ := New("bad", WithEndpoint(wsURL(srv)))

	var canceled error
	stopped := false
	cb := stt.Callbacks{
		OnCanceled:       func(_ stt.SessionInfo, err error) { canceled = err },
		OnSessionStopped: func(stt.SessionInfo) { stopped = true },
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := p.Transcribe(ctx, bytes.NewReader(nil), stt.StreamConfig{SampleRate: 16000}, cb)
	if err == nil || !strings.Contains(err.Error(), "not_authorised") {
		t.Fatalf("expected server error, got %v", err)
	}
	if canceled == nil {
		t.Error("expected OnCanceled to fire")
	}
	if stopped {
		t.Error("OnSessionStopped must not fire for a session that never started")
	}
}
