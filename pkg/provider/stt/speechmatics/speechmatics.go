// Package speechmatics provides a Speechmatics-backed STT provider using the
// real-time WebSocket API. It implements the stt.Provider interface.
//
// The real-time API accepts raw float32 or int16 PCM, so captured audio is
// streamed without conversion.
package speechmatics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxrelay/pkg/audio"
	"github.com/MrWong99/voxrelay/pkg/provider/stt"
)

const (
	defaultEndpoint       = "wss://eu2.rt.speechmatics.com/v2"
	defaultOperatingPoint = "enhanced"
	defaultLanguage       = "en"
	defaultMaxDelay       = 2.0
	providerName          = "speechmatics"
)

// Option is a functional option for configuring the Speechmatics Provider.
type Option func(*Provider)

// WithEndpoint overrides the real-time WebSocket URL (useful for regional
// endpoints and tests).
func WithEndpoint(url string) Option {
	return func(p *Provider) {
		p.endpoint = url
	}
}

// WithOperatingPoint selects the acoustic model ("standard" or "enhanced").
func WithOperatingPoint(op string) Option {
	return func(p *Provider) {
		p.operatingPoint = op
	}
}

// WithLanguage sets the default recognition language, used when the stream
// config carries none.
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithMaxDelay sets how many seconds the service may wait before finalising a
// transcript.
func WithMaxDelay(seconds float64) Option {
	return func(p *Provider) {
		p.maxDelay = seconds
	}
}

// WithChunkBytes sets the size of each binary audio message.
func WithChunkBytes(n int) Option {
	return func(p *Provider) {
		p.chunkBytes = n
	}
}

// Provider implements stt.Provider backed by the Speechmatics real-time API.
type Provider struct {
	apiKey         string
	endpoint       string
	operatingPoint string
	language       string
	maxDelay       float64
	chunkBytes     int
}

var _ stt.Provider = (*Provider)(nil)

// New creates a new Speechmatics Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("speechmatics: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:         apiKey,
		endpoint:       defaultEndpoint,
		operatingPoint: defaultOperatingPoint,
		language:       defaultLanguage,
		maxDelay:       defaultMaxDelay,
		chunkBytes:     stt.DefaultChunkBytes,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ---- wire messages ----

type audioFormat struct {
	Type       string `json:"type"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

type transcriptionConfig struct {
	Language       string  `json:"language"`
	OperatingPoint string  `json:"operating_point,omitempty"`
	EnablePartials bool    `json:"enable_partials"`
	MaxDelay       float64 `json:"max_delay,omitempty"`
}

type startRecognition struct {
	Message             string              `json:"message"`
	AudioFormat         audioFormat         `json:"audio_format"`
	TranscriptionConfig transcriptionConfig `json:"transcription_config"`
}

type endOfStream struct {
	Message   string `json:"message"`
	LastSeqNo int    `json:"last_seq_no"`
}

// serverMessage is the union of every server message the client handles.
type serverMessage struct {
	Message  string `json:"message"`
	ID       string `json:"id"`
	Type     string `json:"type"`
	Reason   string `json:"reason"`
	SeqNo    int    `json:"seq_no"`
	Metadata struct {
		Transcript string  `json:"transcript"`
		StartTime  float64 `json:"start_time"`
		EndTime    float64 `json:"end_time"`
	} `json:"metadata"`
	Results []struct {
		Type         string  `json:"type"`
		StartTime    float64 `json:"start_time"`
		EndTime      float64 `json:"end_time"`
		Alternatives []struct {
			Content    string  `json:"content"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"results"`
}

// ---- session ----

// Transcribe runs one real-time session: StartRecognition, binary audio until
// the reader is exhausted, EndOfStream, then results until EndOfTranscript.
func (p *Provider) Transcribe(ctx context.Context, r io.Reader, cfg stt.StreamConfig, cb stt.Callbacks) error {
	start, err := p.startMessage(cfg)
	if err != nil {
		return err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+p.apiKey)
	conn, _, err := websocket.Dial(ctx, p.endpoint, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return fmt.Errorf("speechmatics: dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(1 << 20)

	if err := writeJSON(ctx, conn, start); err != nil {
		return fmt.Errorf("speechmatics: start recognition: %w", err)
	}

	info := stt.SessionInfo{Provider: providerName}
	if info.ID, err = awaitStarted(ctx, conn); err != nil {
		cb.Canceled(info, err)
		return err
	}
	cb.Started(info)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		seq, err := stt.SendChunks(gctx, r, p.chunkBytes, func(b []byte) error {
			return conn.Write(gctx, websocket.MessageBinary, b)
		})
		if err != nil {
			return fmt.Errorf("speechmatics: send audio: %w", err)
		}
		if err := writeJSON(gctx, conn, endOfStream{Message: "EndOfStream", LastSeqNo: seq}); err != nil {
			return fmt.Errorf("speechmatics: end of stream: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return receive(gctx, conn, cb)
	})

	err = g.Wait()
	if err != nil {
		cb.Canceled(info, err)
	} else {
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}
	cb.Stopped(info)
	return err
}

// startMessage builds the StartRecognition message for cfg.
func (p *Provider) startMessage(cfg stt.StreamConfig) (startRecognition, error) {
	var enc string
	switch cfg.Encoding {
	case audio.EncodingF32LE, "":
		enc = "pcm_f32le"
	case audio.EncodingS16LE:
		enc = "pcm_s16le"
	default:
		return startRecognition{}, fmt.Errorf("speechmatics: %w: %s", stt.ErrUnsupportedEncoding, cfg.Encoding)
	}
	if cfg.Channels > 1 {
		return startRecognition{}, fmt.Errorf("speechmatics: expected mono audio, got %d channels", cfg.Channels)
	}
	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	return startRecognition{
		Message: "StartRecognition",
		AudioFormat: audioFormat{
			Type:       "raw",
			Encoding:   enc,
			SampleRate: cfg.SampleRate,
		},
		TranscriptionConfig: transcriptionConfig{
			Language:       baseLanguage(lang),
			OperatingPoint: p.operatingPoint,
			EnablePartials: true,
			MaxDelay:       p.maxDelay,
		},
	}, nil
}

// awaitStarted reads until RecognitionStarted and returns the session ID.
func awaitStarted(ctx context.Context, conn *websocket.Conn) (string, error) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return "", fmt.Errorf("speechmatics: await RecognitionStarted: %w", err)
		}
		var m serverMessage
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		switch m.Message {
		case "RecognitionStarted":
			return m.ID, nil
		case "Error":
			return "", serverError(m)
		}
	}
}

// receive dispatches server messages to cb until EndOfTranscript.
func receive(ctx context.Context, conn *websocket.Conn, cb stt.Callbacks) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("speechmatics: read: %w", err)
		}
		var m serverMessage
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		switch m.Message {
		case "AddTranscript":
			cb.Final(toTranscript(m, true))
		case "AddPartialTranscript":
			cb.Partial(toTranscript(m, false))
		case "EndOfTranscript":
			return nil
		case "Error":
			return serverError(m)
		case "Warning":
			slog.Warn("speechmatics: warning", "type", m.Type, "reason", m.Reason)
		}
	}
}

// toTranscript converts an AddTranscript or AddPartialTranscript message.
func toTranscript(m serverMessage, final bool) stt.Transcript {
	words := make([]stt.Word, 0, len(m.Results))
	var confSum float64
	var confN int
	for _, r := range m.Results {
		if len(r.Alternatives) == 0 {
			continue
		}
		alt := r.Alternatives[0]
		kind := stt.WordKind(r.Type)
		words = append(words, stt.Word{
			Content:    alt.Content,
			Confidence: alt.Confidence,
			Kind:       kind,
			Start:      seconds(r.StartTime),
			End:        seconds(r.EndTime),
		})
		if kind == stt.KindWord {
			confSum += alt.Confidence
			confN++
		}
	}
	t := stt.Transcript{
		Text:    m.Metadata.Transcript,
		IsFinal: final,
		Words:   words,
		Start:   seconds(m.Metadata.StartTime),
		End:     seconds(m.Metadata.EndTime),
	}
	if confN > 0 {
		t.Confidence = confSum / float64(confN)
	}
	return t
}

func serverError(m serverMessage) error {
	return fmt.Errorf("speechmatics: server error %s: %s", m.Type, m.Reason)
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// baseLanguage strips a region suffix: "en-US" → "en".
func baseLanguage(tag string) string {
	if i := strings.IndexAny(tag, "-_"); i > 0 {
		return strings.ToLower(tag[:i])
	}
	return strings.ToLower(tag)
}
