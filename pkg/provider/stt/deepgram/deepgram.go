// Package deepgram provides a Deepgram-backed STT provider using the Deepgram
// streaming WebSocket API. It implements the stt.Provider interface.
//
// Deepgram expects linear16 audio, so float32 streams are converted on the fly.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxrelay/pkg/audio"
	"github.com/MrWong99/voxrelay/pkg/provider/stt"
)

const (
	deepgramEndpoint  = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en"
	defaultSampleRate = 16000
	providerName      = "deepgram"
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithSampleRate sets the audio sample rate in Hz for the provider-level default.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// WithEndpoint overrides the streaming endpoint URL (used by tests).
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey     string
	endpoint   string
	model      string
	language   string
	sampleRate int
}

var _ stt.Provider = (*Provider)(nil)

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		endpoint:   deepgramEndpoint,
		model:      defaultModel,
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe streams r to Deepgram and dispatches results to cb until the
// service closes the stream after CloseStream.
func (p *Provider) Transcribe(ctx context.Context, r io.Reader, cfg stt.StreamConfig, cb stt.Callbacks) error {
	convert, width, err := converterFor(cfg.Encoding)
	if err != nil {
		return err
	}

	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()

	info := stt.SessionInfo{Provider: providerName}
	if resp != nil {
		info.ID = resp.Header.Get("dg-request-id")
	}
	cb.Started(info)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return writeLoop(gctx, conn, r, width, convert)
	})
	g.Go(func() error {
		return readLoop(gctx, conn, cb)
	})

	err = g.Wait()
	if err != nil {
		cb.Canceled(info, err)
	}
	cb.Stopped(info)
	return err
}

// buildURL constructs the Deepgram streaming endpoint URL for the given config.
func (p *Provider) buildURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr == 0 {
		sr = p.sampleRate
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sr))
	if cfg.Channels > 0 {
		q.Set("channels", strconv.Itoa(cfg.Channels))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// converterFor returns the per-chunk conversion to linear16 for enc and the
// input sample width in bytes.
func converterFor(enc audio.Encoding) (func([]byte) []byte, int, error) {
	switch enc {
	case audio.EncodingS16LE:
		return func(b []byte) []byte { return b }, 2, nil
	case audio.EncodingF32LE, "":
		return audio.F32ToS16, 4, nil
	default:
		return nil, 0, fmt.Errorf("deepgram: %w: %s", stt.ErrUnsupportedEncoding, enc)
	}
}

// ---- session ----

// deepgramResponse is the JSON structure returned by Deepgram for a Results event.
type deepgramResponse struct {
	Type     string  `json:"type"`
	IsFinal  bool    `json:"is_final"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	Channel  struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word           string  `json:"word"`
				PunctuatedWord string  `json:"punctuated_word"`
				Start          float64 `json:"start"`
				End            float64 `json:"end"`
				Confidence     float64 `json:"confidence"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// writeLoop sends converted audio as binary messages, then CloseStream so
// Deepgram flushes its final results. A chunk that ends mid-sample carries the
// remainder into the next chunk.
func writeLoop(ctx context.Context, conn *websocket.Conn, r io.Reader, width int, convert func([]byte) []byte) error {
	var carry []byte
	_, err := stt.SendChunks(ctx, r, stt.DefaultChunkBytes, func(b []byte) error {
		buf := append(carry, b...)
		whole := len(buf) - len(buf)%width
		carry = append(carry[:0:0], buf[whole:]...)
		if whole == 0 {
			return nil
		}
		return conn.Write(ctx, websocket.MessageBinary, convert(buf[:whole]))
	})
	if err != nil {
		return fmt.Errorf("deepgram: send audio: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return fmt.Errorf("deepgram: close stream: %w", err)
	}
	return nil
}

// readLoop receives JSON messages from Deepgram and dispatches them to cb.
// A normal close from the server ends the session cleanly.
func readLoop(ctx context.Context, conn *websocket.Conn, cb stt.Callbacks) error {
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return fmt.Errorf("deepgram: read: %w", err)
		}

		t, ok := parseDeepgramResponse(msg)
		if !ok {
			continue
		}
		if t.IsFinal {
			cb.Final(t)
		} else {
			cb.Partial(t)
		}
	}
}

// parseDeepgramResponse parses a raw Deepgram WebSocket message into a Transcript.
// Returns (Transcript, true) on success, or (zero, false) if the message should be ignored.
//
// Word content is taken from punctuated_word with trailing punctuation removed,
// so it matches the casing used in the transcript text.
func parseDeepgramResponse(data []byte) (stt.Transcript, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return stt.Transcript{}, false
	}
	if resp.Type != "Results" {
		return stt.Transcript{}, false
	}
	if len(resp.Channel.Alternatives) == 0 {
		return stt.Transcript{}, false
	}

	alt := resp.Channel.Alternatives[0]
	words := make([]stt.Word, 0, len(alt.Words))
	for _, w := range alt.Words {
		content := w.Word
		if w.PunctuatedWord != "" {
			content = strings.TrimRight(w.PunctuatedWord, ".,?!")
		}
		words = append(words, stt.Word{
			Content:    content,
			Confidence: w.Confidence,
			Kind:       stt.KindWord,
			Start:      seconds(w.Start),
			End:        seconds(w.End),
		})
	}

	return stt.Transcript{
		Text:       alt.Transcript,
		IsFinal:    resp.IsFinal,
		Confidence: alt.Confidence,
		Words:      words,
		Start:      seconds(resp.Start),
		End:        seconds(resp.Start + resp.Duration),
	}, true
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
