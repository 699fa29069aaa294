// Package deepl provides a translate.Provider backed by the DeepL REST API
// (POST /v2/translate).
//
// Keys ending in ":fx" belong to the free plan and are sent to
// api-free.deepl.com; all others go to api.deepl.com.
//
//	p, err := deepl.New(os.Getenv("DEEPL_AUTH_KEY"))
//	out, err := p.Translate(ctx, "Guten Morgen", "de", "en-GB")
package deepl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/voxrelay/pkg/provider/translate"
)

var _ translate.Provider = (*Provider)(nil)

const (
	proEndpoint     = "https://api.deepl.com"
	freeEndpoint    = "https://api-free.deepl.com"
	translatePath   = "/v2/translate"
	defaultTimeout  = 15 * time.Second
	maxErrorBodyLen = 512
)

// Formality values accepted by [WithFormality].
const (
	FormalityDefault    = "default"
	FormalityMore       = "more"
	FormalityLess       = "less"
	FormalityPreferMore = "prefer_more"
	FormalityPreferLess = "prefer_less"
)

// Option is a functional option for configuring a DeepL Provider.
type Option func(*Provider)

// WithBaseURL overrides the API host chosen from the key.
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(u, "/")
	}
}

// WithTimeout sets the per-request HTTP timeout. Default: 15 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithFormality sets the formality of the output for target languages that
// support it.
func WithFormality(f string) Option {
	return func(p *Provider) {
		p.formality = f
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements translate.Provider using DeepL.
type Provider struct {
	authKey    string
	baseURL    string
	formality  string
	httpClient *http.Client
}

// New constructs a DeepL provider.
func New(authKey string, opts ...Option) (*Provider, error) {
	if authKey == "" {
		return nil, errors.New("deepl: authKey must not be empty")
	}
	p := &Provider{
		authKey:    authKey,
		baseURL:    proEndpoint,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	if strings.HasSuffix(authKey, ":fx") {
		p.baseURL = freeEndpoint
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

type translateRequest struct {
	Text       []string `json:"text"`
	SourceLang string   `json:"source_lang,omitempty"`
	TargetLang string   `json:"target_lang"`
	Formality  string   `json:"formality,omitempty"`
}

type translateResponse struct {
	Translations []struct {
		DetectedSourceLanguage string `json:"detected_source_language"`
		Text                   string `json:"text"`
	} `json:"translations"`
}

type errorResponse struct {
	Message string `json:"message"`
}

// Translate implements translate.Provider.
func (p *Provider) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	if err := translate.CheckText(text); err != nil {
		return "", err
	}
	if targetLang == "" {
		return "", errors.New("deepl: target language must not be empty")
	}

	body, err := json.Marshal(translateRequest{
		Text:       []string{text},
		SourceLang: SourceCode(sourceLang),
		TargetLang: TargetCode(targetLang),
		Formality:  p.formality,
	})
	if err != nil {
		return "", fmt.Errorf("deepl: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+translatePath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("deepl: create request: %w", err)
	}
	req.Header.Set("Authorization", "DeepL-Auth-Key "+p.authKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("deepl: POST %s: %w", translatePath, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", statusError(resp)
	}

	var out translateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("deepl: decode response: %w", err)
	}
	if len(out.Translations) == 0 {
		return "", errors.New("deepl: empty translations in response")
	}
	return out.Translations[0].Text, nil
}

// statusError builds an error from a non-200 response, including DeepL's
// message when the body carries one.
func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))
	var e errorResponse
	if json.Unmarshal(raw, &e) == nil && e.Message != "" {
		return fmt.Errorf("deepl: POST %s returned status %d: %s", translatePath, resp.StatusCode, e.Message)
	}
	return fmt.Errorf("deepl: POST %s returned status %d", translatePath, resp.StatusCode)
}

// SourceCode converts a BCP-47 tag to a DeepL source language code. DeepL
// only accepts the base language for sources ("en-US" becomes "EN").
func SourceCode(lang string) string {
	if lang == "" {
		return ""
	}
	base, _, _ := strings.Cut(lang, "-")
	base, _, _ = strings.Cut(base, "_")
	return strings.ToUpper(base)
}

// TargetCode converts a BCP-47 tag to a DeepL target language code. Regional
// variants DeepL distinguishes are kept ("en-gb" becomes "EN-GB"); others are
// reduced to the base language.
func TargetCode(lang string) string {
	code := strings.ToUpper(strings.ReplaceAll(lang, "_", "-"))
	switch code {
	case "EN-GB", "EN-US", "PT-BR", "PT-PT", "ZH-HANS", "ZH-HANT", "ES-419":
		return code
	case "EN":
		// Bare "EN" is deprecated as a target.
		return "EN-US"
	case "PT":
		return "PT-PT"
	}
	base, _, _ := strings.Cut(code, "-")
	return base
}
