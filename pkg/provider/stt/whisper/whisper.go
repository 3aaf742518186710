// Package whisper provides an STT provider for OpenAI-compatible
// transcription servers such as speaches or faster-whisper-server.
//
// Each call to Transcribe uploads one complete recording to
// POST {baseURL}/v1/audio/transcriptions as multipart/form-data with the
// fields file, model, language and vad_filter. Server-side VAD is disabled
// because recordings are already segmented by the caller. Raw PCM16 must be
// wrapped with [audio.EncodeWAV] before it is handed in.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8000",
//	    whisper.WithLanguage("en"),
//	)
//	tr, err := p.Transcribe(ctx, stt.Request{Audio: webm, MimeType: "audio/webm"})
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/MrWong99/cafevox/pkg/audio"
	"github.com/MrWong99/cafevox/pkg/provider/stt"
)

const (
	// DefaultModel is a small English faster-whisper model.
	DefaultModel = "Systran/faster-distil-whisper-small.en"

	defaultLanguage = "en"
	defaultTimeout  = 60 * time.Second

	transcribePath = "/v1/audio/transcriptions"

	// maxErrorBody bounds how much of an error response is quoted in errors.
	maxErrorBody = 512
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier sent with each request. Defaults to
// [DefaultModel].
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the language hint sent with each request (e.g. "en",
// "de"). Defaults to "en". An empty string omits the field so the server
// auto-detects.
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithAPIKey sets a bearer token for servers that require one.
func WithAPIKey(key string) Option {
	return func(p *Provider) {
		p.apiKey = key
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// WithVADFilter enables the server's own voice activity filter. Off by
// default.
func WithVADFilter(enabled bool) Option {
	return func(p *Provider) {
		p.vadFilter = enabled
	}
}

// Provider implements stt.Provider against an OpenAI-compatible
// transcription endpoint. It is safe for concurrent use.
type Provider struct {
	baseURL    string
	apiKey     string
	model      string
	language   string
	vadFilter  bool
	httpClient *http.Client
}

// New creates a Provider for the server at baseURL (e.g.
// "http://localhost:8000"). baseURL must be non-empty; a trailing slash or
// "/v1" suffix is tolerated.
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("whisper: base URL must not be empty")
	}
	baseURL = strings.TrimSuffix(strings.TrimRight(baseURL, "/"), "/v1")
	p := &Provider{
		baseURL:    baseURL,
		model:      DefaultModel,
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Transcript, error) {
	if len(req.Audio) == 0 {
		return nil, stt.ErrEmptyAudio
	}

	model := req.Model
	if model == "" {
		model = p.model
	}
	lang := req.Language
	if lang == "" {
		lang = p.language
	}

	body, contentType, err := p.encodeForm(req, model, lang)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+transcribePath, body)
	if err != nil {
		return nil, fmt.Errorf("whisper: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("whisper: read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(data))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return nil, fmt.Errorf("whisper: server returned HTTP %d: %s", resp.StatusCode, msg)
	}

	var result struct {
		Text     string `json:"text"`
		Language string `json:"language"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("whisper: parse JSON response: %w", err)
	}

	detected := result.Language
	if detected == "" {
		detected = lang
	}
	return &stt.Transcript{
		Text:     strings.TrimSpace(result.Text),
		Language: detected,
	}, nil
}

// encodeForm builds the multipart body for one request.
func (p *Provider) encodeForm(req stt.Request, model, lang string) (io.Reader, string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	contentType := req.MimeType
	if contentType == "" || strings.ContainsAny(contentType, "\r\n") {
		contentType = "application/octet-stream"
	}
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="audio%s"`, audio.FileExtension(req.MimeType)))
	hdr.Set("Content-Type", contentType)
	fw, err := mw.CreatePart(hdr)
	if err != nil {
		return nil, "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(req.Audio); err != nil {
		return nil, "", fmt.Errorf("whisper: write audio data: %w", err)
	}

	fields := [][2]string{
		{"model", model},
		{"language", lang},
		{"vad_filter", fmt.Sprint(p.vadFilter)},
	}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("whisper: write %s field: %w", f[0], err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}
	return &body, mw.FormDataContentType(), nil
}
