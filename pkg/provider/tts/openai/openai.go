// Package openai provides a TTS provider for OpenAI-compatible
// /v1/audio/speech endpoints, such as Kokoro served by speaches.
package openai

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/cafevox/pkg/audio"
	"github.com/MrWong99/cafevox/pkg/provider/tts"
)

const (
	// DefaultModel is the Kokoro ONNX model published by speaches.
	DefaultModel = "speaches-ai/Kokoro-82M-v1.0-ONNX-fp16"

	// DefaultVoice is a Kokoro American English voice.
	DefaultVoice = "af_sky"
)

// Provider implements tts.Provider using the OpenAI speech API.
type Provider struct {
	client oai.Client
	model  string
	voice  string
	format oai.AudioSpeechNewParamsResponseFormat
}

type config struct {
	baseURL string
	timeout time.Duration
	voice   string
	format  string
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL points the client at a self-hosted /v1 root, e.g.
// "http://speaches:8000/v1".
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithDefaultVoice sets the voice used when a VoiceProfile has no ID.
// Defaults to [DefaultVoice].
func WithDefaultVoice(voice string) Option {
	return func(c *config) {
		c.voice = voice
	}
}

// WithResponseFormat sets the encoding requested from the server ("wav",
// "mp3", "opus", "flac", "aac"). Defaults to "wav".
func WithResponseFormat(format string) Option {
	return func(c *config) {
		c.format = format
	}
}

// New constructs a speech Provider. An empty model selects [DefaultModel];
// apiKey may be empty for servers that do not authenticate.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		model = DefaultModel
	}
	cfg := &config{voice: DefaultVoice, format: "wav"}
	for _, o := range opts {
		o(cfg)
	}
	if _, ok := formatMIME[cfg.format]; !ok {
		return nil, fmt.Errorf("openai tts: unsupported response format %q", cfg.format)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Provider{
		client: oai.NewClient(reqOpts...),
		model:  model,
		voice:  cfg.voice,
		format: oai.AudioSpeechNewParamsResponseFormat(cfg.format),
	}, nil
}

var formatMIME = map[string]string{
	"wav":  audio.MimeWAV,
	"mp3":  "audio/mpeg",
	"opus": audio.MimeOgg,
	"flac": "audio/flac",
	"aac":  "audio/aac",
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (*tts.Audio, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, tts.ErrEmptyText
	}

	resp, err := p.client.Audio.Speech.New(ctx, p.buildParams(text, voice))
	if err != nil {
		return nil, fmt.Errorf("openai tts: synthesize: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai tts: read audio: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("openai tts: server returned no audio")
	}
	if p.format == "wav" {
		if _, err := audio.WAVPayload(data); err != nil {
			return nil, fmt.Errorf("openai tts: %w", err)
		}
	}
	return &tts.Audio{Data: data, MimeType: formatMIME[string(p.format)]}, nil
}

func (p *Provider) buildParams(text string, voice tts.VoiceProfile) oai.AudioSpeechNewParams {
	model := voice.Model
	if model == "" {
		model = p.model
	}
	id := voice.ID
	if id == "" {
		id = p.voice
	}
	params := oai.AudioSpeechNewParams{
		Input:          text,
		Model:          oai.SpeechModel(model),
		Voice:          oai.AudioSpeechNewParamsVoice(id),
		ResponseFormat: p.format,
	}
	if voice.SpeedFactor > 0 {
		params.Speed = param.NewOpt(voice.SpeedFactor)
	}
	return params
}
