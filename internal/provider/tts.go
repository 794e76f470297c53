package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const elevenLabsBase = "https://api.elevenlabs.io/v1"

// TTSConfig configures the text-to-speech provider.
type TTSConfig struct {
	Provider string // "openai" | "elevenlabs"
	APIBase  string
	APIKey   string
	Model    string // e.g., "tts-1" (OpenAI) or "eleven_multilingual_v2" (ElevenLabs)
	Voice    string // OpenAI voice name or ElevenLabs voice ID
	Logger   *slog.Logger
}

// TTSProvider turns text into MP3 audio.
type TTSProvider struct {
	provider string
	apiBase  string
	apiKey   string
	model    string
	voice    string
	client   *http.Client
	logger   *slog.Logger
}

func NewTTSProvider(cfg TTSConfig) *TTSProvider {
	return NewTTSProviderWithClient(cfg, SharedHTTPClient(60*time.Second))
}

func NewTTSProviderWithClient(cfg TTSConfig, client *http.Client) *TTSProvider {
	if cfg.Provider == "" {
		cfg.Provider = "openai"
	}
	switch cfg.Provider {
	case "elevenlabs":
		if cfg.APIBase == "" {
			cfg.APIBase = elevenLabsBase
		}
		if cfg.Model == "" {
			cfg.Model = "eleven_multilingual_v2"
		}
		if cfg.Voice == "" {
			cfg.Voice = "21m00Tcm4TlvDq8ikWAM"
		}
	default:
		if cfg.APIBase == "" {
			cfg.APIBase = "https://api.openai.com/v1"
		}
		if cfg.Model == "" {
			cfg.Model = "tts-1"
		}
		if cfg.Voice == "" {
			cfg.Voice = "alloy"
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &TTSProvider{
		provider: cfg.Provider,
		apiBase:  strings.TrimRight(cfg.APIBase, "/"),
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		voice:    cfg.Voice,
		client:   client,
		logger:   cfg.Logger,
	}
}

// Synthesize converts text to MP3 audio. The caller closes the reader.
func (t *TTSProvider) Synthesize(ctx context.Context, text string) (io.ReadCloser, error) {
	switch t.provider {
	case "openai":
		return t.post(ctx, t.apiBase+"/audio/speech", map[string]string{
			"model": t.model,
			"input": text,
			"voice": t.voice,
		}, func(h http.Header) {
			h.Set("Authorization", "Bearer "+t.apiKey)
		})
	case "elevenlabs":
		return t.post(ctx, t.apiBase+"/text-to-speech/"+t.voice, map[string]string{
			"text":     text,
			"model_id": t.model,
		}, func(h http.Header) {
			h.Set("xi-api-key", t.apiKey)
			h.Set("Accept", "audio/mpeg")
		})
	default:
		return nil, fmt.Errorf("unsupported TTS provider: %s", t.provider)
	}
}

func (t *TTSProvider) post(ctx context.Context, url string, payload map[string]string, auth func(http.Header)) (io.ReadCloser, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	auth(req.Header)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s tts request: %w", t.provider, err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("%s tts error (status %d): %s", t.provider, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	t.logger.Debug("speech synthesized", "provider", t.provider, "request_bytes", len(body))
	return resp.Body, nil
}
