package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	whisperDefaultBase  = "https://api.groq.com/openai/v1"
	whisperDefaultModel = "whisper-large-v3"
	whisperTimeout      = 60 * time.Second
)

// WhisperConfig selects an OpenAI-compatible transcription endpoint.
type WhisperConfig struct {
	APIBase  string // Groq by default; OpenAI is "https://api.openai.com/v1"
	APIKey   string
	Model    string
	Language string // ISO-639-1 hint, empty = detect
	Prompt   string // vocabulary hint, e.g. the assistant's name
	Logger   *slog.Logger
}

// Whisper turns one recorded utterance into text.
type Whisper struct {
	endpoint string
	apiKey   string
	fields   map[string]string
	client   *http.Client
	logger   *slog.Logger
}

func NewWhisper(cfg WhisperConfig) *Whisper {
	return NewWhisperWithClient(cfg, SharedHTTPClient(whisperTimeout))
}

func NewWhisperWithClient(cfg WhisperConfig, client *http.Client) *Whisper {
	if cfg.APIBase == "" {
		cfg.APIBase = whisperDefaultBase
	}
	if cfg.Model == "" {
		cfg.Model = whisperDefaultModel
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	fields := map[string]string{"model": cfg.Model, "response_format": "json"}
	if cfg.Language != "" {
		fields["language"] = cfg.Language
	}
	if cfg.Prompt != "" {
		fields["prompt"] = cfg.Prompt
	}
	return &Whisper{
		endpoint: strings.TrimRight(cfg.APIBase, "/") + "/audio/transcriptions",
		apiKey:   cfg.APIKey,
		fields:   fields,
		client:   client,
		logger:   cfg.Logger,
	}
}

// TranscribeFile uploads the recording at path and returns the trimmed
// transcript. The file extension tells the service the audio format.
func (w *Whisper) TranscribeFile(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open recording: %w", err)
	}
	defer f.Close()

	body, contentType := w.streamForm(f, filepath.Base(path))
	defer body.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)
	if w.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+w.apiKey)
	}

	start := time.Now()
	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("transcription failed (status %d): %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode transcription: %w", err)
	}
	text := strings.TrimSpace(out.Text)
	w.logger.Debug("utterance transcribed", "text_len", len(text), "latency", time.Since(start))
	return text, nil
}

// streamForm writes the multipart body on a goroutine so the recording is
// never held in memory.
func (w *Whisper) streamForm(audio io.Reader, filename string) (io.ReadCloser, string) {
	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(w.writeForm(form, audio, filename))
	}()
	return pr, form.FormDataContentType()
}

func (w *Whisper) writeForm(form *multipart.Writer, audio io.Reader, filename string) error {
	for k, v := range w.fields {
		if err := form.WriteField(k, v); err != nil {
			return err
		}
	}
	part, err := form.CreateFormFile("file", filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, audio); err != nil {
		return fmt.Errorf("copy recording: %w", err)
	}
	return form.Close()
}
