package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"voxchat/internal/domain"
)

const (
	ollamaDefaultBase  = "http://localhost:11434"
	ollamaDefaultModel = "gemma3:4b"
)

// Ollama implements domain.InferenceClient against the Ollama chat API.
type Ollama struct {
	apiBase      string
	model        string
	systemPrompt string
	temperature  float64
	client       *http.Client
	logger       *slog.Logger
}

type OllamaConfig struct {
	APIBase      string
	Model        string
	SystemPrompt string // prepended to every request, never stored in history
	Temperature  float64
	Timeout      time.Duration
	Logger       *slog.Logger
}

func NewOllama(cfg OllamaConfig) *Ollama {
	return NewOllamaWithClient(cfg, SharedHTTPClient(cfg.Timeout))
}

func NewOllamaWithClient(cfg OllamaConfig, client *http.Client) *Ollama {
	if cfg.APIBase == "" {
		cfg.APIBase = ollamaDefaultBase
	}
	if cfg.Model == "" {
		cfg.Model = ollamaDefaultModel
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Ollama{
		apiBase:      strings.TrimRight(cfg.APIBase, "/"),
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		temperature:  cfg.Temperature,
		client:       client,
		logger:       cfg.Logger,
	}
}

func (o *Ollama) Model() string { return o.model }

// Healthy reports whether the Ollama server answers.
func (o *Ollama) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.apiBase+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama not reachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}
	return nil
}

// ollamaRequest matches the Ollama /api/chat request body.
type ollamaRequest struct {
	Model    string         `json:"model"`
	Messages []ollamaMsg    `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaMsg struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaResponse struct {
	Message    ollamaMsg `json:"message"`
	Done       bool      `json:"done"`
	DoneReason string    `json:"done_reason"`
	Error      string    `json:"error"`
}

// Send asks the model for the reply to message given the prior history.
func (o *Ollama) Send(ctx context.Context, history []domain.Turn, message domain.Turn) (string, error) {
	msgs, err := o.buildMessages(history, message)
	if err != nil {
		return "", err
	}

	body := ollamaRequest{
		Model:    o.model,
		Messages: msgs,
		Stream:   false,
	}
	if o.temperature > 0 {
		body.Options = map[string]any{"temperature": o.temperature}
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.apiBase+"/api/chat", bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := o.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("ollama returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var out ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("ollama: %s", out.Error)
	}

	o.logger.Debug("ollama reply",
		"model", o.model,
		"messages", len(msgs),
		"done_reason", out.DoneReason,
		"duration", time.Since(start),
	)
	return out.Message.Content, nil
}

// buildMessages renders the system prompt, the non-failed history and the
// new user message in Ollama's message format.
func (o *Ollama) buildMessages(history []domain.Turn, message domain.Turn) ([]ollamaMsg, error) {
	msgs := make([]ollamaMsg, 0, len(history)+2)
	if o.systemPrompt != "" {
		msgs = append(msgs, ollamaMsg{Role: string(domain.RoleSystem), Content: o.systemPrompt})
	}

	for _, t := range history {
		if t.Failed {
			continue
		}
		m := ollamaMsg{Role: string(t.Role), Content: t.Text}
		if t.HasAttachment() {
			img, err := encodeImage(t.Attachment)
			if err != nil {
				// Earlier images may have been moved; the text still counts.
				o.logger.Warn("dropping unreadable image from history", "path", t.Attachment, "err", err)
			} else {
				m.Images = []string{img}
			}
		}
		msgs = append(msgs, m)
	}

	m := ollamaMsg{Role: string(domain.RoleUser), Content: message.Text}
	if message.HasAttachment() {
		img, err := encodeImage(message.Attachment)
		if err != nil {
			return nil, fmt.Errorf("attach image: %w", err)
		}
		m.Images = []string{img}
	}
	return append(msgs, m), nil
}

func encodeImage(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
