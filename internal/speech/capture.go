// Package speech implements the orchestrator's speech ports by combining a
// local audio program with a remote speech model.
package speech

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

// Recorder writes one utterance to a file.
type Recorder interface {
	Record(ctx context.Context, path string) error
}

// Transcriber turns a recorded audio file into text.
type Transcriber interface {
	TranscribeFile(ctx context.Context, path string) (string, error)
}

// Capture implements domain.SpeechCapture: record, then transcribe.
type Capture struct {
	recorder    Recorder
	transcriber Transcriber
	logger      *slog.Logger
}

type CaptureConfig struct {
	Recorder    Recorder
	Transcriber Transcriber
	Logger      *slog.Logger
}

func NewCapture(cfg CaptureConfig) *Capture {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Capture{
		recorder:    cfg.Recorder,
		transcriber: cfg.Transcriber,
		logger:      cfg.Logger,
	}
}

// Listen records until the speaker pauses and returns the recognized text.
// An empty string means nothing intelligible was heard.
func (c *Capture) Listen(ctx context.Context) (string, error) {
	f, err := os.CreateTemp("", "voxchat-utterance-*.wav")
	if err != nil {
		return "", fmt.Errorf("create recording file: %w", err)
	}
	path := f.Name()
	f.Close()
	defer os.Remove(path)

	if err := c.recorder.Record(ctx, path); err != nil {
		return "", fmt.Errorf("record: %w", err)
	}

	text, err := c.transcriber.TranscribeFile(ctx, path)
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	c.logger.Debug("utterance captured", "text_len", len(text))
	return text, nil
}
