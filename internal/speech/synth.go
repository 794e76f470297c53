package speech

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// TextToSpeech produces encoded audio for text.
type TextToSpeech interface {
	Synthesize(ctx context.Context, text string) (io.ReadCloser, error)
}

// Player plays an audio file to completion.
type Player interface {
	Play(ctx context.Context, path string) error
}

// Synthesizer implements domain.SpeechSynthesizer. Each reply is written to
// a file in a private temporary directory, played, then removed.
type Synthesizer struct {
	tts    TextToSpeech
	player Player
	dir    string
	logger *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

type SynthesizerConfig struct {
	TTS    TextToSpeech
	Player Player
	Logger *slog.Logger
}

func NewSynthesizer(cfg SynthesizerConfig) (*Synthesizer, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	dir, err := os.MkdirTemp("", "voxchat-speech-")
	if err != nil {
		return nil, fmt.Errorf("create speech directory: %w", err)
	}
	return &Synthesizer{
		tts:    cfg.TTS,
		player: cfg.Player,
		dir:    dir,
		logger: cfg.Logger,
	}, nil
}

// Dir returns the directory holding in-flight audio files.
func (s *Synthesizer) Dir() string { return s.dir }

// Speak synthesizes text and plays it, blocking until playback ends.
func (s *Synthesizer) Speak(ctx context.Context, text string) error {
	audio, err := s.tts.Synthesize(ctx, text)
	if err != nil {
		return fmt.Errorf("synthesize: %w", err)
	}
	defer audio.Close()

	f, err := os.CreateTemp(s.dir, "reply-*.mp3")
	if err != nil {
		return fmt.Errorf("create audio file: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)

	n, err := io.Copy(f, audio)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write audio file: %w", err)
	}

	s.logger.Debug("playing reply", "bytes", n)
	if err := s.player.Play(ctx, path); err != nil {
		return fmt.Errorf("play: %w", err)
	}
	return nil
}

// Close removes the temporary directory. It is safe to call more than once.
func (s *Synthesizer) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = os.RemoveAll(s.dir)
	})
	return s.closeErr
}
