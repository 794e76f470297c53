package audio

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

// DefaultRecordCommand records one utterance from the default input device
// and stops after two seconds of silence.
const DefaultRecordCommand = "sox -q -d -c 1 -r 16000 -b 16 {file} silence 1 0.1 1% 1 2.0 1%"

// Recorder captures a single utterance to a WAV file.
type Recorder struct {
	cmd command
}

func NewRecorder(template string, logger *slog.Logger) (*Recorder, error) {
	if template == "" {
		template = DefaultRecordCommand
	}
	c, err := newCommand(template, logger)
	if err != nil {
		return nil, fmt.Errorf("record command: %w", err)
	}
	return &Recorder{cmd: c}, nil
}

// Record writes one utterance to path. It returns ctx.Err() when cancelled.
func (r *Recorder) Record(ctx context.Context, path string) error {
	if err := r.cmd.run(ctx, path); err != nil {
		return err
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("recording missing: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("recording is empty")
	}
	return nil
}
