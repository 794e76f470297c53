package audio

import (
	"context"
	"fmt"
	"log/slog"
)

// DefaultPlayCommand plays a file without a window and exits at the end.
const DefaultPlayCommand = "ffplay -nodisp -autoexit -loglevel quiet {file}"

// Player plays audio files through an external program.
type Player struct {
	cmd command
}

func NewPlayer(template string, logger *slog.Logger) (*Player, error) {
	if template == "" {
		template = DefaultPlayCommand
	}
	c, err := newCommand(template, logger)
	if err != nil {
		return nil, fmt.Errorf("play command: %w", err)
	}
	return &Player{cmd: c}, nil
}

// Play blocks until path has been played or ctx is cancelled.
func (p *Player) Play(ctx context.Context, path string) error {
	return p.cmd.run(ctx, path)
}
