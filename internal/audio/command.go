// Package audio records and plays sound through external command-line
// programs (sox, ffplay, arecord, afplay...) configured as shell templates.
package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// FilePlaceholder is replaced by the quoted audio file path in a command
// template.
const FilePlaceholder = "{file}"

// ErrNoPlaceholder is returned for a template that does not mention {file}.
var ErrNoPlaceholder = errors.New("audio command must contain " + FilePlaceholder)

// command is a shell template run once per audio file. The template must be
// a single program invocation; the shell execs it in place.
type command struct {
	template string
	logger   *slog.Logger
}

func newCommand(template string, logger *slog.Logger) (command, error) {
	template = strings.TrimSpace(template)
	if !strings.Contains(template, FilePlaceholder) {
		return command{}, ErrNoPlaceholder
	}
	if logger == nil {
		logger = slog.Default()
	}
	return command{template: template, logger: logger}, nil
}

// render substitutes path into the template.
func (c command) render(path string) string {
	return strings.ReplaceAll(c.template, FilePlaceholder, shellQuote(path))
}

// run executes the template for path. The shell execs the program so that
// cancelling ctx kills the audio process itself.
func (c command) run(ctx context.Context, path string) error {
	line := c.render(path)
	cmd := exec.CommandContext(ctx, "sh", "-c", "exec "+line)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 512 {
			msg = msg[:512] + "..."
		}
		return fmt.Errorf("%s: %w: %s", firstWord(line), err, msg)
	}
	c.logger.Debug("audio command finished", "cmd", firstWord(line), "duration", time.Since(start))
	return nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func firstWord(s string) string {
	if f := strings.Fields(s); len(f) > 0 {
		return f[0]
	}
	return s
}
