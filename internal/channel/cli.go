package channel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"voxchat/internal/agent"
	"voxchat/internal/bus"
	"voxchat/internal/config"
	"voxchat/internal/domain"
)

const cliHelp = `Commands:
  /voice on|off   start or stop hands-free voice mode
  /attach <path>  send an image with your next message
  /new            start a new chat
  /history        show the conversation so far
  /stats          show runtime counters
  /quit           exit`

// CLI is an interactive terminal presentation.
type CLI struct {
	name         string
	logger       *slog.Logger
	in           io.Reader
	stats        func(io.Writer) error
	startInVoice bool

	outMu sync.Mutex
	out   io.Writer

	thinking  bool
	thinkMu   sync.Mutex
	thinkStop chan struct{}

	typedMu sync.Mutex
	typed   string // last submitted line, not echoed back
}

type CLIConfig struct {
	AssistantName string
	StartInVoice  bool
	Stats         func(io.Writer) error // renders /stats; optional
	Logger        *slog.Logger
	In            io.Reader
	Out           io.Writer
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.AssistantName == "" {
		cfg.AssistantName = "Assistant"
	}
	return &CLI{
		name:         cfg.AssistantName,
		stats:        cfg.Stats,
		startInVoice: cfg.StartInVoice,
		logger:       cfg.Logger,
		in:           cfg.In,
		out:          cfg.Out,
	}
}

type commandKind int

const (
	cmdMessage commandKind = iota
	cmdVoice
	cmdAttach
	cmdNew
	cmdHistory
	cmdStats
	cmdHelp
	cmdQuit
)

type command struct {
	kind commandKind
	arg  string
	on   bool
}

// parseLine turns one input line into a command. Lines not starting with a
// slash are chat messages.
func parseLine(line string) (command, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return command{kind: cmdMessage, arg: line}, nil
	}

	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch strings.ToLower(name) {
	case "/voice":
		switch strings.ToLower(arg) {
		case "on", "":
			return command{kind: cmdVoice, on: true}, nil
		case "off":
			return command{kind: cmdVoice, on: false}, nil
		}
		return command{}, fmt.Errorf("usage: /voice on|off")
	case "/attach", "/image":
		if arg == "" {
			return command{}, fmt.Errorf("usage: /attach <path>")
		}
		return command{kind: cmdAttach, arg: arg}, nil
	case "/new", "/clear":
		return command{kind: cmdNew}, nil
	case "/history":
		return command{kind: cmdHistory}, nil
	case "/stats":
		return command{kind: cmdStats}, nil
	case "/help", "/?":
		return command{kind: cmdHelp}, nil
	case "/quit", "/exit", "/q":
		return command{kind: cmdQuit}, nil
	}
	return command{}, fmt.Errorf("unknown command %s (try /help)", name)
}

// Run renders a's events and forwards typed input until /quit, end of input,
// ctx cancellation or the assistant shutting down.
func (c *CLI) Run(ctx context.Context, a Assistant) error {
	events, unsubscribe := a.Subscribe()
	rendered := make(chan struct{})
	go func() {
		defer close(rendered)
		c.render(events)
	}()
	defer func() {
		unsubscribe()
		<-rendered
	}()

	c.printf("%s is ready. Type a message and press Enter, /help for commands.\n", c.name)
	if turns := a.Snapshot(); len(turns) > 0 {
		c.printf("(restored %d earlier turns, /history to show them)\n", len(turns))
	}
	if c.startInVoice {
		c.handleLine(a, "/voice on")
	} else {
		c.prompt()
	}

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-rendered:
			return nil
		case err := <-readErr:
			return err
		case line := <-lines:
			if strings.TrimSpace(line) == "" {
				c.prompt()
				continue
			}
			if quit := c.handleLine(a, line); quit {
				c.logger.Info("user requested quit")
				return nil
			}
		}
	}
}

func (c *CLI) handleLine(a Assistant, line string) bool {
	cmd, err := parseLine(line)
	if err != nil {
		c.printf("%v\n", err)
		c.prompt()
		return false
	}

	switch cmd.kind {
	case cmdQuit:
		return true
	case cmdHelp:
		c.printf("%s\n", cliHelp)
	case cmdMessage:
		c.setTyped(cmd.arg)
		if err = a.SubmitText(cmd.arg); err != nil {
			c.setTyped("")
		}
	case cmdVoice:
		err = a.SetVoiceMode(cmd.on)
	case cmdAttach:
		path := config.ExpandPath(cmd.arg)
		if _, statErr := os.Stat(path); statErr != nil {
			err = fmt.Errorf("cannot attach %s: %w", cmd.arg, statErr)
			break
		}
		if err = a.AttachImage(path); err == nil {
			c.printf("Attached %s to your next message.\n", path)
		}
	case cmdNew:
		err = a.NewChat()
	case cmdHistory:
		c.printHistory(a.Snapshot())
	case cmdStats:
		if c.stats != nil {
			c.outMu.Lock()
			err = c.stats(c.out)
			c.outMu.Unlock()
		}
	}

	switch {
	case err == nil:
	case errors.Is(err, agent.ErrBusy):
		c.printf("Still working on the last message, hang on.\n")
	case errors.Is(err, agent.ErrVoiceUnavailable):
		c.printf("Voice mode is not configured (enable speech.stt in the config).\n")
	default:
		c.printf("Error: %v\n", err)
	}
	if cmd.kind != cmdMessage || err != nil {
		c.prompt()
	}
	return false
}

// render prints events until the feed is closed.
func (c *CLI) render(events <-chan bus.Event) {
	for e := range events {
		switch e.Type {
		case bus.EventTurnAppended:
			c.renderTurn(e.Turn)
		case bus.EventStatusChanged:
			c.renderStatus(e.Status)
		case bus.EventModeChanged:
			if e.Mode == domain.VoiceMode {
				c.printf("\r\033[K[voice mode on, just talk; /voice off to type]\n")
			} else {
				c.printf("\r\033[K[voice mode off]\n")
				c.prompt()
			}
		case bus.EventHistoryCleared:
			c.printf("\r\033[KChat cleared.\n")
			c.prompt()
		}
	}
	c.stopThinking()
}

func (c *CLI) renderTurn(t domain.Turn) {
	switch t.Role {
	case domain.RoleUser:
		// Typed input is already on screen; only echo what came from elsewhere.
		if c.takeTyped(t.Text) && !t.HasAttachment() {
			return
		}
		label := "You"
		if t.HasAttachment() {
			label += " [image]"
		}
		c.printf("\r\033[K%s: %s\n", label, t.Text)
	case domain.RoleAssistant:
		c.stopThinking()
		c.printf("\r\033[K--- %s ---\n%s\n", c.name, t.Text)
		c.printf("%s\n", strings.Repeat("-", len(c.name)+8))
		c.prompt()
	}
}

func (c *CLI) renderStatus(s domain.Status) {
	switch s {
	case domain.StatusProcessing:
		c.startThinking()
	case domain.StatusListening:
		c.stopThinking()
		c.printf("\r\033[KListening...\n")
	case domain.StatusNoSpeech:
		c.printf("\r\033[K(no speech detected)\n")
	case domain.StatusSpeaking:
		c.stopThinking()
	default:
		c.stopThinking()
	}
}

func (c *CLI) setTyped(text string) {
	c.typedMu.Lock()
	c.typed = strings.TrimSpace(text)
	c.typedMu.Unlock()
}

// takeTyped reports whether text is the line just submitted at the prompt.
func (c *CLI) takeTyped(text string) bool {
	c.typedMu.Lock()
	defer c.typedMu.Unlock()
	if c.typed == "" || c.typed != text {
		return false
	}
	c.typed = ""
	return true
}

func (c *CLI) printHistory(turns []domain.Turn) {
	if len(turns) == 0 {
		c.printf("(no messages yet)\n")
		return
	}
	for _, t := range turns {
		who := "You"
		if t.Role == domain.RoleAssistant {
			who = c.name
		}
		suffix := ""
		if t.HasAttachment() {
			suffix = " [image: " + t.Attachment + "]"
		}
		c.printf("[%s] %s: %s%s\n", t.CreatedAt.Local().Format("15:04"), who, t.Text, suffix)
	}
}

func (c *CLI) printf(format string, args ...any) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

func (c *CLI) prompt() {
	c.printf("You> ")
}

func (c *CLI) startThinking() {
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if c.thinking {
		return
	}
	c.thinking = true
	c.thinkStop = make(chan struct{})
	stop := c.thinkStop
	go func() {
		frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		i := 0
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.printf("\r%s Thinking...", frames[i%len(frames)])
				i++
			}
		}
	}()
}

func (c *CLI) stopThinking() {
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if !c.thinking {
		return
	}
	c.thinking = false
	close(c.thinkStop)
}
