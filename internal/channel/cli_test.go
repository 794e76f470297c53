package channel

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"voxchat/internal/agent"
	"voxchat/internal/bus"
	"voxchat/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeAssistant records intents and answers every message with reply.
type fakeAssistant struct {
	mu       sync.Mutex
	submits  []string
	voice    []bool
	attached []string
	cleared  int
	reply    string
	busy     bool

	events    chan bus.Event
	closeOnce sync.Once
}

func newFakeAssistant(reply string) *fakeAssistant {
	return &fakeAssistant{reply: reply, events: make(chan bus.Event, 32)}
}

func (f *fakeAssistant) SubmitText(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy {
		return agent.ErrBusy
	}
	f.submits = append(f.submits, text)
	f.events <- bus.Event{Type: bus.EventTurnAppended, Turn: domain.NewTurn(domain.RoleUser, text)}
	f.events <- bus.Event{Type: bus.EventTurnAppended, Turn: domain.NewTurn(domain.RoleAssistant, f.reply)}
	return nil
}

func (f *fakeAssistant) SetVoiceMode(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.voice = append(f.voice, on)
	return nil
}

func (f *fakeAssistant) AttachImage(ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attached = append(f.attached, ref)
	return nil
}

func (f *fakeAssistant) NewChat() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared++
	f.events <- bus.Event{Type: bus.EventHistoryCleared}
	return nil
}

func (f *fakeAssistant) Subscribe() (<-chan bus.Event, func()) {
	return f.events, func() { f.closeOnce.Do(func() { close(f.events) }) }
}

func (f *fakeAssistant) Status() domain.Status   { return domain.StatusIdle }
func (f *fakeAssistant) Mode() domain.Mode       { return domain.TextMode }
func (f *fakeAssistant) Snapshot() []domain.Turn { return nil }

func TestParseLine(t *testing.T) {
	tests := []struct {
		line    string
		kind    commandKind
		arg     string
		on      bool
		wantErr bool
	}{
		{line: "hello there", kind: cmdMessage, arg: "hello there"},
		{line: "  spaced  ", kind: cmdMessage, arg: "spaced"},
		{line: "/voice on", kind: cmdVoice, on: true},
		{line: "/voice", kind: cmdVoice, on: true},
		{line: "/VOICE OFF", kind: cmdVoice, on: false},
		{line: "/voice maybe", wantErr: true},
		{line: "/attach /tmp/a b.png", kind: cmdAttach, arg: "/tmp/a b.png"},
		{line: "/attach", wantErr: true},
		{line: "/new", kind: cmdNew},
		{line: "/clear", kind: cmdNew},
		{line: "/history", kind: cmdHistory},
		{line: "/stats", kind: cmdStats},
		{line: "/q", kind: cmdQuit},
		{line: "/dance", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			cmd, err := parseLine(tt.line)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", cmd)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cmd.kind != tt.kind || cmd.arg != tt.arg || cmd.on != tt.on {
				t.Errorf("got %+v", cmd)
			}
		})
	}
}

func TestCLI_ForwardsIntents(t *testing.T) {
	img := filepath.Join(t.TempDir(), "cat.png")
	if err := os.WriteFile(img, []byte("png"), 0o644); err != nil {
		t.Fatal(err)
	}

	input := strings.Join([]string{
		"/attach " + img,
		"what is this?",
		"/voice on",
		"/voice off",
		"/new",
		"/quit",
		"never sent",
	}, "\n") + "\n"

	var out bytes.Buffer
	fa := newFakeAssistant("A cat, obviously.")
	cli := NewCLI(CLIConfig{
		AssistantName: "Pred",
		Logger:        testLogger(),
		In:            strings.NewReader(input),
		Out:           &out,
	})

	if err := cli.Run(context.Background(), fa); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(fa.attached) != 1 || fa.attached[0] != img {
		t.Errorf("unexpected attachments %v", fa.attached)
	}
	if len(fa.submits) != 1 || fa.submits[0] != "what is this?" {
		t.Errorf("unexpected submits %v", fa.submits)
	}
	if len(fa.voice) != 2 || !fa.voice[0] || fa.voice[1] {
		t.Errorf("unexpected voice toggles %v", fa.voice)
	}
	if fa.cleared != 1 {
		t.Errorf("expected one new chat, got %d", fa.cleared)
	}

	text := out.String()
	if !strings.Contains(text, "--- Pred ---\nA cat, obviously.") {
		t.Errorf("assistant reply not rendered:\n%s", text)
	}
	if strings.Contains(text, "You: what is this?") {
		t.Errorf("typed message should not be echoed:\n%s", text)
	}
	if !strings.Contains(text, "Chat cleared.") {
		t.Errorf("clear not rendered:\n%s", text)
	}
}

func TestCLI_AttachMissingFile(t *testing.T) {
	var out bytes.Buffer
	fa := newFakeAssistant("")
	cli := NewCLI(CLIConfig{
		Logger: testLogger(),
		In:     strings.NewReader("/attach /definitely/not/here.png\n"),
		Out:    &out,
	})
	if err := cli.Run(context.Background(), fa); err != nil {
		t.Fatal(err)
	}
	if len(fa.attached) != 0 {
		t.Error("missing file must not be attached")
	}
	if !strings.Contains(out.String(), "cannot attach") {
		t.Errorf("expected an error message, got:\n%s", out.String())
	}
}

func TestCLI_BusyMessage(t *testing.T) {
	var out bytes.Buffer
	fa := newFakeAssistant("")
	fa.busy = true
	cli := NewCLI(CLIConfig{Logger: testLogger(), In: strings.NewReader("again\n"), Out: &out})
	if err := cli.Run(context.Background(), fa); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "Still working") {
		t.Errorf("expected busy notice, got:\n%s", out.String())
	}
}

func TestCLI_RendersSpokenInputAndStatus(t *testing.T) {
	var out bytes.Buffer
	fa := newFakeAssistant("")
	fa.events <- bus.Event{Type: bus.EventModeChanged, Mode: domain.VoiceMode}
	fa.events <- bus.Event{Type: bus.EventStatusChanged, Status: domain.StatusListening}
	fa.events <- bus.Event{Type: bus.EventStatusChanged, Status: domain.StatusNoSpeech}
	fa.events <- bus.Event{Type: bus.EventTurnAppended, Turn: domain.NewTurn(domain.RoleUser, "spoken words")}

	cli := NewCLI(CLIConfig{Logger: testLogger(), In: strings.NewReader(""), Out: &out})
	if err := cli.Run(context.Background(), fa); err != nil {
		t.Fatal(err)
	}

	text := out.String()
	for _, want := range []string{"voice mode on", "Listening...", "(no speech detected)", "You: spoken words"} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
}
