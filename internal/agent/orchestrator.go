package agent

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"voxchat/internal/bus"
	"voxchat/internal/domain"
	"voxchat/internal/memory"
	"voxchat/internal/metrics"

	"github.com/sourcegraph/conc"
)

const (
	defaultListenPause     = 500 * time.Millisecond
	defaultShutdownTimeout = 5 * time.Second
	persistTimeout         = 10 * time.Second
)

var (
	ErrBusy             = errors.New("a reply is still being generated")
	ErrEmptyMessage     = errors.New("message is empty")
	ErrEmptyAttachment  = errors.New("attachment reference is empty")
	ErrVoiceUnavailable = errors.New("voice mode needs a speech capture backend")
	ErrTerminated       = errors.New("orchestrator terminated")
)

// Orchestrator is the turn state machine. A single control goroutine (Run)
// owns status, mode, the pending attachment and every history mutation;
// capture, inference and playback run on helper goroutines and report back
// over channels.
type Orchestrator struct {
	inference domain.InferenceClient
	capture   domain.SpeechCapture
	synth     domain.SpeechSynthesizer
	history   *memory.History
	feed      *bus.Feed
	logger    *slog.Logger

	listenPause      time.Duration
	captureTimeout   time.Duration
	inferenceTimeout time.Duration
	shutdownTimeout  time.Duration

	intents  chan intent
	captures chan captureResult
	replies  chan inferenceResult
	spoken   chan speechResult
	resumes  chan uint64
	stopped  chan struct{} // closed when shutdown begins
	done     chan struct{} // closed when Run returns

	lifeMu sync.Mutex
	life   lifecycle

	statusView atomic.Int32
	modeView   atomic.Int32

	// Owned by the control goroutine.
	runCtx        context.Context
	cancelRun     context.CancelFunc
	wg            conc.WaitGroup
	status        domain.Status
	mode          domain.Mode
	pending       string
	inflight      bool
	voice         *voiceSession
	lastVoiceExit <-chan struct{}
	nextSession   uint64
	grantSeq      uint64
	captureCancel context.CancelFunc
	speakSeq      uint64
	speakCancel   context.CancelFunc
}

type lifecycle int

const (
	lifeNew lifecycle = iota
	lifeRunning
	lifeTerminated
)

// Config wires an Orchestrator. Inference is required; Capture and Synth may
// be nil, which disables voice mode or spoken replies respectively.
type Config struct {
	Inference domain.InferenceClient
	Capture   domain.SpeechCapture
	Synth     domain.SpeechSynthesizer
	History   *memory.History
	Feed      *bus.Feed
	Logger    *slog.Logger

	ListenPause      time.Duration // gap after a capture that heard nothing
	CaptureTimeout   time.Duration // 0 = capture decides
	InferenceTimeout time.Duration // 0 = no limit
	ShutdownTimeout  time.Duration
}

type intentKind int

const (
	intentSubmit intentKind = iota
	intentVoice
	intentAttach
	intentNewChat
	intentTerminate
)

type intent struct {
	kind  intentKind
	text  string
	on    bool
	reply chan error
}

type inferenceResult struct {
	epoch   uint64
	reply   string
	err     error
	latency time.Duration
}

type speechResult struct {
	seq uint64
	err error
}

// New creates an orchestrator in TextMode with status Idle.
func New(cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.History == nil {
		cfg.History = memory.NewHistory(nil, cfg.Logger)
	}
	if cfg.Feed == nil {
		cfg.Feed = bus.NewFeed(0, cfg.Logger)
	}
	if cfg.ListenPause <= 0 {
		cfg.ListenPause = defaultListenPause
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	return &Orchestrator{
		inference:        cfg.Inference,
		capture:          cfg.Capture,
		synth:            cfg.Synth,
		history:          cfg.History,
		feed:             cfg.Feed,
		logger:           cfg.Logger,
		listenPause:      cfg.ListenPause,
		captureTimeout:   cfg.CaptureTimeout,
		inferenceTimeout: cfg.InferenceTimeout,
		shutdownTimeout:  cfg.ShutdownTimeout,
		intents:          make(chan intent),
		captures:         make(chan captureResult),
		replies:          make(chan inferenceResult),
		spoken:           make(chan speechResult),
		resumes:          make(chan uint64),
		stopped:          make(chan struct{}),
		done:             make(chan struct{}),
		status:           domain.StatusIdle,
		mode:             domain.TextMode,
	}
}

// Run is the control loop. It returns after Terminate or when ctx is
// cancelled; in both cases history is persisted and audio released first.
// Run returns ErrTerminated if Terminate was called before it.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.lifeMu.Lock()
	switch o.life {
	case lifeRunning:
		o.lifeMu.Unlock()
		return errors.New("orchestrator already running")
	case lifeTerminated:
		o.lifeMu.Unlock()
		return ErrTerminated
	}
	o.life = lifeRunning
	o.lifeMu.Unlock()
	defer close(o.done)

	o.runCtx, o.cancelRun = context.WithCancel(ctx)
	o.logger.Info("orchestrator started", "turns", o.history.Len())

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("context cancelled, shutting down")
			o.shutdown()
			return nil

		case in := <-o.intents:
			if in.kind == intentTerminate {
				o.shutdown()
				in.reply <- nil
				return nil
			}
			in.reply <- o.handleIntent(in)

		case r := <-o.captures:
			o.handleCapture(r)

		case id := <-o.resumes:
			if o.voice != nil && o.voice.id == id && o.status == domain.StatusNoSpeech {
				o.enterListening()
			}

		case r := <-o.replies:
			o.handleReply(r)

		case r := <-o.spoken:
			o.handleSpoken(r)
		}
	}
}

// --- Presentation intents ---
//
// Intents sent before Run starts wait for it. Terminate does not.

// SubmitText dispatches a typed user message. It returns ErrBusy while a
// previous reply is still pending.
func (o *Orchestrator) SubmitText(text string) error {
	return o.do(intent{kind: intentSubmit, text: text})
}

// SetVoiceMode switches between VoiceMode (on) and TextMode.
func (o *Orchestrator) SetVoiceMode(on bool) error {
	return o.do(intent{kind: intentVoice, on: on})
}

// AttachImage sets the image sent with the next user message.
func (o *Orchestrator) AttachImage(ref string) error {
	return o.do(intent{kind: intentAttach, text: ref})
}

// NewChat clears the conversation.
func (o *Orchestrator) NewChat() error {
	return o.do(intent{kind: intentNewChat})
}

// Terminate stops background work, persists history and releases audio.
// It blocks until shutdown completes. Called before Run, it releases audio
// and makes any later Run return ErrTerminated.
func (o *Orchestrator) Terminate() error {
	o.lifeMu.Lock()
	if o.life == lifeNew {
		o.life = lifeTerminated
		o.lifeMu.Unlock()
		o.abandon()
		return nil
	}
	o.lifeMu.Unlock()

	err := o.do(intent{kind: intentTerminate})
	if errors.Is(err, ErrTerminated) {
		return nil
	}
	return err
}

// Subscribe returns a channel of orchestrator events and its cancel func.
func (o *Orchestrator) Subscribe() (<-chan bus.Event, func()) {
	return o.feed.Subscribe()
}

// Status returns the most recently emitted status.
func (o *Orchestrator) Status() domain.Status { return domain.Status(o.statusView.Load()) }

// Mode returns the current mode.
func (o *Orchestrator) Mode() domain.Mode { return domain.Mode(o.modeView.Load()) }

// Snapshot returns a copy of the conversation history.
func (o *Orchestrator) Snapshot() []domain.Turn { return o.history.Snapshot() }

// Done is closed once Run has returned.
func (o *Orchestrator) Done() <-chan struct{} { return o.done }

func (o *Orchestrator) do(in intent) error {
	in.reply = make(chan error, 1)
	select {
	case o.intents <- in:
	case <-o.stopped:
		return ErrTerminated
	case <-o.done:
		return ErrTerminated
	}
	select {
	case err := <-in.reply:
		return err
	case <-o.done:
		select {
		case err := <-in.reply:
			return err
		default:
			return ErrTerminated
		}
	}
}

func (o *Orchestrator) handleIntent(in intent) error {
	switch in.kind {
	case intentSubmit:
		return o.dispatch(in.text)
	case intentVoice:
		return o.setVoiceMode(in.on)
	case intentAttach:
		ref := strings.TrimSpace(in.text)
		if ref == "" {
			return ErrEmptyAttachment
		}
		if o.pending != "" {
			o.logger.Info("replacing pending attachment", "old", o.pending, "new", ref)
		}
		o.pending = ref
		return nil
	case intentNewChat:
		o.history.Clear()
		o.persist()
		o.feed.Publish(bus.Event{Type: bus.EventHistoryCleared})
		o.logger.Info("conversation cleared", "inflight", o.inflight)
		return nil
	}
	return nil
}

// --- Turn dispatch ---

func (o *Orchestrator) dispatch(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	if o.inflight {
		o.logger.Warn("ignoring submission while a reply is pending", "content_len", len(text))
		return ErrBusy
	}

	prior := o.history.Snapshot()
	turn := domain.NewTurn(domain.RoleUser, text)
	turn.Attachment = o.pending
	o.pending = ""

	o.appendTurn(turn)
	o.cancelCapture()
	o.stopSpeaking()
	o.inflight = true
	o.setStatus(domain.StatusProcessing)

	epoch := o.history.Epoch()
	ctx := o.runCtx
	var cancel context.CancelFunc = func() {}
	if o.inferenceTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, o.inferenceTimeout)
	}

	o.logger.Info("dispatching turn",
		"content_len", len(text),
		"history", len(prior),
		"attachment", turn.HasAttachment(),
	)

	o.wg.Go(func() {
		defer cancel()
		start := time.Now()
		reply, err := o.inference.Send(ctx, prior, turn)
		res := inferenceResult{epoch: epoch, reply: reply, err: err, latency: time.Since(start)}
		select {
		case o.replies <- res:
		case <-o.stopped:
		}
	})
	return nil
}

func (o *Orchestrator) handleReply(r inferenceResult) {
	o.inflight = false
	metrics.InferenceLatency.Observe(r.latency.Seconds())

	if r.epoch != o.history.Epoch() {
		o.logger.Info("discarding reply for a cleared conversation")
		o.afterTurn()
		return
	}

	if r.err != nil {
		metrics.InferenceFailures.Inc()
		o.logger.Error("inference failed", "err", r.err, "latency", r.latency)
		failed := domain.NewTurn(domain.RoleAssistant, "Error: "+r.err.Error())
		failed.Failed = true
		o.appendTurn(failed)
		o.afterTurn()
		return
	}

	reply := strings.TrimSpace(r.reply)
	o.appendTurn(domain.NewTurn(domain.RoleAssistant, reply))
	o.persist()
	o.logger.Info("reply received", "content_len", len(reply), "latency", r.latency)

	if o.mode == domain.VoiceMode && o.voice != nil && o.synth != nil && reply != "" {
		o.speak(reply)
		return
	}
	o.afterTurn()
}

// afterTurn leaves Processing or Speaking for the mode's resting state.
func (o *Orchestrator) afterTurn() {
	if o.mode == domain.VoiceMode && o.voice != nil {
		o.enterListening()
		return
	}
	o.setStatus(domain.StatusIdle)
}

// --- Speech output ---

// speak queues text on the voice loop, behind any capture still running.
func (o *Orchestrator) speak(text string) {
	o.speakSeq++
	ctx, cancel := context.WithCancel(o.voice.ctx)
	o.speakCancel = cancel
	o.setStatus(domain.StatusSpeaking)
	o.submit(voiceJob{kind: jobSpeak, seq: o.speakSeq, text: text, ctx: ctx})
}

func (o *Orchestrator) handleSpoken(r speechResult) {
	if r.seq != o.speakSeq || o.status != domain.StatusSpeaking {
		return
	}
	o.speakCancel()
	o.speakCancel = nil
	if r.err != nil {
		metrics.SynthesisFailures.Inc()
		o.logger.Warn("speech playback failed, continuing in text", "err", r.err)
	}
	o.afterTurn()
}

// stopSpeaking cancels playback in progress and invalidates its result.
func (o *Orchestrator) stopSpeaking() {
	if o.speakCancel == nil {
		return
	}
	o.speakCancel()
	o.speakCancel = nil
	o.speakSeq++
}

// --- State helpers ---

func (o *Orchestrator) setStatus(s domain.Status) {
	if s == o.status {
		return
	}
	o.logger.Debug("status", "from", o.status.String(), "to", s.String())
	o.status = s
	o.statusView.Store(int32(s))
	o.feed.Publish(bus.Event{Type: bus.EventStatusChanged, Status: s})
}

func (o *Orchestrator) setMode(m domain.Mode) {
	o.mode = m
	o.modeView.Store(int32(m))
	o.feed.Publish(bus.Event{Type: bus.EventModeChanged, Mode: m})
}

func (o *Orchestrator) appendTurn(t domain.Turn) {
	o.history.Append(t)
	metrics.TurnsTotal.Inc()
	o.feed.Publish(bus.Event{Type: bus.EventTurnAppended, Turn: t})
}

func (o *Orchestrator) persist() {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := o.history.Persist(ctx); err != nil {
		metrics.PersistFailures.Inc()
		o.logger.Error("cannot persist history, keeping it in memory", "err", err)
	}
}

// --- Shutdown ---

func (o *Orchestrator) shutdown() {
	o.logger.Info("orchestrator stopping")
	o.stopVoiceSession()
	o.stopSpeaking()
	o.cancelRun()
	close(o.stopped)

	waited := make(chan struct{})
	go func() {
		defer close(waited)
		if r := o.wg.WaitAndRecover(); r != nil {
			o.logger.Error("background task panicked", "panic", r.Value)
		}
	}()
	select {
	case <-waited:
	case <-time.After(o.shutdownTimeout):
		o.logger.Warn("background work still running at shutdown", "timeout", o.shutdownTimeout)
	}

	o.persist()
	if o.synth != nil {
		if err := o.synth.Close(); err != nil {
			o.logger.Warn("cannot release audio resources", "err", err)
		}
	}
	o.feed.Close()
	o.lifeMu.Lock()
	o.life = lifeTerminated
	o.lifeMu.Unlock()
	o.logger.Info("orchestrator stopped", "turns", o.history.Len())
}

// abandon releases an orchestrator whose Run never started.
func (o *Orchestrator) abandon() {
	close(o.stopped)
	if o.synth != nil {
		if err := o.synth.Close(); err != nil {
			o.logger.Warn("cannot release audio resources", "err", err)
		}
	}
	o.feed.Close()
	close(o.done)
	o.logger.Info("orchestrator terminated before it ran")
}
