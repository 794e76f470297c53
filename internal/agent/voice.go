package agent

import (
	"context"
	"strings"
	"time"

	"voxchat/internal/domain"
	"voxchat/internal/metrics"
)

// voiceSession is one continuous stretch of VoiceMode. Its loop is the only
// goroutine that touches the microphone or the speaker, so captures and
// playback never overlap. A session's loop starts work only after the
// previous session's loop has exited.
type voiceSession struct {
	id     uint64
	ctx    context.Context
	cancel context.CancelFunc
	jobs   chan voiceJob
	prev   <-chan struct{}
	exited chan struct{}
}

type jobKind int

const (
	jobCapture jobKind = iota
	jobSpeak
)

// voiceJob is one capture grant or one utterance to play.
type voiceJob struct {
	kind jobKind
	seq  uint64
	text string
	ctx  context.Context
}

type captureResult struct {
	session uint64
	grant   uint64
	text    string
	err     error
}

func (o *Orchestrator) setVoiceMode(on bool) error {
	if on {
		if o.mode == domain.VoiceMode {
			return nil
		}
		if o.capture == nil {
			return ErrVoiceUnavailable
		}
		o.setMode(domain.VoiceMode)
		o.startVoiceSession()
		o.logger.Info("voice mode on")
		if o.status == domain.StatusIdle {
			o.enterListening()
		}
		return nil
	}

	if o.mode == domain.TextMode {
		return nil
	}
	o.setMode(domain.TextMode)
	o.stopVoiceSession()
	o.stopSpeaking()
	o.logger.Info("voice mode off", "status", o.status.String())
	switch o.status {
	case domain.StatusListening, domain.StatusNoSpeech, domain.StatusSpeaking:
		o.setStatus(domain.StatusIdle)
	}
	return nil
}

func (o *Orchestrator) startVoiceSession() {
	o.nextSession++
	ctx, cancel := context.WithCancel(o.runCtx)
	vs := &voiceSession{
		id:     o.nextSession,
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(chan voiceJob, 1),
		prev:   o.lastVoiceExit,
		exited: make(chan struct{}),
	}
	o.voice = vs
	o.lastVoiceExit = vs.exited
	o.wg.Go(func() { o.voiceLoop(vs) })
}

func (o *Orchestrator) stopVoiceSession() {
	if o.voice == nil {
		return
	}
	o.voice.cancel()
	o.voice = nil
	o.cancelCapture()
}

// cancelCapture abandons the current capture grant, if any. Its result still
// comes back and is discarded.
func (o *Orchestrator) cancelCapture() {
	if o.captureCancel != nil {
		o.captureCancel()
		o.captureCancel = nil
	}
}

// enterListening moves to Listening and grants the voice loop one capture.
func (o *Orchestrator) enterListening() {
	if o.voice == nil {
		o.setStatus(domain.StatusIdle)
		return
	}
	o.setStatus(domain.StatusListening)
	o.cancelCapture()
	o.grantSeq++
	ctx, cancel := context.WithCancel(o.voice.ctx)
	o.captureCancel = cancel
	o.submit(voiceJob{kind: jobCapture, seq: o.grantSeq, ctx: ctx})
}

// submit hands the voice loop its next job, replacing one it has not
// picked up yet.
func (o *Orchestrator) submit(job voiceJob) {
	select {
	case <-o.voice.jobs:
	default:
	}
	o.voice.jobs <- job
}

// voiceLoop runs jobs one at a time until its session ends.
func (o *Orchestrator) voiceLoop(vs *voiceSession) {
	defer close(vs.exited)
	if vs.prev != nil {
		<-vs.prev
	}
	for {
		select {
		case <-vs.ctx.Done():
			return
		case job := <-vs.jobs:
			if !o.runJob(vs, job) {
				return
			}
		}
	}
}

// runJob performs job and reports its outcome. It returns false once the
// session has ended.
func (o *Orchestrator) runJob(vs *voiceSession, job voiceJob) bool {
	if job.kind == jobSpeak {
		err := job.ctx.Err()
		if err == nil {
			err = o.synth.Speak(job.ctx, job.text)
		}
		select {
		case o.spoken <- speechResult{seq: job.seq, err: err}:
			return true
		case <-vs.ctx.Done():
			return false
		}
	}

	res := captureResult{session: vs.id, grant: job.seq, err: job.ctx.Err()}
	if res.err == nil {
		res.text, res.err = o.listen(job.ctx)
	}
	select {
	case o.captures <- res:
		return true
	case <-vs.ctx.Done():
		return false
	}
}

func (o *Orchestrator) listen(ctx context.Context) (string, error) {
	if o.captureTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.captureTimeout)
		defer cancel()
	}
	start := time.Now()
	defer func() { metrics.CaptureLatency.Observe(time.Since(start).Seconds()) }()
	return o.capture.Listen(ctx)
}

func (o *Orchestrator) handleCapture(r captureResult) {
	if o.voice == nil || r.session != o.voice.id || r.grant != o.grantSeq {
		o.logger.Debug("discarding stale capture", "session", r.session, "grant", r.grant)
		return
	}
	o.cancelCapture()
	if o.status != domain.StatusListening {
		o.logger.Debug("discarding capture after leaving listening", "status", o.status.String())
		return
	}

	text := strings.TrimSpace(r.text)
	if r.err != nil || text == "" {
		metrics.NoSpeechTotal.Inc()
		if r.err != nil {
			o.logger.Debug("capture heard nothing", "err", r.err)
		}
		o.setStatus(domain.StatusNoSpeech)
		o.scheduleResume(o.voice)
		return
	}

	o.logger.Info("speech recognized", "content_len", len(text))
	if err := o.dispatch(text); err != nil {
		o.logger.Warn("cannot dispatch recognized speech", "err", err)
		o.enterListening()
	}
}

// scheduleResume returns the session to Listening after listenPause.
func (o *Orchestrator) scheduleResume(vs *voiceSession) {
	pause := o.listenPause
	o.wg.Go(func() {
		t := time.NewTimer(pause)
		defer t.Stop()
		select {
		case <-t.C:
		case <-vs.ctx.Done():
			return
		}
		select {
		case o.resumes <- vs.id:
		case <-vs.ctx.Done():
		}
	})
}
