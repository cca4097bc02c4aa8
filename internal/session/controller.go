package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/MrWong99/visaroom/internal/decision"
	"github.com/MrWong99/visaroom/internal/exchange"
	"github.com/MrWong99/visaroom/internal/interview"
	"github.com/MrWong99/visaroom/internal/observe"
)

// Default timings.
const (
	DefaultRestartDelay  = 500 * time.Millisecond
	DefaultRelistenDelay = 800 * time.Millisecond
)

// minUtteranceRunes is the shortest utterance that is sent to the officer.
const minUtteranceRunes = 3

// DocumentsNotice is recorded as an applicant turn when documents arrive
// during a running interview.
const DocumentsNotice = "I have uploaded the requested documents."

// Config holds the dependencies of a [Controller]. Replier is required.
type Config struct {
	// ID identifies the session in logs.
	ID string

	// Replier answers applicant turns.
	Replier Replier

	// Corrector, if set, repairs each utterance before it is recorded.
	Corrector Corrector

	// Documents is the initial document set.
	Documents interview.DocumentSet

	// Decision tunes the verdict.
	Decision decision.Options

	// SkipGreeting starts listening without the opening officer turn.
	SkipGreeting bool

	// RestartDelay is the pause before an unproductive capture is re-armed.
	// Defaults to 500ms.
	RestartDelay time.Duration

	// RelistenDelay is the pause between the end of officer speech and the
	// next capture. Defaults to 800ms.
	RelistenDelay time.Duration

	// Metrics receives turn and capture counters. Defaults to
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Now returns the wall clock for the time-of-day greeting. Defaults to
	// time.Now.
	Now func() time.Time
}

// Controller is the state machine of one interview. All methods are safe for
// concurrent use.
type Controller struct {
	id            string
	replier       Replier
	corrector     Corrector
	decisionOpts  decision.Options
	skipGreeting  bool
	restartDelay  time.Duration
	relistenDelay time.Duration
	metrics       *observe.Metrics
	now           func() time.Time
	log           *slog.Logger
	transcript    *interview.Transcript

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	state     State
	gen       uint64 // bumped on every state change
	adapter   Adapter
	docs      interview.DocumentSet
	paused    bool
	captureID uint64 // id of the most recent capture
	capturing bool
	finals    []string
	timer     *time.Timer
	notices   []Notice
	verdict   *decision.Verdict
}

// New returns a Controller in [StateIdle].
func New(cfg Config) (*Controller, error) {
	if cfg.Replier == nil {
		return nil, errors.New("session: Replier must not be nil")
	}
	c := &Controller{
		id:            cfg.ID,
		replier:       cfg.Replier,
		corrector:     cfg.Corrector,
		decisionOpts:  cfg.Decision,
		skipGreeting:  cfg.SkipGreeting,
		restartDelay:  cfg.RestartDelay,
		relistenDelay: cfg.RelistenDelay,
		metrics:       cfg.Metrics,
		now:           cfg.Now,
		transcript:    interview.NewTranscript(),
		docs:          cfg.Documents.Clone(),
		done:          make(chan struct{}),
	}
	if c.restartDelay <= 0 {
		c.restartDelay = DefaultRestartDelay
	}
	if c.relistenDelay <= 0 {
		c.relistenDelay = DefaultRelistenDelay
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	if c.now == nil {
		c.now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.ctx, c.cancel = observe.WithSession(ctx, c.id), cancel
	c.log = observe.Logger(c.ctx)
	return c, nil
}

// ID returns the session identifier.
func (c *Controller) ID() string { return c.id }

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Transcript returns a snapshot of the transcript.
func (c *Controller) Transcript() []interview.Entry {
	return c.transcript.Snapshot()
}

// Documents returns a copy of the current document set.
func (c *Controller) Documents() interview.DocumentSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.docs.Clone()
}

// Notices returns the notices raised so far.
func (c *Controller) Notices() []Notice {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Notice, len(c.notices))
	copy(out, c.notices)
	return out
}

// Paused reports whether the operator paused capture.
func (c *Controller) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Done is closed once the interview has ended.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Connect attaches the speech adapter. Idle → Connected.
func (c *Controller) Connect(a Adapter) error {
	if a == nil {
		return errors.New("session: adapter must not be nil")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return fmt.Errorf("%w: connect from %s", ErrInvalidTransition, c.state)
	}
	c.adapter = a
	c.setStateLocked(StateConnected)
	return nil
}

// Start opens the interview. The greeting is recorded and played while
// Connected; listening begins after the re-listen delay once it finished.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		return fmt.Errorf("%w: start from %s", ErrInvalidTransition, c.state)
	}
	if c.skipGreeting || c.transcript.Len() > 0 {
		c.setStateLocked(StateListening)
		c.scheduleArmLocked(c.relistenDelay)
		return nil
	}

	text := Greeting(c.now())
	c.appendLocked(interview.RoleInterviewer, text)
	go c.play(c.gen, StateConnected, text)
	return nil
}

// Greeting returns the opening officer line for the time of day at t.
func Greeting(t time.Time) string {
	var tod string
	switch h := t.Hour(); {
	case h >= 5 && h < 12:
		tod = "Good morning"
	case h >= 12 && h < 17:
		tod = "Good afternoon"
	default:
		tod = "Good evening"
	}
	return tod + ". Please have a seat. I'm the consular officer who will be conducting your visa interview today. " +
		"Before we begin, which country are you applying to visit, and what type of visa are you applying for?"
}

// HandleSegment buffers one recognition segment of capture id. Only final
// segments contribute to the utterance.
func (c *Controller) HandleSegment(id uint64, text string, final bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.activeCaptureLocked(id) || !final {
		return
	}
	if t := strings.TrimSpace(text); t != "" {
		c.finals = append(c.finals, t)
	}
}

// HandleCaptureEnd ends capture id. A usable utterance is submitted; anything
// else is discarded and capture is re-armed after the restart delay.
func (c *Controller) HandleCaptureEnd(id uint64, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.activeCaptureLocked(id) {
		return
	}
	c.finishCaptureLocked(reason)
}

// HandleCaptureError ends capture id after a recognizer failure. It is
// handled like an end of capture.
func (c *Controller) HandleCaptureError(id uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.activeCaptureLocked(id) {
		return
	}
	c.log.Warn("capture failed", "capture", id, "error", err)
	c.finishCaptureLocked("error")
}

// Pause stops the active capture and keeps capture from being re-armed until
// Resume or Retry.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateEnded {
		return ErrEnded
	}
	c.paused = true
	c.stopTimerLocked()
	c.stopCaptureLocked()
	return nil
}

// Resume lifts a pause and re-arms capture if Listening.
func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateEnded {
		return ErrEnded
	}
	c.paused = false
	if c.state == StateListening && !c.capturing {
		c.armLocked()
	}
	return nil
}

// Retry re-arms capture after a failed exchange. It is only valid while
// Listening.
func (c *Controller) Retry() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateListening {
		return fmt.Errorf("%w: retry from %s", ErrInvalidTransition, c.state)
	}
	c.paused = false
	if !c.capturing {
		c.stopTimerLocked()
		c.armLocked()
	}
	return nil
}

// AddDocuments merges docs into the document set. While the interview runs
// the upload is also recorded as an applicant turn.
func (c *Controller) AddDocuments(docs interview.DocumentSet) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateEnded {
		return ErrEnded
	}
	c.docs = c.docs.Merge(docs)

	switch c.state {
	case StateListening, StateAwaitingReply, StateSpeaking:
		c.appendLocked(interview.RoleApplicant, DocumentsNotice)
		if c.state == StateListening && !c.capturing && !c.paused {
			c.scheduleArmLocked(c.relistenDelay)
		}
	}
	return nil
}

// End stops the interview from any state. In-flight capture, exchange and
// playback are cancelled; their completions are discarded. End is idempotent.
func (c *Controller) End() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endLocked("operator")
}

// Verdict evaluates the ended interview. The result is computed once; each
// call returns its own copy.
func (c *Controller) Verdict() (decision.Verdict, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateEnded {
		return decision.Verdict{}, ErrNotEnded
	}
	if c.verdict == nil {
		v := decision.Evaluate(c.transcript.Snapshot(), c.docs, c.decisionOpts)
		c.verdict = &v
		c.metrics.RecordVerdict(c.ctx, string(v.Decision))
		c.log.Info("verdict", "decision", v.Decision, "score", v.Score)
	}
	return c.verdict.Clone(), nil
}

// ── internals ───────────────────────────────────────────────────────────────
// Everything below that ends in Locked must be called with c.mu held.

func (c *Controller) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.log.Debug("state changed", "from", c.state, "to", s)
	c.state = s
	c.gen++
	if c.adapter != nil {
		c.adapter.StateChanged(s)
	}
}

func (c *Controller) appendLocked(role interview.Role, text string) interview.Entry {
	e := c.transcript.Append(role, text)
	c.metrics.RecordTurn(c.ctx, string(role))
	if c.adapter != nil {
		c.adapter.EntryAdded(e)
	}
	return e
}

func (c *Controller) activeCaptureLocked(id uint64) bool {
	return c.capturing && id == c.captureID && c.state == StateListening
}

func (c *Controller) finishCaptureLocked(reason string) {
	c.capturing = false
	utterance := strings.TrimSpace(strings.Join(c.finals, " "))
	c.finals = nil

	if utf8.RuneCountInString(utterance) >= minUtteranceRunes {
		c.submitLocked(utterance)
		return
	}
	if c.paused {
		return
	}
	c.metrics.RecordCaptureRestart(c.ctx, reason)
	c.scheduleArmLocked(c.restartDelay)
}

// submitLocked records utterance as spoken. Corrections only reach the
// officer's copy of the history; the transcript the verdict reads stays raw.
func (c *Controller) submitLocked(utterance string) {
	e := c.appendLocked(interview.RoleApplicant, utterance)
	c.setStateLocked(StateAwaitingReply)

	history := c.transcript.Snapshot()
	if c.corrector != nil {
		if fixed := c.corrector.Correct(utterance); fixed != utterance {
			c.log.Debug("utterance corrected for the officer", "from", utterance, "to", fixed)
			history[e.Sequence].Text = fixed
		}
	}
	req := exchange.Request{
		Documents: c.docs.Clone(),
		History:   history,
	}
	go c.exchange(c.gen, req)
}

// exchange runs outside the lock and resumes the controller with the reply.
func (c *Controller) exchange(gen uint64, req exchange.Request) {
	reply, err := c.replier.Reply(c.ctx, req)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || c.state != StateAwaitingReply {
		c.log.Debug("discarding stale reply", "state", c.state)
		return
	}

	if err != nil {
		c.log.Warn("officer reply failed", "error", err)
		c.setStateLocked(StateSpeaking)
		go c.announceFailure(c.gen, Notice{Message: exchange.UserMessage(err), Retry: true, At: c.now()})
		return
	}

	c.appendLocked(interview.RoleInterviewer, reply)
	c.setStateLocked(StateSpeaking)
	go c.play(c.gen, StateSpeaking, reply)
}

// play speaks text outside the lock. from is the state the playback belongs
// to; when it finished the controller either ends the interview or listens
// again.
func (c *Controller) play(gen uint64, from State, text string) {
	c.mu.Lock()
	adapter := c.adapter
	c.mu.Unlock()

	if err := adapter.Speak(c.ctx, text); err != nil && c.ctx.Err() == nil {
		c.log.Warn("playback failed", "error", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || c.state != from {
		return
	}
	if from == StateSpeaking && interview.IsEnding(text) {
		c.endLocked("decision")
		return
	}
	c.setStateLocked(StateListening)
	c.scheduleArmLocked(c.relistenDelay)
}

// announceFailure speaks the notice text, then offers the retry. The text is
// not a turn. Capture stays disarmed until Retry or Resume.
func (c *Controller) announceFailure(gen uint64, n Notice) {
	c.mu.Lock()
	adapter := c.adapter
	c.mu.Unlock()

	if adapter != nil {
		if err := adapter.Speak(c.ctx, n.Message); err != nil && c.ctx.Err() == nil {
			c.log.Warn("playback failed", "error", err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.notices = append(c.notices, n)
	if c.gen != gen || c.state != StateSpeaking {
		return
	}
	if c.adapter != nil {
		c.adapter.Notice(n)
	}
	c.setStateLocked(StateListening)
}

func (c *Controller) scheduleArmLocked(delay time.Duration) {
	c.stopTimerLocked()
	gen := c.gen
	c.timer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.gen != gen {
			return
		}
		c.armLocked()
	})
}

func (c *Controller) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) armLocked() {
	if c.state != StateListening || c.paused || c.capturing {
		return
	}
	c.captureID++
	c.capturing = true
	c.finals = nil
	if err := c.adapter.StartCapture(c.captureID); err != nil {
		c.log.Warn("start capture failed", "capture", c.captureID, "error", err)
		c.capturing = false
		c.metrics.RecordCaptureRestart(c.ctx, "start_failed")
		c.scheduleArmLocked(c.restartDelay)
	}
}

func (c *Controller) stopCaptureLocked() {
	if !c.capturing {
		return
	}
	c.capturing = false
	c.finals = nil
	c.adapter.StopCapture(c.captureID)
}

func (c *Controller) endLocked(reason string) {
	if c.state == StateEnded {
		return
	}
	c.stopTimerLocked()
	c.stopCaptureLocked()
	c.setStateLocked(StateEnded)
	c.cancel()
	close(c.done)
	c.log.Info("interview ended", "reason", reason, "turns", c.transcript.Len())
}
