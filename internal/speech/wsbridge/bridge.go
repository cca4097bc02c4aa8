// Package wsbridge connects a browser speech adapter to an interview session
// over a WebSocket.
//
// The browser owns the microphone and the speech synthesiser. The bridge
// translates the session's capture and playback requests into JSON frames
// ("listen", "speak", ...) and feeds the browser's recognition events back
// into the session. One bridge serves exactly one session; when the socket
// closes the interview ends.
package wsbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/visaroom/internal/decision"
	"github.com/MrWong99/visaroom/internal/interview"
	"github.com/MrWong99/visaroom/internal/observe"
	"github.com/MrWong99/visaroom/internal/session"
)

// writeTimeout bounds a single frame write.
const writeTimeout = 5 * time.Second

// ErrClosed is returned by adapter calls after the socket closed.
var ErrClosed = errors.New("wsbridge: connection closed")

// Controller is the part of [session.Controller] the bridge drives.
type Controller interface {
	ID() string
	Connect(session.Adapter) error
	Start() error
	HandleSegment(id uint64, text string, final bool)
	HandleCaptureEnd(id uint64, reason string)
	HandleCaptureError(id uint64, err error)
	Pause() error
	Resume() error
	Retry() error
	End()
	Verdict() (decision.Verdict, error)
	Done() <-chan struct{}
}

var _ Controller = (*session.Controller)(nil)

// Bridge implements [session.Adapter] on top of a WebSocket connection.
type Bridge struct {
	conn    *websocket.Conn
	ctrl    Controller
	log     *slog.Logger
	metrics *observe.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	queue    []Message
	wake     chan struct{}
	closing  bool
	speechID uint64
	pending  map[uint64]chan struct{}
}

var _ session.Adapter = (*Bridge)(nil)

// Option configures a [Bridge].
type Option func(*Bridge)

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(b *Bridge) { b.metrics = m }
}

// Serve attaches conn to ctrl and pumps frames until the socket closes or ctx
// is done. A client that goes away ends the interview.
func Serve(ctx context.Context, conn *websocket.Conn, ctrl Controller, opts ...Option) error {
	b := &Bridge{
		conn:    conn,
		ctrl:    ctrl,
		log:     observe.SessionLogger(ctx, ctrl.ID()),
		wake:    make(chan struct{}, 1),
		pending: make(map[uint64]chan struct{}),
	}
	for _, o := range opts {
		o(b)
	}
	if b.metrics == nil {
		b.metrics = observe.DefaultMetrics()
	}

	if err := ctrl.Connect(b); err != nil {
		conn.Close(websocket.StatusPolicyViolation, "session already connected")
		return fmt.Errorf("wsbridge: connect: %w", err)
	}

	b.metrics.ActiveBridges.Add(ctx, 1)
	defer b.metrics.ActiveBridges.Add(context.WithoutCancel(ctx), -1)

	g, gctx := errgroup.WithContext(ctx)
	b.ctx, b.cancel = context.WithCancel(gctx)
	defer b.cancel()

	g.Go(b.writeLoop)
	g.Go(b.readLoop)
	g.Go(b.watchEnd)

	err := g.Wait()
	ctrl.End()
	b.log.Info("speech bridge closed", "error", err)

	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

// ── session.Adapter ─────────────────────────────────────────────────────────

// StartCapture asks the browser to start recognition.
func (b *Bridge) StartCapture(id uint64) error {
	if !b.enqueue(Message{Type: TypeListen, Capture: id}) {
		return ErrClosed
	}
	return nil
}

// StopCapture asks the browser to stop recognition.
func (b *Bridge) StopCapture(id uint64) {
	b.enqueue(Message{Type: TypeStopListening, Capture: id})
}

// Speak sends text for synthesis and waits for the matching playback_done.
func (b *Bridge) Speak(ctx context.Context, text string) error {
	b.mu.Lock()
	b.speechID++
	id := b.speechID
	done := make(chan struct{})
	b.pending[id] = done
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
	}()

	if !b.enqueue(Message{Type: TypeSpeak, ID: id, Text: text}) {
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		b.enqueue(Message{Type: TypeCancelSpeech, ID: id})
		return ctx.Err()
	case <-b.ctx.Done():
		return ErrClosed
	}
}

// StateChanged forwards the session state.
func (b *Bridge) StateChanged(s session.State) {
	b.enqueue(Message{Type: TypeState, State: s.String()})
}

// EntryAdded forwards a new transcript line.
func (b *Bridge) EntryAdded(e interview.Entry) {
	seq := e.Sequence
	b.enqueue(Message{Type: TypeTranscript, Role: string(e.Role), Text: e.Text, Sequence: &seq})
}

// Notice forwards an applicant-visible notice.
func (b *Bridge) Notice(n session.Notice) {
	b.enqueue(Message{Type: TypeNotice, Message: n.Message, Retry: n.Retry})
}

// ── pumps ───────────────────────────────────────────────────────────────────

// enqueue appends m to the outbound queue without blocking. It reports false
// once the bridge is shutting down.
func (b *Bridge) enqueue(m Message) bool {
	b.mu.Lock()
	if b.closing {
		b.mu.Unlock()
		return false
	}
	b.queue = append(b.queue, m)
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
	return true
}

func (b *Bridge) writeLoop() error {
	for {
		select {
		case <-b.ctx.Done():
			return b.ctx.Err()
		case <-b.wake:
		}

		b.mu.Lock()
		batch := b.queue
		b.queue = nil
		b.mu.Unlock()

		for _, m := range batch {
			if err := b.write(m); err != nil {
				return err
			}
		}
	}
}

func (b *Bridge) write(m Message) error {
	ctx, cancel := context.WithTimeout(b.ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, b.conn, m); err != nil {
		return fmt.Errorf("wsbridge: write %s: %w", m.Type, err)
	}
	return nil
}

func (b *Bridge) readLoop() error {
	for {
		var m Message
		if err := wsjson.Read(b.ctx, b.conn, &m); err != nil {
			b.mu.Lock()
			b.closing = true
			b.mu.Unlock()
			return err
		}
		b.dispatch(m)
	}
}

// watchEnd sends the verdict once the interview is over.
func (b *Bridge) watchEnd() error {
	select {
	case <-b.ctx.Done():
		return nil
	case <-b.ctrl.Done():
	}
	v, err := b.ctrl.Verdict()
	if err != nil {
		b.log.Error("verdict unavailable", "error", err)
		return nil
	}
	b.enqueue(Message{Type: TypeVerdict, Verdict: &v})
	return nil
}

func (b *Bridge) dispatch(m Message) {
	var err error
	switch m.Type {
	case TypeStart:
		err = b.ctrl.Start()
	case TypeSegment:
		b.ctrl.HandleSegment(m.Capture, m.Text, m.Final)
	case TypeCaptureEnd:
		b.ctrl.HandleCaptureEnd(m.Capture, m.Reason)
	case TypeCaptureError:
		b.ctrl.HandleCaptureError(m.Capture, errors.New(m.Message))
	case TypePlaybackDone:
		b.mu.Lock()
		if done, ok := b.pending[m.ID]; ok {
			close(done)
			delete(b.pending, m.ID)
		}
		b.mu.Unlock()
	case TypePause:
		err = b.ctrl.Pause()
	case TypeResume:
		err = b.ctrl.Resume()
	case TypeRetry:
		err = b.ctrl.Retry()
	case TypeEnd:
		b.ctrl.End()
	default:
		err = fmt.Errorf("unknown message type %q", m.Type)
	}
	if err != nil {
		b.log.Debug("client message rejected", "type", m.Type, "error", err)
		b.enqueue(Message{Type: TypeError, Message: err.Error()})
	}
}
