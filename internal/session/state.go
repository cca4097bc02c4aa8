// Package session runs one live interview: it owns the transcript and the
// document set, drives the speech adapter, and moves the interview through
// its states from the first greeting to the verdict.
//
// The [Controller] is event driven. Adapter callbacks, exchange completions,
// playback completions and restart timers all resume it under a single mutex,
// and every continuation re-checks the state and generation it was issued for
// so that a newer pause or end always wins.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/visaroom/internal/exchange"
	"github.com/MrWong99/visaroom/internal/interview"
)

// State is the interview lifecycle state.
type State int

const (
	// StateIdle is a created session without a connected speech adapter.
	StateIdle State = iota
	// StateConnected has an adapter attached; the greeting may be playing.
	StateConnected
	// StateListening waits for (or is in the middle of) an applicant capture.
	StateListening
	// StateAwaitingReply has submitted an utterance and waits for the officer.
	StateAwaitingReply
	// StateSpeaking is playing the officer's reply.
	StateSpeaking
	// StateEnded is terminal.
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnected:
		return "connected"
	case StateListening:
		return "listening"
	case StateAwaitingReply:
		return "awaiting_reply"
	case StateSpeaking:
		return "speaking"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	for st := StateIdle; st <= StateEnded; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("session: unknown state %q", text)
}

var (
	// ErrInvalidTransition is returned when an operation is not valid in the
	// current state.
	ErrInvalidTransition = errors.New("session: invalid state transition")

	// ErrEnded is returned by operations that need a running interview.
	ErrEnded = errors.New("session: interview has ended")

	// ErrNotEnded is returned by Verdict before the interview ended.
	ErrNotEnded = errors.New("session: interview has not ended")
)

// Recognizer is the capture side of the speech adapter. Captures are numbered
// by the controller; events reported back for an older capture are ignored.
//
// Implementations must not call back into the controller synchronously.
type Recognizer interface {
	StartCapture(id uint64) error
	StopCapture(id uint64)
}

// Speaker plays officer replies. Speak blocks until playback finished or ctx
// is done. A playback error counts as a finished playback.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// Notifier receives controller events for display. Calls are made while the
// controller holds its lock, in order, and must not block or call back.
type Notifier interface {
	StateChanged(State)
	EntryAdded(interview.Entry)
	Notice(Notice)
}

// Adapter bundles the speech adapter capabilities attached on Connect.
type Adapter interface {
	Recognizer
	Speaker
	Notifier
}

// Replier produces the officer's next line. [*exchange.Client] implements it.
type Replier interface {
	Reply(ctx context.Context, req exchange.Request) (string, error)
}

var _ Replier = (*exchange.Client)(nil)

// Corrector rewrites recognition errors in an utterance before it is recorded.
type Corrector interface {
	Correct(text string) string
}

// Notice is a transient, applicant-visible message that is not part of the
// transcript.
type Notice struct {
	Message string    `json:"message"`
	Retry   bool      `json:"retry"`
	At      time.Time `json:"at"`
}
