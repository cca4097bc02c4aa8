package wsbridge

import (
	"github.com/MrWong99/visaroom/internal/decision"
)

// Client → server message types.
const (
	TypeStart        = "start"
	TypeSegment      = "segment"
	TypeCaptureEnd   = "capture_end"
	TypeCaptureError = "capture_error"
	TypePlaybackDone = "playback_done"
	TypePause        = "pause"
	TypeResume       = "resume"
	TypeRetry        = "retry"
	TypeEnd          = "end"
)

// Server → client message types.
const (
	TypeListen        = "listen"
	TypeStopListening = "stop_listening"
	TypeSpeak         = "speak"
	TypeCancelSpeech  = "cancel_speech"
	TypeState         = "state"
	TypeNotice        = "notice"
	TypeTranscript    = "transcript"
	TypeVerdict       = "verdict"
	TypeError         = "error"
)

// Message is the JSON frame exchanged with the browser. Type selects which of
// the other fields are meaningful.
type Message struct {
	Type string `json:"type"`

	// Capture numbers a recognition capture (listen, stop_listening, segment,
	// capture_end, capture_error).
	Capture uint64 `json:"capture,omitempty"`

	// ID numbers a playback (speak, cancel_speech, playback_done).
	ID uint64 `json:"id,omitempty"`

	Text     string            `json:"text,omitempty"`
	Final    bool              `json:"final,omitempty"`
	Reason   string            `json:"reason,omitempty"`
	Message  string            `json:"message,omitempty"`
	Retry    bool              `json:"retry,omitempty"`
	State    string            `json:"state,omitempty"`
	Role     string            `json:"role,omitempty"`
	Sequence *int              `json:"sequence,omitempty"`
	Verdict  *decision.Verdict `json:"verdict,omitempty"`
}
