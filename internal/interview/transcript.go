// Package interview holds the shared records of one visa interview: the
// append-only transcript, the uploaded document set, the plain-text export and
// the phrase tables that turn officer text into control signals.
package interview

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Role identifies who spoke a transcript entry.
type Role string

const (
	RoleApplicant   Role = "applicant"
	RoleInterviewer Role = "interviewer"
)

// Label is the speaker name used in the exported transcript.
func (r Role) Label() string {
	switch r {
	case RoleApplicant:
		return "Applicant"
	case RoleInterviewer:
		return "Consular Officer"
	default:
		return string(r)
	}
}

// ParseRole maps wire role names onto a Role. Both the chat-completion names
// ("user", "assistant") and the interview names are accepted.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "user", "applicant":
		return RoleApplicant, nil
	case "assistant", "interviewer", "officer":
		return RoleInterviewer, nil
	default:
		return "", fmt.Errorf("interview: unknown role %q", s)
	}
}

// Entry is one immutable line of the transcript.
type Entry struct {
	Role     Role      `json:"role"`
	Text     string    `json:"text"`
	Sequence int       `json:"sequence"`
	At       time.Time `json:"at"`
}

// Transcript is the append-only record of what was said. Sequence numbers
// start at 0 and always equal the entry's position.
//
// All methods are safe for concurrent use.
type Transcript struct {
	mu      sync.Mutex
	entries []Entry
	now     func() time.Time
}

// NewTranscript returns an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{now: time.Now}
}

// Append records a new entry and returns it.
func (t *Transcript) Append(role Role, text string) Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now
	if t.now != nil {
		now = t.now
	}
	e := Entry{
		Role:     role,
		Text:     text,
		Sequence: len(t.entries),
		At:       now(),
	}
	t.entries = append(t.entries, e)
	return e
}

// Snapshot returns a copy of all entries taken atomically.
func (t *Transcript) Snapshot() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len returns the number of entries.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// FromHistory builds a stand-alone entry list from wire history, numbering
// the entries in order. It is used by stateless callers that send the whole
// conversation with every request.
func FromHistory(history []HistoryMessage) ([]Entry, error) {
	out := make([]Entry, 0, len(history))
	for i, m := range history {
		role, err := ParseRole(m.Role)
		if err != nil {
			return nil, fmt.Errorf("interview: history entry %d: %w", i, err)
		}
		out = append(out, Entry{Role: role, Text: m.Content, Sequence: i})
	}
	return out, nil
}

// HistoryMessage is the wire shape of one conversation turn.
type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Filter returns the entries spoken by role, in order.
func Filter(entries []Entry, role Role) []Entry {
	var out []Entry
	for _, e := range entries {
		if e.Role == role {
			out = append(out, e)
		}
	}
	return out
}
