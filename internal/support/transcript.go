package support

import (
	"fmt"
	"sync"
	"time"
)

// Role tags a transcript line with its origin.
type Role string

const (
	// RoleSystem marks lines produced locally or by server notices.
	RoleSystem Role = "SYSTEM"
	// RoleAgent marks the agent's own chat lines echoed back by the broker.
	RoleAgent Role = "AGENT"
	// RoleUser marks the end user's chat lines.
	RoleUser Role = "USER"
	// RoleUnknown marks chat lines whose role tag was absent.
	RoleUnknown Role = "UNKNOWN"
	// RoleRaw marks inbound payloads that failed to parse, kept verbatim.
	RoleRaw Role = "RAW"
)

// Line is one transcript entry.
type Line struct {
	Role Role      `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// String renders the line the way the console prints it.
func (l Line) String() string {
	switch l.Role {
	case RoleSystem:
		return "[SYS] " + l.Text
	case RoleAgent:
		return "[me] " + l.Text
	case RoleRaw:
		return "[RAW] " + l.Text
	default:
		return fmt.Sprintf("[%s] %s", l.Role, l.Text)
	}
}

// Transcript is the append-only session log. Lines are ordered by handler
// execution; there is no edit or single-line delete, only a bulk Clear.
type Transcript struct {
	mu    sync.Mutex
	lines []Line
	now   func() time.Time
}

// NewTranscript returns an empty transcript. now may be nil.
func NewTranscript(now func() time.Time) *Transcript {
	if now == nil {
		now = time.Now
	}
	return &Transcript{now: now}
}

// Append adds a line and returns it.
func (t *Transcript) Append(role Role, text string) Line {
	t.mu.Lock()
	defer t.mu.Unlock()
	line := Line{Role: role, Text: text, At: t.now()}
	t.lines = append(t.lines, line)
	return line
}

// Lines returns a copy of all lines in order.
func (t *Transcript) Lines() []Line {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Line, len(t.lines))
	copy(out, t.lines)
	return out
}

// Len returns the number of lines.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.lines)
}

// Clear removes every line.
func (t *Transcript) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = nil
}

// Restore replaces the transcript contents, used when reloading a persisted
// session.
func (t *Transcript) Restore(lines []Line) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = make([]Line, len(lines))
	copy(t.lines, lines)
}
