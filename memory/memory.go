package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser   Role = "user"
	RoleAgent  Role = "agent"
	RoleSystem Role = "system"
)

// Turn is one exchange in a session's conversation.
type Turn struct {
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Summarizer folds evicted turns into a rolling summary. prev is the
// summary so far, possibly empty.
type Summarizer interface {
	Summarize(ctx context.Context, prev string, evicted []Turn) (string, error)
}

// SessionMemory keeps the last window turns verbatim and folds older
// turns into a rolling summary. Folding is lazy: evicted turns queue up
// and are summarized only when Context is next assembled, so appends
// never block on a summarization call.
type SessionMemory struct {
	mu         sync.Mutex
	sessionID  string
	window     int
	turns      []Turn
	pending    []Turn
	summary    string
	summarizer Summarizer
}

// New creates memory for a session keeping window verbatim turns.
func New(sessionID string, window int, summarizer Summarizer) *SessionMemory {
	if window < 1 {
		window = 1
	}
	return &SessionMemory{
		sessionID:  sessionID,
		window:     window,
		summarizer: summarizer,
	}
}

// Restore rebuilds memory from persisted state, e.g. when a session is
// rehydrated from its store.
func Restore(sessionID string, window int, summarizer Summarizer, summary string, turns []Turn) *SessionMemory {
	m := New(sessionID, window, summarizer)
	m.summary = summary
	if len(turns) > window {
		m.pending = append(m.pending, turns[:len(turns)-window]...)
		turns = turns[len(turns)-window:]
	}
	m.turns = append(m.turns, turns...)
	return m
}

// Append records a turn, evicting the oldest verbatim turn into the
// pending queue once the window is full.
func (m *SessionMemory) Append(turn Turn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if turn.SessionID == "" {
		turn.SessionID = m.sessionID
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	m.turns = append(m.turns, turn)
	for len(m.turns) > m.window {
		m.pending = append(m.pending, m.turns[0])
		m.turns = m.turns[1:]
	}
}

// Context returns the rolling summary and the verbatim window, folding
// any pending evicted turns into the summary first. If summarization
// fails, a deterministic text fold stands in so context assembly never
// blocks the pipeline.
func (m *SessionMemory) Context(ctx context.Context) (summary string, recent []Turn, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.pending) > 0 {
		folded, ferr := m.fold(ctx, m.summary, m.pending)
		if ferr != nil {
			folded = textFold(m.summary, m.pending)
			err = fmt.Errorf("summarize evicted turns: %w", ferr)
		}
		m.summary = folded
		m.pending = nil
	}

	recent = make([]Turn, len(m.turns))
	copy(recent, m.turns)
	return m.summary, recent, err
}

// Len reports verbatim plus pending turn count.
func (m *SessionMemory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.turns) + len(m.pending)
}

// Summary returns the current rolling summary without folding.
func (m *SessionMemory) Summary() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.summary
}

// Turns returns a copy of the verbatim window.
func (m *SessionMemory) Turns() []Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Turn, len(m.turns))
	copy(out, m.turns)
	return out
}

// Snapshot returns the summary and every held turn, pending evictions
// first. Restore over a snapshot is lossless even when evicted turns
// have not been folded yet.
func (m *SessionMemory) Snapshot() (string, []Turn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Turn, 0, len(m.pending)+len(m.turns))
	out = append(out, m.pending...)
	out = append(out, m.turns...)
	return m.summary, out
}

func (m *SessionMemory) fold(ctx context.Context, prev string, evicted []Turn) (string, error) {
	if m.summarizer == nil {
		return textFold(prev, evicted), nil
	}
	return m.summarizer.Summarize(ctx, prev, evicted)
}

// textFold is the summarizer-free fallback: it appends one compact line
// per evicted turn to the previous summary.
func textFold(prev string, evicted []Turn) string {
	var b strings.Builder
	if prev != "" {
		b.WriteString(prev)
		b.WriteString("\n")
	}
	for i, t := range evicted {
		content := t.Content
		if len(content) > 160 {
			content = content[:157] + "..."
		}
		b.WriteString(string(t.Role))
		b.WriteString(": ")
		b.WriteString(content)
		if i < len(evicted)-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}
