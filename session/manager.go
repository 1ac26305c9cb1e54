package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fleetsense/fleetsense/agent"
	ferrors "github.com/fleetsense/fleetsense/errors"
	"github.com/fleetsense/fleetsense/memory"
	"github.com/fleetsense/fleetsense/pkg/logging"
	"github.com/fleetsense/fleetsense/risk"
)

// Store is the persistence interface for session records.
type Store interface {
	Save(ctx context.Context, record *Record) error
	Load(ctx context.Context, id string) (*Record, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]string, error)
	Count(ctx context.Context) (int, error)
}

// Manager owns session lifecycle: creation, per-session exclusion,
// persistence, and idle reaping. Reaped session IDs are tombstoned so
// an expired identifier is reported as expired, never silently
// recreated.
type Manager struct {
	mu          sync.RWMutex
	store       Store
	handles     map[string]*Handle
	tombstones  map[string]time.Time
	summarizer  memory.Summarizer
	window      int
	idleTimeout time.Duration
	logger      *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithSummarizer sets the summarizer wired into each session's memory.
func WithSummarizer(s memory.Summarizer) Option {
	return func(m *Manager) { m.summarizer = s }
}

// WithRetentionWindow sets how many verbatim turns each session keeps.
func WithRetentionWindow(n int) Option {
	return func(m *Manager) { m.window = n }
}

// WithIdleTimeout sets how long a session may idle before reaping.
func WithIdleTimeout(d time.Duration) Option {
	return func(m *Manager) { m.idleTimeout = d }
}

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager creates a session manager over the given store.
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:       store,
		handles:     make(map[string]*Handle),
		tombstones:  make(map[string]time.Time),
		window:      10,
		idleTimeout: 30 * time.Minute,
		logger:      logging.WithComponent("session_manager"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create starts a new session around a validated assessment and
// persists its initial record. The handle is returned unlocked.
func (m *Manager) Create(ctx context.Context, assessment risk.Assessment) (*Handle, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	record := &Record{
		ID:         id,
		Assessment: assessment.Clone(),
		Phase:      agent.PhaseInit,
		CreatedAt:  now,
		LastActive: now,
	}
	h := &Handle{
		Record: record,
		Memory: memory.New(id, m.window, m.summarizer),
	}

	if err := m.store.Save(ctx, record.Clone()); err != nil {
		return nil, fmt.Errorf("persist new session: %w", err)
	}

	m.mu.Lock()
	m.handles[id] = h
	m.mu.Unlock()

	m.logger.Info("session created", "id", id, "vehicle", assessment.VehicleID)
	return h, nil
}

// Acquire locks the session for exclusive use and returns its handle.
// Callers must pair it with Release. Unknown IDs return
// ErrSessionNotFound; reaped IDs return ErrSessionExpired.
func (m *Manager) Acquire(ctx context.Context, id string) (*Handle, error) {
	h, err := m.lookup(ctx, id)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	if h.reaped {
		h.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ferrors.ErrSessionExpired, id)
	}
	h.Touch()
	return h, nil
}

// Release persists the session and drops its exclusive lock.
func (m *Manager) Release(ctx context.Context, h *Handle) error {
	h.Touch()
	record := h.snapshot()
	h.mu.Unlock()

	if err := m.store.Save(ctx, record); err != nil {
		m.logger.Error("persist session failed", "id", record.ID, "error", err)
		return fmt.Errorf("persist session: %w", err)
	}
	return nil
}

// Peek returns a copy of the session record without locking the
// session. Suitable for read-only report fetches.
func (m *Manager) Peek(ctx context.Context, id string) (*Record, error) {
	h, err := m.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.reaped {
		return nil, fmt.Errorf("%w: %s", ferrors.ErrSessionExpired, id)
	}
	return h.snapshot(), nil
}

func (m *Manager) lookup(ctx context.Context, id string) (*Handle, error) {
	m.mu.RLock()
	if _, dead := m.tombstones[id]; dead {
		m.mu.RUnlock()
		return nil, fmt.Errorf("%w: %s", ferrors.ErrSessionExpired, id)
	}
	h, ok := m.handles[id]
	m.mu.RUnlock()
	if ok {
		return h, nil
	}

	// Rehydrate from the store.
	record, err := m.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dead := m.tombstones[id]; dead {
		return nil, fmt.Errorf("%w: %s", ferrors.ErrSessionExpired, id)
	}
	if existing, ok := m.handles[id]; ok {
		return existing, nil
	}
	h = &Handle{
		Record: record,
		Memory: memory.Restore(id, m.window, m.summarizer, record.Summary, record.Turns),
	}
	m.handles[id] = h
	m.logger.Info("session rehydrated", "id", id)
	return h, nil
}

// tombstoneHorizon is how long a reaped session ID stays tombstoned.
// Long enough that any caller still holding the ID sees "expired"
// rather than "not found", short enough that the map does not grow
// without bound.
const tombstoneHorizon = 24 * time.Hour

// Reap removes sessions idle past the timeout. A session whose lock is
// held is mid-execution and is skipped; it will be considered on the
// next sweep. Tombstones older than the horizon are dropped.
func (m *Manager) Reap(ctx context.Context, now time.Time) int {
	m.mu.RLock()
	candidates := make([]*Handle, 0, len(m.handles))
	for _, h := range m.handles {
		candidates = append(candidates, h)
	}
	m.mu.RUnlock()

	reaped := 0
	for _, h := range candidates {
		if !h.mu.TryLock() {
			continue
		}
		id := h.Record.ID
		idle := now.Sub(h.Record.LastActive)
		if h.reaped || idle < m.idleTimeout {
			h.mu.Unlock()
			continue
		}
		h.reaped = true
		h.mu.Unlock()

		m.mu.Lock()
		delete(m.handles, id)
		m.tombstones[id] = now
		m.mu.Unlock()

		if err := m.store.Delete(ctx, id); err != nil {
			m.logger.Warn("delete reaped session from store failed", "id", id, "error", err)
		}
		m.logger.Info("session reaped", "id", id, "idle", idle)
		reaped++
	}

	m.mu.Lock()
	for id, ts := range m.tombstones {
		if now.Sub(ts) > tombstoneHorizon {
			delete(m.tombstones, id)
		}
	}
	m.mu.Unlock()

	return reaped
}

// StartReaper sweeps for idle sessions on the interval until the
// context is cancelled.
func (m *Manager) StartReaper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				m.Reap(ctx, now.UTC())
			}
		}
	}()
}

// Count reports how many sessions the store holds.
func (m *Manager) Count(ctx context.Context) (int, error) {
	return m.store.Count(ctx)
}

// List returns all known session IDs.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	return m.store.List(ctx)
}
