package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound         = errors.New("session not found")
	ErrAlreadyStreaming = errors.New("session already has an active stream")
	ErrPipelineBusy     = errors.New("session pipeline already in flight")
)

// Session is the server-side state for one live websocket connection. It
// exists only in process memory; a reconnect always gets a fresh id.
type Session struct {
	ID                 string    `json:"session_id"`
	UserID             string    `json:"user_id"`
	Streaming          bool      `json:"is_streaming"`
	InterruptRequested bool      `json:"interrupt_requested"`
	InterruptionCount  int       `json:"interruption_count"`
	CreatedAt          time.Time `json:"created_at"`
	LastActivityAt     time.Time `json:"last_activity_at"`

	pipelineBusy bool
}

// Manager owns the live-session map. All flag reads and writes go through
// its methods; no other component touches the map.
type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*Session
	inactivityTimeout time.Duration
	onExpire          func(*Session)
}

func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 2 * time.Minute
	}
	return &Manager{
		sessions:          make(map[string]*Session),
		inactivityTimeout: inactivityTimeout,
	}
}

func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

// Register allocates a new session at websocket accept time.
func (m *Manager) Register(userID string) *Session {
	now := time.Now().UTC()
	s := &Session{
		ID:             uuid.NewString(),
		UserID:         userID,
		CreatedAt:      now,
		LastActivityAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return clone(s)
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

func (m *Manager) Touch(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// TryAcquirePipeline claims the single transcribe->respond->stream slot for
// the session. A second audio_chunk arriving while one pipeline is in flight
// gets ErrPipelineBusy and must never run concurrently with the first.
func (m *Manager) TryAcquirePipeline(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if s.pipelineBusy {
		return ErrPipelineBusy
	}
	s.pipelineBusy = true
	s.LastActivityAt = time.Now().UTC()
	return nil
}

func (m *Manager) ReleasePipeline(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionID]; ok {
		s.pipelineBusy = false
	}
}

// BeginStream marks the session as actively streaming a reply. The interrupt
// flag from any earlier turn is cleared here so a stale barge-in can never
// kill a fresh stream.
func (m *Manager) BeginStream(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if s.Streaming {
		return ErrAlreadyStreaming
	}
	s.Streaming = true
	s.InterruptRequested = false
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// EndStream clears the streaming flag regardless of how the stream finished.
func (m *Manager) EndStream(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionID]; ok {
		s.Streaming = false
		s.InterruptRequested = false
		s.LastActivityAt = time.Now().UTC()
	}
}

// RequestInterrupt sets the interrupt flag. It reports whether a stream was
// active to observe it; requesting an interrupt with no stream in flight is
// an idempotent no-op.
func (m *Manager) RequestInterrupt(sessionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return false, ErrNotFound
	}
	s.LastActivityAt = time.Now().UTC()
	if !s.Streaming {
		return false, nil
	}
	s.InterruptRequested = true
	s.InterruptionCount++
	return true, nil
}

// InterruptRequested reads the interrupt flag without clearing it.
func (m *Manager) InterruptRequested(sessionID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	return ok && s.InterruptRequested
}

// ConsumeInterrupt reads and clears the interrupt flag in one step. The
// streaming loop calls this once per chunk, before emitting.
func (m *Manager) ConsumeInterrupt(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || !s.InterruptRequested {
		return false
	}
	s.InterruptRequested = false
	return true
}

// Remove drops the session from the live map on disconnect or explicit
// close. Any in-flight stream for it observes a closed transport and aborts.
func (m *Manager) Remove(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// StartJanitor expires sessions whose connection stopped producing activity
// without a clean disconnect.
func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []*Session

	m.mu.Lock()
	for id, s := range m.sessions {
		if now.Sub(s.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		expired = append(expired, clone(s))
		delete(m.sessions, id)
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

func clone(s *Session) *Session {
	c := *s
	return &c
}
