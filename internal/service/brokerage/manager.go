package brokerage

import (
	"context"
	"sync"
	"time"

	"github.com/krobus00/broker-gateway/internal/entity"
	"github.com/sirupsen/logrus"
)

const (
	defaultIdleTimeout = 30 * time.Minute
	reapInterval       = time.Minute
)

// Manager owns one Session per bearer token.
type Manager struct {
	ctx  context.Context
	deps Dependencies
	cfg  Config
	now  func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(ctx context.Context, deps Dependencies, cfg Config) *Manager {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.SubmissionGuardTTL <= 0 {
		cfg.SubmissionGuardTTL = 30 * time.Second
	}

	return &Manager{
		ctx:      ctx,
		deps:     deps,
		cfg:      cfg,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Get returns the session for token, starting it on first use.
func (m *Manager) Get(token string) (*Session, error) {
	if token == "" {
		return nil, entity.ErrAuthRequired
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := SessionID(token)
	if s, ok := m.sessions[id]; ok && !s.Closed() {
		s.touch()
		return s, nil
	}

	s := newSession(token, m.deps, m.cfg)
	s.now = m.now
	s.touch()
	s.start(m.ctx)
	m.sessions[id] = s

	return s, nil
}

// Lookup returns an existing session without creating one.
func (m *Manager) Lookup(token string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[SessionID(token)]
	if !ok || s.Closed() {
		return nil, false
	}
	s.touch()
	return s, true
}

// Logout closes the session of token. Unknown tokens are ignored.
func (m *Manager) Logout(token string) {
	m.mu.Lock()
	s, ok := m.sessions[SessionID(token)]
	delete(m.sessions, SessionID(token))
	m.mu.Unlock()

	if ok {
		s.Close()
	}
}

func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// CloseIdle closes sessions not used since now minus the idle timeout and
// returns how many were closed.
func (m *Manager) CloseIdle(now time.Time) int {
	cutoff := now.Add(-m.cfg.IdleTimeout)

	m.mu.Lock()
	var idle []*Session
	for id, s := range m.sessions {
		if s.LastSeen().Before(cutoff) {
			idle = append(idle, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range idle {
		s.Close()
	}
	return len(idle)
}

// Run reaps idle sessions until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.CloseIdle(m.now()); n > 0 {
				logrus.WithField("closed", n).Info("closed idle sessions")
			}
		}
	}
}

// Close stops every session.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
