package pdcp

import "sync"

// TokenManager tracks outstanding crypto tasks (§4.I). Each dispatched
// apply_security call holds one Token; Token.Release is called when that
// task returns on its crypto worker, after it has queued its result on the
// UE executor. Awaitable() returns a channel that closes once the manager
// has been stopped and every outstanding token has been released. The
// entities' Stop() stops the manager but does not wait on Awaitable; a
// caller that must know every crypto task has finished waits on it.
type TokenManager struct {
	mu          sync.Mutex
	outstanding int64
	stopped     bool
	done        chan struct{}
}

// NewTokenManager returns a manager that accepts tokens until Stop is
// called.
func NewTokenManager() *TokenManager {
	return &TokenManager{done: make(chan struct{})}
}

// Token is a non-movable handle on one outstanding crypto task; Release
// must be called exactly once.
type Token struct {
	mgr *TokenManager
}

// Acquire returns a new token, or false if the manager has already stopped
// accepting new tasks.
func (m *TokenManager) Acquire() (*Token, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return nil, false
	}
	m.outstanding++
	return &Token{mgr: m}, true
}

// Release returns the token's slot. Safe to call from any goroutine.
func (t *Token) Release() {
	if t == nil {
		return
	}
	m := t.mgr
	m.mu.Lock()
	m.outstanding--
	drained := m.stopped && m.outstanding == 0
	m.mu.Unlock()
	if drained {
		m.signalDone()
	}
}

// Stop prevents further Acquire calls and, if no tasks are outstanding,
// immediately signals Awaitable.
func (m *TokenManager) Stop() {
	m.mu.Lock()
	m.stopped = true
	drained := m.outstanding == 0
	m.mu.Unlock()
	if drained {
		m.signalDone()
	}
}

func (m *TokenManager) signalDone() {
	select {
	case <-m.done:
		// already closed
	default:
		m.mu.Lock()
		select {
		case <-m.done:
		default:
			close(m.done)
		}
		m.mu.Unlock()
	}
}

// Awaitable returns a channel that is closed once the manager is stopped
// and drained.
func (m *TokenManager) Awaitable() <-chan struct{} { return m.done }

// Outstanding reports the current number of unreleased tokens (for tests
// and diagnostics).
func (m *TokenManager) Outstanding() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outstanding
}
