package server

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gridwire/gridwire/pkg/protocol"
)

// Registry tracks every live session, attached or detached. It owns the
// cleanup loop that expires idle sessions and detached sessions whose
// resume window has passed, removing their players from the world.
type Registry struct {
	sessions map[string]*Session
	mu       sync.RWMutex

	config       *SessionConfig
	maxSessions  int
	resumeWindow time.Duration

	// onExpire removes the session's player from the world.
	onExpire func(*Session)

	// Cleanup
	cleanupInterval time.Duration
	done            chan struct{}
	cleanupDone     chan struct{}
	closeOnce       sync.Once

	// Counters
	totalCreated atomic.Uint64
	totalClosed  atomic.Uint64

	logger  *slog.Logger
	metrics *Metrics
}

// NewRegistry creates a session registry and starts its cleanup loop.
func NewRegistry(config *ServerConfig, logger *slog.Logger, metrics *Metrics) *Registry {
	if config == nil {
		config = DefaultServerConfig()
	}

	r := &Registry{
		sessions:        make(map[string]*Session),
		config:          config.SessionConfig,
		maxSessions:     config.MaxSessions,
		resumeWindow:    config.ResumeWindow,
		cleanupInterval: config.CleanupInterval,
		done:            make(chan struct{}),
		cleanupDone:     make(chan struct{}),
		logger:          logger.With("component", "registry"),
		metrics:         metrics,
	}
	if r.cleanupInterval <= 0 {
		r.cleanupInterval = 30 * time.Second
	}

	go r.cleanupLoop()
	return r
}

// SetOnExpire sets the callback invoked when a session expires. It must
// be set before sessions are admitted.
func (r *Registry) SetOnExpire(fn func(*Session)) {
	r.onExpire = fn
}

// Admit registers a new session. It fails with ErrMaxSessionsReached when
// the session limit is hit; the caller turns that into a ServerBusy
// handshake.
func (r *Registry) Admit(sess *Session) error {
	r.mu.Lock()
	if r.maxSessions > 0 && len(r.sessions) >= r.maxSessions {
		r.mu.Unlock()
		return ErrMaxSessionsReached
	}
	r.sessions[sess.ID] = sess
	r.mu.Unlock()

	sess.onDetach = r.onSessionDetach
	r.totalCreated.Add(1)
	r.metrics.RecordSessionAttach()

	r.logger.Info("session admitted",
		"session_id", sess.ID,
		"player_id", sess.PlayerID,
		"active_sessions", r.Count())
	return nil
}

// Get returns a session by ID, or nil.
func (r *Registry) Get(id string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

// Resumable returns the session if it exists, is detached, and is still
// inside the resume window. ErrSessionExpired means it was found but the
// window passed; ErrSessionNotFound means there is nothing to resume.
func (r *Registry) Resumable(id string) (*Session, error) {
	sess := r.Get(id)
	if sess == nil || sess.IsClosed() {
		return nil, ErrSessionNotFound
	}
	if !sess.IsDetached() {
		// The old connection is still up; resuming steals it. The
		// session stays valid, the old conn gets closed by Resume.
		return sess, nil
	}
	if time.Since(sess.DetachedAt()) > r.resumeWindow {
		return nil, ErrSessionExpired
	}
	return sess, nil
}

// Remove closes a session and drops it from the registry, removing its
// player from the world.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !ok {
		return
	}

	wasDetached := sess.IsDetached()
	sess.Close()
	r.totalClosed.Add(1)
	if wasDetached {
		r.metrics.RecordSessionGone()
	}
	if r.onExpire != nil {
		r.onExpire(sess)
	}
}

// Count returns the number of registered sessions, attached or detached.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ForEachAttached calls fn for every session with a live connection.
// Detached sessions skip broadcasts; they catch up on resume.
func (r *Registry) ForEachAttached(fn func(*Session)) {
	r.mu.RLock()
	targets := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		if !s.IsDetached() && !s.IsClosed() {
			targets = append(targets, s)
		}
	}
	r.mu.RUnlock()

	for _, s := range targets {
		fn(s)
	}
}

// MarkReattached updates accounting when a detached session resumes.
func (r *Registry) MarkReattached() {
	r.metrics.RecordSessionReattach()
}

// onSessionDetach is installed as each session's detach callback.
func (r *Registry) onSessionDetach(sess *Session) {
	if sess.IsClosed() {
		// Closed for good; remove immediately.
		go r.Remove(sess.ID)
		return
	}
	r.metrics.RecordSessionDetach()
	r.logger.Info("session awaiting resume",
		"session_id", sess.ID,
		"resume_window", r.resumeWindow)
}

// cleanupLoop periodically expires idle and unresumable sessions.
func (r *Registry) cleanupLoop() {
	defer close(r.cleanupDone)

	ticker := time.NewTicker(r.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.sweep()
		case <-r.done:
			return
		}
	}
}

// sweep removes sessions that are past their idle timeout or whose
// resume window has lapsed.
func (r *Registry) sweep() {
	now := time.Now()

	r.mu.RLock()
	var expired []*Session
	for _, s := range r.sessions {
		switch {
		case s.IsClosed():
			expired = append(expired, s)
		case s.IsDetached() && now.Sub(s.DetachedAt()) > r.resumeWindow:
			expired = append(expired, s)
		case !s.IsDetached() && r.config.IdleTimeout > 0 && now.Sub(s.LastActive()) > r.config.IdleTimeout:
			expired = append(expired, s)
		}
	}
	r.mu.RUnlock()

	for _, s := range expired {
		if !s.IsDetached() && !s.IsClosed() {
			s.SendClose(protocol.CloseSessionExpired, "idle timeout")
		}
		r.logger.Info("session expired", "session_id", s.ID)
		r.Remove(s.ID)
	}
}

// Shutdown closes every session and stops the cleanup loop. Each client
// gets a close frame so it knows not to reconnect immediately.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.closeOnce.Do(func() {
		close(r.done)
	})

	select {
	case <-r.cleanupDone:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		if !s.IsDetached() {
			s.SendClose(protocol.CloseServerShutdown, "server shutting down")
		}
		s.Close()
		r.totalClosed.Add(1)
	}

	r.logger.Info("registry shut down", "sessions_closed", len(sessions))
	return nil
}

// Stats reports registry counters.
type RegistryStats struct {
	Active       int
	TotalCreated uint64
	TotalClosed  uint64
}

// Stats returns a snapshot of registry counters.
func (r *Registry) Stats() RegistryStats {
	return RegistryStats{
		Active:       r.Count(),
		TotalCreated: r.totalCreated.Load(),
		TotalClosed:  r.totalClosed.Load(),
	}
}
