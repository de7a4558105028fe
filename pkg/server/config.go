package server

import (
	"net/http"
	"net/url"
	"time"

	"github.com/gridwire/gridwire/pkg/store"
)

// SessionConfig holds configuration for individual sessions.
type SessionConfig struct {
	// Timeouts

	// ReadTimeout is the maximum time to wait for a message from the client.
	// Default: 60 seconds.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum time to wait when sending a message.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// IdleTimeout is the time after which an inactive session is closed.
	// Default: 5 minutes.
	IdleTimeout time.Duration

	// HandshakeTimeout is the maximum time for the initial handshake.
	// Default: 10 seconds.
	HandshakeTimeout time.Duration

	// HeartbeatInterval is the time between heartbeat pings.
	// Default: 30 seconds.
	HeartbeatInterval time.Duration

	// Limits

	// MaxMessageSize is the maximum size of an incoming WebSocket message.
	// Default: 64KB.
	MaxMessageSize int64

	// MaxOutboundQueue is the number of frames a session may have queued
	// before the oldest are dropped and the session is marked for resync.
	// Default: 256.
	MaxOutboundQueue int
}

// DefaultSessionConfig returns a SessionConfig with sensible defaults.
func DefaultSessionConfig() *SessionConfig {
	return &SessionConfig{
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       5 * time.Minute,
		HandshakeTimeout:  10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		MaxMessageSize:    64 * 1024, // 64KB
		MaxOutboundQueue:  256,
	}
}

// Clone returns a copy of the SessionConfig.
func (c *SessionConfig) Clone() *SessionConfig {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// ServerConfig holds configuration for the HTTP/WebSocket server.
type ServerConfig struct {
	// Address is the address to listen on (e.g., ":8080" or "localhost:3000").
	// Default: ":8080".
	Address string

	// World dimensions

	// WorldWidth is the grid width in cells. Default: 20.
	WorldWidth uint32

	// WorldHeight is the grid height in cells. Default: 20.
	WorldHeight uint32

	// WebSocket buffer sizes

	// ReadBufferSize is the WebSocket read buffer size.
	// Default: 4096.
	ReadBufferSize int

	// WriteBufferSize is the WebSocket write buffer size.
	// Default: 4096.
	WriteBufferSize int

	// CheckOrigin is called to validate the request origin.
	// Default: same-origin only.
	CheckOrigin func(r *http.Request) bool

	// Session configuration

	// SessionConfig is the configuration for individual sessions.
	// Default: DefaultSessionConfig().
	SessionConfig *SessionConfig

	// Server lifecycle

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	// Default: 30 seconds.
	ShutdownTimeout time.Duration

	// Limits

	// MaxSessions is the maximum number of concurrent sessions.
	// 0 means no limit.
	// Default: 0 (no limit).
	MaxSessions int

	// MaxIntakeQueue is the size of the engine's intent intake channel.
	// Intents beyond this are rejected as rate limited.
	// Default: 1024.
	MaxIntakeQueue int

	// HistorySize is the number of recent update frames kept for
	// incremental resume. Default: 256.
	HistorySize int

	// Reconnect

	// ResumeWindow is how long a disconnected session stays resumable.
	// Default: 2 minutes.
	ResumeWindow time.Duration

	// Cleanup

	// CleanupInterval is the interval for the session cleanup loop.
	// Default: 30 seconds.
	CleanupInterval time.Duration

	// Persistence

	// SnapshotStore persists the world across restarts. Optional; when
	// nil the world starts empty and is lost on shutdown.
	SnapshotStore store.SnapshotStore

	// CheckpointInterval is how often the world is saved to the
	// SnapshotStore. Default: 1 minute.
	CheckpointInterval time.Duration
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
// CheckOrigin enforces same-origin by default to prevent cross-site
// WebSocket hijacking.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Address:            ":8080",
		WorldWidth:         20,
		WorldHeight:        20,
		ReadBufferSize:     4096,
		WriteBufferSize:    4096,
		CheckOrigin:        SameOriginCheck,
		SessionConfig:      DefaultSessionConfig(),
		ShutdownTimeout:    30 * time.Second,
		MaxSessions:        0, // No limit
		MaxIntakeQueue:     1024,
		HistorySize:        256,
		ResumeWindow:       2 * time.Minute,
		CleanupInterval:    30 * time.Second,
		CheckpointInterval: 1 * time.Minute,
	}
}

// SameOriginCheck validates that the WebSocket request origin matches the
// host. This is the secure default for CheckOrigin.
func SameOriginCheck(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// No Origin header (e.g., same-origin request or curl)
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := r.Host
	if host == "" {
		return false
	}

	// Compare the host portion (includes port if present)
	return originURL.Host == host
}

// Clone returns a copy of the ServerConfig.
func (c *ServerConfig) Clone() *ServerConfig {
	if c == nil {
		return nil
	}
	clone := *c
	if c.SessionConfig != nil {
		clone.SessionConfig = c.SessionConfig.Clone()
	}
	return &clone
}

// WithAddress sets the server address and returns the config for chaining.
func (c *ServerConfig) WithAddress(addr string) *ServerConfig {
	c.Address = addr
	return c
}

// WithWorldSize sets the grid dimensions and returns the config for chaining.
func (c *ServerConfig) WithWorldSize(width, height uint32) *ServerConfig {
	c.WorldWidth = width
	c.WorldHeight = height
	return c
}

// WithSessionConfig sets the session configuration and returns the config
// for chaining.
func (c *ServerConfig) WithSessionConfig(sc *SessionConfig) *ServerConfig {
	c.SessionConfig = sc
	return c
}

// WithMaxSessions sets the maximum sessions and returns the config for chaining.
func (c *ServerConfig) WithMaxSessions(max int) *ServerConfig {
	c.MaxSessions = max
	return c
}

// WithResumeWindow sets the resume window and returns the config for chaining.
func (c *ServerConfig) WithResumeWindow(d time.Duration) *ServerConfig {
	c.ResumeWindow = d
	return c
}

// WithSnapshotStore sets the persistence backend and returns the config
// for chaining.
func (c *ServerConfig) WithSnapshotStore(s store.SnapshotStore) *ServerConfig {
	c.SnapshotStore = s
	return c
}
