package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gridwire/gridwire/pkg/protocol"
	"github.com/gridwire/gridwire/pkg/store"
	"github.com/gridwire/gridwire/pkg/world"
)

// Server owns the WebSocket endpoint, the session registry, and the
// synchronization engine for one shared world.
type Server struct {
	registry *Registry
	engine   *Engine

	config   *ServerConfig
	upgrader websocket.Upgrader

	handler    http.Handler
	httpServer *http.Server

	snapshots store.SnapshotStore

	logger  *slog.Logger
	metrics *Metrics

	done chan struct{}
}

// New creates a new Server with the given configuration. Nil or partial
// configs are filled with defaults.
func New(config *ServerConfig) *Server {
	return NewWithRegistry(config, nil)
}

// NewWithRegistry creates a Server using a specific Prometheus registry.
// Pass nil to register metrics with the default registry.
func NewWithRegistry(config *ServerConfig, reg prometheus.Registerer) *Server {
	if config == nil {
		config = DefaultServerConfig()
	} else {
		defaults := DefaultServerConfig()
		if config.Address == "" {
			config.Address = defaults.Address
		}
		if config.WorldWidth == 0 {
			config.WorldWidth = defaults.WorldWidth
		}
		if config.WorldHeight == 0 {
			config.WorldHeight = defaults.WorldHeight
		}
		if config.ReadBufferSize == 0 {
			config.ReadBufferSize = defaults.ReadBufferSize
		}
		if config.WriteBufferSize == 0 {
			config.WriteBufferSize = defaults.WriteBufferSize
		}
		if config.CheckOrigin == nil {
			config.CheckOrigin = defaults.CheckOrigin
		}
		if config.SessionConfig == nil {
			config.SessionConfig = defaults.SessionConfig
		}
		if config.ShutdownTimeout == 0 {
			config.ShutdownTimeout = defaults.ShutdownTimeout
		}
		if config.MaxIntakeQueue == 0 {
			config.MaxIntakeQueue = defaults.MaxIntakeQueue
		}
		if config.HistorySize == 0 {
			config.HistorySize = defaults.HistorySize
		}
		if config.ResumeWindow == 0 {
			config.ResumeWindow = defaults.ResumeWindow
		}
		if config.CleanupInterval == 0 {
			config.CleanupInterval = defaults.CleanupInterval
		}
		if config.CheckpointInterval == 0 {
			config.CheckpointInterval = defaults.CheckpointInterval
		}
	}

	logger := slog.Default().With("component", "server")
	metrics := NewMetrics(reg)

	s := &Server{
		config:    config,
		logger:    logger,
		metrics:   metrics,
		snapshots: config.SnapshotStore,
		done:      make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
	}

	s.registry = NewRegistry(config, logger, metrics)
	s.engine = NewEngine(
		world.New(config.WorldWidth, config.WorldHeight),
		config.MaxIntakeQueue,
		config.HistorySize,
		s.registry.ForEachAttached,
		logger,
		metrics,
	)
	s.registry.SetOnExpire(func(sess *Session) {
		s.engine.RemovePlayer(sess.PlayerID)
	})

	return s
}

// Engine returns the synchronization engine.
func (s *Server) Engine() *Engine {
	return s.engine
}

// Registry returns the session registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Config returns the server configuration.
func (s *Server) Config() *ServerConfig {
	return s.config
}

// SetHandler sets the HTTP handler served by Run. When unset, Run serves
// only the WebSocket endpoint at /ws.
func (s *Server) SetHandler(h http.Handler) {
	s.handler = h
}

// Handler returns an http.Handler for the WebSocket endpoint.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.HandleWebSocket)
}

// HandleWebSocket upgrades the request and runs the handshake. On a
// successful fresh handshake the client receives a ServerHello followed
// immediately by a full Snapshot; on resume it receives either replayed
// updates or a snapshot, depending on what the history still covers.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	conn.SetReadLimit(s.config.SessionConfig.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(s.config.SessionConfig.HandshakeTimeout))

	_, msg, err := conn.ReadMessage()
	if err != nil {
		s.logger.Error("handshake read failed", "error", err)
		conn.Close()
		return
	}

	hello, err := decodeHandshakeHello(msg)
	if err != nil {
		s.logger.Warn("handshake rejected", "error", err)
		s.sendHandshakeError(conn, protocol.HandshakeInvalidFormat)
		conn.Close()
		return
	}

	if hello.Version.Major != protocol.CurrentVersion.Major {
		s.logger.Warn("protocol version mismatch",
			"client", hello.Version, "server", protocol.CurrentVersion)
		s.sendHandshakeError(conn, protocol.HandshakeVersionMismatch)
		conn.Close()
		return
	}

	if hello.SessionID != "" {
		s.handleResume(conn, hello)
		return
	}
	s.handleFreshSession(conn, hello)
}

// decodeHandshakeHello parses the first message of a connection, which
// must be a single Handshake frame carrying a ClientHello.
func decodeHandshakeHello(msg []byte) (*protocol.ClientHello, error) {
	// Frame format: [type:1][flags:1][len:2][payload...]
	if len(msg) < protocol.FrameHeaderSize {
		return nil, fmt.Errorf("%w: message shorter than frame header", ErrInvalidHandshake)
	}
	if ft := protocol.FrameType(msg[0]); ft != protocol.FrameHandshake {
		return nil, fmt.Errorf("%w: unexpected frame type %s", ErrInvalidHandshake, ft)
	}
	payloadLen := int(msg[2])<<8 | int(msg[3])
	if len(msg) < protocol.FrameHeaderSize+payloadLen {
		return nil, fmt.Errorf("%w: truncated payload", ErrInvalidHandshake)
	}

	hello, err := protocol.DecodeClientHello(msg[protocol.FrameHeaderSize : protocol.FrameHeaderSize+payloadLen])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHandshake, err)
	}
	return hello, nil
}

// handleFreshSession admits a brand new session.
func (s *Server) handleFreshSession(conn *websocket.Conn, hello *protocol.ClientHello) {
	sess := newSession(conn, hello.Name, s.engine, s.config.SessionConfig, s.logger, s.metrics)

	if err := s.registry.Admit(sess); err != nil {
		s.sendHandshakeError(conn, protocol.HandshakeServerBusy)
		conn.Close()
		return
	}

	s.sendServerHello(conn, sess)

	// The snapshot rides the outbound queue so it is on the wire
	// before any update the engine broadcasts from now on.
	sess.QueueFrame(s.engine.SnapshotFrame())
	sess.Start()
}

// handleResume reattaches a client to its previous session.
func (s *Server) handleResume(conn *websocket.Conn, hello *protocol.ClientHello) {
	sess, err := s.registry.Resumable(hello.SessionID)
	if err != nil {
		s.logger.Info("resume rejected",
			"session_id", hello.SessionID, "error", err)
		s.sendHandshakeError(conn, protocol.HandshakeSessionExpired)
		conn.Close()
		return
	}

	s.sendServerHello(conn, sess)

	var catchup [][]byte
	if frames := s.engine.History().Replay(hello.LastVersion); frames != nil {
		// Every missed update is still buffered; replay them in
		// version order and the client stays incrementally synced. A
		// fully caught-up client gets an empty replay and keeps its
		// sequencing as-is.
		catchup = frames
		s.logger.Info("session replay",
			"session_id", sess.ID,
			"from_version", hello.LastVersion,
			"frames", len(frames))
	} else {
		// Too far behind; start the client over from a snapshot.
		// Sequencing restarts with it, so the client re-numbers any
		// pending intents from 1.
		sess.lastSeq.Store(0)
		catchup = [][]byte{s.engine.SnapshotFrame()}
		s.metrics.RecordResync("reconnect")
	}

	if err := sess.Resume(conn, catchup); err != nil {
		s.logger.Info("resume rejected", "session_id", sess.ID, "error", err)
		conn.Close()
		return
	}
	s.registry.MarkReattached()
}

// sendHandshakeError writes a ServerHello carrying an error status.
func (s *Server) sendHandshakeError(conn *websocket.Conn, status protocol.HandshakeStatus) {
	sh := protocol.NewServerHelloError(status)
	frame := protocol.NewFrame(protocol.FrameHandshake, protocol.EncodeServerHello(sh))
	conn.SetWriteDeadline(time.Now().Add(s.config.SessionConfig.WriteTimeout))
	conn.WriteMessage(websocket.BinaryMessage, frame.Encode())
}

// sendServerHello writes a successful ServerHello directly on the conn,
// before the session's write loop takes over.
func (s *Server) sendServerHello(conn *websocket.Conn, sess *Session) {
	sh := protocol.NewServerHello(sess.ID, sess.PlayerID,
		s.engine.Version(), uint64(time.Now().UnixMilli()))
	frame := protocol.NewFrame(protocol.FrameHandshake, protocol.EncodeServerHello(sh))
	conn.SetWriteDeadline(time.Now().Add(s.config.SessionConfig.WriteTimeout))
	if err := conn.WriteMessage(websocket.BinaryMessage, frame.Encode()); err != nil {
		s.logger.Error("server hello write failed", "error", err)
	}
}

// Run starts the engine, restores persisted world state, and serves HTTP
// until Shutdown is called. It blocks.
func (s *Server) Run() error {
	if err := s.restoreWorld(); err != nil {
		s.logger.Error("world restore failed", "error", err)
	}

	go s.engine.Run()
	if s.snapshots != nil {
		go s.checkpointLoop()
	}

	handler := s.handler
	if handler == nil {
		mux := http.NewServeMux()
		mux.Handle("/ws", s.Handler())
		handler = mux
	}

	s.httpServer = &http.Server{
		Addr:    s.config.Address,
		Handler: handler,
	}

	s.logger.Info("server listening",
		"address", s.config.Address,
		"world_width", s.config.WorldWidth,
		"world_height", s.config.WorldHeight)

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server: HTTP stops accepting, sessions
// get close frames, the engine drains, and the world is checkpointed.
func (s *Server) Shutdown(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	default:
		close(s.done)
	}

	s.logger.Info("server shutting down")

	var firstErr error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if err := s.registry.Shutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}

	s.engine.Stop()

	if s.snapshots != nil {
		if err := s.checkpoint(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// restoreWorld loads the last checkpoint, if any.
func (s *Server) restoreWorld() error {
	if s.snapshots == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	snap, err := s.snapshots.Load(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.logger.Info("no world checkpoint found, starting empty")
			return nil
		}
		return err
	}

	s.engine.Restore(snap)
	return nil
}

// checkpointLoop periodically saves the world to the snapshot store.
func (s *Server) checkpointLoop() {
	ticker := time.NewTicker(s.config.CheckpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := s.checkpoint(ctx); err != nil {
				s.logger.Error("checkpoint failed", "error", err)
			}
			cancel()

		case <-s.done:
			return
		}
	}
}

// checkpoint saves the current world snapshot.
func (s *Server) checkpoint(ctx context.Context) error {
	snap := s.engine.Snapshot()
	if err := s.snapshots.Save(ctx, snap); err != nil {
		return err
	}
	s.logger.Debug("world checkpointed",
		"version", snap.Version, "players", len(snap.Players))
	return nil
}
