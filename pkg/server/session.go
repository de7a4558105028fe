package server

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gridwire/gridwire/pkg/protocol"
)

// Session represents one client's connection to the shared world. The
// session outlives its WebSocket connection: on disconnect it detaches
// and stays resumable for the registry's resume window, keeping its
// player in the world and its accepted-sequence state intact.
type Session struct {
	// Identity
	ID        string
	PlayerID  string
	Name      string
	CreatedAt time.Time

	// Connection. mu protects conn and writes to it.
	conn     *websocket.Conn
	mu       sync.Mutex
	closed   atomic.Bool
	detached atomic.Bool

	// lastSeq is the last intent sequence accepted by the engine.
	// Written only by the engine goroutine, and by the write loop when
	// a full snapshot resets the session's sequencing.
	lastSeq atomic.Uint64

	// lastActive is the last client activity as Unix nanoseconds.
	lastActive atomic.Int64
	detachedAt atomic.Int64

	// Outbound frames
	out *outboundQueue

	// Lifecycle. done stops the write loop; replaced on resume. loopWG
	// tracks the read and write loops of the current connection so
	// Resume can wait for the previous connection's loops to exit.
	done     chan struct{}
	doneMu   sync.Mutex
	loopWG   sync.WaitGroup
	resumeMu sync.Mutex

	// Wiring
	engine  *Engine
	config  *SessionConfig
	logger  *slog.Logger
	metrics *Metrics

	// onDetach is invoked once when the connection drops.
	onDetach func(*Session)

	// Counters
	intentCount atomic.Uint64
	bytesSent   atomic.Uint64
	bytesRecv   atomic.Uint64
}

// generateID generates a cryptographically random identifier.
func generateID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		// Weak or predictable session IDs are dangerous; refuse to run.
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return hex.EncodeToString(b)
}

// newSession creates a session bound to conn.
func newSession(conn *websocket.Conn, name string, engine *Engine, config *SessionConfig, logger *slog.Logger, metrics *Metrics) *Session {
	now := time.Now()
	id := generateID()

	s := &Session{
		ID:        id,
		PlayerID:  generateID(),
		Name:      name,
		CreatedAt: now,
		conn:      conn,
		out:       newOutboundQueue(config.MaxOutboundQueue),
		done:      make(chan struct{}),
		engine:    engine,
		config:    config,
		logger:    logger.With("session_id", id),
		metrics:   metrics,
	}
	s.lastActive.Store(now.UnixNano())
	return s
}

// LastSeq returns the last intent sequence accepted for this session.
func (s *Session) LastSeq() uint64 {
	return s.lastSeq.Load()
}

// LastActive returns the time of the last client activity.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

// DetachedAt returns when the session lost its connection, or the zero
// time if it is attached.
func (s *Session) DetachedAt() time.Time {
	ns := s.detachedAt.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// IsClosed reports whether the session has been closed for good.
func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

// IsDetached reports whether the session has no live connection.
func (s *Session) IsDetached() bool {
	return s.detached.Load()
}

// touch records client activity.
func (s *Session) touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

// Start starts the session's read and write loops.
func (s *Session) Start() {
	s.loopWG.Add(2)
	go func() {
		defer s.loopWG.Done()
		s.ReadLoop()
	}()
	go func() {
		defer s.loopWG.Done()
		s.WriteLoop()
	}()
}

// ReadLoop continuously reads messages from the WebSocket connection,
// decodes frames, and routes them. It blocks until the connection drops,
// then detaches the session. The loop is bound to the connection present
// when it starts; it never picks up a connection swapped in by Resume.
func (s *Session) ReadLoop() {
	defer s.Detach()

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}

	for {
		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				s.logger.Error("read error", "error", err)
			}
			return
		}

		s.touch()
		s.bytesRecv.Add(uint64(len(msg)))
		s.metrics.RecordBytesReceived(len(msg))

		frame, err := protocol.DecodeFrame(msg)
		if err != nil {
			s.logger.Error("frame decode error", "error", err)
			continue
		}

		switch frame.Type {
		case protocol.FrameIntent:
			s.handleIntentFrame(frame.Payload)

		case protocol.FrameControl:
			if s.handleControlFrame(frame.Payload) {
				return
			}

		default:
			s.logger.Warn("unexpected frame type", "type", frame.Type)
		}
	}
}

// handleIntentFrame decodes an intent and hands it to the engine.
func (s *Session) handleIntentFrame(payload []byte) {
	in, err := protocol.DecodeIntent(payload)
	if err != nil {
		s.logger.Error("intent decode error", "error", err)
		s.sendErrorMessage(protocol.NewError(protocol.ErrInvalidIntent, 0, "malformed intent"))
		return
	}

	s.intentCount.Add(1)

	if err := s.engine.Submit(s, in); err != nil {
		s.sendErrorMessage(protocol.NewError(protocol.ErrRateLimited, in.Seq, "intent queue full, retry"))
	}
}

// handleControlFrame handles ping, resync, and close control messages.
// It reports whether the read loop should exit.
func (s *Session) handleControlFrame(payload []byte) (closed bool) {
	ct, data, err := protocol.DecodeControl(payload)
	if err != nil {
		s.logger.Error("control decode error", "error", err)
		return false
	}

	switch ct {
	case protocol.ControlPing:
		if pp, ok := data.(*protocol.PingPong); ok {
			s.sendPong(pp.Timestamp)
		}

	case protocol.ControlPong:
		s.logger.Debug("received pong")

	case protocol.ControlResyncRequest:
		if rr, ok := data.(*protocol.ResyncRequest); ok {
			s.logger.Info("resync requested", "last_version", rr.LastVersion)
			s.metrics.RecordResync("request")
			s.out.MarkResync()
		}

	case protocol.ControlClose:
		if cm, ok := data.(*protocol.CloseMessage); ok {
			s.logger.Info("client closing", "reason", cm.Reason, "message", cm.Message)
		}
		// An explicit close is final; do not hold the session for resume.
		s.Close()
		return true
	}
	return false
}

// WriteLoop drains the outbound queue and sends heartbeat pings. It runs
// until the session detaches or closes.
func (s *Session) WriteLoop() {
	s.doneMu.Lock()
	done := s.done
	s.doneMu.Unlock()

	ticker := time.NewTicker(s.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.out.Notify():
			if !s.drainOutbound() {
				return
			}

		case <-ticker.C:
			if err := s.sendPing(); err != nil {
				return
			}

		case <-done:
			return
		}
	}
}

// drainOutbound writes queued frames until the queue is empty. A pending
// resync mark turns into a fresh snapshot frame and resets the session's
// accepted sequence, since the snapshot replaces everything the client
// had in flight.
func (s *Session) drainOutbound() bool {
	for {
		frame, resync, ok := s.out.Pop()
		if !ok {
			return true
		}

		if resync {
			s.lastSeq.Store(0)
			frame = s.engine.SnapshotFrame()
		}

		if err := s.sendFrame(frame); err != nil {
			s.logger.Error("write error", "error", err)
			s.Detach()
			return false
		}
	}
}

// sendFrame writes one encoded frame to the connection.
func (s *Session) sendFrame(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return ErrConnectionClosed
	}
	if s.conn == nil {
		return ErrNoConnection
	}

	s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	if err := s.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return err
	}

	s.bytesSent.Add(uint64(len(frame)))
	s.metrics.RecordBytesSent(len(frame))
	return nil
}

// QueueFrame enqueues an encoded frame for delivery. On overflow the
// oldest queued frame is dropped and the session is marked for resync.
func (s *Session) QueueFrame(frame []byte) {
	if s.out.Push(frame) {
		s.metrics.RecordQueueDrop()
		s.metrics.RecordResync("overflow")
		s.logger.Warn("outbound queue overflow, will resync")
	}
}

func (s *Session) sendPing() error {
	ct, pp := protocol.NewPing(uint64(time.Now().UnixMilli()))
	payload := protocol.EncodeControl(ct, pp)
	return s.sendFrame(protocol.NewFrame(protocol.FrameControl, payload).Encode())
}

func (s *Session) sendPong(timestamp uint64) {
	ct, pp := protocol.NewPong(timestamp)
	payload := protocol.EncodeControl(ct, pp)
	if err := s.sendFrame(protocol.NewFrame(protocol.FrameControl, payload).Encode()); err != nil {
		s.logger.Error("pong error", "error", err)
	}
}

// sendErrorMessage sends a non-fatal error frame directly, bypassing the
// outbound queue so rejections are not reordered behind updates.
func (s *Session) sendErrorMessage(em *protocol.ErrorMessage) {
	payload := protocol.EncodeErrorMessage(em)
	if err := s.sendFrame(protocol.NewFrame(protocol.FrameError, payload).Encode()); err != nil {
		s.logger.Debug("error frame not delivered", "code", em.Code, "error", err)
	}
}

// SendClose sends a close control message to the client.
func (s *Session) SendClose(reason protocol.CloseReason, message string) {
	ct, cm := protocol.NewClose(reason, message)
	payload := protocol.EncodeControl(ct, cm)
	if err := s.sendFrame(protocol.NewFrame(protocol.FrameControl, payload).Encode()); err != nil {
		s.logger.Debug("close frame not delivered", "error", err)
	}
}

// Detach drops the connection but keeps the session resumable. The
// player stays in the world until the resume window passes.
func (s *Session) Detach() {
	if s.closed.Load() || !s.detached.CompareAndSwap(false, true) {
		return
	}

	s.detachedAt.Store(time.Now().UnixNano())

	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.mu.Unlock()

	s.stopWriteLoop()

	s.logger.Info("session detached")
	if s.onDetach != nil {
		s.onDetach(s)
	}
}

// Resume swaps in a new connection for the session, queues the catch-up
// frames, and restarts the loops. Resuming a still-attached session
// steals it: the old connection is dropped and its loops are waited out
// before anything is queued or installed, so a stale detach cannot tear
// down the replacement and no catch-up frame drains to the old
// connection. The caller decides whether catch-up is a replay or a full
// snapshot.
func (s *Session) Resume(conn *websocket.Conn, catchup [][]byte) error {
	// Serializes concurrent steals of the same session.
	s.resumeMu.Lock()
	defer s.resumeMu.Unlock()

	if s.closed.Load() {
		return NewSessionError(s.ID, "resume", ErrSessionClosed)
	}

	s.Detach()
	s.loopWG.Wait()

	if s.closed.Load() {
		return NewSessionError(s.ID, "resume", ErrSessionClosed)
	}

	s.out.Reopen()
	for _, f := range catchup {
		s.QueueFrame(f)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	s.doneMu.Lock()
	select {
	case <-s.done:
		s.done = make(chan struct{})
	default:
	}
	s.doneMu.Unlock()

	s.detached.Store(false)
	s.detachedAt.Store(0)
	s.touch()

	s.logger.Info("session resumed", "last_seq", s.lastSeq.Load())
	s.Start()
	return nil
}

// Close tears the session down for good. Closed sessions cannot resume.
func (s *Session) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}

	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.mu.Unlock()

	s.out.Close()
	s.stopWriteLoop()

	wasDetached := s.detached.Swap(true)

	s.logger.Info("session closed",
		"intents", s.intentCount.Load(),
		"bytes_sent", s.bytesSent.Load(),
		"bytes_recv", s.bytesRecv.Load())

	if !wasDetached && s.onDetach != nil {
		s.onDetach(s)
	}
}

func (s *Session) stopWriteLoop() {
	s.doneMu.Lock()
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	s.doneMu.Unlock()
}
