package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gridwire/gridwire/pkg/protocol"
)

// Client errors.
var (
	ErrClosed          = errors.New("client: closed")
	ErrVersionMismatch = errors.New("client: protocol version mismatch")
	ErrServerBusy      = errors.New("client: server busy")
	ErrHandshakeFailed = errors.New("client: handshake failed")
)

// EventKind identifies what a client event reports.
type EventKind int

const (
	// EventSnapshot means the view was replaced wholesale.
	EventSnapshot EventKind = iota
	// EventUpdate means an incremental update was applied.
	EventUpdate
	// EventStateChange means the synchronization state changed.
	EventStateChange
)

// Event notifies a consumer that the local view or state changed.
type Event struct {
	Kind  EventKind
	State State
	// Update is set for EventUpdate.
	Update *protocol.Update
}

// Options configures a Client.
type Options struct {
	// Name is the display name requested in the handshake.
	Name string

	// HandshakeTimeout bounds the dial plus hello exchange.
	// Default: 10 seconds.
	HandshakeTimeout time.Duration

	// WriteTimeout bounds each frame write. Default: 10 seconds.
	WriteTimeout time.Duration

	// MinBackoff is the initial reconnect delay. Default: 250ms.
	MinBackoff time.Duration

	// MaxBackoff caps the reconnect delay. Default: 30 seconds.
	MaxBackoff time.Duration

	// MaxAttempts limits consecutive failed reconnects. 0 means retry
	// forever.
	MaxAttempts int

	// EventBuffer is the capacity of the Events channel. Default: 64.
	EventBuffer int

	// Logger for client diagnostics. Default: slog.Default().
	Logger *slog.Logger
}

func (o *Options) withDefaults() *Options {
	out := &Options{}
	if o != nil {
		*out = *o
	}
	if out.HandshakeTimeout == 0 {
		out.HandshakeTimeout = 10 * time.Second
	}
	if out.WriteTimeout == 0 {
		out.WriteTimeout = 10 * time.Second
	}
	if out.MinBackoff == 0 {
		out.MinBackoff = 250 * time.Millisecond
	}
	if out.MaxBackoff == 0 {
		out.MaxBackoff = 30 * time.Second
	}
	if out.EventBuffer == 0 {
		out.EventBuffer = 64
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return out
}

// Client connects to a gridwire server and keeps a reconciled local view
// of the world. Lost connections reconnect automatically with exponential
// backoff, resuming the previous session when the server still has it.
type Client struct {
	url  string
	opts *Options

	rec *Reconciler

	// connMu guards conn and sessionID, both touched by the read loop,
	// the reconnect path, and callers.
	connMu    sync.Mutex
	conn      *websocket.Conn
	sessionID string

	playerID atomic.Value // string

	events chan Event
	done   chan struct{}
	closed atomic.Bool

	logger *slog.Logger
}

// Dial connects to the server at url (a ws:// or wss:// URL) and performs
// the handshake. The returned client is synced once the initial snapshot
// arrives; watch Events for the first EventSnapshot.
func Dial(ctx context.Context, url string, opts *Options) (*Client, error) {
	o := opts.withDefaults()

	c := &Client{
		url:    url,
		opts:   o,
		rec:    NewReconciler(o.Logger),
		events: make(chan Event, o.EventBuffer),
		done:   make(chan struct{}),
		logger: o.Logger.With("component", "client"),
	}
	c.playerID.Store("")

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	go c.readLoop()
	return c, nil
}

// PlayerID returns the player ID assigned by the server.
func (c *Client) PlayerID() string {
	id, _ := c.playerID.Load().(string)
	return id
}

// SessionID returns the server-assigned session ID.
func (c *Client) SessionID() string {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.sessionID
}

func (c *Client) setSessionID(id string) {
	c.connMu.Lock()
	c.sessionID = id
	c.connMu.Unlock()
}

// State returns the current synchronization state.
func (c *Client) State() State {
	return c.rec.State()
}

// Players returns a copy of the local world view.
func (c *Client) Players() []protocol.Player {
	return c.rec.Players()
}

// Version returns the last applied world version.
func (c *Client) Version() uint64 {
	return c.rec.Version()
}

// Events returns the channel of view and state change notifications.
// Slow consumers lose notifications, never state; poll State and Players
// to catch up.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Join asks the server to place this client's player in the world.
func (c *Client) Join() error {
	return c.submit(protocol.IntentJoin, 0)
}

// Move asks the server to move the player one cell.
func (c *Client) Move(dir protocol.Direction) error {
	return c.submit(protocol.IntentMove, dir)
}

// Leave asks the server to remove the player from the world.
func (c *Client) Leave() error {
	return c.submit(protocol.IntentLeave, 0)
}

// submit sends the intent now or buffers it until the client is synced.
func (c *Client) submit(op protocol.IntentOp, dir protocol.Direction) error {
	if c.closed.Load() {
		return ErrClosed
	}
	frame := c.rec.Submit(op, dir)
	if frame == nil {
		// Buffered; it will flush when the view is synced again.
		return nil
	}
	return c.sendFrame(frame)
}

// Close tears down the connection and stops reconnecting.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.done)

	c.connMu.Lock()
	conn := c.conn
	c.conn = nil
	c.connMu.Unlock()

	if conn != nil {
		ct, cm := protocol.NewClose(protocol.CloseNormal, "")
		frame := protocol.NewFrame(protocol.FrameControl, protocol.EncodeControl(ct, cm))
		conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
		conn.WriteMessage(websocket.BinaryMessage, frame.Encode())
		conn.Close()
	}
	return nil
}

// connect dials and completes one handshake, resuming the previous
// session when one exists.
func (c *Client) connect(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.opts.HandshakeTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.url, nil)
	if err != nil {
		return err
	}

	sessionID := c.SessionID()
	hello := &protocol.ClientHello{
		Version:     protocol.CurrentVersion,
		SessionID:   sessionID,
		LastVersion: c.rec.LastVersion(),
		Name:        c.opts.Name,
	}
	frame := protocol.NewFrame(protocol.FrameHandshake, protocol.EncodeClientHello(hello))
	conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	if err := conn.WriteMessage(websocket.BinaryMessage, frame.Encode()); err != nil {
		conn.Close()
		return err
	}

	conn.SetReadDeadline(time.Now().Add(c.opts.HandshakeTimeout))
	sh, err := c.readServerHello(conn)
	if err != nil {
		conn.Close()
		return err
	}

	switch sh.Status {
	case protocol.HandshakeOK:
		// Fall through below.

	case protocol.HandshakeSessionExpired:
		conn.Close()
		if sessionID == "" {
			return ErrHandshakeFailed
		}
		// The old session is gone; start over. Pending intents
		// survive the reset and flush after the fresh snapshot.
		c.logger.Info("session expired, starting fresh")
		c.setSessionID("")
		c.rec.Reset()
		return c.connect(ctx)

	case protocol.HandshakeVersionMismatch:
		conn.Close()
		return ErrVersionMismatch

	case protocol.HandshakeServerBusy:
		conn.Close()
		return ErrServerBusy

	default:
		conn.Close()
		return fmt.Errorf("%w: %s", ErrHandshakeFailed, sh.Status)
	}

	c.playerID.Store(sh.PlayerID)
	conn.SetReadDeadline(time.Time{})

	c.connMu.Lock()
	c.sessionID = sh.SessionID
	c.conn = conn
	c.connMu.Unlock()

	// A resume at the server's exact version replays nothing, so no
	// frame will arrive to trigger the flush. Pick the synced view back
	// up and flush pending intents right away.
	if sessionID != "" && sh.WorldVersion == c.rec.LastVersion() && c.rec.State() == StateDisconnected {
		c.sendFrames(c.rec.Reconnected())
		c.emit(Event{Kind: EventStateChange, State: StateSynced})
	}

	c.logger.Info("connected",
		"session_id", sh.SessionID,
		"player_id", sh.PlayerID,
		"world_version", sh.WorldVersion)
	return nil
}

// readServerHello reads and decodes the handshake response.
func (c *Client) readServerHello(conn *websocket.Conn) (*protocol.ServerHello, error) {
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	frame, err := protocol.DecodeFrame(msg)
	if err != nil {
		return nil, err
	}
	if frame.Type != protocol.FrameHandshake {
		return nil, ErrHandshakeFailed
	}
	return protocol.DecodeServerHello(frame.Payload)
}

// readLoop processes frames until the connection drops, then hands off to
// the reconnect loop.
func (c *Client) readLoop() {
	for {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()
		if conn == nil {
			return
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}
			c.logger.Warn("connection lost", "error", err)
			c.rec.Disconnected()
			c.emit(Event{Kind: EventStateChange, State: StateDisconnected})
			c.reconnectLoop()
			return
		}

		frame, err := protocol.DecodeFrame(msg)
		if err != nil {
			c.logger.Error("frame decode error", "error", err)
			continue
		}
		c.handleFrame(frame)
	}
}

func (c *Client) handleFrame(frame *protocol.Frame) {
	switch frame.Type {
	case protocol.FrameSnapshot:
		snap, err := protocol.DecodeSnapshot(frame.Payload)
		if err != nil {
			c.logger.Error("snapshot decode error", "error", err)
			return
		}
		flush := c.rec.ApplySnapshot(snap)
		c.sendFrames(flush)
		c.emit(Event{Kind: EventSnapshot, State: StateSynced})

	case protocol.FrameUpdate:
		u, err := protocol.DecodeUpdate(frame.Payload)
		if err != nil {
			c.logger.Error("update decode error", "error", err)
			return
		}
		// The first update after a resume means the server replayed
		// our gap instead of snapshotting.
		if c.rec.State() == StateDisconnected {
			c.sendFrames(c.rec.Reconnected())
			c.emit(Event{Kind: EventStateChange, State: StateSynced})
		}
		if req := c.rec.ApplyUpdate(u); req != nil {
			c.sendFrameLogged(req, "resync request")
			c.emit(Event{Kind: EventStateChange, State: StateResyncNeeded})
			return
		}
		c.emit(Event{Kind: EventUpdate, State: c.rec.State(), Update: u})

	case protocol.FrameError:
		em, err := protocol.DecodeErrorMessage(frame.Payload)
		if err != nil {
			c.logger.Error("error frame decode error", "error", err)
			return
		}
		if req := c.rec.HandleError(em); req != nil {
			c.sendFrameLogged(req, "resync request")
			c.emit(Event{Kind: EventStateChange, State: StateResyncNeeded})
		}

	case protocol.FrameControl:
		c.handleControl(frame.Payload)

	default:
		c.logger.Warn("unexpected frame type", "type", frame.Type)
	}
}

func (c *Client) handleControl(payload []byte) {
	ct, data, err := protocol.DecodeControl(payload)
	if err != nil {
		c.logger.Error("control decode error", "error", err)
		return
	}

	switch ct {
	case protocol.ControlPing:
		if pp, ok := data.(*protocol.PingPong); ok {
			reply, p := protocol.NewPong(pp.Timestamp)
			frame := protocol.NewFrame(protocol.FrameControl, protocol.EncodeControl(reply, p))
			c.sendFrameLogged(frame.Encode(), "pong")
		}

	case protocol.ControlClose:
		if cm, ok := data.(*protocol.CloseMessage); ok {
			c.logger.Info("server closing connection",
				"reason", cm.Reason, "message", cm.Message)
			if cm.Reason == protocol.CloseSessionExpired {
				c.setSessionID("")
				c.rec.Reset()
			}
		}
	}
}

// reconnectLoop retries the connection with exponential backoff until it
// succeeds, the attempt budget runs out, or the client is closed.
func (c *Client) reconnectLoop() {
	backoff := c.opts.MinBackoff
	attempts := 0

	for {
		select {
		case <-c.done:
			return
		case <-time.After(backoff):
		}

		attempts++
		err := c.connect(context.Background())
		if err == nil {
			c.logger.Info("reconnected", "attempts", attempts)
			go c.readLoop()
			return
		}

		if errors.Is(err, ErrVersionMismatch) {
			c.logger.Error("reconnect abandoned", "error", err)
			c.Close()
			return
		}
		if c.opts.MaxAttempts > 0 && attempts >= c.opts.MaxAttempts {
			c.logger.Error("reconnect attempts exhausted", "attempts", attempts)
			c.Close()
			return
		}

		c.logger.Warn("reconnect failed", "attempt", attempts, "backoff", backoff, "error", err)
		backoff *= 2
		if backoff > c.opts.MaxBackoff {
			backoff = c.opts.MaxBackoff
		}
	}
}

func (c *Client) sendFrame(frame []byte) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return ErrClosed
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	return c.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (c *Client) sendFrames(frames [][]byte) {
	for _, f := range frames {
		c.sendFrameLogged(f, "flush")
	}
}

func (c *Client) sendFrameLogged(frame []byte, what string) {
	if err := c.sendFrame(frame); err != nil {
		c.logger.Warn("send failed", "frame", what, "error", err)
	}
}

// emit delivers an event without ever blocking the read loop.
func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.logger.Debug("event dropped", "kind", ev.Kind)
	}
}
