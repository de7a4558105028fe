// Package client implements a reconciling client for the shared grid
// world. The Reconciler tracks a local view of the world and keeps it
// consistent with the server's version stream; Client wraps it with a
// WebSocket connection and automatic reconnect.
package client

import (
	"log/slog"
	"sync"

	"github.com/gridwire/gridwire/pkg/protocol"
)

// State is the reconciler's synchronization state.
type State int

const (
	// StateSynced means the local view matches the server's version
	// stream with no gaps.
	StateSynced State = iota

	// StateResyncNeeded means a version gap or ordering error was
	// detected; the view is stale until a snapshot arrives.
	StateResyncNeeded

	// StateDisconnected means there is no live connection.
	StateDisconnected
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateSynced:
		return "Synced"
	case StateResyncNeeded:
		return "ResyncNeeded"
	case StateDisconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// pendingIntent is a user action not yet sent to the server. Sequence
// numbers are assigned at send time, so buffered intents survive a
// resync that restarts sequencing.
type pendingIntent struct {
	op  protocol.IntentOp
	dir protocol.Direction
}

// Reconciler maintains the client-side world view and the synchronization
// state machine. It is transport-agnostic: Client feeds it decoded frames
// and it returns the frames to send. All methods are safe for concurrent
// use.
type Reconciler struct {
	mu sync.Mutex

	state   State
	version uint64
	seq     uint64 // Last sequence sent

	width   uint32
	height  uint32
	players map[string]protocol.Player

	// pending holds user actions made while not Synced. They are never
	// dropped; they flush in order once a snapshot (or reconnect)
	// brings the view back to Synced.
	pending []pendingIntent

	logger *slog.Logger
}

// NewReconciler creates a reconciler in the Disconnected state.
func NewReconciler(logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		state:   StateDisconnected,
		players: make(map[string]protocol.Player),
		logger:  logger.With("component", "reconciler"),
	}
}

// State returns the current synchronization state.
func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Version returns the last world version applied to the local view.
func (r *Reconciler) Version() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.version
}

// GridSize returns the world dimensions from the last snapshot.
func (r *Reconciler) GridSize() (width, height uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.width, r.height
}

// Players returns a copy of the local world view.
func (r *Reconciler) Players() []protocol.Player {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]protocol.Player, 0, len(r.players))
	for _, p := range r.players {
		out = append(out, p)
	}
	return out
}

// Player returns one player from the local view.
func (r *Reconciler) Player(id string) (protocol.Player, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[id]
	return p, ok
}

// PendingCount returns the number of buffered intents.
func (r *Reconciler) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Submit records a user action. When Synced it returns the encoded
// intent frame to send immediately; otherwise the action is buffered and
// the returned frame is nil. Buffered actions are never dropped.
func (r *Reconciler) Submit(op protocol.IntentOp, dir protocol.Direction) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateSynced {
		r.pending = append(r.pending, pendingIntent{op: op, dir: dir})
		return nil
	}
	return r.encodeIntentLocked(op, dir)
}

// encodeIntentLocked assigns the next sequence and encodes the intent.
func (r *Reconciler) encodeIntentLocked(op protocol.IntentOp, dir protocol.Direction) []byte {
	r.seq++
	in := &protocol.Intent{Seq: r.seq, Op: op, Direction: dir}
	return protocol.NewFrame(protocol.FrameIntent, protocol.EncodeIntent(in)).Encode()
}

// ApplySnapshot replaces the local view wholesale and returns to Synced.
// Sequencing restarts because the server reset its accepted sequence
// alongside the snapshot. Buffered intents flush with fresh sequence
// numbers; the returned frames must be sent in order.
func (r *Reconciler) ApplySnapshot(snap *protocol.Snapshot) (flush [][]byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.width = snap.Width
	r.height = snap.Height
	r.players = make(map[string]protocol.Player, len(snap.Players))
	for _, p := range snap.Players {
		r.players[p.ID] = p
	}
	r.version = snap.Version
	r.seq = 0
	r.state = StateSynced

	r.logger.Debug("snapshot applied",
		"version", snap.Version, "players", len(snap.Players))

	return r.flushPendingLocked()
}

// ApplyUpdate applies one server update. A version gap flips the state to
// ResyncNeeded and returns a ResyncRequest frame to send; the update is
// discarded because the view can no longer be trusted.
func (r *Reconciler) ApplyUpdate(u *protocol.Update) (resyncRequest []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateResyncNeeded {
		// Already waiting on a snapshot; drop interim updates.
		return nil
	}

	if u.Version != r.version+1 {
		r.logger.Warn("version gap detected",
			"have", r.version, "got", u.Version)
		return r.requestResyncLocked()
	}

	for _, c := range u.Changes {
		switch c.Kind {
		case protocol.ChangeUpsert:
			r.players[c.Player.ID] = c.Player
		case protocol.ChangeRemove:
			delete(r.players, c.Player.ID)
		}
	}
	r.version = u.Version
	return nil
}

// HandleError reacts to a server error frame. An out-of-order rejection
// means the server's idea of our sequence diverged, which only a snapshot
// resolves; other rejections leave the state alone.
func (r *Reconciler) HandleError(em *protocol.ErrorMessage) (resyncRequest []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.Warn("server error",
		"code", em.Code.String(), "seq", em.Seq, "message", em.Message)

	if em.Code == protocol.ErrOutOfOrder && r.state == StateSynced {
		return r.requestResyncLocked()
	}
	return nil
}

// Disconnected records the loss of the connection. Later submissions are
// buffered until a reconnect completes.
func (r *Reconciler) Disconnected() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = StateDisconnected
}

// Reconnected restores the Synced state after a resume in which the
// server replayed the missed updates instead of snapshotting. Sequencing
// continues where it left off and buffered intents flush in order.
func (r *Reconciler) Reconnected() (flush [][]byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state = StateSynced
	return r.flushPendingLocked()
}

// LastVersion returns the version to report in a resume handshake.
func (r *Reconciler) LastVersion() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.version
}

// Reset clears all local state for a fresh (non-resume) connection.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state = StateDisconnected
	r.version = 0
	r.seq = 0
	r.width = 0
	r.height = 0
	r.players = make(map[string]protocol.Player)
	// Pending intents survive even a full reset; they are user actions
	// that still want to happen.
}

func (r *Reconciler) requestResyncLocked() []byte {
	r.state = StateResyncNeeded
	ct, rr := protocol.NewResyncRequest(r.version)
	return protocol.NewFrame(protocol.FrameControl, protocol.EncodeControl(ct, rr)).Encode()
}

func (r *Reconciler) flushPendingLocked() [][]byte {
	if len(r.pending) == 0 {
		return nil
	}
	frames := make([][]byte, 0, len(r.pending))
	for _, p := range r.pending {
		frames = append(frames, r.encodeIntentLocked(p.op, p.dir))
	}
	r.pending = r.pending[:0]
	return frames
}
