package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gridwire/gridwire/pkg/protocol"
	"github.com/gridwire/gridwire/pkg/world"
)

// intentEnvelope carries one intent through the engine's intake queue.
type intentEnvelope struct {
	sess   *Session
	intent *protocol.Intent
}

// Engine serializes all world mutation. Intents from every session flow
// through a single intake channel and are applied one at a time by the
// run goroutine, which assigns each accepted intent the next global world
// version and fans the resulting update out to all sessions.
//
// Ordering contract per session: an intent is accepted only when its
// sequence is exactly one past the session's last accepted sequence.
// Anything else is rejected as out of order, state untouched, and only
// the originating session is told.
type Engine struct {
	// mu guards world and version, and is held across history.Add and
	// broadcast so updates are recorded and queued in version order.
	// The run goroutine and RemovePlayer, which expiry sweeps call
	// from registry goroutines, are the writers.
	mu      sync.Mutex
	world   *world.State
	version uint64

	intake  chan intentEnvelope
	history *UpdateHistory

	// forEach walks the sessions that should receive broadcasts.
	forEach func(func(*Session))

	logger  *slog.Logger
	metrics *Metrics

	done    chan struct{}
	stopped chan struct{}
}

// NewEngine creates an engine over the given world. forEach enumerates
// broadcast targets and is supplied by the registry.
func NewEngine(w *world.State, intakeSize, historySize int, forEach func(func(*Session)), logger *slog.Logger, metrics *Metrics) *Engine {
	if intakeSize <= 0 {
		intakeSize = 1024
	}
	return &Engine{
		world:   w,
		intake:  make(chan intentEnvelope, intakeSize),
		history: NewUpdateHistory(historySize),
		forEach: forEach,
		logger:  logger.With("component", "engine"),
		metrics: metrics,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Run processes intents until Stop is called. It must run on exactly one
// goroutine.
func (e *Engine) Run() {
	defer close(e.stopped)
	for {
		select {
		case env := <-e.intake:
			e.process(env.sess, env.intent)
		case <-e.done:
			// Drain what was already queued so accepted intents
			// are not silently lost at shutdown.
			for {
				select {
				case env := <-e.intake:
					e.process(env.sess, env.intent)
				default:
					return
				}
			}
		}
	}
}

// Stop stops the run loop and waits for it to finish.
func (e *Engine) Stop() {
	select {
	case <-e.done:
	default:
		close(e.done)
	}
	<-e.stopped
}

// Submit queues an intent for processing. It never blocks; a full intake
// returns ErrIntakeFull and the caller reports rate limiting to the
// client.
func (e *Engine) Submit(sess *Session, in *protocol.Intent) error {
	select {
	case <-e.done:
		return ErrEngineStopped
	default:
	}

	select {
	case e.intake <- intentEnvelope{sess: sess, intent: in}:
		return nil
	default:
		return ErrIntakeFull
	}
}

// process validates and applies one intent.
func (e *Engine) process(sess *Session, in *protocol.Intent) {
	start := time.Now()
	_, span := startIntentSpan(context.Background(), sess.ID, in)

	// Per-session ordering check. Sequences start at 1 and increase by
	// exactly one; the world is untouched on a mismatch.
	want := sess.lastSeq.Load() + 1
	if in.Seq != want {
		err := fmt.Errorf("out of order: expected seq %d, got %d", want, in.Seq)
		endIntentSpan(span, 0, err)
		e.metrics.RecordIntent(in.Op.String(), "out_of_order", time.Since(start).Seconds())
		e.logger.Debug("intent rejected",
			"session_id", sess.ID, "seq", in.Seq, "expected", want)
		sess.sendErrorMessage(protocol.NewError(protocol.ErrOutOfOrder, in.Seq,
			fmt.Sprintf("expected seq %d", want)))
		return
	}

	e.mu.Lock()
	changes, err := e.world.Apply(sess.PlayerID, in)
	if err != nil {
		e.mu.Unlock()
		endIntentSpan(span, 0, err)
		e.metrics.RecordIntent(in.Op.String(), "rejected", time.Since(start).Seconds())
		// The intent was well ordered even though the world refused
		// it; advancing the sequence keeps the client's numbering
		// usable for its next intent.
		sess.lastSeq.Store(in.Seq)
		sess.sendErrorMessage(rejectionError(in.Seq, err))
		return
	}

	e.version++
	version := e.version
	players := e.world.Len()

	update := &protocol.Update{Version: version, Changes: changes}
	frame := protocol.NewFrame(protocol.FrameUpdate, protocol.EncodeUpdate(update)).Encode()

	// Record and fan out under the lock so versions reach the history
	// and every queue in assignment order even when a synthetic leave
	// runs concurrently. Encoded once; every session queues the same
	// bytes, and QueueFrame never blocks.
	e.history.Add(version, frame)
	e.broadcast(frame)
	e.mu.Unlock()

	sess.lastSeq.Store(in.Seq)

	e.metrics.RecordIntent(in.Op.String(), "applied", time.Since(start).Seconds())
	e.metrics.SetWorldPlayers(players)
	endIntentSpan(span, version, nil)
}

// rejectionError maps world errors to protocol error messages.
func rejectionError(seq uint64, err error) *protocol.ErrorMessage {
	switch {
	case errors.Is(err, world.ErrInvalidDirection):
		return protocol.NewError(protocol.ErrInvalidIntent, seq, "invalid direction")
	case errors.Is(err, world.ErrAlreadyJoined):
		return protocol.NewError(protocol.ErrRejected, seq, "already joined")
	case errors.Is(err, world.ErrNotJoined):
		return protocol.NewError(protocol.ErrRejected, seq, "not joined")
	case errors.Is(err, world.ErrFull):
		return protocol.NewError(protocol.ErrRejected, seq, "world is full")
	default:
		return protocol.NewError(protocol.ErrInternal, seq, "internal error")
	}
}

// broadcast queues a frame to every session, the originator included.
// The originator learns its intent was accepted by seeing the update.
func (e *Engine) broadcast(frame []byte) {
	count := 0
	e.forEach(func(s *Session) {
		s.QueueFrame(frame)
		count++
	})
	e.metrics.RecordUpdates(count)
}

// RemovePlayer removes an expired session's player from the world with a
// synthetic leave, broadcast like any other update.
func (e *Engine) RemovePlayer(playerID string) {
	e.mu.Lock()
	changes, err := e.world.Apply(playerID, &protocol.Intent{Op: protocol.IntentLeave})
	if err != nil {
		e.mu.Unlock()
		// Not joined; nothing to announce.
		return
	}
	e.version++
	version := e.version
	players := e.world.Len()

	update := &protocol.Update{Version: version, Changes: changes}
	frame := protocol.NewFrame(protocol.FrameUpdate, protocol.EncodeUpdate(update)).Encode()
	e.history.Add(version, frame)
	e.broadcast(frame)
	e.mu.Unlock()

	e.metrics.SetWorldPlayers(players)
	e.logger.Info("player removed", "player_id", playerID, "version", version)
}

// Version returns the current world version.
func (e *Engine) Version() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.version
}

// Snapshot returns the full world state at the current version.
func (e *Engine) Snapshot() *protocol.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.world.Snapshot(e.version)
}

// SnapshotFrame returns an encoded Snapshot frame of the current state.
func (e *Engine) SnapshotFrame() []byte {
	snap := e.Snapshot()
	return protocol.NewFrame(protocol.FrameSnapshot, protocol.EncodeSnapshot(snap)).Encode()
}

// History returns the update replay buffer.
func (e *Engine) History() *UpdateHistory {
	return e.history
}

// Restore loads world state from a snapshot, typically at boot. Replay
// history is cleared since pre-restore versions are no longer contiguous.
func (e *Engine) Restore(snap *protocol.Snapshot) {
	e.mu.Lock()
	e.world.Restore(snap)
	if snap.Version > e.version {
		e.version = snap.Version
	}
	players := e.world.Len()
	version := e.version
	e.history.Clear()
	e.mu.Unlock()

	e.metrics.SetWorldPlayers(players)
	e.logger.Info("world restored", "version", version, "players", players)
}
