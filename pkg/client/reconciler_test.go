package client

import (
	"testing"

	"github.com/gridwire/gridwire/pkg/protocol"
)

func decodeIntentFrame(t *testing.T, data []byte) *protocol.Intent {
	t.Helper()
	frame, err := protocol.DecodeFrame(data)
	if err != nil {
		t.Fatalf("DecodeFrame() error: %v", err)
	}
	if frame.Type != protocol.FrameIntent {
		t.Fatalf("frame type = %v, want FrameIntent", frame.Type)
	}
	in, err := protocol.DecodeIntent(frame.Payload)
	if err != nil {
		t.Fatalf("DecodeIntent() error: %v", err)
	}
	return in
}

func decodeResyncRequestFrame(t *testing.T, data []byte) *protocol.ResyncRequest {
	t.Helper()
	frame, err := protocol.DecodeFrame(data)
	if err != nil {
		t.Fatalf("DecodeFrame() error: %v", err)
	}
	if frame.Type != protocol.FrameControl {
		t.Fatalf("frame type = %v, want FrameControl", frame.Type)
	}
	ct, payload, err := protocol.DecodeControl(frame.Payload)
	if err != nil {
		t.Fatalf("DecodeControl() error: %v", err)
	}
	if ct != protocol.ControlResyncRequest {
		t.Fatalf("control type = %v, want ControlResyncRequest", ct)
	}
	return payload.(*protocol.ResyncRequest)
}

func testSnapshot(version uint64, players ...protocol.Player) *protocol.Snapshot {
	return &protocol.Snapshot{
		Version: version,
		Width:   20,
		Height:  20,
		Players: players,
	}
}

func syncedReconciler(t *testing.T, version uint64) *Reconciler {
	t.Helper()
	r := NewReconciler(nil)
	r.ApplySnapshot(testSnapshot(version))
	if got := r.State(); got != StateSynced {
		t.Fatalf("state after snapshot = %v, want Synced", got)
	}
	return r
}

func TestReconcilerStartsDisconnected(t *testing.T) {
	r := NewReconciler(nil)
	if got := r.State(); got != StateDisconnected {
		t.Errorf("initial state = %v, want Disconnected", got)
	}
	if got := r.Version(); got != 0 {
		t.Errorf("initial version = %d, want 0", got)
	}
}

func TestSubmitWhileSyncedAssignsSequences(t *testing.T) {
	r := syncedReconciler(t, 5)

	f1 := r.Submit(protocol.IntentJoin, 0)
	f2 := r.Submit(protocol.IntentMove, protocol.DirUp)

	in1 := decodeIntentFrame(t, f1)
	in2 := decodeIntentFrame(t, f2)
	if in1.Seq != 1 || in2.Seq != 2 {
		t.Errorf("seqs = %d, %d, want 1, 2", in1.Seq, in2.Seq)
	}
	if in2.Op != protocol.IntentMove || in2.Direction != protocol.DirUp {
		t.Errorf("second intent = %v/%v, want Move/Up", in2.Op, in2.Direction)
	}
}

func TestSubmitBuffersWhileNotSynced(t *testing.T) {
	r := NewReconciler(nil)

	if frame := r.Submit(protocol.IntentJoin, 0); frame != nil {
		t.Fatal("Submit while Disconnected returned a frame, want buffered")
	}
	if got := r.PendingCount(); got != 1 {
		t.Fatalf("PendingCount() = %d, want 1", got)
	}

	flush := r.ApplySnapshot(testSnapshot(10))
	if len(flush) != 1 {
		t.Fatalf("flush len = %d, want 1", len(flush))
	}
	in := decodeIntentFrame(t, flush[0])
	if in.Seq != 1 || in.Op != protocol.IntentJoin {
		t.Errorf("flushed intent = seq %d op %v, want seq 1 op Join", in.Seq, in.Op)
	}
	if got := r.PendingCount(); got != 0 {
		t.Errorf("PendingCount() after flush = %d, want 0", got)
	}
}

func TestSnapshotRestartsSequencing(t *testing.T) {
	r := syncedReconciler(t, 1)
	r.Submit(protocol.IntentJoin, 0)
	r.Submit(protocol.IntentMove, protocol.DirLeft) // seq 2

	// A fresh snapshot means the server reset our accepted sequence.
	r.ApplySnapshot(testSnapshot(40))
	in := decodeIntentFrame(t, r.Submit(protocol.IntentMove, protocol.DirRight))
	if in.Seq != 1 {
		t.Errorf("seq after snapshot = %d, want 1", in.Seq)
	}
	if got := r.Version(); got != 40 {
		t.Errorf("version = %d, want 40", got)
	}
}

func TestApplyUpdateMutatesView(t *testing.T) {
	alice := protocol.Player{ID: "alice", X: 3, Y: 4, Color: "#e63946"}
	r := syncedReconciler(t, 7)

	req := r.ApplyUpdate(&protocol.Update{
		Version: 8,
		Changes: []protocol.Change{{Kind: protocol.ChangeUpsert, Player: alice}},
	})
	if req != nil {
		t.Fatal("contiguous update requested a resync")
	}
	got, ok := r.Player("alice")
	if !ok || got != alice {
		t.Fatalf("Player(alice) = %+v, %v", got, ok)
	}

	req = r.ApplyUpdate(&protocol.Update{
		Version: 9,
		Changes: []protocol.Change{{Kind: protocol.ChangeRemove, Player: protocol.Player{ID: "alice"}}},
	})
	if req != nil {
		t.Fatal("contiguous update requested a resync")
	}
	if _, ok := r.Player("alice"); ok {
		t.Error("alice still present after remove")
	}
	if got := r.Version(); got != 9 {
		t.Errorf("version = %d, want 9", got)
	}
}

func TestVersionGapRequestsResync(t *testing.T) {
	r := syncedReconciler(t, 10)

	req := r.ApplyUpdate(&protocol.Update{Version: 12})
	if req == nil {
		t.Fatal("version gap did not request a resync")
	}
	rr := decodeResyncRequestFrame(t, req)
	if rr.LastVersion != 10 {
		t.Errorf("resync LastVersion = %d, want 10", rr.LastVersion)
	}
	if got := r.State(); got != StateResyncNeeded {
		t.Fatalf("state = %v, want ResyncNeeded", got)
	}

	// Interim updates are dropped without another request; the view is
	// stale until a snapshot arrives.
	if req := r.ApplyUpdate(&protocol.Update{Version: 13}); req != nil {
		t.Error("update while ResyncNeeded requested another resync")
	}
	if got := r.Version(); got != 10 {
		t.Errorf("version moved to %d while ResyncNeeded", got)
	}

	r.ApplySnapshot(testSnapshot(14))
	if got := r.State(); got != StateSynced {
		t.Errorf("state after snapshot = %v, want Synced", got)
	}
}

func TestOutOfOrderErrorRequestsResync(t *testing.T) {
	r := syncedReconciler(t, 3)

	req := r.HandleError(protocol.NewError(protocol.ErrOutOfOrder, 5, "sequence mismatch"))
	if req == nil {
		t.Fatal("out-of-order error did not request a resync")
	}
	if got := r.State(); got != StateResyncNeeded {
		t.Errorf("state = %v, want ResyncNeeded", got)
	}
}

func TestRejectionErrorKeepsState(t *testing.T) {
	r := syncedReconciler(t, 3)

	req := r.HandleError(protocol.NewError(protocol.ErrRejected, 2, "cell occupied"))
	if req != nil {
		t.Fatal("rejection requested a resync")
	}
	if got := r.State(); got != StateSynced {
		t.Errorf("state = %v, want Synced", got)
	}
}

func TestReconnectedContinuesSequencing(t *testing.T) {
	r := syncedReconciler(t, 5)
	r.Submit(protocol.IntentJoin, 0) // seq 1

	r.Disconnected()
	if frame := r.Submit(protocol.IntentMove, protocol.DirDown); frame != nil {
		t.Fatal("Submit while Disconnected returned a frame")
	}

	// Replay resume: the server kept our sequence, so flushed intents
	// continue from where we left off.
	flush := r.Reconnected()
	if len(flush) != 1 {
		t.Fatalf("flush len = %d, want 1", len(flush))
	}
	in := decodeIntentFrame(t, flush[0])
	if in.Seq != 2 {
		t.Errorf("flushed seq = %d, want 2", in.Seq)
	}
}

func TestResetKeepsPending(t *testing.T) {
	r := syncedReconciler(t, 20)
	r.ApplyUpdate(&protocol.Update{
		Version: 21,
		Changes: []protocol.Change{{Kind: protocol.ChangeUpsert, Player: protocol.Player{ID: "bob"}}},
	})

	r.Disconnected()
	r.Submit(protocol.IntentMove, protocol.DirUp)
	r.Reset()

	if got := r.Version(); got != 0 {
		t.Errorf("version after reset = %d, want 0", got)
	}
	if got := len(r.Players()); got != 0 {
		t.Errorf("players after reset = %d, want 0", got)
	}
	if got := r.PendingCount(); got != 1 {
		t.Errorf("PendingCount() after reset = %d, want 1", got)
	}

	flush := r.ApplySnapshot(testSnapshot(1))
	if len(flush) != 1 {
		t.Fatalf("flush len = %d, want 1", len(flush))
	}
	if in := decodeIntentFrame(t, flush[0]); in.Seq != 1 {
		t.Errorf("flushed seq = %d, want 1", in.Seq)
	}
}
