package protocol

import (
	"errors"
	"testing"
)

func TestIntentRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		intent *Intent
	}{
		{
			name:   "join",
			intent: &Intent{Seq: 1, Op: IntentJoin},
		},
		{
			name:   "move_up",
			intent: &Intent{Seq: 2, Op: IntentMove, Direction: DirUp},
		},
		{
			name:   "move_right_large_seq",
			intent: &Intent{Seq: 1 << 40, Op: IntentMove, Direction: DirRight},
		},
		{
			name:   "leave",
			intent: &Intent{Seq: 3, Op: IntentLeave},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			decoded, err := DecodeIntent(EncodeIntent(tc.intent))
			if err != nil {
				t.Fatalf("DecodeIntent() error = %v", err)
			}
			if *decoded != *tc.intent {
				t.Errorf("decoded = %+v, want %+v", decoded, tc.intent)
			}
		})
	}
}

func TestDecodeIntentInvalidOp(t *testing.T) {
	e := NewEncoder()
	e.WriteUvarint(1)
	e.WriteByte(0x7F)
	if _, err := DecodeIntent(e.Bytes()); !errors.Is(err, ErrInvalidIntentOp) {
		t.Errorf("DecodeIntent() error = %v, want ErrInvalidIntentOp", err)
	}
}

func TestIntentMoveOmitsDirectionForOthers(t *testing.T) {
	// Join and Leave carry no direction byte on the wire.
	join := EncodeIntent(&Intent{Seq: 1, Op: IntentJoin})
	move := EncodeIntent(&Intent{Seq: 1, Op: IntentMove, Direction: DirUp})
	if len(move) != len(join)+1 {
		t.Errorf("len(move) = %d, len(join) = %d, want move = join+1", len(move), len(join))
	}
}

func TestDirectionValid(t *testing.T) {
	for _, dir := range []Direction{DirUp, DirDown, DirLeft, DirRight} {
		if !dir.Valid() {
			t.Errorf("%v.Valid() = false", dir)
		}
	}
	if Direction(0).Valid() || Direction(5).Valid() {
		t.Error("out-of-range direction reported valid")
	}
}
