package protocol

import "errors"

// IntentOp identifies the kind of state change a client is requesting.
type IntentOp uint8

const (
	IntentJoin  IntentOp = 0x01 // Place the session's player into the world
	IntentMove  IntentOp = 0x02 // Move the player one step
	IntentLeave IntentOp = 0x03 // Remove the player
)

// String returns the string representation of the intent op.
func (op IntentOp) String() string {
	switch op {
	case IntentJoin:
		return "Join"
	case IntentMove:
		return "Move"
	case IntentLeave:
		return "Leave"
	default:
		return "Unknown"
	}
}

// Direction is a movement direction for IntentMove.
type Direction uint8

const (
	DirUp    Direction = 0x01
	DirDown  Direction = 0x02
	DirLeft  Direction = 0x03
	DirRight Direction = 0x04
)

// String returns the string representation of the direction.
func (dir Direction) String() string {
	switch dir {
	case DirUp:
		return "Up"
	case DirDown:
		return "Down"
	case DirLeft:
		return "Left"
	case DirRight:
		return "Right"
	default:
		return "Unknown"
	}
}

// Valid reports whether dir is a known direction.
func (dir Direction) Valid() bool {
	return dir >= DirUp && dir <= DirRight
}

// ErrInvalidIntentOp is returned when decoding an unknown intent op.
var ErrInvalidIntentOp = errors.New("protocol: invalid intent op")

// Intent is a client-originated request to change shared state. Seq is
// assigned by the client, starts at 1, and increases by exactly one per
// submitted intent; the server rejects anything else as out of order.
type Intent struct {
	Seq       uint64
	Op        IntentOp
	Direction Direction // Only meaningful for IntentMove
}

// EncodeIntent encodes an Intent payload.
func EncodeIntent(in *Intent) []byte {
	e := NewEncoder()
	e.WriteUvarint(in.Seq)
	e.WriteByte(byte(in.Op))
	if in.Op == IntentMove {
		e.WriteByte(byte(in.Direction))
	}
	return e.Bytes()
}

// DecodeIntent decodes an Intent payload.
func DecodeIntent(data []byte) (*Intent, error) {
	d := NewDecoder(data)
	in := &Intent{}

	var err error
	if in.Seq, err = d.ReadUvarint(); err != nil {
		return nil, err
	}

	op, err := d.ReadByte()
	if err != nil {
		return nil, err
	}
	in.Op = IntentOp(op)

	switch in.Op {
	case IntentJoin, IntentLeave:
		// No body
	case IntentMove:
		dir, err := d.ReadByte()
		if err != nil {
			return nil, err
		}
		in.Direction = Direction(dir)
	default:
		return nil, ErrInvalidIntentOp
	}

	return in, nil
}
