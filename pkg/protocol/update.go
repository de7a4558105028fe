package protocol

import "errors"

// Player is the wire representation of one player square.
type Player struct {
	ID    string
	X     uint32
	Y     uint32
	Color string
}

// ChangeKind identifies what happened to a player in an update.
type ChangeKind uint8

const (
	ChangeUpsert ChangeKind = 0x01 // Player added or moved
	ChangeRemove ChangeKind = 0x02 // Player left
)

// String returns the string representation of the change kind.
func (ck ChangeKind) String() string {
	switch ck {
	case ChangeUpsert:
		return "Upsert"
	case ChangeRemove:
		return "Remove"
	default:
		return "Unknown"
	}
}

// ErrInvalidChangeKind is returned when decoding an unknown change kind.
var ErrInvalidChangeKind = errors.New("protocol: invalid change kind")

// Change is one player-level effect of an accepted intent. A Remove
// carries only the player ID.
type Change struct {
	Kind   ChangeKind
	Player Player
}

// Update is a server-confirmed state change. Version is assigned by the
// server, is strictly increasing across all sessions, and has no gaps as
// seen by a synced client; a gap means updates were missed and the client
// must resynchronize from a snapshot.
type Update struct {
	Version uint64
	Changes []Change
}

// Snapshot is the full authoritative world state at a version. Clients
// replace their local view with it wholesale.
type Snapshot struct {
	Version uint64
	Width   uint32
	Height  uint32
	Players []Player
}

func encodePlayer(e *Encoder, p *Player) {
	e.WriteString(p.ID)
	e.WriteUvarint(uint64(p.X))
	e.WriteUvarint(uint64(p.Y))
	e.WriteString(p.Color)
}

func decodePlayer(d *Decoder, p *Player) error {
	var err error
	if p.ID, err = d.ReadString(); err != nil {
		return err
	}
	x, err := d.ReadUvarint()
	if err != nil {
		return err
	}
	y, err := d.ReadUvarint()
	if err != nil {
		return err
	}
	p.X = uint32(x)
	p.Y = uint32(y)
	if p.Color, err = d.ReadString(); err != nil {
		return err
	}
	return nil
}

// EncodeUpdate encodes an Update payload.
func EncodeUpdate(u *Update) []byte {
	e := NewEncoder()
	e.WriteUvarint(u.Version)
	e.WriteUvarint(uint64(len(u.Changes)))
	for i := range u.Changes {
		c := &u.Changes[i]
		e.WriteByte(byte(c.Kind))
		switch c.Kind {
		case ChangeUpsert:
			encodePlayer(e, &c.Player)
		case ChangeRemove:
			e.WriteString(c.Player.ID)
		}
	}
	return e.Bytes()
}

// DecodeUpdate decodes an Update payload.
func DecodeUpdate(data []byte) (*Update, error) {
	d := NewDecoder(data)
	u := &Update{}

	var err error
	if u.Version, err = d.ReadUvarint(); err != nil {
		return nil, err
	}

	count, err := d.ReadCollectionCount()
	if err != nil {
		return nil, err
	}
	u.Changes = make([]Change, count)
	for i := 0; i < count; i++ {
		kind, err := d.ReadByte()
		if err != nil {
			return nil, err
		}
		u.Changes[i].Kind = ChangeKind(kind)
		switch u.Changes[i].Kind {
		case ChangeUpsert:
			if err := decodePlayer(d, &u.Changes[i].Player); err != nil {
				return nil, err
			}
		case ChangeRemove:
			if u.Changes[i].Player.ID, err = d.ReadString(); err != nil {
				return nil, err
			}
		default:
			return nil, ErrInvalidChangeKind
		}
	}

	return u, nil
}

// EncodeSnapshot encodes a Snapshot payload.
func EncodeSnapshot(s *Snapshot) []byte {
	e := NewEncoderWithCap(64 + 32*len(s.Players))
	e.WriteUvarint(s.Version)
	e.WriteUvarint(uint64(s.Width))
	e.WriteUvarint(uint64(s.Height))
	e.WriteUvarint(uint64(len(s.Players)))
	for i := range s.Players {
		encodePlayer(e, &s.Players[i])
	}
	return e.Bytes()
}

// DecodeSnapshot decodes a Snapshot payload.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	d := NewDecoder(data)
	s := &Snapshot{}

	var err error
	if s.Version, err = d.ReadUvarint(); err != nil {
		return nil, err
	}
	w, err := d.ReadUvarint()
	if err != nil {
		return nil, err
	}
	h, err := d.ReadUvarint()
	if err != nil {
		return nil, err
	}
	s.Width = uint32(w)
	s.Height = uint32(h)

	count, err := d.ReadCollectionCount()
	if err != nil {
		return nil, err
	}
	s.Players = make([]Player, count)
	for i := 0; i < count; i++ {
		if err := decodePlayer(d, &s.Players[i]); err != nil {
			return nil, err
		}
	}

	return s, nil
}
