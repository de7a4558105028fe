// Package world holds the authoritative shared grid state. The world is
// a bounded grid of colored player squares; all mutation goes through
// Apply, which either commits an intent's full effect or leaves the state
// untouched.
//
// The package does no locking. The synchronization engine owns the world
// and serializes access to it.
package world

import (
	"errors"
	"fmt"

	"github.com/gridwire/gridwire/pkg/protocol"
)

// MaxPlayers bounds the number of players in a world regardless of grid
// size. The bound keeps a full snapshot within a single frame payload
// (see protocol.MaxPayloadSize).
const MaxPlayers = 1024

// World errors. Apply wraps these so callers can map them to protocol
// error codes with errors.Is.
var (
	ErrAlreadyJoined    = errors.New("world: player already joined")
	ErrNotJoined        = errors.New("world: player not joined")
	ErrInvalidDirection = errors.New("world: invalid direction")
	ErrFull             = errors.New("world: no free cells")
)

// palette is the set of colors assigned to joining players, in order.
// Taken round-robin so neighboring joins look distinct.
var palette = []string{
	"#e63946", "#457b9d", "#2a9d8f", "#e9c46a",
	"#f4a261", "#9b5de5", "#00b4d8", "#ef476f",
}

// State is the grid world at a single version. Coordinates are cell
// indices with (0,0) at the top-left.
type State struct {
	width   uint32
	height  uint32
	players map[string]protocol.Player
	joins   uint64 // total joins ever, drives spawn and color assignment
}

// New creates an empty world with the given dimensions. Width and height
// must be at least 1.
func New(width, height uint32) *State {
	if width == 0 {
		width = 1
	}
	if height == 0 {
		height = 1
	}
	return &State{
		width:   width,
		height:  height,
		players: make(map[string]protocol.Player),
	}
}

// Width returns the grid width in cells.
func (s *State) Width() uint32 { return s.width }

// Height returns the grid height in cells.
func (s *State) Height() uint32 { return s.height }

// Len returns the number of players in the world.
func (s *State) Len() int { return len(s.players) }

// Player returns the player with the given ID.
func (s *State) Player(id string) (protocol.Player, bool) {
	p, ok := s.players[id]
	return p, ok
}

// Players returns a copy of all players. Order is unspecified.
func (s *State) Players() []protocol.Player {
	out := make([]protocol.Player, 0, len(s.players))
	for _, p := range s.players {
		out = append(out, p)
	}
	return out
}

// Snapshot returns the full world state at the given version.
func (s *State) Snapshot(version uint64) *protocol.Snapshot {
	return &protocol.Snapshot{
		Version: version,
		Width:   s.width,
		Height:  s.height,
		Players: s.Players(),
	}
}

// Restore replaces the world contents from a snapshot. Dimensions come
// from the snapshot too, so a restored world matches what clients saw.
func (s *State) Restore(snap *protocol.Snapshot) {
	s.width = snap.Width
	s.height = snap.Height
	if s.width == 0 {
		s.width = 1
	}
	if s.height == 0 {
		s.height = 1
	}
	s.players = make(map[string]protocol.Player, len(snap.Players))
	for _, p := range snap.Players {
		s.players[p.ID] = p
	}
	if n := uint64(len(snap.Players)); n > s.joins {
		s.joins = n
	}
}

// Apply applies an intent on behalf of a player and returns the resulting
// changes. On error the state is unchanged and the change list is nil.
func (s *State) Apply(playerID string, in *protocol.Intent) ([]protocol.Change, error) {
	switch in.Op {
	case protocol.IntentJoin:
		p, err := s.join(playerID)
		if err != nil {
			return nil, err
		}
		return []protocol.Change{{Kind: protocol.ChangeUpsert, Player: p}}, nil

	case protocol.IntentMove:
		p, err := s.move(playerID, in.Direction)
		if err != nil {
			return nil, err
		}
		return []protocol.Change{{Kind: protocol.ChangeUpsert, Player: p}}, nil

	case protocol.IntentLeave:
		if err := s.leave(playerID); err != nil {
			return nil, err
		}
		return []protocol.Change{{Kind: protocol.ChangeRemove, Player: protocol.Player{ID: playerID}}}, nil

	default:
		return nil, fmt.Errorf("world: unknown intent op %d", in.Op)
	}
}

// join places a new player at a deterministic spawn cell. The spawn walks
// the grid from a join-count offset so players spread out; the join is
// refused once every cell is taken or the world holds MaxPlayers.
func (s *State) join(playerID string) (protocol.Player, error) {
	if _, ok := s.players[playerID]; ok {
		return protocol.Player{}, ErrAlreadyJoined
	}

	total := uint64(s.width) * uint64(s.height)
	if uint64(len(s.players)) >= total || len(s.players) >= MaxPlayers {
		return protocol.Player{}, ErrFull
	}

	occupied := make(map[uint64]bool, len(s.players))
	for _, p := range s.players {
		occupied[uint64(p.Y)*uint64(s.width)+uint64(p.X)] = true
	}

	// Stride by a coprime-ish step so consecutive joins land apart
	// instead of filling row by row.
	start := (s.joins * 7) % total
	for i := uint64(0); i < total; i++ {
		cell := (start + i) % total
		if occupied[cell] {
			continue
		}
		p := protocol.Player{
			ID:    playerID,
			X:     uint32(cell % uint64(s.width)),
			Y:     uint32(cell / uint64(s.width)),
			Color: palette[s.joins%uint64(len(palette))],
		}
		s.players[playerID] = p
		s.joins++
		return p, nil
	}
	return protocol.Player{}, ErrFull
}

// move shifts a player one cell, clamping at the grid edge. Moving into
// a wall is accepted and leaves the position unchanged; the resulting
// update still confirms the intent.
func (s *State) move(playerID string, dir protocol.Direction) (protocol.Player, error) {
	p, ok := s.players[playerID]
	if !ok {
		return protocol.Player{}, ErrNotJoined
	}
	if !dir.Valid() {
		return protocol.Player{}, ErrInvalidDirection
	}

	switch dir {
	case protocol.DirUp:
		if p.Y > 0 {
			p.Y--
		}
	case protocol.DirDown:
		if p.Y < s.height-1 {
			p.Y++
		}
	case protocol.DirLeft:
		if p.X > 0 {
			p.X--
		}
	case protocol.DirRight:
		if p.X < s.width-1 {
			p.X++
		}
	}

	s.players[playerID] = p
	return p, nil
}

func (s *State) leave(playerID string) error {
	if _, ok := s.players[playerID]; !ok {
		return ErrNotJoined
	}
	delete(s.players, playerID)
	return nil
}
