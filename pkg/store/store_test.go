package store

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/gridwire/gridwire/pkg/protocol"
)

func TestMemoryStoreSaveLoad(t *testing.T) {
	st := NewMemoryStore()
	defer st.Close()
	ctx := context.Background()

	snap := &protocol.Snapshot{
		Version: 17,
		Width:   20,
		Height:  20,
		Players: []protocol.Player{
			{ID: "p1", X: 2, Y: 3, Color: "#e63946"},
		},
	}

	if err := st.Save(ctx, snap); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := st.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !reflect.DeepEqual(got, snap) {
		t.Errorf("Load() = %+v, want %+v", got, snap)
	}
}

func TestMemoryStoreLoadEmpty(t *testing.T) {
	st := NewMemoryStore()
	defer st.Close()

	if _, err := st.Load(context.Background()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load() error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreSaveOverwrites(t *testing.T) {
	st := NewMemoryStore()
	defer st.Close()
	ctx := context.Background()

	first := &protocol.Snapshot{Version: 1, Width: 5, Height: 5, Players: []protocol.Player{}}
	second := &protocol.Snapshot{Version: 9, Width: 5, Height: 5, Players: []protocol.Player{}}

	if err := st.Save(ctx, first); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := st.Save(ctx, second); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := st.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Version != 9 {
		t.Errorf("Version = %d, want 9", got.Version)
	}
}

func TestMemoryStoreDelete(t *testing.T) {
	st := NewMemoryStore()
	defer st.Close()
	ctx := context.Background()

	snap := &protocol.Snapshot{Version: 1, Width: 5, Height: 5, Players: []protocol.Player{}}
	if err := st.Save(ctx, snap); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := st.Delete(ctx); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := st.Load(ctx); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load() after delete error = %v, want ErrNotFound", err)
	}

	// Deleting again is not an error.
	if err := st.Delete(ctx); err != nil {
		t.Errorf("second Delete() error = %v", err)
	}
}

func TestMemoryStoreClosed(t *testing.T) {
	st := NewMemoryStore()
	st.Close()
	ctx := context.Background()

	snap := &protocol.Snapshot{Version: 1, Width: 5, Height: 5, Players: []protocol.Player{}}
	if err := st.Save(ctx, snap); !errors.Is(err, ErrClosed) {
		t.Errorf("Save() on closed store error = %v, want ErrClosed", err)
	}
	if _, err := st.Load(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Load() on closed store error = %v, want ErrClosed", err)
	}
}
