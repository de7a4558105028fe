package server

import (
	"errors"
	"testing"
)

func TestSessionError_Error(t *testing.T) {
	err := NewSessionError("abc123", "resume", ErrSessionClosed)
	want := "server: session abc123: resume: server: session closed"
	if got := err.Error(); got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}

	anon := NewSessionError("", "admit", ErrMaxSessionsReached)
	want = "server: admit: server: max sessions reached"
	if got := anon.Error(); got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestSessionError_Unwrap(t *testing.T) {
	err := NewSessionError("abc123", "resume", ErrSessionClosed)
	if !errors.Is(err, ErrSessionClosed) {
		t.Errorf("errors.Is(err, ErrSessionClosed) = false, want true")
	}

	var se *SessionError
	if !errors.As(err, &se) {
		t.Fatal("errors.As(err, *SessionError) = false, want true")
	}
	if se.SessionID != "abc123" || se.Op != "resume" {
		t.Errorf("unwrapped SessionError = %+v", se)
	}
}
