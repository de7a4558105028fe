package protocol

import (
	"errors"
	"io"
	"testing"
)

func TestClientHelloRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		hello *ClientHello
	}{
		{
			name:  "fresh_connection",
			hello: NewClientHello("alice"),
		},
		{
			name: "resume",
			hello: &ClientHello{
				Version:     CurrentVersion,
				SessionID:   "a1b2c3d4e5f60718",
				LastVersion: 9001,
				Name:        "bob",
			},
		},
		{
			name:  "anonymous",
			hello: NewClientHello(""),
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			decoded, err := DecodeClientHello(EncodeClientHello(tc.hello))
			if err != nil {
				t.Fatalf("DecodeClientHello() error = %v", err)
			}
			if *decoded != *tc.hello {
				t.Errorf("decoded = %+v, want %+v", decoded, tc.hello)
			}
		})
	}
}

func TestClientHelloNameTruncated(t *testing.T) {
	long := make([]byte, MaxNameLength*4)
	for i := range long {
		long[i] = 'n'
	}

	ch := NewClientHello(string(long))
	decoded, err := DecodeClientHello(EncodeClientHello(ch))
	if err != nil {
		t.Fatalf("DecodeClientHello() error = %v", err)
	}
	if len(decoded.Name) != MaxNameLength {
		t.Errorf("decoded name length = %d, want %d", len(decoded.Name), MaxNameLength)
	}
}

func TestServerHelloRoundTrip(t *testing.T) {
	sh := NewServerHello("sess-1", "player-1", 42, 1756500000000)
	decoded, err := DecodeServerHello(EncodeServerHello(sh))
	if err != nil {
		t.Fatalf("DecodeServerHello() error = %v", err)
	}
	if *decoded != *sh {
		t.Errorf("decoded = %+v, want %+v", decoded, sh)
	}
}

func TestServerHelloError(t *testing.T) {
	sh := NewServerHelloError(HandshakeServerBusy)
	decoded, err := DecodeServerHello(EncodeServerHello(sh))
	if err != nil {
		t.Fatalf("DecodeServerHello() error = %v", err)
	}
	if decoded.Status != HandshakeServerBusy {
		t.Errorf("Status = %v, want ServerBusy", decoded.Status)
	}
	if decoded.SessionID != "" || decoded.PlayerID != "" {
		t.Errorf("error hello carries identifiers: %+v", decoded)
	}
}

func TestDecodeClientHelloTruncated(t *testing.T) {
	full := EncodeClientHello(NewClientHello("carol"))
	for i := 0; i < len(full); i++ {
		if _, err := DecodeClientHello(full[:i]); !errors.Is(err, io.ErrUnexpectedEOF) {
			t.Errorf("DecodeClientHello(%d bytes) error = %v, want ErrUnexpectedEOF", i, err)
		}
	}
}

func TestHandshakeStatusString(t *testing.T) {
	if got := HandshakeOK.String(); got != "OK" {
		t.Errorf("HandshakeOK.String() = %q", got)
	}
	if got := HandshakeStatus(0x7F).String(); got != "Unknown" {
		t.Errorf("unknown status String() = %q", got)
	}
}
