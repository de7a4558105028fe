package protocol

import (
	"strings"
	"testing"
)

func TestErrorMessageRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		em   *ErrorMessage
	}{
		{
			name: "out_of_order",
			em:   NewError(ErrOutOfOrder, 7, "expected seq 5, got 7"),
		},
		{
			name: "rejected",
			em:   NewError(ErrRejected, 12, "player not joined"),
		},
		{
			name: "fatal_internal",
			em:   &ErrorMessage{Code: ErrInternal, Message: "mutation failed", Fatal: true},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			decoded, err := DecodeErrorMessage(EncodeErrorMessage(tc.em))
			if err != nil {
				t.Fatalf("DecodeErrorMessage() error = %v", err)
			}
			if *decoded != *tc.em {
				t.Errorf("decoded = %+v, want %+v", decoded, tc.em)
			}
		})
	}
}

func TestErrorMessageError(t *testing.T) {
	em := NewError(ErrOutOfOrder, 3, "gap")
	if got := em.Error(); !strings.Contains(got, "OutOfOrder") {
		t.Errorf("Error() = %q, want code name present", got)
	}

	fatal := &ErrorMessage{Code: ErrSessionExpired, Message: "too old", Fatal: true}
	if got := fatal.Error(); !strings.HasPrefix(got, "fatal:") {
		t.Errorf("Error() = %q, want fatal prefix", got)
	}
}

func TestErrorCodeString(t *testing.T) {
	if got := ErrRateLimited.String(); got != "RateLimited" {
		t.Errorf("ErrRateLimited.String() = %q", got)
	}
	if got := ErrorCode(0x9999).String(); got != "Unknown" {
		t.Errorf("unknown code String() = %q", got)
	}
}
