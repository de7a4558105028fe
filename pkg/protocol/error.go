package protocol

// ErrorCode identifies the type of error reported to a client.
type ErrorCode uint16

const (
	ErrUnknown        ErrorCode = 0x0000
	ErrOutOfOrder     ErrorCode = 0x0001 // Intent seq was not last accepted + 1
	ErrInvalidIntent  ErrorCode = 0x0002 // Malformed or semantically invalid intent
	ErrRejected       ErrorCode = 0x0003 // Valid intent refused by the world
	ErrRateLimited    ErrorCode = 0x0004 // Intake queue full, retry later
	ErrSessionExpired ErrorCode = 0x0005 // Session no longer valid
	ErrInternal       ErrorCode = 0x0100 // Mutation failed, state unchanged
)

// String returns the string representation of the error code.
func (ec ErrorCode) String() string {
	switch ec {
	case ErrOutOfOrder:
		return "OutOfOrder"
	case ErrInvalidIntent:
		return "InvalidIntent"
	case ErrRejected:
		return "Rejected"
	case ErrRateLimited:
		return "RateLimited"
	case ErrSessionExpired:
		return "SessionExpired"
	case ErrInternal:
		return "InternalError"
	default:
		return "Unknown"
	}
}

// ErrorMessage reports a rejection or protocol error to one client. Seq is
// the offending intent's sequence number, zero when the error is not tied
// to a specific intent. Fatal means the connection is about to close.
type ErrorMessage struct {
	Code    ErrorCode
	Seq     uint64
	Message string
	Fatal   bool
}

// EncodeErrorMessage encodes an ErrorMessage payload.
func EncodeErrorMessage(em *ErrorMessage) []byte {
	e := NewEncoder()
	e.WriteUint16(uint16(em.Code))
	e.WriteUvarint(em.Seq)
	e.WriteString(em.Message)
	e.WriteBool(em.Fatal)
	return e.Bytes()
}

// DecodeErrorMessage decodes an ErrorMessage payload.
func DecodeErrorMessage(data []byte) (*ErrorMessage, error) {
	d := NewDecoder(data)
	em := &ErrorMessage{}

	code, err := d.ReadUint16()
	if err != nil {
		return nil, err
	}
	em.Code = ErrorCode(code)

	if em.Seq, err = d.ReadUvarint(); err != nil {
		return nil, err
	}
	if em.Message, err = d.ReadString(); err != nil {
		return nil, err
	}
	if em.Fatal, err = d.ReadBool(); err != nil {
		return nil, err
	}
	return em, nil
}

// NewError creates a non-fatal ErrorMessage for an intent.
func NewError(code ErrorCode, seq uint64, message string) *ErrorMessage {
	return &ErrorMessage{Code: code, Seq: seq, Message: message}
}

// Error implements the error interface.
func (em *ErrorMessage) Error() string {
	if em.Fatal {
		return "fatal: " + em.Code.String() + ": " + em.Message
	}
	return em.Code.String() + ": " + em.Message
}
