package protocol

// HandshakeStatus is the result of a handshake.
type HandshakeStatus uint8

const (
	HandshakeOK              HandshakeStatus = 0x00
	HandshakeVersionMismatch HandshakeStatus = 0x01
	HandshakeSessionExpired  HandshakeStatus = 0x02
	HandshakeServerBusy      HandshakeStatus = 0x03
	HandshakeInvalidFormat   HandshakeStatus = 0x04
	HandshakeInternalError   HandshakeStatus = 0x05
)

// String returns the string representation of the handshake status.
func (hs HandshakeStatus) String() string {
	switch hs {
	case HandshakeOK:
		return "OK"
	case HandshakeVersionMismatch:
		return "VersionMismatch"
	case HandshakeSessionExpired:
		return "SessionExpired"
	case HandshakeServerBusy:
		return "ServerBusy"
	case HandshakeInvalidFormat:
		return "InvalidFormat"
	case HandshakeInternalError:
		return "InternalError"
	default:
		return "Unknown"
	}
}

// Version is a protocol version as major.minor. Servers reject a major
// mismatch; minors are expected to stay wire-compatible.
type Version struct {
	Major uint8
	Minor uint8
}

// CurrentVersion is the protocol version spoken by this package.
var CurrentVersion = Version{Major: 1, Minor: 0}

// MaxNameLength bounds the display name carried in a ClientHello.
// EncodeClientHello truncates longer names so a hello always fits in a
// single frame.
const MaxNameLength = 64

// ClientHello is the first frame a client sends after the WebSocket opens.
// SessionID is empty for a fresh connection; a reconnecting client sends
// its previous session ID plus the last world version it applied so the
// server can decide between incremental replay and a full snapshot.
type ClientHello struct {
	Version     Version
	SessionID   string
	LastVersion uint64
	Name        string // Requested display name, may be empty
}

// ServerHello is the server's response. On HandshakeOK the server follows
// immediately with a Snapshot frame at WorldVersion; the client must not
// send intents before that snapshot arrives.
type ServerHello struct {
	Status       HandshakeStatus
	SessionID    string
	PlayerID     string
	WorldVersion uint64
	ServerTime   uint64 // Unix milliseconds
}

// EncodeClientHello encodes a ClientHello payload. Names longer than
// MaxNameLength are truncated.
func EncodeClientHello(ch *ClientHello) []byte {
	name := ch.Name
	if len(name) > MaxNameLength {
		name = name[:MaxNameLength]
	}
	e := NewEncoder()
	e.WriteByte(ch.Version.Major)
	e.WriteByte(ch.Version.Minor)
	e.WriteString(ch.SessionID)
	e.WriteUvarint(ch.LastVersion)
	e.WriteString(name)
	return e.Bytes()
}

// DecodeClientHello decodes a ClientHello payload.
func DecodeClientHello(data []byte) (*ClientHello, error) {
	d := NewDecoder(data)
	ch := &ClientHello{}

	major, err := d.ReadByte()
	if err != nil {
		return nil, err
	}
	minor, err := d.ReadByte()
	if err != nil {
		return nil, err
	}
	ch.Version = Version{Major: major, Minor: minor}

	if ch.SessionID, err = d.ReadString(); err != nil {
		return nil, err
	}
	if ch.LastVersion, err = d.ReadUvarint(); err != nil {
		return nil, err
	}
	if ch.Name, err = d.ReadString(); err != nil {
		return nil, err
	}
	return ch, nil
}

// EncodeServerHello encodes a ServerHello payload.
func EncodeServerHello(sh *ServerHello) []byte {
	e := NewEncoder()
	e.WriteByte(byte(sh.Status))
	e.WriteString(sh.SessionID)
	e.WriteString(sh.PlayerID)
	e.WriteUvarint(sh.WorldVersion)
	e.WriteUint64(sh.ServerTime)
	return e.Bytes()
}

// DecodeServerHello decodes a ServerHello payload.
func DecodeServerHello(data []byte) (*ServerHello, error) {
	d := NewDecoder(data)
	sh := &ServerHello{}

	status, err := d.ReadByte()
	if err != nil {
		return nil, err
	}
	sh.Status = HandshakeStatus(status)

	if sh.SessionID, err = d.ReadString(); err != nil {
		return nil, err
	}
	if sh.PlayerID, err = d.ReadString(); err != nil {
		return nil, err
	}
	if sh.WorldVersion, err = d.ReadUvarint(); err != nil {
		return nil, err
	}
	if sh.ServerTime, err = d.ReadUint64(); err != nil {
		return nil, err
	}
	return sh, nil
}

// NewClientHello creates a ClientHello for a fresh connection.
func NewClientHello(name string) *ClientHello {
	return &ClientHello{Version: CurrentVersion, Name: name}
}

// NewServerHello creates a successful ServerHello.
func NewServerHello(sessionID, playerID string, worldVersion, serverTime uint64) *ServerHello {
	return &ServerHello{
		Status:       HandshakeOK,
		SessionID:    sessionID,
		PlayerID:     playerID,
		WorldVersion: worldVersion,
		ServerTime:   serverTime,
	}
}

// NewServerHelloError creates a ServerHello carrying an error status.
func NewServerHelloError(status HandshakeStatus) *ServerHello {
	return &ServerHello{Status: status}
}
