package protocol

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestUvarintRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 127, 128, 300, 16383, 16384, 1<<32 - 1, 1<<64 - 1}

	for _, v := range values {
		e := NewEncoder()
		e.WriteUvarint(v)

		d := NewDecoder(e.Bytes())
		got, err := d.ReadUvarint()
		if err != nil {
			t.Fatalf("ReadUvarint(%d) error = %v", v, err)
		}
		if got != v {
			t.Errorf("ReadUvarint() = %d, want %d", got, v)
		}
		if !d.EOF() {
			t.Errorf("decoder not at EOF after reading %d", v)
		}
	}
}

func TestUvarintOverflow(t *testing.T) {
	// Ten continuation bytes push shift past 64 bits.
	data := bytes.Repeat([]byte{0xFF}, 10)
	d := NewDecoder(data)
	if _, err := d.ReadUvarint(); !errors.Is(err, ErrVarintOverflow) {
		t.Errorf("ReadUvarint() error = %v, want ErrVarintOverflow", err)
	}
}

func TestUvarintTruncated(t *testing.T) {
	// Continuation bit set but no following byte.
	d := NewDecoder([]byte{0x80})
	if _, err := d.ReadUvarint(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("ReadUvarint() error = %v, want ErrUnexpectedEOF", err)
	}
}

func TestStringRoundTrip(t *testing.T) {
	values := []string{"", "a", "player-1", "éè unicode ✓"}

	for _, s := range values {
		e := NewEncoder()
		e.WriteString(s)

		d := NewDecoder(e.Bytes())
		got, err := d.ReadString()
		if err != nil {
			t.Fatalf("ReadString(%q) error = %v", s, err)
		}
		if got != s {
			t.Errorf("ReadString() = %q, want %q", got, s)
		}
	}
}

func TestStringLengthBeyondBuffer(t *testing.T) {
	// Claims 100 bytes but supplies only 3.
	e := NewEncoder()
	e.WriteUvarint(100)
	e.WriteBytes([]byte("abc"))

	d := NewDecoder(e.Bytes())
	if _, err := d.ReadString(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("ReadString() error = %v, want ErrUnexpectedEOF", err)
	}
}

func TestFixedWidthRoundTrip(t *testing.T) {
	e := NewEncoder()
	e.WriteUint16(0xBEEF)
	e.WriteUint32(0xDEADBEEF)
	e.WriteUint64(0x0123456789ABCDEF)
	e.WriteBool(true)
	e.WriteBool(false)

	d := NewDecoder(e.Bytes())
	if v, err := d.ReadUint16(); err != nil || v != 0xBEEF {
		t.Errorf("ReadUint16() = %#x, %v", v, err)
	}
	if v, err := d.ReadUint32(); err != nil || v != 0xDEADBEEF {
		t.Errorf("ReadUint32() = %#x, %v", v, err)
	}
	if v, err := d.ReadUint64(); err != nil || v != 0x0123456789ABCDEF {
		t.Errorf("ReadUint64() = %#x, %v", v, err)
	}
	if v, err := d.ReadBool(); err != nil || v != true {
		t.Errorf("ReadBool() = %v, %v, want true", v, err)
	}
	if v, err := d.ReadBool(); err != nil || v != false {
		t.Errorf("ReadBool() = %v, %v, want false", v, err)
	}
	if !d.EOF() {
		t.Error("decoder not at EOF")
	}
}

func TestReadCollectionCountLimits(t *testing.T) {
	e := NewEncoder()
	e.WriteUvarint(MaxCollectionCount + 1)
	d := NewDecoder(e.Bytes())
	if _, err := d.ReadCollectionCount(); !errors.Is(err, ErrCollectionTooLarge) {
		t.Errorf("ReadCollectionCount() error = %v, want ErrCollectionTooLarge", err)
	}

	// Count within the cap but larger than the remaining buffer.
	e = NewEncoder()
	e.WriteUvarint(50)
	d = NewDecoder(e.Bytes())
	if _, err := d.ReadCollectionCount(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("ReadCollectionCount() error = %v, want ErrUnexpectedEOF", err)
	}
}

func TestEncoderReset(t *testing.T) {
	e := NewEncoder()
	e.WriteString("first")
	e.Reset()
	if e.Len() != 0 {
		t.Fatalf("Len() after Reset = %d, want 0", e.Len())
	}
	e.WriteString("second")

	d := NewDecoder(e.Bytes())
	got, err := d.ReadString()
	if err != nil || got != "second" {
		t.Errorf("ReadString() = %q, %v, want %q", got, err, "second")
	}
}

func TestReadLenBytesCopies(t *testing.T) {
	e := NewEncoder()
	e.WriteLenBytes([]byte{1, 2, 3})
	buf := e.Bytes()

	d := NewDecoder(buf)
	got, err := d.ReadLenBytes()
	if err != nil {
		t.Fatalf("ReadLenBytes() error = %v", err)
	}

	// Mutating the source buffer must not affect the returned copy.
	buf[1] = 0xFF
	if !bytes.Equal(got, []byte{1, 2, 3}) {
		t.Errorf("ReadLenBytes() = %v, want [1 2 3]", got)
	}
}
