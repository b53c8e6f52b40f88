package exe

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrOutOfRange is returned for any access beyond the end of the image.
var ErrOutOfRange = errors.New("exe: offset out of range")

// Image is an executable file held in memory with a read/write cursor.
// The cursor always stays within [0, Len()].
type Image struct {
	data []byte
	pos  int
}

// New wraps data without copying it. The image owns data from now on.
func New(data []byte) *Image {
	return &Image{data: data}
}

// Len returns the size of the image in bytes.
func (m *Image) Len() int {
	return len(m.data)
}

// Bytes returns the backing buffer.
func (m *Image) Bytes() []byte {
	return m.data
}

// Pos returns the cursor.
func (m *Image) Pos() int {
	return m.pos
}

// Remaining returns the bytes from the cursor to the end of the image.
func (m *Image) Remaining() []byte {
	return m.data[m.pos:]
}

// Has reports whether n bytes are available at off.
func (m *Image) Has(off, n int) bool {
	return off >= 0 && n >= 0 && off <= len(m.data) && n <= len(m.data)-off
}

// SetPos moves the cursor to an absolute offset.
func (m *Image) SetPos(off int) error {
	if off < 0 || off > len(m.data) {
		return fmt.Errorf("%w: seek to 0x%X (size 0x%X)", ErrOutOfRange, off, len(m.data))
	}
	m.pos = off
	return nil
}

// Skip moves the cursor n bytes forward (or backward if n is negative).
func (m *Image) Skip(n int) error {
	return m.SetPos(m.pos + n)
}

// BytesAt returns n bytes at off without moving the cursor.
func (m *Image) BytesAt(off, n int) ([]byte, error) {
	if !m.Has(off, n) {
		return nil, fmt.Errorf("%w: read %d bytes at 0x%X (size 0x%X)", ErrOutOfRange, n, off, len(m.data))
	}
	return m.data[off : off+n], nil
}

// U32At returns the little-endian dword at off without moving the cursor.
func (m *Image) U32At(off int) (uint32, error) {
	b, err := m.BytesAt(off, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// Read returns the next n bytes and advances the cursor.
// The returned slice aliases the image.
func (m *Image) Read(n int) ([]byte, error) {
	b, err := m.BytesAt(m.pos, n)
	if err != nil {
		return nil, err
	}
	m.pos += n
	return b, nil
}

// ReadU8 reads one byte.
func (m *Image) ReadU8() (byte, error) {
	b, err := m.Read(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadU32 reads a little-endian dword.
func (m *Image) ReadU32() (uint32, error) {
	b, err := m.Read(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// WriteU32 overwrites the dword at the cursor and advances past it.
func (m *Image) WriteU32(v uint32) error {
	b, err := m.Read(4)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b, v)
	return nil
}

// CStringAt scans for a NUL-terminated string starting at off.
// It returns the string without the terminator and the offset just past it.
func (m *Image) CStringAt(off int) (string, int, error) {
	if off < 0 || off > len(m.data) {
		return "", 0, fmt.Errorf("%w: string at 0x%X", ErrOutOfRange, off)
	}
	for i := off; i < len(m.data); i++ {
		if m.data[i] == 0x00 {
			return string(m.data[off:i]), i + 1, nil
		}
	}
	return "", 0, fmt.Errorf("%w: unterminated string at 0x%X", ErrOutOfRange, off)
}
