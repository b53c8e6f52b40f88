package lbits

import (
	"errors"
	"io"
	"math/bits"

	"github.com/icza/bitio"
)

// LBits is the bit register of a UPX NRV stream.
//
// Bits come from 32-bit little-endian words, MSB first. Bytes that are not
// part of a word (literals, offset low bytes) are read from the same stream
// in between, so a word is only fetched at the moment its first bit is needed.
type LBits struct {
	file *bitio.Reader

	// after a refill:
	//         MSB                                  LSB
	// reg = | ... 31 unread bits ... | sentinel 1 |
	reg uint32
}

// New allocates a new LBits struct.
func New(file io.Reader) *LBits {
	return &LBits{file: bitio.NewReader(file)}
}

func (l *LBits) refill() (uint32, error) {
	w, err := l.file.ReadBits(32)
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return 0, err
	}
	// bitio packs the first byte into the top bits; the stream is LE
	word := bits.ReverseBytes32(uint32(w))
	l.reg = word<<1 | 1
	return word >> 31, nil
}

// Bit returns the next bit as 0 or 1.
func (l *LBits) Bit() (uint32, error) {
	bit := l.reg >> 31
	l.reg <<= 1
	if l.reg == 0 {
		// only the sentinel was left
		return l.refill()
	}
	return bit, nil
}

// Byte reads a raw byte from the stream, bypassing the register.
func (l *LBits) Byte() (byte, error) {
	b, err := l.file.ReadByte()
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return b, err
}
