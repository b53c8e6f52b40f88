package upx

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ysh86/gm8dec/pkg/lbits"
)

// ErrCorrupt is returned when the compressed stream cannot be decoded.
var ErrCorrupt = errors.New("upx: corrupt stream")

const (
	// PEOffsetPos holds the (low byte of the) PE header offset.
	PEOffsetPos = 0x3C

	// EntryPointOffset is the AddressOfEntryPoint field, relative to the PE header.
	EntryPointOffset = 40

	// StreamOffset is the first compressed word, relative to the PE header.
	StreamOffset = EntryPointOffset + 4 + 361

	// OutputStart is where the stub starts writing in the output buffer.
	OutputStart = 0x400

	// MaxOutputSize bounds the buffer allocated from the entry point.
	MaxOutputSize = 1 << 30

	// farDistance is the distance beyond which a match is one byte longer.
	farDistance = 0x500

	// sentinel is the offset code that ends the stream.
	sentinel = 0xFFFFFFFF
)

// Stub is the part of the PE header the UPX stub needs.
type Stub struct {
	PEHeader   uint32
	EntryPoint uint32
	DataOffset int
}

// ParseStub reads the PE entry point and locates the compressed stream.
// UPX places its entry point after the area it unpacks to, so the entry
// point doubles as the output size.
func ParseStub(data []byte) (*Stub, error) {
	if len(data) <= PEOffsetPos {
		return nil, fmt.Errorf("%w: no PE header offset", ErrCorrupt)
	}
	pe := uint32(data[PEOffsetPos])
	epPos := int(pe) + EntryPointOffset
	if len(data) < epPos+4 {
		return nil, fmt.Errorf("%w: no entry point at 0x%X", ErrCorrupt, epPos)
	}
	stub := &Stub{
		PEHeader:   pe,
		EntryPoint: binary.LittleEndian.Uint32(data[epPos:]),
		DataOffset: int(pe) + StreamOffset,
	}
	if stub.DataOffset > len(data) {
		return nil, fmt.Errorf("%w: stream offset 0x%X past end", ErrCorrupt, stub.DataOffset)
	}
	return stub, nil
}

// Unpack decompresses the UPX-packed image in data into a new buffer.
func Unpack(data []byte) ([]byte, *Stub, error) {
	stub, err := ParseStub(data)
	if err != nil {
		return nil, nil, err
	}
	out, err := Decode(data[stub.DataOffset:], int(stub.EntryPoint), OutputStart)
	if err != nil {
		return nil, stub, err
	}
	return out, stub, nil
}

type state int

const (
	stateLiteral state = iota
	stateMatch
	stateCopy
	stateDone
)

type decoder struct {
	bits *lbits.LBits

	out []byte
	pos int

	lastDist int
	dist     int
	length   int
}

// Decode decompresses src into a buffer of size bytes, writing from start.
// Bytes below start are left zero.
func Decode(src []byte, size, start int) ([]byte, error) {
	if size < 0 || size > MaxOutputSize {
		return nil, fmt.Errorf("%w: output size 0x%X", ErrCorrupt, size)
	}
	if start < 0 || start > size {
		return nil, fmt.Errorf("%w: output start 0x%X past size 0x%X", ErrCorrupt, start, size)
	}

	d := &decoder{
		bits:     lbits.New(bytes.NewReader(src)),
		out:      make([]byte, size),
		pos:      start,
		lastDist: 1,
	}
	if err := d.run(); err != nil {
		return nil, err
	}
	return d.out, nil
}

func (d *decoder) run() error {
	st := stateLiteral
	for {
		var err error
		switch st {
		case stateLiteral:
			err = d.copyLiterals()
			st = stateMatch
		case stateMatch:
			var done bool
			done, err = d.decodeMatch()
			if done {
				st = stateDone
			} else {
				st = stateCopy
			}
		case stateCopy:
			err = d.copyMatch()
			st = stateLiteral
		case stateDone:
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %w (output at 0x%X)", ErrCorrupt, err, d.pos)
		}
	}
}

func (d *decoder) copyLiterals() error {
	for {
		bit, err := d.bits.Bit()
		if err != nil {
			return err
		}
		if bit == 0 {
			return nil
		}
		b, err := d.bits.Byte()
		if err != nil {
			return err
		}
		if d.pos >= len(d.out) {
			return errors.New("literal past end of output")
		}
		d.out[d.pos] = b
		d.pos++
	}
}

// decodeLength reads an Elias-gamma style number: i = 1, then
// i = 2i+bit until a set stop bit.
func (d *decoder) decodeLength() (uint32, error) {
	v := uint32(1)
	for {
		bit, err := d.bits.Bit()
		if err != nil {
			return 0, err
		}
		v = v*2 + bit
		stop, err := d.bits.Bit()
		if err != nil {
			return 0, err
		}
		if stop != 0 {
			return v, nil
		}
	}
}

// decodeOffsetPrefix reads the high part of a match offset.
func (d *decoder) decodeOffsetPrefix() (uint32, error) {
	i := uint32(1)
	for {
		bit, err := d.bits.Bit()
		if err != nil {
			return 0, err
		}
		v := 2*i + bit
		stop, err := d.bits.Bit()
		if err != nil {
			return 0, err
		}
		if stop != 0 {
			return v, nil
		}
		bit, err = d.bits.Bit()
		if err != nil {
			return 0, err
		}
		i = (v-1)*2 + bit
	}
}

func (d *decoder) decodeMatch() (bool, error) {
	prefix, err := d.decodeOffsetPrefix()
	if err != nil {
		return false, err
	}

	var short uint32
	if prefix < 3 {
		// repeat the previous distance
		short, err = d.bits.Bit()
		if err != nil {
			return false, err
		}
	} else {
		low, err := d.bits.Byte()
		if err != nil {
			return false, err
		}
		off := (prefix-3)<<8 | uint32(low)
		if off == sentinel {
			return true, nil
		}
		short = ^off & 1
		d.lastDist = int(off>>1) + 1
	}

	var n uint32
	switch {
	case short != 0:
		// 2..3
		if n, err = d.bits.Bit(); err != nil {
			return false, err
		}
	default:
		bit, err := d.bits.Bit()
		if err != nil {
			return false, err
		}
		if bit != 0 {
			// 4..5
			if bit, err = d.bits.Bit(); err != nil {
				return false, err
			}
			n = 2 + bit
		} else {
			// 6..
			g, err := d.decodeLength()
			if err != nil {
				return false, err
			}
			n = g + 2
		}
	}

	length := int(n) + 2
	if d.lastDist > farDistance {
		length++
	}
	d.dist = d.lastDist
	d.length = length
	return false, nil
}

// copyMatch copies byte by byte; source and destination may overlap.
func (d *decoder) copyMatch() error {
	src := d.pos - d.dist
	if src < 0 {
		return fmt.Errorf("distance %d before start of output", d.dist)
	}
	if d.length > len(d.out)-d.pos {
		return fmt.Errorf("match of %d bytes past end of output", d.length)
	}
	for i := 0; i < d.length; i++ {
		d.out[d.pos+i] = d.out[src+i]
	}
	d.pos += d.length
	return nil
}
