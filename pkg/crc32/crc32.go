package crc32

import "io"

// Polynomial is the normal (non-reflected) form of the CRC-32 polynomial.
const Polynomial = 0x04C11DB7

// Table is a 256-word lookup table for byte-wise CRC computation.
type Table [256]uint32

func reflect(v uint32, bits uint) (r uint32) {
	for i := uint(1); i <= bits; i++ {
		if v&1 != 0 {
			r |= 1 << (bits - i)
		}
		v >>= 1
	}
	return
}

// MakeTable generates a reflected table for poly.
func MakeTable(poly uint32) *Table {
	t := new(Table)
	for i := range t {
		c := reflect(uint32(i), 8) << 24
		for j := 0; j < 8; j++ {
			if c&(1<<31) != 0 {
				c = (c << 1) ^ poly
			} else {
				c <<= 1
			}
		}
		t[i] = reflect(c, 32)
	}
	return t
}

// Update feeds p into crc.
func Update(crc uint32, t *Table, p []byte) uint32 {
	for _, b := range p {
		crc = (crc >> 8) ^ t[byte(crc)^b]
	}
	return crc
}

// Checksum returns the CRC of data. The accumulator starts at 0xFFFFFFFF
// and is NOT inverted at the end, so empty input yields 0xFFFFFFFF.
func Checksum(data []byte) uint32 {
	return Update(0xFFFFFFFF, MakeTable(Polynomial), data)
}

// Calc calculates the same checksum as Checksum over a stream.
func Calc(fsrc io.Reader) (crc32 uint32, err error) {
	t := MakeTable(Polynomial)
	b := [512]byte{}
	crc32 = 0xFFFFFFFF
	for {
		var n int
		n, err = fsrc.Read(b[:])
		crc32 = Update(crc32, t, b[:n])
		if err != nil {
			break
		}
	}
	if err == io.EOF {
		err = nil
	}

	return
}
