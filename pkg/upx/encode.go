package upx

import "encoding/binary"

const (
	minMatch   = 3
	maxWindow  = 0xC0000
	hashBits   = 16
	sentinelHi = 0x1000002 // offset prefix whose code is 0xFFFFFF
)

// bitWriter is the inverse of lbits.LBits: a 32-bit word slot is reserved
// in the output when its first bit is written, and raw bytes written in the
// meantime land after that slot.
type bitWriter struct {
	out     []byte
	wordPos int
	word    uint32
	n       uint
}

func (w *bitWriter) putBit(b uint32) {
	if w.n == 0 {
		w.wordPos = len(w.out)
		w.out = append(w.out, 0, 0, 0, 0)
		w.word = 0
	}
	w.word = w.word<<1 | b&1
	w.n++
	if w.n == 32 {
		binary.LittleEndian.PutUint32(w.out[w.wordPos:], w.word)
		w.n = 0
	}
}

func (w *bitWriter) putByte(b byte) {
	w.out = append(w.out, b)
}

func (w *bitWriter) flush() []byte {
	if w.n > 0 {
		binary.LittleEndian.PutUint32(w.out[w.wordPos:], w.word<<(32-w.n))
		w.n = 0
	}
	return w.out
}

// putLength writes v >= 2 in the form read by decodeLength.
func (w *bitWriter) putLength(v uint32) {
	top := 31
	for v>>top == 0 {
		top--
	}
	for i := top - 1; i >= 0; i-- {
		w.putBit(v >> i)
		if i == 0 {
			w.putBit(1)
		} else {
			w.putBit(0)
		}
	}
}

// putOffsetPrefix writes v >= 2 in the form read by decodeOffsetPrefix.
// Round k of the decoder covers 2^(2k-1) values starting at
// 2 + 2(4^(k-1)-1)/3; the remainder within the round is sent MSB first,
// one bit in the first round and two per round after that.
func (w *bitWriter) putOffsetPrefix(v uint32) {
	start, span := uint64(2), uint64(2)
	nbits := 1
	for uint64(v) >= start+span {
		start += span
		span <<= 2
		nbits += 2
	}
	rem := uint64(v) - start
	w.putBit(uint32(rem >> (nbits - 1)))
	for i := nbits - 2; i > 0; i -= 2 {
		w.putBit(0)
		w.putBit(uint32(rem >> i))
		w.putBit(uint32(rem >> (i - 1)))
	}
	w.putBit(1)
}

type encoder struct {
	bitWriter
	lastDist int
}

func (e *encoder) literal(b byte) {
	e.putBit(1)
	e.putByte(b)
}

func (e *encoder) match(dist, length int) {
	e.putBit(0)

	base := length - 2
	if dist > farDistance {
		base--
	}
	short := base < 2

	if dist == e.lastDist {
		e.putOffsetPrefix(2)
		if short {
			e.putBit(1)
		} else {
			e.putBit(0)
		}
	} else {
		off := uint32(dist-1) << 1
		if !short {
			off |= 1
		}
		e.putOffsetPrefix(off>>8 + 3)
		e.putByte(byte(off))
		e.lastDist = dist
	}

	switch {
	case short:
		e.putBit(uint32(base))
	case base < 4:
		e.putBit(1)
		e.putBit(uint32(base - 2))
	default:
		e.putBit(0)
		e.putLength(uint32(base - 2))
	}
}

func (e *encoder) end() []byte {
	e.putBit(0)
	e.putOffsetPrefix(sentinelHi)
	e.putByte(0xFF)
	return e.flush()
}

func hash3(b []byte) uint32 {
	v := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
	return (v * 2654435761) >> (32 - hashBits)
}

// Encode compresses data into a stream that Decode expands back to data.
// It is a greedy single-candidate matcher, good enough for fixtures.
func Encode(data []byte) []byte {
	e := &encoder{lastDist: 1}
	head := make([]int, 1<<hashBits)
	for i := range head {
		head[i] = -1
	}

	matchLen := func(i, dist int) int {
		n := 0
		for i+n < len(data) && data[i+n] == data[i+n-dist] {
			n++
		}
		return n
	}

	for i := 0; i < len(data); {
		bestLen, bestDist := 0, 0
		if i >= e.lastDist {
			bestLen, bestDist = matchLen(i, e.lastDist), e.lastDist
		}
		if i+minMatch <= len(data) {
			h := hash3(data[i:])
			if p := head[h]; p >= 0 && i-p <= maxWindow {
				if n := matchLen(i, i-p); n > bestLen {
					bestLen, bestDist = n, i-p
				}
			}
			head[h] = i
		}

		need := minMatch
		if bestDist > farDistance {
			need++
		}
		if bestLen < need {
			e.literal(data[i])
			i++
			continue
		}
		e.match(bestDist, bestLen)
		for j := i + 1; j < i+bestLen && j+minMatch <= len(data); j++ {
			head[hash3(data[j:])] = j
		}
		i += bestLen
	}
	return e.end()
}
