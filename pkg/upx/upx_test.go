package upx_test

import (
	"bytes"
	"encoding/binary"
	"io"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ysh86/gm8dec/pkg/upx"
)

// four literals "GM8!" followed by the end-of-stream offset code
var fourLiterals = []byte{
	0x24, 0x49, 0x92, 0xF0, // bits: 1111 0, then the sentinel prefix
	'G', 'M', '8', '!',
	0x00, 0x00, 0xA0, 0x92, // rest of the prefix and its stop bit
	0xFF, // low byte of the sentinel
}

func TestDecode_FourLiterals(t *testing.T) {
	out, err := upx.Decode(fourLiterals, 0x404, 0x400)
	require.NoError(t, err)
	assert.Len(t, out, 0x404)
	assert.Equal(t, []byte("GM8!"), out[0x400:])
	assert.Equal(t, make([]byte, 0x400), out[:0x400])
}

func TestDecode_FourLiterals_NoReadPastEnd(t *testing.T) {
	// every prefix of the stream is short by at least the sentinel byte
	for n := 0; n < len(fourLiterals); n++ {
		_, err := upx.Decode(fourLiterals[:n], 0x404, 0x400)
		assert.ErrorIs(t, err, upx.ErrCorrupt, "truncated to %d bytes", n)
	}
}

func TestDecode_LiteralPastOutput(t *testing.T) {
	_, err := upx.Decode(fourLiterals, 0x403, 0x400)
	assert.ErrorIs(t, err, upx.ErrCorrupt)
}

func TestDecode_BadSizes(t *testing.T) {
	_, err := upx.Decode(fourLiterals, upx.MaxOutputSize+1, 0)
	assert.ErrorIs(t, err, upx.ErrCorrupt)

	_, err = upx.Decode(fourLiterals, 0x10, 0x20)
	assert.ErrorIs(t, err, upx.ErrCorrupt)
}

func TestDecode_Truncated(t *testing.T) {
	_, err := upx.Decode(fourLiterals[:10], 0x404, 0x400)
	assert.ErrorIs(t, err, upx.ErrCorrupt)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestDecode_DistanceBeforeStart(t *testing.T) {
	// no literal, then a repeat of the initial distance 1 at output offset 0
	// bits: 0 (no literal), 0 1 (prefix 2), 1 (short), 0 (length 2)
	stream := []byte{0x00, 0x00, 0x00, 0x30}
	_, err := upx.Decode(stream, 0x10, 0)
	assert.ErrorIs(t, err, upx.ErrCorrupt)
	assert.Contains(t, err.Error(), "before start of output")
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	random := make([]byte, 5000)
	rng.Read(random)

	text := bytes.Repeat([]byte("GameMaker 8.0 gamedata "), 200)

	far := make([]byte, 0, 0x2000)
	block := make([]byte, 0x600)
	rng.Read(block)
	far = append(far, block...)
	far = append(far, block...) // distance 0x600 > 0x500
	far = append(far, block[:7]...)

	mixed := make([]byte, 0)
	for i := 0; i < 50; i++ {
		mixed = append(mixed, random[i*10:i*10+7]...)
		mixed = append(mixed, text[:i+3]...)
		mixed = append(mixed, bytes.Repeat([]byte{byte(i)}, i)...)
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"one byte", []byte{0x42}},
		{"two bytes", []byte{0x00, 0x00}},
		{"short run", bytes.Repeat([]byte{0xAA}, 5)},
		{"long run", bytes.Repeat([]byte{0x00}, 100000)},
		{"random", random},
		{"text", text},
		{"far matches", far},
		{"mixed", mixed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stream := upx.Encode(tt.data)
			out, err := upx.Decode(stream, upx.OutputStart+len(tt.data), upx.OutputStart)
			require.NoError(t, err)
			assert.Equal(t, make([]byte, upx.OutputStart), out[:upx.OutputStart])
			if len(tt.data) == 0 {
				assert.Empty(t, out[upx.OutputStart:])
			} else {
				assert.Equal(t, tt.data, out[upx.OutputStart:])
			}
		})
	}
}

func TestEncode_Compresses(t *testing.T) {
	data := bytes.Repeat([]byte{0x00}, 0x10000)
	assert.Less(t, len(upx.Encode(data)), 64)
}

func TestDecode_MatchPastOutput(t *testing.T) {
	data := bytes.Repeat([]byte{0x11}, 64)
	stream := upx.Encode(data)
	_, err := upx.Decode(stream, len(data)-1, 0)
	assert.ErrorIs(t, err, upx.ErrCorrupt)
}

func packed(pe byte, entry uint32, stream []byte) []byte {
	data := make([]byte, int(pe)+upx.StreamOffset)
	data[upx.PEOffsetPos] = pe
	binary.LittleEndian.PutUint32(data[int(pe)+upx.EntryPointOffset:], entry)
	return append(data, stream...)
}

func TestParseStub(t *testing.T) {
	data := packed(0x80, 0x1234, nil)
	stub, err := upx.ParseStub(data)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x80), stub.PEHeader)
	assert.Equal(t, uint32(0x1234), stub.EntryPoint)
	assert.Equal(t, 0x80+405, stub.DataOffset)

	_, err = upx.ParseStub(make([]byte, 0x3C))
	assert.ErrorIs(t, err, upx.ErrCorrupt)

	short := make([]byte, 0x40)
	short[upx.PEOffsetPos] = 0x80
	_, err = upx.ParseStub(short)
	assert.ErrorIs(t, err, upx.ErrCorrupt)
}

func TestUnpack(t *testing.T) {
	payload := bytes.Repeat([]byte("UPX0UPX1"), 100)
	data := packed(0x80, uint32(upx.OutputStart+len(payload)), upx.Encode(payload))

	out, stub, err := upx.Unpack(data)
	require.NoError(t, err)
	assert.Equal(t, uint32(upx.OutputStart+len(payload)), stub.EntryPoint)
	assert.Equal(t, payload, out[upx.OutputStart:])
}

func TestUnpack_EntryPointBelowOutputStart(t *testing.T) {
	data := packed(0x80, 0x10, upx.Encode([]byte("abc")))
	_, _, err := upx.Unpack(data)
	assert.ErrorIs(t, err, upx.ErrCorrupt)
}
