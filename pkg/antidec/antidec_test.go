package antidec_test

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ysh86/gm8dec/pkg/antidec"
	"github.com/ysh86/gm8dec/pkg/exe"
)

func TestDecrypt_KnownWords(t *testing.T) {
	// two words, processed back to front:
	//   last word:  (0x00000000 ^ 0x01020304) + 0x10 = 0x01020314 -> bswap 0x14030201
	//   masks:      xor = 0x01020304 - 1 = 0x01020303, add = bswap(0x10) + 1 = 0x10000001
	//   first word: (0x00000000 ^ 0x01020303) + 0x10000001 = 0x11020304 -> bswap 0x04030211
	data := make([]byte, 8)
	img := exe.New(data)
	p := antidec.Params{LoadOffset: 0, HeaderStart: 0, XorMask: 0x01020304, AddMask: 0x10, SubMask: 1}

	require.NoError(t, antidec.Decrypt(img, p))
	assert.Equal(t, []byte{0x11, 0x02, 0x03, 0x04, 0x01, 0x02, 0x03, 0x14}, data)
	assert.Equal(t, 4, img.Pos())
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	tests := []struct {
		name string
		size int
		load uint32
		p    antidec.Params
	}{
		{"two words", 8, 0, antidec.Params{XorMask: 1, AddMask: 2, SubMask: 3}},
		{"one word", 4, 0, antidec.Params{XorMask: 0xdeadbeef, AddMask: 0xcafebabe, SubMask: 0x1234}},
		{"wrapping masks", 64, 8, antidec.Params{XorMask: 0, AddMask: 0xffffffff, SubMask: 0xffffffff}},
		{"unaligned region", 103, 10, antidec.Params{XorMask: 0x9e3779b9, AddMask: 0x7f4a7c15, SubMask: 0x12345}},
		{"large", 1 << 16, 1000, antidec.Params{XorMask: rng.Uint32(), AddMask: rng.Uint32(), SubMask: rng.Uint32()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plain := make([]byte, tt.size)
			rng.Read(plain)
			p := tt.p
			p.LoadOffset = tt.load

			data := bytes.Clone(plain)
			require.NoError(t, antidec.Encrypt(data, p))
			if (tt.size-int(tt.load))/4 > 0 {
				assert.NotEqual(t, plain, data)
			}
			assert.Equal(t, plain[:tt.load], data[:tt.load], "bytes before the load offset are untouched")

			img := exe.New(data)
			require.NoError(t, antidec.Decrypt(img, p))
			assert.Equal(t, plain, data)
		})
	}
}

func TestDecrypt_LeadingRemainderUntouched(t *testing.T) {
	// 6 bytes: words are taken from the end, so the first 2 bytes stay
	data := []byte{0xaa, 0xbb, 0x00, 0x00, 0x00, 0x00}
	img := exe.New(data)
	require.NoError(t, antidec.Decrypt(img, antidec.Params{XorMask: 0xffffffff}))
	assert.Equal(t, []byte{0xaa, 0xbb, 0xff, 0xff, 0xff, 0xff}, data)
}

func TestDecrypt_Cursor(t *testing.T) {
	data := make([]byte, 0x40)
	img := exe.New(data)
	require.NoError(t, antidec.Decrypt(img, antidec.Params{LoadOffset: 0x10, HeaderStart: 0x20}))
	assert.Equal(t, 0x34, img.Pos())
}

func TestDecrypt_OutOfRange(t *testing.T) {
	tests := []struct {
		name string
		p    antidec.Params
	}{
		{"load offset past end", antidec.Params{LoadOffset: 0x41}},
		{"header past end", antidec.Params{LoadOffset: 0x10, HeaderStart: 0x30}},
		{"huge header", antidec.Params{LoadOffset: 0x10, HeaderStart: 0xffffffff}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := exe.New(make([]byte, 0x40))
			err := antidec.Decrypt(img, tt.p)
			assert.ErrorIs(t, err, exe.ErrOutOfRange)
			assert.Equal(t, 0, img.Pos())
		})
	}

	assert.ErrorIs(t, antidec.Encrypt(make([]byte, 4), antidec.Params{LoadOffset: 5}), exe.ErrOutOfRange)
}
