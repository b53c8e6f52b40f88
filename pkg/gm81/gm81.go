package gm81

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/text/encoding/unicode"

	"github.com/ysh86/gm8dec/pkg/crc32"
	"github.com/ysh86/gm8dec/pkg/exe"
)

const (
	mul1 = 0x9069
	mul2 = 0x4650

	// the encrypted region starts this many bytes (plus the low byte of
	// seed2) after the seeds
	skipBase = 10
)

// Key holds everything derived from the two dwords in front of the
// encrypted region.
type Key struct {
	HashKey string
	Seed1   uint32
	Seed2   uint32
}

// HashKey returns the key string for the number stored in the stream.
func HashKey(n uint32) string {
	return fmt.Sprintf("_MJD%d#RWK", n)
}

// Seed returns the CRC-32 of the UTF-16LE form of key.
func Seed(key string) (uint32, error) {
	b, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder().Bytes([]byte(key))
	if err != nil {
		return 0, err
	}
	return crc32.Checksum(b), nil
}

// NewKey derives the full key from the hash number and seed1.
func NewKey(n, seed1 uint32) (Key, error) {
	k := Key{HashKey: HashKey(n), Seed1: seed1}
	seed2, err := Seed(k.HashKey)
	if err != nil {
		return Key{}, err
	}
	k.Seed2 = seed2
	return k, nil
}

// Skip is the distance from the end of the seeds to the first encrypted dword.
func (k Key) Skip() int {
	return int(k.Seed2&0xFF) + skipBase
}

// Keystream generates the XOR masks, one per dword.
type Keystream struct {
	s1, s2 uint32
}

// NewKeystream starts a keystream at the first encrypted dword.
func NewKeystream(k Key) *Keystream {
	return &Keystream{s1: k.Seed1, s2: k.Seed2}
}

// Next advances both seeds and returns the next mask.
func (ks *Keystream) Next() uint32 {
	ks.s1 = (ks.s1&0xFFFF)*mul1 + ks.s1>>16
	ks.s2 = (ks.s2&0xFFFF)*mul2 + ks.s2>>16
	return ks.s1<<16 + ks.s2&0xFFFF
}

// Crypt XORs every whole dword of data with the keystream for k.
// It is its own inverse.
func Crypt(data []byte, k Key) {
	ks := NewKeystream(k)
	for i := 0; i+4 <= len(data); i += 4 {
		v := binary.LittleEndian.Uint32(data[i:])
		binary.LittleEndian.PutUint32(data[i:], v^ks.Next())
	}
}

// Decrypt reads the hash number and seed1 at the cursor, removes the GM8.1
// encryption in place, and leaves the cursor just after the two seeds.
func Decrypt(img *exe.Image) (Key, error) {
	n, err := img.ReadU32()
	if err != nil {
		return Key{}, err
	}
	seed1, err := img.ReadU32()
	if err != nil {
		return Key{}, err
	}
	k, err := NewKey(n, seed1)
	if err != nil {
		return Key{}, err
	}

	if start := img.Pos() + k.Skip(); start < img.Len() {
		Crypt(img.Bytes()[start:], k)
	}
	return k, nil
}
