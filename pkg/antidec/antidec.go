package antidec

import (
	"encoding/binary"
	"fmt"
	"math/bits"

	"github.com/ysh86/gm8dec/pkg/exe"
)

// Params are the values antidec2 bakes into its loader.
type Params struct {
	LoadOffset  uint32 // file offset of the encrypted gamedata
	HeaderStart uint32 // header position relative to LoadOffset
	XorMask     uint32
	AddMask     uint32
	SubMask     uint32
}

// each calls fn with every whole dword of region, starting at the end,
// together with the masks for that dword.
func each(region []byte, p Params, fn func(word []byte, xor, add uint32)) {
	xor, add := p.XorMask, p.AddMask
	for end := len(region); end >= 4; end -= 4 {
		fn(region[end-4:end], xor, add)
		xor -= p.SubMask
		add = bits.ReverseBytes32(add) + 1
	}
}

func region(data []byte, p Params) ([]byte, error) {
	if int64(p.LoadOffset) > int64(len(data)) {
		return nil, fmt.Errorf("%w: gamedata at 0x%X (size 0x%X)", exe.ErrOutOfRange, p.LoadOffset, len(data))
	}
	return data[p.LoadOffset:], nil
}

// Decrypt removes antidec2 encryption from the gamedata in place and moves
// the cursor to LoadOffset+HeaderStart+4.
func Decrypt(img *exe.Image, p Params) error {
	r, err := region(img.Bytes(), p)
	if err != nil {
		return err
	}
	cursor := int64(p.LoadOffset) + int64(p.HeaderStart) + 4
	if cursor > int64(img.Len()) {
		return fmt.Errorf("%w: header at 0x%X (size 0x%X)", exe.ErrOutOfRange, cursor, img.Len())
	}
	each(r, p, func(word []byte, xor, add uint32) {
		v := binary.LittleEndian.Uint32(word)
		v = bits.ReverseBytes32((v ^ xor) + add)
		binary.LittleEndian.PutUint32(word, v)
	})
	return img.SetPos(int(cursor))
}

// Encrypt is the inverse of Decrypt, for building protected images.
func Encrypt(data []byte, p Params) error {
	r, err := region(data, p)
	if err != nil {
		return err
	}
	each(r, p, func(word []byte, xor, add uint32) {
		v := binary.LittleEndian.Uint32(word)
		v = (bits.ReverseBytes32(v) - add) ^ xor
		binary.LittleEndian.PutUint32(word, v)
	})
	return nil
}
