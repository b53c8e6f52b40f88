package gamedata

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/ysh86/gm8dec/pkg/exe"
)

var ErrBadBlock = errors.New("gamedata: bad compressed block")

// Inflate decompresses one zlib block.
func Inflate(b []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadBlock, err)
	}
	defer r.Close()

	out := bytes.NewBuffer(make([]byte, 0, len(b)))
	if _, err := io.Copy(out, r); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadBlock, err)
	}
	return out.Bytes(), nil
}

// ReadBlock reads a length-prefixed zlib block at the cursor and inflates it.
// The cursor ends just past the block.
func ReadBlock(img *exe.Image) ([]byte, error) {
	n, err := img.ReadU32()
	if err != nil {
		return nil, err
	}
	b, err := img.Read(int(n))
	if err != nil {
		return nil, err
	}
	return Inflate(b)
}

// ReadSettings reads the first section of the gamedata: a version dword
// followed by the compressed settings block.
func ReadSettings(img *exe.Image) (uint32, []byte, error) {
	version, err := img.ReadU32()
	if err != nil {
		return 0, nil, err
	}
	b, err := ReadBlock(img)
	if err != nil {
		return 0, nil, fmt.Errorf("settings: %w", err)
	}
	return version, b, nil
}
