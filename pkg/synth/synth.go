// Package synth builds small executables that carry gamedata in each of the
// layouts the extractor understands. Only the bytes the extractor looks at
// are filled in; everything else is zero.
package synth

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zlib"

	"github.com/ysh86/gm8dec/pkg/antidec"
	"github.com/ysh86/gm8dec/pkg/gamedata"
	"github.com/ysh86/gm8dec/pkg/gm81"
	"github.com/ysh86/gm8dec/pkg/probe"
	"github.com/ysh86/gm8dec/pkg/upx"
)

var ErrLayout = errors.New("synth: invalid layout")

// Check selects how a guard is written into the loader code.
type Check int

const (
	CheckIntact        Check = iota // compare, value and branch
	CheckBranchPatched              // compare and value, branch overwritten with nops
	CheckNopped                     // whole check overwritten with nops
	CheckRemoved                    // lead-in gone, or nopped when there is none
	CheckBroken                     // an unexpected opcode where the compare was
)

// Layout is a built executable.
type Layout struct {
	Data []byte
	// Header is where the gamedata header begins (the magic marker for GM8.1).
	Header int
	// Gamedata is where the extractor should leave its cursor.
	Gamedata int
}

func put(buf []byte, s probe.Signature) {
	copy(buf[s.Offset:], s.Bytes)
}

func putField(buf []byte, f probe.Field, v, mask uint32) {
	if f.Masked {
		v ^= mask
	}
	binary.LittleEndian.PutUint32(buf[f.Offset:], v)
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}

func putGuard(buf []byte, g probe.Guard, v uint32, c Check) {
	if g.Lead != nil && c != CheckRemoved {
		put(buf, *g.Lead)
	}
	at := g.Offset
	size := len(g.Compare) + 4 + len(g.Branch)
	switch c {
	case CheckIntact, CheckBranchPatched:
		at += copy(buf[at:], g.Compare)
		binary.LittleEndian.PutUint32(buf[at:], v)
		at += 4
		if c == CheckIntact {
			copy(buf[at:], g.Branch)
		} else {
			fill(buf[at:at+len(g.Branch)], 0x90)
		}
	case CheckNopped:
		fill(buf[at:at+size], 0x90)
	case CheckRemoved:
		if g.Lead == nil {
			fill(buf[at:at+size], 0x90)
		}
	case CheckBroken:
		buf[at] = 0xCC
	}
}

func grow(size, floor int) int {
	if size < floor {
		return floor
	}
	return size
}

// Settings returns the start of a gamedata stream: the settings version
// followed by payload as a length-prefixed zlib block.
func Settings(version uint32, payload []byte) ([]byte, error) {
	var z bytes.Buffer
	zw := zlib.NewWriter(&z)
	if _, err := zw.Write(payload); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}

	out := make([]byte, 8, 8+z.Len())
	binary.LittleEndian.PutUint32(out[0:], version)
	binary.LittleEndian.PutUint32(out[4:], uint32(z.Len()))
	return append(out, z.Bytes()...), nil
}

// GM80 describes a standard GameMaker 8.0 executable.
type GM80 struct {
	HeaderStart  uint32 // defaults to right after the header start field
	Magic        uint32
	Version      uint32
	MagicCheck   Check
	VersionCheck Check
}

func (o GM80) Build(data []byte) (*Layout, error) {
	if o.HeaderStart == 0 {
		o.HeaderStart = gamedata.MinSizeGM80
	}
	if o.HeaderStart < gamedata.MinSizeGM80 {
		return nil, fmt.Errorf("%w: GM8.0 header at 0x%X overlaps the loader", ErrLayout, o.HeaderStart)
	}
	hs := int(o.HeaderStart)
	l := &Layout{Header: hs, Gamedata: hs + 16}
	l.Data = make([]byte, l.Gamedata+len(data))

	put(l.Data, gamedata.SigGM80)
	putGuard(l.Data, gamedata.GuardGM80Magic, o.Magic, o.MagicCheck)
	putGuard(l.Data, gamedata.GuardGM80Version, o.Version, o.VersionCheck)
	putField(l.Data, gamedata.FieldHeaderStart, o.HeaderStart, 0)

	binary.LittleEndian.PutUint32(l.Data[hs:], o.Magic)
	binary.LittleEndian.PutUint32(l.Data[hs+4:], o.Version)
	copy(l.Data[l.Gamedata:], data)
	return l, nil
}

// Antidec describes a GameMaker 8.0 executable protected by antidec2.
type Antidec struct {
	antidec.Params
	Mask byte // XOR key for the loader constants
}

// loader returns the antidec2 loader code area with the parameters baked in.
func (o Antidec) loader(size int) []byte {
	mask := uint32(o.Mask) * 0x01010101
	buf := make([]byte, grow(size, gamedata.MinSizeGM80))
	buf[gamedata.AntidecMaskPos] = o.Mask
	put(buf, gamedata.SigAntidec)
	putField(buf, gamedata.FieldLoadOffset, o.LoadOffset, mask)
	putField(buf, gamedata.FieldHeaderStart, o.HeaderStart, mask)
	putField(buf, gamedata.FieldXorMask, o.XorMask, mask)
	putField(buf, gamedata.FieldAddMask, o.AddMask, mask)
	putField(buf, gamedata.FieldSubMask, o.SubMask, mask)
	return buf
}

// place writes the encrypted gamedata region at LoadOffset.
func (o Antidec) place(buf []byte, data []byte) (*Layout, error) {
	hs := int(o.LoadOffset) + int(o.HeaderStart)
	l := &Layout{Header: hs, Gamedata: hs + 16}
	if len(buf) < l.Gamedata+len(data) {
		buf = append(buf, make([]byte, l.Gamedata+len(data)-len(buf))...)
	}
	copy(buf[l.Gamedata:], data)
	if err := antidec.Encrypt(buf, o.Params); err != nil {
		return nil, err
	}
	l.Data = buf
	return l, nil
}

func (o Antidec) Build(data []byte) (*Layout, error) {
	if o.LoadOffset == 0 {
		o.LoadOffset = gamedata.MinSizeGM80
	}
	if o.LoadOffset < gamedata.MinSizeGM80 {
		return nil, fmt.Errorf("%w: antidec2 gamedata at 0x%X overlaps the loader", ErrLayout, o.LoadOffset)
	}
	return o.place(o.loader(int(o.LoadOffset)), data)
}

// UPX describes an antidec2 executable packed with UPX.
type UPX struct {
	Antidec
	Version string
}

const (
	upxPEHeader = 0x80
	upxAlign    = 0x200
)

func align(v, a int) int {
	return (v + a - 1) / a * a
}

func (o UPX) Build(data []byte) (*Layout, error) {
	if o.Version == "" {
		o.Version = "3.03"
	}
	streamAt := upxPEHeader + upx.StreamOffset
	magicAt := gamedata.UPXVersionPos + len(o.Version) + 1
	if magicAt+len(gamedata.SigUPXMagic.Bytes) > streamAt {
		return nil, fmt.Errorf("%w: UPX version %q too long", ErrLayout, o.Version)
	}

	// the loader holds the gamedata offset, which depends on the packed loader size
	var stream []byte
	o.LoadOffset = 0
	for i := 0; ; i++ {
		stream = upx.Encode(o.loader(0)[upx.OutputStart:])
		need := align(streamAt+len(stream), upxAlign)
		if int(o.LoadOffset) >= need {
			break
		}
		if i == 4 {
			return nil, fmt.Errorf("%w: packed loader does not settle", ErrLayout)
		}
		o.LoadOffset = uint32(need + upxAlign)
	}

	buf := make([]byte, o.LoadOffset)
	buf[upx.PEOffsetPos] = upxPEHeader
	binary.LittleEndian.PutUint32(buf[upxPEHeader+upx.EntryPointOffset:], gamedata.MinSizeGM80)
	put(buf, gamedata.SigUPX0)
	put(buf, gamedata.SigUPX1)
	copy(buf[gamedata.UPXVersionPos:], o.Version)
	put(buf, gamedata.SigUPXMagic.At(magicAt))
	copy(buf[streamAt:], stream)
	return o.place(buf, data)
}

// GM81 describes a standard GameMaker 8.1 executable.
type GM81 struct {
	HeaderStart uint32 // defaults to right after the loader code
	Magic       uint32
	MagicCheck  Check
	Pad         int // bytes between HeaderStart and the magic marker
	HashNumber  uint32
	Seed1       uint32
}

func (o GM81) Build(data []byte) (*Layout, error) {
	if o.HeaderStart == 0 {
		o.HeaderStart = gamedata.MinSizeGM81
	}
	if o.HeaderStart < gamedata.MinSizeGM81 {
		return nil, fmt.Errorf("%w: GM8.1 header at 0x%X overlaps the loader", ErrLayout, o.HeaderStart)
	}
	k, err := gm81.NewKey(o.HashNumber, o.Seed1)
	if err != nil {
		return nil, err
	}

	hs := int(o.HeaderStart)
	l := &Layout{Header: hs}
	seeds := hs + 8
	if o.MagicCheck == CheckIntact {
		l.Header = hs + o.Pad
		seeds = l.Header + 8
	}
	resume := seeds + 8
	l.Gamedata = resume + 20
	l.Data = make([]byte, l.Gamedata+len(data))

	put(l.Data, gamedata.SigGM81)
	putField(l.Data, gamedata.FieldGM81HeaderStart, o.HeaderStart, 0)
	putGuard(l.Data, gamedata.GuardGM81Magic, o.Magic, o.MagicCheck)

	if o.MagicCheck == CheckIntact {
		binary.LittleEndian.PutUint32(l.Data[l.Header:], o.Magic&0xFF00FF00)
		binary.LittleEndian.PutUint32(l.Data[l.Header+4:], o.Magic&0x00FF00FF)
	}
	binary.LittleEndian.PutUint32(l.Data[seeds:], o.HashNumber)
	binary.LittleEndian.PutUint32(l.Data[seeds+4:], o.Seed1)
	copy(l.Data[l.Gamedata:], data)

	if start := resume + k.Skip(); start < len(l.Data) {
		gm81.Crypt(l.Data[start:], k)
	}
	return l, nil
}
