package gamedata

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ysh86/gm8dec/pkg/antidec"
	"github.com/ysh86/gm8dec/pkg/exe"
	"github.com/ysh86/gm8dec/pkg/gm81"
	"github.com/ysh86/gm8dec/pkg/probe"
	"github.com/ysh86/gm8dec/pkg/upx"
)

var (
	ErrIO                = exe.ErrOutOfRange
	ErrDecode            = upx.ErrCorrupt
	ErrPartialProtection = errors.New("gamedata: looks upx protected, can't locate headers")
	ErrUnknownFormat     = errors.New("gamedata: unknown format, could not identify file")
)

// Version identifies the gamedata layout.
type Version int

const (
	GM80 Version = iota + 1
	GM81
)

func (v Version) String() string {
	switch v {
	case GM80:
		return "GameMaker 8.0"
	case GM81:
		return "GameMaker 8.1"
	default:
		return fmt.Sprintf("Version(%d)", int(v))
	}
}

// A detector recognizes one layout. It returns false, without error, when
// the image is not in that layout so the next detector can try.
type detector struct {
	name   string
	detect func(img *exe.Image, logger *zerolog.Logger) (Version, bool, error)
}

// in priority order
var detectors = []detector{
	{"upx", detectUPX},
	{"antidec2", detectAntidec},
	{"gm80", detectGM80},
	{"gm81", detectGM81},
}

// Extract identifies the layout of img, removes any protection from the
// gamedata in place, and leaves the cursor at the start of the gamedata.
// A nil logger disables logging. On error img is left in an unspecified state.
func Extract(img *exe.Image, logger *zerolog.Logger) (Version, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	for _, d := range detectors {
		v, ok, err := d.detect(img, logger)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", d.name, err)
		}
		if ok {
			logger.Debug().Stringer("version", v).Str("cursor", fmt.Sprintf("0x%X", img.Pos())).Msg("Found gamedata")
			return v, nil
		}
	}
	return 0, ErrUnknownFormat
}

func detectUPX(img *exe.Image, logger *zerolog.Logger) (Version, bool, error) {
	data := img.Bytes()
	if !SigUPX0.Match(data) {
		return 0, false, nil
	}
	logger.Debug().Int("offset", SigUPX0.Offset).Msg("Found UPX0 header")

	if !SigUPX1.Match(data) {
		return 0, false, ErrPartialProtection
	}
	ver, next, err := img.CStringAt(UPXVersionPos)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %w", ErrPartialProtection, err)
	}
	logger.Debug().Str("upx_version", ver).Msg("Found UPX version")
	if !SigUPXMagic.At(next).Match(data) {
		return 0, false, ErrPartialProtection
	}

	unpacked, stub, err := upx.Unpack(data)
	if err != nil {
		return 0, false, err
	}
	logger.Debug().
		Uint32("entry_point", stub.EntryPoint).
		Int("stream", stub.DataOffset).
		Int("size", len(unpacked)).
		Msg("Successfully unpacked UPX")

	p, ok, err := probeAntidec(unpacked)
	if err != nil {
		return 0, false, err
	}
	if !ok {
		return 0, false, ErrUnknownFormat
	}
	logAntidec(logger, p, true)

	// the parameters live in the unpacked loader, the gamedata in the packed file
	if err := decryptAntidec(img, p); err != nil {
		return 0, false, err
	}
	return GM80, true, nil
}

func detectAntidec(img *exe.Image, logger *zerolog.Logger) (Version, bool, error) {
	p, ok, err := probeAntidec(img.Bytes())
	if err != nil || !ok {
		return 0, false, err
	}
	logAntidec(logger, p, false)
	if err := decryptAntidec(img, p); err != nil {
		return 0, false, err
	}
	return GM80, true, nil
}

// probeAntidec checks for the antidec2 loader and extracts its parameters.
func probeAntidec(data []byte) (antidec.Params, bool, error) {
	if len(data) < MinSizeGM80 || !SigAntidec.Match(data) {
		return antidec.Params{}, false, nil
	}
	b := uint32(data[AntidecMaskPos])
	mask := b | b<<8 | b<<16 | b<<24

	var p antidec.Params
	fields := []struct {
		f   *probe.Field
		dst *uint32
	}{
		{&FieldLoadOffset, &p.LoadOffset},
		{&FieldHeaderStart, &p.HeaderStart},
		{&FieldXorMask, &p.XorMask},
		{&FieldAddMask, &p.AddMask},
		{&FieldSubMask, &p.SubMask},
	}
	for _, fd := range fields {
		v, err := fd.f.Read(data, mask)
		if err != nil {
			return antidec.Params{}, false, err
		}
		*fd.dst = v
	}
	return p, true, nil
}

func decryptAntidec(img *exe.Image, p antidec.Params) error {
	if err := antidec.Decrypt(img, p); err != nil {
		return err
	}
	// 8.0 header fields; antidec2 fills them with garbage so they are not checked
	return img.Skip(antidecHeaderSkip)
}

func logAntidec(logger *zerolog.Logger, p antidec.Params, upx bool) {
	logger.Debug().
		Bool("upx", upx).
		Str("exe_load_offset", fmt.Sprintf("0x%X", p.LoadOffset)).
		Str("header_start", fmt.Sprintf("0x%X", p.HeaderStart)).
		Str("xor_mask", fmt.Sprintf("0x%X", p.XorMask)).
		Str("add_mask", fmt.Sprintf("0x%X", p.AddMask)).
		Str("sub_mask", fmt.Sprintf("0x%X", p.SubMask)).
		Msg("Found antidec2 loading sequence, decrypting")
}

func detectGM80(img *exe.Image, logger *zerolog.Logger) (Version, bool, error) {
	logger.Debug().Msg("Checking for standard GM8.0 format")
	data := img.Bytes()
	if len(data) < MinSizeGM80 {
		logger.Debug().Int("size", len(data)).Msg("File too short for this format")
		return 0, false, nil
	}
	if !SigGM80.Match(data) {
		return 0, false, nil
	}

	magic, err := GuardGM80Magic.Eval(data)
	if err != nil {
		return 0, false, err
	}
	logGuard(logger, GuardGM80Magic.Name, magic)
	if magic.Mismatch() {
		return 0, false, nil
	}
	version, err := GuardGM80Version.Eval(data)
	if err != nil {
		return 0, false, err
	}
	logGuard(logger, GuardGM80Version.Name, version)
	if version.Mismatch() {
		return 0, false, nil
	}

	hs, err := FieldHeaderStart.Read(data, 0)
	if err != nil {
		return 0, false, err
	}
	logger.Debug().Str("header_start", fmt.Sprintf("0x%X", hs)).Msg("Reading header")
	if err := img.SetPos(int(hs)); err != nil {
		return 0, false, err
	}

	for _, check := range []probe.Result{magic, version} {
		got, err := img.ReadU32()
		if err != nil {
			return 0, false, err
		}
		if check.Present() && got != check.Value {
			logger.Debug().
				Uint32("expected", check.Value).
				Uint32("got", got).
				Msg("Failed to read GM8.0 header")
			return 0, false, nil
		}
	}
	if err := img.Skip(gm80HeaderSkip); err != nil {
		return 0, false, err
	}
	return GM80, true, nil
}

func detectGM81(img *exe.Image, logger *zerolog.Logger) (Version, bool, error) {
	logger.Debug().Msg("Checking for standard GM8.1 format")
	data := img.Bytes()
	if len(data) < MinSizeGM81 {
		logger.Debug().Int("size", len(data)).Msg("File too short for this format")
		return 0, false, nil
	}
	if !SigGM81.Match(data) {
		return 0, false, nil
	}

	hs, err := FieldGM81HeaderStart.Read(data, 0)
	if err != nil {
		return 0, false, err
	}
	magic, err := GuardGM81Magic.Eval(data)
	if err != nil {
		return 0, false, err
	}
	logGuard(logger, GuardGM81Magic.Name, magic)

	if magic.Present() {
		logger.Debug().
			Str("magic", fmt.Sprintf("0x%X", magic.Value)).
			Str("from", fmt.Sprintf("0x%X", hs)).
			Msg("Searching for GM8.1 magic number")
		pos, found, err := findGM81Header(img, int(hs), magic.Value)
		if err != nil {
			return 0, false, err
		}
		if !found {
			logger.Debug().Msg("Didn't find GM8.1 magic value before EOF, giving up")
			return 0, false, nil
		}
		if err := img.SetPos(pos + 8); err != nil {
			return 0, false, err
		}
	} else if err := img.SetPos(int(hs) + 8); err != nil {
		return 0, false, err
	}

	key, err := gm81.Decrypt(img)
	if err != nil {
		return 0, false, err
	}
	logger.Debug().
		Str("hash_key", key.HashKey).
		Uint32("seed1", key.Seed1).
		Uint32("seed2", key.Seed2).
		Msg("Decrypted GM8.1 protection")

	if err := img.Skip(gm81HeaderSkip); err != nil {
		return 0, false, err
	}
	return GM81, true, nil
}

// findGM81Header scans byte by byte from start for the header magic. The
// dword pair at i is combined as (a & 0xFF00FF00) + (b & 0x00FF00FF).
func findGM81Header(img *exe.Image, start int, magic uint32) (int, bool, error) {
	if !img.Has(start, 8) {
		return 0, false, fmt.Errorf("%w: GM8.1 header search from 0x%X", exe.ErrOutOfRange, start)
	}
	for i := start; ; {
		a, _ := img.U32At(i)
		b, _ := img.U32At(i + 4)
		if (a&0xFF00FF00)+(b&0x00FF00FF) == magic {
			return i, true, nil
		}
		i++
		if i+8 >= img.Len() {
			return 0, false, nil
		}
	}
}

func logGuard(logger *zerolog.Logger, name string, r probe.Result) {
	ev := logger.Debug().Str("check", name).Stringer("outcome", r.Outcome)
	if r.Outcome == probe.Intact || r.Outcome == probe.PatchedBranch {
		ev = ev.Uint32("value", r.Value)
	}
	ev.Msg("Guard evaluated")
}
