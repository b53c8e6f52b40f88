package gamedata

import "github.com/ysh86/gm8dec/pkg/probe"

// All fixed offsets and byte patterns the detector relies on. The patterns
// are fragments of the original loader code and are never executed.

const (
	// HeaderStartPos holds the GM8.0 header position; antidec2 keeps it too.
	HeaderStartPos = 0x144AC0

	// MinSizeGM80 is the smallest image the GM8.0 and antidec2 probes accept.
	MinSizeGM80 = HeaderStartPos + 4

	// MinSizeGM81 is the smallest image the GM8.1 probe accepts.
	MinSizeGM81 = 0x226D8A

	// UPXVersionPos is where the NUL-terminated UPX version string starts.
	UPXVersionPos = 0x1E8

	// bytes skipped after the header once the cursor is on it
	antidecHeaderSkip = 12
	gm80HeaderSkip    = 8
	gm81HeaderSkip    = 20
)

var (
	SigUPX0 = probe.Signature{Name: "UPX0", Offset: 0x170, Bytes: []byte("UPX0")}
	SigUPX1 = probe.Signature{Name: "UPX1", Offset: 0x198, Bytes: []byte("UPX1")}
	// anchored after the version string with At
	SigUPXMagic = probe.Signature{Name: "UPX!", Bytes: []byte("UPX!")}
)

// antidec2

var SigAntidec = probe.Signature{
	Name:   "antidec2 loading sequence",
	Offset: 0x00032337,
	Bytes:  []byte{0xE2, 0xF7, 0xC7, 0x05, 0x2E, 0x2F, 0x43, 0x00},
}

// AntidecMaskPos is the byte the loader uses to decrypt its own constants.
const AntidecMaskPos = 0x00032337 - 1

var (
	FieldLoadOffset  = probe.Field{Name: "exe_load_offset", Offset: 0x000322A9, Masked: true}
	FieldHeaderStart = probe.Field{Name: "header_start", Offset: HeaderStartPos}
	FieldXorMask     = probe.Field{Name: "xor_mask", Offset: 0x000322D3, Masked: true}
	FieldAddMask     = probe.Field{Name: "add_mask", Offset: 0x000322D8, Masked: true}
	FieldSubMask     = probe.Field{Name: "sub_mask", Offset: 0x000322E4, Masked: true}
)

// standard GM8.0

var SigGM80 = probe.Signature{
	Name:   "GM8.0 loading sequence",
	Offset: 0x000A49BE,
	Bytes:  []byte{0x8B, 0x45, 0xF4, 0xE8, 0x2A, 0xBD, 0xFD, 0xFF},
}

var (
	// CMP EAX, imm32 / JNZ; the imm32 is the header magic
	GuardGM80Magic = probe.Guard{
		Name:      "GM8.0 magic check",
		Offset:    0x000A49C6,
		Compare:   []byte{0x3D},
		Branch:    []byte{0x0F, 0x85, 0x18, 0x01, 0x00, 0x00},
		NoOp:      []byte{0x90},
		Otherwise: probe.Unrecognized,
	}

	// the imm32 is the header version, usually 800
	GuardGM80Version = probe.Guard{
		Name: "GM8.0 header version check",
		Lead: &probe.Signature{
			Name:   "GM8.0 header version read",
			Offset: 0x000A49E2,
			Bytes:  []byte{0x8B, 0xC6, 0xE8, 0x07, 0xBD, 0xFD, 0xFF},
		},
		Offset:    0x000A49E9,
		Compare:   []byte{0x3D},
		Branch:    []byte{0x0F, 0x85, 0xF5, 0x00, 0x00, 0x00},
		NoOp:      []byte{0x90},
		Otherwise: probe.Unrecognized,
	}
)

// standard GM8.1

var SigGM81 = probe.Signature{
	Name:   "GM8.1 loading sequence",
	Offset: 0x00226CF3,
	Bytes:  []byte{0xE8, 0x80, 0xF2, 0xDD, 0xFF, 0xC7, 0x45, 0xF0},
}

// FieldGM81HeaderStart directly follows the loading sequence.
var FieldGM81HeaderStart = probe.Field{Name: "header_start", Offset: 0x00226CFB}

// CMP [EBP-14], imm32 / JE; a missing compare is a patch, not a mismatch
var GuardGM81Magic = probe.Guard{
	Name:      "GM8.1 magic check",
	Offset:    0x00226D7C,
	Compare:   []byte{0x81, 0x7D, 0xEC},
	Branch:    []byte{0x74},
	Otherwise: probe.PatchedOut,
}
