package probe

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/ysh86/gm8dec/pkg/exe"
)

// Signature is a byte pattern expected at a fixed file offset.
type Signature struct {
	Name   string
	Offset int
	Bytes  []byte
}

// End returns the offset just past the pattern.
func (s Signature) End() int {
	return s.Offset + len(s.Bytes)
}

// At returns a copy of s anchored at off.
func (s Signature) At(off int) Signature {
	s.Offset = off
	return s
}

// Match reports whether data holds the pattern. Data too short to hold it
// never matches.
func (s Signature) Match(data []byte) bool {
	if s.Offset < 0 || s.End() > len(data) {
		return false
	}
	return bytes.Equal(data[s.Offset:s.End()], s.Bytes)
}

// Field is a dword read from a fixed offset, optionally XOR-masked.
type Field struct {
	Name   string
	Offset int
	Masked bool
}

// Read returns the field value; mask is applied when the field is masked.
func (f Field) Read(data []byte, mask uint32) (uint32, error) {
	if f.Offset < 0 || f.Offset+4 > len(data) {
		return 0, fmt.Errorf("%w: field %s at 0x%X", exe.ErrOutOfRange, f.Name, f.Offset)
	}
	v := binary.LittleEndian.Uint32(data[f.Offset:])
	if f.Masked {
		v ^= mask
	}
	return v, nil
}

// Outcome is what a guard evaluated to.
type Outcome int

const (
	// Intact: the comparison and its branch are both in place.
	Intact Outcome = iota
	// PatchedBranch: the comparison is there, the branch after it is not.
	PatchedBranch
	// PatchedNop: the comparison was overwritten with the no-op marker.
	PatchedNop
	// PatchedOut: neither form was found and the guard allows that.
	PatchedOut
	// Missing: the lead-in before the comparison is gone.
	Missing
	// Unrecognized: something else sits where the comparison should be.
	Unrecognized
)

func (o Outcome) String() string {
	switch o {
	case Intact:
		return "intact"
	case PatchedBranch:
		return "branch patched out"
	case PatchedNop:
		return "patched out with nop"
	case PatchedOut:
		return "patched out"
	case Missing:
		return "missing"
	case Unrecognized:
		return "unrecognized"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Guard describes an integrity check in loader code that third-party tools
// may have patched: a compare against an imm32 followed by a conditional
// branch.
type Guard struct {
	Name string

	// Lead is an optional pattern in front of the check. When it does not
	// match, the guard evaluates to Missing.
	Lead *Signature

	Offset  int
	Compare []byte // opcode bytes; the imm32 follows
	Branch  []byte // expected right after the imm32
	NoOp    []byte // marker left at Offset when the compare was nopped

	// Otherwise is the outcome when neither Compare nor NoOp is found.
	Otherwise Outcome
}

// Result of a guard evaluation. Value is the imm32 and is only meaningful
// when Present.
type Result struct {
	Outcome Outcome
	Value   uint32
}

// Present reports whether the check is intact and Value must be honoured.
func (r Result) Present() bool {
	return r.Outcome == Intact
}

// Mismatch reports whether the guard rules out the format altogether.
func (r Result) Mismatch() bool {
	return r.Outcome == Unrecognized
}

// Eval evaluates the guard against data.
func (g Guard) Eval(data []byte) (Result, error) {
	if g.Lead != nil && !g.Lead.Match(data) {
		return Result{Outcome: Missing}, nil
	}

	cmp := Signature{Name: g.Name, Offset: g.Offset, Bytes: g.Compare}
	if cmp.Match(data) {
		imm := Field{Name: g.Name, Offset: cmp.End()}
		v, err := imm.Read(data, 0)
		if err != nil {
			return Result{}, err
		}
		br := Signature{Name: g.Name, Offset: cmp.End() + 4, Bytes: g.Branch}
		if br.End() > len(data) {
			return Result{}, fmt.Errorf("%w: guard %s branch at 0x%X", exe.ErrOutOfRange, g.Name, br.Offset)
		}
		if br.Match(data) {
			return Result{Outcome: Intact, Value: v}, nil
		}
		return Result{Outcome: PatchedBranch, Value: v}, nil
	}

	if g.NoOp != nil {
		nop := Signature{Name: g.Name, Offset: g.Offset, Bytes: g.NoOp}
		if nop.Match(data) {
			return Result{Outcome: PatchedNop}, nil
		}
	}
	if g.Offset < 0 || g.Offset >= len(data) {
		return Result{}, fmt.Errorf("%w: guard %s at 0x%X", exe.ErrOutOfRange, g.Name, g.Offset)
	}
	return Result{Outcome: g.Otherwise}, nil
}
