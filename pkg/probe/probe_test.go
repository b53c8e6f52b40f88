package probe_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ysh86/gm8dec/pkg/exe"
	"github.com/ysh86/gm8dec/pkg/probe"
)

func TestSignature_Match(t *testing.T) {
	data := []byte("....UPX0....")
	tests := []struct {
		name string
		sig  probe.Signature
		want bool
	}{
		{"match", probe.Signature{Offset: 4, Bytes: []byte("UPX0")}, true},
		{"wrong offset", probe.Signature{Offset: 3, Bytes: []byte("UPX0")}, false},
		{"wrong bytes", probe.Signature{Offset: 4, Bytes: []byte("UPX1")}, false},
		{"at the very end", probe.Signature{Offset: 8, Bytes: []byte("....")}, true},
		{"runs past end", probe.Signature{Offset: 10, Bytes: []byte("....")}, false},
		{"far past end", probe.Signature{Offset: 0x226CF3, Bytes: []byte{0xE8}}, false},
		{"negative", probe.Signature{Offset: -1, Bytes: []byte(".")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.sig.Match(data))
		})
	}
}

func TestSignature_At(t *testing.T) {
	sig := probe.Signature{Name: "upx!", Offset: 0, Bytes: []byte("UPX!")}
	moved := sig.At(2)
	assert.Equal(t, 2, moved.Offset)
	assert.Equal(t, 6, moved.End())
	assert.Equal(t, 0, sig.Offset)
	assert.True(t, moved.Match([]byte("..UPX!")))
}

func TestField_Read(t *testing.T) {
	data := []byte{0x00, 0x11, 0x22, 0x33, 0x44}

	v, err := probe.Field{Offset: 1}.Read(data, 0xffffffff)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x44332211), v)

	v, err = probe.Field{Offset: 1, Masked: true}.Read(data, 0x11111111)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x55223300), v)

	_, err = probe.Field{Offset: 2}.Read(data, 0)
	assert.ErrorIs(t, err, exe.ErrOutOfRange)
}

var cmpGuard = probe.Guard{
	Name:      "magic",
	Offset:    2,
	Compare:   []byte{0x3D},
	Branch:    []byte{0x0F, 0x85},
	NoOp:      []byte{0x90},
	Otherwise: probe.Unrecognized,
}

func TestGuard_Eval(t *testing.T) {
	lead := probe.Signature{Offset: 0, Bytes: []byte{0x8B, 0xC6}}
	withLead := cmpGuard
	withLead.Lead = &lead

	lenient := cmpGuard
	lenient.NoOp = nil
	lenient.Otherwise = probe.PatchedOut

	tests := []struct {
		name    string
		guard   probe.Guard
		data    []byte
		want    probe.Result
		present bool
		reject  bool
	}{
		{
			"intact",
			cmpGuard,
			[]byte{0x8B, 0xC6, 0x3D, 0x91, 0xD5, 0x12, 0x00, 0x0F, 0x85},
			probe.Result{Outcome: probe.Intact, Value: 1234321},
			true, false,
		},
		{
			"branch patched",
			cmpGuard,
			[]byte{0x8B, 0xC6, 0x3D, 0x91, 0xD5, 0x12, 0x00, 0x90, 0x90},
			probe.Result{Outcome: probe.PatchedBranch, Value: 1234321},
			false, false,
		},
		{
			"nopped",
			cmpGuard,
			[]byte{0x8B, 0xC6, 0x90, 0x90, 0x90, 0x90, 0x90, 0x0F, 0x85},
			probe.Result{Outcome: probe.PatchedNop},
			false, false,
		},
		{
			"unrecognized opcode",
			cmpGuard,
			[]byte{0x8B, 0xC6, 0xCC, 0x91, 0xD5, 0x12, 0x00, 0x0F, 0x85},
			probe.Result{Outcome: probe.Unrecognized},
			false, true,
		},
		{
			"unrecognized opcode tolerated",
			lenient,
			[]byte{0x8B, 0xC6, 0xCC, 0x91, 0xD5, 0x12, 0x00, 0x0F, 0x85},
			probe.Result{Outcome: probe.PatchedOut},
			false, false,
		},
		{
			"lead missing",
			withLead,
			[]byte{0x8B, 0xC7, 0x3D, 0x91, 0xD5, 0x12, 0x00, 0x0F, 0x85},
			probe.Result{Outcome: probe.Missing},
			false, false,
		},
		{
			"lead present",
			withLead,
			[]byte{0x8B, 0xC6, 0x3D, 0x20, 0x03, 0x00, 0x00, 0x0F, 0x85},
			probe.Result{Outcome: probe.Intact, Value: 800},
			true, false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.guard.Eval(tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.present, got.Present())
			assert.Equal(t, tt.reject, got.Mismatch())
		})
	}
}

func TestGuard_EvalShort(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"no room for opcode", []byte{0x00, 0x00}},
		{"no room for imm32", []byte{0x00, 0x00, 0x3D, 0x01}},
		{"no room for branch", []byte{0x00, 0x00, 0x3D, 0x01, 0x02, 0x03, 0x04, 0x0F}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := cmpGuard.Eval(tt.data)
			assert.ErrorIs(t, err, exe.ErrOutOfRange)
		})
	}
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "intact", probe.Intact.String())
	assert.Equal(t, "patched out with nop", probe.PatchedNop.String())
	assert.Equal(t, "Outcome(42)", probe.Outcome(42).String())
}
