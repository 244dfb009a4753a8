package linker

import (
	"debug/elf"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The relocation-analysis view runs after scanning has already traded the
// per-symbol flags for slot indices; it must still see what was assigned.
func TestRelocationAnalysisSeesAssignedSlots(t *testing.T) {
	text := []byte{0x48, 0x8b, 0x05, 0, 0, 0, 0, 0xc3} // mov rax, [rip+disp]
	obj := buildObject(t, []testSection{
		textSection(text),
		relaFor(1, []Rela{
			{Offset: 3, Type: uint32(elf.R_X86_64_GOTPCREL), Sym: 2, Addend: -4},
		}),
		{name: ".data", typ: uint32(elf.SHT_PROGBITS),
			flags: uint64(elf.SHF_ALLOC | elf.SHF_WRITE),
			data:  make([]byte, 8), addrAlign: 8},
	}, []testSym{
		{name: "_start", bind: uint8(elf.STB_GLOBAL), typ: uint8(elf.STT_FUNC), sec: 1},
		{name: "value", bind: uint8(elf.STB_GLOBAL), typ: uint8(elf.STT_OBJECT), sec: 3},
	})

	ctx := NewContext()
	runLink(t, ctx, map[string][]byte{"main.o": obj})

	var value *Symbol
	for _, sym := range slottedSymbols(ctx) {
		if sym.Name == "value" {
			value = sym
		}
	}
	require.NotNil(t, value, "the scanned symbol is visible to the view")
	assert.NotEqual(t, int32(-1), value.GetGotIdx(ctx))
	assert.Equal(t, int32(-1), value.GetPltIdx(ctx))
}
