package linker

import (
	"debug/elf"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func auxSymbol(ctx *Context, name string) *Symbol {
	sym := NewSymbol(name)
	sym.AuxIdx = int32(len(ctx.SymbolsAux))
	ctx.SymbolsAux = append(ctx.SymbolsAux, NewSymbolAux())
	return sym
}

func TestGotSlotIsSharedAcrossReferences(t *testing.T) {
	ctx := newTestContext()
	got := NewGotSection()

	a := auxSymbol(ctx, "a")
	b := auxSymbol(ctx, "b")

	got.AddGotSymbol(ctx, a)
	got.AddGotSymbol(ctx, a)
	got.AddGotSymbol(ctx, b)
	got.AddGotSymbol(ctx, a)

	assert.Len(t, got.GotSyms, 2)
	assert.Equal(t, uint64(16), got.Shdr.Size)
	assert.Equal(t, int32(0), a.GetGotIdx(ctx))
	assert.Equal(t, int32(1), b.GetGotIdx(ctx))
}

func TestUndefinedWeakGotSlotStaysNull(t *testing.T) {
	ctx := newTestContext()
	ctx.Arg.Pie = true
	got := NewGotSection()

	obj := &ObjectFile{}
	esym := Sym{Shndx: uint16(elf.SHN_UNDEF)}
	esym.SetBind(uint8(elf.STB_WEAK))
	obj.ElfSyms = []Sym{esym}

	sym := auxSymbol(ctx, "maybe_here")
	sym.File = obj
	sym.SymIdx = 0

	got.AddGotSymbol(ctx, sym)

	entries := got.GetEntries(ctx)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(elf.R_X86_64_NONE), entries[0].Type,
		"a base-relative relocation would make the slot non-null")
	assert.Equal(t, uint64(0), entries[0].Val)
}

func TestPltEntryAddresses(t *testing.T) {
	ctx := newTestContext()
	plt := NewPltSection()
	plt.Shdr.Addr = 0x401000

	a := auxSymbol(ctx, "a")
	b := auxSymbol(ctx, "b")
	plt.AddSymbol(ctx, a)
	plt.AddSymbol(ctx, b)
	plt.AddSymbol(ctx, a)

	assert.Equal(t, uint64(PltHdrSize+2*PltEntrySize), plt.Shdr.Size)
	assert.Equal(t, uint64(0x401010), plt.GetEntryAddr(ctx, a.GetPltIdx(ctx)))
	assert.Equal(t, uint64(0x401020), plt.GetEntryAddr(ctx, b.GetPltIdx(ctx)))
}

func TestLazyPltStubShape(t *testing.T) {
	ctx := newTestContext()
	ctx.Plt = NewPltSection()
	ctx.GotPlt = NewGotPltSection()
	ctx.Plt.Shdr.Addr = 0x401000
	ctx.GotPlt.Shdr.Addr = 0x403000

	sym := auxSymbol(ctx, "puts")
	sym.IsImported = true
	ctx.Plt.AddSymbol(ctx, sym)
	ctx.GotPlt.UpdateShdr(ctx)

	ctx.Plt.Shdr.Offset = 0
	ctx.GotPlt.Shdr.Offset = 0x100
	ctx.Buf = make([]byte, 0x200)
	ctx.Plt.CopyBuf(ctx)
	ctx.GotPlt.CopyBuf(ctx)

	// Header pushes .got.plt+8 and jumps through .got.plt+16.
	assert.Equal(t, []byte{0xff, 0x35}, ctx.Buf[0:2])
	assert.Equal(t, []byte{0xff, 0x25}, ctx.Buf[6:8])

	ent := ctx.Buf[PltHdrSize:]
	assert.Equal(t, []byte{0xff, 0x25}, ent[0:2])
	assert.Equal(t, byte(0x68), ent[6], "push of the relocation index")
	assert.Equal(t, byte(0xe9), ent[11], "jump back to the resolver stub")

	// The lazy slot points past the entry's first jump.
	slot := ctx.Buf[0x100+GotPltReservedSlots*8:]
	require.Equal(t, uint64(4*8), ctx.GotPlt.Shdr.Size)
	entryAddr := ctx.Plt.GetEntryAddr(ctx, 0)
	assert.Equal(t, byte((entryAddr+6)&0xff), slot[0])
}

func TestEagerPltStubHasNoTrampoline(t *testing.T) {
	ctx := newTestContext()
	ctx.Arg.ZNow = true
	ctx.Plt = NewPltSection()
	ctx.GotPlt = NewGotPltSection()
	ctx.Plt.Shdr.Addr = 0x401000
	ctx.GotPlt.Shdr.Addr = 0x403000

	sym := auxSymbol(ctx, "puts")
	sym.IsImported = true
	ctx.Plt.AddSymbol(ctx, sym)
	ctx.GotPlt.UpdateShdr(ctx)

	ctx.Plt.Shdr.Offset = 0
	ctx.GotPlt.Shdr.Offset = 0x100
	ctx.Buf = make([]byte, 0x200)
	ctx.Plt.CopyBuf(ctx)
	ctx.GotPlt.CopyBuf(ctx)

	ent := ctx.Buf[PltHdrSize:]
	assert.Equal(t, []byte{0xff, 0x25}, ent[0:2])
	for i := 6; i < PltEntrySize; i++ {
		assert.Equal(t, byte(0x90), ent[i])
	}

	// Eager slots stay zero; the loader fills them before first use.
	slot := ctx.Buf[ctx.GotPlt.Shdr.Offset+GotPltReservedSlots*8:]
	for i := 0; i < 8; i++ {
		assert.Equal(t, byte(0), slot[i])
	}
}
