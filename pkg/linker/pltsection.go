package linker

import (
	"debug/elf"
	"eld/pkg/utils"
)

const PltHdrSize = 16
const PltEntrySize = 16

// PltSection synthesizes the procedure linkage table. Each imported
// function called directly gets a 16-byte stub jumping through its .got.plt
// slot; with lazy binding the stub falls through to the resolver trampoline
// in the table header.
type PltSection struct {
	Chunk
	Symbols []*Symbol
}

func NewPltSection() *PltSection {
	p := &PltSection{Chunk: NewChunk()}
	p.Name = ".plt"
	p.Shdr.Type = uint32(elf.SHT_PROGBITS)
	p.Shdr.Flags = uint64(elf.SHF_ALLOC | elf.SHF_EXECINSTR)
	p.Shdr.AddrAlign = 16
	p.Shdr.Size = PltHdrSize
	return p
}

func (p *PltSection) AddSymbol(ctx *Context, sym *Symbol) {
	if sym.GetPltIdx(ctx) != -1 {
		return
	}
	sym.SetPltIdx(ctx, int32(len(p.Symbols)))
	p.Symbols = append(p.Symbols, sym)
	p.Shdr.Size += PltEntrySize
}

func (p *PltSection) GetEntryAddr(ctx *Context, idx int32) uint64 {
	return p.Shdr.Addr + PltHdrSize + uint64(idx)*PltEntrySize
}

// gotPltSlotAddr returns the address of the .got.plt slot backing the given
// table entry. The first three slots are reserved for the loader.
func gotPltSlotAddr(ctx *Context, idx int32) uint64 {
	return ctx.GotPlt.Shdr.Addr + uint64(GotPltReservedSlots+idx)*8
}

func (p *PltSection) CopyBuf(ctx *Context) {
	buf := ctx.Buf[p.Shdr.Offset:]

	writeRel32 := func(loc []byte, target, next uint64) {
		utils.Write[uint32](loc, uint32(target-next))
	}

	// plt0: push the link map slot and jump to the resolver slot.
	buf[0], buf[1] = 0xff, 0x35
	writeRel32(buf[2:], ctx.GotPlt.Shdr.Addr+8, p.Shdr.Addr+6)
	buf[6], buf[7] = 0xff, 0x25
	writeRel32(buf[8:], ctx.GotPlt.Shdr.Addr+16, p.Shdr.Addr+12)
	for i := 12; i < 16; i++ {
		buf[i] = 0x90
	}

	for _, sym := range p.Symbols {
		idx := sym.GetPltIdx(ctx)
		ent := buf[PltHdrSize+idx*PltEntrySize:]
		entAddr := p.GetEntryAddr(ctx, idx)

		ent[0], ent[1] = 0xff, 0x25
		writeRel32(ent[2:], gotPltSlotAddr(ctx, idx), entAddr+6)

		if ctx.Arg.ZNow {
			// Eager binding never falls through; pad the stub.
			for i := 6; i < PltEntrySize; i++ {
				ent[i] = 0x90
			}
			continue
		}

		ent[6] = 0x68
		utils.Write[uint32](ent[7:], uint32(idx))
		ent[11] = 0xe9
		writeRel32(ent[12:], p.Shdr.Addr, entAddr+16)
	}
}

const GotPltReservedSlots = 3

// GotPltSection holds the slots the lazy-binding stubs jump through. Slot 0
// points at .dynamic, slots 1 and 2 are filled by the loader with its link
// map and resolver address.
type GotPltSection struct {
	Chunk
}

func NewGotPltSection() *GotPltSection {
	g := &GotPltSection{Chunk: NewChunk()}
	g.Name = ".got.plt"
	g.Shdr.Type = uint32(elf.SHT_PROGBITS)
	g.Shdr.Flags = uint64(elf.SHF_ALLOC | elf.SHF_WRITE)
	g.Shdr.AddrAlign = 8
	return g
}

func (g *GotPltSection) UpdateShdr(ctx *Context) {
	n := GotPltReservedSlots
	if ctx.Plt != nil {
		n += len(ctx.Plt.Symbols)
	}
	g.Shdr.Size = uint64(n) * 8
}

func (g *GotPltSection) CopyBuf(ctx *Context) {
	buf := ctx.Buf[g.Shdr.Offset:]
	for i := uint64(0); i < g.Shdr.Size; i++ {
		buf[i] = 0
	}

	if ctx.Dynamic != nil {
		utils.Write[uint64](buf, ctx.Dynamic.Shdr.Addr)
	}

	if ctx.Plt == nil || ctx.Arg.ZNow {
		return
	}

	// Each lazy slot starts out pointing past its stub's first jump, so the
	// first call lands on the push of the relocation index. The loader
	// rebases these values by l_addr before use.
	for _, sym := range ctx.Plt.Symbols {
		idx := sym.GetPltIdx(ctx)
		utils.Write[uint64](buf[(GotPltReservedSlots+int(idx))*8:],
			ctx.Plt.GetEntryAddr(ctx, idx)+6)
	}
}
