package linker

import (
	"debug/elf"
	"eld/pkg/utils"
)

type GotSection struct {
	Chunk
	GotSyms []*Symbol
}

func NewGotSection() *GotSection {
	g := &GotSection{Chunk: NewChunk()}
	g.Name = ".got"
	g.Shdr.Type = uint32(elf.SHT_PROGBITS)
	g.Shdr.Flags = uint64(elf.SHF_ALLOC | elf.SHF_WRITE)
	g.Shdr.AddrAlign = 8
	return g
}

// AddGotSymbol reserves one slot per symbol. Re-adding is a no-op, so every
// relocation referencing the symbol shares the same slot.
func (g *GotSection) AddGotSymbol(ctx *Context, sym *Symbol) {
	if sym.GetGotIdx(ctx) != -1 {
		return
	}
	sym.SetGotIdx(ctx, int32(g.Shdr.Size/8))
	g.Shdr.Size += 8
	g.GotSyms = append(g.GotSyms, sym)
}

func (g *GotSection) GetEntries(ctx *Context) []GotEntry {
	entries := make([]GotEntry, 0)
	for _, sym := range g.GotSyms {
		idx := sym.GetGotIdx(ctx)
		if sym.IsImported {
			entries = append(entries,
				NewGotEntry(int64(idx), 0, int64(elf.R_X86_64_GLOB_DAT)))
			continue
		}
		// An undefined weak claimed to absolute zero must stay zero at run
		// time; a base-relative relocation would make it non-null.
		if sym.IsAbsZero() {
			entries = append(entries,
				NewGotEntry(int64(idx), 0, int64(elf.R_X86_64_NONE)))
			continue
		}
		if ctx.IsPic() {
			entries = append(entries, NewGotEntry(
				int64(idx), sym.GetAddr(ctx), int64(elf.R_X86_64_RELATIVE)))
			continue
		}
		entries = append(entries,
			NewGotEntry(int64(idx), sym.GetAddr(ctx), int64(elf.R_X86_64_NONE)))
	}

	return entries
}

func (g *GotSection) CopyBuf(ctx *Context) {
	buf := ctx.Buf[g.Shdr.Offset:]
	for i := uint64(0); i < g.Shdr.Size; i++ {
		buf[i] = 0
	}

	for _, ent := range g.GetEntries(ctx) {
		// A RELATIVE slot also carries its link-time value so the image
		// works before the loader touches it.
		if ent.Type != int64(elf.R_X86_64_GLOB_DAT) {
			utils.Write[uint64](buf[ent.Idx*8:], ent.Val)
		}
	}
}
