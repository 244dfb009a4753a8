package linker

import (
	"debug/elf"
	"eld/pkg/utils"
	"unsafe"
)

// RelaDynSection emits dynamic relocations. One instance serves .rela.dyn
// (GLOB_DAT and RELATIVE entries for the GOT) and another .rela.plt
// (JUMP_SLOT entries), distinguished by IsPlt.
type RelaDynSection struct {
	Chunk
	IsPlt bool
}

func NewRelaDynSection(isPlt bool) *RelaDynSection {
	r := &RelaDynSection{Chunk: NewChunk(), IsPlt: isPlt}
	if isPlt {
		r.Name = ".rela.plt"
	} else {
		r.Name = ".rela.dyn"
	}
	r.Shdr.Type = uint32(elf.SHT_RELA)
	r.Shdr.Flags = uint64(elf.SHF_ALLOC)
	r.Shdr.EntSize = uint64(unsafe.Sizeof(Rela{}))
	r.Shdr.AddrAlign = 8
	return r
}

func (r *RelaDynSection) getEntries(ctx *Context) []Rela {
	entries := make([]Rela, 0)

	if r.IsPlt {
		if ctx.Plt == nil {
			return entries
		}
		for _, sym := range ctx.Plt.Symbols {
			idx := sym.GetPltIdx(ctx)
			entries = append(entries, Rela{
				Offset: gotPltSlotAddr(ctx, idx),
				Type:   uint32(elf.R_X86_64_JMP_SLOT),
				Sym:    uint32(sym.GetDynsymIdx(ctx)),
			})
		}
		return entries
	}

	if ctx.Got == nil {
		return entries
	}
	for _, ent := range ctx.Got.GetEntries(ctx) {
		switch elf.R_X86_64(ent.Type) {
		case elf.R_X86_64_GLOB_DAT:
			sym := ctx.Got.GotSyms[0]
			for _, s := range ctx.Got.GotSyms {
				if int64(s.GetGotIdx(ctx)) == ent.Idx {
					sym = s
					break
				}
			}
			entries = append(entries, Rela{
				Offset: ctx.Got.Shdr.Addr + uint64(ent.Idx)*8,
				Type:   uint32(elf.R_X86_64_GLOB_DAT),
				Sym:    uint32(sym.GetDynsymIdx(ctx)),
			})
		case elf.R_X86_64_RELATIVE:
			entries = append(entries, Rela{
				Offset: ctx.Got.Shdr.Addr + uint64(ent.Idx)*8,
				Type:   uint32(elf.R_X86_64_RELATIVE),
				Addend: int64(ent.Val),
			})
		}
	}
	return entries
}

func (r *RelaDynSection) UpdateShdr(ctx *Context) {
	r.Shdr.Size = uint64(len(r.getEntries(ctx))) * r.Shdr.EntSize
	if ctx.Dynsym != nil {
		r.Shdr.Link = uint32(ctx.Dynsym.Shndx)
	}
}

func (r *RelaDynSection) CopyBuf(ctx *Context) {
	buf := ctx.Buf[r.Shdr.Offset:]
	for _, rel := range r.getEntries(ctx) {
		utils.Write[Rela](buf, rel)
		buf = buf[unsafe.Sizeof(Rela{}):]
	}
}
