package linker

import (
	"debug/elf"
	"eld/pkg/utils"
	"unsafe"
)

type DynstrSection struct {
	Chunk
	contents []byte
	offsets  map[string]uint32
}

func NewDynstrSection() *DynstrSection {
	d := &DynstrSection{
		Chunk:    NewChunk(),
		contents: []byte{0},
		offsets:  make(map[string]uint32),
	}
	d.Name = ".dynstr"
	d.Shdr.Type = uint32(elf.SHT_STRTAB)
	d.Shdr.Flags = uint64(elf.SHF_ALLOC)
	d.Shdr.AddrAlign = 1
	d.Shdr.Size = 1
	return d
}

// AddString interns a string and returns its table offset.
func (d *DynstrSection) AddString(s string) uint32 {
	if s == "" {
		return 0
	}
	if off, ok := d.offsets[s]; ok {
		return off
	}
	off := uint32(len(d.contents))
	d.contents = append(d.contents, []byte(s)...)
	d.contents = append(d.contents, 0)
	d.offsets[s] = off
	d.Shdr.Size = uint64(len(d.contents))
	return off
}

func (d *DynstrSection) GetOffset(s string) uint32 {
	if s == "" {
		return 0
	}
	off, ok := d.offsets[s]
	utils.Assert(ok)
	return off
}

func (d *DynstrSection) CopyBuf(ctx *Context) {
	copy(ctx.Buf[d.Shdr.Offset:], d.contents)
}

type DynsymSection struct {
	Chunk
}

func NewDynsymSection() *DynsymSection {
	d := &DynsymSection{Chunk: NewChunk()}
	d.Name = ".dynsym"
	d.Shdr.Type = uint32(elf.SHT_DYNSYM)
	d.Shdr.Flags = uint64(elf.SHF_ALLOC)
	d.Shdr.EntSize = uint64(unsafe.Sizeof(Sym{}))
	d.Shdr.AddrAlign = 8
	d.Shdr.Info = 1
	return d
}

// AddSymbol appends a symbol to the dynamic symbol table. Index 0 stays the
// null symbol.
func (d *DynsymSection) AddSymbol(ctx *Context, sym *Symbol) {
	if sym.GetDynsymIdx(ctx) != -1 {
		return
	}
	sym.SetDynsymIdx(ctx, int32(len(ctx.DynamicSymbols)+1))
	ctx.DynamicSymbols = append(ctx.DynamicSymbols, sym)
	ctx.Dynstr.AddString(sym.Name)
}

func (d *DynsymSection) UpdateShdr(ctx *Context) {
	d.Shdr.Size = uint64(len(ctx.DynamicSymbols)+1) * d.Shdr.EntSize
	if ctx.Dynstr != nil {
		d.Shdr.Link = uint32(ctx.Dynstr.Shndx)
	}
}

func toDynSym(ctx *Context, sym *Symbol) Sym {
	esym := Sym{Name: ctx.Dynstr.GetOffset(sym.Name)}

	bind := uint8(elf.STB_GLOBAL)
	if sym.IsWeak {
		bind = uint8(elf.STB_WEAK)
	}
	typ := uint8(elf.STT_NOTYPE)
	if sym.File != nil && sym.SymIdx != -1 {
		typ = sym.ElfSym().Type()
	} else if sym.SharedFile != nil {
		if src := sym.SharedFile.FindSymbol(sym.Name); src != nil {
			typ = src.Type()
		}
	}
	esym.SetBind(bind)
	esym.SetType(typ)

	if sym.IsImported {
		esym.Shndx = uint16(elf.SHN_UNDEF)
		return esym
	}

	esym.Val = sym.GetAddr(ctx)
	if sym.InputSection != nil {
		esym.Shndx = uint16(sym.InputSection.OutputSection.Shndx)
	} else if sym.OutputSection != nil {
		esym.Shndx = uint16(sym.OutputSection.GetShndx())
	} else {
		esym.Shndx = uint16(elf.SHN_ABS)
	}
	return esym
}

func (d *DynsymSection) CopyBuf(ctx *Context) {
	buf := ctx.Buf[d.Shdr.Offset:]
	utils.Write[Sym](buf, Sym{})
	for i, sym := range ctx.DynamicSymbols {
		utils.Write[Sym](buf[(i+1)*int(unsafe.Sizeof(Sym{})):], toDynSym(ctx, sym))
	}
}

type DynamicSection struct {
	Chunk
}

func NewDynamicSection() *DynamicSection {
	d := &DynamicSection{Chunk: NewChunk()}
	d.Name = ".dynamic"
	d.Shdr.Type = uint32(elf.SHT_DYNAMIC)
	d.Shdr.Flags = uint64(elf.SHF_ALLOC | elf.SHF_WRITE)
	d.Shdr.EntSize = uint64(unsafe.Sizeof(Dyn{}))
	d.Shdr.AddrAlign = 8
	return d
}

func (d *DynamicSection) getEntries(ctx *Context) []Dyn {
	entries := make([]Dyn, 0)
	add := func(tag int64, val uint64) {
		entries = append(entries, Dyn{Tag: tag, Val: val})
	}

	for _, dso := range ctx.Dsos {
		if dso.IsNeeded {
			add(int64(elf.DT_NEEDED), uint64(ctx.Dynstr.GetOffset(dso.Soname)))
		}
	}

	if ctx.Arg.OutputKind == OutputKindSharedLibrary && ctx.Arg.Soname != "" {
		add(int64(elf.DT_SONAME), uint64(ctx.Dynstr.GetOffset(ctx.Arg.Soname)))
	}

	if ctx.Hash != nil {
		add(int64(elf.DT_HASH), ctx.Hash.Shdr.Addr)
	}
	if ctx.GnuHash != nil {
		add(int64(elf.DT_GNU_HASH), ctx.GnuHash.Shdr.Addr)
	}

	add(int64(elf.DT_STRTAB), ctx.Dynstr.Shdr.Addr)
	add(int64(elf.DT_STRSZ), ctx.Dynstr.Shdr.Size)
	add(int64(elf.DT_SYMTAB), ctx.Dynsym.Shdr.Addr)
	add(int64(elf.DT_SYMENT), uint64(unsafe.Sizeof(Sym{})))

	if ctx.RelaDyn != nil && ctx.RelaDyn.Shdr.Size > 0 {
		add(int64(elf.DT_RELA), ctx.RelaDyn.Shdr.Addr)
		add(int64(elf.DT_RELASZ), ctx.RelaDyn.Shdr.Size)
		add(int64(elf.DT_RELAENT), uint64(unsafe.Sizeof(Rela{})))
	}

	if ctx.RelaPlt != nil && ctx.RelaPlt.Shdr.Size > 0 {
		add(int64(elf.DT_JMPREL), ctx.RelaPlt.Shdr.Addr)
		add(int64(elf.DT_PLTRELSZ), ctx.RelaPlt.Shdr.Size)
		add(int64(elf.DT_PLTREL), uint64(elf.DT_RELA))
		add(int64(elf.DT_PLTGOT), ctx.GotPlt.Shdr.Addr)
	}

	if ctx.Arg.ZNow {
		add(int64(elf.DT_FLAGS), uint64(elf.DF_BIND_NOW))
	}
	flags1 := uint64(0)
	if ctx.Arg.ZNow {
		flags1 |= uint64(elf.DF_1_NOW)
	}
	if ctx.Arg.Pie && ctx.Arg.OutputKind == OutputKindExecutable {
		flags1 |= uint64(elf.DF_1_PIE)
	}
	if flags1 != 0 {
		add(int64(elf.DT_FLAGS_1), flags1)
	}

	if ctx.Arg.OutputKind == OutputKindExecutable {
		add(int64(elf.DT_DEBUG), 0)
	}

	add(int64(elf.DT_NULL), 0)
	return entries
}

func (d *DynamicSection) UpdateShdr(ctx *Context) {
	d.Shdr.Size = uint64(len(d.getEntries(ctx))) * d.Shdr.EntSize
	if ctx.Dynstr != nil {
		d.Shdr.Link = uint32(ctx.Dynstr.Shndx)
	}
}

func (d *DynamicSection) CopyBuf(ctx *Context) {
	buf := ctx.Buf[d.Shdr.Offset:]
	for _, dyn := range d.getEntries(ctx) {
		utils.Write[Dyn](buf, dyn)
		buf = buf[unsafe.Sizeof(Dyn{}):]
	}
}

type InterpSection struct {
	Chunk
}

func NewInterpSection(ctx *Context) *InterpSection {
	i := &InterpSection{Chunk: NewChunk()}
	i.Name = ".interp"
	i.Shdr.Type = uint32(elf.SHT_PROGBITS)
	i.Shdr.Flags = uint64(elf.SHF_ALLOC)
	i.Shdr.AddrAlign = 1
	i.Shdr.Size = uint64(len(ctx.Arg.DynamicLinker)) + 1
	return i
}

func (i *InterpSection) CopyBuf(ctx *Context) {
	writeString(ctx.Buf[i.Shdr.Offset:], ctx.Arg.DynamicLinker)
}
