package linker

import (
	"debug/elf"
)

const (
	NEEDS_GOT uint32 = 1 << 0
	NEEDS_PLT uint32 = 1 << 1
)

// SymbolAux carries the per-symbol table indices that only a handful of
// symbols need; it is allocated lazily during relocation scanning.
type SymbolAux struct {
	GotIdx    int32
	PltIdx    int32
	DynsymIdx int32
}

func NewSymbolAux() SymbolAux {
	return SymbolAux{GotIdx: -1, PltIdx: -1, DynsymIdx: -1}
}

type Symbol struct {
	File       *ObjectFile
	SharedFile *SharedFile

	InputSection    *InputSection
	OutputSection   Chunker
	SectionFragment *SectionFragment

	Value uint64
	Name  string

	SymIdx int32
	AuxIdx int32
	VerIdx uint16

	Flags      uint32
	Visibility uint8

	IsWeak     bool
	IsExported bool
	IsImported bool

	ReferencedBy string

	// Largest size any COMMON declaration of this symbol carried. The
	// winning definition is padded to this size.
	comSize uint64
}

func (s *Symbol) CommonSize() uint64 {
	return s.comSize
}

func (s *Symbol) setCommonSize(size uint64) {
	s.comSize = size
}

func NewSymbol(name string) *Symbol {
	s := &Symbol{
		Name:       name,
		SymIdx:     -1,
		AuxIdx:     -1,
		Visibility: uint8(elf.STV_DEFAULT),
	}
	return s
}

func GetSymbolByName(ctx *Context, name string) *Symbol {
	if sym, ok := ctx.SymbolMap[name]; ok {
		return sym
	}
	ctx.SymbolMap[name] = NewSymbol(name)
	return ctx.SymbolMap[name]
}

func (s *Symbol) SetInputSection(isec *InputSection) {
	s.InputSection = isec
	s.OutputSection = nil
	s.SectionFragment = nil
}

func (s *Symbol) SetOutputSection(osec Chunker) {
	s.InputSection = nil
	s.OutputSection = osec
	s.SectionFragment = nil
}

func (s *Symbol) SetSectionFragment(frag *SectionFragment) {
	s.InputSection = nil
	s.OutputSection = nil
	s.SectionFragment = frag
}

func (s *Symbol) GetGotIdx(ctx *Context) int32 {
	if s.AuxIdx == -1 {
		return -1
	}
	return ctx.SymbolsAux[s.AuxIdx].GotIdx
}

func (s *Symbol) GetPltIdx(ctx *Context) int32 {
	if s.AuxIdx == -1 {
		return -1
	}
	return ctx.SymbolsAux[s.AuxIdx].PltIdx
}

func (s *Symbol) GetDynsymIdx(ctx *Context) int32 {
	if s.AuxIdx == -1 {
		return -1
	}
	return ctx.SymbolsAux[s.AuxIdx].DynsymIdx
}

func (s *Symbol) SetGotIdx(ctx *Context, idx int32) {
	ctx.SymbolsAux[s.AuxIdx].GotIdx = idx
}

func (s *Symbol) SetPltIdx(ctx *Context, idx int32) {
	ctx.SymbolsAux[s.AuxIdx].PltIdx = idx
}

func (s *Symbol) SetDynsymIdx(ctx *Context, idx int32) {
	ctx.SymbolsAux[s.AuxIdx].DynsymIdx = idx
}

func (s *Symbol) ElfSym() *Sym {
	return &s.File.ElfSyms[s.SymIdx]
}

// GetAddr returns the symbol's final virtual address. Imported symbols
// resolve through their PLT entry when they have one; their own address is
// unknown until load time.
func (s *Symbol) GetAddr(ctx *Context) uint64 {
	if s.SectionFragment != nil {
		if !s.SectionFragment.IsAlive {
			return 0
		}
		return s.SectionFragment.GetAddr() + s.Value
	}

	if s.IsImported {
		if idx := s.GetPltIdx(ctx); idx != -1 {
			return ctx.Plt.GetEntryAddr(ctx, idx)
		}
		return 0
	}

	// Synthetic symbols hold a final absolute value once layout is done;
	// OutputSection only records where they belong.
	if s.InputSection == nil {
		return s.Value
	}

	if !s.InputSection.IsAlive {
		return 0
	}

	return s.InputSection.GetAddr() + s.Value
}

// GetGotAddr returns the address of the symbol's .got slot.
func (s *Symbol) GetGotAddr(ctx *Context) uint64 {
	return ctx.Got.Shdr.Addr + uint64(s.GetGotIdx(ctx))*8
}

func (s *Symbol) Clear() {
	s.File = nil
	s.SharedFile = nil
	s.SectionFragment = nil
	s.OutputSection = nil
	s.InputSection = nil
	s.SymIdx = -1
	s.VerIdx = 0
	s.IsWeak = false
	s.IsExported = false
	s.IsImported = false
}

func (s *Symbol) GetRank() uint64 {
	if s.File == nil {
		return 7 << 24
	}
	return GetRank(s.File, s.ElfSym(), !s.File.IsAlive)
}

// IsDefined reports whether the symbol has a definition in a loaded object
// or is satisfied by a shared library.
func (s *Symbol) IsDefined() bool {
	if s.SharedFile != nil {
		return true
	}
	return s.File != nil && s.SymIdx != -1 && !s.ElfSym().IsUndef()
}

// IsAbsZero reports whether the symbol is an undefined weak that was claimed
// to address zero.
func (s *Symbol) IsAbsZero() bool {
	return s.File != nil && s.SymIdx != -1 && s.ElfSym().IsUndefWeak()
}
