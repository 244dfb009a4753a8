package linker

import (
	"debug/elf"
	"eld/pkg/utils"
	"math"
	"unsafe"
)

type InputSection struct {
	File          *ObjectFile
	OutputSection *OutputSection
	Contents      []byte
	Offset        uint32
	Shndx         uint32
	RelsecIdx     uint32
	ShSize        uint32
	IsAlive       bool
	P2Align       uint8
	Rels          []Rela

	// Set for synthesized sections that have no header in the input file.
	ownShdr *Shdr
}

func NewInputSection(
	ctx *Context, file *ObjectFile, name string, shndx int64,
) *InputSection {
	s := &InputSection{
		Offset:    math.MaxUint32,
		Shndx:     math.MaxUint32,
		RelsecIdx: math.MaxUint32,
		ShSize:    math.MaxUint32,
		IsAlive:   true,
	}
	s.File = file
	s.Shndx = uint32(shndx)

	shdr := s.Shdr()
	if shndx < int64(len(file.ElfSections)) {
		s.Contents = file.File.Contents[shdr.Offset : shdr.Offset+shdr.Size]
	}

	toP2Align := func(alignment uint64) int64 {
		if alignment == 0 {
			return 0
		}
		return int64(utils.CountrZero[uint64](alignment))
	}

	if shdr.Flags&uint64(elf.SHF_COMPRESSED) != 0 {
		chdr := s.Chdr()
		s.ShSize = uint32(chdr.Size)
		s.P2Align = uint8(toP2Align(chdr.AddrAlign))
	} else {
		s.ShSize = uint32(shdr.Size)
		s.P2Align = uint8(toP2Align(shdr.AddrAlign))
	}

	s.OutputSection =
		GetOutputSectionInstance(ctx, name, uint64(shdr.Type), shdr.Flags)

	return s
}

// NewCommonSection backs a COMMON symbol with a zero-filled section that is
// laid out alongside .bss.
func NewCommonSection(
	ctx *Context, file *ObjectFile, size uint64, align uint64,
) *InputSection {
	s := &InputSection{
		Offset:    math.MaxUint32,
		Shndx:     math.MaxUint32,
		RelsecIdx: math.MaxUint32,
		IsAlive:   true,
		File:      file,
	}

	s.ownShdr = &Shdr{
		Type:      uint32(elf.SHT_NOBITS),
		Flags:     uint64(elf.SHF_ALLOC | elf.SHF_WRITE),
		Size:      size,
		AddrAlign: align,
	}
	s.ShSize = uint32(size)
	s.P2Align = uint8(utils.CountrZero[uint64](utils.BitCeil(align)))

	s.OutputSection = GetOutputSectionInstance(
		ctx, ".bss", uint64(s.ownShdr.Type), s.ownShdr.Flags)
	return s
}

func (s *InputSection) Shdr() *Shdr {
	if s.ownShdr != nil {
		return s.ownShdr
	}
	if s.Shndx < uint32(len(s.File.ElfSections)) {
		return &s.File.ElfSections[s.Shndx]
	}

	utils.Fatal("unreachable")
	return nil
}

func (s *InputSection) Chdr() Chdr {
	return utils.Read[Chdr](s.Contents)
}

func (s *InputSection) GetAddr() uint64 {
	return s.OutputSection.Shdr.Addr + uint64(s.Offset)
}

func (s *InputSection) Name() string {
	if s.ownShdr != nil || uint32(len(s.File.ElfSections)) <= s.Shndx {
		return ".common"
	}
	return getName(s.File.ShStrtab, s.File.ElfSections[s.Shndx].Name)
}

func (s *InputSection) GetRels() []Rela {
	if s.RelsecIdx == math.MaxUint32 || s.Rels != nil {
		return s.Rels
	}

	bs := s.File.GetBytesFromShdr(&s.File.InputFile.ElfSections[s.RelsecIdx])
	nums := len(bs) / int(unsafe.Sizeof(Rela{}))
	s.Rels = make([]Rela, 0)
	for nums > 0 {
		s.Rels = append(s.Rels, utils.Read[Rela](bs))
		bs = bs[unsafe.Sizeof(Rela{}):]
		nums--
	}

	return s.Rels
}

// ScanRelocations classifies each relocation before layout so that GOT and
// PLT slots can be reserved. It rejects relocation forms the final image
// could not satisfy, such as absolute addresses in position-independent
// output.
func (s *InputSection) ScanRelocations(ctx *Context) error {
	utils.Assert(s.Shdr().Flags&uint64(elf.SHF_ALLOC) != 0)

	rels := s.GetRels()
	for i := 0; i < len(rels); i++ {
		rel := &rels[i]
		if rel.Type == uint32(elf.R_X86_64_NONE) {
			continue
		}

		sym := s.File.Symbols[rel.Sym]
		if !sym.IsDefined() && !sym.IsAbsZero() {
			return errorf(ErrUndefinedSymbol, "%s: first referenced by %s",
				sym.Name, s.File.SourceName())
		}

		switch elf.R_X86_64(rel.Type) {
		case elf.R_X86_64_64, elf.R_X86_64_32, elf.R_X86_64_32S,
			elf.R_X86_64_16, elf.R_X86_64_8:
			if ctx.IsPic() {
				return errorf(ErrUnsupportedRelocation,
					"%s: relocation %d in %s needs an absolute address, "+
						"which position-independent output cannot provide",
					sym.Name, rel.Type, s.File.SourceName())
			}
			if sym.IsImported {
				sym.Flags |= NEEDS_PLT
			}
		case elf.R_X86_64_PC8, elf.R_X86_64_PC16, elf.R_X86_64_PC32,
			elf.R_X86_64_PC64:
			if sym.IsImported {
				sym.Flags |= NEEDS_PLT
			}
		case elf.R_X86_64_PLT32:
			if sym.IsImported {
				sym.Flags |= NEEDS_PLT
			}
		case elf.R_X86_64_GOTPCREL, elf.R_X86_64_GOTPCRELX,
			elf.R_X86_64_REX_GOTPCRELX, elf.R_X86_64_GOT32:
			sym.Flags |= NEEDS_GOT
		case elf.R_X86_64_GOTPC32:
			// References _GLOBAL_OFFSET_TABLE_ itself; no slot needed.
		default:
			return errorf(ErrUnsupportedRelocation,
				"unknown relocation type %d in %s", rel.Type, s.File.SourceName())
		}
	}
	return nil
}

func (s *InputSection) GetPriority() int64 {
	return (int64(s.File.Priority) << 32) | int64(s.Shndx)
}

func (s *InputSection) WriteTo(ctx *Context, buf []byte) {
	if s.Shdr().Type == uint32(elf.SHT_NOBITS) || s.ShSize == 0 {
		return
	}

	copy(buf, s.Contents)

	if s.Shdr().Flags&uint64(elf.SHF_ALLOC) != 0 {
		s.ApplyRelocAlloc(ctx, buf)
	}
}

func (s *InputSection) ApplyRelocAlloc(ctx *Context, base []byte) {
	rels := s.GetRels()

	for i := 0; i < len(rels); i++ {
		rel := rels[i]
		if rel.Type == uint32(elf.R_X86_64_NONE) {
			continue
		}

		sym := s.File.Symbols[rel.Sym]
		loc := base[rel.Offset:]

		S := sym.GetAddr(ctx)
		A := uint64(rel.Addend)
		P := s.GetAddr() + rel.Offset
		G := uint64(sym.GetGotIdx(ctx)) * 8
		GOT := uint64(0)
		if ctx.Got != nil {
			GOT = ctx.Got.Shdr.Addr
		}

		switch elf.R_X86_64(rel.Type) {
		case elf.R_X86_64_8:
			utils.Write[uint8](loc, uint8(S+A))
		case elf.R_X86_64_16:
			utils.Write[uint16](loc, uint16(S+A))
		case elf.R_X86_64_32, elf.R_X86_64_32S:
			utils.Write[uint32](loc, uint32(S+A))
		case elf.R_X86_64_64:
			utils.Write[uint64](loc, S+A)
		case elf.R_X86_64_PC8:
			utils.Write[uint8](loc, uint8(S+A-P))
		case elf.R_X86_64_PC16:
			utils.Write[uint16](loc, uint16(S+A-P))
		case elf.R_X86_64_PC32:
			utils.Write[uint32](loc, uint32(S+A-P))
		case elf.R_X86_64_PC64:
			utils.Write[uint64](loc, S+A-P)
		case elf.R_X86_64_PLT32:
			// GetAddr already resolves through the PLT for imported symbols.
			utils.Write[uint32](loc, uint32(S+A-P))
		case elf.R_X86_64_GOTPCREL, elf.R_X86_64_GOTPCRELX,
			elf.R_X86_64_REX_GOTPCRELX:
			utils.Write[uint32](loc, uint32(G+GOT+A-P))
		case elf.R_X86_64_GOT32:
			utils.Write[uint32](loc, uint32(G+A))
		case elf.R_X86_64_GOTPC32:
			utils.Write[uint32](loc, uint32(ctx.gotBaseChunk().GetShdr().Addr+A-P))
		}
	}
}

func (s *InputSection) GetFragment(rel *Rela) (*SectionFragment, uint32) {
	esym := &s.File.ElfSyms[rel.Sym]
	if esym.Type() == uint8(elf.STT_SECTION) {
		if m := s.File.MergeableSections[s.File.GetShndx(esym, int64(rel.Sym))]; m != nil {
			return m.GetFragment(uint32(esym.Val) + uint32(rel.Addend))
		}
	}
	return nil, 0
}
