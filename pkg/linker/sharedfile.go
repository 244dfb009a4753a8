package linker

import (
	"debug/elf"
	"eld/pkg/utils"
	"path/filepath"
	"unsafe"
)

// SharedFile is a shared library named on the command line. Only its export
// table matters at link time: symbols it defines can satisfy otherwise
// undefined references, turning them into dynamic imports.
type SharedFile struct {
	File     *File
	Priority uint32

	Soname string

	// Set once some symbol was actually imported from this library; only
	// needed libraries produce a DT_NEEDED entry.
	IsNeeded bool

	ElfSyms   []Sym
	SymNames  []string
	dynstrtab []byte
}

func NewSharedFile(file *File) *SharedFile {
	return &SharedFile{File: file}
}

func (d *SharedFile) parse(ctx *Context) {
	ehdr := utils.Read[Ehdr](d.File.Contents)

	contents := d.File.Contents[ehdr.ShOff:]
	shdrs := make([]Shdr, 0, ehdr.ShNum)
	for i := 0; i < int(ehdr.ShNum); i++ {
		shdrs = append(shdrs, utils.Read[Shdr](contents))
		contents = contents[unsafe.Sizeof(Shdr{}):]
	}

	var dynsymSec, dynamicSec *Shdr
	for i := range shdrs {
		switch elf.SectionType(shdrs[i].Type) {
		case elf.SHT_DYNSYM:
			dynsymSec = &shdrs[i]
		case elf.SHT_DYNAMIC:
			dynamicSec = &shdrs[i]
		}
	}

	sectionBytes := func(s *Shdr) []byte {
		end := s.Offset + s.Size
		if uint64(len(d.File.Contents)) < end {
			utils.Fatal("section header is out of range: " + d.File.Name)
		}
		return d.File.Contents[s.Offset:end]
	}

	if dynsymSec != nil {
		d.dynstrtab = sectionBytes(&shdrs[dynsymSec.Link])

		bs := sectionBytes(dynsymSec)
		nums := len(bs) / int(unsafe.Sizeof(Sym{}))
		for nums > 0 {
			esym := utils.Read[Sym](bs)
			d.ElfSyms = append(d.ElfSyms, esym)
			d.SymNames = append(d.SymNames, getName(d.dynstrtab, esym.Name))
			bs = bs[unsafe.Sizeof(Sym{}):]
			nums--
		}
	}

	d.Soname = filepath.Base(d.File.Name)
	if dynamicSec != nil && d.dynstrtab != nil {
		bs := sectionBytes(dynamicSec)
		for len(bs) >= int(unsafe.Sizeof(Dyn{})) {
			dyn := utils.Read[Dyn](bs)
			bs = bs[unsafe.Sizeof(Dyn{}):]
			if dyn.Tag == int64(elf.DT_NULL) {
				break
			}
			if dyn.Tag == int64(elf.DT_SONAME) {
				d.Soname = getName(d.dynstrtab, uint32(dyn.Val))
			}
		}
	}
}

// FindSymbol returns the strongest export of the given name, or nil.
func (d *SharedFile) FindSymbol(name string) *Sym {
	for i := range d.ElfSyms {
		esym := &d.ElfSyms[i]
		if esym.IsUndef() || d.SymNames[i] != name {
			continue
		}
		if esym.Bind() == uint8(elf.STB_GLOBAL) ||
			esym.Bind() == uint8(elf.STB_WEAK) {
			return esym
		}
	}
	return nil
}

// FindDsoSymbol searches the loaded shared libraries in command-line order.
func FindDsoSymbol(ctx *Context, name string) *SharedFile {
	for _, dso := range ctx.Dsos {
		if dso.FindSymbol(name) != nil {
			return dso
		}
	}
	return nil
}
