package linker

import (
	"bytes"
	"debug/elf"
	"eld/pkg/utils"
	"encoding/binary"
	"unsafe"
)

type OutputEhdr struct {
	Chunk
}

func NewOutputEhdr() *OutputEhdr {
	return &OutputEhdr{
		Chunk: Chunk{
			Shdr: Shdr{
				Flags:     uint64(elf.SHF_ALLOC),
				Size:      uint64(unsafe.Sizeof(Ehdr{})),
				AddrAlign: 8,
			},
		},
	}
}

func (o *OutputEhdr) Kind() int {
	return ChunkKindHeader
}

// GetEntryAddr resolves the entry point. A shared library may legitimately
// have none; an executable without one is caught earlier.
func GetEntryAddr(ctx *Context) uint64 {
	if ctx.EntrySym != nil && ctx.EntrySym.IsDefined() {
		return ctx.EntrySym.GetAddr(ctx)
	}
	for _, osec := range ctx.OutputSections {
		if osec.Name == ".text" {
			return osec.Shdr.Addr
		}
	}
	return 0
}

func getMachine(ctx *Context) uint16 {
	if ctx.Arg.Emulation == MachineTypeI386 {
		return uint16(elf.EM_386)
	}
	return uint16(elf.EM_X86_64)
}

func (o *OutputEhdr) CopyBuf(ctx *Context) {
	var err error
	ehdr := &Ehdr{}
	WriteMagic(ehdr.Ident[:])
	ehdr.Ident[elf.EI_CLASS] = uint8(elf.ELFCLASS64)
	ehdr.Ident[elf.EI_DATA] = uint8(elf.ELFDATA2LSB)
	ehdr.Ident[elf.EI_VERSION] = uint8(elf.EV_CURRENT)
	ehdr.Ident[elf.EI_OSABI] = 0
	ehdr.Ident[elf.EI_ABIVERSION] = 0
	if ctx.IsPic() {
		ehdr.Type = uint16(elf.ET_DYN)
	} else {
		ehdr.Type = uint16(elf.ET_EXEC)
	}
	ehdr.Machine = getMachine(ctx)
	ehdr.Version = uint32(elf.EV_CURRENT)
	if ctx.Arg.OutputKind == OutputKindExecutable {
		ehdr.Entry = GetEntryAddr(ctx)
	}
	ehdr.PhOff = ctx.Phdr.Shdr.Offset
	ehdr.ShOff = ctx.Shdr.Shdr.Offset
	ehdr.EhSize = uint16(unsafe.Sizeof(Ehdr{}))
	ehdr.PhEntSize = uint16(unsafe.Sizeof(Phdr{}))
	ehdr.PhNum = uint16(ctx.Phdr.Shdr.Size) / uint16(unsafe.Sizeof(Phdr{}))
	ehdr.ShEntSize = uint16(unsafe.Sizeof(Shdr{}))
	ehdr.ShNum = uint16(ctx.Shdr.Shdr.Size) / uint16(unsafe.Sizeof(Shdr{}))
	if ctx.Shstrtab != nil {
		ehdr.ShStrndx = uint16(ctx.Shstrtab.Shndx)
	}

	buf := &bytes.Buffer{}
	err = binary.Write(buf, binary.LittleEndian, ehdr)
	utils.MustNo(err)
	copy(ctx.Buf[o.Shdr.Offset:], buf.Bytes())
}
