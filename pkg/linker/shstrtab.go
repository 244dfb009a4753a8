package linker

import "debug/elf"

// ShstrtabSection holds the section name strings and assigns each emitted
// section header its name offset.
type ShstrtabSection struct {
	Chunk
	contents []byte
}

func NewShstrtabSection() *ShstrtabSection {
	s := &ShstrtabSection{Chunk: NewChunk()}
	s.Name = ".shstrtab"
	s.Shdr.Type = uint32(elf.SHT_STRTAB)
	s.Shdr.AddrAlign = 1
	return s
}

func (s *ShstrtabSection) UpdateShdr(ctx *Context) {
	s.contents = []byte{0}
	offsets := make(map[string]uint32)

	intern := func(name string) uint32 {
		if name == "" {
			return 0
		}
		if off, ok := offsets[name]; ok {
			return off
		}
		off := uint32(len(s.contents))
		s.contents = append(s.contents, []byte(name)...)
		s.contents = append(s.contents, 0)
		offsets[name] = off
		return off
	}

	for _, chunk := range ctx.Chunks {
		if chunk.GetShndx() > 0 {
			chunk.GetShdr().Name = intern(chunk.GetName())
		}
	}

	s.Shdr.Size = uint64(len(s.contents))
}

func (s *ShstrtabSection) CopyBuf(ctx *Context) {
	copy(ctx.Buf[s.Shdr.Offset:], s.contents)
}
