package linker

import (
	"bytes"
	"debug/elf"
	"eld/pkg/utils"
	"encoding/binary"
	"fmt"
	"sort"
	"testing"
	"unsafe"
)

// Test fixtures are synthesized in memory: a relocatable object is just an
// Ehdr, section bodies and a section header table.

const (
	symUndef  = 0
	symAbs    = -1
	symCommon = -2
)

type testSection struct {
	name      string
	typ       uint32
	flags     uint64
	data      []byte
	entSize   uint64
	addrAlign uint64
	link      uint32
	info      uint32
}

type testSym struct {
	name string
	bind uint8
	typ  uint8
	sec  int // 1-based user section index, or symUndef/symAbs/symCommon
	val  uint64
	size uint64
}

func textSection(data []byte) testSection {
	return testSection{
		name:      ".text",
		typ:       uint32(elf.SHT_PROGBITS),
		flags:     uint64(elf.SHF_ALLOC | elf.SHF_EXECINSTR),
		data:      data,
		addrAlign: 16,
	}
}

func relaFor(targetSec int, rels []Rela) testSection {
	buf := &bytes.Buffer{}
	err := binary.Write(buf, binary.LittleEndian, rels)
	utils.MustNo(err)
	return testSection{
		name:      ".rela.text",
		typ:       uint32(elf.SHT_RELA),
		flags:     0,
		data:      buf.Bytes(),
		entSize:   uint64(unsafe.Sizeof(Rela{})),
		addrAlign: 8,
		info:      uint32(targetSec),
	}
}

// buildObject assembles a relocatable x86-64 object. Global symbols start
// at symtab index 1; relocations reference them as 1+i.
func buildObject(t *testing.T, secs []testSection, globals []testSym) []byte {
	t.Helper()

	symtabIdx := uint32(len(secs) + 1)
	strtabIdx := symtabIdx + 1

	strtab := []byte{0}
	addStr := func(s string) uint32 {
		off := uint32(len(strtab))
		strtab = append(strtab, []byte(s)...)
		strtab = append(strtab, 0)
		return off
	}

	syms := []Sym{{}}
	for _, g := range globals {
		esym := Sym{
			Name: addStr(g.name),
			Val:  g.val,
			Size: g.size,
		}
		esym.SetBind(g.bind)
		esym.SetType(g.typ)
		switch g.sec {
		case symUndef:
			esym.Shndx = uint16(elf.SHN_UNDEF)
		case symAbs:
			esym.Shndx = uint16(elf.SHN_ABS)
		case symCommon:
			esym.Shndx = uint16(elf.SHN_COMMON)
		default:
			esym.Shndx = uint16(g.sec)
		}
		syms = append(syms, esym)
	}
	symtabData := &bytes.Buffer{}
	utils.MustNo(binary.Write(symtabData, binary.LittleEndian, syms))

	all := make([]testSection, 0, len(secs)+3)
	all = append(all, secs...)
	all = append(all,
		testSection{name: ".symtab", typ: uint32(elf.SHT_SYMTAB),
			data: symtabData.Bytes(), entSize: uint64(unsafe.Sizeof(Sym{})),
			addrAlign: 8, link: strtabIdx, info: 1},
		testSection{name: ".strtab", typ: uint32(elf.SHT_STRTAB),
			data: strtab, addrAlign: 1},
		testSection{name: ".shstrtab", typ: uint32(elf.SHT_STRTAB),
			addrAlign: 1},
	)

	// Relocation sections need their sh_link patched to the symtab.
	for i := range all {
		if all[i].typ == uint32(elf.SHT_RELA) {
			all[i].link = symtabIdx
		}
	}

	return assembleElf(uint16(elf.ET_REL), all)
}

// assembleElf lays out section bodies after the Ehdr and appends the header
// table. The last section must be the .shstrtab; its body is filled here.
func assembleElf(etype uint16, all []testSection) []byte {
	shstrtab := []byte{0}
	names := make([]uint32, len(all))
	for i := range all {
		names[i] = uint32(len(shstrtab))
		shstrtab = append(shstrtab, []byte(all[i].name)...)
		shstrtab = append(shstrtab, 0)
	}
	all[len(all)-1].data = shstrtab

	shdrs := make([]Shdr, 1, len(all)+1)
	body := &bytes.Buffer{}
	offset := uint64(unsafe.Sizeof(Ehdr{}))
	for i, s := range all {
		for offset%8 != 0 {
			body.WriteByte(0)
			offset++
		}
		align := s.addrAlign
		if align == 0 {
			align = 1
		}
		shdrs = append(shdrs, Shdr{
			Name:      names[i],
			Type:      s.typ,
			Flags:     s.flags,
			Offset:    offset,
			Size:      uint64(len(s.data)),
			Link:      s.link,
			Info:      s.info,
			AddrAlign: align,
			EntSize:   s.entSize,
		})
		body.Write(s.data)
		offset += uint64(len(s.data))
	}

	bodyBytes := body.Bytes()
	for offset%8 != 0 {
		bodyBytes = append(bodyBytes, 0)
		offset++
	}

	ehdr := Ehdr{
		Type:      etype,
		Machine:   uint16(elf.EM_X86_64),
		Version:   uint32(elf.EV_CURRENT),
		ShOff:     offset,
		EhSize:    uint16(unsafe.Sizeof(Ehdr{})),
		ShEntSize: uint16(unsafe.Sizeof(Shdr{})),
		ShNum:     uint16(len(shdrs)),
		ShStrndx:  uint16(len(all)),
	}
	WriteMagic(ehdr.Ident[:])
	ehdr.Ident[elf.EI_CLASS] = uint8(elf.ELFCLASS64)
	ehdr.Ident[elf.EI_DATA] = uint8(elf.ELFDATA2LSB)
	ehdr.Ident[elf.EI_VERSION] = uint8(elf.EV_CURRENT)

	out := &bytes.Buffer{}
	utils.MustNo(binary.Write(out, binary.LittleEndian, ehdr))
	out.Write(bodyBytes)
	utils.MustNo(binary.Write(out, binary.LittleEndian, shdrs))
	return out.Bytes()
}

func newTestContext() *Context {
	ctx := NewContext()
	ctx.Arg.Emulation = MachineTypeX86_64
	return ctx
}

func loadObject(ctx *Context, name string, contents []byte) *ObjectFile {
	return CreateObjectFile(ctx, &File{Name: name, Contents: contents}, "")
}

func loadArchiveMember(ctx *Context, name string, contents []byte) *ObjectFile {
	return CreateObjectFile(ctx, &File{Name: name, Contents: contents}, "lib.a")
}

func defObject(t *testing.T, defs []string, undefs []string) []byte {
	globals := make([]testSym, 0)
	data := make([]byte, 0)
	for i, d := range defs {
		globals = append(globals, testSym{
			name: d, bind: uint8(elf.STB_GLOBAL),
			typ: uint8(elf.STT_FUNC), sec: 1, val: uint64(i * 16),
		})
		data = append(data, bytes.Repeat([]byte{0x90}, 16)...)
	}
	for _, u := range undefs {
		globals = append(globals, testSym{
			name: u, bind: uint8(elf.STB_GLOBAL), sec: symUndef,
		})
	}
	if len(data) == 0 {
		data = []byte{0x90}
	}
	return buildObject(t, []testSection{textSection(data)}, globals)
}

func propertyNote(t *testing.T, props [][2]uint32) testSection {
	desc := &bytes.Buffer{}
	for _, p := range props {
		utils.MustNo(binary.Write(desc, binary.LittleEndian,
			[]uint32{p[0], 4, p[1], 0}))
	}
	buf := &bytes.Buffer{}
	utils.MustNo(binary.Write(buf, binary.LittleEndian, Nhdr{
		NameSize: 4,
		DescSize: uint32(desc.Len()),
		Type:     NT_GNU_PROPERTY_TYPE_0,
	}))
	buf.WriteString("GNU\000")
	buf.Write(desc.Bytes())
	return testSection{
		name:      ".note.gnu.property",
		typ:       uint32(elf.SHT_NOTE),
		flags:     uint64(elf.SHF_ALLOC),
		data:      buf.Bytes(),
		addrAlign: 8,
	}
}

// buildShared synthesizes a shared library exporting the given symbols
// under the given soname. Only what link-time consumption needs is
// populated: the dynamic symbol table and a DT_SONAME entry.
func buildShared(t *testing.T, soname string, exports []string) []byte {
	t.Helper()

	dynstr := []byte{0}
	addStr := func(s string) uint32 {
		off := uint32(len(dynstr))
		dynstr = append(dynstr, []byte(s)...)
		dynstr = append(dynstr, 0)
		return off
	}
	sonameOff := addStr(soname)

	syms := []Sym{{}}
	for i, name := range exports {
		esym := Sym{Name: addStr(name), Shndx: 1, Val: uint64(i * 16)}
		esym.SetBind(uint8(elf.STB_GLOBAL))
		esym.SetType(uint8(elf.STT_FUNC))
		syms = append(syms, esym)
	}
	dynsym := &bytes.Buffer{}
	utils.MustNo(binary.Write(dynsym, binary.LittleEndian, syms))

	dynamic := &bytes.Buffer{}
	utils.MustNo(binary.Write(dynamic, binary.LittleEndian, []Dyn{
		{Tag: int64(elf.DT_SONAME), Val: uint64(sonameOff)},
		{Tag: int64(elf.DT_NULL)},
	}))

	all := []testSection{
		textSection(bytes.Repeat([]byte{0x90}, 16*len(exports)+1)),
		{name: ".dynsym", typ: uint32(elf.SHT_DYNSYM),
			flags: uint64(elf.SHF_ALLOC), data: dynsym.Bytes(),
			entSize: uint64(unsafe.Sizeof(Sym{})), addrAlign: 8,
			link: 3, info: 1},
		{name: ".dynstr", typ: uint32(elf.SHT_STRTAB),
			flags: uint64(elf.SHF_ALLOC), data: dynstr, addrAlign: 1},
		{name: ".dynamic", typ: uint32(elf.SHT_DYNAMIC),
			flags: uint64(elf.SHF_ALLOC | elf.SHF_WRITE), data: dynamic.Bytes(),
			entSize: uint64(unsafe.Sizeof(Dyn{})), addrAlign: 8, link: 3},
		{name: ".shstrtab", typ: uint32(elf.SHT_STRTAB), addrAlign: 1},
	}

	return assembleElf(uint16(elf.ET_DYN), all)
}

// buildArchive wraps the given members in a SysV "!<arch>" container with
// short names. No symbol index; resolution scans the members directly.
func buildArchive(t *testing.T, members map[string][]byte) []byte {
	t.Helper()

	names := make([]string, 0, len(members))
	for name := range members {
		names = append(names, name)
	}
	sort.Strings(names)

	out := &bytes.Buffer{}
	out.WriteString("!<arch>\n")
	for _, name := range names {
		contents := members[name]
		hdr := ArHdr{}
		pad := func(field []byte, s string) {
			copy(field, bytes.Repeat([]byte{' '}, len(field)))
			copy(field, s)
		}
		pad(hdr.Name[:], name+"/")
		pad(hdr.Date[:], "0")
		pad(hdr.Uid[:], "0")
		pad(hdr.Gid[:], "0")
		pad(hdr.Mode[:], "644")
		pad(hdr.Size[:], fmt.Sprintf("%d", len(contents)))
		copy(hdr.Fmag[:], "`\n")
		utils.MustNo(binary.Write(out, binary.LittleEndian, hdr))
		out.Write(contents)
		if len(contents)%2 == 1 {
			out.WriteByte('\n')
		}
	}
	return out.Bytes()
}
