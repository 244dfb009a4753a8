package linker

import (
	"debug/elf"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strSection(data string) testSection {
	return testSection{
		name:      ".rodata.str1.1",
		typ:       uint32(elf.SHT_PROGBITS),
		flags:     uint64(elf.SHF_ALLOC | elf.SHF_MERGE | elf.SHF_STRINGS),
		data:      []byte(data),
		entSize:   1,
		addrAlign: 1,
	}
}

func TestStringDeduplicationAcrossUnits(t *testing.T) {
	ctx := newTestContext()

	one := loadObject(ctx, "one.o", buildObject(t,
		[]testSection{strSection("hi\x00yo\x00")}, nil))
	two := loadObject(ctx, "two.o", buildObject(t,
		[]testSection{strSection("yo\x00zz\x00")}, nil))
	ctx.Objs = []*ObjectFile{one, two}

	ResolveSymbols(ctx)
	RegisterSectionPieces(ctx)
	MarkFragmentsLive(ctx)
	ComputeMergedSectionSizes(ctx)

	require.Len(t, ctx.MergedSections, 1)
	merged := ctx.MergedSections[0]
	assert.Equal(t, ".rodata.str", merged.Name)
	assert.Len(t, merged.Map, 3, "the shared constant is stored once")
	assert.Equal(t, uint64(9), merged.Shdr.Size)

	shared1 := one.MergeableSections[1].Fragments[1]
	shared2 := two.MergeableSections[1].Fragments[0]
	assert.Same(t, shared1, shared2)
}

func TestSymbolIntoMergedSection(t *testing.T) {
	ctx := newTestContext()

	obj := buildObject(t,
		[]testSection{strSection("aa\x00greeting\x00")},
		[]testSym{{name: "greeting", bind: uint8(elf.STB_GLOBAL),
			typ: uint8(elf.STT_OBJECT), sec: 1, val: 3}})
	one := loadObject(ctx, "one.o", obj)
	ctx.Objs = []*ObjectFile{one}

	ResolveSymbols(ctx)
	RegisterSectionPieces(ctx)

	sym := GetSymbolByName(ctx, "greeting")
	require.NotNil(t, sym.SectionFragment)
	assert.Equal(t, uint64(0), sym.Value,
		"symbol points at the start of its fragment")
}

func TestFragmentLookup(t *testing.T) {
	m := &MergeableSection{
		FragOffsets: []uint32{0, 3, 9},
		Fragments: []*SectionFragment{
			{IsAlive: true}, {IsAlive: true}, {IsAlive: true},
		},
	}

	frag, off := m.GetFragment(0)
	assert.Same(t, m.Fragments[0], frag)
	assert.Equal(t, uint32(0), off)

	frag, off = m.GetFragment(5)
	assert.Same(t, m.Fragments[1], frag)
	assert.Equal(t, uint32(2), off)

	frag, off = m.GetFragment(11)
	assert.Same(t, m.Fragments[2], frag)
	assert.Equal(t, uint32(2), off)
}

func TestRetainedSectionIsNotSplit(t *testing.T) {
	ctx := newTestContext()

	sec := strSection("keep\x00")
	sec.flags |= SHF_GNU_RETAIN
	one := loadObject(ctx, "one.o", buildObject(t, []testSection{sec}, nil))
	ctx.Objs = []*ObjectFile{one}

	assert.Nil(t, one.MergeableSections[1])
	assert.True(t, one.Sections[1].IsAlive)
}
