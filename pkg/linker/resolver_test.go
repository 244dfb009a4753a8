package linker

import (
	"debug/elf"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchivePullingIsTransitive(t *testing.T) {
	ctx := newTestContext()

	main := loadObject(ctx, "main.o", defObject(t, []string{"_start"}, []string{"foo"}))
	a := loadArchiveMember(ctx, "a.o", defObject(t, []string{"foo"}, []string{"bar"}))
	b := loadArchiveMember(ctx, "b.o", defObject(t, []string{"bar"}, nil))
	c := loadArchiveMember(ctx, "c.o", defObject(t, []string{"baz"}, nil))
	ctx.Objs = []*ObjectFile{main, a, b, c}

	ResolveSymbols(ctx)

	assert.True(t, main.IsAlive)
	assert.True(t, a.IsAlive, "a.o defines foo, referenced by main.o")
	assert.True(t, b.IsAlive, "b.o defines bar, referenced by the pulled a.o")
	assert.False(t, c.IsAlive, "nothing references baz")
	assert.Len(t, ctx.Objs, 3)
}

func TestUnreferencedMemberStaysOut(t *testing.T) {
	ctx := newTestContext()

	main := loadObject(ctx, "main.o", defObject(t, []string{"_start"}, nil))
	a := loadArchiveMember(ctx, "a.o", defObject(t, []string{"foo"}, nil))
	ctx.Objs = []*ObjectFile{main, a}

	ResolveSymbols(ctx)

	assert.False(t, a.IsAlive)
	assert.Len(t, ctx.Objs, 1)
}

func TestStrongDefinitionBeatsWeak(t *testing.T) {
	for _, order := range [][2]string{{"weak", "strong"}, {"strong", "weak"}} {
		ctx := newTestContext()

		weakObj := buildObject(t, []testSection{textSection([]byte{0x90})},
			[]testSym{{name: "foo", bind: uint8(elf.STB_WEAK),
				typ: uint8(elf.STT_FUNC), sec: 1}})
		strongObj := defObject(t, []string{"foo", "_start"}, nil)

		objs := make([]*ObjectFile, 2)
		for i, which := range order {
			if which == "weak" {
				objs[i] = loadObject(ctx, "weak.o", weakObj)
			} else {
				objs[i] = loadObject(ctx, "strong.o", strongObj)
			}
		}
		ctx.Objs = objs

		ResolveSymbols(ctx)

		sym := GetSymbolByName(ctx, "foo")
		require.NotNil(t, sym.File)
		assert.Equal(t, "strong.o", sym.File.File.Name,
			"load order %v", order)
	}
}

func TestLazyDefinitionLosesToLoaded(t *testing.T) {
	ctx := newTestContext()

	main := loadObject(ctx, "main.o", defObject(t, []string{"_start", "foo"}, nil))
	lazy := loadArchiveMember(ctx, "lazy.o", defObject(t, []string{"foo"}, nil))
	ctx.Objs = []*ObjectFile{main, lazy}

	ResolveSymbols(ctx)

	sym := GetSymbolByName(ctx, "foo")
	assert.Same(t, main, sym.File)
	assert.False(t, lazy.IsAlive)
}

func TestDuplicateStrongDefinitions(t *testing.T) {
	ctx := newTestContext()

	one := loadObject(ctx, "one.o", defObject(t, []string{"_start", "foo"}, nil))
	two := loadObject(ctx, "two.o", defObject(t, []string{"foo"}, nil))
	ctx.Objs = []*ObjectFile{one, two}

	ResolveSymbols(ctx)

	var err error
	for _, obj := range ctx.Objs {
		if err = obj.CheckDuplicateSymbols(ctx); err != nil {
			break
		}
	}
	require.Error(t, err)
	linkErr := err.(*LinkError)
	assert.Equal(t, ErrDuplicateSymbol, linkErr.Kind)
	assert.Contains(t, linkErr.Msg, "foo")
}

func TestWeakDuplicatesAreFine(t *testing.T) {
	ctx := newTestContext()

	weak := func() []byte {
		return buildObject(t, []testSection{textSection([]byte{0x90})},
			[]testSym{{name: "foo", bind: uint8(elf.STB_WEAK),
				typ: uint8(elf.STT_FUNC), sec: 1}})
	}
	one := loadObject(ctx, "one.o", weak())
	two := loadObject(ctx, "two.o", weak())
	ctx.Objs = []*ObjectFile{one, two}

	ResolveSymbols(ctx)

	for _, obj := range ctx.Objs {
		assert.NoError(t, obj.CheckDuplicateSymbols(ctx))
	}
}

func TestCommonSymbolTakesLargestSize(t *testing.T) {
	ctx := newTestContext()

	common := func(name string, size uint64) []byte {
		return buildObject(t, []testSection{textSection([]byte{0x90})},
			[]testSym{{name: name, bind: uint8(elf.STB_GLOBAL),
				typ: uint8(elf.STT_OBJECT), sec: symCommon, val: 8, size: size}})
	}
	small := loadObject(ctx, "small.o", common("shared_buf", 4))
	big := loadObject(ctx, "big.o", common("shared_buf", 32))
	ctx.Objs = []*ObjectFile{small, big}

	ResolveSymbols(ctx)
	ConvertCommonSymbols(ctx)

	sym := GetSymbolByName(ctx, "shared_buf")
	require.NotNil(t, sym.InputSection)
	assert.Equal(t, uint32(32), sym.InputSection.ShSize)
	assert.Equal(t, ".common", sym.InputSection.Name())
	assert.Equal(t, uint32(elf.SHT_NOBITS), sym.InputSection.Shdr().Type)
}

func TestStrongDefinitionBeatsCommon(t *testing.T) {
	ctx := newTestContext()

	common := buildObject(t, []testSection{textSection([]byte{0x90})},
		[]testSym{{name: "foo", bind: uint8(elf.STB_GLOBAL),
			typ: uint8(elf.STT_OBJECT), sec: symCommon, val: 8, size: 64}})
	strong := defObject(t, []string{"foo"}, nil)

	c := loadObject(ctx, "common.o", common)
	s := loadObject(ctx, "strong.o", strong)
	ctx.Objs = []*ObjectFile{c, s}

	ResolveSymbols(ctx)
	ConvertCommonSymbols(ctx)

	sym := GetSymbolByName(ctx, "foo")
	assert.Same(t, s, sym.File)
	require.NotNil(t, sym.InputSection)
	assert.Equal(t, ".text", sym.InputSection.Name())
}

func TestUndefinedSymbolNamesFirstReference(t *testing.T) {
	ctx := newTestContext()

	main := loadObject(ctx, "main.o", defObject(t, []string{"_start"}, []string{"missing"}))
	ctx.Objs = []*ObjectFile{main}

	ResolveSymbols(ctx)
	ClaimUnresolvedSymbols(ctx)

	var err error
	for _, obj := range ctx.Objs {
		if err = obj.CheckUndefinedSymbols(ctx); err != nil {
			break
		}
	}
	require.Error(t, err)
	linkErr := err.(*LinkError)
	assert.Equal(t, ErrUndefinedSymbol, linkErr.Kind)
	assert.Contains(t, linkErr.Msg, "missing")
	assert.Contains(t, linkErr.Msg, "main.o")
}

func TestUndefinedWeakResolvesToZero(t *testing.T) {
	ctx := newTestContext()

	obj := buildObject(t, []testSection{textSection([]byte{0x90})},
		[]testSym{
			{name: "_start", bind: uint8(elf.STB_GLOBAL),
				typ: uint8(elf.STT_FUNC), sec: 1},
			{name: "maybe", bind: uint8(elf.STB_WEAK), sec: symUndef},
		})
	main := loadObject(ctx, "main.o", obj)
	ctx.Objs = []*ObjectFile{main}

	ResolveSymbols(ctx)
	ClaimUnresolvedSymbols(ctx)

	for _, o := range ctx.Objs {
		assert.NoError(t, o.CheckUndefinedSymbols(ctx))
	}

	sym := GetSymbolByName(ctx, "maybe")
	assert.True(t, sym.IsAbsZero())
	assert.Equal(t, uint64(0), sym.GetAddr(ctx))
}
