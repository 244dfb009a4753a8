package linker

import (
	"debug/elf"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// putsCaller is a program whose _start calls puts, left for a shared
// library to satisfy.
func putsCaller(t *testing.T) []byte {
	return buildObject(t, []testSection{
		textSection([]byte{0xe8, 0, 0, 0, 0, 0xc3}),
		relaFor(1, []Rela{
			{Offset: 1, Type: uint32(elf.R_X86_64_PLT32), Sym: 2, Addend: -4},
		}),
	}, []testSym{
		{name: "_start", bind: uint8(elf.STB_GLOBAL), typ: uint8(elf.STT_FUNC), sec: 1},
		{name: "puts", bind: uint8(elf.STB_GLOBAL), sec: symUndef},
	})
}

func TestSharedFileExportsAndSoname(t *testing.T) {
	ctx := newTestContext()
	dso := CreateSharedFile(ctx, &File{
		Name:     "libfoo.so",
		Contents: buildShared(t, "libfoo.so.1", []string{"puts", "getenv"}),
	})

	assert.Equal(t, "libfoo.so.1", dso.Soname)
	assert.NotNil(t, dso.FindSymbol("puts"))
	assert.NotNil(t, dso.FindSymbol("getenv"))
	assert.Nil(t, dso.FindSymbol("missing"))
}

func TestLinkAgainstSharedLibrary(t *testing.T) {
	ctx := NewContext()
	out := runLink(t, ctx, map[string][]byte{
		"main.o":    putsCaller(t),
		"libfoo.so": buildShared(t, "libfoo.so.1", []string{"puts"}),
	})

	puts := ctx.SymbolMap["puts"]
	require.NotNil(t, puts)
	assert.True(t, puts.IsImported)
	require.NotNil(t, puts.SharedFile)
	assert.True(t, puts.SharedFile.IsNeeded)

	needed, err := out.DynString(elf.DT_NEEDED)
	require.NoError(t, err)
	assert.Equal(t, []string{"libfoo.so.1"}, needed,
		"one DT_NEEDED entry, named by soname")

	var hasDynamic bool
	for _, prog := range out.Progs {
		if prog.Type == elf.PT_DYNAMIC {
			hasDynamic = true
		}
	}
	assert.True(t, hasDynamic)
}

func TestHashStyleBothOrdersImportsFirst(t *testing.T) {
	ctx := NewContext()
	ctx.Arg.HashStyle = HashStyleBoth
	out := runLink(t, ctx, map[string][]byte{
		"main.o":    putsCaller(t),
		"libfoo.so": buildShared(t, "libfoo.so.1", []string{"puts"}),
	})

	assert.NotNil(t, out.Section(".hash"))
	assert.NotNil(t, out.Section(".gnu.hash"))

	require.NotEmpty(t, ctx.DynamicSymbols)
	assert.True(t, ctx.DynamicSymbols[0].IsImported,
		"unhashed imports lead the dynamic symbol table")

	dynsyms, err := out.DynamicSymbols()
	require.NoError(t, err)
	names := make([]string, 0, len(dynsyms))
	for _, s := range dynsyms {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"puts", "_start"}, names)
}
