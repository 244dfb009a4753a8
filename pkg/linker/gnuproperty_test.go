package linker

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func propObject(t *testing.T, props [][2]uint32) []byte {
	return buildObject(t, []testSection{
		textSection([]byte{0x90}),
		propertyNote(t, props),
	}, nil)
}

func TestPropertyBitsAreUnioned(t *testing.T) {
	ctx := newTestContext()
	ctx.Objs = []*ObjectFile{
		loadObject(ctx, "a.o", propObject(t, [][2]uint32{
			{GNU_PROPERTY_X86_ISA_1_USED, 0x3},
		})),
		loadObject(ctx, "b.o", propObject(t, [][2]uint32{
			{GNU_PROPERTY_X86_ISA_1_USED, 0x5},
		})),
	}

	require.NoError(t, MergeGnuProperties(ctx))
	require.NotNil(t, ctx.Property)
	assert.Equal(t, uint32(0x7), ctx.Property.Values[GNU_PROPERTY_X86_ISA_1_USED])
}

func TestPropertyMissingFromOneInputIsDropped(t *testing.T) {
	ctx := newTestContext()
	ctx.Objs = []*ObjectFile{
		loadObject(ctx, "a.o", propObject(t, [][2]uint32{
			{GNU_PROPERTY_X86_ISA_1_USED, 0x3},
			{GNU_PROPERTY_X86_FEATURE_2_USED, 0x1},
		})),
		loadObject(ctx, "b.o", propObject(t, [][2]uint32{
			{GNU_PROPERTY_X86_ISA_1_USED, 0x4},
		})),
	}

	require.NoError(t, MergeGnuProperties(ctx))
	require.NotNil(t, ctx.Property)
	assert.Contains(t, ctx.Property.Values, GNU_PROPERTY_X86_ISA_1_USED)
	assert.NotContains(t, ctx.Property.Values, GNU_PROPERTY_X86_FEATURE_2_USED)
}

func TestObjectWithoutNoteSuppressesAll(t *testing.T) {
	ctx := newTestContext()
	ctx.Objs = []*ObjectFile{
		loadObject(ctx, "a.o", propObject(t, [][2]uint32{
			{GNU_PROPERTY_X86_ISA_1_USED, 0x3},
		})),
		loadObject(ctx, "plain.o", defObject(t, []string{"_start"}, nil)),
	}

	require.NoError(t, MergeGnuProperties(ctx))
	assert.Nil(t, ctx.Property)
}

func TestPropertyMergeIsCommutative(t *testing.T) {
	a := propObject(t, [][2]uint32{
		{GNU_PROPERTY_X86_ISA_1_USED, 0x3},
		{GNU_PROPERTY_X86_FEATURE_2_USED, 0x10},
	})
	b := propObject(t, [][2]uint32{
		{GNU_PROPERTY_X86_ISA_1_USED, 0xc},
		{GNU_PROPERTY_X86_FEATURE_2_USED, 0x01},
	})

	run := func(first, second []byte) map[uint32]uint32 {
		ctx := newTestContext()
		ctx.Objs = []*ObjectFile{
			loadObject(ctx, "first.o", first),
			loadObject(ctx, "second.o", second),
		}
		require.NoError(t, MergeGnuProperties(ctx))
		require.NotNil(t, ctx.Property)
		return ctx.Property.Values
	}

	assert.Equal(t, run(a, b), run(b, a))
}

func TestDuplicatePropertyTypeRejected(t *testing.T) {
	ctx := newTestContext()
	ctx.Objs = []*ObjectFile{
		loadObject(ctx, "dup.o", propObject(t, [][2]uint32{
			{GNU_PROPERTY_X86_ISA_1_USED, 0x1},
			{GNU_PROPERTY_X86_ISA_1_USED, 0x2},
		})),
	}

	err := MergeGnuProperties(ctx)
	require.Error(t, err)
	assert.Equal(t, ErrDuplicateGnuProperty, err.(*LinkError).Kind)
}

func TestPropertyNoteLayout(t *testing.T) {
	sec := NewGnuPropertySection(map[uint32]uint32{
		GNU_PROPERTY_X86_ISA_1_USED:     0x7,
		GNU_PROPERTY_X86_FEATURE_2_USED: 0x3,
	})

	// Fixed note header plus name plus two 16-byte property entries.
	assert.Equal(t, uint64(12+4+32), sec.Shdr.Size)
	assert.Equal(t, []uint32{
		GNU_PROPERTY_X86_FEATURE_2_USED,
		GNU_PROPERTY_X86_ISA_1_USED,
	}, sec.Types, "entries are sorted by type")

	ctx := newTestContext()
	ctx.Buf = make([]byte, sec.Shdr.Size)
	sec.CopyBuf(ctx)

	// Type words as the psABI numbers them.
	assert.Equal(t, uint32(0xc0010001), binary.LittleEndian.Uint32(ctx.Buf[16:]))
	assert.Equal(t, uint32(0xc0010002), binary.LittleEndian.Uint32(ctx.Buf[32:]))
}
