package linker

import (
	"debug/elf"
	"eld/pkg/utils"
	"unsafe"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// parseGnuProperties reads an object's .note.gnu.property section into a
// type-to-bitmask map. A type appearing twice in one object is rejected;
// compilers never emit that and it would make the merge ambiguous.
func parseGnuProperties(o *ObjectFile) (map[uint32]uint32, error) {
	props := make(map[uint32]uint32)
	if o.PropertySec == nil {
		return props, nil
	}

	bs := o.GetBytesFromShdr(o.PropertySec)
	for len(bs) > 0 {
		if len(bs) < int(unsafe.Sizeof(Nhdr{})) {
			return nil, errorf(ErrMalformedInput,
				"%s: truncated note in .note.gnu.property", o.SourceName())
		}
		nhdr := utils.Read[Nhdr](bs)
		bs = bs[unsafe.Sizeof(Nhdr{}):]

		nameLen := int(utils.AlignTo(uint64(nhdr.NameSize), 8))
		descLen := int(utils.AlignTo(uint64(nhdr.DescSize), 8))
		if len(bs) < nameLen+descLen {
			return nil, errorf(ErrMalformedInput,
				"%s: truncated note in .note.gnu.property", o.SourceName())
		}
		name := bs[:nhdr.NameSize]
		desc := bs[nameLen : nameLen+int(nhdr.DescSize)]
		bs = bs[nameLen+descLen:]

		if nhdr.Type != NT_GNU_PROPERTY_TYPE_0 || string(name) != "GNU\000" {
			continue
		}

		for len(desc) > 0 {
			if len(desc) < 8 {
				return nil, errorf(ErrMalformedInput,
					"%s: truncated property entry", o.SourceName())
			}
			typ := utils.Read[uint32](desc)
			datasz := utils.Read[uint32](desc[4:])
			entLen := 8 + int(utils.AlignTo(uint64(datasz), 8))
			if len(desc) < entLen || datasz != 4 {
				return nil, errorf(ErrMalformedInput,
					"%s: unsupported property layout", o.SourceName())
			}

			if _, ok := props[typ]; ok {
				return nil, errorf(ErrDuplicateGnuProperty,
					"%s: property %#x appears twice", o.SourceName(), typ)
			}
			props[typ] = utils.Read[uint32](desc[8:])
			desc = desc[entLen:]
		}
	}
	return props, nil
}

// MergeGnuProperties combines the property notes of all live objects. A
// property type survives only if every contributing object declares it, and
// the surviving bitmask is the union of what they declared: an object that
// is silent about a feature cannot vouch for it.
func MergeGnuProperties(ctx *Context) error {
	merged := make(map[uint32]uint32)
	seen := false

	for _, obj := range ctx.Objs {
		if !obj.IsAlive || obj == ctx.InternalObj {
			continue
		}

		props, err := parseGnuProperties(obj)
		if err != nil {
			return err
		}

		if !seen {
			for k, v := range props {
				merged[k] = v
			}
			seen = true
			continue
		}

		for k := range merged {
			if v, ok := props[k]; ok {
				merged[k] |= v
			} else {
				delete(merged, k)
			}
		}
	}

	if len(merged) > 0 {
		ctx.Property = NewGnuPropertySection(merged)
	}
	return nil
}

// GnuPropertySection synthesizes the output .note.gnu.property from the
// merged per-object properties.
type GnuPropertySection struct {
	Chunk
	Types  []uint32
	Values map[uint32]uint32
}

func NewGnuPropertySection(props map[uint32]uint32) *GnuPropertySection {
	p := &GnuPropertySection{Chunk: NewChunk(), Values: props}
	p.Name = ".note.gnu.property"
	p.Shdr.Type = uint32(elf.SHT_NOTE)
	p.Shdr.Flags = uint64(elf.SHF_ALLOC)
	p.Shdr.AddrAlign = 8

	p.Types = maps.Keys(props)
	slices.Sort(p.Types)

	p.Shdr.Size = uint64(unsafe.Sizeof(Nhdr{})) + 4 + uint64(len(p.Types))*16
	return p
}

func (p *GnuPropertySection) CopyBuf(ctx *Context) {
	buf := ctx.Buf[p.Shdr.Offset:]
	utils.Write[Nhdr](buf, Nhdr{
		NameSize: 4,
		DescSize: uint32(len(p.Types)) * 16,
		Type:     NT_GNU_PROPERTY_TYPE_0,
	})
	copy(buf[12:], "GNU\000")

	desc := buf[16:]
	for i, typ := range p.Types {
		ent := desc[i*16:]
		utils.Write[uint32](ent, typ)
		utils.Write[uint32](ent[4:], 4)
		utils.Write[uint32](ent[8:], p.Values[typ])
		// 4 bytes of padding complete the 8-byte alignment.
	}
}
