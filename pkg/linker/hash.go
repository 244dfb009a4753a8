package linker

import (
	"debug/elf"
	"eld/pkg/utils"
)

// ElfHash is the SysV dynamic symbol hash.
func ElfHash(name string) uint32 {
	h := uint32(0)
	for i := 0; i < len(name); i++ {
		h = (h << 4) + uint32(name[i])
		g := h & 0xf0000000
		if g != 0 {
			h ^= g >> 24
		}
		h &= ^g
	}
	return h
}

// GnuHash is the DJB-style hash used by DT_GNU_HASH.
func GnuHash(name string) uint32 {
	h := uint32(5381)
	for i := 0; i < len(name); i++ {
		h = h*33 + uint32(name[i])
	}
	return h
}

// sysvBucketSizes mirrors the bucket counts GNU gold picks, so tooling that
// inspects the table sees familiar dimensions.
var sysvBucketSizes = []uint32{
	1, 3, 17, 37, 67, 97, 131, 197, 263, 521, 1031, 2053, 4099, 8209,
	16411, 32771, 65537, 131101, 262147,
}

func sysvBucketCount(nsyms uint32) uint32 {
	ret := sysvBucketSizes[0]
	for _, n := range sysvBucketSizes {
		if n > nsyms {
			break
		}
		ret = n
	}
	return ret
}

type SysvHashSection struct {
	Chunk
}

func NewSysvHashSection() *SysvHashSection {
	h := &SysvHashSection{Chunk: NewChunk()}
	h.Name = ".hash"
	h.Shdr.Type = uint32(elf.SHT_HASH)
	h.Shdr.Flags = uint64(elf.SHF_ALLOC)
	h.Shdr.EntSize = 4
	h.Shdr.AddrAlign = 4
	return h
}

func (h *SysvHashSection) UpdateShdr(ctx *Context) {
	nchain := uint32(len(ctx.DynamicSymbols) + 1)
	nbucket := sysvBucketCount(nchain)
	h.Shdr.Size = uint64(2+nbucket+nchain) * 4
	if ctx.Dynsym != nil {
		h.Shdr.Link = uint32(ctx.Dynsym.Shndx)
	}
}

func (h *SysvHashSection) CopyBuf(ctx *Context) {
	nchain := uint32(len(ctx.DynamicSymbols) + 1)
	nbucket := sysvBucketCount(nchain)

	buf := ctx.Buf[h.Shdr.Offset:]
	utils.Write[uint32](buf, nbucket)
	utils.Write[uint32](buf[4:], nchain)
	buckets := buf[8 : 8+nbucket*4]
	chains := buf[8+nbucket*4:]

	for i := uint32(0); i < (nbucket+nchain)*4; i++ {
		buf[8+i] = 0
	}

	for _, sym := range ctx.DynamicSymbols {
		idx := uint32(sym.GetDynsymIdx(ctx))
		b := ElfHash(sym.Name) % nbucket
		utils.Write[uint32](chains[idx*4:], utils.Read[uint32](buckets[b*4:]))
		utils.Write[uint32](buckets[b*4:], idx)
	}
}

// gnuHashLoadFactor is the target number of hashed symbols per bucket.
const gnuHashLoadFactor = 4
const gnuHashBloomShift = 26

type GnuHashSection struct {
	Chunk
}

func NewGnuHashSection() *GnuHashSection {
	h := &GnuHashSection{Chunk: NewChunk()}
	h.Name = ".gnu.hash"
	h.Shdr.Type = uint32(elf.SHT_GNU_HASH)
	h.Shdr.Flags = uint64(elf.SHF_ALLOC)
	h.Shdr.AddrAlign = 8
	return h
}

// hashedSymbols returns the tail of the dynamic symbol table covered by the
// table, together with the index of its first entry. FinalizeDynsym has
// already moved unhashed symbols to the front and sorted the rest by
// bucket.
func gnuHashedSymbols(ctx *Context) ([]*Symbol, uint32) {
	syms := ctx.DynamicSymbols
	i := 0
	for i < len(syms) && syms[i].IsImported {
		i++
	}
	return syms[i:], uint32(i + 1)
}

func gnuNumBuckets(nhashed int) uint32 {
	n := uint32(nhashed / gnuHashLoadFactor)
	if n < 1 {
		n = 1
	}
	return n
}

func gnuBloomSize(nhashed int) uint32 {
	return uint32(utils.BitCeil(uint64(nhashed)/8 + 1))
}

func (h *GnuHashSection) UpdateShdr(ctx *Context) {
	hashed, _ := gnuHashedSymbols(ctx)
	nbuckets := gnuNumBuckets(len(hashed))
	bloomSize := gnuBloomSize(len(hashed))
	h.Shdr.Size = 16 + uint64(bloomSize)*8 + uint64(nbuckets)*4 +
		uint64(len(hashed))*4
	if ctx.Dynsym != nil {
		h.Shdr.Link = uint32(ctx.Dynsym.Shndx)
	}
}

func (h *GnuHashSection) CopyBuf(ctx *Context) {
	hashed, symOffset := gnuHashedSymbols(ctx)
	nbuckets := gnuNumBuckets(len(hashed))
	bloomSize := gnuBloomSize(len(hashed))

	buf := ctx.Buf[h.Shdr.Offset:]
	utils.Write[uint32](buf, nbuckets)
	utils.Write[uint32](buf[4:], symOffset)
	utils.Write[uint32](buf[8:], bloomSize)
	utils.Write[uint32](buf[12:], gnuHashBloomShift)

	bloom := buf[16 : 16+bloomSize*8]
	buckets := buf[16+bloomSize*8 : 16+bloomSize*8+nbuckets*4]
	hashvals := buf[16+bloomSize*8+nbuckets*4:]

	for _, sym := range hashed {
		hash := GnuHash(sym.Name)
		word := (hash / 64) % bloomSize
		bits := utils.Read[uint64](bloom[word*8:])
		bits |= 1 << (hash % 64)
		bits |= 1 << ((hash >> gnuHashBloomShift) % 64)
		utils.Write[uint64](bloom[word*8:], bits)
	}

	for i, sym := range hashed {
		hash := GnuHash(sym.Name)
		b := hash % nbuckets
		if utils.Read[uint32](buckets[b*4:]) == 0 {
			utils.Write[uint32](buckets[b*4:], symOffset+uint32(i))
		}

		// The low bit terminates a bucket's chain.
		val := hash &^ 1
		last := i == len(hashed)-1 ||
			GnuHash(hashed[i+1].Name)%nbuckets != b
		if last {
			val |= 1
		}
		utils.Write[uint32](hashvals[i*4:], val)
	}
}
