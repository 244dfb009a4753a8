package linker

import (
	"debug/elf"
	"eld/pkg/utils"
	"math"
	"os"
	"sort"
)

// Link runs the whole pipeline over the already-populated input list and
// writes the output file. The output is only created once every pass has
// succeeded.
func Link(ctx *Context) error {
	CreateInternalFile(ctx)
	ResolveSymbols(ctx)

	DebugPrintLoadedObjects(ctx)

	for _, obj := range ctx.Objs {
		if err := obj.CheckDuplicateSymbols(ctx); err != nil {
			return err
		}
	}

	RegisterSectionPieces(ctx)
	CreateSyntheticSections(ctx)
	AddSyntheticSymbols(ctx)

	if ctx.Arg.OutputKind == OutputKindExecutable {
		ctx.EntrySym = GetSymbolByName(ctx, ctx.Arg.Entry)
	}

	ClaimUnresolvedSymbols(ctx)
	for _, obj := range ctx.Objs {
		if err := obj.CheckUndefinedSymbols(ctx); err != nil {
			return err
		}
	}

	ConvertCommonSymbols(ctx)
	ComputeImportExport(ctx)

	if ctx.Arg.GcSections {
		GcSections(ctx)
	} else {
		MarkFragmentsLive(ctx)
	}

	if ctx.Arg.OutputKind == OutputKindExecutable &&
		(ctx.EntrySym == nil || !ctx.EntrySym.IsDefined()) {
		return errorf(ErrMissingEntryPoint, "undefined entry symbol: %s",
			ctx.Arg.Entry)
	}

	ComputeMergedSectionSizes(ctx)
	BinSections(ctx)

	ctx.Chunks = append(ctx.Chunks, CollectOutputSections(ctx)...)

	if err := ScanRels(ctx); err != nil {
		return err
	}
	DebugPrintRelocationAnalysis(ctx)

	if err := MergeGnuProperties(ctx); err != nil {
		return err
	}
	if ctx.Property != nil {
		ctx.Chunks = append(ctx.Chunks, ctx.Property)
	}

	FinalizeDynsym(ctx)

	ComputeSectionSizes(ctx)
	SortOutputSections(ctx)

	for _, chunk := range ctx.Chunks {
		chunk.UpdateShdr(ctx)
	}

	ctx.Chunks = utils.RemoveIf[Chunker](ctx.Chunks, func(chunk Chunker) bool {
		return chunk.Kind() == ChunkKindSynthetic && chunk.GetShdr().Size == 0
	})

	shndx := int64(1)
	for _, chunk := range ctx.Chunks {
		if chunk.Kind() != ChunkKindHeader {
			chunk.SetShndx(shndx)
			shndx++
		}
	}

	for _, chunk := range ctx.Chunks {
		chunk.UpdateShdr(ctx)
	}

	fileSize := SetOsecOffsets(ctx)
	FixSyntheticSymbols(ctx)

	DebugPrintRelocatedObjects(ctx)
	DebugPrintLayout(ctx)

	ctx.Buf = make([]byte, fileSize)
	for _, chunk := range ctx.Chunks {
		chunk.CopyBuf(ctx)
	}

	DebugPrintFinalElf(ctx)

	return os.WriteFile(ctx.Arg.Output, ctx.Buf, 0755)
}

func CreateInternalFile(ctx *Context) {
	obj := &ObjectFile{}
	ctx.InternalObj = obj
	ctx.Objs = append(ctx.Objs, obj)

	ctx.InternalEsyms = make([]Sym, 1)
	obj.Symbols = append(obj.Symbols, NewSymbol(""))
	obj.FirstGlobal = 1
	obj.IsAlive = true
	obj.Priority = 1

	obj.ElfSyms = ctx.InternalEsyms
}

// ResolveSymbols picks a definition for every global symbol, then runs the
// archive fixpoint: members defining a needed symbol are loaded, which may
// surface new undefined symbols, until the live set stops growing.
func ResolveSymbols(ctx *Context) {
	for _, file := range ctx.Objs {
		file.ResolveSymbols(ctx)
	}

	MarkLiveObjects(ctx)

	for _, file := range ctx.Objs {
		if !file.IsAlive {
			file.ClearSymbols()
		}
	}

	for _, file := range ctx.Objs {
		if file.IsAlive {
			file.ResolveSymbols(ctx)
		}
	}

	ctx.Objs = utils.RemoveIf[*ObjectFile](ctx.Objs, func(file *ObjectFile) bool {
		return !file.IsAlive
	})
}

func MarkLiveObjects(ctx *Context) {
	roots := make([]*ObjectFile, 0)
	for _, file := range ctx.Objs {
		if file.IsAlive {
			roots = append(roots, file)
		}
	}

	// The entry point is a root of its own: an archive named alone on the
	// command line must still pull the member defining it.
	if ctx.Arg.OutputKind == OutputKindExecutable {
		if sym, ok := ctx.SymbolMap[ctx.Arg.Entry]; ok &&
			sym.File != nil && !sym.File.SwapIsAlive(true) {
			roots = append(roots, sym.File)
		}
	}

	utils.Assert(len(roots) > 0)

	for len(roots) > 0 {
		file := roots[0]
		if !file.IsAlive {
			continue
		}
		file.MarkLiveObjects(ctx, func(o *ObjectFile) {
			roots = append(roots, o)
		})

		roots = roots[1:]
	}
}

func RegisterSectionPieces(ctx *Context) {
	for _, file := range ctx.Objs {
		file.RegisterSectionPieces()
	}
}

func ConvertCommonSymbols(ctx *Context) {
	for _, file := range ctx.Objs {
		if file != ctx.InternalObj {
			file.ConvertCommonSymbols(ctx)
		}
	}
}

func ComputeImportExport(ctx *Context) {
	for _, file := range ctx.Objs {
		file.ComputeImportExport()
	}
}

func ComputeMergedSectionSizes(ctx *Context) {
	for _, sec := range ctx.MergedSections {
		sec.AssignOffsets()
	}
}

func CreateSyntheticSections(ctx *Context) {
	push := func(chunk Chunker) Chunker {
		ctx.Chunks = append(ctx.Chunks, chunk)
		return chunk
	}

	ctx.Ehdr = push(NewOutputEhdr()).(*OutputEhdr)
	ctx.Phdr = push(NewOutputPhdr()).(*OutputPhdr)
	ctx.Shdr = push(NewOutputShdr()).(*OutputShdr)
	ctx.Shstrtab = push(NewShstrtabSection()).(*ShstrtabSection)

	ctx.Got = push(NewGotSection()).(*GotSection)

	if !ctx.IsDynamic() {
		return
	}

	ctx.Dynstr = push(NewDynstrSection()).(*DynstrSection)
	ctx.Dynsym = push(NewDynsymSection()).(*DynsymSection)
	ctx.Dynamic = push(NewDynamicSection()).(*DynamicSection)
	ctx.RelaDyn = push(NewRelaDynSection(false)).(*RelaDynSection)
	ctx.GotPlt = push(NewGotPltSection()).(*GotPltSection)
	ctx.Plt = push(NewPltSection()).(*PltSection)
	ctx.RelaPlt = push(NewRelaDynSection(true)).(*RelaDynSection)

	if ctx.Arg.HashStyle == HashStyleSysv || ctx.Arg.HashStyle == HashStyleBoth {
		ctx.Hash = push(NewSysvHashSection()).(*SysvHashSection)
	}
	if ctx.Arg.HashStyle == HashStyleGnu || ctx.Arg.HashStyle == HashStyleBoth {
		ctx.GnuHash = push(NewGnuHashSection()).(*GnuHashSection)
	}

	if ctx.Arg.OutputKind == OutputKindExecutable {
		ctx.Interp = push(NewInterpSection(ctx)).(*InterpSection)
	}
}

func BinSections(ctx *Context) {
	group := make([][]*InputSection, len(ctx.OutputSections))
	for _, file := range ctx.Objs {
		for _, isec := range file.Sections {
			if isec == nil || !isec.IsAlive {
				continue
			}

			idx := isec.OutputSection.Idx
			group[idx] = append(group[idx], isec)
		}
	}

	for i, osec := range ctx.OutputSections {
		osec.Members = group[i]
	}
}

func CollectOutputSections(ctx *Context) []Chunker {
	osecs := make([]Chunker, 0)
	for _, osec := range ctx.OutputSections {
		if len(osec.Members) != 0 {
			osecs = append(osecs, osec)
		}
	}
	for _, osec := range ctx.MergedSections {
		if osec.Shdr.Size > 0 {
			osecs = append(osecs, osec)
		}
	}

	sort.SliceStable(osecs, func(i, j int) bool {
		return osecs[i].GetName() < osecs[j].GetName()
	})
	return osecs
}

func AddSyntheticSymbols(ctx *Context) {
	obj := ctx.InternalObj

	add := func(name string) *Symbol {
		esym := Sym{
			Info:  uint8(elf.STB_GLOBAL)<<4 | uint8(elf.STT_NOTYPE),
			Shndx: uint16(elf.SHN_ABS),
			Other: uint8(elf.STV_HIDDEN),
		}
		ctx.InternalEsyms = append(ctx.InternalEsyms, esym)
		sym := GetSymbolByName(ctx, name)
		sym.Value = 0xdeadbeef
		obj.Symbols = append(obj.Symbols, sym)
		return sym
	}

	ctx.__InitArrayStart = add("__init_array_start")
	ctx.__InitArrayEnd = add("__init_array_end")
	ctx.__FiniArrayStart = add("__fini_array_start")
	ctx.__FiniArrayEnd = add("__fini_array_end")
	ctx.__PreinitArrayStart = add("__preinit_array_start")
	ctx.__PreinitArrayEnd = add("__preinit_array_end")

	ctx._DYNAMIC = add("_DYNAMIC")
	ctx._GLOBAL_OFFSET_TABLE_ = add("_GLOBAL_OFFSET_TABLE_")

	obj.ElfSyms = ctx.InternalEsyms

	obj.ResolveSymbols(ctx)
}

func ClaimUnresolvedSymbols(ctx *Context) {
	for _, file := range ctx.Objs {
		file.ClaimUnresolvedSymbols(ctx)
	}
}

// ScanRels walks every live relocation, reserving GOT and PLT slots and
// registering the symbols that must appear in the dynamic symbol table.
func ScanRels(ctx *Context) error {
	for _, file := range ctx.Objs {
		if err := file.ScanRelocations(ctx); err != nil {
			return err
		}
	}

	syms := make([]*Symbol, 0)
	for _, file := range ctx.Objs {
		for _, sym := range file.Symbols {
			if sym.File == file || sym.SharedFile != nil {
				if sym.Flags != 0 || (sym.IsExported && ctx.IsDynamic()) {
					syms = append(syms, sym)
				}
			}
		}
	}

	ctx.SymbolsAux = make([]SymbolAux, 0, len(syms))

	addAux := func(sym *Symbol) {
		if sym.AuxIdx == -1 {
			size := int32(len(ctx.SymbolsAux))
			sym.AuxIdx = size
			ctx.SymbolsAux = append(ctx.SymbolsAux, NewSymbolAux())
		}
	}

	for _, sym := range syms {
		addAux(sym)

		if sym.Flags&NEEDS_GOT != 0 {
			ctx.Got.AddGotSymbol(ctx, sym)
		}
		if sym.Flags&NEEDS_PLT != 0 {
			ctx.Plt.AddSymbol(ctx, sym)
		}

		if ctx.Dynsym != nil && (sym.IsImported || sym.IsExported) {
			ctx.Dynsym.AddSymbol(ctx, sym)
		}

		sym.Flags = 0
	}
	return nil
}

// FinalizeDynsym freezes the dynamic string table and, when a GNU hash
// table is emitted, reorders the hashed symbols by bucket as the format
// requires.
func FinalizeDynsym(ctx *Context) {
	if ctx.Dynsym == nil {
		return
	}

	for _, dso := range ctx.Dsos {
		if dso.IsNeeded {
			ctx.Dynstr.AddString(dso.Soname)
		}
	}
	if ctx.Arg.Soname != "" {
		ctx.Dynstr.AddString(ctx.Arg.Soname)
	}

	if ctx.GnuHash == nil {
		return
	}

	nhashed := 0
	for _, sym := range ctx.DynamicSymbols {
		if !sym.IsImported {
			nhashed++
		}
	}
	nbuckets := gnuNumBuckets(nhashed)

	sort.SliceStable(ctx.DynamicSymbols, func(i, j int) bool {
		x, y := ctx.DynamicSymbols[i], ctx.DynamicSymbols[j]
		if x.IsImported != y.IsImported {
			return x.IsImported
		}
		if x.IsImported {
			return false
		}
		return GnuHash(x.Name)%nbuckets < GnuHash(y.Name)%nbuckets
	})

	for i, sym := range ctx.DynamicSymbols {
		sym.SetDynsymIdx(ctx, int32(i+1))
	}
}

func ComputeSectionSizes(ctx *Context) {
	for _, osec := range ctx.OutputSections {
		offset := uint64(0)
		p2align := int64(0)

		for _, isec := range osec.Members {
			offset = utils.AlignTo(offset, 1<<isec.P2Align)
			isec.Offset = uint32(offset)
			offset += uint64(isec.ShSize)
			p2align = int64(math.Max(float64(p2align), float64(isec.P2Align)))
		}

		osec.Shdr.Size = offset
		osec.Shdr.AddrAlign = 1 << p2align
	}
}

func SortOutputSections(ctx *Context) {
	getRank1 := func(chunk Chunker) int32 {
		typ := chunk.GetShdr().Type
		flags := chunk.GetShdr().Flags

		if flags&uint64(elf.SHF_ALLOC) == 0 {
			return math.MaxInt32 - 1
		}
		if chunk == ctx.Shdr {
			return math.MaxInt32
		}

		if chunk == ctx.Ehdr {
			return 0
		}
		if chunk == ctx.Phdr {
			return 1
		}
		if chunk == ctx.Interp {
			return 2
		}
		if typ == uint32(elf.SHT_NOTE) {
			return 3
		}

		b2i := func(b bool) int {
			if b {
				return 1
			}
			return 0
		}

		writeable := b2i(flags&uint64(elf.SHF_WRITE) != 0)
		notExec := b2i(flags&uint64(elf.SHF_EXECINSTR) == 0)
		notTls := b2i(flags&uint64(elf.SHF_TLS) == 0)
		notRelro := b2i(!isRelro(ctx, chunk))
		isBss := b2i(typ == uint32(elf.SHT_NOBITS))

		return int32((1 << 10) | writeable<<9 | notExec<<8 | notTls<<7 | notRelro<<6 | isBss<<5)
	}
	getRank2 := func(chunk Chunker) int32 {
		if chunk.GetShdr().Type == uint32(elf.SHT_NOTE) {
			return -int32(chunk.GetShdr().AddrAlign)
		}

		// .got last within the relro block so a single page boundary covers
		// the loader-written slots.
		if chunk == ctx.Dynamic {
			return 1
		}
		if chunk == ctx.Got {
			return 2
		}
		return 0
	}

	sort.SliceStable(ctx.Chunks, func(i, j int) bool {
		x := getRank1(ctx.Chunks[i])
		y := getRank1(ctx.Chunks[j])
		if x != y {
			return x < y
		}

		return getRank2(ctx.Chunks[i]) < getRank2(ctx.Chunks[j])
	})
}

func doSetOsecOffsets(ctx *Context) uint64 {
	alignment := func(chunk Chunker) uint64 {
		return uint64(math.Max(float64(chunk.GetExtraAddrAlign()),
			float64(chunk.GetShdr().AddrAlign)))
	}

	addr := uint64(0)
	if !ctx.IsPic() {
		addr = ImageBase
	}
	for _, chunk := range ctx.Chunks {
		if chunk.GetShdr().Flags&uint64(elf.SHF_ALLOC) == 0 {
			continue
		}

		if isTbss(chunk) {
			chunk.GetShdr().Addr = addr
			continue
		}

		addr = utils.AlignTo(addr, alignment(chunk))
		chunk.GetShdr().Addr = addr

		addr += chunk.GetShdr().Size
	}

	for i := 0; i < len(ctx.Chunks); {
		if isTbss(ctx.Chunks[i]) {
			addr := ctx.Chunks[i].GetShdr().Addr
			for ; i < len(ctx.Chunks) && isTbss(ctx.Chunks[i]); i++ {
				addr = utils.AlignTo(addr, alignment(ctx.Chunks[i]))
				ctx.Chunks[i].GetShdr().Addr = addr
				addr += ctx.Chunks[i].GetShdr().Size
			}
		} else {
			i++
		}
	}

	fileoff := uint64(0)
	i := 0
	for i < len(ctx.Chunks) && ctx.Chunks[i].GetShdr().Flags&uint64(elf.SHF_ALLOC) != 0 {
		first := ctx.Chunks[i]
		utils.Assert(first.GetShdr().Type != uint32(elf.SHT_NOBITS))

		fileoff = utils.AlignTo(fileoff, alignment(first))

		for {
			ctx.Chunks[i].GetShdr().Offset = fileoff + ctx.Chunks[i].GetShdr().Addr - first.GetShdr().Addr
			i++

			if i >= len(ctx.Chunks) ||
				ctx.Chunks[i].GetShdr().Flags&uint64(elf.SHF_ALLOC) == 0 ||
				ctx.Chunks[i].GetShdr().Type == uint32(elf.SHT_NOBITS) {
				break
			}

			if ctx.Chunks[i].GetShdr().Addr < first.GetShdr().Addr {
				break
			}

			gapSize := ctx.Chunks[i].GetShdr().Addr - ctx.Chunks[i-1].GetShdr().Addr - ctx.Chunks[i-1].GetShdr().Size

			if gapSize >= PageSize {
				break
			}
		}

		fileoff = ctx.Chunks[i-1].GetShdr().Offset + ctx.Chunks[i-1].GetShdr().Size

		for i < len(ctx.Chunks) &&
			ctx.Chunks[i].GetShdr().Flags&uint64(elf.SHF_ALLOC) != 0 &&
			ctx.Chunks[i].GetShdr().Type == uint32(elf.SHT_NOBITS) {
			i++
		}
	}

	for ; i < len(ctx.Chunks); i++ {
		fileoff = utils.AlignTo(fileoff, ctx.Chunks[i].GetShdr().AddrAlign)
		ctx.Chunks[i].GetShdr().Offset = fileoff
		fileoff += ctx.Chunks[i].GetShdr().Size
	}
	return fileoff
}

func SetOsecOffsets(ctx *Context) uint64 {
	for {
		fileoff := doSetOsecOffsets(ctx)

		if ctx.Phdr == nil {
			return fileoff
		}

		size := ctx.Phdr.Shdr.Size
		ctx.Phdr.UpdateShdr(ctx)

		if size == ctx.Phdr.Shdr.Size {
			return fileoff
		}
	}
}

func FixSyntheticSymbols(ctx *Context) {
	start := func(sym *Symbol, chunk Chunker) {
		if sym != nil && chunk != nil {
			sym.SetOutputSection(chunk)
			sym.Value = chunk.GetShdr().Addr
		}
	}

	stop := func(sym *Symbol, chunk Chunker) {
		if sym != nil && chunk != nil {
			sym.SetOutputSection(chunk)
			sym.Value = chunk.GetShdr().Addr + chunk.GetShdr().Size
		}
	}

	outputSections := make([]Chunker, 0)
	for _, chunk := range ctx.Chunks {
		if chunk.Kind() != ChunkKindHeader {
			outputSections = append(outputSections, chunk)
		}
	}

	for _, chunk := range outputSections {
		switch chunk.GetShdr().Type {
		case uint32(elf.SHT_INIT_ARRAY):
			start(ctx.__InitArrayStart, chunk)
			stop(ctx.__InitArrayEnd, chunk)
		case uint32(elf.SHT_PREINIT_ARRAY):
			start(ctx.__PreinitArrayStart, chunk)
			stop(ctx.__PreinitArrayEnd, chunk)
		case uint32(elf.SHT_FINI_ARRAY):
			start(ctx.__FiniArrayStart, chunk)
			stop(ctx.__FiniArrayEnd, chunk)
		}
	}

	if ctx.Dynamic != nil {
		start(ctx._DYNAMIC, ctx.Dynamic)
	}
	start(ctx._GLOBAL_OFFSET_TABLE_, ctx.gotBaseChunk())
}

// gotBaseChunk is what _GLOBAL_OFFSET_TABLE_ points at: .got.plt when the
// output is dynamic, otherwise .got.
func (ctx *Context) gotBaseChunk() Chunker {
	if ctx.GotPlt != nil {
		return ctx.GotPlt
	}
	if ctx.Got != nil {
		return ctx.Got
	}
	return nil
}
