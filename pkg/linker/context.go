package linker

import "eld/pkg/utils"

type OutputKind = int8

const (
	OutputKindExecutable OutputKind = iota
	OutputKindSharedLibrary
)

type HashStyle = int8

const (
	HashStyleSysv HashStyle = iota
	HashStyleGnu
	HashStyleBoth
)

type ContextArg struct {
	Output    string
	Emulation MachineType

	OutputKind OutputKind
	Pie        bool
	Relro      bool
	ZNow       bool
	GcSections bool
	HashStyle  HashStyle

	Entry         string
	Soname        string
	DynamicLinker string
	PreferShared  bool

	LibraryPaths []string
	DebugPrints  []string
}

type Context struct {
	Arg ContextArg

	SymbolMap map[string]*Symbol

	SymbolsAux []SymbolAux

	Ehdr *OutputEhdr
	Shdr *OutputShdr
	Phdr *OutputPhdr

	Got      *GotSection
	GotPlt   *GotPltSection
	Plt      *PltSection
	RelaDyn  *RelaDynSection
	RelaPlt  *RelaDynSection
	Dynamic  *DynamicSection
	Dynsym   *DynsymSection
	Dynstr   *DynstrSection
	Hash     *SysvHashSection
	GnuHash  *GnuHashSection
	Interp   *InterpSection
	Property *GnuPropertySection
	Shstrtab *ShstrtabSection

	Buf []byte

	FilePriority int64
	Visited      utils.MapSet[string]

	Objs []*ObjectFile
	Dsos []*SharedFile

	InternalObj   *ObjectFile
	InternalEsyms []Sym

	Chunks []Chunker

	MergedSections []*MergedSection
	OutputSections []*OutputSection

	DynamicSymbols []*Symbol

	DefaultVersion uint16

	TpAddr uint64

	EntrySym *Symbol

	__InitArrayStart    *Symbol
	__InitArrayEnd      *Symbol
	__FiniArrayStart    *Symbol
	__FiniArrayEnd      *Symbol
	__PreinitArrayStart *Symbol
	__PreinitArrayEnd   *Symbol
	_DYNAMIC            *Symbol
	_GLOBAL_OFFSET_TABLE_ *Symbol
}

func NewContext() *Context {
	return &Context{
		Arg: ContextArg{
			Emulation:     MachineTypeNone,
			Output:        "a.out",
			Entry:         EntrySymbolName,
			DynamicLinker: DefaultDynamicLinker,
			Relro:         true,
			HashStyle:     HashStyleSysv,
		},
		SymbolMap:      make(map[string]*Symbol),
		Visited:        utils.NewMapSet[string](),
		FilePriority:   10000,
		DefaultVersion: VER_NDX_LOCAL,
	}
}

// IsDynamic reports whether the output carries dynamic-linking metadata
// (.dynamic, dynamic symbol table, hash tables).
func (ctx *Context) IsDynamic() bool {
	return ctx.Arg.OutputKind == OutputKindSharedLibrary ||
		ctx.Arg.Pie || len(ctx.Dsos) > 0
}

// IsPic reports whether the output image must be loadable at any base
// address.
func (ctx *Context) IsPic() bool {
	return ctx.Arg.OutputKind == OutputKindSharedLibrary || ctx.Arg.Pie
}

// WantDebugPrint reports whether the named diagnostics view was requested.
func (ctx *Context) WantDebugPrint(view string) bool {
	for _, v := range ctx.Arg.DebugPrints {
		if v == view {
			return true
		}
	}
	return false
}
