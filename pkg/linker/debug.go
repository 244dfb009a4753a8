package linker

import (
	"fmt"
	"os"

	"github.com/davecgh/go-spew/spew"
)

// Debug print views selectable with --debug-print. Each one dumps the
// linker's state at a stage of the pipeline.
const (
	DebugLoadedObject       = "loaded-object"
	DebugRelocationAnalysis = "relocations-analysis"
	DebugRelocatedObject    = "relocated-object"
	DebugLayout             = "layout"
	DebugFinalElf           = "final-elf"
)

var DebugViews = []string{
	DebugLoadedObject, DebugRelocationAnalysis, DebugRelocatedObject,
	DebugLayout, DebugFinalElf,
}

var debugSpew = &spew.ConfigState{
	Indent:                  "  ",
	DisablePointerAddresses: true,
	DisableCapacities:       true,
	MaxDepth:                4,
}

func debugHeader(title string) {
	fmt.Fprintf(os.Stderr, "==== %s ====\n", title)
}

func DebugPrintLoadedObjects(ctx *Context) {
	if !ctx.WantDebugPrint(DebugLoadedObject) {
		return
	}
	debugHeader(DebugLoadedObject)
	for _, obj := range ctx.Objs {
		if !obj.IsAlive || obj == ctx.InternalObj {
			continue
		}
		fmt.Fprintf(os.Stderr, "%s:\n", obj.SourceName())
		for _, isec := range obj.Sections {
			if isec != nil && isec.IsAlive {
				fmt.Fprintf(os.Stderr, "  section %-24s size=%#x align=%d\n",
					isec.Name(), isec.ShSize, 1<<isec.P2Align)
			}
		}
	}
	for _, dso := range ctx.Dsos {
		fmt.Fprintf(os.Stderr, "%s: soname=%s exports=%d\n",
			dso.File.Name, dso.Soname, len(dso.ElfSyms))
	}
}

func DebugPrintRelocationAnalysis(ctx *Context) {
	if !ctx.WantDebugPrint(DebugRelocationAnalysis) {
		return
	}
	debugHeader(DebugRelocationAnalysis)
	for _, sym := range slottedSymbols(ctx) {
		fmt.Fprintf(os.Stderr, "%-32s got=%v plt=%v imported=%v\n",
			sym.Name, sym.GetGotIdx(ctx) != -1, sym.GetPltIdx(ctx) != -1,
			sym.IsImported)
	}
}

// slottedSymbols lists the symbols relocation scanning gave an aux record.
// The per-symbol flags are cleared once slots are assigned, so the aux
// table is the record of what the scan decided.
func slottedSymbols(ctx *Context) []*Symbol {
	seen := make(map[*Symbol]bool)
	var syms []*Symbol
	for _, obj := range ctx.Objs {
		for _, sym := range obj.Symbols {
			if sym != nil && sym.AuxIdx != -1 && !seen[sym] {
				seen[sym] = true
				syms = append(syms, sym)
			}
		}
	}
	return syms
}

func DebugPrintRelocatedObjects(ctx *Context) {
	if !ctx.WantDebugPrint(DebugRelocatedObject) {
		return
	}
	debugHeader(DebugRelocatedObject)
	for _, osec := range ctx.OutputSections {
		for _, isec := range osec.Members {
			fmt.Fprintf(os.Stderr, "%s(%s) -> %s+%#x\n",
				isec.File.SourceName(), isec.Name(), osec.Name, isec.Offset)
		}
	}
}

func DebugPrintLayout(ctx *Context) {
	if !ctx.WantDebugPrint(DebugLayout) {
		return
	}
	debugHeader(DebugLayout)
	for _, chunk := range ctx.Chunks {
		shdr := chunk.GetShdr()
		fmt.Fprintf(os.Stderr, "%-24s addr=%#x off=%#x size=%#x\n",
			chunk.GetName(), shdr.Addr, shdr.Offset, shdr.Size)
	}
}

func DebugPrintFinalElf(ctx *Context) {
	if !ctx.WantDebugPrint(DebugFinalElf) {
		return
	}
	debugHeader(DebugFinalElf)
	if ctx.Phdr != nil {
		debugSpew.Fdump(os.Stderr, ctx.Phdr.Phdrs)
	}
	for _, chunk := range ctx.Chunks {
		if chunk.GetShndx() > 0 {
			debugSpew.Fdump(os.Stderr, chunk.GetName(), *chunk.GetShdr())
		}
	}
}
