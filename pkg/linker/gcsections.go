package linker

import (
	"debug/elf"
	"strings"
)

// GcSections drops allocatable sections nothing reachable refers to.
// Liveness starts from the entry point, retained and non-allocatable
// sections, the init and fini arrays, and dynamically exported symbols,
// then follows relocations.
func GcSections(ctx *Context) {
	for _, obj := range ctx.Objs {
		for _, isec := range obj.Sections {
			if isec != nil && isec.IsAlive {
				isec.IsAlive = false
			}
		}
	}

	var roots []*InputSection
	markSym := func(sym *Symbol) {
		if sym == nil {
			return
		}
		if sym.InputSection != nil && !sym.InputSection.IsAlive {
			sym.InputSection.IsAlive = true
			roots = append(roots, sym.InputSection)
		}
		if sym.SectionFragment != nil {
			sym.SectionFragment.IsAlive = true
		}
	}

	isRoot := func(isec *InputSection) bool {
		shdr := isec.Shdr()
		if shdr.Flags&SHF_GNU_RETAIN != 0 {
			return true
		}
		if shdr.Flags&uint64(elf.SHF_ALLOC) == 0 {
			return true
		}
		name := isec.Name()
		return strings.HasPrefix(name, ".init") ||
			strings.HasPrefix(name, ".fini") ||
			strings.HasPrefix(name, ".preinit") ||
			name == ".ctors" || name == ".dtors"
	}

	for _, obj := range ctx.Objs {
		if !obj.IsAlive {
			continue
		}
		for _, isec := range obj.Sections {
			if isec != nil && isRoot(isec) && !isec.IsAlive {
				isec.IsAlive = true
				roots = append(roots, isec)
			}
		}
	}

	markSym(ctx.EntrySym)

	if ctx.IsDynamic() {
		for _, obj := range ctx.Objs {
			if !obj.IsAlive {
				continue
			}
			for _, sym := range obj.GetGlobalSyms() {
				if sym.File == obj && sym.IsExported {
					markSym(sym)
				}
			}
		}
	}

	for len(roots) > 0 {
		isec := roots[len(roots)-1]
		roots = roots[:len(roots)-1]

		for i := range isec.GetRels() {
			rel := &isec.GetRels()[i]
			if rel.Type == uint32(elf.R_X86_64_NONE) {
				continue
			}

			if int(rel.Sym) < len(isec.File.ElfSyms) {
				if frag, _ := isec.GetFragment(rel); frag != nil {
					frag.IsAlive = true
					continue
				}
			}

			markSym(isec.File.Symbols[rel.Sym])
		}
	}
}

// MarkFragmentsLive keeps every deduplicated constant when garbage
// collection is off.
func MarkFragmentsLive(ctx *Context) {
	for _, osec := range ctx.MergedSections {
		for _, frag := range osec.Map {
			frag.IsAlive = true
		}
	}
}
