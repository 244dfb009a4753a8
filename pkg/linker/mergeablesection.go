package linker

import "sort"

// MergeableSection is the split form of one SHF_MERGE input section: the
// constants it holds and, after registration, the deduplicated fragments
// they map to in the parent merged section.
type MergeableSection struct {
	Parent      *MergedSection
	P2Align     uint8
	Strs        []string
	FragOffsets []uint32
	Fragments   []*SectionFragment
}

// GetFragment maps an offset into the original input section to the
// fragment containing it and the remaining offset within that fragment.
func (m *MergeableSection) GetFragment(offset uint32) (*SectionFragment, uint32) {
	pos := sort.Search(len(m.FragOffsets), func(i int) bool {
		return offset < m.FragOffsets[i]
	})

	if pos == 0 {
		return nil, 0
	}
	idx := pos - 1
	return m.Fragments[idx], offset - m.FragOffsets[idx]
}
