package vmm

import (
	"sv39kernel/kernel"
	"sv39kernel/kernel/mem"
)

// walk descends from level 2 toward stopLevel, returning the physical
// address of the PTE that would hold the translation for va, and the level
// at which that PTE actually lives. It recognizes a superpage leaf at level
// 1 and returns early even when stopLevel is 0, since the caller must be
// able to tell a level-0 miss from an already mapped superpage. A return of
// (0, _, nil) means "no mapping and alloc was false"; a non-nil error means
// allocation of an intermediate table failed.
func (m *Machine) walk(root uintptr, va uintptr, alloc bool, stopLevel int) (uintptr, int, *kernel.Error) {
	if va >= mem.MaxVA {
		kernel.Panic(errVAOutOfRange)
	}

	table := root
	for level := 2; level > stopLevel; level-- {
		idx := pageIndex(level, va)
		entryAddr := table + idx*8
		pte := m.readPTE(table, idx)

		if pte.HasFlags(PTEValid) {
			if pte.IsLeaf() {
				return entryAddr, level, nil
			}
			table = pte.PA()
			continue
		}

		if !alloc {
			return 0, 0, nil
		}

		child, aerr := m.PA.AllocPage()
		if aerr != nil {
			return 0, 0, errOutOfMemory
		}
		m.Mem.Zero(uintptr(child), uintptr(mem.PageSize))

		newPTE := PA2PTE(uintptr(child))
		newPTE.SetFlags(PTEValid)
		m.writePTE(table, idx, newPTE)

		table = uintptr(child)
	}

	idx := pageIndex(stopLevel, va)
	return table + idx*8, stopLevel, nil
}

// WalkAddr looks up a user virtual address and returns its physical address,
// or 0 if va is not mapped, is reserved for the kernel (U=0), or lies past
// MAXVA.
func (m *Machine) WalkAddr(root uintptr, va uintptr) uintptr {
	if va >= mem.MaxVA {
		return 0
	}

	pteAddr, level, err := m.walk(root, va, false, 0)
	if err != nil || pteAddr == 0 {
		return 0
	}

	pte := PTE(m.Mem.ReadUint64(pteAddr))
	if !pte.HasFlags(PTEValid) || !pte.HasFlags(PTEUser) {
		return 0
	}

	base := pte.PA()
	if level == 1 {
		return base + (va & (uintptr(mem.SuperPageSize) - 1))
	}
	return base
}
