package vmm

import (
	"sv39kernel/kernel"
	"sv39kernel/kernel/mem"
)

// MapPages installs base-page mappings across [va, va+size) to the
// physical range starting at pa, with the given permission bits. va, pa,
// and size must all be 4 KiB aligned and size must be nonzero. If PA is
// exhausted partway through the range, the mappings already installed are
// left in place and an error is returned; the caller is expected to unwind
// with Unmap over the prefix that succeeded.
func (m *Machine) MapPages(root uintptr, va uintptr, size uintptr, pa uintptr, perm PTEFlag) *kernel.Error {
	return m.mapRange(root, va, size, pa, perm, uintptr(mem.PageSize), 0)
}

// MapSuperpages is the superpage-granularity analog of MapPages: va, pa,
// and size must be 2 MiB aligned, and intermediate level-2 tables are
// allocated as needed, but the walk stops at level 1 so each installed
// leaf covers a full superpage.
func (m *Machine) MapSuperpages(root uintptr, va uintptr, size uintptr, pa uintptr, perm PTEFlag) *kernel.Error {
	return m.mapRange(root, va, size, pa, perm, uintptr(mem.SuperPageSize), 1)
}

func (m *Machine) mapRange(root, va, size, pa uintptr, perm PTEFlag, stride uintptr, stopLevel int) *kernel.Error {
	if va%stride != 0 || pa%stride != 0 || size%stride != 0 {
		kernel.Panic(errNotAligned)
	}
	if size == 0 {
		kernel.Panic(errZeroSize)
	}

	a, last := va, va+size-stride
	for {
		pteAddr, _, err := m.walk(root, a, true, stopLevel)
		if err != nil {
			return err
		}
		if PTE(m.Mem.ReadUint64(pteAddr)).HasFlags(PTEValid) {
			kernel.Panic(errRemap)
		}

		entry := PA2PTE(pa)
		entry.SetFlags(perm | PTEValid)
		m.Mem.WriteUint64(pteAddr, uint64(entry))

		if a == last {
			break
		}
		a += stride
		pa += stride
	}
	return nil
}
