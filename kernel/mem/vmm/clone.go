package vmm

import (
	"sv39kernel/kernel"
	"sv39kernel/kernel/mem"
)

// UvmCopy clones [0, sz) of the receiver's mappings into child, copying
// both the page-table structure and the backing bytes. It walks in 4 KiB
// strides but recognizes a level-1 superpage leaf at each 2 MiB-aligned
// boundary: when one is found, it tries to clone it as another superpage,
// falling back to demoting the parent's superpage and retrying at base
// granularity if none is available. Any allocation or mapping failure
// during the clone rolls back everything already installed in child.
func (a *AddrSpace) UvmCopy(m *Machine, child *AddrSpace, sz uintptr) *kernel.Error {
	for va := uintptr(0); va < sz; va += uintptr(mem.PageSize) {
		l1Addr, _, _ := m.walk(a.Root, va, false, 1)
		if l1Addr != 0 && PTE(m.Mem.ReadUint64(l1Addr)).IsLeaf() {
			l1pte := PTE(m.Mem.ReadUint64(l1Addr))
			superStart := superRoundDown(va)
			if superStart != va {
				continue // already cloned as part of this superpage's first page
			}

			flags := l1pte.Flags()
			childPA, serr := m.PA.AllocSuper()
			if serr == nil {
				m.Mem.CopyPhys(uintptr(childPA), l1pte.PA(), uintptr(mem.SuperPageSize))
				if merr := m.MapSuperpages(child.Root, superStart, uintptr(mem.SuperPageSize), uintptr(childPA), flags&^PTEFlag(PTEValid)); merr != nil {
					m.PA.FreeSuper(childPA)
					child.rollback(m, va)
					return merr
				}
				continue
			}

			// No superpage available: demote the parent's mapping and
			// fall through to clone this same address at base
			// granularity, in this same iteration.
			if derr := m.DegradeSuperpage(a.Root, superStart); derr != nil {
				child.rollback(m, va)
				return derr
			}
		}

		pteAddr, _, _ := m.walk(a.Root, va, false, 0)
		if pteAddr == 0 {
			continue
		}
		pte := PTE(m.Mem.ReadUint64(pteAddr))
		if !pte.HasFlags(PTEValid) {
			continue
		}

		flags := pte.Flags()
		page, merr := m.PA.AllocPage()
		if merr != nil {
			child.rollback(m, va)
			return merr
		}
		m.Mem.CopyPhys(uintptr(page), pte.PA(), uintptr(mem.PageSize))
		if err := m.MapPages(child.Root, va, uintptr(mem.PageSize), uintptr(page), flags&^PTEFlag(PTEValid)); err != nil {
			m.PA.FreePage(page)
			child.rollback(m, va)
			return err
		}
	}

	child.Sz = sz
	return nil
}

// rollback undoes a partially completed UvmCopy by unmapping and freeing
// everything installed in child below upTo.
func (child *AddrSpace) rollback(m *Machine, upTo uintptr) {
	if upTo == 0 {
		return
	}
	m.Unmap(child.Root, 0, pageRoundUp(upTo)/uintptr(mem.PageSize), true)
}
