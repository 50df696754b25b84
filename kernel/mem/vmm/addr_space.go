package vmm

import (
	"sv39kernel/kernel"
	"sv39kernel/kernel/mem"
)

// AddrSpace is a user address space: a root page table plus the byte size
// of the user region starting at virtual address 0. Every address in
// [0, Sz) is either mapped or reserved for demand-fault allocation.
type AddrSpace struct {
	Root uintptr
	Sz   uintptr
}

// UvmCreate allocates and zeroes a fresh root page table for a new, empty
// user address space.
func (m *Machine) UvmCreate() (*AddrSpace, *kernel.Error) {
	root, err := m.PA.AllocPage()
	if err != nil {
		return nil, err
	}
	m.Mem.Zero(uintptr(root), uintptr(mem.PageSize))
	return &AddrSpace{Root: uintptr(root)}, nil
}

// UvmAlloc grows the address space from OldSz to newSz, choosing granularity
// opportunistically: a head run of base pages up to the next 2 MiB
// boundary, a body run of superpages (falling back to 512 base pages per
// chunk when the superpage pool is drained), and a tail run of base pages
// for any remainder. On any failure it rolls back to oldSz and reports
// out-of-memory; on success it returns newSz.
func (a *AddrSpace) UvmAlloc(m *Machine, newSz uintptr, xperm PTEFlag) (uintptr, *kernel.Error) {
	oldSz := a.Sz
	if newSz < oldSz {
		return oldSz, nil
	}

	perm := xperm | PTERead | PTEUser
	cur := pageRoundUp(oldSz)
	superStart := superRoundUp(cur)

	for ; cur < newSz && cur < superStart; cur += uintptr(mem.PageSize) {
		if err := m.allocAndMapBasePage(a.Root, cur, perm); err != nil {
			a.unwindGrow(m, cur, oldSz)
			return 0, err
		}
	}

	for ; cur+uintptr(mem.SuperPageSize) <= newSz; cur += uintptr(mem.SuperPageSize) {
		super, serr := m.PA.AllocSuper()
		if serr != nil {
			// Superpage pool drained: fall back to 512 base mappings
			// covering the same chunk. Exhaustion of the superpage
			// pool is expected, not a failure.
			chunkEnd := cur + uintptr(mem.SuperPageSize)
			for pa := cur; pa < chunkEnd; pa += uintptr(mem.PageSize) {
				if err := m.allocAndMapBasePage(a.Root, pa, perm); err != nil {
					a.unwindGrow(m, pa, oldSz)
					return 0, err
				}
			}
			continue
		}

		if !DeferZeroFill {
			m.Mem.Zero(uintptr(super), uintptr(mem.SuperPageSize))
		}
		if merr := m.MapSuperpages(a.Root, cur, uintptr(mem.SuperPageSize), uintptr(super), perm); merr != nil {
			m.PA.FreeSuper(super)
			a.unwindGrow(m, cur, oldSz)
			return 0, merr
		}
	}

	for ; cur < newSz; cur += uintptr(mem.PageSize) {
		if err := m.allocAndMapBasePage(a.Root, cur, perm); err != nil {
			a.unwindGrow(m, cur, oldSz)
			return 0, err
		}
	}

	a.Sz = newSz
	return newSz, nil
}

func (a *AddrSpace) unwindGrow(m *Machine, failedAt uintptr, oldSz uintptr) {
	a.Sz = failedAt
	a.UvmDealloc(m, oldSz)
}

func (m *Machine) allocAndMapBasePage(root uintptr, va uintptr, perm PTEFlag) *kernel.Error {
	p, err := m.PA.AllocPage()
	if err != nil {
		return err
	}
	if !DeferZeroFill {
		m.Mem.Zero(uintptr(p), uintptr(mem.PageSize))
	}
	if merr := m.MapPages(root, va, uintptr(mem.PageSize), uintptr(p), perm); merr != nil {
		m.PA.FreePage(p)
		return merr
	}
	return nil
}

// UvmDealloc shrinks the address space from a.Sz to newSz. oldSz and newSz
// need not be page aligned; oldSz may exceed the actual mapped size. It
// picks between a base-granularity unmap and a superpage-aware unmap
// depending on how much of the shrink crosses a 2 MiB boundary.
func (a *AddrSpace) UvmDealloc(m *Machine, newSz uintptr) uintptr {
	oldSz := a.Sz
	if newSz >= oldSz {
		return oldSz
	}

	shrink := oldSz - newSz
	switch {
	case shrink < uintptr(mem.SuperPageSize):
		if pageRoundUp(newSz) < pageRoundUp(oldSz) {
			npages := (pageRoundUp(oldSz) - pageRoundUp(newSz)) / uintptr(mem.PageSize)
			m.Unmap(a.Root, pageRoundUp(newSz), npages, true)
		}
	case newSz >= uintptr(mem.SuperPageSize):
		// Unmap frees whole superpages inside the range and demotes the
		// one straddling pageRoundUp(newSz).
		if pageRoundUp(newSz) < pageRoundUp(oldSz) {
			npages := (pageRoundUp(oldSz) - pageRoundUp(newSz)) / uintptr(mem.PageSize)
			m.Unmap(a.Root, pageRoundUp(newSz), npages, true)
		}
	default:
		if pageRoundUp(newSz) < pageRoundUp(oldSz) {
			npages := (pageRoundUp(oldSz) - pageRoundUp(newSz)) / uintptr(mem.PageSize)
			m.Unmap(a.Root, pageRoundUp(newSz), npages, true)
		}
	}

	a.Sz = newSz
	return newSz
}

// UvmFree unmaps every user page and then frees every table page of the
// address space.
func (a *AddrSpace) UvmFree(m *Machine) {
	if a.Sz > 0 {
		m.Unmap(a.Root, 0, pageRoundUp(a.Sz)/uintptr(mem.PageSize), true)
	}
	m.FreeWalk(a.Root)
}

// UvmClear marks va inaccessible to user mode, without removing the
// mapping. Used for a stack guard page.
func (a *AddrSpace) UvmClear(m *Machine, va uintptr) {
	pteAddr, _, _ := m.walk(a.Root, va, false, 0)
	if pteAddr == 0 {
		kernel.Panic(errNotMapped)
	}
	pte := PTE(m.Mem.ReadUint64(pteAddr))
	pte.ClearFlags(PTEUser)
	m.Mem.WriteUint64(pteAddr, uint64(pte))
}

// IsMapped reports whether va is backed by a valid mapping, either a
// level-1 superpage leaf or a level-0 base leaf.
func (m *Machine) IsMapped(root uintptr, va uintptr) bool {
	l1Addr, _, _ := m.walk(root, va, false, 1)
	if l1Addr != 0 && PTE(m.Mem.ReadUint64(l1Addr)).IsLeaf() {
		return true
	}

	pteAddr, _, _ := m.walk(root, va, false, 0)
	if pteAddr == 0 {
		return false
	}
	return PTE(m.Mem.ReadUint64(pteAddr)).HasFlags(PTEValid)
}

// VMFault services a demand fault for lazily-grown user memory: if va is
// past the address space's current size or is already mapped, it returns 0
// (the caller signals a fault to the user process). Otherwise it allocates
// and zeroes one base page, maps it R|W|U, and returns its physical
// address. Out-of-memory also yields 0.
func (a *AddrSpace) VMFault(m *Machine, va uintptr, read bool) uintptr {
	if va >= a.Sz {
		return 0
	}
	va = pageRoundDown(va)
	if m.IsMapped(a.Root, va) {
		return 0
	}

	p, err := m.PA.AllocPage()
	if err != nil {
		return 0
	}
	m.Mem.Zero(uintptr(p), uintptr(mem.PageSize))

	if merr := m.MapPages(a.Root, va, uintptr(mem.PageSize), uintptr(p), PTEWrite|PTEUser|PTERead); merr != nil {
		m.PA.FreePage(p)
		return 0
	}
	return uintptr(p)
}

func pageRoundDown(va uintptr) uintptr {
	return va &^ (uintptr(mem.PageSize) - 1)
}
