package vmm

import (
	"sv39kernel/kernel"
	"sv39kernel/kernel/cpu"
	"sv39kernel/kernel/mem"
)

// Unmap removes npages base-page mappings starting at va, which must be
// 4 KiB aligned. Missing mappings within the range are legal and silently
// skipped. Whenever the level-1 entry covering the current address is a
// superpage leaf, Unmap either frees the whole superpage in one step (when
// the requested range exactly covers it) or demotes it first and retries
// at base granularity.
func (m *Machine) Unmap(root uintptr, va uintptr, npages uintptr, doFree bool) {
	if va%uintptr(mem.PageSize) != 0 {
		kernel.Panic(errNotAligned)
	}

	end := va + npages*uintptr(mem.PageSize)
	for a := va; a < end; {
		// walk with alloc=false never fails; any non-nil error would mean
		// a PA allocation was attempted, which cannot happen here.
		l1Addr, _, _ := m.walk(root, a, false, 1)

		if l1Addr != 0 {
			l1pte := PTE(m.Mem.ReadUint64(l1Addr))
			if l1pte.IsLeaf() {
				superStart := superRoundDown(a)
				superEnd := superStart + uintptr(mem.SuperPageSize)

				if a == superStart && end >= superEnd {
					if doFree {
						m.PA.FreeSuper(physAddrOf(l1pte.PA()))
					}
					m.Mem.WriteUint64(l1Addr, 0)
					cpu.FlushTLBAll()
					a = superEnd
					continue
				}

				if derr := m.DegradeSuperpage(root, superStart); derr != nil {
					kernel.Panic(errOutOfMemory)
				}
				continue
			}
		}

		pteAddr, _, _ := m.walk(root, a, false, 0)
		if pteAddr == 0 {
			a += uintptr(mem.PageSize)
			continue
		}

		pte := PTE(m.Mem.ReadUint64(pteAddr))
		if !pte.HasFlags(PTEValid) {
			a += uintptr(mem.PageSize)
			continue
		}
		if !pte.IsLeaf() {
			kernel.Panic(errNotLeaf)
		}

		if doFree {
			m.PA.FreePage(physAddrOf(pte.PA()))
		}
		m.Mem.WriteUint64(pteAddr, 0)
		cpu.FlushTLBEntry(a)

		a += uintptr(mem.PageSize)
	}
}

// DegradeSuperpage replaces the level-1 leaf mapping super_va with a fresh
// level-0 table of 512 leaves covering the same 2 MiB range, preserving the
// original permission bits. It fences the TLB once after invalidating the
// old leaf and once more after installing the new table, so a concurrent
// hardware walker never observes a partially-demoted state. If the new
// table page cannot be allocated, the original leaf is restored and an
// error is returned.
func (m *Machine) DegradeSuperpage(root uintptr, superVA uintptr) *kernel.Error {
	l1Addr, _, _ := m.walk(root, superVA, false, 1)
	if l1Addr == 0 {
		return errNotLeaf
	}
	l1pte := PTE(m.Mem.ReadUint64(l1Addr))
	if !l1pte.IsLeaf() {
		return errNotLeaf
	}

	paStart := l1pte.PA()
	flags := l1pte.Flags() &^ PTEFlag(PTEValid)

	m.Mem.WriteUint64(l1Addr, 0)
	cpu.FlushTLBAll()

	child, aerr := m.PA.AllocPage()
	if aerr != nil {
		restored := PA2PTE(paStart)
		restored.SetFlags(flags | PTEValid)
		m.Mem.WriteUint64(l1Addr, uint64(restored))
		return errOutOfMemory
	}
	m.Mem.Zero(uintptr(child), uintptr(mem.PageSize))

	newL1 := PA2PTE(uintptr(child))
	newL1.SetFlags(PTEValid)
	m.Mem.WriteUint64(l1Addr, uint64(newL1))

	for i := uintptr(0); i < 512; i++ {
		leaf := PA2PTE(paStart + i*uintptr(mem.PageSize))
		leaf.SetFlags(flags | PTEValid)
		m.writePTE(uintptr(child), i, leaf)
	}

	cpu.FlushTLBAll()
	return nil
}

// FreeWalk recursively frees every table page reachable from root. Every
// leaf mapping must already have been removed by Unmap; a surviving leaf
// is a caller bug and is fatal.
func (m *Machine) FreeWalk(root uintptr) {
	for i := uintptr(0); i < 512; i++ {
		pte := m.readPTE(root, i)
		if !pte.HasFlags(PTEValid) {
			continue
		}
		if pte.IsLeaf() {
			kernel.Panic(errSurvivingLeaf)
		}
		m.FreeWalk(pte.PA())
		m.writePTE(root, i, 0)
	}
	m.PA.FreePage(physAddrOf(root))
}

func superRoundDown(va uintptr) uintptr {
	return va &^ (uintptr(mem.SuperPageSize) - 1)
}

func superRoundUp(va uintptr) uintptr {
	return (va + uintptr(mem.SuperPageSize) - 1) &^ (uintptr(mem.SuperPageSize) - 1)
}

func pageRoundUp(va uintptr) uintptr {
	return (va + uintptr(mem.PageSize) - 1) &^ (uintptr(mem.PageSize) - 1)
}
