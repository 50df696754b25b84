package vmm

import (
	"sv39kernel/kernel"
	"sv39kernel/kernel/mem"
)

// CopyOut copies src into the address space at virtual address dstva,
// spanning as many pages as len requires. A page missing from the mapping
// is faulted in via VMFault; copying is refused into a read-only page,
// since this guards against overwriting read-only user text.
func (a *AddrSpace) CopyOut(m *Machine, dstva uintptr, src []byte) *kernel.Error {
	for len(src) > 0 {
		va0 := pageRoundDown(dstva)
		if va0 >= mem.MaxVA {
			return errCopyFault
		}

		pa0 := m.WalkAddr(a.Root, va0)
		if pa0 == 0 {
			pa0 = a.VMFault(m, va0, false)
			if pa0 == 0 {
				return errCopyFault
			}
		}

		pteAddr, _, _ := m.walk(a.Root, va0, false, 0)
		if pteAddr == 0 {
			return errCopyFault
		}
		if !PTE(m.Mem.ReadUint64(pteAddr)).HasFlags(PTEWrite) {
			return errCopyFault
		}

		n := uintptr(mem.PageSize) - (dstva - va0)
		if n > uintptr(len(src)) {
			n = uintptr(len(src))
		}

		m.Mem.CopyIn(pa0+(dstva-va0), src[:n])

		src = src[n:]
		dstva = va0 + uintptr(mem.PageSize)
	}
	return nil
}

// CopyIn copies len(dst) bytes from virtual address srcva into dst,
// faulting in missing pages via VMFault.
func (a *AddrSpace) CopyIn(m *Machine, dst []byte, srcva uintptr) *kernel.Error {
	for len(dst) > 0 {
		va0 := pageRoundDown(srcva)

		pa0 := m.WalkAddr(a.Root, va0)
		if pa0 == 0 {
			pa0 = a.VMFault(m, va0, true)
			if pa0 == 0 {
				return errCopyFault
			}
		}

		n := uintptr(mem.PageSize) - (srcva - va0)
		if n > uintptr(len(dst)) {
			n = uintptr(len(dst))
		}

		m.Mem.CopyOut(dst[:n], pa0+(srcva-va0))

		dst = dst[n:]
		srcva = va0 + uintptr(mem.PageSize)
	}
	return nil
}

// CopyInStr copies a NUL-terminated string from srcva into dst, stopping at
// the first NUL byte or after max bytes, whichever comes first. It reports
// whether a terminator was actually seen; a buffer that fills without one
// is an error, same as the underlying page-lookup failing.
func (a *AddrSpace) CopyInStr(m *Machine, dst []byte, srcva uintptr, max uintptr) *kernel.Error {
	gotNull := false

	for !gotNull && max > 0 {
		va0 := pageRoundDown(srcva)
		pa0 := m.WalkAddr(a.Root, va0)
		if pa0 == 0 {
			return errCopyFault
		}

		n := uintptr(mem.PageSize) - (srcva - va0)
		if n > max {
			n = max
		}

		src := make([]byte, n)
		m.Mem.CopyOut(src, pa0+(srcva-va0))

		for _, b := range src {
			if b == 0 {
				if len(dst) > 0 {
					dst[0] = 0
				}
				gotNull = true
				break
			}
			if len(dst) == 0 {
				return errCopyFault
			}
			dst[0] = b
			dst = dst[1:]
			max--
		}

		srcva = va0 + uintptr(mem.PageSize)
	}

	if !gotNull {
		return errCopyFault
	}
	return nil
}

var errCopyFault = &kernel.Error{Module: "vmm", Message: "copy: virtual address not accessible"}
