// Package physmem models the bounded physical memory region
// [kernel_end, PHYSTOP) that the rest of the virtual-memory core allocates
// out of. On real hardware this region is just RAM addressed directly by
// the kernel's identity map; here it is backed by an anonymous mmap'd
// region so that physical addresses are stable uintptr values that are
// never moved or scanned by the Go garbage collector, exactly as a
// physical address would behave on real hardware.
package physmem

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"sv39kernel/kernel"
)

// bounds is a thin wrapper around bytes that validates a range without
// retaining a slice, so callers that go on to use kernel.Memset/Memcopy
// directly on the address still get the same out-of-range panic.
func (r *Region) bounds(addr uintptr, n uintptr) {
	_ = r.bytes(addr, n)
}

var (
	errAlreadyInitialized = &kernel.Error{Module: "physmem", Message: "region already reserved"}
	errOutOfRange         = &kernel.Error{Module: "physmem", Message: "address out of physical range"}
)

// Region describes a reserved, page-aligned span of simulated physical
// memory. base is the address of byte 0 of the region, i.e. kernel_end.
type Region struct {
	buf  []byte
	base uintptr
}

var active *Region

// Reserve mmaps a size-byte anonymous region to stand in for
// [kernel_end, PHYSTOP) and records it as the active region. Calling Reserve
// again without an intervening Release returns an error.
func Reserve(size int) (*Region, *kernel.Error) {
	if active != nil {
		return nil, errAlreadyInitialized
	}

	buf, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, &kernel.Error{Module: "physmem", Message: err.Error()}
	}

	r := &Region{
		buf:  buf,
		base: uintptr(unsafe.Pointer(&buf[0])),
	}
	active = r
	return r, nil
}

// Release unmaps the region. It is only used by tests that need a clean
// slate between independent scenarios.
func (r *Region) Release() {
	unix.Munmap(r.buf)
	if active == r {
		active = nil
	}
}

// Base returns the physical address of the first byte of the region
// (kernel_end).
func (r *Region) Base() uintptr { return r.base }

// End returns the physical address one past the last byte of the region
// (PHYSTOP).
func (r *Region) End() uintptr { return r.base + uintptr(len(r.buf)) }

// Contains reports whether addr lies within [Base(), End()).
func (r *Region) Contains(addr uintptr) bool {
	return addr >= r.base && addr < r.End()
}

// Active returns the region reserved by the most recent call to Reserve, or
// nil if none is active.
func Active() *Region { return active }

// bytes returns a slice view of the n bytes starting at physical address
// addr. It panics (via the kernel error path) if the range is not fully
// contained in the region.
func (r *Region) bytes(addr uintptr, n uintptr) []byte {
	if addr < r.base || addr+n > r.End() || addr+n < addr {
		kernel.Panic(errOutOfRange)
	}
	off := addr - r.base
	return r.buf[off : off+n]
}

// Zero fills n bytes starting at addr with zero.
func (r *Region) Zero(addr uintptr, n uintptr) {
	r.Fill(addr, n, 0)
}

// Fill fills n bytes starting at addr with the repeated byte value. Because
// this region's physical addresses are themselves stable Go addresses (see
// the package comment), the fill is delegated to kernel.Memset rather than a
// hand-rolled loop, exactly as a real kernel would memset through its
// identity map.
func (r *Region) Fill(addr uintptr, n uintptr, value byte) {
	if n == 0 {
		return
	}
	r.bounds(addr, n)
	kernel.Memset(addr, value, n)
}

// CopyIn copies src into the region starting at physical address dst.
func (r *Region) CopyIn(dst uintptr, src []byte) {
	copy(r.bytes(dst, uintptr(len(src))), src)
}

// CopyOut copies len(dst) bytes from physical address src into dst.
func (r *Region) CopyOut(dst []byte, src uintptr) {
	copy(dst, r.bytes(src, uintptr(len(dst))))
}

// CopyPhys copies n bytes from physical address src to physical address dst.
// The two ranges must not overlap.
func (r *Region) CopyPhys(dst, src uintptr, n uintptr) {
	if n == 0 {
		return
	}
	r.bounds(dst, n)
	r.bounds(src, n)
	kernel.Memcopy(src, dst, n)
}

// ReadUint64 reads a little-endian 64-bit word at physical address addr. It
// is used to read and write page table entries.
func (r *Region) ReadUint64(addr uintptr) uint64 {
	b := r.bytes(addr, 8)
	return uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 | uint64(b[3])<<24 |
		uint64(b[4])<<32 | uint64(b[5])<<40 | uint64(b[6])<<48 | uint64(b[7])<<56
}

// WriteUint64 writes a little-endian 64-bit word at physical address addr.
func (r *Region) WriteUint64(addr uintptr, v uint64) {
	b := r.bytes(addr, 8)
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
	b[4] = byte(v >> 32)
	b[5] = byte(v >> 40)
	b[6] = byte(v >> 48)
	b[7] = byte(v >> 56)
}
