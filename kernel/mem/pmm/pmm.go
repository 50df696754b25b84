// Package pmm implements the physical page allocator: two singly-linked
// free-lists (one of 4 KiB base pages, one of 2 MiB naturally-aligned
// superpages) protected by a single spinlock.
package pmm

import (
	"sv39kernel/kernel"
	"sv39kernel/kernel/mem"
	"sv39kernel/kernel/mem/physmem"
	ksync "sv39kernel/kernel/sync"
)

// PhysAddr is a physical address within [kernel_end, PHYSTOP).
type PhysAddr uintptr

// noNext terminates a free-list, mirroring a NULL next-pointer. A real
// physical address can never be 0 here: the managed region starts at
// kernel_end, well past the zero page.
const noNext PhysAddr = 0

// InitialSuperpages is the number of 2 MiB superpages carved off the low end
// of usable memory during Init. The allocator never refills the superpage
// pool from base pages, or vice versa, so this value is the lifetime supply
// of superpages: a deliberate simplification documented in the design notes.
const InitialSuperpages = 20

const (
	scrubFreed     = 0x1 // pattern written when a page is handed back to a free-list
	scrubAllocated = 0x5 // pattern written when a page leaves a free-list
)

var (
	errOOMBase  = &kernel.Error{Module: "pmm", Message: "out of memory: base page free-list exhausted"}
	errOOMSuper = &kernel.Error{Module: "pmm", Message: "out of memory: superpage free-list exhausted"}

	errBadFreeAlign = &kernel.Error{Module: "pmm", Message: "free_page: address is not page-aligned"}
	errBadFreeRange = &kernel.Error{Module: "pmm", Message: "free_page: address outside managed region"}

	errBadFreeSuperAlign = &kernel.Error{Module: "pmm", Message: "free_super: address is not superpage-aligned"}
	errBadFreeSuperRange = &kernel.Error{Module: "pmm", Message: "free_super: address outside managed region"}
)

// Allocator is the physical page allocator: one spinlock guards both
// free-lists, held only across the list-link manipulation and never across
// the sentinel-fill that scrubs a page.
type Allocator struct {
	lock ksync.Spinlock

	baseHead  PhysAddr
	superHead PhysAddr

	region *physmem.Region

	baseFree, superFree int // diagnostic counters, not load bearing
}

// Init carves the region [pa_start, pa_end) into the superpage and base
// free-lists: round pa_start up to the next 2 MiB boundary and enlist
// InitialSuperpages consecutive superpages, then round up to the next 4 KiB
// boundary and enlist every remaining whole base page.
func (a *Allocator) Init(region *physmem.Region, paStart, paEnd PhysAddr) {
	a.region = region
	a.baseHead, a.superHead = noNext, noNext
	a.baseFree, a.superFree = 0, 0

	p := roundUp(paStart, PhysAddr(mem.SuperPageSize))

	for need := InitialSuperpages; need > 0 && p+PhysAddr(mem.SuperPageSize) <= paEnd; need-- {
		a.pushSuper(p)
		p += PhysAddr(mem.SuperPageSize)
	}

	p = roundUp(p, PhysAddr(mem.PageSize))
	for p+PhysAddr(mem.PageSize) <= paEnd {
		a.pushBase(p)
		p += PhysAddr(mem.PageSize)
	}
}

func roundUp(v, align PhysAddr) PhysAddr {
	return (v + align - 1) &^ (align - 1)
}

// AllocPage pops the head of the base free-list, scrubs it with the
// "allocated" sentinel, and returns it. It reports out-of-memory when the
// list is empty.
func (a *Allocator) AllocPage() (PhysAddr, *kernel.Error) {
	a.lock.Acquire()
	p := a.baseHead
	if p != noNext {
		a.baseHead = PhysAddr(a.region.ReadUint64(uintptr(p)))
		a.baseFree--
	}
	a.lock.Release()

	if p == noNext {
		return 0, errOOMBase
	}

	a.region.Fill(uintptr(p), uintptr(mem.PageSize), scrubAllocated)
	return p, nil
}

// FreePage pushes p back onto the base free-list after scrubbing it with the
// "freed" sentinel. Misaligned or out-of-range addresses are a kernel bug
// and are fatal.
func (a *Allocator) FreePage(p PhysAddr) {
	if uintptr(p)%uintptr(mem.PageSize) != 0 {
		kernel.Panic(errBadFreeAlign)
	}
	if !a.region.Contains(uintptr(p)) {
		kernel.Panic(errBadFreeRange)
	}

	a.region.Fill(uintptr(p), uintptr(mem.PageSize), scrubFreed)
	a.pushBase(p)
}

// AllocSuper pops the head of the superpage free-list, scrubs the full 2 MiB
// extent with the "allocated" sentinel, and returns it. The popped head is
// read into a local before the list is advanced, and a.superHead is not
// re-read after the lock is released: re-reading the shared head after the
// fact (rather than the value actually popped) is the use-after-free hazard
// that this implementation avoids.
func (a *Allocator) AllocSuper() (PhysAddr, *kernel.Error) {
	a.lock.Acquire()
	p := a.superHead
	if p != noNext {
		a.superHead = PhysAddr(a.region.ReadUint64(uintptr(p)))
		a.superFree--
	}
	a.lock.Release()

	if p == noNext {
		return 0, errOOMSuper
	}

	a.region.Fill(uintptr(p), uintptr(mem.SuperPageSize), scrubAllocated)
	return p, nil
}

// FreeSuper pushes p back onto the superpage free-list. p must be
// 2 MiB-aligned.
func (a *Allocator) FreeSuper(p PhysAddr) {
	if uintptr(p)%uintptr(mem.SuperPageSize) != 0 {
		kernel.Panic(errBadFreeSuperAlign)
	}
	if !a.region.Contains(uintptr(p)) {
		kernel.Panic(errBadFreeSuperRange)
	}

	a.region.Fill(uintptr(p), uintptr(mem.SuperPageSize), scrubFreed)
	a.pushSuper(p)
}

// pushBase links p onto the base free-list. The lock-link manipulation is
// bounded and never spans the caller's earlier memset.
func (a *Allocator) pushBase(p PhysAddr) {
	a.lock.Acquire()
	a.region.WriteUint64(uintptr(p), uint64(a.baseHead))
	a.baseHead = p
	a.baseFree++
	a.lock.Release()
}

func (a *Allocator) pushSuper(p PhysAddr) {
	a.lock.Acquire()
	a.region.WriteUint64(uintptr(p), uint64(a.superHead))
	a.superHead = p
	a.superFree++
	a.lock.Release()
}

// BaseFreeCount and SuperFreeCount expose the current free-list lengths for
// diagnostics and tests; they are not part of the allocator's contract.
func (a *Allocator) BaseFreeCount() int  { return a.baseFree }
func (a *Allocator) SuperFreeCount() int { return a.superFree }
