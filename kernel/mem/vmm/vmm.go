package vmm

import (
	"sv39kernel/kernel"
	"sv39kernel/kernel/mem/physmem"
	"sv39kernel/kernel/mem/pmm"
)

// DeferZeroFill mirrors the LAB_SYSCALL configuration flag: when true,
// UvmAlloc skips zero-filling freshly mapped user pages and leaves that to
// an explicit syscall instead. Defaults to false: zero-on-map.
var DeferZeroFill = false

// PageTableDebug mirrors the LAB_PGTBL configuration flag: it gates the
// availability of the debug-only VMPrint and PgPTE entry points. The
// walker's superpage short-circuit itself is unconditional, since it is
// required for correct translation of any mapped superpage regardless of
// whether debug tooling is compiled in.
var PageTableDebug = true

var (
	errVAOutOfRange = &kernel.Error{Module: "vmm", Message: "walk: virtual address exceeds MAXVA"}
	errOutOfMemory  = &kernel.Error{Module: "vmm", Message: "out of memory"}
	errRemap        = &kernel.Error{Module: "vmm", Message: "map: remapping a valid PTE"}
	errNotAligned   = &kernel.Error{Module: "vmm", Message: "map/unmap: address or size not aligned"}
	errZeroSize     = &kernel.Error{Module: "vmm", Message: "map: zero size"}
	errNotLeaf      = &kernel.Error{Module: "vmm", Message: "unmap: not a leaf"}
	errSurvivingLeaf = &kernel.Error{Module: "vmm", Message: "freewalk: leaf PTE survived unmap"}
	errNotMapped    = &kernel.Error{Module: "vmm", Message: "uvmclear: address is not mapped"}
)

// Machine bundles the two downward dependencies every vmm operation needs:
// the physical memory region page tables and user pages actually live in,
// and the physical page allocator that supplies fresh table and data pages.
// It takes the place of the global kmem/physical-memory state a real kernel
// would reach for directly.
type Machine struct {
	Mem *physmem.Region
	PA  *pmm.Allocator
}

func (m *Machine) readPTE(tableAddr uintptr, idx uintptr) PTE {
	return PTE(m.Mem.ReadUint64(tableAddr + idx*8))
}

func (m *Machine) writePTE(tableAddr uintptr, idx uintptr, pte PTE) {
	m.Mem.WriteUint64(tableAddr+idx*8, uint64(pte))
}

// physAddrOf adapts a bare physical address back into the pmm package's
// PhysAddr type so it can be handed to FreePage/FreeSuper.
func physAddrOf(addr uintptr) pmm.PhysAddr {
	return pmm.PhysAddr(addr)
}
