package mem

// MaxVA is one bit less than the maximum possible virtual address, as
// restricted by Sv39: 3 levels of 9-bit page-table indices plus the 12-bit
// page offset, minus one so that no valid address has bit 38 set and none
// needs its upper bits sign-extended.
const MaxVA = uintptr(1) << (9 + 9 + 9 + 12 - 1)

// TrampolineOffset places the trampoline page at the highest page of the
// address space, both for the kernel page table and for every user page
// table, so that the same trapoline code is reachable regardless of which
// page table satp points at across the trap into/out of the kernel.
const TrampolineOffset = MaxVA - uintptr(PageSize)
