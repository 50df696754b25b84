// Package cpu exposes the small set of Sv39 architectural primitives the
// virtual-memory core needs: switching the root page table, fencing the
// TLB, and halting. On real hardware these are a handful of instructions
// (csrw satp, sfence.vma, wfi); here they are modeled as function variables
// so that every caller can be exercised without a RISC-V core underneath.
package cpu

// satpMode selects Sv39 paging in the satp CSR.
const satpMode = 8 // SATP_SV39, mode field value 8

// MakeSATP builds the value that would be written to satp to activate the
// page table rooted at the given physical address.
func MakeSATP(rootPPN uintptr) uint64 {
	return uint64(satpMode)<<60 | uint64(rootPPN>>12)
}

var (
	activeSATP uint64

	// switchPageTableFn installs a new root page table and fences the TLB.
	// Overridden in tests to observe calls without a real CSR.
	switchPageTableFn = defaultSwitchPageTable

	// flushTLBEntryFn fences a single virtual address out of the TLB.
	flushTLBEntryFn = defaultFlushTLBEntry

	// flushTLBAllFn fences the entire TLB, used after a satp write.
	flushTLBAllFn = defaultFlushTLBAll

	// haltFn parks the hart. Overridden in tests so they don't actually block.
	haltFn = defaultHalt
)

func defaultSwitchPageTable(satp uint64) {
	activeSATP = satp
	flushTLBAllFn()
}

func defaultFlushTLBEntry(virtAddr uintptr) {}

func defaultFlushTLBAll() {}

func defaultHalt() {}

// SwitchPageTable writes satp to point at rootPPN and fences the whole TLB.
// Every caller that installs a new address space must go through this
// function rather than writing satp directly, so that the TLB fence is
// never forgotten.
func SwitchPageTable(rootPPN uintptr) {
	switchPageTableFn(MakeSATP(rootPPN))
}

// FlushTLBEntry fences a single virtual address out of the TLB. It must be
// called after any page-table mutation that narrows or redirects the
// mapping covering that address, before the mutation is allowed to affect
// instructions that run in user mode.
func FlushTLBEntry(virtAddr uintptr) {
	flushTLBEntryFn(virtAddr)
}

// FlushTLBAll fences every TLB entry. Used after operations, like
// superpage demotion, that replace more than one leaf at a time.
func FlushTLBAll() {
	flushTLBAllFn()
}

// ActiveSATP returns the value most recently installed by SwitchPageTable,
// for diagnostics and tests.
func ActiveSATP() uint64 { return activeSATP }

// Halt stops instruction execution on the current hart.
func Halt() {
	haltFn()
}
