package vmm

import (
	"sv39kernel/kernel"
	"sv39kernel/kernel/cpu"
	"sv39kernel/kernel/mem"
)

// KernelMapping describes one region installed into the kernel's own page
// table by KvmMake: a direct map from virtual address VA to physical
// address PA, Size bytes, with permission Perm.
type KernelMapping struct {
	VA, PA, Size uintptr
	Perm         PTEFlag
}

// KvmMake builds a fresh kernel page table with the standard direct
// mappings every hart needs regardless of which process is scheduled: the
// UART and VirtIO MMIO windows, the PLIC, the kernel's own text and data
// (identity-mapped starting at KernBase), the remainder of physical RAM up
// to paEnd for the allocator to hand out, and the trampoline page. kernText
// and kernData mark the boundary between the (R|X) text segment and the
// (R|W) rest of the image, both supplied by the caller since they depend on
// the linked kernel image rather than anything this package controls.
func (m *Machine) KvmMake(kernText, kernData, paEnd uintptr, trampolinePA uintptr) (uintptr, *kernel.Error) {
	root, err := m.PA.AllocPage()
	if err != nil {
		return 0, err
	}
	m.Mem.Zero(uintptr(root), uintptr(mem.PageSize))
	rootAddr := uintptr(root)

	mappings := []KernelMapping{
		{mem.UART0, mem.UART0, uintptr(mem.PageSize), PTERead | PTEWrite},
		{mem.VIRTIO0, mem.VIRTIO0, uintptr(mem.PageSize), PTERead | PTEWrite},
		{mem.PLIC, mem.PLIC, mem.PLICSize, PTERead | PTEWrite},
		{mem.KernBase, mem.KernBase, kernText - mem.KernBase, PTERead | PTEExec},
		{kernText, kernText, kernData - kernText, PTERead | PTEWrite},
		{kernData, kernData, paEnd - kernData, PTERead | PTEWrite},
		{mem.Trampoline, trampolinePA, uintptr(mem.PageSize), PTERead | PTEExec},
	}

	for _, km := range mappings {
		if km.Size == 0 {
			continue
		}
		// Mirrors xv6's kvmmap: a failure to install a mapping the kernel
		// itself depends on is unrecoverable, so it panics rather than
		// returning an error the caller could plausibly ignore.
		if merr := m.MapPages(rootAddr, km.VA, km.Size, km.PA, km.Perm); merr != nil {
			kernel.Panic(merr)
		}
	}

	return rootAddr, nil
}

// KvmInit builds and returns the single global kernel page table used
// before any hart has switched into it. Callers install it with
// KvmInitHart on every hart that boots.
func (m *Machine) KvmInit(kernText, kernData, paEnd, trampolinePA uintptr) (uintptr, *kernel.Error) {
	return m.KvmMake(kernText, kernData, paEnd, trampolinePA)
}

// KvmInitHart installs the kernel page table on the current hart and
// fences the whole TLB, so stale translations from whatever satp held
// previously cannot leak into the kernel's own mappings.
func KvmInitHart(root uintptr) {
	cpu.SwitchPageTable(root)
}

// ProcMapStacks installs one kernel-stack mapping per entry in stackPAs,
// each guarded below by an unmapped page so a stack overflow faults
// instead of silently corrupting an adjacent stack. Process creation and
// scheduling live outside this core; this exists only as the hook kvmmake
// calls out to on a real boot path, wired here as a minimal, directly
// testable primitive rather than a stub that does nothing.
func (m *Machine) ProcMapStacks(kernelRoot uintptr, stackPAs []uintptr) *kernel.Error {
	for i, pa := range stackPAs {
		va := mem.Trampoline - uintptr(2*(i+1))*uintptr(mem.PageSize)
		if err := m.MapPages(kernelRoot, va, uintptr(mem.PageSize), pa, PTERead|PTEWrite); err != nil {
			return err
		}
	}
	return nil
}
