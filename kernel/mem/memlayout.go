package mem

// Physical memory layout of the simulated target. These mirror the
// conventional QEMU "virt" machine addresses: a fixed low MMIO window
// followed by RAM starting at KernBase. Real boot code would learn
// KernEnd from the linker; here it is supplied by whoever calls KvmMake.
const (
	// UART0 is the base address of the NS16550a UART MMIO window.
	UART0 = 0x10000000
	// VIRTIO0 is the base address of the first virtio MMIO device.
	VIRTIO0 = 0x10001000
	// PLIC is the base address of the platform-level interrupt controller.
	PLIC = 0x0c000000
	// PLICSize covers the PLIC's full priority/pending/enable/context window.
	PLICSize = 0x400000

	// KernBase is the physical address RAM starts at and the kernel is
	// linked to run from.
	KernBase = 0x80000000
)

// Trampoline is the highest page of every address space, kernel and user
// alike, so trap entry/exit code is reachable under either satp value.
const Trampoline = TrampolineOffset
