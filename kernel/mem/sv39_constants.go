// This file describes the Sv39 MMU constants of the emulated target
// architecture. The core is architecture-specific by design (as is the
// teacher package it is modeled on, which keys its own constants off a build
// tag); since the Sv39 core targeted here runs under simulation rather than
// being cross-compiled for riscv64, the constants are unconditional.
package mem

// PageShift is equal to log2(PageSize). It converts a physical address to a
// page number (shift right by PageShift) and vice-versa.
const PageShift = 12

// PageSize defines the base page size in bytes for the Sv39 MMU.
const PageSize = Size(1 << PageShift)

// SuperPageShift is equal to log2(SuperPageSize). A superpage is exactly one
// second-level (level-1) leaf: 512 contiguous, naturally-aligned base pages.
const SuperPageShift = 21

// SuperPageSize is the size in bytes of a single superpage (2 MiB).
const SuperPageSize = Size(1 << SuperPageShift)

// PTEsPerPage is the number of page table entries in a single page-table
// page: a 4 KiB node holding 512 64-bit PTEs.
const PTEsPerPage = 512

// PointerShift is equal to log2(unsafe.Sizeof(uintptr)).
const PointerShift = 3
