package vmm

import (
	"io"

	"sv39kernel/kernel/kfmt"
)

// VMPrint recursively emits every valid PTE of the page table rooted at
// root, depth-first, indenting each level with a kfmt.PrefixWriter so that
// a child table's entries are visually nested under their parent: each
// recursive call wraps the writer it was given in another PrefixWriter,
// so a leaf three levels down is prefixed by three ".. " tokens, one
// injected per level of nesting. For each valid PTE it prints the
// reconstructed virtual address, the raw PTE word, and the physical
// address it resolves to. Available only when PageTableDebug is set,
// mirroring the LAB_PGTBL gate on the original vmprint/pgpte debug
// tooling.
func (m *Machine) VMPrint(root uintptr, w io.Writer) {
	if !PageTableDebug {
		return
	}
	kfmt.Fprintf(w, "page table %x\n", uint64(root))
	m.vmprint(root, 0, 2, w)
}

func (m *Machine) vmprint(table uintptr, va uintptr, level int, w io.Writer) {
	pw := &kfmt.PrefixWriter{Sink: w, Prefix: []byte(".. ")}

	for idx := uintptr(0); idx < 512; idx++ {
		pte := m.readPTE(table, idx)
		if !pte.HasFlags(PTEValid) {
			continue
		}

		entryVA := va | idx<<(12+9*level)
		kfmt.Fprintf(pw, "%x: pte %x pa %x\n", uint64(entryVA), uint64(pte), uint64(pte.PA()))

		if pte.IsLeaf() || level == 0 {
			continue
		}
		m.vmprint(pte.PA(), entryVA, level-1, pw)
	}
}

// PgPTE returns the raw PTE word mapping va in the page table rooted at
// root, or 0 if no mapping exists at any level. It never allocates and
// never panics on an unmapped address, unlike walk's allocating mode; it
// exists purely as a debug probe and is gated the same as VMPrint.
func (m *Machine) PgPTE(root uintptr, va uintptr) uint64 {
	if !PageTableDebug {
		return 0
	}
	pteAddr, _, err := m.walk(root, va, false, 0)
	if err != nil || pteAddr == 0 {
		return 0
	}
	return uint64(m.Mem.ReadUint64(pteAddr))
}
