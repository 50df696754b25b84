package vmm

import (
	"testing"

	"sv39kernel/kernel/mem"
)

func TestMapPagesRoundtrip(t *testing.T) {
	m, root, release := newTestMachine(t, 0, 8)
	defer release()

	pa, aerr := m.PA.AllocPage()
	if aerr != nil {
		t.Fatalf("AllocPage: %v", aerr)
	}

	if err := m.MapPages(root, 0x1000, uintptr(mem.PageSize), uintptr(pa), PTERead|PTEWrite|PTEUser); err != nil {
		t.Fatalf("MapPages: %v", err)
	}

	if got := m.WalkAddr(root, 0x1000); got != uintptr(pa) {
		t.Fatalf("WalkAddr = %#x, want %#x", got, uintptr(pa))
	}
}

func TestMapPagesRejectsRemap(t *testing.T) {
	m, root, release := newTestMachine(t, 0, 8)
	defer release()

	pa, _ := m.PA.AllocPage()
	if err := m.MapPages(root, 0x2000, uintptr(mem.PageSize), uintptr(pa), PTERead|PTEUser); err != nil {
		t.Fatalf("first MapPages: %v", err)
	}

	pa2, _ := m.PA.AllocPage()
	defer func() {
		if recover() == nil {
			t.Fatal("expected MapPages to panic on remap over a valid PTE")
		}
	}()
	m.MapPages(root, 0x2000, uintptr(mem.PageSize), uintptr(pa2), PTERead|PTEUser)
}

func TestMapSuperpages(t *testing.T) {
	m, root, release := newTestMachine(t, 1, 4)
	defer release()

	super, aerr := m.PA.AllocSuper()
	if aerr != nil {
		t.Fatalf("AllocSuper: %v", aerr)
	}

	if err := m.MapSuperpages(root, 0, uintptr(mem.SuperPageSize), uintptr(super), PTERead|PTEWrite|PTEUser); err != nil {
		t.Fatalf("MapSuperpages: %v", err)
	}

	if got := m.WalkAddr(root, 0x1000); got != uintptr(super)+0x1000 {
		t.Fatalf("WalkAddr inside superpage = %#x, want %#x", got, uintptr(super)+0x1000)
	}
}

func TestMapPagesOutOfMemoryLeavesPrefixInstalled(t *testing.T) {
	// Only enough base pages for the root table, the two intermediate
	// tables under va 0, and one data page: the second MapPages call must
	// fail to allocate its table, leaving the first mapping installed.
	m, root, release := newTestMachine(t, 0, 4)
	defer release()

	pa1, err := m.PA.AllocPage()
	if err != nil {
		t.Fatalf("AllocPage: %v", err)
	}
	if merr := m.MapPages(root, 0, uintptr(mem.PageSize), uintptr(pa1), PTERead|PTEUser); merr != nil {
		t.Fatalf("MapPages: %v", merr)
	}

	// Drain whatever remains so the next MapPages call cannot allocate
	// the level-0 table it needs.
	for {
		if _, err := m.PA.AllocPage(); err != nil {
			break
		}
	}

	merr := m.MapPages(root, uintptr(mem.SuperPageSize)*4, uintptr(mem.PageSize), 0x1000, PTERead|PTEUser)
	if merr == nil {
		t.Fatal("expected MapPages to fail once PA is drained")
	}

	if got := m.WalkAddr(root, 0); got != uintptr(pa1) {
		t.Fatalf("earlier mapping was disturbed: WalkAddr(0) = %#x, want %#x", got, uintptr(pa1))
	}
}
