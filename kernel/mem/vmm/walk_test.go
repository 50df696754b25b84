package vmm

import (
	"testing"

	"sv39kernel/kernel/mem"
	"sv39kernel/kernel/mem/physmem"
	"sv39kernel/kernel/mem/pmm"
)

func newTestMachine(t *testing.T, superpages, basePages int) (*Machine, uintptr, func()) {
	t.Helper()

	// Over-reserve by one superpage so the managed range can start on a
	// 2 MiB boundary; Init would otherwise skip the unaligned head.
	size := superpages*int(mem.SuperPageSize) + basePages*int(mem.PageSize)
	region, err := physmem.Reserve(size + int(mem.SuperPageSize))
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	start := superRoundUp(region.Base())
	alloc := &pmm.Allocator{}
	alloc.Init(region, pmm.PhysAddr(start), pmm.PhysAddr(start+uintptr(size)))

	m := &Machine{Mem: region, PA: alloc}

	root, aerr := alloc.AllocPage()
	if aerr != nil {
		t.Fatalf("AllocPage for root: %v", aerr)
	}
	region.Zero(uintptr(root), uintptr(mem.PageSize))

	return m, uintptr(root), region.Release
}

func TestWalkAllocatesIntermediateTables(t *testing.T) {
	m, root, release := newTestMachine(t, 0, 16)
	defer release()

	pteAddr, level, err := m.walk(root, 0x401000, true, 0)
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	if level != 0 {
		t.Fatalf("level = %d, want 0", level)
	}
	if pteAddr == 0 {
		t.Fatal("expected a non-zero PTE address")
	}
}

func TestWalkNonAllocatingMissReturnsZero(t *testing.T) {
	m, root, release := newTestMachine(t, 0, 4)
	defer release()

	pteAddr, _, err := m.walk(root, 0x401000, false, 0)
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	if pteAddr != 0 {
		t.Fatal("expected a miss on an unpopulated table")
	}
}

func TestWalkStopsAtSuperpageLeafEvenAtLevel0(t *testing.T) {
	m, root, release := newTestMachine(t, 1, 4)
	defer release()

	super, aerr := m.PA.AllocSuper()
	if aerr != nil {
		t.Fatalf("AllocSuper: %v", aerr)
	}

	l1Addr, _, err := m.walk(root, 0, true, 1)
	if err != nil {
		t.Fatalf("walk to level 1: %v", err)
	}
	leaf := PA2PTE(uintptr(super))
	leaf.SetFlags(PTEValid | PTERead | PTEWrite | PTEUser)
	m.Mem.WriteUint64(l1Addr, uint64(leaf))

	pteAddr, level, err := m.walk(root, 0x1000, false, 0)
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	if pteAddr != l1Addr {
		t.Fatalf("expected walk to short-circuit at the level-1 leaf, got %#x want %#x", pteAddr, l1Addr)
	}
	if level != 1 {
		t.Fatalf("level = %d, want 1", level)
	}
}

func TestWalkPanicsOnAddressAboveMaxVA(t *testing.T) {
	m, root, release := newTestMachine(t, 0, 4)
	defer release()

	defer func() {
		if recover() == nil {
			t.Fatal("expected walk to panic for va >= MaxVA")
		}
	}()
	m.walk(root, mem.MaxVA, false, 0)
}
