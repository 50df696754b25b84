package pmm

import (
	"testing"

	"sv39kernel/kernel/mem"
	"sv39kernel/kernel/mem/physmem"
)

// newTestAllocator reserves a region large enough for a handful of
// superpages plus some base pages and initializes an Allocator over it. The
// region is over-reserved by one superpage so that the managed range can
// start on a 2 MiB boundary; Init would otherwise skip the unaligned head.
// The caller must call the returned release func.
func newTestAllocator(t *testing.T, superpages int, extraBasePages int) (*Allocator, func()) {
	t.Helper()

	size := superpages*int(mem.SuperPageSize) + extraBasePages*int(mem.PageSize)
	region, err := physmem.Reserve(size + int(mem.SuperPageSize))
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	start := roundUp(PhysAddr(region.Base()), PhysAddr(mem.SuperPageSize))
	a := &Allocator{}
	a.Init(region, start, start+PhysAddr(size))
	return a, region.Release
}

func TestInitAccounting(t *testing.T) {
	a, release := newTestAllocator(t, 3, 5)
	defer release()

	if got := a.SuperFreeCount(); got != 3 {
		t.Fatalf("SuperFreeCount = %d, want 3", got)
	}
	if got := a.BaseFreeCount(); got != 5 {
		t.Fatalf("BaseFreeCount = %d, want 5", got)
	}
}

func TestAllocFreePage(t *testing.T) {
	a, release := newTestAllocator(t, 0, 2)
	defer release()

	p1, err := a.AllocPage()
	if err != nil {
		t.Fatalf("AllocPage: %v", err)
	}
	p2, err := a.AllocPage()
	if err != nil {
		t.Fatalf("AllocPage: %v", err)
	}
	if p1 == p2 {
		t.Fatal("AllocPage returned the same page twice")
	}

	if _, err := a.AllocPage(); err != errOOMBase {
		t.Fatalf("expected errOOMBase, got %v", err)
	}

	a.FreePage(p1)
	if got := a.BaseFreeCount(); got != 1 {
		t.Fatalf("BaseFreeCount after one free = %d, want 1", got)
	}

	p3, err := a.AllocPage()
	if err != nil {
		t.Fatalf("AllocPage after free: %v", err)
	}
	if p3 != p1 {
		t.Fatalf("expected freed page %#x to be reused, got %#x", p1, p3)
	}
}

func TestAllocFreeSuperpage(t *testing.T) {
	a, release := newTestAllocator(t, 2, 0)
	defer release()

	s1, err := a.AllocSuper()
	if err != nil {
		t.Fatalf("AllocSuper: %v", err)
	}
	if uintptr(s1)%uintptr(mem.SuperPageSize) != 0 {
		t.Fatalf("superpage %#x is not 2 MiB aligned", s1)
	}

	s2, err := a.AllocSuper()
	if err != nil {
		t.Fatalf("AllocSuper: %v", err)
	}

	if _, err := a.AllocSuper(); err != errOOMSuper {
		t.Fatalf("expected errOOMSuper, got %v", err)
	}

	a.FreeSuper(s2)
	s3, err := a.AllocSuper()
	if err != nil {
		t.Fatalf("AllocSuper after free: %v", err)
	}
	if s3 != s2 {
		t.Fatalf("expected freed superpage %#x to be reused, got %#x", s2, s3)
	}

	_ = s1
}

func TestAllocPageIsScrubbed(t *testing.T) {
	a, release := newTestAllocator(t, 0, 1)
	defer release()

	p, err := a.AllocPage()
	if err != nil {
		t.Fatalf("AllocPage: %v", err)
	}

	region := physmem.Active()
	buf := make([]byte, mem.PageSize)
	region.CopyOut(buf, uintptr(p))
	for i, b := range buf {
		if b != scrubAllocated {
			t.Fatalf("byte %d of freshly allocated page = %#x, want %#x", i, b, scrubAllocated)
		}
	}
}

func TestFreePageRejectsMisalignedAddress(t *testing.T) {
	a, release := newTestAllocator(t, 0, 1)
	defer release()

	defer func() {
		if recover() == nil {
			t.Fatal("expected FreePage to panic on a misaligned address")
		}
	}()
	a.FreePage(PhysAddr(physmem.Active().Base() + 1))
}

func TestSuperpoolExhaustionIsIndependentOfBasePool(t *testing.T) {
	a, release := newTestAllocator(t, 0, 4)
	defer release()

	if _, err := a.AllocSuper(); err != errOOMSuper {
		t.Fatalf("expected errOOMSuper when no superpages were carved, got %v", err)
	}

	if _, err := a.AllocPage(); err != nil {
		t.Fatalf("base pool should still be usable after superpage exhaustion: %v", err)
	}
}
