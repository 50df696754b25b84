package vmm

import (
	"testing"

	"sv39kernel/kernel/cpu"
	"sv39kernel/kernel/mem"
)

func TestKvmMakeInstallsEveryRegion(t *testing.T) {
	m, _, release := newTestMachine(t, 0, 16)
	defer release()

	trampolinePA, aerr := m.PA.AllocPage()
	if aerr != nil {
		t.Fatalf("AllocPage for trampoline: %v", aerr)
	}

	kernText := uintptr(mem.KernBase + 0x100000)
	kernData := kernText + 0x100000
	paEnd := kernData + 0x100000

	root, err := m.KvmMake(kernText, kernData, paEnd, uintptr(trampolinePA))
	if err != nil {
		t.Fatalf("KvmMake: %v", err)
	}
	if root == 0 {
		t.Fatal("expected a non-zero kernel root")
	}

	checks := []struct {
		name string
		va   uintptr
		want PTEFlag
	}{
		{"uart", mem.UART0, PTERead | PTEWrite},
		{"virtio", mem.VIRTIO0, PTERead | PTEWrite},
		{"plic", mem.PLIC, PTERead | PTEWrite},
		{"kernel text", mem.KernBase, PTERead | PTEExec},
		{"kernel data", kernText, PTERead | PTEWrite},
		{"free ram", kernData, PTERead | PTEWrite},
		{"trampoline", mem.Trampoline, PTERead | PTEExec},
	}

	for _, c := range checks {
		pteAddr, level, werr := m.walk(root, c.va, false, 0)
		if werr != nil {
			t.Fatalf("%s: walk error: %v", c.name, werr)
		}
		if pteAddr == 0 {
			t.Fatalf("%s: expected a mapping at %#x", c.name, c.va)
		}
		pte := PTE(m.Mem.ReadUint64(pteAddr))
		if !pte.HasFlags(PTEValid | c.want) {
			t.Fatalf("%s: flags = %#x, want at least %#x", c.name, pte.Flags(), c.want)
		}
		if pte.HasFlags(PTEUser) {
			t.Fatalf("%s: kernel mapping must not carry PTEUser", c.name)
		}
		_ = level
	}
}

func TestKvmInitHartSwitchesPageTable(t *testing.T) {
	m, _, release := newTestMachine(t, 0, 16)
	defer release()

	trampolinePA, _ := m.PA.AllocPage()
	kernText := uintptr(mem.KernBase + 0x100000)
	kernData := kernText + 0x100000
	paEnd := kernData + 0x100000

	root, err := m.KvmInit(kernText, kernData, paEnd, uintptr(trampolinePA))
	if err != nil {
		t.Fatalf("KvmInit: %v", err)
	}

	KvmInitHart(root)
	if got := cpu.ActiveSATP(); got != cpu.MakeSATP(root) {
		t.Fatalf("ActiveSATP = %#x, want %#x", got, cpu.MakeSATP(root))
	}
}

func TestProcMapStacksGuardsEachStack(t *testing.T) {
	m, kroot, release := newTestMachine(t, 0, 8)
	defer release()

	s1, _ := m.PA.AllocPage()
	s2, _ := m.PA.AllocPage()

	if err := m.ProcMapStacks(kroot, []uintptr{uintptr(s1), uintptr(s2)}); err != nil {
		t.Fatalf("ProcMapStacks: %v", err)
	}

	va0 := mem.Trampoline - 2*uintptr(mem.PageSize)
	guard := mem.Trampoline - 3*uintptr(mem.PageSize)
	va1 := mem.Trampoline - 4*uintptr(mem.PageSize)
	if pteAddr, _, _ := m.walk(kroot, va0, false, 0); pteAddr == 0 {
		t.Fatal("expected stack 0 to be mapped")
	}
	if pteAddr, _, _ := m.walk(kroot, guard, false, 0); pteAddr != 0 && PTE(m.Mem.ReadUint64(pteAddr)).HasFlags(PTEValid) {
		t.Fatal("expected the guard page below stack 0 to be unmapped")
	}
	if pteAddr, _, _ := m.walk(kroot, va1, false, 0); pteAddr == 0 {
		t.Fatal("expected stack 1 to be mapped")
	}
}
