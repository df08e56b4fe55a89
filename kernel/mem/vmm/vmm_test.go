package vmm

import (
	"sync"
	"testing"
	"unsafe"

	"funderberker/kernel/boot"
	"funderberker/kernel/mem"
	"funderberker/kernel/mem/paging"
	"funderberker/kernel/mem/pmm"
	"funderberker/kernel/mem/vaa"
)

var hhdmOnce sync.Once
var liveBuffers [][]byte

func carveRAM(t *testing.T, size mem.Size) mem.PhysAddr {
	t.Helper()
	hhdmOnce.Do(func() { mem.SetHHDMOffset(0) })

	buf := make([]byte, size+mem.PageSize)
	liveBuffers = append(liveBuffers, buf)
	raw := uintptr(unsafe.Pointer(&buf[0]))
	pageSz := uintptr(mem.PageSize)
	aligned := (raw + pageSz - 1) &^ (pageSz - 1)
	return mem.PhysAddr(aligned)
}

func newTestFacade(t *testing.T, frameCount uint64) *Facade {
	t.Helper()
	length := mem.Size(frameCount) * mem.PageSize
	base := carveRAM(t, length+4*mem.Mb)

	b := &pmm.Buddy{}
	info := boot.Info{MemoryMap: []boot.MemoryMapEntry{{Base: base, Length: length, Kind: boot.Usable}}}
	if err := b.Init(info); err != nil {
		t.Fatalf("pmm Init failed: %v", err)
	}

	root, err := b.Allocate(1, 1)
	if err != nil {
		t.Fatalf("failed to allocate root table: %v", err)
	}

	engine := paging.NewEngine(root, b)

	var arena vaa.Arena
	arena.Init(mem.VirtAddr(0x0000_7f00_0000_0000), 1*mem.Gb)

	return New(b, &arena, engine)
}

func TestAllocatePagesFreePages(t *testing.T) {
	f := newTestFacade(t, 4096)

	virt, err := f.AllocatePages(4, paging.FlagWritable, Page4K)
	if err != nil {
		t.Fatalf("AllocatePages failed: %v", err)
	}

	phys, err := f.Translate(virt)
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}
	if !phys.IsAligned(4 * mem.PageSize) {
		t.Fatalf("expected backing block aligned to 4 pages; got 0x%x", phys)
	}

	if err := f.FreePages(virt, 4, Page4K); err != nil {
		t.Fatalf("FreePages failed: %v", err)
	}
	if !f.frames.IsFree(phys, 4) {
		t.Fatal("expected frames to be returned to the PMM after FreePages")
	}
}

func TestMapPagesDoesNotFreeCallerFrame(t *testing.T) {
	f := newTestFacade(t, 4096)

	phys, err := f.frames.Allocate(1, 1)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}

	virt, err := f.MapPages(phys, 1, paging.FlagWritable, Page4K)
	if err != nil {
		t.Fatalf("MapPages failed: %v", err)
	}

	if err := f.FreePages(virt, 1, Page4K); err != nil {
		t.Fatalf("FreePages failed: %v", err)
	}
	if f.frames.IsFree(phys, 1) {
		t.Fatal("MapPages frame must not be freed automatically by FreePages")
	}

	if err := f.frames.Free(phys, 1); err != nil {
		t.Fatalf("manual Free failed: %v", err)
	}
}
