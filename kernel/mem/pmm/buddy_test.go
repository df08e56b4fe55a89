package pmm

import (
	"sync"
	"testing"
	"unsafe"

	"funderberker/kernel/boot"
	"funderberker/kernel/mem"
)

// hhdmOnce installs a zero-offset (identity) HHDM exactly once for the whole
// test binary: mem.SetHHDMOffset panics on a second call, and since the
// offset is fixed at zero every test instead picks a PhysAddr equal to its
// own backing buffer's real address, so DirectMap round-trips to it.
var hhdmOnce sync.Once

// liveBuffers keeps every simulated-RAM slice reachable for the lifetime of
// the test binary; the buddy allocator only ever sees the raw address
// derived from it, so nothing else would otherwise keep the GC from
// reclaiming it out from under an in-progress test.
var liveBuffers [][]byte

// carveHHDM fakes a slice of RAM as a real Go-heap backed byte slice and
// returns the PhysAddr at which it is "located", so Init can carve its
// bookkeeping the same way it would over a bootloader-reported direct map.
// The buddy package itself never allocates from the Go heap at runtime; only
// the test harness does, to simulate RAM.
func carveHHDM(t *testing.T, size mem.Size) mem.PhysAddr {
	t.Helper()
	hhdmOnce.Do(func() { mem.SetHHDMOffset(0) })

	buf := make([]byte, size+mem.PageSize) // slack so the aligned base still fits
	liveBuffers = append(liveBuffers, buf)
	raw := uintptr(unsafe.Pointer(&buf[0]))
	pageSz := uintptr(mem.PageSize)
	aligned := (raw + pageSz - 1) &^ (pageSz - 1)
	return mem.PhysAddr(aligned)
}

func newTestBuddy(t *testing.T, totalFrames uint64) (*Buddy, mem.PhysAddr) {
	t.Helper()
	length := mem.Size(totalFrames) * mem.PageSize
	base := carveHHDM(t, length+4*mem.Mb) // headroom for zone table + node pool

	info := boot.Info{
		MemoryMap: []boot.MemoryMapEntry{
			{Base: base, Length: length, Kind: boot.Usable},
		},
	}

	b := &Buddy{}
	if err := b.Init(info); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	return b, base
}

func TestBuddyAllocateFree(t *testing.T) {
	b, _ := newTestBuddy(t, 256)

	addr, err := b.Allocate(1, 4)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if !addr.IsAligned(4 * mem.PageSize) {
		t.Fatalf("address 0x%x is not aligned to the rounded-up block size", addr)
	}
	if b.IsFree(addr, 4) {
		t.Fatal("freshly allocated block reported as free")
	}

	if err := b.Free(addr, 4); err != nil {
		t.Fatalf("Free failed: %v", err)
	}
	if !b.IsFree(addr, 4) {
		t.Fatal("freed block not reported as free")
	}
}

func TestBuddyAllocateRoundsUpToPowerOfTwo(t *testing.T) {
	b, _ := newTestBuddy(t, 256)

	addr, err := b.Allocate(1, 3)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	// 3 frames rounds up to 4; the whole 4-frame block must be unavailable.
	if b.IsFree(addr, 4) {
		t.Fatal("expected the rounded-up 4-frame block to be reserved")
	}
}

func TestBuddyAllocateRejectsZeroFrames(t *testing.T) {
	b, _ := newTestBuddy(t, 64)
	if _, err := b.Allocate(1, 0); err != ErrEmptyAllocation {
		t.Fatalf("expected ErrEmptyAllocation; got %v", err)
	}
}

func TestBuddyAllocateRejectsBadAlignment(t *testing.T) {
	b, _ := newTestBuddy(t, 64)
	if _, err := b.Allocate(3, 4); err != ErrInvalidAlignment {
		t.Fatalf("expected ErrInvalidAlignment; got %v", err)
	}
}

func TestBuddyAllocateAtRejectsMisalignedAddr(t *testing.T) {
	b, base := newTestBuddy(t, 64)
	if err := b.AllocateAt(base+mem.PhysAddr(mem.PageSize), 4); err != ErrInvalidAlignment {
		t.Fatalf("expected ErrInvalidAlignment; got %v", err)
	}
}

func TestBuddyAllocateAtExactBlock(t *testing.T) {
	b, base := newTestBuddy(t, 64)

	// A 4-frame block must start on a 16 KiB boundary; base is only page
	// aligned.
	target := (base + 8*mem.PhysAddr(mem.PageSize)).Align(4 * mem.PageSize)
	if err := b.AllocateAt(target, 4); err != nil {
		t.Fatalf("AllocateAt failed: %v", err)
	}
	if b.IsFree(target, 4) {
		t.Fatal("expected block to be reserved after AllocateAt")
	}

	if err := b.Free(target, 4); err != nil {
		t.Fatalf("Free after AllocateAt failed: %v", err)
	}
}

func TestBuddyFreeDetectsDoubleFree(t *testing.T) {
	b, _ := newTestBuddy(t, 64)

	addr, err := b.Allocate(1, 2)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if err := b.Free(addr, 2); err != nil {
		t.Fatalf("first Free failed: %v", err)
	}
	if err := b.Free(addr, 2); err != ErrFreeOfAlreadyFree {
		t.Fatalf("expected ErrFreeOfAlreadyFree; got %v", err)
	}
}

func TestBuddyCoalescesOnFree(t *testing.T) {
	b, _ := newTestBuddy(t, 64)

	// Drain the allocator down to single frames, then free them all back
	// in the same order. Coalescing should merge sibling buddies back
	// into their original larger blocks rather than leaving every frame
	// an isolated order-0 fragment.
	addrs := make([]mem.PhysAddr, 0, 64)
	for {
		addr, err := b.Allocate(1, 1)
		if err != nil {
			break
		}
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		t.Fatal("expected to drain at least one frame")
	}

	for _, addr := range addrs {
		if err := b.Free(addr, 1); err != nil {
			t.Fatalf("Free(0x%x) failed: %v", addr, err)
		}
	}

	for _, addr := range addrs {
		if !b.IsFree(addr, 1) {
			t.Fatalf("frame 0x%x not reported free after Free", addr)
		}
	}

	// Capacity must be unchanged: draining one frame at a time again
	// should succeed exactly as many times as before.
	redrained := 0
	for {
		if _, err := b.Allocate(1, 1); err != nil {
			break
		}
		redrained++
	}
	if redrained != len(addrs) {
		t.Fatalf("expected to redrain %d frames after coalescing; got %d", len(addrs), redrained)
	}
}

func TestBuddyOutOfMemory(t *testing.T) {
	b := &Buddy{}
	err := b.Init(boot.Info{})
	if err != ErrOutOfMemory {
		t.Fatalf("expected ErrOutOfMemory for an empty memory map; got %v", err)
	}
}
