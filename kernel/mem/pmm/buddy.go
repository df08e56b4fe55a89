// Package pmm implements the buddy physical frame allocator: the leaf
// component of the memory core that owns every usable RAM frame reported by
// the bootloader (spec.md §4.1).
package pmm

import (
	"math/bits"
	"unsafe"

	"funderberker/kernel"
	"funderberker/kernel/boot"
	"funderberker/kernel/kfmt/early"
	"funderberker/kernel/mem"
	ksync "funderberker/kernel/sync"
)

// Buddy is a buddy physical frame allocator. The zero value is not usable;
// call Init with the bootloader memory map first.
type Buddy struct {
	lock ksync.IRQSpinlock

	// zones[k] is the head of the free list for blocks of 2^k frames.
	zones []*node

	nodes nodePool

	maxOrder mem.PageOrder
}

// isPow2 reports whether v is a non-zero power of two.
func isPow2(v uint64) bool {
	return v != 0 && v&(v-1) == 0
}

// nextPow2 rounds v up to the next power of two. nextPow2(0) is defined as 1.
func nextPow2(v uint64) uint64 {
	if v <= 1 {
		return 1
	}
	return uint64(1) << uint(bits.Len64(v-1))
}

// prevPow2 rounds v down to the largest power of two <= v. prevPow2(0) is 0.
func prevPow2(v uint64) uint64 {
	if v == 0 {
		return 0
	}
	return uint64(1) << uint(bits.Len64(v)-1)
}

// lowBit returns the value of the lowest set bit of v (v's alignment), or 0
// for v == 0.
func lowBit(v uint64) uint64 {
	if v == 0 {
		return 0
	}
	return v & (-v)
}

// log2 returns floor(log2(v)) for a power-of-two v (the caller is
// responsible for rounding up first).
func log2(v uint64) mem.PageOrder {
	return mem.PageOrder(bits.TrailingZeros64(v))
}

// blockSize returns the byte size of a block of the given order.
func blockSize(order mem.PageOrder) mem.PhysAddr {
	return mem.PhysAddr(order.Size())
}

// popHead removes and returns the head of zones[order], or ok=false if the
// list is empty.
func (b *Buddy) popHead(order mem.PageOrder) (addr mem.PhysAddr, ok bool) {
	n := b.zones[order]
	if n == nil {
		return 0, false
	}
	b.zones[order] = n.next
	addr = n.addr
	b.nodes.put(n)
	return addr, true
}

// popAligned scans zones[order] for the first block aligned to alignBytes,
// unlinks it and returns its address.
func (b *Buddy) popAligned(order mem.PageOrder, alignBytes mem.PhysAddr) (addr mem.PhysAddr, ok bool) {
	var prev *node
	for n := b.zones[order]; n != nil; prev, n = n, n.next {
		if n.addr%alignBytes != 0 {
			continue
		}

		if prev == nil {
			b.zones[order] = n.next
		} else {
			prev.next = n.next
		}
		addr = n.addr
		b.nodes.put(n)
		return addr, true
	}
	return 0, false
}

// removeExact unlinks addr from zones[order] if present.
func (b *Buddy) removeExact(order mem.PageOrder, addr mem.PhysAddr) bool {
	var prev *node
	for n := b.zones[order]; n != nil; prev, n = n, n.next {
		if n.addr != addr {
			continue
		}
		if prev == nil {
			b.zones[order] = n.next
		} else {
			prev.next = n.next
		}
		b.nodes.put(n)
		return true
	}
	return false
}

// containsExact reports whether addr is present (exactly) in zones[order].
func (b *Buddy) containsExact(order mem.PageOrder, addr mem.PhysAddr) bool {
	for n := b.zones[order]; n != nil; n = n.next {
		if n.addr == addr {
			return true
		}
	}
	return false
}

// push inserts addr into zones[order], consuming one node from the pool.
func (b *Buddy) push(order mem.PageOrder, addr mem.PhysAddr) *kernel.Error {
	n := b.nodes.get()
	if n == nil {
		return ErrNoAvailableBlock
	}
	n.addr = addr
	n.next = b.zones[order]
	b.zones[order] = n
	return nil
}

// Allocate reserves a block of frameCount frames (rounded up to the next
// power of two) whose address is a multiple of alignmentInFrames frames.
func (b *Buddy) Allocate(alignmentInFrames, frameCount uint64) (mem.PhysAddr, *kernel.Error) {
	if frameCount == 0 {
		return 0, ErrEmptyAllocation
	}
	if alignmentInFrames == 0 || !isPow2(alignmentInFrames) {
		return 0, ErrInvalidAlignment
	}

	rounded := nextPow2(frameCount)
	k := log2(rounded)
	alignBytes := mem.PhysAddr(alignmentInFrames) * mem.PhysAddr(mem.PageSize)

	b.lock.Acquire()
	defer b.lock.Release()

	if k > b.maxOrder {
		return 0, ErrNoAvailableBlock
	}

	for j := k; j <= b.maxOrder; j++ {
		addr, ok := b.popAligned(j, alignBytes)
		if !ok {
			continue
		}

		current := addr
		size := blockSize(j)
		for order := j; order > k; order-- {
			half := size / 2
			upper := current + half
			if err := b.push(order-1, upper); err != nil {
				return 0, err
			}
			size = half
		}
		return current, nil
	}

	return 0, ErrNoAvailableBlock
}

// AllocateAt reserves the frameCount-frame (rounded up to a power of two)
// block that starts exactly at addr.
func (b *Buddy) AllocateAt(addr mem.PhysAddr, frameCount uint64) *kernel.Error {
	if frameCount == 0 {
		return ErrEmptyAllocation
	}

	rounded := nextPow2(frameCount)
	k := log2(rounded)
	alignBytes := blockSize(k)
	if addr%alignBytes != 0 {
		return ErrInvalidAlignment
	}

	b.lock.Acquire()
	defer b.lock.Release()

	if k > b.maxOrder {
		return ErrNoAvailableBlock
	}

	for order := k; order <= b.maxOrder; order++ {
		size := blockSize(order)
		containing := addr &^ (size - 1)
		if !b.removeExact(order, containing) {
			continue
		}

		current := containing
		for o := order; o > k; o-- {
			half := size / 2
			lower, upper := current, current+half
			var keep, give mem.PhysAddr
			if addr < current+half {
				keep, give = lower, upper
			} else {
				keep, give = upper, lower
			}
			if err := b.push(o-1, give); err != nil {
				return err
			}
			current = keep
			size = half
		}
		return nil
	}

	return ErrNoAvailableBlock
}

// isFreeContaining reports whether a free block at or above order k already
// covers addr.
func (b *Buddy) isFreeContaining(addr mem.PhysAddr, k mem.PageOrder) bool {
	for order := k; order <= b.maxOrder; order++ {
		size := blockSize(order)
		containing := addr &^ (size - 1)
		if b.containsExact(order, containing) {
			return true
		}
	}
	return false
}

// IsFree reports whether every frame in [addr, addr+frameCount*PageSize) is
// currently free.
func (b *Buddy) IsFree(addr mem.PhysAddr, frameCount uint64) bool {
	if frameCount == 0 {
		return false
	}
	k := log2(nextPow2(frameCount))

	b.lock.Acquire()
	defer b.lock.Release()
	return b.isFreeContaining(addr, k)
}

// Free releases a previously allocated block back to the allocator,
// coalescing with its buddy whenever possible.
func (b *Buddy) Free(addr mem.PhysAddr, frameCount uint64) *kernel.Error {
	if frameCount == 0 {
		return ErrEmptyFree
	}

	rounded := nextPow2(frameCount)
	k := log2(rounded)
	alignBytes := blockSize(k)
	if addr%alignBytes != 0 {
		return ErrInvalidAlignment
	}

	b.lock.Acquire()
	defer b.lock.Release()

	if k > b.maxOrder {
		return ErrInvalidAlignment
	}

	if b.isFreeContaining(addr, k) {
		return ErrFreeOfAlreadyFree
	}

	current := addr
	for order := k; order < b.maxOrder; order++ {
		size := blockSize(order)
		buddyAddr := current ^ size

		if !b.removeExact(order, buddyAddr) {
			return b.push(order, current)
		}

		if buddyAddr < current {
			current = buddyAddr
		}
	}

	return b.push(b.maxOrder, current)
}

// addRegion decomposes the half-open frame range [baseFrame, endFrame) into
// the largest aligned power-of-two blocks that fit (spec.md §4.1 bootstrap
// decomposition) and pushes each onto its zone.
func (b *Buddy) addRegion(baseFrame, endFrame uint64) *kernel.Error {
	for baseFrame < endFrame {
		avail := endFrame - baseFrame
		sz := prevPow2(avail)
		if baseFrame != 0 {
			if align := lowBit(baseFrame); align < sz {
				sz = align
			}
		}

		order := log2(sz)
		if order > b.maxOrder {
			order = b.maxOrder
			sz = uint64(1) << uint(b.maxOrder)
		}

		addr := mem.PhysAddr(baseFrame * uint64(mem.PageSize))
		if err := b.push(order, addr); err != nil {
			return err
		}
		baseFrame += sz
	}
	return nil
}

// Init bootstraps the allocator from the bootloader-supplied memory map. It
// must run exactly once, before any other package touches physical memory,
// and carves its own bookkeeping (the zone table and the node pool) out of
// the memory map itself via the HHDM rather than the kernel heap, which does
// not exist yet (spec.md §4.1, §6, §9).
func (b *Buddy) Init(info boot.Info) *kernel.Error {
	var totalFrames, maxEntryFrames uint64
	for _, e := range info.MemoryMap {
		if e.Kind != boot.Usable {
			continue
		}
		frames := uint64(e.Length) / uint64(mem.PageSize)
		totalFrames += frames
		if frames > maxEntryFrames {
			maxEntryFrames = frames
		}
	}
	if totalFrames == 0 {
		return ErrOutOfMemory
	}

	b.maxOrder = log2(nextPow2(maxEntryFrames))

	// The node pool must be able to hold every frame as a standalone
	// order-0 entry plus the buddies produced while the allocator splits
	// blocks down to service a run of small allocations; doubling the
	// usable frame count covers the bootstrap decomposition and leaves
	// comfortable headroom for steady-state churn.
	nodeCount := totalFrames*2 + 64

	zoneCount := int(b.maxOrder) + 1
	zoneBytes := uint64(zoneCount) * uint64(unsafe.Sizeof((*node)(nil)))
	nodeBytes := nodeCount * uint64(unsafe.Sizeof(node{}))

	pageSz := uint64(mem.PageSize)
	required := ((zoneBytes + nodeBytes) + pageSz - 1) / pageSz * pageSz

	var carveEntry boot.MemoryMapEntry
	found := false
	for _, e := range info.MemoryMap {
		if e.Kind == boot.Usable && uint64(e.Length) >= required {
			carveEntry = e
			found = true
			break
		}
	}
	if !found {
		return ErrOutOfMemory
	}

	base := uintptr(mem.DirectMap(carveEntry.Base))
	zones := unsafe.Slice((**node)(unsafe.Pointer(base)), zoneCount)
	for i := range zones {
		zones[i] = nil
	}
	b.zones = zones

	storage := unsafe.Slice((*node)(unsafe.Pointer(base+uintptr(zoneBytes))), int(nodeCount))
	b.nodes.init(storage)

	consumedEndFrame := uint64(carveEntry.Base)/pageSz + required/pageSz

	for _, e := range info.MemoryMap {
		if e.Kind != boot.Usable {
			continue
		}

		startFrame := uint64(e.Base) / pageSz
		endFrame := uint64(e.End()) / pageSz
		if e.Base == carveEntry.Base && e.Length == carveEntry.Length {
			startFrame = consumedEndFrame
		}
		if startFrame >= endFrame {
			continue
		}
		if err := b.addRegion(startFrame, endFrame); err != nil {
			return err
		}
	}

	early.Printf("pmm: %d usable frames, max order %d, bootstrap carved from 0x%x (%d bytes)\n",
		totalFrames, uint8(b.maxOrder), uint64(carveEntry.Base), required)

	return nil
}
