// Package vmm is the paging facade (spec.md §4.4): it composes the buddy
// physical allocator, the virtual-address arena, and the page-table engine
// into the four operations the rest of the kernel actually calls.
package vmm

import (
	"funderberker/kernel"
	"funderberker/kernel/mem"
	"funderberker/kernel/mem/paging"
	"funderberker/kernel/mem/pmm"
	"funderberker/kernel/mem/vaa"
)

// Facade composes frame supply, virtual-range supply, and table edits. It
// holds no lock of its own: the PMM, the arena and the engine each take
// their own lock, so the steps of one facade call are not atomic with
// respect to a concurrent caller.
type Facade struct {
	frames *pmm.Buddy
	arena  *vaa.Arena
	engine *paging.Engine
}

// New wires together an already-initialized PMM, VAA, and page-table
// engine into one facade.
func New(frames *pmm.Buddy, arena *vaa.Arena, engine *paging.Engine) *Facade {
	return &Facade{frames: frames, arena: arena, engine: engine}
}

// AllocatePages hands out count*size.Bytes() bytes of virtual range from
// the arena, backed by one physically contiguous block from the PMM, mapped
// with the allocated bit set so FreePages knows to return the frames. The
// frames the PMM adds when rounding the block up to a power of two are
// returned to it straight away.
func (f *Facade) AllocatePages(count int, flags paging.Flags, size PageSize) (mem.VirtAddr, *kernel.Error) {
	ps := toPagingSize(size)
	if count <= 0 {
		return 0, paging.ErrBadPageCountAndAddressCombination
	}

	length := mem.Size(count) * ps.Bytes()
	virt, err := f.arena.Reserve(length, ps.Bytes())
	if err != nil {
		return 0, err
	}

	frameCount := uint64(count) * (uint64(ps.Bytes()) / uint64(mem.PageSize))
	// Alignment is independent of the (possibly non-power-of-two) raw
	// frame count: Buddy.Allocate always hands back a block naturally
	// aligned to the rounded-up size, so requesting 1-frame alignment is
	// sufficient and, unlike frameCount itself, never rejected as an
	// invalid (non-power-of-two) alignment.
	phys, err := f.frames.Allocate(1, frameCount)
	if err != nil {
		return 0, err
	}

	if err := f.engine.Map(virt, phys, count, ps, flags|paging.FlagAllocated); err != nil {
		_ = f.frames.Free(phys, frameCount)
		return 0, err
	}

	// Unmap only frees the frames it unmaps, so give back the tail of the
	// rounded-up block here, in aligned power-of-two pieces.
	rounded := uint64(1)
	for rounded < frameCount {
		rounded <<= 1
	}
	for start := frameCount; start < rounded; start += start & -start {
		tail := phys + mem.PhysAddr(start)*mem.PhysAddr(mem.PageSize)
		_ = f.frames.Free(tail, start&-start)
	}

	return virt, nil
}

// FreePages unmaps count pages of the given size starting at virt,
// returning their backing frames to the PMM (done implicitly by Unmap via
// the allocated bit).
func (f *Facade) FreePages(virt mem.VirtAddr, count int, size PageSize) *kernel.Error {
	return f.engine.Unmap(virt, count, toPagingSize(size))
}

// MapPages maps count caller-supplied physical pages at a fresh virtual
// range from the arena, without the allocated bit — used for MMIO, where
// the frame is not PMM-owned and must never be freed by an unmap.
func (f *Facade) MapPages(phys mem.PhysAddr, count int, flags paging.Flags, size PageSize) (mem.VirtAddr, *kernel.Error) {
	ps := toPagingSize(size)
	if count <= 0 {
		return 0, paging.ErrBadPageCountAndAddressCombination
	}

	length := mem.Size(count) * ps.Bytes()
	virt, err := f.arena.Reserve(length, ps.Bytes())
	if err != nil {
		return 0, err
	}

	if err := f.engine.Map(virt, phys, count, ps, flags); err != nil {
		return 0, err
	}
	return virt, nil
}

// Translate resolves a virtual address to the physical address it
// currently maps to.
func (f *Facade) Translate(virt mem.VirtAddr) (mem.PhysAddr, *kernel.Error) {
	return f.engine.Translate(virt)
}

// PageSize mirrors paging.PageSize at the facade boundary so callers of
// this package need not import paging directly for the common case.
type PageSize = paging.PageSize

const (
	// Page4K is PageSize(paging.Size4K).
	Page4K = paging.Size4K
	// Page2M is PageSize(paging.Size2M).
	Page2M = paging.Size2M
	// Page1G is PageSize(paging.Size1G).
	Page1G = paging.Size1G
)

func toPagingSize(s PageSize) paging.PageSize {
	return paging.PageSize(s)
}
