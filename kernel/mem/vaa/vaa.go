// Package vaa implements a monotonic bump allocator over a large unused
// virtual-address window (spec.md §4.3), generalizing the bump-pointer
// idiom behind gopher-os's EarlyReserveRegion to a general-purpose,
// non-recycling virtual address source for allocate_pages-style APIs.
package vaa

import (
	"funderberker/kernel"
	ksync "funderberker/kernel/sync"

	"funderberker/kernel/mem"
)

var (
	// ErrExhausted is returned when the arena's window has been fully
	// consumed.
	ErrExhausted = &kernel.Error{Module: "vaa", Message: "virtual address arena exhausted"}
	// ErrEmptyReservation is returned for a zero-byte reservation request.
	ErrEmptyReservation = &kernel.Error{Module: "vaa", Message: "cannot reserve zero bytes"}
)

// Arena hands out non-overlapping virtual ranges from a fixed window by
// bumping a cursor forward; it never reclaims a released range (spec.md
// §4.3 — sufficient given the size of the 48-bit address space relative to
// typical kernel lifetimes).
type Arena struct {
	lock ksync.IRQSpinlock

	base mem.VirtAddr
	end  mem.VirtAddr
	next mem.VirtAddr
}

// Init configures the arena to hand out addresses from [base, base+length).
func (a *Arena) Init(base mem.VirtAddr, length mem.Size) {
	a.base = base
	a.end = base + mem.VirtAddr(length)
	a.next = base
}

// Reserve bumps the cursor forward to the next address aligned to align and
// returns a length-byte range, or ErrExhausted if the window has no more
// room.
func (a *Arena) Reserve(length mem.Size, align mem.Size) (mem.VirtAddr, *kernel.Error) {
	if length == 0 {
		return 0, ErrEmptyReservation
	}
	if align == 0 {
		align = mem.PageSize
	}

	a.lock.Acquire()
	defer a.lock.Release()

	aligned := alignUp(a.next, align)
	if aligned > a.end || uint64(a.end-aligned) < uint64(length) {
		return 0, ErrExhausted
	}

	a.next = aligned + mem.VirtAddr(length)
	return aligned, nil
}

// Used returns the number of bytes handed out so far.
func (a *Arena) Used() mem.Size {
	a.lock.Acquire()
	defer a.lock.Release()
	return mem.Size(a.next - a.base)
}

func alignUp(addr mem.VirtAddr, align mem.Size) mem.VirtAddr {
	mask := mem.VirtAddr(align - 1)
	return (addr + mask) &^ mask
}
