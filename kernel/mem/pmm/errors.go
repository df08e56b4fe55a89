package pmm

import "funderberker/kernel"

var (
	// ErrNoAvailableBlock is returned when no free block of the requested
	// order (and alignment) exists, including when the node freelist
	// itself has been exhausted (spec.md §9 open question: this must be a
	// typed error, never a silent deadlock or panic).
	ErrNoAvailableBlock = &kernel.Error{Module: "pmm", Message: "no available block of the requested size"}

	// ErrInvalidAlignment is returned when the requested address/count is
	// not aligned to the rounded-up block size.
	ErrInvalidAlignment = &kernel.Error{Module: "pmm", Message: "address or frame count is not properly aligned"}

	// ErrEmptyAllocation is returned for a zero-frame allocation request.
	ErrEmptyAllocation = &kernel.Error{Module: "pmm", Message: "cannot allocate zero frames"}

	// ErrEmptyFree is returned for a zero-frame free request.
	ErrEmptyFree = &kernel.Error{Module: "pmm", Message: "cannot free zero frames"}

	// ErrFreeOfAlreadyFree is returned when the block being freed (or a
	// larger block already containing it) is already tracked as free.
	ErrFreeOfAlreadyFree = &kernel.Error{Module: "pmm", Message: "block is already free"}

	// ErrOutOfMemory is returned by Init when no memory-map entry is large
	// enough to host the allocator's own bookkeeping structures.
	ErrOutOfMemory = &kernel.Error{Module: "pmm", Message: "insufficient usable memory to bootstrap the frame allocator"}
)
