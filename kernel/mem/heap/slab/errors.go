package slab

import "funderberker/kernel"

var (
	// ErrSlabFull is returned when no existing slab has a free object and a
	// freshly grown page cannot hold a single object next to its metadata
	// record. An error from the page supplier is returned as is.
	ErrSlabFull = &kernel.Error{Module: "slab", Message: "slab allocator is full and could not grow"}

	// ErrBadPtrRange is returned by Free when ptr does not fall within any
	// slab owned by this allocator.
	ErrBadPtrRange = &kernel.Error{Module: "slab", Message: "pointer does not belong to this slab allocator"}

	// ErrDoubleFree is returned by Free when ptr is already present in its
	// slab's free-object list.
	ErrDoubleFree = &kernel.Error{Module: "slab", Message: "pointer is already free"}

	// ErrObjectTooSmall is returned by New for a non-positive object size.
	// Positive sizes smaller than the intrusive free-list pointer are padded
	// up to it instead.
	ErrObjectTooSmall = &kernel.Error{Module: "slab", Message: "object size too small to hold a free-list pointer"}
)
