package heap

import "funderberker/kernel"

var (
	// ErrZeroSizeAllocation is returned for a zero-byte Allocate or Free
	// request (spec.md §8 "Zero-size allocation in PMM, slab, or heap
	// yields the declared error, not a null pointer returned silently").
	ErrZeroSizeAllocation = &kernel.Error{Module: "heap", Message: "cannot allocate or free a zero-size layout"}
)
