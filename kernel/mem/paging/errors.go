package paging

import "funderberker/kernel"

var (
	// ErrPageAlreadyPresent is returned by Map when a leaf in the
	// requested range is already present.
	ErrPageAlreadyPresent = &kernel.Error{Module: "paging", Message: "page already present"}

	// ErrPageNotPresent is returned by Unmap/Translate when a leaf in the
	// requested range is not present.
	ErrPageNotPresent = &kernel.Error{Module: "paging", Message: "page not present"}

	// ErrInvalidVirtualAddress is returned when virt is not aligned to
	// the requested page size. Whether virt is canonical is not checked.
	ErrInvalidVirtualAddress = &kernel.Error{Module: "paging", Message: "virtual address is invalid or misaligned"}

	// ErrInvalidPhysicalAddress is returned when phys is not aligned to
	// the requested page size.
	ErrInvalidPhysicalAddress = &kernel.Error{Module: "paging", Message: "physical address is invalid or misaligned"}

	// ErrBadPageCountAndAddressCombination is returned when the requested
	// leaves would cross a 512-entry boundary in the table that holds them.
	ErrBadPageCountAndAddressCombination = &kernel.Error{Module: "paging", Message: "page count and address combination crosses a table boundary"}

	// ErrOutOfMemory is returned when the PMM cannot supply a frame for a
	// new intermediate table.
	ErrOutOfMemory = &kernel.Error{Module: "paging", Message: "out of memory while building page tables"}
)
