// Package slab implements one size-class of the internal slab allocator
// (spec.md §4.5): a contiguous region of pages carved into fixed-size
// objects, with a metadata record living at the tail of the region and each
// free object storing its own free-list next-pointer in its own storage,
// exactly the intrusive-list discipline spec.md §9 asks for (the same shape
// kernel/mem/pmm/node.go uses for the buddy allocator's own freelist).
package slab

import (
	"unsafe"

	"funderberker/kernel"
	ksync "funderberker/kernel/sync"
)

// pointerSize is the minimum object size/alignment: a free object must be
// able to hold its own free-list next-pointer (spec.md §4.5 "Layout
// adjustment").
const pointerSize = unsafe.Sizeof(uintptr(0))

// PageSupplier is the narrow page-source interface a size class grows
// against. The real kernel satisfies it with the paging facade
// (kernel/mem/vmm.Facade, adapted in package heap); hosted tests satisfy it
// with a Go-heap-backed shim, exactly as spec.md §4.5 "Drop" describes for
// exercising the slab code off-target.
type PageSupplier interface {
	// AllocatePage returns the base address of one fresh, zeroed page.
	AllocatePage() (uintptr, *kernel.Error)
	// FreePage returns a page previously returned by AllocatePage.
	FreePage(base uintptr) *kernel.Error
}

// node is the per-slab metadata record (spec.md §4.5 "SlabNode"), placed at
// the tail of the page it describes.
type node struct {
	next       *node
	buffer     uintptr // start of the object-storage region
	freeHead   uintptr // address of the first free object, 0 if none
	allocCount uint32
	capacity   uint32
}

// Allocator is a slab allocator for one object size class (spec.md §4.5).
// The zero value is not usable; call New.
type Allocator struct {
	lock ksync.Spinlock

	objectSize uintptr
	pageSize   uintptr
	pages      PageSupplier

	slabs *node
}

// New creates a slab allocator for objects of objectSize bytes, growing by
// pageSize-byte pages pulled from pages. objectSize is padded up to at least
// pointerSize (spec.md §4.5 "Layout adjustment"); a size larger than what a
// single page can hold after reserving room for the metadata record fails
// with ErrObjectTooSmall's sibling check, surfaced as ErrSlabFull on first
// growth attempt rather than here, since New itself never touches a page.
func New(objectSize int, pageSize uintptr, pages PageSupplier) (*Allocator, *kernel.Error) {
	if objectSize <= 0 {
		return nil, ErrObjectTooSmall
	}

	size := uintptr(objectSize)
	if size < pointerSize {
		size = pointerSize
	}
	if rem := size % pointerSize; rem != 0 {
		size += pointerSize - rem
	}

	return &Allocator{objectSize: size, pageSize: pageSize, pages: pages}, nil
}

// nodeAddr returns the (alignof(node)-aligned) address of the slab metadata
// record living at the tail of the page starting at base.
func (a *Allocator) nodeAddr(base uintptr) uintptr {
	tail := base + a.pageSize - unsafe.Sizeof(node{})
	return tail &^ (unsafe.Alignof(node{}) - 1)
}

// grow allocates a fresh page, lays out a new slab across it, and links the
// slab onto the allocator's list with every object pushed onto its free
// list (spec.md §4.5 "Allocate ... grow").
func (a *Allocator) grow() (*node, *kernel.Error) {
	base, err := a.pages.AllocatePage()
	if err != nil {
		return nil, err
	}

	nAddr := a.nodeAddr(base)
	capacity := uint32((nAddr - base) / a.objectSize)
	if capacity == 0 {
		_ = a.pages.FreePage(base)
		return nil, ErrSlabFull
	}

	n := (*node)(unsafe.Pointer(nAddr))
	*n = node{buffer: base, capacity: capacity}

	for i := int(capacity) - 1; i >= 0; i-- {
		objAddr := base + uintptr(i)*a.objectSize
		*(*uintptr)(unsafe.Pointer(objAddr)) = n.freeHead
		n.freeHead = objAddr
	}

	n.next = a.slabs
	a.slabs = n
	return n, nil
}

// Allocate returns a pointer to one fresh object, growing the cache by one
// page if every existing slab is full (spec.md §4.5 "Allocate").
func (a *Allocator) Allocate() (unsafe.Pointer, *kernel.Error) {
	a.lock.Acquire()
	defer a.lock.Release()

	n := a.slabs
	for n != nil && n.freeHead == 0 {
		n = n.next
	}
	if n == nil {
		var err *kernel.Error
		n, err = a.grow()
		if err != nil {
			return nil, err
		}
	}

	obj := n.freeHead
	n.freeHead = *(*uintptr)(unsafe.Pointer(obj))
	n.allocCount++

	return unsafe.Pointer(obj), nil
}

// findSlab locates the slab owning ptr, or nil if none does.
func (a *Allocator) findSlab(ptr uintptr) *node {
	for n := a.slabs; n != nil; n = n.next {
		if ptr >= n.buffer && ptr < n.buffer+uintptr(n.capacity)*a.objectSize {
			return n
		}
	}
	return nil
}

// isOnFreeList reports whether obj already appears in n's free chain
// (spec.md §4.5 "Free ... Reject if ptr is already in the free list").
func (n *node) isOnFreeList(obj uintptr) bool {
	for cur := n.freeHead; cur != 0; cur = *(*uintptr)(unsafe.Pointer(cur)) {
		if cur == obj {
			return true
		}
	}
	return false
}

// Free returns ptr, previously returned by Allocate, to its slab.
func (a *Allocator) Free(ptr unsafe.Pointer) *kernel.Error {
	obj := uintptr(ptr)

	a.lock.Acquire()
	defer a.lock.Release()

	n := a.findSlab(obj)
	if n == nil {
		return ErrBadPtrRange
	}
	if (obj-n.buffer)%a.objectSize != 0 {
		return ErrBadPtrRange
	}
	if n.isOnFreeList(obj) {
		return ErrDoubleFree
	}

	*(*uintptr)(unsafe.Pointer(obj)) = n.freeHead
	n.freeHead = obj
	n.allocCount--

	return nil
}

// Reap returns every fully-empty slab's page to the page supplier, unlinking
// it from the allocator's list, and reports how many pages were freed
// (spec.md §4.5 "Reap").
func (a *Allocator) Reap() int {
	a.lock.Acquire()
	defer a.lock.Release()

	freed := 0
	var prev *node
	n := a.slabs
	for n != nil {
		next := n.next
		if n.allocCount != 0 {
			prev, n = n, next
			continue
		}

		if prev == nil {
			a.slabs = next
		} else {
			prev.next = next
		}
		_ = a.pages.FreePage(n.buffer)
		freed++
		n = next
	}

	return freed
}

// Drop reaps every slab and panics if any allocation is still outstanding,
// matching spec.md §4.5 "Drop": a non-empty slab allocator at teardown is a
// memory leak, not a recoverable error.
func (a *Allocator) Drop() {
	freed := a.Reap()

	a.lock.Acquire()
	defer a.lock.Release()

	if a.slabs != nil {
		_ = freed
		panic("slab: Drop found outstanding allocations")
	}
}

// ObjectSize returns the padded, alignment-adjusted object size this
// allocator actually hands out (may exceed the size requested to New).
func (a *Allocator) ObjectSize() int {
	return int(a.objectSize)
}
