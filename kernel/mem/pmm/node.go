package pmm

import "funderberker/kernel/mem"

// node is a list node for one entry in a buddy free list. Its storage comes
// from a pool carved out at Init time rather than the kernel heap — the
// heap depends on the paging facade which depends on this allocator, so the
// PMM can never recurse into it (spec.md §4.1 "Freelist-of-nodes"). The
// shape (an intrusive next-pointer chain over pre-allocated storage) is the
// same discipline spec.md §9 calls out and that Oichkatzelesfrettschen-
// biscuit's Physpg_t.nexti field uses for its own physical-page free list.
type node struct {
	addr mem.PhysAddr
	next *node
}

// nodePool owns a fixed-capacity array of node structs and hands them out
// through an intrusive freelist so list mutations never allocate from the Go
// heap.
type nodePool struct {
	storage []node
	free    *node
}

// init links every slot in storage into the free chain.
func (p *nodePool) init(storage []node) {
	p.storage = storage
	p.free = nil
	for i := len(storage) - 1; i >= 0; i-- {
		storage[i].next = p.free
		storage[i].addr = 0
		p.free = &storage[i]
	}
}

// get removes and returns a node from the free chain, or nil if the pool is
// exhausted.
func (p *nodePool) get() *node {
	n := p.free
	if n == nil {
		return nil
	}
	p.free = n.next
	n.next = nil
	return n
}

// put returns n to the free chain.
func (p *nodePool) put(n *node) {
	n.addr = 0
	n.next = p.free
	p.free = n
}
