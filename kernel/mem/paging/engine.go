// Package paging implements the x86_64 page-table engine: table
// construction, mapping/unmapping, translation, and PAT cache-policy
// control (spec.md §4.2). Tables are walked through the HHDM rather than a
// recursive self-mapping slot, so the engine can edit an inactive hierarchy
// just as easily as the active one.
package paging

import (
	"funderberker/kernel"
	"funderberker/kernel/cpu"
	"funderberker/kernel/mem"
	"funderberker/kernel/mem/pmm"
	ksync "funderberker/kernel/sync"
)

// invlpgFn/readCR3Fn/writeCR3Fn are indirections over the privileged
// primitives so tests can run hosted without issuing real INVLPG/MOV-to-CR3
// instructions.
var (
	invlpgFn   = cpu.Invlpg
	readCR3Fn  = cpu.ReadCR3
	writeCR3Fn = cpu.WriteCR3
)

// Engine owns one page-table hierarchy and the frame allocator used to grow
// it. The zero value is not usable; call NewEngine.
type Engine struct {
	lock ksync.IRQSpinlock
	root mem.PhysAddr
	pmm  *pmm.Buddy
}

// NewEngine wraps an existing root table (already zeroed, or already
// populated by the bootstrap mapper) for use by Map/Unmap/Translate.
func NewEngine(root mem.PhysAddr, frames *pmm.Buddy) *Engine {
	return &Engine{root: root, pmm: frames}
}

// Root returns the physical address of the hierarchy's top-level table.
func (e *Engine) Root() mem.PhysAddr {
	return e.root
}

func levelToSize(level int) PageSize {
	switch level {
	case 1:
		return Size2M
	case 2:
		return Size1G
	default:
		return Size4K
	}
}

// walkForWrite descends from the root to the table whose entries are leaves
// of targetLevel, allocating and zeroing any missing intermediate table
// along the way (spec.md §4.2 "Table creation").
func (e *Engine) walkForWrite(virt mem.VirtAddr, targetLevel int) (table, *kernel.Error) {
	cur := tableAt(e.root)
	for lvl := numLevels - 1; lvl > targetLevel; lvl-- {
		ent := cur.at(index(virt, lvl))
		if !ent.present() {
			frame, err := e.pmm.Allocate(1, 1)
			if err != nil {
				return table{}, ErrOutOfMemory
			}
			tableAt(frame).zero()
			ent.setAddr(frame)
			ent.setFlags(FlagPresent | FlagWritable)
		} else if ent.flags().Has(FlagHuge) {
			return table{}, ErrPageAlreadyPresent
		}
		cur = tableAt(ent.addr())
	}
	return cur, nil
}

// walkForRead is like walkForWrite but never creates a missing table,
// failing instead with ErrPageNotPresent.
func (e *Engine) walkForRead(virt mem.VirtAddr, targetLevel int) (table, *kernel.Error) {
	cur := tableAt(e.root)
	for lvl := numLevels - 1; lvl > targetLevel; lvl-- {
		ent := cur.at(index(virt, lvl))
		if !ent.present() {
			return table{}, ErrPageNotPresent
		}
		cur = tableAt(ent.addr())
	}
	return cur, nil
}

// Map installs count consecutive leaves of the given size starting at virt,
// backed by consecutive physical frames starting at phys (spec.md §4.2).
func (e *Engine) Map(virt mem.VirtAddr, phys mem.PhysAddr, count int, size PageSize, flags Flags) *kernel.Error {
	pageBytes := mem.PhysAddr(size.Bytes())

	if !virt.IsAligned(size.Bytes()) {
		return ErrInvalidVirtualAddress
	}
	if !phys.IsAligned(size.Bytes()) {
		return ErrInvalidPhysicalAddress
	}
	if count <= 0 {
		return ErrBadPageCountAndAddressCombination
	}

	targetLevel := size.level()
	startIdx := index(virt, targetLevel)
	if startIdx+count > entriesPerTable {
		return ErrBadPageCountAndAddressCombination
	}

	e.lock.Acquire()
	defer e.lock.Release()

	t, err := e.walkForWrite(virt, targetLevel)
	if err != nil {
		return err
	}

	for i := 0; i < count; i++ {
		if t.at(startIdx + i).present() {
			return ErrPageAlreadyPresent
		}
	}

	leafFlags := flags | FlagPresent | flagLastEntry
	if size.huge() {
		leafFlags |= FlagHuge
	}

	for i := 0; i < count; i++ {
		ent := t.at(startIdx + i)
		// setAddr must run before setFlags: flagsAddrMask spans bits
		// 12-51, which on a huge leaf overlaps the PAT selector bit at
		// bit 12 (spec.md §4.2). setAddr only ever touches address
		// bits (phys is size-aligned, so its low bits in that range
		// are already zero) while setFlags is a pure OR, so ordering
		// address-then-flags preserves a PAT bit that writing the flags
		// first and the address second would clear back out.
		*ent = 0
		ent.setAddr(phys + mem.PhysAddr(i)*pageBytes)
		ent.setFlags(leafFlags)
	}

	return nil
}

// Unmap removes count consecutive leaves of the given size starting at
// virt, returning any frame marked flagAllocated to the PMM and flushing
// the local TLB for each released entry (spec.md §4.2, §4.4).
func (e *Engine) Unmap(virt mem.VirtAddr, count int, size PageSize) *kernel.Error {
	pageBytes := mem.PhysAddr(size.Bytes())

	if !virt.IsAligned(size.Bytes()) {
		return ErrInvalidVirtualAddress
	}
	if count <= 0 {
		return ErrBadPageCountAndAddressCombination
	}

	targetLevel := size.level()
	startIdx := index(virt, targetLevel)
	if startIdx+count > entriesPerTable {
		return ErrBadPageCountAndAddressCombination
	}

	e.lock.Acquire()
	defer e.lock.Release()

	t, err := e.walkForRead(virt, targetLevel)
	if err != nil {
		return err
	}

	for i := 0; i < count; i++ {
		if !t.at(startIdx + i).present() {
			return ErrPageNotPresent
		}
	}

	frameCount := uint64(size.Bytes() / mem.PageSize)
	for i := 0; i < count; i++ {
		ent := t.at(startIdx + i)
		if ent.flags().Has(FlagAllocated) {
			if pmmErr := e.pmm.Free(ent.addr(), frameCount); pmmErr != nil {
				panic("paging: unmap found a leaf whose frame the PMM already considers free")
			}
		}
		*ent = 0
	}

	for i := 0; i < count; i++ {
		invlpgFn(uintptr(virt) + uintptr(i)*uintptr(pageBytes))
	}

	return nil
}

// Translate walks the hierarchy from the root and returns the physical
// address virt currently maps to, or ErrPageNotPresent.
func (e *Engine) Translate(virt mem.VirtAddr) (mem.PhysAddr, *kernel.Error) {
	e.lock.Acquire()
	defer e.lock.Release()

	cur := tableAt(e.root)
	for lvl := numLevels - 1; lvl >= 0; lvl-- {
		ent := cur.at(index(virt, lvl))
		if !ent.present() {
			return 0, ErrPageNotPresent
		}
		if ent.flags().Has(flagLastEntry) {
			size := levelToSize(lvl)
			offsetMask := mem.PhysAddr(size.Bytes() - 1)
			return ent.addr() | (mem.PhysAddr(virt) & offsetMask), nil
		}
		cur = tableAt(ent.addr())
	}
	return 0, ErrPageNotPresent
}

// FlushTLBEntry invalidates the single-page TLB entry for virt.
func FlushTLBEntry(virt mem.VirtAddr) {
	invlpgFn(uintptr(virt))
}

// FlushTLBAll reloads CR3, invalidating every non-global TLB entry.
func FlushTLBAll() {
	writeCR3Fn(uintptr(readCR3Fn()))
}
