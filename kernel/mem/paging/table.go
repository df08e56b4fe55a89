package paging

import (
	"unsafe"

	"funderberker/kernel/mem"
)

// entriesPerTable is the fixed x86_64 table fan-out (512 entries, 4 KiB
// table aligned to 4 KiB, spec.md §3).
const entriesPerTable = 512

// numLevels is the number of page-table levels walked from the root down to
// a level-0 (4 KiB) leaf. 5-level paging (LA57) is the spec's named
// compile-time option (spec.md §1 Non-goals) but is not wired here: the
// bootstrap mapper never probes CPUID leaf 7 for LA57 support, so this stays
// a 4-level hierarchy (see DESIGN.md).
const numLevels = 4

// entry is a single 64-bit page-table entry.
type entry uint64

func (e entry) flags() Flags {
	return Flags(e) &^ Flags(flagsAddrMask)
}

func (e *entry) setFlags(f Flags) {
	*e = entry(Flags(*e) | f)
}

func (e *entry) clearFlags(f Flags) {
	*e = entry(Flags(*e) &^ f)
}

func (e entry) present() bool {
	return e.flags().Has(FlagPresent)
}

func (e entry) addr() mem.PhysAddr {
	return mem.PhysAddr(e) & mem.PhysAddr(flagsAddrMask)
}

func (e *entry) setAddr(addr mem.PhysAddr) {
	*e = entry((uint64(*e) &^ uint64(flagsAddrMask)) | (uint64(addr) & uint64(flagsAddrMask)))
}

// table is a 512-entry page table accessed through its HHDM mapping.
type table struct {
	entries *[entriesPerTable]entry
}

// tableAt returns a table view over the frame at phys.
func tableAt(phys mem.PhysAddr) table {
	ptr := unsafe.Pointer(uintptr(mem.DirectMap(phys)))
	return table{entries: (*[entriesPerTable]entry)(ptr)}
}

func (t table) at(idx int) *entry {
	return &t.entries[idx]
}

// zero clears every entry in the table.
func (t table) zero() {
	for i := range t.entries {
		t.entries[i] = 0
	}
}

// index returns the table index at level for virtual address virt.
// Level 0 is the innermost (4 KiB leaf) table; level numLevels-1 is the root.
func index(virt mem.VirtAddr, level int) int {
	shift := uint(12 + 9*level)
	return int((uintptr(virt) >> shift) & 0x1ff)
}
