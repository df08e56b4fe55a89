package paging

// Flags is a bitset of page-table entry attributes. The architectural bits
// mirror the x86_64 PTE format; two kernel-private bookkeeping bits live in
// the architecturally ignored 9-11 range (spec.md §3).
type Flags uint64

const (
	// FlagPresent marks the entry as valid.
	FlagPresent Flags = 1 << 0
	// FlagWritable allows writes through this mapping.
	FlagWritable Flags = 1 << 1
	// FlagUser allows ring-3 access.
	FlagUser Flags = 1 << 2
	// FlagWriteThrough is the architectural PWT bit.
	FlagWriteThrough Flags = 1 << 3
	// FlagCacheDisable is the architectural PCD bit.
	FlagCacheDisable Flags = 1 << 4
	// FlagAccessed is set by hardware on first access.
	FlagAccessed Flags = 1 << 5
	// FlagDirty is set by hardware on first write (leaves only).
	FlagDirty Flags = 1 << 6
	// FlagHuge marks a 2 MiB/1 GiB leaf at a non-terminal table level.
	// On a 4-KiB leaf (level 0) this bit position instead carries PAT.
	FlagHuge Flags = 1 << 7
	// FlagGlobal marks a mapping as not needing a TLB flush on CR3 reload.
	FlagGlobal Flags = 1 << 8
	// FlagNX marks the mapping as non-executable. Requires IA32_EFER.NX.
	FlagNX Flags = 1 << 63

	// FlagAllocated is a kernel-private bit (using a spare bit in the
	// architecturally-ignored 9-11 range) marking a leaf as owning a
	// frame the unmap path must return to the PMM (spec.md §3). Callers
	// that hand Map a PMM-owned frame (allocate_pages) set this; callers
	// supplying a caller-owned frame (map_pages, e.g. MMIO) do not.
	FlagAllocated Flags = 1 << 9
	// flagLastEntry is a kernel-private bit marking the final level of a
	// mapping so translation can report the page size without needing to
	// re-walk from the root (spec.md §3).
	flagLastEntry Flags = 1 << 10

	// patBit2Pos4K is the bit position of PAT bit 2 on a 4-KiB leaf.
	patBit2Pos4K = 7
	// patBit2PosHuge is the bit position of PAT bit 2 on a 2-MiB/1-GiB leaf.
	patBit2PosHuge = 12

	flagsAddrMask Flags = 0x000ffffffffff000
)

// Has reports whether every bit in want is set.
func (f Flags) Has(want Flags) bool {
	return f&want == want
}

// PatType is a memory-type index encoded into PAT-capable entries (spec.md
// §4.2). The numeric value is the index this kernel programs into the PAT
// MSR at boot (see paging/bootstrap), not the raw 3-bit PAT/PCD/PWT encoding.
type PatType uint8

const (
	// PatWriteback is standard cacheable memory.
	PatWriteback PatType = 0
	// PatWritethrough writes immediately to memory but still caches reads.
	PatWritethrough PatType = 1
	// PatUncachedMinus is uncached but can be overridden by an MTRR.
	PatUncachedMinus PatType = 2
	// PatUncached is strongly uncached.
	PatUncached PatType = 3
	// PatWriteCombining is used for linear framebuffers.
	PatWriteCombining PatType = 4
	// PatWriteProtected allows cached reads but writes go straight to memory.
	PatWriteProtected PatType = 5
)

// EncodePAT returns the PWT/PCD/PAT-bit flags needed to select pat on a leaf
// of the given page size. OR the result into the flags passed to Map.
func EncodePAT(pat PatType, size PageSize) Flags {
	return encodePAT(pat, size.huge())
}

// DecodePAT reverses EncodePAT, reading the three PAT-selecting bits back
// out of a leaf's flags.
func DecodePAT(f Flags, size PageSize) PatType {
	return decodePAT(f, size.huge())
}

// encodePAT returns the PWT/PCD/PAT-bit flags needed to select pat on an
// entry whose leaf is huge (2 MiB/1 GiB) or not. The PAT table layout
// programmed at boot places type N at PAT index N (see bootstrap.patLayoutValue),
// so bit 0 of pat maps to PWT, bit 1 to PCD, and bit 2 to the size-dependent
// PAT bit position (spec.md §4.2, concrete scenario 4).
func encodePAT(pat PatType, huge bool) Flags {
	var f Flags
	if pat&0x1 != 0 {
		f |= FlagWriteThrough
	}
	if pat&0x2 != 0 {
		f |= FlagCacheDisable
	}
	if pat&0x4 != 0 {
		if huge {
			f |= 1 << patBit2PosHuge
		} else {
			f |= 1 << patBit2Pos4K
		}
	}
	return f
}

// decodePAT reverses encodePAT, reading the three PAT-selecting bits back
// out of f.
func decodePAT(f Flags, huge bool) PatType {
	var pat PatType
	if f&FlagWriteThrough != 0 {
		pat |= 1
	}
	if f&FlagCacheDisable != 0 {
		pat |= 2
	}
	bitPos := patBit2Pos4K
	if huge {
		bitPos = patBit2PosHuge
	}
	if f&(1<<uint(bitPos)) != 0 {
		pat |= 4
	}
	return pat
}
