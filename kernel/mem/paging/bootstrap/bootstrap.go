// Package bootstrap performs the one-shot transition from the bootloader's
// identity+HHDM page tables to the kernel's own root table (spec.md §4.2
// "Bootstrap mapper"). It is the only code in the memory core allowed to
// write CR3.
package bootstrap

import (
	"funderberker/kernel"
	"funderberker/kernel/boot"
	"funderberker/kernel/cpu"
	"funderberker/kernel/kfmt/early"
	"funderberker/kernel/mem"
	"funderberker/kernel/mem/paging"
	"funderberker/kernel/mem/pmm"
)

var (
	hasNXFn     = cpu.HasNX
	hasPGEFn    = cpu.HasPGE
	readCR4Fn   = cpu.ReadCR4
	writeCR4Fn  = cpu.WriteCR4
	readEFERFn  = cpu.ReadEFER
	writeEFERFn = cpu.WriteEFER
	writePATFn  = cpu.WritePAT
	writeCR3Fn  = cpu.WriteCR3
)

const (
	cr4PGE = 1 << 7
	efeNX  = 1 << 11
)

var (
	// ErrMissingPGE is returned by Finalize when the CPU does not support
	// global pages.
	ErrMissingPGE = &kernel.Error{Module: "bootstrap", Message: "CPU does not support PGE"}
	// ErrMissingNX is returned by Finalize when the CPU does not support
	// the no-execute bit.
	ErrMissingNX = &kernel.Error{Module: "bootstrap", Message: "CPU does not support NX"}
)

// Map builds a fresh root table from info's memory map: identity-plus-HHDM
// mapping every usable/ACPI-reclaimable/bootloader-reclaimable/framebuffer
// entry, plus the kernel image at its own virtual base (spec.md §4.2).
// Usable and reclaimable regions are decomposed into the largest page size
// physical and virtual alignment allow; framebuffer and kernel-image entries
// are always mapped with 4 KiB pages, whatever their alignment.
func Map(info boot.Info, frames *pmm.Buddy) (*paging.Engine, *kernel.Error) {
	rootFrame, err := frames.Allocate(1, 1)
	if err != nil {
		return nil, err
	}

	engine := paging.NewEngine(rootFrame, frames)
	zeroFrame(rootFrame)

	for _, e := range info.MemoryMap {
		switch e.Kind {
		case boot.Usable, boot.ACPIReclaimable, boot.BootloaderReclaimable:
			if err := identityMapHHDM(engine, e, info.HHDMOffset); err != nil {
				return nil, err
			}
		case boot.Framebuffer:
			// Always mapped as 4K leaves: PAT bit 2 lives at a
			// different position on huge leaves, and framebuffers
			// are mapped once at a fixed write-combining type, not
			// worth the bookkeeping to support bigger pages here.
			wcFlags := paging.FlagWritable | paging.EncodePAT(paging.PatWriteCombining, paging.Size4K)
			hhdmVirt := info.HHDMOffset + mem.VirtAddr(e.Base)
			if err := mapRegion4K(engine, mem.VirtAddr(e.Base), e.Base, e.Length, wcFlags); err != nil {
				return nil, err
			}
			if err := mapRegion4K(engine, hhdmVirt, e.Base, e.Length, wcFlags); err != nil {
				return nil, err
			}
		}
	}

	if err := mapKernelImage(engine, info); err != nil {
		return nil, err
	}

	return engine, nil
}

// mapKernelImage maps the kernel's KernelImage memory-map entries at
// KernelVirtBase + (entry.Base - KernelPhysBase), executable-capable (no NX)
// since this core does not split text/data/rodata into separate permission
// ranges (v1, spec.md §1).
func mapKernelImage(engine *paging.Engine, info boot.Info) *kernel.Error {
	for _, e := range info.MemoryMap {
		if e.Kind != boot.KernelImage {
			continue
		}
		delta := e.Base - info.KernelPhysBase
		virt := info.KernelVirtBase + mem.VirtAddr(delta)
		if err := mapRegion4K(engine, virt, e.Base, e.Length, paging.FlagWritable); err != nil {
			return err
		}
	}
	return nil
}

// identityMapHHDM maps e twice: once identity (virt == phys) and once
// through the HHDM (virt == phys + hhdmOffset), decomposing into the
// largest page size both addresses' alignment allows.
func identityMapHHDM(engine *paging.Engine, e boot.MemoryMapEntry, hhdmOffset mem.VirtAddr) *kernel.Error {
	if err := mapDecomposed(engine, mem.VirtAddr(e.Base), e.Base, e.Length, paging.FlagWritable); err != nil {
		return err
	}
	hhdmVirt := hhdmOffset + mem.VirtAddr(e.Base)
	return mapDecomposed(engine, hhdmVirt, e.Base, e.Length, paging.FlagWritable)
}

// mapDecomposed maps [phys, phys+length) at virt using 1 GiB pages where
// both virt and phys allow it, else 2 MiB, else 4 KiB (spec.md §4.2). Each
// leaf is installed with its own Map call (count=1): batching same-size
// runs would risk spilling across a 512-entry table boundary, which Map
// rejects outright, and this is one-shot boot-time setup, not a hot path.
func mapDecomposed(engine *paging.Engine, virt mem.VirtAddr, phys mem.PhysAddr, length mem.Size, flags paging.Flags) *kernel.Error {
	remaining := uint64(length)
	curVirt, curPhys := virt, phys

	for remaining > 0 {
		size := pickPageSize(curVirt, curPhys, remaining)
		bytes := uint64(size.Bytes())
		if bytes > remaining {
			size = paging.Size4K
			bytes = uint64(size.Bytes())
		}

		if err := engine.Map(curVirt, curPhys, 1, size, flags); err != nil && err != paging.ErrPageAlreadyPresent {
			return err
		}

		curVirt += mem.VirtAddr(bytes)
		curPhys += mem.PhysAddr(bytes)
		remaining -= bytes
	}
	return nil
}

// mapRegion4K is mapDecomposed restricted to 4K pages, used for the
// framebuffer and for the kernel image, where virt/phys alignment rarely
// allows anything larger.
func mapRegion4K(engine *paging.Engine, virt mem.VirtAddr, phys mem.PhysAddr, length mem.Size, flags paging.Flags) *kernel.Error {
	frames := length.Pages()
	for i := uint32(0); i < frames; i++ {
		off := mem.Size(i) * mem.PageSize
		v := virt + mem.VirtAddr(off)
		p := phys + mem.PhysAddr(off)
		if err := engine.Map(v, p, 1, paging.Size4K, flags); err != nil && err != paging.ErrPageAlreadyPresent {
			return err
		}
	}
	return nil
}

func pickPageSize(virt mem.VirtAddr, phys mem.PhysAddr, remaining uint64) paging.PageSize {
	gb := uint64(paging.Size1G.Bytes())
	mb := uint64(paging.Size2M.Bytes())

	if remaining >= gb && virt.IsAligned(paging.Size1G.Bytes()) && phys.IsAligned(paging.Size1G.Bytes()) {
		return paging.Size1G
	}
	if remaining >= mb && virt.IsAligned(paging.Size2M.Bytes()) && phys.IsAligned(paging.Size2M.Bytes()) {
		return paging.Size2M
	}
	return paging.Size4K
}

func zeroFrame(frame mem.PhysAddr) {
	ptr := mem.DirectMap(frame)
	mem.Memset(uintptr(ptr), 0, mem.PageSize)
}

// Finalize verifies PGE/NX support, programs the PAT MSR, enables PGE and
// NX, and switches CR3 to engine's root table (spec.md §4.2). It must run
// exactly once, after Map has built the full hierarchy.
func Finalize(engine *paging.Engine) *kernel.Error {
	if !hasPGEFn() {
		return ErrMissingPGE
	}
	if !hasNXFn() {
		return ErrMissingNX
	}

	writePATFn(patLayoutValue())

	writeCR4Fn(readCR4Fn() | cr4PGE)
	writeEFERFn(readEFERFn() | efeNX)

	writeCR3Fn(uintptr(engine.Root()))

	early.Printf("bootstrap: switched to kernel page tables, root=0x%x\n", uint64(engine.Root()))
	return nil
}

// patLayoutValue builds the 8-entry PAT MSR value with the layout spec.md
// §4.2 mandates: WB, WT, UC-, UC, WC, WP in entries 0-5 and UC in 6-7. Each
// byte holds the architectural memory-type encoding; the paging.PatType
// constants are the entry indices those encodings are stored at.
func patLayoutValue() uint64 {
	const (
		memUC      = 0x00
		memWC      = 0x01
		memWT      = 0x04
		memWP      = 0x05
		memWB      = 0x06
		memUCMinus = 0x07
	)
	entries := [8]uint8{
		paging.PatWriteback:      memWB,
		paging.PatWritethrough:   memWT,
		paging.PatUncachedMinus:  memUCMinus,
		paging.PatUncached:       memUC,
		paging.PatWriteCombining: memWC,
		paging.PatWriteProtected: memWP,
		6:                        memUC,
		7:                        memUC,
	}

	var v uint64
	for i, e := range entries {
		v |= uint64(e) << uint(i*8)
	}
	return v
}
