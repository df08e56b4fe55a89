// Package boot describes the bootloader hand-off that the memory core
// consumes (spec.md §6). Parsing the hand-off format itself — multiboot2,
// Limine, or otherwise — is explicitly out of scope (spec.md §1); this
// package only carries the already-decoded memory map and the handful of
// addresses every other package in this module needs, generalizing the
// shape of gopher-os's kernel/hal/multiboot.MemoryMapEntry.
package boot

import "funderberker/kernel/mem"

// Kind classifies a MemoryMapEntry the way the firmware / bootloader reports
// it (spec.md §6).
type Kind uint32

const (
	// Usable marks RAM the kernel is free to hand out.
	Usable Kind = iota + 1
	// Reserved marks memory the kernel must never touch.
	Reserved
	// ACPIReclaimable marks ACPI tables that can be reclaimed once parsed.
	ACPIReclaimable
	// BootloaderReclaimable marks bootloader structures reclaimable after boot.
	BootloaderReclaimable
	// KernelImage marks the frames occupied by the loaded kernel image.
	KernelImage
	// Framebuffer marks the linear framebuffer, mapped write-combining.
	Framebuffer
	// Bad marks memory the firmware has flagged as faulty.
	Bad
)

// String returns a short human-readable label, used by early diagnostics.
func (k Kind) String() string {
	switch k {
	case Usable:
		return "usable"
	case Reserved:
		return "reserved"
	case ACPIReclaimable:
		return "acpi-reclaimable"
	case BootloaderReclaimable:
		return "bootloader-reclaimable"
	case KernelImage:
		return "kernel-image"
	case Framebuffer:
		return "framebuffer"
	case Bad:
		return "bad"
	default:
		return "unknown"
	}
}

// MemoryMapEntry describes a single physical memory range as reported by the
// bootloader hand-off. Entries are sorted by Base, non-overlapping, and
// Length is a multiple of mem.PageSize for Usable/BootloaderReclaimable/
// ACPIReclaimable entries (spec.md §6).
type MemoryMapEntry struct {
	Base   mem.PhysAddr
	Length mem.Size
	Kind   Kind
}

// End returns the (exclusive) end address of the entry.
func (e MemoryMapEntry) End() mem.PhysAddr {
	return e.Base + mem.PhysAddr(e.Length)
}

// Info bundles everything the bootstrap mapper needs from the hand-off:
// the memory map plus the kernel's load addresses and the HHDM offset the
// bootloader already established (spec.md §6).
type Info struct {
	MemoryMap []MemoryMapEntry

	// KernelPhysBase/KernelVirtBase are the kernel image's physical and
	// virtual load addresses.
	KernelPhysBase mem.PhysAddr
	KernelVirtBase mem.VirtAddr

	// HHDMOffset is the higher-half direct map offset already established
	// by the bootloader's own page tables.
	HHDMOffset mem.VirtAddr

	// FramebufferPhysAddr/FramebufferLength describe the linear
	// framebuffer, if any was reported (Length == 0 otherwise).
	FramebufferPhysAddr mem.PhysAddr
	FramebufferLength   mem.Size
}
