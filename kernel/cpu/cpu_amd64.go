// Package cpu wraps the x86_64 instructions and registers that the memory
// core needs: CR3/CR4/EFER/PAT, invlpg, interrupt enable/disable, and CPUID
// feature probing. Every primitive here is an architecturally-visible side
// effect (spec.md §9 "Volatile register access") so each is declared as a
// body-less Go function implemented in assembly, matching the declare-in-Go
// define-in-assembly split gopher-os uses throughout kernel/cpu.
package cpu

// EnableInterrupts enables interrupt handling (STI).
func EnableInterrupts()

// DisableInterrupts disables interrupt handling (CLI).
func DisableInterrupts()

// InterruptsEnabled reports whether the interrupt flag (RFLAGS.IF) is
// currently set.
func InterruptsEnabled() bool

// Halt stops instruction execution (HLT).
func Halt()

// Invlpg flushes a single TLB entry for the given virtual address.
func Invlpg(virtAddr uintptr)

// ReadCR2 returns the faulting address recorded by the last page fault.
func ReadCR2() uintptr

// ReadCR3 returns the physical address of the currently active root page table.
func ReadCR3() uintptr

// WriteCR3 installs a new root page table physical address, flushing the
// entire TLB as a side effect. Only the bootstrap mapper may call this
// (spec.md §3 invariants).
func WriteCR3(rootPhysAddr uintptr)

// ReadCR4 returns the current value of CR4.
func ReadCR4() uint64

// WriteCR4 installs a new CR4 value.
func WriteCR4(v uint64)

// ReadEFER returns the current value of the IA32_EFER MSR.
func ReadEFER() uint64

// WriteEFER installs a new IA32_EFER MSR value.
func WriteEFER(v uint64)

// WritePAT programs the IA32_PAT MSR.
func WritePAT(v uint64)

// cpuid executes the CPUID instruction for the given leaf/subleaf and returns
// eax, ebx, ecx, edx.
func cpuid(leaf, subleaf uint32) (eax, ebx, ecx, edx uint32)
