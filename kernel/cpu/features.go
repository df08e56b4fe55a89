package cpu

import (
	"golang.org/x/sys/cpu"

	ksync "funderberker/kernel/sync"
)

const (
	// cpuidExtendedFeatures is CPUID leaf 0x80000001; bit 20 of EDX
	// reports NX (execute-disable) support.
	cpuidExtendedFeatures = 0x80000001
	nxBit                 = 1 << 20

	// cpuidFeatures is CPUID leaf 1; bit 13 of EDX reports PGE
	// (page-global-enable) support.
	cpuidFeatures = 1
	pgeBit        = 1 << 13
)

// HasNX reports whether the CPU supports the no-execute page-table bit. The
// bootstrap mapper must verify this before setting IA32_EFER.NX (spec.md
// §4.2).
func HasNX() bool {
	_, _, _, edx := cpuid(cpuidExtendedFeatures, 0)
	return edx&nxBit != 0
}

// HasPGE reports whether the CPU supports global pages. The bootstrap mapper
// must verify this before setting CR4.PGE (spec.md §4.2).
func HasPGE() bool {
	_, _, _, edx := cpuid(cpuidFeatures, 0)
	return edx&pgeBit != 0
}

// LogFeatures prints a short diagnostic summary of detected CPU features
// using golang.org/x/sys/cpu's pure-Go/asm feature probe (no OS dependency,
// safe to call before the kernel has a working scheduler). This purely
// augments the targeted NX/PGE checks above with general diagnostics a
// bring-up log would want.
func LogFeatures(printf func(format string, args ...interface{})) {
	printf("[cpu] nx=%t pge=%t avx2=%t rdtscp=%t erms=%t\n",
		HasNX(), HasPGE(), cpu.X86.HasAVX2, cpu.X86.HasRDTSCP, cpu.X86.HasERMS)
}

// irqController adapts the package-level register primitives to the
// interface kernel/sync.IRQSpinlock expects.
type irqController struct{}

func (irqController) InterruptsEnabled() bool { return InterruptsEnabled() }
func (irqController) DisableInterrupts()      { DisableInterrupts() }
func (irqController) EnableInterrupts()       { EnableInterrupts() }

func init() {
	ksync.SetIRQController(irqController{})
}
