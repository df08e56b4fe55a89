package sync

// irqController abstracts the two CPU primitives an IRQSpinlock needs:
// reading/restoring the interrupt-enable flag and disabling interrupts. It is
// satisfied by kernel/cpu; kept as an interface here (rather than importing
// kernel/cpu directly) to avoid a cross-package build-tag dependency and to
// let hosted tests supply a fake.
type irqController interface {
	InterruptsEnabled() bool
	DisableInterrupts()
	EnableInterrupts()
}

// archIRQController is installed by kernel/cpu's init so that IRQSpinlock can
// reach the real CLI/STI/pushfq primitives without an import cycle
// (kernel/cpu does not need to know about kernel/sync).
var archIRQController irqController

// SetIRQController installs the arch-specific interrupt controller. Called
// once from kernel/cpu's package init.
func SetIRQController(c irqController) {
	archIRQController = c
}

// IRQSpinlock is a Spinlock that also disables interrupts on the local CPU
// for the duration of the critical section and restores the prior interrupt
// state on release, exactly as required by spec.md §5: any lock in this core
// must be acquired with interrupts disabled so an interrupt handler calling
// back into the same lock cannot deadlock.
type IRQSpinlock struct {
	lock          Spinlock
	savedIRQState bool
}

// Acquire disables interrupts, remembers whether they were previously
// enabled, and then acquires the underlying spinlock.
func (l *IRQSpinlock) Acquire() {
	var wasEnabled bool
	if archIRQController != nil {
		wasEnabled = archIRQController.InterruptsEnabled()
		archIRQController.DisableInterrupts()
	}

	l.lock.Acquire()
	l.savedIRQState = wasEnabled
}

// Release releases the underlying spinlock and restores the interrupt state
// that was active immediately before the matching Acquire call.
func (l *IRQSpinlock) Release() {
	wasEnabled := l.savedIRQState
	l.lock.Release()

	if wasEnabled && archIRQController != nil {
		archIRQController.EnableInterrupts()
	}
}
