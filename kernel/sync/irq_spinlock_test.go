package sync

import "testing"

type fakeIRQController struct {
	enabled     bool
	disableCall int
	enableCall  int
}

func (f *fakeIRQController) InterruptsEnabled() bool { return f.enabled }
func (f *fakeIRQController) DisableInterrupts()      { f.disableCall++; f.enabled = false }
func (f *fakeIRQController) EnableInterrupts()       { f.enableCall++; f.enabled = true }

func TestIRQSpinlockRestoresPriorState(t *testing.T) {
	defer SetIRQController(nil)

	fake := &fakeIRQController{enabled: true}
	SetIRQController(fake)

	var l IRQSpinlock
	l.Acquire()
	if fake.enabled {
		t.Fatal("expected interrupts to be disabled while the lock is held")
	}
	l.Release()
	if !fake.enabled {
		t.Fatal("expected interrupts to be re-enabled after Release since they were enabled before Acquire")
	}

	// If interrupts were already disabled before Acquire, Release must not
	// turn them back on.
	fake.enabled = false
	l.Acquire()
	l.Release()
	if fake.enabled {
		t.Fatal("expected interrupts to remain disabled since they were disabled before Acquire")
	}
}
