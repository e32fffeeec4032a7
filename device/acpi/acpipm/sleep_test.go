package acpipm

import (
	"testing"

	"github.com/alnyan/acpi-system/device/acpi/table"
	"github.com/alnyan/acpi-system/kernel"
)

func TestEnterSleep(t *testing.T) {
	t.Run("S5 power down sequence", func(t *testing.T) {
		sys, handler, eval := newReadySystem(t, 0, true)
		eval.packages[sleepStateObjects[SleepStateS5]] = []uint64{5, 4}
		eval.methods[pathPrepareToSleep] = true
		eval.methods[pathSystemStatus] = true

		if err := sys.EnterSleep(SleepStateS5); err != nil {
			t.Fatalf("expected EnterSleep to 'succeed' under the mock handler; got %v", err)
		}

		// _PTS must have been notified with the numeric state and _SST
		// with the indicator-off argument.
		if calls := eval.calls(pathPrepareToSleep); len(calls) != 1 || calls[0].arg != 5 {
			t.Fatalf("expected _PTS(5); got %v", calls)
		}
		if calls := eval.calls(pathSystemStatus); len(calls) != 1 || calls[0].arg != sstIndicatorOff {
			t.Fatalf("expected _SST(0); got %v", calls)
		}

		// Each control bank receives its own SLP_TYP value: first with
		// SLP_EN clear, then with SLP_EN set.
		slpEn := uint32(1) << sleepEnableBit
		sciEn := uint32(1) << sciEnableBit

		wantA := sciEn | 5<<sleepTypeShift
		wantB := sciEn | 4<<sleepTypeShift

		writesA := handler.portWrites(testPM1aControl)
		if len(writesA) != 2 || writesA[0] != wantA || writesA[1] != wantA|slpEn {
			t.Fatalf("expected PM1a control writes [0x%x 0x%x]; got %x", wantA, wantA|slpEn, writesA)
		}

		writesB := handler.portWrites(testPM1bControl)
		if len(writesB) != 2 || writesB[0] != wantB || writesB[1] != wantB|slpEn {
			t.Fatalf("expected PM1b control writes [0x%x 0x%x]; got %x", wantB, wantB|slpEn, writesB)
		}

		// The final sequence must be: program SLP_TYP in both banks,
		// flush caches, set SLP_EN in both banks back to back, halt.
		tail := handler.ops[len(handler.ops)-6:]
		expTail := []ioOp{
			{kind: opPortWrite, port: testPM1aControl, value: wantA},
			{kind: opPortWrite, port: testPM1bControl, value: wantB},
			{kind: opFlushCaches},
			{kind: opPortWrite, port: testPM1aControl, value: wantA | slpEn},
			{kind: opPortWrite, port: testPM1bControl, value: wantB | slpEn},
			{kind: opHalt},
		}
		for i, exp := range expTail {
			if tail[i] != exp {
				t.Fatalf("expected op %d of the final sequence to be %+v; got %+v", i, exp, tail[i])
			}
		}
	})

	t.Run("wake status cleared before the transition", func(t *testing.T) {
		sys, handler, eval := newReadySystem(t, 0, false)
		eval.packages[sleepStateObjects[SleepStateS5]] = []uint64{5, 5}

		handler.ports[testPM1aEvent] |= 1 << wakeStatusBit

		if err := sys.EnterSleep(SleepStateS5); err != nil {
			t.Fatal(err)
		}

		if handler.ports[testPM1aEvent]&(1<<wakeStatusBit) != 0 {
			t.Fatal("expected WAK_STS to be cleared on the way into S5")
		}
	})

	t.Run("unsupported sleep state", func(t *testing.T) {
		sys, handler, _ := newReadySystem(t, 0, false)
		opsBefore := len(handler.ops)

		for _, state := range []SleepState{SleepStateS0, SleepStateS1, SleepStateS3, SleepStateS4} {
			if err := sys.EnterSleep(state); err != ErrInvalidSleepState {
				t.Fatalf("expected ErrInvalidSleepState for S%d; got %v", uint8(state), err)
			}
		}

		if got := len(handler.ops); got != opsBefore {
			t.Fatal("expected no register access for an unsupported state")
		}
	})

	t.Run("firmware lacks the S5 object", func(t *testing.T) {
		sys, handler, _ := newReadySystem(t, 0, false)
		opsBefore := len(handler.ops)

		if err := sys.EnterSleep(SleepStateS5); err != ErrInvalidSleepState {
			t.Fatalf("expected ErrInvalidSleepState; got %v", err)
		}

		if got := len(handler.ops); got != opsBefore {
			t.Fatal("expected no register access when the S5 object is missing")
		}
	})

	t.Run("bogus SLP_TYP values", func(t *testing.T) {
		sys, handler, eval := newReadySystem(t, 0, false)
		eval.packages[sleepStateObjects[SleepStateS5]] = []uint64{8, 0}
		opsBefore := len(handler.ops)

		if err := sys.EnterSleep(SleepStateS5); err != ErrInvalidSleepState {
			t.Fatalf("expected ErrInvalidSleepState for an out-of-range SLP_TYP; got %v", err)
		}

		if got := len(handler.ops); got != opsBefore {
			t.Fatal("expected no register access for bogus SLP_TYP values")
		}
	})

	t.Run("truncated S5 package", func(t *testing.T) {
		sys, _, eval := newReadySystem(t, 0, false)
		eval.packages[sleepStateObjects[SleepStateS5]] = []uint64{5}

		if err := sys.EnterSleep(SleepStateS5); err != ErrInvalidSleepState {
			t.Fatalf("expected ErrInvalidSleepState for a truncated package; got %v", err)
		}
	})

	t.Run("foreground calls rejected mid-transition", func(t *testing.T) {
		sys, handler, eval := newReadySystem(t, 0, false)
		eval.packages[sleepStateObjects[SleepStateS5]] = []uint64{5, 0}

		// Race an event enablement against the transition: the hook fires
		// on the first control write, i.e. after the quiesce but before
		// the point of no return. Admitting it would undo the quiesce.
		raced := false
		var midErr *kernel.Error
		handler.afterWrite = func(h *mockHandler, port uint16, value uint32) {
			if port == testPM1aControl && !raced {
				raced = true
				midErr = sys.EnableFixedEvent(FixedEventPowerButton, nil)
			}
		}

		if err := sys.EnterSleep(SleepStateS5); err != nil {
			t.Fatal(err)
		}

		if !raced {
			t.Fatal("expected the control write hook to fire")
		}
		if midErr != ErrNotInitialized {
			t.Fatalf("expected mid-transition EnableFixedEvent to be rejected; got %v", midErr)
		}
		if got := handler.ports[testPM1aEnable]; got != 0 {
			t.Fatalf("expected the enable register to stay quiesced; got 0x%x", got)
		}
	})

	t.Run("sleeping state is terminal", func(t *testing.T) {
		sys, handler, eval := newReadySystem(t, 0, false)
		eval.packages[sleepStateObjects[SleepStateS5]] = []uint64{5, 0}

		if err := sys.EnterSleep(SleepStateS5); err != nil {
			t.Fatal(err)
		}

		if err := sys.EnterSleep(SleepStateS5); err != ErrNotInitialized {
			t.Fatalf("expected a second transition to be refused; got %v", err)
		}

		opsBefore := len(handler.ops)
		handler.ports[testPM1aEvent] |= 1 << 8
		sys.Dispatch()

		if got := len(handler.ops); got != opsBefore {
			t.Fatal("expected dispatch to be a no-op after the transition")
		}
	})

	t.Run("no cache flush without WBINVD", func(t *testing.T) {
		fadt := newTestFADT(0, false)
		fadt.Flags &^= table.FlagWBINVD

		handler := newMockHandler()
		handler.ackACPIEnable()

		eval := newMockEvaluator()
		eval.methods[pathPIC] = true
		eval.packages[sleepStateObjects[SleepStateS5]] = []uint64{5, 0}

		sys, err := New(&mockResolver{fadt: fadt}, handler, eval)
		if err != nil {
			t.Fatal(err)
		}
		if err = sys.Initialize(InterruptMethodAPIC); err != nil {
			t.Fatal(err)
		}

		if err = sys.EnterSleep(SleepStateS5); err != nil {
			t.Fatal(err)
		}

		if handler.flushed() {
			t.Fatal("expected no cache flush on a platform without WBINVD")
		}
		if !handler.halted() {
			t.Fatal("expected the transition to reach the halt")
		}
	})

	t.Run("requires initialization", func(t *testing.T) {
		sys, err := New(&mockResolver{fadt: newTestFADT(0, false)}, newMockHandler(), newMockEvaluator())
		if err != nil {
			t.Fatal(err)
		}

		if err := sys.EnterSleep(SleepStateS5); err != ErrNotInitialized {
			t.Fatalf("expected ErrNotInitialized; got %v", err)
		}
	})

	t.Run("absent _PTS with strict policy", func(t *testing.T) {
		sys, handler, eval := newReadySystem(t, 0, false)
		eval.packages[sleepStateObjects[SleepStateS5]] = []uint64{5, 5}
		sys.SetMethodPolicy(MethodPolicyStrict)

		opsBefore := len(handler.ops)

		if err := sys.EnterSleep(SleepStateS5); err != ErrMissingControlMethod {
			t.Fatalf("expected ErrMissingControlMethod; got %v", err)
		}

		// The failure happened before the point of no return: nothing
		// was written and the system stays usable.
		if got := len(handler.ops); got != opsBefore {
			t.Fatal("expected no register access after a strict policy failure")
		}

		sys.SetMethodPolicy(MethodPolicyLenient)
		if err := sys.EnterSleep(SleepStateS5); err != nil {
			t.Fatalf("expected the lenient retry to complete; got %v", err)
		}
		if !handler.halted() {
			t.Fatal("expected the retry to reach the halt")
		}
	})
}
