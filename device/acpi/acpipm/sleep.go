package acpipm

import (
	"sync/atomic"

	"github.com/alnyan/acpi-system/device/acpi/table"
	"github.com/alnyan/acpi-system/kernel"
	"github.com/alnyan/acpi-system/kernel/kfmt"
)

// SleepState identifies an ACPI system sleep state. Only S5 (soft-off) is
// currently supported by EnterSleep.
type SleepState uint8

// The ACPI sleep states.
const (
	SleepStateS0 SleepState = iota
	SleepStateS1
	SleepStateS2
	SleepStateS3
	SleepStateS4
	SleepStateS5
)

// sleepStateObjects names the firmware package objects that carry the
// SLP_TYP values for each sleep state.
var sleepStateObjects = [...]string{
	`\_S0_`, `\_S1_`, `\_S2_`, `\_S3_`, `\_S4_`, `\_S5_`,
}

const (
	pathPrepareToSleep = `\_PTS`
	pathGoToSleep      = `\_GTS`
	pathSystemStatus   = `\_SI._SST`

	// _SST argument: no system status indicator.
	sstIndicatorOff = 0

	// SLP_TYP is a 3-bit field; firmware values outside it are bogus.
	maxSleepTypeValue = 7
)

// EnterSleep puts the machine into the requested sleep state. For S5 this
// notifies the firmware (_PTS, _GTS and the _SST status indicator), masks
// the fixed events, clears the wake status and then writes SLP_TYP followed
// by SLP_EN into every PM1 control bank.
//
// The transition moves the system into a terminal sleeping state up front,
// so event enablement and dispatch are refused while the hardware is being
// torn down. On success the call does not return: the final register write
// removes power. An error before that write rolls the system back to ready
// and is recoverable; the firmware notification methods are evaluated
// before the first register is touched so a missing or broken method never
// leaves the hardware half-configured.
func (sys *System) EnterSleep(state SleepState) *kernel.Error {
	if state != SleepStateS5 {
		return ErrInvalidSleepState
	}
	if !atomic.CompareAndSwapUint32(&sys.state, stateReady, stateSleeping) {
		return ErrNotInitialized
	}

	if err := sys.enterSleep(state); err != nil {
		atomic.StoreUint32(&sys.state, stateReady)
		return err
	}

	// Halt does not return on real hardware; this is only reachable with
	// a test handler. The sleeping state stays committed either way.
	return nil
}

func (sys *System) enterSleep(state SleepState) *kernel.Error {
	kfmt.Printf("[acpipm] entering sleep state S%d\n", uint8(state))

	typeA, typeB, err := sys.sleepTypeValues(state)
	if err != nil {
		return err
	}

	if err = sys.notifySleep(state); err != nil {
		return err
	}

	// Quiesce event sources that are irrelevant for wake from S5 and
	// clear the wake status bit so the hardware starts the transition
	// from a clean slate.
	if err = sys.quiesceFixedEvents(); err != nil {
		return err
	}
	if err = sys.writeRegister(regPM1Status, 1<<wakeStatusBit); err != nil {
		return err
	}

	control, err := sys.readRegister(regPM1Control)
	if err != nil {
		return err
	}
	control &^= sleepTypeMask | (1 << sleepEnableBit)

	controlA := control | uint32(typeA)<<sleepTypeShift
	controlB := control | uint32(typeB)<<sleepTypeShift

	// Program SLP_TYP with SLP_EN still clear, then set SLP_EN in a
	// second write. Dirty cache lines are flushed in between when the
	// platform implements WBINVD; once power drops there is no writeback.
	if err = sys.writePM1Control(controlA, controlB); err != nil {
		return err
	}

	if sys.fadt.Flags&table.FlagWBINVD != 0 {
		sys.handler.FlushCaches()
	}

	// Point of no return. Both banks must see SLP_EN as close together
	// as the platform allows; writePM1Control issues the bank writes
	// back to back with nothing in between.
	slpEn := uint32(1) << sleepEnableBit
	if err = sys.writePM1Control(controlA|slpEn, controlB|slpEn); err != nil {
		return err
	}

	sys.handler.Halt()

	return nil
}

// sleepTypeValues evaluates the \_Sx package for the requested state and
// returns the per-bank SLP_TYP values. The lookup is performed on every
// transition; firmware may patch the namespace at runtime so the values are
// never cached.
func (sys *System) sleepTypeValues(state SleepState) (uint8, uint8, *kernel.Error) {
	elements, err := sys.eval.EvaluatePackage(sleepStateObjects[state])
	if err == ErrMissingControlMethod {
		// The firmware does not implement this state at all.
		return 0, 0, ErrInvalidSleepState
	}
	if err != nil {
		return 0, 0, err
	}

	if len(elements) < 2 {
		return 0, 0, ErrInvalidSleepState
	}

	typeA, typeB := elements[0], elements[1]
	if typeA > maxSleepTypeValue || typeB > maxSleepTypeValue {
		return 0, 0, ErrInvalidSleepState
	}

	return uint8(typeA), uint8(typeB), nil
}

// notifySleep runs the firmware notification methods that precede a sleep
// transition: _PTS ("prepare to sleep") and _GTS ("going to sleep") with the
// numeric state, then _SST to turn off the system status indicator. All
// three are optional and subject to the configured method policy.
func (sys *System) notifySleep(state SleepState) *kernel.Error {
	if err := sys.invokeOptional(pathPrepareToSleep, uint64(state)); err != nil {
		return err
	}

	if err := sys.invokeOptional(pathGoToSleep, uint64(state)); err != nil {
		return err
	}

	return sys.invokeOptional(pathSystemStatus, sstIndicatorOff)
}
