package acpipm

import (
	"sync/atomic"

	"github.com/alnyan/acpi-system/kernel"
	"github.com/alnyan/acpi-system/kernel/kfmt"
)

// FixedEvent identifies one of the fixed hardware events defined by the ACPI
// specification. Each event maps to a dedicated bit position shared by the
// PM1 status and enable registers.
type FixedEvent uint8

// The fixed hardware events.
const (
	FixedEventTimer FixedEvent = iota
	FixedEventGlobalLock
	FixedEventPowerButton
	FixedEventSleepButton
	FixedEventRTC

	fixedEventCount
)

// EventAction is returned by a fixed event handler to tell the dispatcher
// what to do after the event has been acknowledged.
type EventAction uint8

const (
	// EventActionNone acknowledges the event and carries on.
	EventActionNone EventAction = iota

	// EventActionPowerOff enters S5 straight from the dispatcher. This is
	// the conventional response to a power button press.
	EventActionPowerOff
)

// EventHandlerFunc is a host callback bound to a fixed event. It runs in
// interrupt context and must not block or allocate.
type EventHandlerFunc func(sys *System) EventAction

// fixedEventInfo carries the immutable per-event metadata: the shared
// status/enable bit position and the FADT flag that, when set, indicates the
// hardware implements the event as a control-method device instead of fixed
// register bits.
type fixedEventInfo struct {
	name       string
	bit        uint8
	absentFlag uint32
}

var fixedEvents = [fixedEventCount]fixedEventInfo{
	FixedEventTimer:       {name: "timer", bit: 0},
	FixedEventGlobalLock:  {name: "global lock", bit: 5},
	FixedEventPowerButton: {name: "power button", bit: 8, absentFlag: 1 << 4},
	FixedEventSleepButton: {name: "sleep button", bit: 9, absentFlag: 1 << 5},
	FixedEventRTC:         {name: "RTC alarm", bit: 10, absentFlag: 1 << 6},
}

// maxDispatchIterations caps the clear-and-reread loop in Dispatch. A
// variable so the event storm test can observe the bound.
var maxDispatchIterations = 4

// Name returns a human-readable name for the event.
func (e FixedEvent) Name() string {
	if e >= fixedEventCount {
		return "invalid"
	}
	return fixedEvents[e].name
}

// allEventBits returns the mask of PM1 bit positions occupied by fixed
// events.
func allEventBits() uint32 {
	var mask uint32
	for _, info := range fixedEvents {
		mask |= 1 << info.bit
	}
	return mask
}

// supportsEvent reports whether the hardware implements the event in the
// fixed register space, according to the FADT feature flags.
func (sys *System) supportsEvent(event FixedEvent) bool {
	if event >= fixedEventCount {
		return false
	}

	return sys.fadt.Flags&fixedEvents[event].absentFlag == 0
}

// EnableFixedEvent binds action to the given fixed event and sets its enable
// bit in every PM1 bank. Enabling an event that is already enabled replaces
// the bound action and is otherwise a no-op. Events may only be enabled once
// the subsystem is initialized; earlier enablement would be silently undone
// by the initialization quiesce.
func (sys *System) EnableFixedEvent(event FixedEvent, action EventHandlerFunc) *kernel.Error {
	if atomic.LoadUint32(&sys.state) != stateReady {
		return ErrNotInitialized
	}
	if !sys.supportsEvent(event) {
		return ErrUnsupportedFixedEvent
	}

	bit := uint32(1) << fixedEvents[event].bit

	sys.mu.Acquire()
	defer sys.mu.Release()

	// The action must be visible before the enable bit is published;
	// dispatch only looks at actions whose mask bit is set.
	sys.actions[event] = action

	if sys.enabledMask&bit != 0 {
		return nil
	}

	enable, err := sys.readRegister(regPM1Enable)
	if err != nil {
		return err
	}

	if err = sys.writeRegister(regPM1Enable, enable|bit); err != nil {
		return err
	}

	atomic.StoreUint32(&sys.enabledMask, sys.enabledMask|bit)

	return nil
}

// DisableFixedEvent clears the enable bit for the given fixed event in every
// PM1 bank. Disabling an event that is not enabled is a no-op.
func (sys *System) DisableFixedEvent(event FixedEvent) *kernel.Error {
	if atomic.LoadUint32(&sys.state) != stateReady {
		return ErrNotInitialized
	}
	if !sys.supportsEvent(event) {
		return ErrUnsupportedFixedEvent
	}

	bit := uint32(1) << fixedEvents[event].bit

	sys.mu.Acquire()
	defer sys.mu.Release()

	if sys.enabledMask&bit == 0 {
		return nil
	}

	// Unpublish the event before touching the hardware so a concurrent
	// dispatch cannot deliver it while the enable bit is being cleared.
	atomic.StoreUint32(&sys.enabledMask, sys.enabledMask&^bit)

	enable, err := sys.readRegister(regPM1Enable)
	if err != nil {
		return err
	}

	return sys.writeRegister(regPM1Enable, enable&^bit)
}

// quiesceFixedEvents masks all fixed events and clears any pending status
// bits. It runs during initialization and on the way into a sleep state.
func (sys *System) quiesceFixedEvents() *kernel.Error {
	atomic.StoreUint32(&sys.enabledMask, 0)

	if err := sys.writeRegister(regPM1Enable, 0); err != nil {
		return err
	}

	return sys.writeRegister(regPM1Status, allEventBits())
}

// Dispatch handles a system control interrupt. The host interrupt entry path
// must route the SCI here; InstallSCIHandler passes this method to the host
// during initialization.
//
// Dispatch reads the PM1 status registers, invokes the bound action once for
// every pending enabled event and acknowledges exactly those events with a
// write-1-to-clear cycle. The status register is then re-read so that an
// event asserting between the read and the clear is delivered within the
// same invocation; the loop is bounded to keep interrupt latency bounded
// during an event storm.
//
// Dispatch never returns an error: running in interrupt context there is
// nobody to return it to. Faults are counted and reported through
// DispatchFaults.
func (sys *System) Dispatch() {
	if atomic.LoadUint32(&sys.state) != stateReady {
		return
	}

	enabled := atomic.LoadUint32(&sys.enabledMask)
	if enabled == 0 {
		return
	}

	for iter := 0; iter < maxDispatchIterations; iter++ {
		status, err := sys.readRegister(regPM1Status)
		if err != nil {
			sys.noteDispatchFault()
			return
		}

		pending := status & enabled
		if pending == 0 {
			return
		}

		for event := FixedEvent(0); event < fixedEventCount; event++ {
			bit := uint32(1) << fixedEvents[event].bit
			if pending&bit == 0 {
				continue
			}

			kfmt.Printf("[acpipm] fixed event: %s\n", fixedEvents[event].name)

			action := sys.actions[event]
			if action == nil {
				// Enabled without an action; acknowledge and count it.
				sys.noteDispatchFault()
				continue
			}

			if action(sys) == EventActionPowerOff {
				if err := sys.EnterSleep(SleepStateS5); err != nil {
					sys.noteDispatchFault()
				}
			}
		}

		// Acknowledge exactly the bits that were delivered.
		if err = sys.writeRegister(regPM1Status, pending); err != nil {
			sys.noteDispatchFault()
			return
		}
	}

	// Still pending after the iteration cap; the next SCI picks it up.
	sys.noteDispatchFault()
}

// DispatchFaults returns the number of internal inconsistencies swallowed by
// Dispatch since boot. A host may watch this counter to detect broken event
// wiring.
func (sys *System) DispatchFaults() uint32 {
	return atomic.LoadUint32(&sys.dispatchFaults)
}

func (sys *System) noteDispatchFault() {
	atomic.AddUint32(&sys.dispatchFaults, 1)
}
