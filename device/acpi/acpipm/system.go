// Package acpipm manages platform power state and fixed hardware events via
// the ACPI firmware interface. It owns the fixed PM1 register set, drives
// the firmware-to-OS ownership handshake, routes fixed events signalled over
// the system control interrupt to host callbacks and executes the S5
// power-down sequence.
//
// Table discovery and AML execution are collaborators: parsed tables come in
// through a table.Resolver, control methods are evaluated through an
// Evaluator and all hardware access happens through the host Handler.
package acpipm

import (
	"io"
	"sync/atomic"
	"unsafe"

	"github.com/alnyan/acpi-system/device"
	"github.com/alnyan/acpi-system/device/acpi/table"
	"github.com/alnyan/acpi-system/kernel"
	"github.com/alnyan/acpi-system/kernel/kfmt"
	ksync "github.com/alnyan/acpi-system/kernel/sync"
)

// InterruptMethod selects how the system control interrupt is routed. The
// numeric values are defined by the _PIC control method interface.
type InterruptMethod uint8

// The supported interrupt routing methods.
const (
	InterruptMethodPIC   InterruptMethod = 0
	InterruptMethodAPIC  InterruptMethod = 1
	InterruptMethodSAPIC InterruptMethod = 2
)

// MethodPolicy controls how the subsystem treats optional control methods
// (_PIC, _PTS, _GTS, _SST) that are absent from the firmware namespace.
type MethodPolicy uint8

const (
	// MethodPolicyLenient logs the absence and carries on with the
	// firmware defaults. This matches how most firmware expects to be
	// driven and is the default.
	MethodPolicyLenient MethodPolicy = iota

	// MethodPolicyStrict turns an absent optional method into
	// ErrMissingControlMethod.
	MethodPolicyStrict
)

// The subsystem error values.
var (
	ErrMissingFADT           = &kernel.Error{Module: "acpipm", Message: "could not locate ACPI FADT"}
	ErrAlreadyInitialized    = &kernel.Error{Module: "acpipm", Message: "subsystem is already initialized"}
	ErrNotInitialized        = &kernel.Error{Module: "acpipm", Message: "subsystem is not initialized"}
	ErrInitializationTimeout = &kernel.Error{Module: "acpipm", Message: "firmware did not acknowledge ACPI mode transition"}
	ErrModeTransitionUnsupported = &kernel.Error{
		Module:  "acpipm",
		Message: "firmware supports no ACPI mode transition",
	}
	ErrUnsupportedFixedEvent = &kernel.Error{Module: "acpipm", Message: "fixed event is not supported by this hardware"}
	ErrInvalidSleepState     = &kernel.Error{Module: "acpipm", Message: "sleep state is not supported"}

	// ErrMissingControlMethod is returned by Evaluator implementations
	// when a namespace object does not exist. It doubles as the failure
	// reported when an absent method is required by the active policy.
	ErrMissingControlMethod = &kernel.Error{Module: "acpipm", Message: "firmware control method is not present"}
)

// Lifecycle states. Transitions only ever move forward except for a failed
// handshake or a failed sleep transition, which roll back so the host may
// retry. The sleeping state is terminal: once a transition passes its point
// of no return nothing is admitted anymore.
const (
	stateUninitialized uint32 = iota
	stateInitializing
	stateReady
	stateSleeping
)

// Mode transition polling bounds. Variables so tests can shrink the window.
var (
	enablePollAttempts = 3000
	enablePollInterval = uint32(1000) // microseconds
)

const pathPIC = `\_PIC`

// System owns the fixed power-management hardware. A single instance is
// created at boot and lives for the whole OS session; a successful sleep
// transition is terminal.
type System struct {
	handler Handler
	eval    Evaluator

	fadt  *table.FADT
	banks pm1Banks

	// mu serializes foreground register updates. Dispatch never takes
	// it; everything it shares with foreground calls is accessed through
	// atomic loads (see enabledMask).
	mu ksync.Spinlock

	state  uint32
	method InterruptMethod

	methodPolicy    MethodPolicy
	preferredMethod InterruptMethod

	// enabledMask is the set of currently enabled fixed events, one bit
	// per PM1 status/enable bit position. Foreground calls publish
	// updates with an atomic replace so interrupt-context dispatch can
	// read it without locking.
	enabledMask uint32

	actions        [fixedEventCount]EventHandlerFunc
	dispatchFaults uint32
}

// New creates the power-management subsystem on top of the supplied
// collaborators. It locates the FADT and resolves the PM1 register banks but
// does not touch the hardware; that is deferred to Initialize.
func New(resolver table.Resolver, handler Handler, eval Evaluator) (*System, *kernel.Error) {
	header := resolver.LookupTable(table.SignatureFADT)
	if header == nil {
		return nil, ErrMissingFADT
	}

	fadt := (*table.FADT)(unsafe.Pointer(header))

	banks, err := resolveBanks(fadt)
	if err != nil {
		return nil, err
	}

	return &System{
		handler:         handler,
		eval:            eval,
		fadt:            fadt,
		banks:           banks,
		preferredMethod: InterruptMethodAPIC,
	}, nil
}

// SetMethodPolicy selects how absent optional control methods are treated.
// It must be called before Initialize.
func (sys *System) SetMethodPolicy(policy MethodPolicy) {
	sys.methodPolicy = policy
}

// SetPreferredInterruptMethod selects the interrupt method used when the
// subsystem is initialized through the driver registry rather than by a
// direct Initialize call.
func (sys *System) SetPreferredInterruptMethod(method InterruptMethod) {
	sys.preferredMethod = method
}

// InterruptMethod returns the committed interrupt routing method. Its value
// is only meaningful once Initialize has succeeded.
func (sys *System) InterruptMethod() InterruptMethod {
	return sys.method
}

// Initialize transitions power-management ownership from the firmware to the
// OS and commits the interrupt routing method. It performs the SMI command
// handshake with a bounded poll for the firmware acknowledgment, masks and
// clears all fixed events, installs the SCI handler and invokes _PIC exactly
// once with the numeric selector for the requested method.
//
// Initialize fails with ErrAlreadyInitialized when called on a system that
// is initialized or mid-initialization. A failed handshake rolls the system
// back so the call may be retried.
func (sys *System) Initialize(method InterruptMethod) *kernel.Error {
	if !atomic.CompareAndSwapUint32(&sys.state, stateUninitialized, stateInitializing) {
		return ErrAlreadyInitialized
	}

	if err := sys.initialize(method); err != nil {
		atomic.StoreUint32(&sys.state, stateUninitialized)
		return err
	}

	sys.method = method
	atomic.StoreUint32(&sys.state, stateReady)

	return nil
}

func (sys *System) initialize(method InterruptMethod) *kernel.Error {
	if err := sys.enterACPIMode(); err != nil {
		return err
	}

	// Mask every fixed event and clear stale status bits before the SCI
	// can fire: a pending bit left over from the firmware would be
	// dispatched as a phantom event otherwise.
	if err := sys.quiesceFixedEvents(); err != nil {
		return err
	}

	if err := sys.handler.InstallSCIHandler(sys.fadt.SCIInterrupt, sys.Dispatch); err != nil {
		return err
	}

	return sys.selectInterruptMethod(method)
}

// enterACPIMode performs the firmware handshake that enables the hardware
// part of ACPI. Writing the ACPI-enable command to the SMI command port asks
// the firmware to hand over the fixed hardware; the transfer is complete
// once the firmware sets SCI_EN in the PM1 control register.
func (sys *System) enterACPIMode() *kernel.Error {
	enabled, err := sys.acpiEnabled()
	if err != nil {
		return err
	}
	if enabled {
		return nil
	}

	if sys.fadt.AcpiEnable == 0 && sys.fadt.AcpiDisable == 0 {
		return ErrModeTransitionUnsupported
	}

	if err = sys.handler.IOWriteByte(uint16(sys.fadt.SMICommandPort), sys.fadt.AcpiEnable); err != nil {
		return err
	}

	for attempt := 0; attempt < enablePollAttempts; attempt++ {
		if enabled, err = sys.acpiEnabled(); err == nil && enabled {
			return nil
		}

		sys.handler.Stall(enablePollInterval)
	}

	return ErrInitializationTimeout
}

// acpiEnabled reports whether the firmware has already handed over the fixed
// hardware. A platform without an SMI command port is permanently in ACPI
// mode and needs no handshake.
func (sys *System) acpiEnabled() (bool, *kernel.Error) {
	if sys.fadt.SMICommandPort == 0 {
		return true, nil
	}

	control, err := sys.readRegister(regPM1Control)
	if err != nil {
		return false, err
	}

	return control&(1<<sciEnableBit) != 0, nil
}

// selectInterruptMethod tells the firmware which interrupt model the OS is
// going to use by invoking _PIC with the numeric selector. Firmware that
// declares no routing preference ships no _PIC method; under the lenient
// policy its absence falls back to the firmware default routing.
func (sys *System) selectInterruptMethod(method InterruptMethod) *kernel.Error {
	err := sys.eval.InvokeMethod(pathPIC, uint64(method))
	if err == ErrMissingControlMethod && sys.methodPolicy == MethodPolicyLenient {
		kfmt.Printf("[acpipm] %s not present; using firmware default routing\n", pathPIC)
		return nil
	}

	return err
}

// invokeOptional invokes an optional control method, applying the configured
// policy when the method is absent.
func (sys *System) invokeOptional(path string, arg uint64) *kernel.Error {
	err := sys.eval.InvokeMethod(path, arg)
	if err == ErrMissingControlMethod && sys.methodPolicy == MethodPolicyLenient {
		kfmt.Printf("[acpipm] %s not present; skipping\n", path)
		return nil
	}

	return err
}

// DriverName returns the name of this driver.
func (*System) DriverName() string {
	return "ACPI-PM"
}

// DriverVersion returns the version of this driver.
func (*System) DriverVersion() (uint16, uint16, uint16) {
	return 0, 1, 0
}

// DriverInit initializes this driver using the preferred interrupt method.
func (sys *System) DriverInit(w io.Writer) *kernel.Error {
	kfmt.Fprintf(w, "PM1a event block at 0x%x, control block at 0x%x\n",
		sys.banks.statusA.Address,
		sys.banks.controlA.Address,
	)
	if sys.banks.hasEvtB {
		kfmt.Fprintf(w, "PM1b event block at 0x%x\n", sys.banks.statusB.Address)
	}
	kfmt.Fprintf(w, "SCI vector %d\n", sys.fadt.SCIInterrupt)

	return sys.Initialize(sys.preferredMethod)
}

// ProbeWith returns a probe function bound to the given collaborators,
// suitable for registration with the device driver registry:
//
//	device.RegisterDriver(&device.DriverInfo{
//		Order: device.DetectOrderACPI,
//		Probe: acpipm.ProbeWith(tables, handler, eval),
//	})
func ProbeWith(resolver table.Resolver, handler Handler, eval Evaluator) device.ProbeFn {
	return func() device.Driver {
		sys, err := New(resolver, handler, eval)
		if err != nil {
			return nil
		}

		return sys
	}
}
