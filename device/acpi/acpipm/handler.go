package acpipm

import "github.com/alnyan/acpi-system/kernel"

// Handler supplies the host capabilities that the power-management subsystem
// depends on: raw port and physical memory access, SCI handler registration
// and a few timing/CPU primitives. The embedding kernel implements it once
// and passes it to New; the subsystem never touches hardware any other way.
//
// All accessors report faults explicitly so that a faulted register access
// can be propagated to the caller instead of crashing the kernel.
type Handler interface {
	// Port I/O.
	IOReadByte(port uint16) (uint8, *kernel.Error)
	IOReadWord(port uint16) (uint16, *kernel.Error)
	IOReadDword(port uint16) (uint32, *kernel.Error)
	IOWriteByte(port uint16, value uint8) *kernel.Error
	IOWriteWord(port uint16, value uint16) *kernel.Error
	IOWriteDword(port uint16, value uint32) *kernel.Error

	// Physical memory access for register blocks that live in the system
	// memory address space.
	MemReadByte(addr uint64) (uint8, *kernel.Error)
	MemReadWord(addr uint64) (uint16, *kernel.Error)
	MemReadDword(addr uint64) (uint32, *kernel.Error)
	MemReadQword(addr uint64) (uint64, *kernel.Error)
	MemWriteByte(addr uint64, value uint8) *kernel.Error
	MemWriteWord(addr uint64, value uint16) *kernel.Error
	MemWriteDword(addr uint64, value uint32) *kernel.Error
	MemWriteQword(addr uint64, value uint64) *kernel.Error

	// InstallSCIHandler wires fn to the system control interrupt vector.
	// The host must invoke fn from its interrupt entry path whenever the
	// SCI fires.
	InstallSCIHandler(irq uint16, fn func()) *kernel.Error

	// Stall busy-waits for the given number of microseconds. It is used
	// by the bounded polling loops and must not yield to a scheduler.
	Stall(usec uint32)

	// FlushCaches writes back and invalidates the CPU caches (WBINVD on
	// x86). The sleep sequence calls it right before the final register
	// write.
	FlushCaches()

	// Halt stops instruction execution. It is the last thing called on
	// the way into S5 and does not return on real hardware.
	Halt()
}

// Evaluator is the narrow interface to the AML interpreter. Control-method
// evaluation is inherently dynamic; the subsystem only ever needs to invoke
// a named method with a single integer argument or to read a package of
// integers, so that is all the interface exposes.
//
// Implementations must return ErrMissingControlMethod when the named object
// does not exist in the namespace; the subsystem decides per call site
// whether absence is fatal.
type Evaluator interface {
	// InvokeMethod executes the control method at the given namespace
	// path with a single integer argument, discarding any result.
	InvokeMethod(path string, arg uint64) *kernel.Error

	// EvaluatePackage evaluates the named object and returns its package
	// elements converted to integers.
	EvaluatePackage(path string) ([]uint64, *kernel.Error)
}
