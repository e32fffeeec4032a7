package acpipm

import (
	"github.com/alnyan/acpi-system/device/acpi/table"
	"github.com/alnyan/acpi-system/kernel"
)

// register identifies one of the fixed PM1 register pairs. Each register may
// be backed by one or two hardware banks (PM1a/PM1b); reads OR the banks
// together and writes are applied to every bank so the banks can never
// disagree on event enablement.
type register uint8

const (
	regPM1Status register = iota
	regPM1Enable
	regPM1Control
)

const (
	// pm1StatusPreserved marks PM1 status bits that must never be cleared
	// by a write-1-to-clear cycle (bit 11 is reserved by ACPI).
	pm1StatusPreserved uint32 = 1 << 11

	// PM1 control register layout.
	sciEnableBit          = 0
	sleepTypeShift        = 10
	sleepTypeMask  uint32 = 0x7 << sleepTypeShift
	sleepEnableBit        = 13

	// PM1 status register layout.
	wakeStatusBit = 15
)

// pm1Banks holds the resolved register addresses for the PM1 register set.
// The event block halves are split up front: the first half of each event
// block is the status register, the second half the enable register.
type pm1Banks struct {
	statusA table.GenericAddress
	enableA table.GenericAddress
	statusB table.GenericAddress
	enableB table.GenericAddress
	hasEvtB bool

	controlA table.GenericAddress
	controlB table.GenericAddress
	hasCtlB  bool
}

var (
	errNoPM1Blocks       = &kernel.Error{Module: "acpipm", Message: "FADT defines no PM1 register blocks"}
	errHWReducedPlatform = &kernel.Error{Module: "acpipm", Message: "hardware-reduced platform exposes no fixed registers"}
)

// resolveBanks builds the PM1 bank layout from the FADT register block
// definitions. Hardware-reduced platforms declare no fixed register space at
// all and are rejected up front.
func resolveBanks(fadt *table.FADT) (pm1Banks, *kernel.Error) {
	var banks pm1Banks

	if fadt.Flags&table.FlagHWReducedACPI != 0 {
		return banks, errHWReducedPlatform
	}

	evtA := fadt.PM1aEvent()
	ctlA := fadt.PM1aControl()
	if evtA.Address == 0 || ctlA.Address == 0 {
		return banks, errNoPM1Blocks
	}

	banks.statusA, banks.enableA = splitEventBlock(evtA)
	banks.controlA = ctlA

	if evtB, ok := fadt.PM1bEvent(); ok {
		banks.statusB, banks.enableB = splitEventBlock(evtB)
		banks.hasEvtB = true
	}

	if ctlB, ok := fadt.PM1bControl(); ok {
		banks.controlB = ctlB
		banks.hasCtlB = true
	}

	return banks, nil
}

// splitEventBlock splits a PM1 event block into its status and enable
// halves. The block covers both registers back to back; each half is
// PM1_EVT_LEN/2 bytes wide.
func splitEventBlock(block table.GenericAddress) (status, enable table.GenericAddress) {
	halfBits := block.BitWidth / 2

	status = block
	status.BitWidth = halfBits

	enable = block
	enable.BitWidth = halfBits
	enable.Address += uint64(halfBits / 8)

	return status, enable
}

// readRegister returns the combined value of all banks backing the given
// register. Dual-bank hardware reports the union of both banks, matching the
// fixed-hardware model where a feature bit may live in either bank.
func (sys *System) readRegister(reg register) (uint32, *kernel.Error) {
	switch reg {
	case regPM1Status:
		return sys.readRegisterPair(sys.banks.statusA, sys.banks.statusB, sys.banks.hasEvtB)
	case regPM1Enable:
		return sys.readRegisterPair(sys.banks.enableA, sys.banks.enableB, sys.banks.hasEvtB)
	default:
		return sys.readRegisterPair(sys.banks.controlA, sys.banks.controlB, sys.banks.hasCtlB)
	}
}

// writeRegister writes the same value to every bank backing the given
// register. Status writes follow write-1-to-clear semantics, so the reserved
// status bits are masked off to keep them from being cleared by accident.
// The PM1 control register is excluded: its banks receive distinct values
// during a sleep transition and must go through writePM1Control.
func (sys *System) writeRegister(reg register, value uint32) *kernel.Error {
	switch reg {
	case regPM1Status:
		value &^= pm1StatusPreserved
		return sys.writeRegisterPair(sys.banks.statusA, sys.banks.statusB, sys.banks.hasEvtB, value)
	default:
		return sys.writeRegisterPair(sys.banks.enableA, sys.banks.enableB, sys.banks.hasEvtB, value)
	}
}

// writePM1Control writes a separate value to each PM1 control bank. The
// sleep sequence needs this because each bank carries its own SLP_TYP value.
func (sys *System) writePM1Control(valueA, valueB uint32) *kernel.Error {
	if err := sys.writeAddress(sys.banks.controlA, uint64(valueA)); err != nil {
		return err
	}

	if sys.banks.hasCtlB {
		return sys.writeAddress(sys.banks.controlB, uint64(valueB))
	}

	return nil
}

func (sys *System) readRegisterPair(regA, regB table.GenericAddress, hasB bool) (uint32, *kernel.Error) {
	valueA, err := sys.readAddress(regA)
	if err != nil {
		return 0, err
	}

	var valueB uint64
	if hasB {
		if valueB, err = sys.readAddress(regB); err != nil {
			return 0, err
		}
	}

	return uint32(valueA) | uint32(valueB), nil
}

func (sys *System) writeRegisterPair(regA, regB table.GenericAddress, hasB bool, value uint32) *kernel.Error {
	if err := sys.writeAddress(regA, uint64(value)); err != nil {
		return err
	}

	if hasB {
		return sys.writeAddress(regB, uint64(value))
	}

	return nil
}

// accessBitWidth computes the width of the individual accesses used to read
// or write a generic address. A register whose bit width is a byte-aligned
// power of two is accessed in one go; otherwise the declared access size
// wins, and failing that the width is inferred from the register extent.
// Port I/O accesses are capped at 32 bits.
func accessBitWidth(reg table.GenericAddress) uint32 {
	var width uint32

	switch {
	case reg.BitOffset == 0 && reg.BitWidth != 0 &&
		isPow2(uint32(reg.BitWidth)) && reg.BitWidth%8 == 0:
		width = uint32(reg.BitWidth)
	case reg.AccessSize != table.AccessSizeUndefined:
		width = 4 << reg.AccessSize
	default:
		width = nextPow2(uint32(reg.BitOffset) + uint32(reg.BitWidth))
		if width < 8 {
			width = 8
		}
	}

	if width > 64 {
		width = 64
	}
	if reg.Space == table.AddressSpaceSysIO && width > 32 {
		width = 32
	}

	return width
}

// readAddress reads the register described by reg, assembling the value from
// as many naturally-sized accesses as its bit width requires.
func (sys *System) readAddress(reg table.GenericAddress) (uint64, *kernel.Error) {
	var (
		value  uint64
		access = accessBitWidth(reg)
		skip   = uint32(reg.BitOffset)
		left   = uint32(reg.BitOffset) + uint32(reg.BitWidth)
	)

	for index := uint32(0); left != 0; index++ {
		var chunk uint64

		if skip >= access {
			// This chunk lies entirely before the register bits.
			skip -= access
		} else {
			addr := reg.Address + uint64(index*access/8)

			var err *kernel.Error
			if chunk, err = sys.readChunk(reg.Space, addr, access); err != nil {
				return 0, err
			}
		}

		value |= (chunk & widthMask(access)) << (index * access)

		if left <= access {
			break
		}
		left -= access
	}

	return value, nil
}

// writeAddress writes value into the register described by reg, splitting it
// into naturally-sized accesses.
func (sys *System) writeAddress(reg table.GenericAddress, value uint64) *kernel.Error {
	var (
		access = accessBitWidth(reg)
		skip   = uint32(reg.BitOffset)
		left   = uint32(reg.BitOffset) + uint32(reg.BitWidth)
	)

	for index := uint32(0); left != 0; index++ {
		chunk := (value >> (index * access)) & widthMask(access)

		if skip >= access {
			skip -= access
		} else {
			addr := reg.Address + uint64(index*access/8)
			if err := sys.writeChunk(reg.Space, addr, access, chunk); err != nil {
				return err
			}
		}

		if left <= access {
			break
		}
		left -= access
	}

	return nil
}

var errBadAddressSpace = &kernel.Error{Module: "acpipm", Message: "register uses an unsupported address space"}
var errBadAccessWidth = &kernel.Error{Module: "acpipm", Message: "register uses an unsupported access width"}

func (sys *System) readChunk(space table.AddressSpace, addr uint64, width uint32) (uint64, *kernel.Error) {
	switch space {
	case table.AddressSpaceSysIO:
		port := uint16(addr)
		switch width {
		case 8:
			v, err := sys.handler.IOReadByte(port)
			return uint64(v), err
		case 16:
			v, err := sys.handler.IOReadWord(port)
			return uint64(v), err
		case 32:
			v, err := sys.handler.IOReadDword(port)
			return uint64(v), err
		}
		return 0, errBadAccessWidth
	case table.AddressSpaceSysMemory:
		switch width {
		case 8:
			v, err := sys.handler.MemReadByte(addr)
			return uint64(v), err
		case 16:
			v, err := sys.handler.MemReadWord(addr)
			return uint64(v), err
		case 32:
			v, err := sys.handler.MemReadDword(addr)
			return uint64(v), err
		case 64:
			return sys.handler.MemReadQword(addr)
		}
		return 0, errBadAccessWidth
	default:
		return 0, errBadAddressSpace
	}
}

func (sys *System) writeChunk(space table.AddressSpace, addr uint64, width uint32, value uint64) *kernel.Error {
	switch space {
	case table.AddressSpaceSysIO:
		port := uint16(addr)
		switch width {
		case 8:
			return sys.handler.IOWriteByte(port, uint8(value))
		case 16:
			return sys.handler.IOWriteWord(port, uint16(value))
		case 32:
			return sys.handler.IOWriteDword(port, uint32(value))
		}
		return errBadAccessWidth
	case table.AddressSpaceSysMemory:
		switch width {
		case 8:
			return sys.handler.MemWriteByte(addr, uint8(value))
		case 16:
			return sys.handler.MemWriteWord(addr, uint16(value))
		case 32:
			return sys.handler.MemWriteDword(addr, uint32(value))
		case 64:
			return sys.handler.MemWriteQword(addr, value)
		}
		return errBadAccessWidth
	default:
		return errBadAddressSpace
	}
}

func widthMask(bits uint32) uint64 {
	if bits >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << bits) - 1
}

func isPow2(v uint32) bool {
	return v != 0 && v&(v-1) == 0
}

func nextPow2(v uint32) uint32 {
	p := uint32(1)
	for p < v {
		p <<= 1
	}
	return p
}
