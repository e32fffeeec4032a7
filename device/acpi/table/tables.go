// Package table defines the ACPI fixed-feature table structures consumed by
// the power-management subsystem. Locating, mapping and checksumming the
// tables is the job of the kernel's table enumeration driver; this package
// only describes their layout and provides typed views on the parsed data.
package table

// Resolver is an interface implemented by objects that can lookup an ACPI
// table by its name.
//
// LookupTable attempts to locate a table by name returning back a pointer to
// its standard header or nil if the table could not be found. The resolver
// must make sure that the entire table contents are mapped so they can be
// accessed by the caller.
type Resolver interface {
	LookupTable(string) *SDTHeader
}

// SignatureFADT is the table signature of the fixed ACPI description table.
const SignatureFADT = "FACP"

// SDTHeader defines the common header for all ACPI-related tables.
type SDTHeader struct {
	// The signature defines the table type.
	Signature [4]byte

	// The length of the table
	Length uint32

	// If this header belongs to a DSDT/SSDT table, the revision is also
	// used to indicate whether the AML VM should treat integers as 32-bits
	// (revision < 2) or 64-bits (revision >= 2).
	Revision uint8

	// A value that when added to the sum of all other bytes in the table
	// should result in the value 0.
	Checksum uint8

	// OEM specific information
	OEMID       [6]byte
	OEMTableID  [8]byte
	OEMRevision uint32

	// Information about the ASL compiler that generated this table
	CreatorID       uint32
	CreatorRevision uint32
}

// AddressSpace defines the location where a set of registers resides.
type AddressSpace uint8

// The list of supported address space types.
const (
	AddressSpaceSysMemory AddressSpace = iota
	AddressSpaceSysIO
	AddressSpacePCI
	AddressSpaceEmbController
	AddressSpaceSMBus
	AddressSpaceFuncFixedHW = 0x7f
)

// The access sizes that a GenericAddress may declare. A value of
// AccessSizeUndefined means the accessor must infer a width from the
// register's bit width and offset.
const (
	AccessSizeUndefined uint8 = iota
	AccessSizeByte
	AccessSizeWord
	AccessSizeDword
	AccessSizeQword
)

// GenericAddress specifies a register range located in a particular address
// space.
type GenericAddress struct {
	Space      AddressSpace
	BitWidth   uint8
	BitOffset  uint8
	AccessSize uint8
	Address    uint64
}

// PowerProfileType describes a power profile referenced by the FADT table.
type PowerProfileType uint8

// The list of supported power profile types
const (
	PowerProfileUnspecified PowerProfileType = iota
	PowerProfileDesktop
	PowerProfileMobile
	PowerProfileWorkstation
	PowerProfileEnterpriseServer
	PowerProfileSOHOServer
	PowerProfileAppliancePC
	PowerProfilePerformanceServer
)

// The FADT fixed-feature flag bits that are relevant to power management.
// A set control-method flag indicates that the corresponding fixed hardware
// register bits are NOT implemented and the feature is exposed as an AML
// device instead.
const (
	// FlagWBINVD indicates that the WBINVD instruction correctly flushes
	// the processor caches; the sleep sequence relies on it.
	FlagWBINVD uint32 = 1 << 0

	// FlagPowerButtonControlMethod indicates the power button is a
	// control-method device without fixed register bits.
	FlagPowerButtonControlMethod uint32 = 1 << 4

	// FlagSleepButtonControlMethod indicates the sleep button is a
	// control-method device without fixed register bits.
	FlagSleepButtonControlMethod uint32 = 1 << 5

	// FlagFixedRTCUnsupported indicates the RTC wake status is not
	// available in the fixed register space.
	FlagFixedRTCUnsupported uint32 = 1 << 6

	// FlagHWReducedACPI indicates a hardware-reduced platform which has
	// no fixed register blocks at all.
	FlagHWReducedACPI uint32 = 1 << 20
)

// FADT64 contains the 64-bit FADT extensions which are used by ACPI2+
type FADT64 struct {
	FirmwareControl uint64

	Dsdt uint64

	PM1aEventBlock   GenericAddress
	PM1bEventBlock   GenericAddress
	PM1aControlBlock GenericAddress
	PM1bControlBlock GenericAddress
	PM2ControlBlock  GenericAddress
	PMTimerBlock     GenericAddress
	GPE0Block        GenericAddress
	GPE1Block        GenericAddress
}

// FADT (Fixed ACPI Description Table) is an ACPI table containing information
// about fixed register blocks used for power management.
type FADT struct {
	SDTHeader

	FirmwareCtrl uint32
	Dsdt         uint32

	reserved uint8

	PreferredPowerManagementProfile PowerProfileType
	SCIInterrupt                    uint16
	SMICommandPort                  uint32
	AcpiEnable                      uint8
	AcpiDisable                     uint8
	S4BIOSReq                       uint8
	PSTATEControl                   uint8
	PM1aEventBlock                  uint32
	PM1bEventBlock                  uint32
	PM1aControlBlock                uint32
	PM1bControlBlock                uint32
	PM2ControlBlock                 uint32
	PMTimerBlock                    uint32
	GPE0Block                       uint32
	GPE1Block                       uint32
	PM1EventLength                  uint8
	PM1ControlLength                uint8
	PM2ControlLength                uint8
	PMTimerLength                   uint8
	GPE0Length                      uint8
	GPE1Length                      uint8
	GPE1Base                        uint8
	CStateControl                   uint8
	WorstC2Latency                  uint16
	WorstC3Latency                  uint16
	FlushSize                       uint16
	FlushStride                     uint16
	DutyOffset                      uint8
	DutyWidth                       uint8
	DayAlarm                        uint8
	MonthAlarm                      uint8
	Century                         uint8

	// Reserved in ACPI 1.0; used since ACPI 2.0+
	BootArchitectureFlags uint16

	reserved2 uint8
	Flags     uint32

	ResetReg GenericAddress

	ResetValue uint8
	reserved3  [3]uint8

	// 64-bit pointers to the above structures used by ACPI 2.0+
	Ext FADT64
}

// PM1aEvent returns the generic address of the PM1a event register block.
// The extended 64-bit address is preferred when the firmware provides one.
func (f *FADT) PM1aEvent() GenericAddress {
	return f.resolveBlock(f.Ext.PM1aEventBlock, f.PM1aEventBlock, f.PM1EventLength)
}

// PM1bEvent returns the generic address of the PM1b event register block.
// The second return value is false on single-bank hardware.
func (f *FADT) PM1bEvent() (GenericAddress, bool) {
	return f.resolveOptionalBlock(f.Ext.PM1bEventBlock, f.PM1bEventBlock, f.PM1EventLength)
}

// PM1aControl returns the generic address of the PM1a control register block.
func (f *FADT) PM1aControl() GenericAddress {
	return f.resolveBlock(f.Ext.PM1aControlBlock, f.PM1aControlBlock, f.PM1ControlLength)
}

// PM1bControl returns the generic address of the PM1b control register
// block. The second return value is false on single-bank hardware.
func (f *FADT) PM1bControl() (GenericAddress, bool) {
	return f.resolveOptionalBlock(f.Ext.PM1bControlBlock, f.PM1bControlBlock, f.PM1ControlLength)
}

// resolveBlock selects between the extended generic address and the legacy
// 32-bit I/O port form of a register block. The legacy form carries no width
// information of its own; the block byte length from the FADT is used
// instead.
func (f *FADT) resolveBlock(ext GenericAddress, legacyPort uint32, byteLen uint8) GenericAddress {
	if ext.Address != 0 {
		return ext
	}

	return GenericAddress{
		Space:    AddressSpaceSysIO,
		BitWidth: byteLen * 8,
		Address:  uint64(legacyPort),
	}
}

func (f *FADT) resolveOptionalBlock(ext GenericAddress, legacyPort uint32, byteLen uint8) (GenericAddress, bool) {
	if ext.Address == 0 && legacyPort == 0 {
		return GenericAddress{}, false
	}

	return f.resolveBlock(ext, legacyPort, byteLen), true
}
