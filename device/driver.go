// Package device defines the driver interfaces implemented by hardware
// subsystems and a registry the kernel HAL uses to probe them in order.
package device

import (
	"io"

	"github.com/alnyan/acpi-system/kernel"
)

// Driver is an interface implemented by all drivers.
type Driver interface {
	// DriverName returns the name of the driver.
	DriverName() string

	// DriverVersion returns the driver version.
	DriverVersion() (major uint16, minor uint16, patch uint16)

	// DriverInit initializes the device driver. If the driver init code
	// needs to log some output, it can use the supplied io.Writer in
	// conjunction with a call to kfmt.Fprintf.
	DriverInit(io.Writer) *kernel.Error
}

// ProbeFn is a function that scans for the presence of a particular
// piece of hardware and returns a driver for it.
type ProbeFn func() Driver

// DetectOrder specifies when each driver probe should run relative to the
// other registered drivers.
type DetectOrder int

// The supported detection orders.
const (
	DetectOrderEarly      DetectOrder = -128
	DetectOrderBeforeACPI DetectOrder = -1
	DetectOrderACPI       DetectOrder = 0
	DetectOrderLast       DetectOrder = 127
)

// DriverInfo associates a driver probe with its detection order.
type DriverInfo struct {
	Order DetectOrder
	Probe ProbeFn
}

// DriverInfoList is a list of DriverInfo entries that implements
// sort.Interface using the detection order of each entry as the sort key.
type DriverInfoList []*DriverInfo

// Len returns the number of entries in the list.
func (l DriverInfoList) Len() int { return len(l) }

// Swap exchanges 2 list entries.
func (l DriverInfoList) Swap(i, j int) { l[i], l[j] = l[j], l[i] }

// Less reports whether entry i should be probed before entry j.
func (l DriverInfoList) Less(i, j int) bool { return l[i].Order < l[j].Order }

var registeredDrivers DriverInfoList

// RegisterDriver adds the supplied driver info to the list of drivers that
// the HAL will probe at boot time.
func RegisterDriver(info *DriverInfo) {
	registeredDrivers = append(registeredDrivers, info)
}

// DriverList returns the list of registered drivers.
func DriverList() DriverInfoList {
	return registeredDrivers
}
