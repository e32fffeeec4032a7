package acpipm

import (
	"github.com/alnyan/acpi-system/device/acpi/table"
	"github.com/alnyan/acpi-system/kernel"
)

// Port layout used by the test fixtures.
const (
	testSMIPort    uint16 = 0xb2
	testAcpiEnable uint8  = 0xa0

	testPM1aEvent   uint16 = 0x600 // status 0x600, enable 0x602
	testPM1aEnable  uint16 = 0x602
	testPM1aControl uint16 = 0x604
	testPM1bEvent   uint16 = 0x610 // status 0x610, enable 0x612
	testPM1bEnable  uint16 = 0x612
	testPM1bControl uint16 = 0x614

	testSCIVector uint16 = 9
)

func newTestFADT(flags uint32, dualBank bool) *table.FADT {
	fadt := &table.FADT{
		SCIInterrupt:     testSCIVector,
		SMICommandPort:   uint32(testSMIPort),
		AcpiEnable:       testAcpiEnable,
		AcpiDisable:      0xa1,
		PM1aEventBlock:   uint32(testPM1aEvent),
		PM1aControlBlock: uint32(testPM1aControl),
		PM1EventLength:   4,
		PM1ControlLength: 2,
		Flags:            table.FlagWBINVD | flags,
	}
	copy(fadt.Signature[:], table.SignatureFADT)

	if dualBank {
		fadt.PM1bEventBlock = uint32(testPM1bEvent)
		fadt.PM1bControlBlock = uint32(testPM1bControl)
	}

	return fadt
}

type mockResolver struct {
	fadt *table.FADT
}

func (r *mockResolver) LookupTable(name string) *table.SDTHeader {
	if name != table.SignatureFADT || r.fadt == nil {
		return nil
	}

	return &r.fadt.SDTHeader
}

// ioOp records one side-effecting handler call so tests can assert ordering.
type ioOp struct {
	kind  uint8
	port  uint16
	value uint32
}

const (
	opPortWrite uint8 = iota
	opFlushCaches
	opHalt
)

// mockHandler simulates the fixed hardware register file. Ports listed in
// w1cPorts follow write-1-to-clear semantics like the PM1 status registers.
type mockHandler struct {
	ports    map[uint16]uint32
	w1cPorts map[uint16]bool
	mem      map[uint64]uint64

	ops    []ioOp
	stalls int

	sciVector    uint16
	sciDispatch  func()
	sciInstalled bool

	// afterWrite, when set, runs after each port write and can mutate the
	// simulated register file (firmware handshake acks, event races).
	afterWrite func(h *mockHandler, port uint16, value uint32)

	// ioErr, when set, is returned by every port access.
	ioErr *kernel.Error
}

func newMockHandler() *mockHandler {
	return &mockHandler{
		ports: make(map[uint16]uint32),
		w1cPorts: map[uint16]bool{
			testPM1aEvent: true,
			testPM1bEvent: true,
		},
		mem: make(map[uint64]uint64),
	}
}

// ackACPIEnable simulates firmware that acknowledges the mode transition as
// soon as the enable command hits the SMI port.
func (h *mockHandler) ackACPIEnable() {
	prev := h.afterWrite
	h.afterWrite = func(h *mockHandler, port uint16, value uint32) {
		if port == testSMIPort && uint8(value) == testAcpiEnable {
			h.ports[testPM1aControl] |= 1 << sciEnableBit
		}
		if prev != nil {
			prev(h, port, value)
		}
	}
}

func (h *mockHandler) portWrites(port uint16) []uint32 {
	var values []uint32
	for _, op := range h.ops {
		if op.kind == opPortWrite && op.port == port {
			values = append(values, op.value)
		}
	}
	return values
}

func (h *mockHandler) halted() bool {
	for _, op := range h.ops {
		if op.kind == opHalt {
			return true
		}
	}
	return false
}

func (h *mockHandler) flushed() bool {
	for _, op := range h.ops {
		if op.kind == opFlushCaches {
			return true
		}
	}
	return false
}

func (h *mockHandler) read(port uint16) (uint32, *kernel.Error) {
	if h.ioErr != nil {
		return 0, h.ioErr
	}
	return h.ports[port], nil
}

func (h *mockHandler) write(port uint16, value uint32) *kernel.Error {
	if h.ioErr != nil {
		return h.ioErr
	}

	if h.w1cPorts[port] {
		h.ports[port] &^= value
	} else {
		h.ports[port] = value
	}

	h.ops = append(h.ops, ioOp{kind: opPortWrite, port: port, value: value})

	if h.afterWrite != nil {
		h.afterWrite(h, port, value)
	}

	return nil
}

func (h *mockHandler) IOReadByte(port uint16) (uint8, *kernel.Error) {
	v, err := h.read(port)
	return uint8(v), err
}

func (h *mockHandler) IOReadWord(port uint16) (uint16, *kernel.Error) {
	v, err := h.read(port)
	return uint16(v), err
}

func (h *mockHandler) IOReadDword(port uint16) (uint32, *kernel.Error) {
	return h.read(port)
}

func (h *mockHandler) IOWriteByte(port uint16, value uint8) *kernel.Error {
	return h.write(port, uint32(value))
}

func (h *mockHandler) IOWriteWord(port uint16, value uint16) *kernel.Error {
	return h.write(port, uint32(value))
}

func (h *mockHandler) IOWriteDword(port uint16, value uint32) *kernel.Error {
	return h.write(port, value)
}

func (h *mockHandler) MemReadByte(addr uint64) (uint8, *kernel.Error) {
	return uint8(h.mem[addr]), nil
}

func (h *mockHandler) MemReadWord(addr uint64) (uint16, *kernel.Error) {
	return uint16(h.mem[addr]), nil
}

func (h *mockHandler) MemReadDword(addr uint64) (uint32, *kernel.Error) {
	return uint32(h.mem[addr]), nil
}

func (h *mockHandler) MemReadQword(addr uint64) (uint64, *kernel.Error) {
	return h.mem[addr], nil
}

func (h *mockHandler) MemWriteByte(addr uint64, value uint8) *kernel.Error {
	h.mem[addr] = uint64(value)
	return nil
}

func (h *mockHandler) MemWriteWord(addr uint64, value uint16) *kernel.Error {
	h.mem[addr] = uint64(value)
	return nil
}

func (h *mockHandler) MemWriteDword(addr uint64, value uint32) *kernel.Error {
	h.mem[addr] = uint64(value)
	return nil
}

func (h *mockHandler) MemWriteQword(addr uint64, value uint64) *kernel.Error {
	h.mem[addr] = value
	return nil
}

func (h *mockHandler) InstallSCIHandler(irq uint16, fn func()) *kernel.Error {
	h.sciVector = irq
	h.sciDispatch = fn
	h.sciInstalled = true
	return nil
}

func (h *mockHandler) Stall(usec uint32) {
	h.stalls++
}

func (h *mockHandler) FlushCaches() {
	h.ops = append(h.ops, ioOp{kind: opFlushCaches})
}

func (h *mockHandler) Halt() {
	h.ops = append(h.ops, ioOp{kind: opHalt})
}

type methodCall struct {
	path string
	arg  uint64
}

// mockEvaluator fakes the AML interpreter: methods listed in methods exist
// and evaluate successfully, everything else reports an absent object.
type mockEvaluator struct {
	methods  map[string]bool
	packages map[string][]uint64
	invoked  []methodCall
}

func newMockEvaluator() *mockEvaluator {
	return &mockEvaluator{
		methods:  make(map[string]bool),
		packages: make(map[string][]uint64),
	}
}

func (m *mockEvaluator) InvokeMethod(path string, arg uint64) *kernel.Error {
	m.invoked = append(m.invoked, methodCall{path: path, arg: arg})

	if !m.methods[path] {
		return ErrMissingControlMethod
	}

	return nil
}

func (m *mockEvaluator) EvaluatePackage(path string) ([]uint64, *kernel.Error) {
	pkg, exists := m.packages[path]
	if !exists {
		return nil, ErrMissingControlMethod
	}

	return pkg, nil
}

func (m *mockEvaluator) calls(path string) []methodCall {
	var out []methodCall
	for _, call := range m.invoked {
		if call.path == path {
			out = append(out, call)
		}
	}
	return out
}
