package vmi

// SegmentReg is a generic x86 segment register.
type SegmentReg struct {
	Base     uint64
	Limit    uint32
	Selector uint16
}

// SystemTableReg is a generic x86 descriptor table register (GDT/IDT).
type SystemTableReg struct {
	Base  uint64
	Limit uint16
}

// Registers is the CPU register state of one VCPU, tagged by architecture.
// X86Registers is the only variant currently defined.
type Registers interface {
	isRegisters()
}

// X86Registers carries the x86-64 register state readable through a driver.
// Only the general-purpose registers (RAX through R15, RIP, RFLAGS) are
// writable back; control, segment and table registers are read-only in
// this model.
type X86Registers struct {
	RAX    uint64
	RBX    uint64
	RCX    uint64
	RDX    uint64
	RSI    uint64
	RDI    uint64
	RSP    uint64
	RBP    uint64
	R8     uint64
	R9     uint64
	R10    uint64
	R11    uint64
	R12    uint64
	R13    uint64
	R14    uint64
	R15    uint64
	RIP    uint64
	RFLAGS uint64

	CR0 uint64
	CR2 uint64
	CR3 uint64
	CR4 uint64

	SysenterCS  uint64
	SysenterESP uint64
	SysenterEIP uint64
	MsrEfer     uint64
	MsrStar     uint64
	MsrLstar    uint64

	Efer     uint64
	ApicBase uint64

	CS  SegmentReg
	DS  SegmentReg
	ES  SegmentReg
	FS  SegmentReg
	GS  SegmentReg
	SS  SegmentReg
	TR  SegmentReg
	LDT SegmentReg
	IDT SystemTableReg
	GDT SystemTableReg
}

func (X86Registers) isRegisters() {}
