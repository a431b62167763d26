// Package kvmi implements the introspector side of the KVMi protocol: the
// unix-socket channel a KVMi-enabled hypervisor exposes for virtual machine
// introspection. It carries the native wire structures and a synchronous
// Client used by the KVM driver one package up.
package kvmi

import "fmt"

// PageSize is the largest physical memory transfer the hypervisor accepts
// in a single read command. Larger requests are rejected with EINVAL.
const PageSize = 0x1000

// PageAccess is the native page permission encoding (bits r=1, w=2, x=4).
type PageAccess uint8

const (
	PageAccessNil PageAccess = 0x0
	PageAccessR   PageAccess = 0x1
	PageAccessW   PageAccess = 0x2
	PageAccessRW  PageAccess = 0x3
	PageAccessX   PageAccess = 0x4
	PageAccessRX  PageAccess = 0x5
	PageAccessWX  PageAccess = 0x6
	PageAccessRWX PageAccess = 0x7
)

// CR identifies an interceptable control register.
type CR uint8

const (
	CR0 CR = 0
	CR3 CR = 3
	CR4 CR = 4
)

// InterceptID is the native event class identifier used to enable or
// disable delivery of a whole event class on a VCPU.
type InterceptID uint16

const (
	InterceptPauseVCPU  = InterceptID(eventPauseVCPU)
	InterceptBreakpoint = InterceptID(eventBreakpoint)
	InterceptCR         = InterceptID(eventCR)
	InterceptMSR        = InterceptID(eventMSR)
	InterceptPagefault  = InterceptID(eventPF)
)

func (id InterceptID) String() string {
	switch id {
	case InterceptPauseVCPU:
		return "pause"
	case InterceptBreakpoint:
		return "breakpoint"
	case InterceptCR:
		return "cr"
	case InterceptMSR:
		return "msr"
	case InterceptPagefault:
		return "pagefault"
	default:
		return fmt.Sprintf("InterceptID(%d)", uint16(id))
	}
}

// EventAction is the native acknowledgement action for an event.
type EventAction uint8

const (
	// ActionContinue resumes the VCPU that reported the event.
	ActionContinue EventAction = 0
)

// Segment is the native x86 segment register layout (24 bytes on the wire).
type Segment struct {
	Base     uint64
	Limit    uint32
	Selector uint16
	Typ      uint8
	Present  uint8
	DPL      uint8
	DB       uint8
	S        uint8
	L        uint8
	G        uint8
	AVL      uint8
	Unusable uint8
	_        uint8
}

// Descriptor is the native descriptor table register layout (GDT/IDT).
type Descriptor struct {
	Base  uint64
	Limit uint16
	_     [3]uint16
}

// Regs is the native general-purpose register block.
type Regs struct {
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
}

// Sregs is the native special register block.
type Sregs struct {
	CS              Segment
	DS              Segment
	ES              Segment
	FS              Segment
	GS              Segment
	SS              Segment
	TR              Segment
	LDT             Segment
	GDT             Descriptor
	IDT             Descriptor
	CR0             uint64
	CR2             uint64
	CR3             uint64
	CR4             uint64
	CR8             uint64
	EFER            uint64
	ApicBase        uint64
	InterruptBitmap [4]uint64
}

// MsrEntry is one model-specific register value returned by GetRegisters,
// in the order the registers were requested.
type MsrEntry struct {
	Index uint32
	_     uint32
	Data  uint64
}

// Model-specific register indices requested by GetRegisters, in the fixed
// order the entries come back.
const (
	MsrIA32SysenterCS  uint32 = 0x174
	MsrIA32SysenterESP uint32 = 0x175
	MsrIA32SysenterEIP uint32 = 0x176
	MsrEFER            uint32 = 0xc0000080
	MsrSTAR            uint32 = 0xc0000081
	MsrLSTAR           uint32 = 0xc0000082
)

// EventKind is the payload of a native event.
type EventKind interface {
	isEventKind()
}

// CrEvent reports a control register write.
type CrEvent struct {
	CR  CR
	Old uint64
	New uint64
}

// MsrEvent reports a model-specific register write.
type MsrEvent struct {
	MSR uint32
	Old uint64
	New uint64
}

// BreakpointEvent reports a breakpoint hit.
type BreakpointEvent struct {
	GPA     uint64
	InsnLen uint8
}

// PagefaultEvent reports a page-fault intercept.
type PagefaultEvent struct {
	GVA    uint64
	GPA    uint64
	Access PageAccess
	View   uint16
}

// PauseVCPUEvent acknowledges that one VCPU has stopped after a pause
// command. Consumed by Resume; it never leaves this package through
// WaitAndPopEvent callers that drain pauses correctly.
type PauseVCPUEvent struct{}

func (CrEvent) isEventKind()         {}
func (MsrEvent) isEventKind()        {}
func (BreakpointEvent) isEventKind() {}
func (PagefaultEvent) isEventKind()  {}
func (PauseVCPUEvent) isEventKind()  {}

// Event is one native event popped off the socket. Seq correlates the
// eventual reply with the suspended VCPU inside the hypervisor, so the
// Event value must be retained until it is replied.
type Event struct {
	VCPU uint16
	Seq  uint32
	Kind EventKind
}
