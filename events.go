package vmi

import "fmt"

// Access represents guest page permissions as a read/write/execute bitmask.
// Exactly the 8 values below are valid; anything else fails translation to
// a backend encoding instead of being silently clamped.
type Access uint8

const (
	AccessNil Access = 0x0
	AccessR   Access = 0x1
	AccessW   Access = 0x2
	AccessRW  Access = 0x3
	AccessX   Access = 0x4
	AccessRX  Access = 0x5
	AccessWX  Access = 0x6
	AccessRWX Access = 0x7
)

// Valid reports whether a is one of the 8 defined permission values.
func (a Access) Valid() bool {
	return a <= AccessRWX
}

func (a Access) String() string {
	if !a.Valid() {
		return fmt.Sprintf("Access(0x%x)", uint8(a))
	}
	if a == AccessNil {
		return "---"
	}
	buf := []byte("---")
	if a&AccessR != 0 {
		buf[0] = 'r'
	}
	if a&AccessW != 0 {
		buf[1] = 'w'
	}
	if a&AccessX != 0 {
		buf[2] = 'x'
	}
	return string(buf)
}

// CrType identifies an interceptable x86 control register.
type CrType uint8

const (
	Cr0 CrType = 0
	Cr3 CrType = 3
	Cr4 CrType = 4
)

func (c CrType) String() string {
	return fmt.Sprintf("CR%d", uint8(c))
}

// InterceptType selects a class of CPU events to toggle on a VCPU.
// Control-register and MSR intercepts additionally carry which register to
// watch; breakpoint and page-fault intercepts are coarse per-VCPU toggles.
type InterceptType interface {
	isInterceptType()
}

// CrIntercept arms event delivery for writes to one control register.
type CrIntercept struct {
	Reg CrType
}

// MsrIntercept arms event delivery for writes to one model-specific register.
type MsrIntercept struct {
	Msr uint32
}

// BreakpointIntercept toggles breakpoint event delivery for a VCPU.
type BreakpointIntercept struct{}

// PagefaultIntercept toggles page-fault event delivery for a VCPU.
type PagefaultIntercept struct{}

func (CrIntercept) isInterceptType()         {}
func (MsrIntercept) isInterceptType()        {}
func (BreakpointIntercept) isInterceptType() {}
func (PagefaultIntercept) isInterceptType()  {}

// EventKind is the payload of an intercepted CPU event.
type EventKind interface {
	isEventKind()
}

// CrEvent reports a write to a control register.
type CrEvent struct {
	Reg CrType
	Old uint64
	New uint64
}

// MsrEvent reports a write to a model-specific register.
type MsrEvent struct {
	Msr   uint32
	Value uint64
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
	Access Access
}

func (CrEvent) isEventKind()         {}
func (MsrEvent) isEventKind()        {}
func (BreakpointEvent) isEventKind() {}
func (PagefaultEvent) isEventKind()  {}

// Event is a CPU event delivered by Listen. The VCPU it names stays
// suspended inside the hypervisor until the event is acknowledged with
// ReplyEvent.
type Event struct {
	VCPU uint16
	Kind EventKind
}

// EventReply is the acknowledgement sent back for an event. Modeled as an
// open enumeration; ReplyContinue is the only reply currently defined.
type EventReply uint8

const (
	// ReplyContinue resumes the VCPU's execution.
	ReplyContinue EventReply = iota
)
