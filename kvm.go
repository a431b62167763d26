package vmi

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/blacktop/go-vmi/kvmi"
)

// KVMConnection is the backend surface of the KVMi protocol consumed by
// the KVM driver. *kvmi.Client is the production implementation; tests
// substitute a fake to observe the exact call sequence.
type KVMConnection interface {
	Connect(path string) error
	Close() error
	VCPUCount() (uint32, error)
	ControlEvents(vcpu uint16, id kvmi.InterceptID, enabled bool) error
	ControlCR(vcpu uint16, reg kvmi.CR, enabled bool) error
	ControlMSR(vcpu uint16, msr uint32, enabled bool) error
	ReadPhysical(gpa uint64, buf []byte) error
	WritePhysical(gpa uint64, buf []byte) error
	SetPageAccess(gpa uint64, access kvmi.PageAccess, view uint16) error
	Pause() error
	Resume() error
	GetRegisters(vcpu uint16) (kvmi.Regs, kvmi.Sregs, []kvmi.MsrEntry, error)
	SetRegisters(vcpu uint16, regs *kvmi.Regs) error
	WaitAndPopEvent(timeout time.Duration) (*kvmi.Event, error)
	Reply(ev *kvmi.Event, action kvmi.EventAction) error
	MaxPhysicalAddr() (uint64, error)
}

// defaultIntercepts are the event classes enabled on every VCPU at
// construction and disabled again on Close. Enabling the CR/MSR class does
// not by itself arm a register; SetIntercept selects which one to watch.
var defaultIntercepts = [3]kvmi.InterceptID{
	kvmi.InterceptCR,
	kvmi.InterceptMSR,
	kvmi.InterceptPagefault,
}

// KVM introspects a guest through the KVMi socket protocol.
//
// It owns the backend connection and the per-VCPU event registry; the
// registry holds at most one unacknowledged native event per VCPU, which
// matches the protocol: the hypervisor will not schedule a second event
// for a VCPU until the first is replied.
type KVM struct {
	conn KVMConnection

	// pause acknowledgements still owed; zero means running
	expectPauseEv uint32

	// VCPU index -> most recent unacknowledged native event
	pending []*kvmi.Event
}

// NewKVM connects to the guest named in params through the KVMi socket,
// sizes the event registry and enables the default event classes on every
// VCPU. Any step failing aborts construction; no partial driver is
// returned.
func NewKVM(conn KVMConnection, params DriverInitParams) (*KVM, error) {
	if params.VMName == "" {
		return nil, ErrMissingVMName
	}
	if params.KVM == nil || params.KVM.SocketPath == "" {
		return nil, ErrMissingSocketPath
	}
	log.Debugf("init on %s (socket: %s)", params.VMName, params.KVM.SocketPath)

	if err := conn.Connect(params.KVM.SocketPath); err != nil {
		return nil, err
	}
	k := &KVM{conn: conn}

	vcpuCount, err := k.VCPUCount()
	if err != nil {
		conn.Close()
		return nil, err
	}
	k.pending = make([]*kvmi.Event, vcpuCount)

	for vcpu := uint16(0); vcpu < vcpuCount; vcpu++ {
		for _, id := range defaultIntercepts {
			if err := conn.ControlEvents(vcpu, id, true); err != nil {
				conn.Close()
				return nil, fmt.Errorf("vmi: enable %s events on VCPU %d: %w", id, vcpu, err)
			}
		}
	}

	recordDriverInit()
	return k, nil
}

// VCPUCount returns the number of VCPUs of the guest.
func (k *KVM) VCPUCount() (uint16, error) {
	n, err := k.conn.VCPUCount()
	if err != nil {
		return 0, err
	}
	return uint16(n), nil
}

// ReadPhysical reads guest physical memory starting at paddr. The backend
// rejects transfers larger than a page, so the request is split into
// consecutive page-sized chunks fetched in order. The first chunk to fail
// aborts the read; earlier chunks have already been written into buf.
func (k *KVM) ReadPhysical(paddr uint64, buf []byte) (int, error) {
	for off := 0; off < len(buf); off += kvmi.PageSize {
		end := off + kvmi.PageSize
		if end > len(buf) {
			end = len(buf)
		}
		if err := k.conn.ReadPhysical(paddr+uint64(off), buf[off:end]); err != nil {
			return 0, err
		}
	}
	recordPhysRead(len(buf))
	return len(buf), nil
}

// WritePhysical writes buf at paddr as a single transfer. A write larger
// than the backend's maximum fails at the backend boundary; it is not
// chunked here.
func (k *KVM) WritePhysical(paddr uint64, buf []byte) error {
	if err := k.conn.WritePhysical(paddr, buf); err != nil {
		return err
	}
	recordPhysWrite(len(buf))
	return nil
}

// MaxPhysicalAddr returns the highest guest physical address.
func (k *KVM) MaxPhysicalAddr() (uint64, error) {
	return k.conn.MaxPhysicalAddr()
}

// ReadRegisters returns the full register state of one VCPU. The backend
// returns the six model-specific registers in a fixed order
// (SYSENTER_CS, SYSENTER_ESP, SYSENTER_EIP, EFER, STAR, LSTAR); a backend
// returning fewer entries violates the coding contract and panics.
func (k *KVM) ReadRegisters(vcpu uint16) (Registers, error) {
	regs, sregs, msrs, err := k.conn.GetRegisters(vcpu)
	if err != nil {
		return nil, err
	}
	recordRegisterOp()
	return X86Registers{
		RAX:    regs.RAX,
		RBX:    regs.RBX,
		RCX:    regs.RCX,
		RDX:    regs.RDX,
		RSI:    regs.RSI,
		RDI:    regs.RDI,
		RSP:    regs.RSP,
		RBP:    regs.RBP,
		R8:     regs.R8,
		R9:     regs.R9,
		R10:    regs.R10,
		R11:    regs.R11,
		R12:    regs.R12,
		R13:    regs.R13,
		R14:    regs.R14,
		R15:    regs.R15,
		RIP:    regs.RIP,
		RFLAGS: regs.RFLAGS,

		CR0: sregs.CR0,
		CR2: sregs.CR2,
		CR3: sregs.CR3,
		CR4: sregs.CR4,

		SysenterCS:  msrs[0].Data,
		SysenterESP: msrs[1].Data,
		SysenterEIP: msrs[2].Data,
		MsrEfer:     msrs[3].Data,
		MsrStar:     msrs[4].Data,
		MsrLstar:    msrs[5].Data,

		Efer:     sregs.EFER,
		ApicBase: sregs.ApicBase,

		CS:  segmentFromKVM(sregs.CS),
		DS:  segmentFromKVM(sregs.DS),
		ES:  segmentFromKVM(sregs.ES),
		FS:  segmentFromKVM(sregs.FS),
		GS:  segmentFromKVM(sregs.GS),
		SS:  segmentFromKVM(sregs.SS),
		TR:  segmentFromKVM(sregs.TR),
		LDT: segmentFromKVM(sregs.LDT),
		IDT: tableFromKVM(sregs.IDT),
		GDT: tableFromKVM(sregs.GDT),
	}, nil
}

// WriteRegisters writes back the general-purpose register set of one VCPU.
func (k *KVM) WriteRegisters(vcpu uint16, regs Registers) error {
	switch r := regs.(type) {
	case X86Registers:
		native := regsToKVM(r)
		if err := k.conn.SetRegisters(vcpu, &native); err != nil {
			return err
		}
		recordRegisterOp()
		return nil
	default:
		return fmt.Errorf("vmi: unsupported register architecture %T", regs)
	}
}

// SetPageAccess restricts the permissions of the page containing paddr.
// Only the default view (index 0) is exposed.
func (k *KVM) SetPageAccess(paddr uint64, access Access) error {
	native, err := accessToKVM(access)
	if err != nil {
		return err
	}
	return k.conn.SetPageAccess(paddr, native, 0)
}

// Pause requests a VM-wide pause and records one expected acknowledgement
// per VCPU. If a pause is already pending it returns immediately without
// re-issuing the request.
func (k *KVM) Pause() error {
	log.Debug("pause")
	if k.expectPauseEv > 0 {
		return nil
	}
	if err := k.conn.Pause(); err != nil {
		return err
	}
	n, err := k.conn.VCPUCount()
	if err != nil {
		return err
	}
	k.expectPauseEv = n
	log.Debugf("expected pause events: %d", k.expectPauseEv)
	recordPause()
	return nil
}

// Resume requests a VM-wide resume. The backend drains the outstanding
// pause acknowledgements as part of the request, so the expected count is
// reset and a later Pause issues a fresh request.
func (k *KVM) Resume() error {
	log.Debug("resume")
	if err := k.conn.Resume(); err != nil {
		return err
	}
	k.expectPauseEv = 0
	recordResume()
	return nil
}

// SetIntercept toggles one event class for a VCPU. CR and MSR intercepts
// carry which register to arm; the class itself was already enabled at
// construction, so events for other armed registers may still be
// delivered and should be ignored by callers that did not request them.
func (k *KVM) SetIntercept(vcpu uint16, intercept InterceptType, enabled bool) error {
	switch it := intercept.(type) {
	case CrIntercept:
		reg, err := crToKVM(it.Reg)
		if err != nil {
			return err
		}
		return k.conn.ControlCR(vcpu, reg, enabled)
	case MsrIntercept:
		return k.conn.ControlMSR(vcpu, it.Msr, enabled)
	case BreakpointIntercept:
		return k.conn.ControlEvents(vcpu, kvmi.InterceptBreakpoint, enabled)
	case PagefaultIntercept:
		return k.conn.ControlEvents(vcpu, kvmi.InterceptPagefault, enabled)
	default:
		return fmt.Errorf("vmi: unsupported intercept type %T", intercept)
	}
}

// Listen blocks up to timeout for the next event, stores the native event
// in the registry slot of the reporting VCPU and returns its generic form.
// A pause acknowledgement surfacing here means the pause machinery did not
// absorb it, and an event the driver cannot translate would leave its VCPU
// suspended with no way to reply; both mean the driver state is no longer
// trustworthy, so Listen panics.
func (k *KVM) Listen(timeout time.Duration) (*Event, error) {
	ev, err := k.conn.WaitAndPopEvent(timeout)
	if err != nil {
		return nil, err
	}
	if ev == nil {
		return nil, nil
	}

	var kind EventKind
	switch e := ev.Kind.(type) {
	case kvmi.CrEvent:
		reg, err := crFromKVM(e.CR)
		if err != nil {
			panic(fmt.Sprintf("vmi: %v; VCPU %d would stay suspended", err, ev.VCPU))
		}
		kind = CrEvent{Reg: reg, Old: e.Old, New: e.New}
	case kvmi.MsrEvent:
		kind = MsrEvent{Msr: e.MSR, Value: e.New}
	case kvmi.BreakpointEvent:
		kind = BreakpointEvent{GPA: e.GPA, InsnLen: e.InsnLen}
	case kvmi.PagefaultEvent:
		kind = PagefaultEvent{GVA: e.GVA, GPA: e.GPA, Access: accessFromKVM(e.Access)}
	case kvmi.PauseVCPUEvent:
		panic(fmt.Sprintf("vmi: unexpected pause event for VCPU %d; it should have been popped by Resume (did you forget to resume the VM?)", ev.VCPU))
	default:
		panic(fmt.Sprintf("vmi: unknown backend event %T; VCPU %d would stay suspended", ev.Kind, ev.VCPU))
	}

	if int(ev.VCPU) >= len(k.pending) {
		return nil, fmt.Errorf("vmi: event for out-of-range VCPU %d", ev.VCPU)
	}
	k.pending[ev.VCPU] = ev
	recordEventReceived()

	return &Event{VCPU: ev.VCPU, Kind: kind}, nil
}

// ReplyEvent acknowledges the outstanding event of event.VCPU, resuming
// that VCPU inside the hypervisor. A reply with no outstanding event is a
// protocol violation (double reply, or reply without a prior Listen) and
// panics: the VCPU's execution state on the backend is unknown.
func (k *KVM) ReplyEvent(event *Event, reply EventReply) error {
	var action kvmi.EventAction
	switch reply {
	case ReplyContinue:
		action = kvmi.ActionContinue
	default:
		return fmt.Errorf("vmi: unsupported event reply %d", reply)
	}

	pending := k.pending[event.VCPU]
	if pending == nil {
		panic(fmt.Sprintf("vmi: reply for VCPU %d with no outstanding event", event.VCPU))
	}
	k.pending[event.VCPU] = nil

	if err := k.conn.Reply(pending, action); err != nil {
		return err
	}
	recordEventReplied()
	return nil
}

// Type identifies the backend.
func (k *KVM) Type() DriverType {
	return DriverKVM
}

// Close disables the default event classes on every VCPU and releases the
// connection. Once teardown has begun there is no recovery channel left; a
// failure here panics instead of being returned.
func (k *KVM) Close() error {
	log.Debug("KVM driver close")
	vcpuCount, err := k.VCPUCount()
	if err != nil {
		panic(fmt.Sprintf("vmi: teardown: query VCPU count: %v", err))
	}
	for vcpu := uint16(0); vcpu < vcpuCount; vcpu++ {
		for _, id := range defaultIntercepts {
			if err := k.conn.ControlEvents(vcpu, id, false); err != nil {
				panic(fmt.Sprintf("vmi: teardown: disable %s events on VCPU %d: %v", id, vcpu, err))
			}
		}
	}
	recordDriverClose()
	return k.conn.Close()
}

// accessToKVM translates a generic page access into the backend encoding.
// Values outside the 8-value enumeration fail instead of being clamped.
func accessToKVM(access Access) (kvmi.PageAccess, error) {
	if !access.Valid() {
		return 0, AccessError{Access: access}
	}
	return kvmi.PageAccess(access), nil
}

// accessFromKVM translates a backend page access, total on the backend's
// enumeration.
func accessFromKVM(access kvmi.PageAccess) Access {
	return Access(access)
}

func crToKVM(reg CrType) (kvmi.CR, error) {
	switch reg {
	case Cr0:
		return kvmi.CR0, nil
	case Cr3:
		return kvmi.CR3, nil
	case Cr4:
		return kvmi.CR4, nil
	default:
		return 0, fmt.Errorf("vmi: invalid control register %d", uint8(reg))
	}
}

func crFromKVM(reg kvmi.CR) (CrType, error) {
	switch reg {
	case kvmi.CR0:
		return Cr0, nil
	case kvmi.CR3:
		return Cr3, nil
	case kvmi.CR4:
		return Cr4, nil
	default:
		return 0, fmt.Errorf("vmi: backend reported unknown control register %d", uint8(reg))
	}
}

func segmentFromKVM(s kvmi.Segment) SegmentReg {
	return SegmentReg{
		Base:     s.Base,
		Limit:    s.Limit,
		Selector: s.Selector,
	}
}

func tableFromKVM(d kvmi.Descriptor) SystemTableReg {
	return SystemTableReg{
		Base:  d.Base,
		Limit: d.Limit,
	}
}

func regsToKVM(r X86Registers) kvmi.Regs {
	return kvmi.Regs{
		RAX:    r.RAX,
		RBX:    r.RBX,
		RCX:    r.RCX,
		RDX:    r.RDX,
		RSI:    r.RSI,
		RDI:    r.RDI,
		RSP:    r.RSP,
		RBP:    r.RBP,
		R8:     r.R8,
		R9:     r.R9,
		R10:    r.R10,
		R11:    r.R11,
		R12:    r.R12,
		R13:    r.R13,
		R14:    r.R14,
		R15:    r.R15,
		RIP:    r.RIP,
		RFLAGS: r.RFLAGS,
	}
}
