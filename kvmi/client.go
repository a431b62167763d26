package kvmi

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
)

// pauseEventTimeout bounds how long Resume waits for each outstanding
// pause acknowledgement before giving up.
const pauseEventTimeout = 5 * time.Second

// getRegistersMSRs is the fixed set of model-specific registers fetched by
// GetRegisters. The reply entries come back in exactly this order.
var getRegistersMSRs = [6]uint32{
	MsrIA32SysenterCS,
	MsrIA32SysenterESP,
	MsrIA32SysenterEIP,
	MsrEFER,
	MsrSTAR,
	MsrLSTAR,
}

// Client is a synchronous introspector connection to one guest. It owns a
// single socket: commands are round-trips matched by sequence number, and
// events that arrive while a command reply is awaited are queued for the
// next WaitAndPopEvent. A Client is not safe for concurrent use.
type Client struct {
	conn net.Conn
	seq  uint32
	name string

	// events popped off the socket while waiting for a command reply
	queue []*Event

	// pause acknowledgements owed after Pause, drained by Resume
	expectPause uint32
}

// NewClient returns an unconnected Client.
func NewClient() *Client {
	return &Client{}
}

// Connect dials the hypervisor's introspection socket, performs the
// handshake and verifies the protocol version.
func (c *Client) Connect(path string) error {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return fmt.Errorf("kvmi: connect %s: %w", path, err)
	}
	c.conn = conn
	if err := c.handshake(); err != nil {
		conn.Close()
		c.conn = nil
		return err
	}
	raw, err := c.command(cmdGetVersion, nil)
	if err != nil {
		conn.Close()
		c.conn = nil
		return err
	}
	var ver versionReply
	if err := decode(raw, &ver); err != nil {
		conn.Close()
		c.conn = nil
		return err
	}
	if ver.Version != protocolVersion {
		conn.Close()
		c.conn = nil
		return fmt.Errorf("kvmi: unsupported protocol version %d (want %d)", ver.Version, protocolVersion)
	}
	log.Debugf("kvmi: connected to %q (version %d)", c.name, ver.Version)
	return nil
}

// Name returns the guest name announced by the hypervisor handshake.
func (c *Client) Name() string {
	return c.name
}

// Close releases the socket.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// handshake reads the hypervisor hello and acknowledges it. The
// hypervisor speaks first.
func (c *Client) handshake() error {
	var hello helloMsg
	if err := binary.Read(c.conn, binary.LittleEndian, &hello); err != nil {
		return fmt.Errorf("kvmi: handshake: %w", err)
	}
	if int(hello.Size) != binary.Size(hello) {
		return fmt.Errorf("kvmi: handshake: unexpected hello size %d", hello.Size)
	}
	c.name = string(bytes.TrimRight(hello.Name[:], "\x00"))
	reply := helloReply{Size: uint32(binary.Size(helloReply{}))}
	if _, err := c.conn.Write(encode(reply)); err != nil {
		return fmt.Errorf("kvmi: handshake: %w", err)
	}
	return nil
}

// VCPUCount queries the number of VCPUs of the guest.
func (c *Client) VCPUCount() (uint32, error) {
	raw, err := c.command(cmdVMGetInfo, nil)
	if err != nil {
		return 0, err
	}
	var info vmInfoReply
	if err := decode(raw, &info); err != nil {
		return 0, err
	}
	return info.VCPUCount, nil
}

// ControlEvents enables or disables delivery of one event class on a VCPU.
func (c *Client) ControlEvents(vcpu uint16, id InterceptID, enabled bool) error {
	_, err := c.command(cmdVCPUControlEvents, encode(controlEventsMsg{
		VCPU:    vcpu,
		EventID: uint16(id),
		Enable:  boolByte(enabled),
	}))
	return err
}

// ControlCR arms or disarms write interception of one control register.
func (c *Client) ControlCR(vcpu uint16, reg CR, enabled bool) error {
	_, err := c.command(cmdVCPUControlCR, encode(controlCRMsg{
		VCPU:   vcpu,
		CR:     uint8(reg),
		Enable: boolByte(enabled),
	}))
	return err
}

// ControlMSR arms or disarms write interception of one model-specific
// register.
func (c *Client) ControlMSR(vcpu uint16, msr uint32, enabled bool) error {
	_, err := c.command(cmdVCPUControlMSR, encode(controlMSRMsg{
		VCPU:   vcpu,
		Enable: boolByte(enabled),
		MSR:    msr,
	}))
	return err
}

// ReadPhysical reads len(buf) bytes of guest physical memory at gpa. The
// hypervisor rejects transfers larger than PageSize.
func (c *Client) ReadPhysical(gpa uint64, buf []byte) error {
	raw, err := c.command(cmdVMReadPhysical, encode(readPhysicalMsg{
		GPA:  gpa,
		Size: uint64(len(buf)),
	}))
	if err != nil {
		return err
	}
	if len(raw) != len(buf) {
		return fmt.Errorf("kvmi: read 0x%x: got %d bytes, want %d", gpa, len(raw), len(buf))
	}
	copy(buf, raw)
	return nil
}

// WritePhysical writes buf into guest physical memory at gpa as a single
// transfer.
func (c *Client) WritePhysical(gpa uint64, buf []byte) error {
	msg := encode(writePhysicalMsg{
		GPA:  gpa,
		Size: uint64(len(buf)),
	})
	_, err := c.command(cmdVMWritePhysical, append(msg, buf...))
	return err
}

// SetPageAccess restricts the permissions of the page containing gpa in
// the given view.
func (c *Client) SetPageAccess(gpa uint64, access PageAccess, view uint16) error {
	_, err := c.command(cmdVMSetPageAccess, encode(setPageAccessMsg{
		GPA:    gpa,
		Access: uint8(access),
		View:   view,
	}))
	return err
}

// Pause sends a pause command for every VCPU. Each VCPU acknowledges with
// a pause event; Resume drains them.
func (c *Client) Pause() error {
	n, err := c.VCPUCount()
	if err != nil {
		return err
	}
	for vcpu := uint32(0); vcpu < n; vcpu++ {
		_, err := c.command(cmdVCPUPause, encode(vcpuPauseMsg{
			VCPU: uint16(vcpu),
			Wait: 1,
		}))
		if err != nil {
			return err
		}
	}
	c.expectPause += n
	return nil
}

// Resume drains every outstanding pause acknowledgement, replying continue
// to each, which lets the paused VCPUs run again.
func (c *Client) Resume() error {
	for c.expectPause > 0 {
		ev, err := c.popPauseEvent()
		if err != nil {
			return err
		}
		log.Debugf("kvmi: VCPU %d pause acknowledged", ev.VCPU)
		if err := c.Reply(ev, ActionContinue); err != nil {
			return err
		}
		c.expectPause--
	}
	return nil
}

// popPauseEvent returns the next pause acknowledgement, preferring queued
// events and leaving non-pause events queued for WaitAndPopEvent.
func (c *Client) popPauseEvent() (*Event, error) {
	for i, ev := range c.queue {
		if _, ok := ev.Kind.(PauseVCPUEvent); ok {
			c.queue = append(c.queue[:i:i], c.queue[i+1:]...)
			return ev, nil
		}
	}
	deadline := time.Now().Add(pauseEventTimeout)
	for time.Now().Before(deadline) {
		ev, err := c.waitEvent(time.Until(deadline))
		if err != nil {
			return nil, err
		}
		if ev == nil {
			break
		}
		if _, ok := ev.Kind.(PauseVCPUEvent); ok {
			return ev, nil
		}
		c.queue = append(c.queue, ev)
	}
	return nil, fmt.Errorf("kvmi: timed out waiting for pause event (%d still expected)", c.expectPause)
}

// WaitAndPopEvent blocks up to timeout for the next event. It returns
// (nil, nil) when the timeout elapses with nothing pending.
func (c *Client) WaitAndPopEvent(timeout time.Duration) (*Event, error) {
	if len(c.queue) > 0 {
		ev := c.queue[0]
		c.queue = c.queue[1:]
		return ev, nil
	}
	return c.waitEvent(timeout)
}

// waitEvent reads one event off the socket, or (nil, nil) on timeout. The
// timeout covers an idle socket; a deadline expiring mid-message is a
// stream error.
func (c *Client) waitEvent(timeout time.Duration) (*Event, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	defer c.conn.SetReadDeadline(time.Time{})

	hdr, payload, err := c.readMsg()
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, nil
		}
		return nil, err
	}
	if hdr.ID != msgEvent {
		return nil, fmt.Errorf("kvmi: expected event, got message %d", hdr.ID)
	}
	return parseEvent(hdr, payload)
}

// Reply acknowledges an event. The hypervisor will not schedule another
// event for that VCPU until its pending one is replied.
func (c *Client) Reply(ev *Event, action EventAction) error {
	payload := encode(eventReplyMsg{
		VCPU:   ev.VCPU,
		Event:  eventID(ev.Kind),
		Action: uint8(action),
	})
	hdr := encode(msgHdr{
		ID:   msgEventReply,
		Size: uint16(len(payload)),
		Seq:  ev.Seq,
	})
	if _, err := c.conn.Write(append(hdr, payload...)); err != nil {
		return fmt.Errorf("kvmi: event reply: %w", err)
	}
	return nil
}

// GetRegisters returns the general registers, special registers and the
// fixed-order model-specific register values of one VCPU. Entries come
// back in the order of getRegistersMSRs.
func (c *Client) GetRegisters(vcpu uint16) (Regs, Sregs, []MsrEntry, error) {
	var (
		regs  Regs
		sregs Sregs
	)
	msg := encode(getRegistersMsg{
		VCPU:    vcpu,
		NumMSRs: uint16(len(getRegistersMSRs)),
	})
	msg = append(msg, encode(getRegistersMSRs)...)
	raw, err := c.command(cmdVCPUGetRegisters, msg)
	if err != nil {
		return regs, sregs, nil, err
	}
	r := bytes.NewReader(raw)
	if err := binary.Read(r, binary.LittleEndian, &regs); err != nil {
		return regs, sregs, nil, fmt.Errorf("kvmi: get registers: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &sregs); err != nil {
		return regs, sregs, nil, fmt.Errorf("kvmi: get registers: %w", err)
	}
	msrs := make([]MsrEntry, len(getRegistersMSRs))
	if err := binary.Read(r, binary.LittleEndian, &msrs); err != nil {
		return regs, sregs, nil, fmt.Errorf("kvmi: get registers: %w", err)
	}
	return regs, sregs, msrs, nil
}

// SetRegisters writes the general-purpose register block of one VCPU.
func (c *Client) SetRegisters(vcpu uint16, regs *Regs) error {
	_, err := c.command(cmdVCPUSetRegisters, encode(setRegistersMsg{
		VCPU: vcpu,
		Regs: *regs,
	}))
	return err
}

// MaxPhysicalAddr returns the highest guest physical address.
func (c *Client) MaxPhysicalAddr() (uint64, error) {
	raw, err := c.command(cmdVMGetMaxGFN, nil)
	if err != nil {
		return 0, err
	}
	var reply maxGFNReply
	if err := decode(raw, &reply); err != nil {
		return 0, err
	}
	return reply.GFN << 12, nil
}

// command performs one synchronous round-trip. Events read while waiting
// for the reply are queued.
func (c *Client) command(id uint16, payload []byte) ([]byte, error) {
	if c.conn == nil {
		return nil, errors.New("kvmi: not connected")
	}
	c.seq++
	seq := c.seq
	hdr := encode(msgHdr{
		ID:   id,
		Size: uint16(len(payload)),
		Seq:  seq,
	})
	if _, err := c.conn.Write(append(hdr, payload...)); err != nil {
		return nil, fmt.Errorf("kvmi: command %d: %w", id, err)
	}
	for {
		hdr, raw, err := c.readMsg()
		if err != nil {
			return nil, err
		}
		if hdr.ID == msgEvent {
			ev, err := parseEvent(hdr, raw)
			if err != nil {
				return nil, err
			}
			c.queue = append(c.queue, ev)
			continue
		}
		if hdr.ID != id || hdr.Seq != seq {
			return nil, fmt.Errorf("kvmi: reply mismatch: got message %d seq %d, want %d seq %d",
				hdr.ID, hdr.Seq, id, seq)
		}
		if len(raw) < errCodeSize {
			return nil, fmt.Errorf("kvmi: short reply for command %d", id)
		}
		var ec errCode
		if err := decode(raw[:errCodeSize], &ec); err != nil {
			return nil, err
		}
		if err := cmdError(id, ec.Err); err != nil {
			return nil, err
		}
		return raw[errCodeSize:], nil
	}
}

// readMsg reads one full message: header, then payload. A bare deadline
// error escapes only when nothing was consumed; once any byte of a message
// has been read, a failure is reported as truncation (formatted with %v on
// purpose, so it never satisfies errors.Is against the deadline error) and
// the stream must be considered desynchronized.
func (c *Client) readMsg() (msgHdr, []byte, error) {
	var hdr msgHdr
	buf := make([]byte, hdrSize)
	if n, err := io.ReadFull(c.conn, buf); err != nil {
		if n == 0 {
			return hdr, nil, err
		}
		return hdr, nil, fmt.Errorf("kvmi: truncated message header (%d of %d bytes): %v", n, hdrSize, err)
	}
	if err := decode(buf, &hdr); err != nil {
		return hdr, nil, err
	}
	payload := make([]byte, hdr.Size)
	if _, err := io.ReadFull(c.conn, payload); err != nil {
		return hdr, nil, fmt.Errorf("kvmi: truncated message %d: %v", hdr.ID, err)
	}
	return hdr, payload, nil
}

// parseEvent decodes a native event message into an Event.
func parseEvent(hdr msgHdr, payload []byte) (*Event, error) {
	if len(payload) < eventCommonSize {
		return nil, errors.New("kvmi: truncated event")
	}
	var common eventCommon
	if err := decode(payload[:eventCommonSize], &common); err != nil {
		return nil, err
	}
	rest := payload[eventCommonSize:]

	ev := &Event{VCPU: common.VCPU, Seq: hdr.Seq}
	switch common.Event {
	case eventPauseVCPU:
		ev.Kind = PauseVCPUEvent{}
	case eventCR:
		var p eventCRPayload
		if err := decode(rest, &p); err != nil {
			return nil, err
		}
		ev.Kind = CrEvent{CR: CR(p.CR), Old: p.Old, New: p.New}
	case eventMSR:
		var p eventMSRPayload
		if err := decode(rest, &p); err != nil {
			return nil, err
		}
		ev.Kind = MsrEvent{MSR: p.MSR, Old: p.Old, New: p.New}
	case eventBreakpoint:
		var p eventBreakpointPayload
		if err := decode(rest, &p); err != nil {
			return nil, err
		}
		ev.Kind = BreakpointEvent{GPA: p.GPA, InsnLen: p.InsnLen}
	case eventPF:
		var p eventPFPayload
		if err := decode(rest, &p); err != nil {
			return nil, err
		}
		ev.Kind = PagefaultEvent{GVA: p.GVA, GPA: p.GPA, Access: PageAccess(p.Access), View: p.View}
	default:
		return nil, fmt.Errorf("kvmi: unknown event id %d for VCPU %d", common.Event, common.VCPU)
	}
	return ev, nil
}

// eventID maps a native event kind back to its wire identifier.
func eventID(kind EventKind) uint16 {
	switch kind.(type) {
	case PauseVCPUEvent:
		return eventPauseVCPU
	case CrEvent:
		return eventCR
	case MsrEvent:
		return eventMSR
	case BreakpointEvent:
		return eventBreakpoint
	case PagefaultEvent:
		return eventPF
	default:
		panic(fmt.Sprintf("kvmi: unknown event kind %T", kind))
	}
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
