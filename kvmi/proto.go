package kvmi

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// Protocol version spoken by this client.
const protocolVersion = 1

// Message identifiers. Commands are answered with a reply carrying the
// same id and sequence number; events arrive asynchronously under
// msgEvent and are acknowledged with msgEventReply.
const (
	cmdGetVersion        uint16 = 1
	cmdVMGetInfo         uint16 = 2
	cmdVMReadPhysical    uint16 = 3
	cmdVMWritePhysical   uint16 = 4
	cmdVMGetMaxGFN       uint16 = 5
	cmdVMSetPageAccess   uint16 = 6
	cmdVCPUPause         uint16 = 7
	cmdVCPUControlEvents uint16 = 8
	cmdVCPUControlCR     uint16 = 9
	cmdVCPUControlMSR    uint16 = 10
	cmdVCPUGetRegisters  uint16 = 11
	cmdVCPUSetRegisters  uint16 = 12

	msgEvent      uint16 = 24
	msgEventReply uint16 = 25
)

// Native event identifiers carried in the event common block.
const (
	eventPauseVCPU  uint16 = 1
	eventBreakpoint uint16 = 3
	eventCR         uint16 = 4
	eventMSR        uint16 = 6
	eventPF         uint16 = 8
)

// msgHdr prefixes every message in both directions.
type msgHdr struct {
	ID   uint16
	Size uint16 // payload size, header excluded
	Seq  uint32
}

const hdrSize = 8

// Every command reply starts with the error code block; a non-zero Err is
// a negative errno from the hypervisor.
type errCode struct {
	Err int32
	_   uint32
}

const errCodeSize = 8

// Handshake blocks. The hypervisor introduces itself first; the
// introspector acknowledges.
type helloMsg struct {
	Size      uint32
	UUID      [16]byte
	_         uint32
	StartTime int64
	Name      [64]byte
}

type helloReply struct {
	Size uint32
}

// Command payloads.

type versionReply struct {
	Version uint32
	_       uint32
}

type vmInfoReply struct {
	VCPUCount uint32
	_         uint32
}

type readPhysicalMsg struct {
	GPA  uint64
	Size uint64
}

type writePhysicalMsg struct {
	GPA  uint64
	Size uint64
	// data follows
}

type maxGFNReply struct {
	GFN uint64
}

type setPageAccessMsg struct {
	GPA    uint64
	Access uint8
	_      uint8
	View   uint16
	_      uint32
}

type vcpuPauseMsg struct {
	VCPU uint16
	Wait uint8
	_    [5]uint8
}

type controlEventsMsg struct {
	VCPU    uint16
	EventID uint16
	Enable  uint8
	_       [3]uint8
}

type controlCRMsg struct {
	VCPU   uint16
	CR     uint8
	Enable uint8
	_      uint32
}

type controlMSRMsg struct {
	VCPU   uint16
	Enable uint8
	_      uint8
	MSR    uint32
}

type getRegistersMsg struct {
	VCPU    uint16
	NumMSRs uint16
	_       uint32
	// MSR indices follow, NumMSRs * uint32
}

type setRegistersMsg struct {
	VCPU uint16
	_    [6]uint8
	Regs Regs
}

// Event payloads, following the common block.

type eventCommon struct {
	VCPU  uint16
	Event uint16
	_     uint32
}

const eventCommonSize = 8

type eventCRPayload struct {
	CR  uint8
	_   [7]uint8
	Old uint64
	New uint64
}

type eventMSRPayload struct {
	MSR uint32
	_   uint32
	Old uint64
	New uint64
}

type eventBreakpointPayload struct {
	GPA     uint64
	InsnLen uint8
	_       [7]uint8
}

type eventPFPayload struct {
	GVA    uint64
	GPA    uint64
	Access uint8
	_      uint8
	View   uint16
	_      uint32
}

type eventReplyMsg struct {
	VCPU   uint16
	Event  uint16
	Action uint8
	_      [3]uint8
}

// encode serializes a fixed-size wire structure little-endian.
func encode(v any) []byte {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
		// all wire structs are fixed-size; a failure here is a coding error
		panic(fmt.Sprintf("kvmi: encode %T: %v", v, err))
	}
	return buf.Bytes()
}

// decode deserializes a fixed-size wire structure little-endian.
func decode(b []byte, v any) error {
	if err := binary.Read(bytes.NewReader(b), binary.LittleEndian, v); err != nil {
		return fmt.Errorf("kvmi: short or malformed %T payload: %w", v, err)
	}
	return nil
}

// cmdError converts a reply error code into a Go error.
func cmdError(id uint16, code int32) error {
	if code == 0 {
		return nil
	}
	return fmt.Errorf("kvmi: command %d rejected: %w", id, unix.Errno(-code))
}
