package vmi

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/blacktop/go-vmi/kvmi"
)

// DriverType identifies a backend implementation.
type DriverType uint8

const (
	DriverDummy DriverType = iota
	DriverKVM
	DriverQemuProcfs
)

func (t DriverType) String() string {
	switch t {
	case DriverDummy:
		return "dummy"
	case DriverKVM:
		return "kvm"
	case DriverQemuProcfs:
		return "qemu_procfs"
	default:
		return "unknown"
	}
}

// ParseDriverType maps a backend name to its DriverType.
func ParseDriverType(s string) (DriverType, error) {
	switch s {
	case "dummy":
		return DriverDummy, nil
	case "kvm":
		return DriverKVM, nil
	case "qemu_procfs":
		return DriverQemuProcfs, nil
	default:
		return 0, ErrUnknownDriver
	}
}

// Driver is the capability contract every backend implements, fully or
// partially. A backend that cannot support an operation returns
// ErrNotSupported instead of attempting a partial emulation.
//
// A Driver is not safe for unsynchronized concurrent use: all operations
// are synchronous and callers must serialize calls against one instance.
// Independent Driver instances share no state and may run concurrently.
type Driver interface {
	// VCPUCount returns the number of VCPUs of the guest.
	VCPUCount() (uint16, error)

	// ReadPhysical reads len(buf) bytes of guest physical memory starting
	// at paddr. The read is not atomic across page boundaries: if a chunk
	// fails, earlier chunks have already been written into buf and the
	// chunk's error is returned. On success the returned count equals
	// len(buf).
	ReadPhysical(paddr uint64, buf []byte) (int, error)

	// WritePhysical writes buf into guest physical memory at paddr as a
	// single transfer.
	WritePhysical(paddr uint64, buf []byte) error

	// MaxPhysicalAddr returns the highest guest physical address.
	MaxPhysicalAddr() (uint64, error)

	// ReadRegisters returns the register state of one VCPU.
	ReadRegisters(vcpu uint16) (Registers, error)

	// WriteRegisters writes back the general-purpose register set of one
	// VCPU. Control, segment and table registers are read-only.
	WriteRegisters(vcpu uint16, regs Registers) error

	// SetPageAccess restricts the permissions of the page containing paddr
	// in the default view.
	SetPageAccess(paddr uint64, access Access) error

	// Pause requests a VM-wide pause. Calling Pause while a pause is
	// already pending is a no-op.
	Pause() error

	// Resume requests a VM-wide resume, draining any outstanding pause
	// acknowledgements.
	Resume() error

	// SetIntercept toggles delivery of one event class (or one CR/MSR
	// register within its class) for a VCPU.
	SetIntercept(vcpu uint16, intercept InterceptType, enabled bool) error

	// Listen blocks up to timeout for the next event. It returns (nil, nil)
	// when the timeout elapses with nothing pending. The reported VCPU
	// stays suspended until the event is acknowledged with ReplyEvent.
	Listen(timeout time.Duration) (*Event, error)

	// ReplyEvent acknowledges an event returned by Listen and resumes that
	// VCPU. Replying twice for the same event, or without a prior Listen
	// for that VCPU, panics: the VCPU's execution state on the backend is
	// no longer known.
	ReplyEvent(event *Event, reply EventReply) error

	// Type identifies the backend.
	Type() DriverType

	// Close tears the driver down, best-effort disabling the event classes
	// it enabled, then releases the backend connection. Drivers must be
	// closed on every exit path.
	Close() error
}

// Init constructs the driver for the requested backend type.
func Init(typ DriverType, params DriverInitParams) (Driver, error) {
	switch typ {
	case DriverDummy:
		return NewDummy(), nil
	case DriverKVM:
		return NewKVM(kvmi.NewClient(), params)
	case DriverQemuProcfs:
		return NewQemuProcfs(params)
	default:
		return nil, ErrUnknownDriver
	}
}

// InitAuto tries each available backend in preference order and returns
// the first driver that initializes.
func InitAuto(params DriverInitParams) (Driver, error) {
	for _, typ := range Available() {
		drv, err := Init(typ, params)
		if err != nil {
			log.WithError(err).Debugf("driver %s failed to initialize", typ)
			continue
		}
		return drv, nil
	}
	return nil, ErrNoDriverAvailable
}
