package vmi

import (
	"errors"
	"fmt"
)

// Errors returned by driver construction and capability calls. Driver
// construction errors are surfaced before any backend connection is
// attempted; callers can fix the parameters and retry.
var (
	// ErrNotSupported is returned by a driver for an operation it cannot
	// implement (e.g. register access on a memory-only connector). Callers
	// should branch on Driver.Type() or handle this error explicitly.
	ErrNotSupported = errors.New("vmi: operation not supported by this driver")

	ErrMissingVMName     = errors.New("vmi: driver requires a VM name parameter")
	ErrMissingSocketPath = errors.New("vmi: KVM driver requires a socket path parameter")
	ErrMissingConnector  = errors.New("vmi: connector driver requires connector parameters")
	ErrUnknownDriver     = errors.New("vmi: unknown driver type")
	ErrNoDriverAvailable = errors.New("vmi: no driver could be initialized on this host")
)

// AccessError reports a page access value outside the 8 valid encodings.
// It is detected locally, without contacting the backend.
type AccessError struct {
	Access Access
}

func (e AccessError) Error() string {
	return fmt.Sprintf("vmi: invalid page access value 0x%x", uint8(e.Access))
}

// ConnectorArgError reports a malformed connector argument. Connector
// arguments must be "key=value" strings.
type ConnectorArgError struct {
	Arg string
}

func (e ConnectorArgError) Error() string {
	return fmt.Sprintf("vmi: invalid connector argument (want key=value): %q", e.Arg)
}
