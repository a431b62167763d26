package vmi

import "time"

// Dummy is a stand-in backend with no hypervisor behind it. Every
// capability call returns ErrNotSupported; it exists so callers can be
// exercised without a guest.
type Dummy struct{}

// NewDummy returns the dummy driver.
func NewDummy() *Dummy {
	return &Dummy{}
}

func (d *Dummy) VCPUCount() (uint16, error) {
	return 0, ErrNotSupported
}

func (d *Dummy) ReadPhysical(paddr uint64, buf []byte) (int, error) {
	return 0, ErrNotSupported
}

func (d *Dummy) WritePhysical(paddr uint64, buf []byte) error {
	return ErrNotSupported
}

func (d *Dummy) MaxPhysicalAddr() (uint64, error) {
	return 0, ErrNotSupported
}

func (d *Dummy) ReadRegisters(vcpu uint16) (Registers, error) {
	return nil, ErrNotSupported
}

func (d *Dummy) WriteRegisters(vcpu uint16, regs Registers) error {
	return ErrNotSupported
}

func (d *Dummy) SetPageAccess(paddr uint64, access Access) error {
	return ErrNotSupported
}

func (d *Dummy) Pause() error {
	return ErrNotSupported
}

func (d *Dummy) Resume() error {
	return ErrNotSupported
}

func (d *Dummy) SetIntercept(vcpu uint16, intercept InterceptType, enabled bool) error {
	return ErrNotSupported
}

func (d *Dummy) Listen(timeout time.Duration) (*Event, error) {
	return nil, ErrNotSupported
}

func (d *Dummy) ReplyEvent(event *Event, reply EventReply) error {
	return ErrNotSupported
}

func (d *Dummy) Type() DriverType {
	return DriverDummy
}

func (d *Dummy) Close() error {
	return nil
}
