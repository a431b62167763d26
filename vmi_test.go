package vmi

import (
	"errors"
	"testing"
	"time"
)

func TestInitDispatch(t *testing.T) {
	t.Run("dummy", func(t *testing.T) {
		drv, err := Init(DriverDummy, DriverInitParams{})
		if err != nil {
			t.Fatalf("Init() returned error: %v", err)
		}
		defer drv.Close()
		if drv.Type() != DriverDummy {
			t.Errorf("Type() = %v, want %v", drv.Type(), DriverDummy)
		}
	})

	t.Run("kvm rejects empty params before connecting", func(t *testing.T) {
		_, err := Init(DriverKVM, DriverInitParams{})
		if !errors.Is(err, ErrMissingVMName) {
			t.Errorf("Init() error = %v, want %v", err, ErrMissingVMName)
		}
	})

	t.Run("unknown driver type", func(t *testing.T) {
		_, err := Init(DriverType(0xff), DriverInitParams{})
		if !errors.Is(err, ErrUnknownDriver) {
			t.Errorf("Init() error = %v, want %v", err, ErrUnknownDriver)
		}
	})
}

func TestDriverTypeString(t *testing.T) {
	tests := []struct {
		typ  DriverType
		want string
	}{
		{DriverDummy, "dummy"},
		{DriverKVM, "kvm"},
		{DriverQemuProcfs, "qemu_procfs"},
		{DriverType(0xff), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.typ.String(); got != tt.want {
			t.Errorf("DriverType(%d).String() = %q, want %q", tt.typ, got, tt.want)
		}
	}
}

func TestDummyDriver(t *testing.T) {
	d := NewDummy()

	if _, err := d.VCPUCount(); !errors.Is(err, ErrNotSupported) {
		t.Errorf("VCPUCount() error = %v, want ErrNotSupported", err)
	}
	if _, err := d.ReadPhysical(0, make([]byte, 8)); !errors.Is(err, ErrNotSupported) {
		t.Errorf("ReadPhysical() error = %v, want ErrNotSupported", err)
	}
	if _, err := d.MaxPhysicalAddr(); !errors.Is(err, ErrNotSupported) {
		t.Errorf("MaxPhysicalAddr() error = %v, want ErrNotSupported", err)
	}
	if _, err := d.Listen(time.Millisecond); !errors.Is(err, ErrNotSupported) {
		t.Errorf("Listen() error = %v, want ErrNotSupported", err)
	}
	if err := d.Close(); err != nil {
		t.Errorf("Close() returned error: %v", err)
	}
}
