package vmi

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNewQemuProcfsParamValidation(t *testing.T) {
	t.Run("missing connector params", func(t *testing.T) {
		_, err := NewQemuProcfs(DriverInitParams{VMName: "some_vm"})
		if !errors.Is(err, ErrMissingConnector) {
			t.Errorf("NewQemuProcfs() error = %v, want %v", err, ErrMissingConnector)
		}
	})

	t.Run("unknown connector name", func(t *testing.T) {
		_, err := NewQemuProcfs(DriverInitParams{
			VMName:    "some_vm",
			Connector: &ConnectorParams{Name: "vmware_vmx"},
		})
		if err == nil {
			t.Error("expected error, got ok instead")
		}
	})

	t.Run("malformed connector argument", func(t *testing.T) {
		_, err := NewQemuProcfs(DriverInitParams{
			VMName:    "some_vm",
			Connector: &ConnectorParams{Name: QemuProcfsConnectorName, Args: []string{"pid1234"}},
		})
		var argErr ConnectorArgError
		if !errors.As(err, &argErr) {
			t.Errorf("NewQemuProcfs() error = %v, want ConnectorArgError", err)
		}
	})

	t.Run("non-numeric pid argument", func(t *testing.T) {
		_, err := NewQemuProcfs(DriverInitParams{
			VMName:    "some_vm",
			Connector: &ConnectorParams{Name: QemuProcfsConnectorName, Args: []string{"pid=abc"}},
		})
		var argErr ConnectorArgError
		if !errors.As(err, &argErr) {
			t.Errorf("NewQemuProcfs() error = %v, want ConnectorArgError", err)
		}
	})
}

func TestQemuProcfsUnsupportedOperations(t *testing.T) {
	q := &QemuProcfs{}

	if _, err := q.VCPUCount(); !errors.Is(err, ErrNotSupported) {
		t.Errorf("VCPUCount() error = %v, want ErrNotSupported", err)
	}
	if err := q.WritePhysical(0, nil); !errors.Is(err, ErrNotSupported) {
		t.Errorf("WritePhysical() error = %v, want ErrNotSupported", err)
	}
	if _, err := q.ReadRegisters(0); !errors.Is(err, ErrNotSupported) {
		t.Errorf("ReadRegisters() error = %v, want ErrNotSupported", err)
	}
	if err := q.WriteRegisters(0, X86Registers{}); !errors.Is(err, ErrNotSupported) {
		t.Errorf("WriteRegisters() error = %v, want ErrNotSupported", err)
	}
	if err := q.SetPageAccess(0, AccessRWX); !errors.Is(err, ErrNotSupported) {
		t.Errorf("SetPageAccess() error = %v, want ErrNotSupported", err)
	}
	if err := q.Pause(); !errors.Is(err, ErrNotSupported) {
		t.Errorf("Pause() error = %v, want ErrNotSupported", err)
	}
	if err := q.Resume(); !errors.Is(err, ErrNotSupported) {
		t.Errorf("Resume() error = %v, want ErrNotSupported", err)
	}
	if err := q.SetIntercept(0, PagefaultIntercept{}, true); !errors.Is(err, ErrNotSupported) {
		t.Errorf("SetIntercept() error = %v, want ErrNotSupported", err)
	}
	if _, err := q.Listen(time.Second); !errors.Is(err, ErrNotSupported) {
		t.Errorf("Listen() error = %v, want ErrNotSupported", err)
	}
	if err := q.ReplyEvent(&Event{}, ReplyContinue); !errors.Is(err, ErrNotSupported) {
		t.Errorf("ReplyEvent() error = %v, want ErrNotSupported", err)
	}
	if q.Type() != DriverQemuProcfs {
		t.Errorf("Type() = %v, want %v", q.Type(), DriverQemuProcfs)
	}
}

func TestMatchQemuCmdline(t *testing.T) {
	tests := []struct {
		name    string
		cmdline string
		vm      string
		want    bool
	}{
		{
			name:    "plain -name",
			cmdline: "/usr/bin/qemu-system-x86_64\x00-name\x00winxp\x00-m\x002048",
			vm:      "winxp",
			want:    true,
		},
		{
			name:    "libvirt guest= form",
			cmdline: "/usr/bin/qemu-system-x86_64\x00-name\x00guest=winxp,debug-threads=on",
			vm:      "winxp",
			want:    true,
		},
		{
			name:    "different guest",
			cmdline: "/usr/bin/qemu-system-x86_64\x00-name\x00debian12",
			vm:      "winxp",
			want:    false,
		},
		{
			name:    "not a qemu process",
			cmdline: "/usr/bin/someprocess\x00-name\x00winxp",
			vm:      "winxp",
			want:    false,
		},
		{
			name:    "name flag without value",
			cmdline: "/usr/bin/qemu-system-x86_64\x00-name",
			vm:      "winxp",
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := matchQemuCmdline([]byte(tt.cmdline+"\x00"), tt.vm)
			if got != tt.want {
				t.Errorf("matchQemuCmdline() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGuestRAMRegion(t *testing.T) {
	t.Run("picks the largest anonymous rw mapping", func(t *testing.T) {
		maps := strings.Join([]string{
			"55d4c0000000-55d4c0100000 r-xp 00000000 fd:01 1234 /usr/bin/qemu-system-x86_64",
			"7f0000000000-7f0080000000 rw-p 00000000 00:00 0",
			"7f0080000000-7f0080010000 rw-p 00000000 00:00 0",
			"7f00800f0000-7f0080100000 rw-s 00000000 00:05 42 /dev/shm/thing",
			"7ffc00000000-7ffc00021000 rw-p 00000000 00:00 0 [stack]",
		}, "\n")

		base, size, err := guestRAMRegion(strings.NewReader(maps))
		if err != nil {
			t.Fatalf("guestRAMRegion() returned error: %v", err)
		}
		if base != 0x7f0000000000 {
			t.Errorf("base = 0x%x, want 0x7f0000000000", base)
		}
		if size != 0x80000000 {
			t.Errorf("size = 0x%x, want 0x80000000", size)
		}
	})

	t.Run("no anonymous mapping", func(t *testing.T) {
		maps := "55d4c0000000-55d4c0100000 r-xp 00000000 fd:01 1234 /usr/bin/qemu-system-x86_64"
		if _, _, err := guestRAMRegion(strings.NewReader(maps)); err == nil {
			t.Error("expected error, got ok instead")
		}
	})
}
