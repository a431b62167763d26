package vmi

import (
	"errors"
	"testing"

	"github.com/blacktop/go-vmi/kvmi"
)

func TestAccessRoundTrip(t *testing.T) {
	accesses := []Access{
		AccessNil, AccessR, AccessW, AccessRW,
		AccessX, AccessRX, AccessWX, AccessRWX,
	}

	for _, a := range accesses {
		t.Run(a.String(), func(t *testing.T) {
			native, err := accessToKVM(a)
			if err != nil {
				t.Fatalf("accessToKVM(%v) returned error: %v", a, err)
			}
			back := accessFromKVM(native)
			if back != a {
				t.Errorf("round trip %v -> %v -> %v is not identity", a, native, back)
			}
			native2, err := accessToKVM(back)
			if err != nil {
				t.Fatalf("second encode returned error: %v", err)
			}
			if native2 != native {
				t.Errorf("encode(decode(encode)) = %v, want %v", native2, native)
			}
		})
	}
}

func TestAccessInvalidValues(t *testing.T) {
	for _, a := range []Access{8, 9, 0x10, 0x42, 0xff} {
		_, err := accessToKVM(a)
		var accessErr AccessError
		if !errors.As(err, &accessErr) {
			t.Errorf("accessToKVM(0x%x) error = %v, want AccessError", uint8(a), err)
		}
	}
}

func TestAccessString(t *testing.T) {
	tests := []struct {
		access Access
		want   string
	}{
		{AccessNil, "---"},
		{AccessR, "r--"},
		{AccessRW, "rw-"},
		{AccessRWX, "rwx"},
		{AccessX, "--x"},
	}
	for _, tt := range tests {
		if got := tt.access.String(); got != tt.want {
			t.Errorf("Access(0x%x).String() = %q, want %q", uint8(tt.access), got, tt.want)
		}
	}
}

func TestCrTranslation(t *testing.T) {
	pairs := []struct {
		generic CrType
		native  kvmi.CR
	}{
		{Cr0, kvmi.CR0},
		{Cr3, kvmi.CR3},
		{Cr4, kvmi.CR4},
	}
	for _, p := range pairs {
		native, err := crToKVM(p.generic)
		if err != nil || native != p.native {
			t.Errorf("crToKVM(%v) = %v, %v; want %v", p.generic, native, err, p.native)
		}
		generic, err := crFromKVM(p.native)
		if err != nil || generic != p.generic {
			t.Errorf("crFromKVM(%v) = %v, %v; want %v", p.native, generic, err, p.generic)
		}
	}

	if _, err := crToKVM(CrType(2)); err == nil {
		t.Error("crToKVM(CR2) should fail; CR2 is not interceptable")
	}
	if _, err := crFromKVM(kvmi.CR(7)); err == nil {
		t.Error("crFromKVM(7) should fail")
	}
}
