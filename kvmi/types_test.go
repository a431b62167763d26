package kvmi

import "testing"

func TestInterceptIDMatchesEventID(t *testing.T) {
	// enabling an event class and parsing its events must agree on the
	// wire identifier
	pairs := []struct {
		id    InterceptID
		event uint16
	}{
		{InterceptPauseVCPU, eventPauseVCPU},
		{InterceptBreakpoint, eventBreakpoint},
		{InterceptCR, eventCR},
		{InterceptMSR, eventMSR},
		{InterceptPagefault, eventPF},
	}
	for _, p := range pairs {
		if uint16(p.id) != p.event {
			t.Errorf("%s = %d, want event id %d", p.id, uint16(p.id), p.event)
		}
	}
}

func TestInterceptIDString(t *testing.T) {
	tests := []struct {
		id   InterceptID
		want string
	}{
		{InterceptPauseVCPU, "pause"},
		{InterceptBreakpoint, "breakpoint"},
		{InterceptCR, "cr"},
		{InterceptMSR, "msr"},
		{InterceptPagefault, "pagefault"},
		{InterceptID(0x99), "InterceptID(153)"},
	}
	for _, tt := range tests {
		if got := tt.id.String(); got != tt.want {
			t.Errorf("InterceptID(%d).String() = %q, want %q", uint16(tt.id), got, tt.want)
		}
	}
}
