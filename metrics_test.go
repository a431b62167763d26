package vmi

import "testing"

func TestMetricsRecording(t *testing.T) {
	ResetMetrics()

	conn := newFakeConn(2)
	k := mustNewKVM(t, conn)

	buf := make([]byte, 0x2000)
	if _, err := k.ReadPhysical(0, buf); err != nil {
		t.Fatalf("ReadPhysical() returned error: %v", err)
	}
	if err := k.WritePhysical(0, buf[:16]); err != nil {
		t.Fatalf("WritePhysical() returned error: %v", err)
	}
	if err := k.Pause(); err != nil {
		t.Fatalf("Pause() returned error: %v", err)
	}
	if err := k.Resume(); err != nil {
		t.Fatalf("Resume() returned error: %v", err)
	}
	if err := k.Close(); err != nil {
		t.Fatalf("Close() returned error: %v", err)
	}

	m := GetMetrics()
	if m.DriverInits != 1 || m.DriverCloses != 1 {
		t.Errorf("driver counters = %d/%d, want 1/1", m.DriverInits, m.DriverCloses)
	}
	if m.PhysReadOps != 1 || m.PhysReadBytes != 0x2000 {
		t.Errorf("read counters = %d ops / %d bytes, want 1 / 0x2000", m.PhysReadOps, m.PhysReadBytes)
	}
	if m.PhysWriteOps != 1 || m.PhysWriteBytes != 16 {
		t.Errorf("write counters = %d ops / %d bytes, want 1 / 16", m.PhysWriteOps, m.PhysWriteBytes)
	}
	if m.PauseRequests != 1 || m.ResumeRequests != 1 {
		t.Errorf("pause/resume counters = %d/%d, want 1/1", m.PauseRequests, m.ResumeRequests)
	}
}

func TestResetMetrics(t *testing.T) {
	recordPhysRead(128)
	recordEventReceived()
	ResetMetrics()

	if m := GetMetrics(); m != (Metrics{}) {
		t.Errorf("GetMetrics() after reset = %+v, want zero", m)
	}
}
