package vmi

import (
	"os"

	"golang.org/x/sys/unix"
)

// Available reports which backends can plausibly attach on this host, in
// the preference order InitAuto tries them. Availability is a host-side
// probe only; initialization can still fail against a specific guest.
func Available() []DriverType {
	var drivers []DriverType
	if unix.Access("/dev/kvm", unix.R_OK|unix.W_OK) == nil {
		drivers = append(drivers, DriverKVM)
	}
	if _, err := os.Stat("/proc/self/mem"); err == nil {
		drivers = append(drivers, DriverQemuProcfs)
	}
	return drivers
}
