package vmi

import "sync/atomic"

// Counters for monitoring introspection activity across all drivers in
// the process.
var (
	driverInits    uint64
	driverCloses   uint64
	physReadOps    uint64
	physReadBytes  uint64
	physWriteOps   uint64
	physWriteBytes uint64
	registerOps    uint64
	eventsReceived uint64
	eventsReplied  uint64
	pauseRequests  uint64
	resumeRequests uint64
)

// Metrics provides access to introspection activity counters.
type Metrics struct {
	DriverInits    uint64 `json:"driver_inits"`
	DriverCloses   uint64 `json:"driver_closes"`
	PhysReadOps    uint64 `json:"phys_read_ops"`
	PhysReadBytes  uint64 `json:"phys_read_bytes"`
	PhysWriteOps   uint64 `json:"phys_write_ops"`
	PhysWriteBytes uint64 `json:"phys_write_bytes"`
	RegisterOps    uint64 `json:"register_operations"`
	EventsReceived uint64 `json:"events_received"`
	EventsReplied  uint64 `json:"events_replied"`
	PauseRequests  uint64 `json:"pause_requests"`
	ResumeRequests uint64 `json:"resume_requests"`
}

// GetMetrics returns the current counters.
func GetMetrics() Metrics {
	return Metrics{
		DriverInits:    atomic.LoadUint64(&driverInits),
		DriverCloses:   atomic.LoadUint64(&driverCloses),
		PhysReadOps:    atomic.LoadUint64(&physReadOps),
		PhysReadBytes:  atomic.LoadUint64(&physReadBytes),
		PhysWriteOps:   atomic.LoadUint64(&physWriteOps),
		PhysWriteBytes: atomic.LoadUint64(&physWriteBytes),
		RegisterOps:    atomic.LoadUint64(&registerOps),
		EventsReceived: atomic.LoadUint64(&eventsReceived),
		EventsReplied:  atomic.LoadUint64(&eventsReplied),
		PauseRequests:  atomic.LoadUint64(&pauseRequests),
		ResumeRequests: atomic.LoadUint64(&resumeRequests),
	}
}

// ResetMetrics clears all counters.
func ResetMetrics() {
	atomic.StoreUint64(&driverInits, 0)
	atomic.StoreUint64(&driverCloses, 0)
	atomic.StoreUint64(&physReadOps, 0)
	atomic.StoreUint64(&physReadBytes, 0)
	atomic.StoreUint64(&physWriteOps, 0)
	atomic.StoreUint64(&physWriteBytes, 0)
	atomic.StoreUint64(&registerOps, 0)
	atomic.StoreUint64(&eventsReceived, 0)
	atomic.StoreUint64(&eventsReplied, 0)
	atomic.StoreUint64(&pauseRequests, 0)
	atomic.StoreUint64(&resumeRequests, 0)
}

// Internal metric recording functions

func recordDriverInit() {
	atomic.AddUint64(&driverInits, 1)
}

func recordDriverClose() {
	atomic.AddUint64(&driverCloses, 1)
}

func recordPhysRead(n int) {
	atomic.AddUint64(&physReadOps, 1)
	atomic.AddUint64(&physReadBytes, uint64(n))
}

func recordPhysWrite(n int) {
	atomic.AddUint64(&physWriteOps, 1)
	atomic.AddUint64(&physWriteBytes, uint64(n))
}

func recordRegisterOp() {
	atomic.AddUint64(&registerOps, 1)
}

func recordEventReceived() {
	atomic.AddUint64(&eventsReceived, 1)
}

func recordEventReplied() {
	atomic.AddUint64(&eventsReplied, 1)
}

func recordPause() {
	atomic.AddUint64(&pauseRequests, 1)
}

func recordResume() {
	atomic.AddUint64(&resumeRequests, 1)
}
