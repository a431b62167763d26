// Package vmi provides a unified virtual machine introspection (VMI)
// driver layer: one capability contract implemented by several hypervisor
// backends, letting a caller pause a running guest, read and write its
// physical memory and CPU register state, choose which classes of CPU
// events the hypervisor delivers, and receive and acknowledge those events
// one at a time per VCPU.
//
// # Backends
//
//   - kvm: full introspection of a KVMi-enabled KVM guest over the
//     hypervisor's unix introspection socket.
//   - qemu_procfs: physical-memory-only access to a QEMU/KVM guest through
//     /proc/<pid>/mem. Register, event and pause operations return
//     ErrNotSupported.
//   - dummy: trivial backend with no hypervisor behind it, for exercising
//     callers.
//
// A backend that cannot support an operation fails with ErrNotSupported
// rather than emulating it; branch on Driver.Type() or handle the error.
//
// # Basic Usage
//
// Initialize a driver against a running guest:
//
//	drv, err := vmi.Init(vmi.DriverKVM, vmi.DriverInitParams{
//		VMName: "winxp",
//		KVM:    &vmi.KVMParams{SocketPath: "/tmp/introspector"},
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer drv.Close()
//
// Pause the guest and read physical memory:
//
//	if err := drv.Pause(); err != nil {
//		log.Fatal(err)
//	}
//	defer drv.Resume()
//
//	buf := make([]byte, 0x2000)
//	if _, err := drv.ReadPhysical(0x1000, buf); err != nil {
//		log.Fatal(err)
//	}
//
// Intercept control register writes:
//
//	err = drv.SetIntercept(0, vmi.CrIntercept{Reg: vmi.Cr3}, true)
//	if err != nil {
//		log.Fatal(err)
//	}
//	for {
//		ev, err := drv.Listen(5 * time.Second)
//		if err != nil {
//			log.Fatal(err)
//		}
//		if ev == nil {
//			continue // timeout, nothing pending
//		}
//		if cr, ok := ev.Kind.(vmi.CrEvent); ok {
//			fmt.Printf("VCPU %d: %s 0x%x -> 0x%x\n", ev.VCPU, cr.Reg, cr.Old, cr.New)
//		}
//		if err := drv.ReplyEvent(ev, vmi.ReplyContinue); err != nil {
//			log.Fatal(err)
//		}
//	}
//
// # Event protocol
//
// At most one event per VCPU is outstanding at any time: the hypervisor
// keeps the reporting VCPU suspended and will not schedule another event
// for it until the pending one is acknowledged with ReplyEvent. Replying
// twice, or replying without a prior Listen for that VCPU, panics: a
// mismatched reply means the VCPU's execution state on the backend is no
// longer known, which no error return can repair.
//
// # Concurrency
//
// Drivers perform no internal locking; all operations are synchronous and
// callers must serialize use of one Driver instance. Independent instances
// against different guests share no state.
//
// # Resource Management
//
// Drivers must be closed with Close() on every exit path. For the KVM
// backend, Close best-effort disables the event classes enabled at
// construction before releasing the socket.
package vmi
