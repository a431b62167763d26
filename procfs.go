package vmi

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// QemuProcfsConnectorName selects the QEMU procfs connector.
const QemuProcfsConnectorName = "qemu_procfs"

// QemuProcfs is a physical-memory-only backend that reads a QEMU/KVM
// guest's RAM through /proc/<pid>/mem. It implements the read side of the
// capability contract; every other operation returns ErrNotSupported.
type QemuProcfs struct {
	mem  *os.File
	base uint64 // host virtual address of the guest RAM mapping
	size uint64
}

// NewQemuProcfs locates the QEMU process backing the guest and maps its
// RAM region. The process is found by pid connector argument, or by
// scanning /proc for a QEMU command line naming the VM. The guest RAM is
// taken to be the largest private anonymous mapping of the process.
func NewQemuProcfs(params DriverInitParams) (*QemuProcfs, error) {
	if params.Connector == nil {
		return nil, ErrMissingConnector
	}
	if params.Connector.Name != QemuProcfsConnectorName {
		return nil, fmt.Errorf("vmi: unknown connector %q", params.Connector.Name)
	}
	args, err := params.Connector.ParseArgs()
	if err != nil {
		return nil, err
	}
	log.Debugf("init %s connector (args: %v)", QemuProcfsConnectorName, args)

	var pid int
	if s, ok := args["pid"]; ok {
		pid, err = strconv.Atoi(s)
		if err != nil {
			return nil, ConnectorArgError{Arg: "pid=" + s}
		}
	} else {
		if params.VMName == "" {
			return nil, ErrMissingVMName
		}
		pid, err = findQemuPID("/proc", params.VMName)
		if err != nil {
			return nil, err
		}
	}

	maps, err := os.Open(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return nil, fmt.Errorf("vmi: open maps of pid %d: %w", pid, err)
	}
	defer maps.Close()
	base, size, err := guestRAMRegion(maps)
	if err != nil {
		return nil, fmt.Errorf("vmi: pid %d: %w", pid, err)
	}

	mem, err := os.Open(fmt.Sprintf("/proc/%d/mem", pid))
	if err != nil {
		return nil, fmt.Errorf("vmi: open memory of pid %d: %w", pid, err)
	}

	log.Debugf("qemu pid %d, guest RAM %d bytes at 0x%x", pid, size, base)
	recordDriverInit()
	return &QemuProcfs{mem: mem, base: base, size: size}, nil
}

// VCPUCount is not supported by this backend.
func (q *QemuProcfs) VCPUCount() (uint16, error) {
	return 0, ErrNotSupported
}

// ReadPhysical reads guest physical memory through the QEMU process.
func (q *QemuProcfs) ReadPhysical(paddr uint64, buf []byte) (int, error) {
	n, err := q.mem.ReadAt(buf, int64(q.base+paddr))
	if err != nil {
		return n, fmt.Errorf("vmi: read physical 0x%x: %w", paddr, err)
	}
	recordPhysRead(n)
	return n, nil
}

// WritePhysical is not supported by this backend.
func (q *QemuProcfs) WritePhysical(paddr uint64, buf []byte) error {
	return ErrNotSupported
}

// MaxPhysicalAddr returns the size of the guest RAM mapping.
func (q *QemuProcfs) MaxPhysicalAddr() (uint64, error) {
	return q.size, nil
}

// ReadRegisters is not supported by this backend.
func (q *QemuProcfs) ReadRegisters(vcpu uint16) (Registers, error) {
	return nil, ErrNotSupported
}

// WriteRegisters is not supported by this backend.
func (q *QemuProcfs) WriteRegisters(vcpu uint16, regs Registers) error {
	return ErrNotSupported
}

// SetPageAccess is not supported by this backend.
func (q *QemuProcfs) SetPageAccess(paddr uint64, access Access) error {
	return ErrNotSupported
}

// Pause is not supported by this backend.
func (q *QemuProcfs) Pause() error {
	return ErrNotSupported
}

// Resume is not supported by this backend.
func (q *QemuProcfs) Resume() error {
	return ErrNotSupported
}

// SetIntercept is not supported by this backend.
func (q *QemuProcfs) SetIntercept(vcpu uint16, intercept InterceptType, enabled bool) error {
	return ErrNotSupported
}

// Listen is not supported by this backend.
func (q *QemuProcfs) Listen(timeout time.Duration) (*Event, error) {
	return nil, ErrNotSupported
}

// ReplyEvent is not supported by this backend.
func (q *QemuProcfs) ReplyEvent(event *Event, reply EventReply) error {
	return ErrNotSupported
}

// Type identifies the backend.
func (q *QemuProcfs) Type() DriverType {
	return DriverQemuProcfs
}

// Close releases the process memory handle.
func (q *QemuProcfs) Close() error {
	recordDriverClose()
	return q.mem.Close()
}

// findQemuPID scans procRoot for a QEMU process whose command line names
// the VM.
func findQemuPID(procRoot, vmName string) (int, error) {
	entries, err := os.ReadDir(procRoot)
	if err != nil {
		return 0, fmt.Errorf("vmi: scan %s: %w", procRoot, err)
	}
	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		cmdline, err := os.ReadFile(filepath.Join(procRoot, e.Name(), "cmdline"))
		if err != nil {
			continue
		}
		if matchQemuCmdline(cmdline, vmName) {
			return pid, nil
		}
	}
	return 0, fmt.Errorf("vmi: no qemu process found for VM %q", vmName)
}

// matchQemuCmdline reports whether a NUL-separated /proc cmdline belongs
// to a QEMU process running the named guest. libvirt spawns guests with
// "-name guest=<name>,..." while a plain invocation uses "-name <name>".
func matchQemuCmdline(cmdline []byte, vmName string) bool {
	argv := strings.Split(string(bytes.TrimRight(cmdline, "\x00")), "\x00")
	if len(argv) == 0 || !strings.Contains(filepath.Base(argv[0]), "qemu") {
		return false
	}
	for i, arg := range argv {
		if arg != "-name" || i+1 >= len(argv) {
			continue
		}
		name := argv[i+1]
		if name == vmName {
			return true
		}
		for _, part := range strings.Split(name, ",") {
			if part == "guest="+vmName {
				return true
			}
		}
	}
	return false
}

// guestRAMRegion parses a /proc/<pid>/maps stream and returns the start
// address and size of the largest private anonymous writable mapping,
// which is where QEMU keeps the guest RAM.
func guestRAMRegion(r io.Reader) (base, size uint64, err error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		// start-end perms offset dev inode [path]
		if len(fields) > 5 {
			continue // named mapping
		}
		if len(fields) < 5 {
			continue
		}
		perms := fields[1]
		if !strings.HasPrefix(perms, "rw") || !strings.HasSuffix(perms, "p") {
			continue
		}
		start, end, ok := parseMapsRange(fields[0])
		if !ok {
			continue
		}
		if end-start > size {
			base, size = start, end-start
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, 0, err
	}
	if size == 0 {
		return 0, 0, fmt.Errorf("vmi: no anonymous RAM mapping found")
	}
	return base, size, nil
}

func parseMapsRange(s string) (start, end uint64, ok bool) {
	lo, hi, found := strings.Cut(s, "-")
	if !found {
		return 0, 0, false
	}
	start, err := strconv.ParseUint(lo, 16, 64)
	if err != nil {
		return 0, 0, false
	}
	end, err = strconv.ParseUint(hi, 16, 64)
	if err != nil {
		return 0, 0, false
	}
	return start, end, true
}
