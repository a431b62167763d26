package vmi

import "strings"

// DriverInitParams gathers everything needed to initialize a driver.
// VMName is common to all backends; the remaining fields are
// backend-specific and only consulted by the matching driver.
type DriverInitParams struct {
	// VMName identifies the guest to introspect.
	VMName string

	// KVM carries KVM/KVMi-specific parameters.
	KVM *KVMParams

	// Connector carries parameters for memory-only connector backends.
	Connector *ConnectorParams
}

// KVMParams configures the KVM driver.
type KVMParams struct {
	// SocketPath is the unix socket the KVMi-enabled hypervisor exposes.
	SocketPath string
}

// ConnectorParams configures a memory-only connector backend.
type ConnectorParams struct {
	// Name selects the connector, e.g. "qemu_procfs".
	Name string

	// Args are free-form "key=value" connector arguments.
	Args []string
}

// ParseArgs splits the free-form connector arguments into a map. A string
// without a '=' separator is a configuration error.
func (p *ConnectorParams) ParseArgs() (map[string]string, error) {
	args := make(map[string]string, len(p.Args))
	for _, s := range p.Args {
		key, value, ok := strings.Cut(s, "=")
		if !ok || key == "" {
			return nil, ConnectorArgError{Arg: s}
		}
		args[key] = value
	}
	return args, nil
}
