/*
Copyright © 2025 blacktop

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/blacktop/go-vmi"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	verbose    bool
	configPath string

	driverName string
	vmName     string
	socketPath string
	connector  string
	connArgs   []string
)

// config mirrors the global flags for file-based setups.
type config struct {
	Driver    string   `toml:"driver"`
	VM        string   `toml:"vm"`
	Socket    string   `toml:"socket"`
	Connector string   `toml:"connector"`
	Args      []string `toml:"args"`
}

var rootCmd = &cobra.Command{
	Use:           "vmi",
	Short:         "Inspect running virtual machines from the outside",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			log.SetLevel(log.DebugLevel)
		}
		return loadConfig(cmd)
	},
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "V", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "TOML config file")
	rootCmd.PersistentFlags().StringVarP(&driverName, "driver", "d", "", "backend to use (kvm, qemu_procfs, dummy); autodetect when empty")
	rootCmd.PersistentFlags().StringVar(&vmName, "vm", "", "name of the guest")
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "", "KVM introspection socket path")
	rootCmd.PersistentFlags().StringVar(&connector, "connector", "", "memory connector name")
	rootCmd.PersistentFlags().StringArrayVar(&connArgs, "arg", nil, "connector argument (key=value), repeatable")
}

// loadConfig fills in any global not set on the command line from the
// config file. Flags win over the file.
func loadConfig(cmd *cobra.Command) error {
	if configPath == "" {
		return nil
	}
	var cfg config
	if _, err := toml.DecodeFile(configPath, &cfg); err != nil {
		return fmt.Errorf("config %s: %w", configPath, err)
	}
	flags := cmd.Flags()
	if !flags.Changed("driver") && cfg.Driver != "" {
		driverName = cfg.Driver
	}
	if !flags.Changed("vm") && cfg.VM != "" {
		vmName = cfg.VM
	}
	if !flags.Changed("socket") && cfg.Socket != "" {
		socketPath = cfg.Socket
	}
	if !flags.Changed("connector") && cfg.Connector != "" {
		connector = cfg.Connector
	}
	if !flags.Changed("arg") && len(cfg.Args) > 0 {
		connArgs = cfg.Args
	}
	return nil
}

// driverParams assembles init parameters from the globals.
func driverParams() vmi.DriverInitParams {
	params := vmi.DriverInitParams{VMName: vmName}
	if socketPath != "" {
		params.KVM = &vmi.KVMParams{SocketPath: socketPath}
	}
	if connector != "" {
		params.Connector = &vmi.ConnectorParams{Name: connector, Args: connArgs}
	}
	return params
}

// initDriver opens the selected backend, or autodetects one.
func initDriver() (vmi.Driver, error) {
	params := driverParams()
	if driverName == "" {
		return vmi.InitAuto(params)
	}
	typ, err := vmi.ParseDriverType(driverName)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", err, driverName)
	}
	return vmi.Init(typ, params)
}
