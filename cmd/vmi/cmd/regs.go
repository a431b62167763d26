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
	"encoding/json"
	"fmt"
	"os"

	"github.com/blacktop/go-vmi"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var regsVCPU uint16

func init() {
	rootCmd.AddCommand(regsCmd)
	regsCmd.Flags().Uint16Var(&regsVCPU, "vcpu", 0, "VCPU to read")
}

var regsCmd = &cobra.Command{
	Use:   "regs",
	Short: "Print the register state of one VCPU as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		drv, err := initDriver()
		if err != nil {
			return err
		}
		defer drv.Close()

		// registers are only coherent while the VCPU is stopped
		if err := drv.Pause(); err != nil {
			return err
		}
		defer func() {
			if err := drv.Resume(); err != nil {
				log.WithError(err).Error("resume failed")
			}
		}()

		regs, err := drv.ReadRegisters(regsVCPU)
		if err != nil {
			return err
		}
		x86, ok := regs.(vmi.X86Registers)
		if !ok {
			return fmt.Errorf("unexpected register set %T", regs)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(x86)
	},
}
