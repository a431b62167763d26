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

	"github.com/blacktop/go-vmi"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(checkCmd)
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Probe which introspection backends this host supports",
	RunE: func(cmd *cobra.Command, args []string) error {
		available := vmi.Available()
		if len(available) == 0 {
			fmt.Println("no backend available on this host")
			return nil
		}
		for _, typ := range available {
			fmt.Printf("%s: available\n", typ)
		}

		if vmName == "" && socketPath == "" && connector == "" {
			return nil
		}

		// a target was named; try to actually open it
		drv, err := initDriver()
		if err != nil {
			fmt.Printf("driver init: error: %v\n", err)
			return nil
		}
		defer drv.Close()

		fmt.Printf("driver init: ok (%s)\n", drv.Type())
		if n, err := drv.VCPUCount(); err == nil {
			fmt.Printf("vcpus: %d\n", n)
		}
		if max, err := drv.MaxPhysicalAddr(); err == nil {
			fmt.Printf("max physical address: 0x%x\n", max)
		}
		return nil
	},
}
