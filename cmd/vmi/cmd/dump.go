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

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	dumpOutput string
	dumpStart  uint64
	dumpEnd    uint64
)

const dumpChunkSize = 0x1000

func init() {
	rootCmd.AddCommand(dumpCmd)
	dumpCmd.Flags().StringVarP(&dumpOutput, "output", "o", "", "output file (required)")
	dumpCmd.Flags().Uint64Var(&dumpStart, "start", 0, "first physical address")
	dumpCmd.Flags().Uint64Var(&dumpEnd, "end", 0, "end physical address, exclusive (default: max)")
	dumpCmd.MarkFlagRequired("output")
}

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump guest physical memory to a file",
	RunE: func(cmd *cobra.Command, args []string) error {
		drv, err := initDriver()
		if err != nil {
			return err
		}
		defer drv.Close()

		if dumpEnd == 0 {
			if dumpEnd, err = drv.MaxPhysicalAddr(); err != nil {
				return err
			}
		}
		if dumpEnd <= dumpStart {
			return fmt.Errorf("empty range 0x%x..0x%x", dumpStart, dumpEnd)
		}

		out, err := os.Create(dumpOutput)
		if err != nil {
			return err
		}
		defer out.Close()

		if err := drv.Pause(); err != nil {
			return err
		}
		defer func() {
			if err := drv.Resume(); err != nil {
				log.WithError(err).Error("resume failed")
			}
		}()

		buf := make([]byte, dumpChunkSize)
		var dumped uint64
		for addr := dumpStart; addr < dumpEnd; addr += dumpChunkSize {
			chunk := buf
			if remaining := dumpEnd - addr; remaining < dumpChunkSize {
				chunk = buf[:remaining]
			}
			if _, err := drv.ReadPhysical(addr, chunk); err != nil {
				// unbacked regions read as zeroes so the file offsets
				// keep matching physical addresses
				log.WithError(err).Debugf("read 0x%x failed, padding", addr)
				clear(chunk)
			}
			if _, err := out.Write(chunk); err != nil {
				return err
			}
			dumped += uint64(len(chunk))
		}

		fmt.Printf("dumped 0x%x bytes to %s\n", dumped, dumpOutput)
		return nil
	},
}
