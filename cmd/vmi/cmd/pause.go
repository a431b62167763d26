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
	"time"

	"github.com/spf13/cobra"
)

var pauseFor time.Duration

func init() {
	rootCmd.AddCommand(pauseCmd)
	pauseCmd.Flags().DurationVar(&pauseFor, "for", 5*time.Second, "how long to hold the VM paused")
}

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause the VM for a while, then resume it",
	RunE: func(cmd *cobra.Command, args []string) error {
		drv, err := initDriver()
		if err != nil {
			return err
		}
		defer drv.Close()

		if err := drv.Pause(); err != nil {
			return err
		}
		fmt.Printf("paused for %s\n", pauseFor)
		time.Sleep(pauseFor)

		if err := drv.Resume(); err != nil {
			return err
		}
		fmt.Println("resumed")
		return nil
	},
}
