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
	"os/signal"
	"time"

	"github.com/blacktop/go-vmi"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	watchCR         []uint
	watchMSR        []uint
	watchBreakpoint bool
	watchPagefault  bool
	eventCount      int
)

const listenTick = 500 * time.Millisecond

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.Flags().UintSliceVar(&watchCR, "cr", nil, "control register to watch (0, 3 or 4), repeatable")
	eventsCmd.Flags().UintSliceVar(&watchMSR, "msr", nil, "model-specific register to watch, repeatable")
	eventsCmd.Flags().BoolVar(&watchBreakpoint, "breakpoint", false, "watch breakpoint events")
	eventsCmd.Flags().BoolVar(&watchPagefault, "pagefault", false, "watch page-fault events")
	eventsCmd.Flags().IntVarP(&eventCount, "count", "n", 0, "stop after this many events (0: until interrupted)")
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Watch intercepted CPU events from the guest",
	RunE: func(cmd *cobra.Command, args []string) error {
		intercepts := buildIntercepts()
		if len(intercepts) == 0 {
			return fmt.Errorf("nothing to watch, pass --cr, --msr, --breakpoint or --pagefault")
		}

		drv, err := initDriver()
		if err != nil {
			return err
		}
		defer drv.Close()

		vcpus, err := drv.VCPUCount()
		if err != nil {
			return err
		}

		if err := toggleIntercepts(drv, vcpus, intercepts, true); err != nil {
			return err
		}
		defer func() {
			if err := toggleIntercepts(drv, vcpus, intercepts, false); err != nil {
				log.WithError(err).Error("disarming intercepts failed")
			}
		}()

		interrupted := make(chan os.Signal, 1)
		signal.Notify(interrupted, os.Interrupt)
		defer signal.Stop(interrupted)

		seen := 0
		for eventCount == 0 || seen < eventCount {
			select {
			case <-interrupted:
				fmt.Println()
				return nil
			default:
			}

			ev, err := drv.Listen(listenTick)
			if err != nil {
				return err
			}
			if ev == nil {
				continue
			}
			fmt.Println(formatEvent(ev))
			if err := drv.ReplyEvent(ev, vmi.ReplyContinue); err != nil {
				return err
			}
			seen++
		}
		return nil
	},
}

func buildIntercepts() []vmi.InterceptType {
	var intercepts []vmi.InterceptType
	for _, cr := range watchCR {
		intercepts = append(intercepts, vmi.CrIntercept{Reg: vmi.CrType(cr)})
	}
	for _, msr := range watchMSR {
		intercepts = append(intercepts, vmi.MsrIntercept{Msr: uint32(msr)})
	}
	if watchBreakpoint {
		intercepts = append(intercepts, vmi.BreakpointIntercept{})
	}
	if watchPagefault {
		intercepts = append(intercepts, vmi.PagefaultIntercept{})
	}
	return intercepts
}

func toggleIntercepts(drv vmi.Driver, vcpus uint16, intercepts []vmi.InterceptType, enabled bool) error {
	for vcpu := uint16(0); vcpu < vcpus; vcpu++ {
		for _, intercept := range intercepts {
			if err := drv.SetIntercept(vcpu, intercept, enabled); err != nil {
				return err
			}
		}
	}
	return nil
}

func formatEvent(ev *vmi.Event) string {
	switch kind := ev.Kind.(type) {
	case vmi.CrEvent:
		return fmt.Sprintf("vcpu %d: %s write 0x%x -> 0x%x", ev.VCPU, kind.Reg, kind.Old, kind.New)
	case vmi.MsrEvent:
		return fmt.Sprintf("vcpu %d: MSR 0x%x write 0x%x", ev.VCPU, kind.Msr, kind.Value)
	case vmi.BreakpointEvent:
		return fmt.Sprintf("vcpu %d: breakpoint at 0x%x (insn len %d)", ev.VCPU, kind.GPA, kind.InsnLen)
	case vmi.PagefaultEvent:
		return fmt.Sprintf("vcpu %d: pagefault gva 0x%x gpa 0x%x (%s)", ev.VCPU, kind.GVA, kind.GPA, kind.Access)
	default:
		return fmt.Sprintf("vcpu %d: %T", ev.VCPU, kind)
	}
}
