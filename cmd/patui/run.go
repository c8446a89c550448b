package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/patui/pkg/runner"
	"github.com/ormasoftchile/patui/pkg/schema"
	"github.com/ormasoftchile/patui/pkg/types"
)

var (
	runTimeout  time.Duration
	runFromFile string
	runTrace    string
)

func init() {
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "abort the run after this duration (0 = no deadline)")
	runCmd.Flags().StringVar(&runFromFile, "file", "", "run a YAML test definition without storing it")
	runCmd.Flags().StringVar(&runTrace, "trace", "", "append the run's event log to this JSONL file")
}

var runCmd = &cobra.Command{
	Use:   "run test [id]",
	Short: "Run a test and print its event log",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if args[0] != "test" {
			return fmt.Errorf("unknown resource %q", args[0])
		}
		ctx := cmd.Context()
		if runTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, runTimeout)
			defer cancel()
		}

		var test types.Test
		switch {
		case runFromFile != "":
			loaded, errs := schema.ValidateFile(runFromFile)
			if len(errs) > 0 {
				for _, e := range errs {
					fmt.Println(e)
				}
				return fmt.Errorf("%d validation error(s) in %s", len(errs), runFromFile)
			}
			test = *loaded
		case len(args) == 2:
			id, err := parseTestID(args[1])
			if err != nil {
				return err
			}
			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()
			loaded, err := store.Get(ctx, id)
			if err != nil {
				return err
			}
			if err := store.TouchUsed(ctx, id); err != nil {
				return err
			}
			test = loaded
		default:
			return fmt.Errorf("give a test id or --file")
		}

		res, err := runner.RunTest(ctx, &test)
		if err != nil {
			return err
		}
		if runTrace != "" {
			tw, terr := runner.NewTraceWriter(runTrace)
			if terr != nil {
				return terr
			}
			defer tw.Close()
			if terr := tw.WriteAll(res.Events); terr != nil {
				return terr
			}
		}
		renderEvents(res.Events)
		if !res.Passed {
			return fmt.Errorf("test failed: %s", res.Reason)
		}
		fmt.Println("passed")
		return nil
	},
}

// renderEvents prints the totally-ordered event log, sampling byte payloads
// compactly.
func renderEvents(events []types.Event) {
	for _, e := range events {
		stamp := e.Timestamp.Format("15:04:05.000")
		switch e.Kind {
		case types.EventBytes:
			fmt.Printf("%s  %-8s %-12s %q\n", stamp, e.Kind, e.Step, truncate(e.Data, 64))
		default:
			fmt.Printf("%s  %-8s %-12s %s\n", stamp, e.Kind, e.Step, e.Message)
		}
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "…"
}
