// patui is the command-line front-end to the test harness: it manages the
// test catalog and runs tests, rendering the event log to stdout.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/ormasoftchile/patui/pkg/db"
	"github.com/ormasoftchile/patui/pkg/logging"
	"github.com/ormasoftchile/patui/pkg/tui"
)

// version and commit are set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

var dbPath string

func main() {
	logger, closeLog, err := logging.Setup("patui")
	if err != nil {
		fmt.Fprintln(os.Stderr, "logging:", err)
		os.Exit(1)
	}
	defer closeLog()
	logger.Debug("starting", "version", version, "commit", commit)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "patui",
	Short: "Declarative integration-test harness",
	Long:  "patui — a declarative integration-test harness: tests are dataflow graphs of steps streaming typed data into assertions.",
}

func init() {
	defaultDB := os.Getenv("PATUI_DB")
	if defaultDB == "" {
		defaultDB = "patui.db"
	}
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", defaultDB, "path to the test catalog database")

	rootCmd.AddCommand(newCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(describeCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(tuiCmd)
}

// openStore opens (and lazily initializes) the catalog.
func openStore(ctx context.Context) (*db.Store, error) {
	store, err := db.Open(dbPath)
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func parseTestID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("test id must be numeric, got %q", arg)
	}
	return id, nil
}

var getCmd = &cobra.Command{
	Use:   "get tests",
	Short: "List the tests in the catalog",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if args[0] != "tests" {
			return fmt.Errorf("unknown resource %q", args[0])
		}
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		tests, err := store.List(ctx)
		if err != nil {
			return err
		}
		if len(tests) == 0 {
			fmt.Println("no tests in catalog")
			return nil
		}
		fmt.Printf("%-6s %-30s %-10s %-20s\n", "ID", "NAME", "USED", "LAST UPDATED")
		for _, t := range tests {
			fmt.Printf("%-6d %-30s %-10d %-20s\n", t.ID, t.Name, t.TimesUsed, t.LastUpdated)
		}
		return nil
	},
}

var describeCmd = &cobra.Command{
	Use:   "describe test <id>",
	Short: "Show a test's description and steps",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if args[0] != "test" {
			return fmt.Errorf("unknown resource %q", args[0])
		}
		id, err := parseTestID(args[1])
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		t, err := store.Get(ctx, id)
		if err != nil {
			return err
		}

		fmt.Printf("# %s (id %d)\n\n", t.Name, t.ID)
		if t.Description != "" {
			if rendered, err := glamour.Render(t.Description, "auto"); err == nil {
				fmt.Print(rendered)
			} else {
				fmt.Println(t.Description)
			}
		}
		stepsYAML, err := t.DisplayYAML()
		if err != nil {
			return err
		}
		fmt.Println("steps:")
		fmt.Println(stepsYAML)
		return nil
	},
}

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Browse the test catalog interactively",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()
		return tui.Run(ctx, store)
	},
}
