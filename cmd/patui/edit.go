package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ormasoftchile/patui/pkg/schema"
	"github.com/ormasoftchile/patui/pkg/types"
)

var editCmd = &cobra.Command{
	Use:   "edit test <id>",
	Short: "Edit a test's steps in $EDITOR",
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

		test, err := store.Get(ctx, id)
		if err != nil {
			return err
		}

		doc, err := yaml.Marshal(test.Steps)
		if err != nil {
			return fmt.Errorf("render steps: %w", err)
		}

		// Round-trip through the editor until the document parses and
		// validates, or the user gives up with an empty file.
		for {
			edited, err := editInEditor(doc)
			if err != nil {
				return err
			}
			if len(edited) == 0 {
				return fmt.Errorf("empty document, edit aborted")
			}

			var steps []types.Step
			if err := yaml.Unmarshal(edited, &steps); err == nil {
				candidate := test
				candidate.Steps = steps
				if errs := schema.Validate(&candidate); len(errs) == 0 {
					test = candidate
					break
				} else {
					for _, e := range errs {
						fmt.Fprintln(os.Stderr, e)
					}
				}
			} else {
				fmt.Fprintln(os.Stderr, "parse:", err)
			}

			fmt.Fprintln(os.Stderr, "press enter to re-edit, ctrl-c to abort")
			fmt.Scanln()
			doc = edited
		}

		if err := store.Update(ctx, test); err != nil {
			return err
		}
		fmt.Printf("updated test %d\n", test.ID)
		return nil
	},
}

// editInEditor writes the document to a temp file, runs $EDITOR on it and
// returns the result.
func editInEditor(doc []byte) ([]byte, error) {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = "vi"
	}

	f, err := os.CreateTemp("", "patui-edit-*.yaml")
	if err != nil {
		return nil, err
	}
	path := f.Name()
	defer os.Remove(path)

	if _, err := f.Write(doc); err != nil {
		f.Close()
		return nil, err
	}
	f.Close()

	cmd := exec.Command(editor, path)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("editor %q: %w", editor, err)
	}
	return os.ReadFile(path)
}
