package main

import (
	"fmt"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/ormasoftchile/patui/pkg/schema"
	"github.com/ormasoftchile/patui/pkg/types"
)

var newFromFile string

func init() {
	newCmd.Flags().StringVar(&newFromFile, "file", "", "create the test from a YAML definition file")
}

var newCmd = &cobra.Command{
	Use:   "new test",
	Short: "Create a test, interactively or from a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if args[0] != "test" {
			return fmt.Errorf("unknown resource %q", args[0])
		}
		ctx := cmd.Context()

		var test *types.Test
		if newFromFile != "" {
			loaded, errs := schema.ValidateFile(newFromFile)
			if len(errs) > 0 {
				for _, e := range errs {
					fmt.Println(e)
				}
				return fmt.Errorf("%d validation error(s) in %s", len(errs), newFromFile)
			}
			test = loaded
		} else {
			built, err := interactiveTestSetup()
			if err != nil {
				return err
			}
			test = built
		}

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		created, err := store.Create(ctx, *test)
		if err != nil {
			return err
		}
		fmt.Printf("created test %d (%s)\n", created.ID, created.Name)
		return nil
	},
}

// interactiveTestSetup walks the user through naming the test and adding
// steps one at a time.
func interactiveTestSetup() (*types.Test, error) {
	rl, err := readline.New("> ")
	if err != nil {
		return nil, fmt.Errorf("readline: %w", err)
	}
	defer rl.Close()

	prompt := func(label string) (string, error) {
		rl.SetPrompt(label + ": ")
		line, err := rl.Readline()
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(line), nil
	}

	name, err := prompt("test name")
	if err != nil {
		return nil, err
	}
	desc, err := prompt("description")
	if err != nil {
		return nil, err
	}

	test := &types.Test{Name: name, Description: desc}
	for {
		kind, err := prompt("step kind (sender|read|transform_stream|process|plugin|assertion, empty to finish)")
		if err != nil {
			return nil, err
		}
		if kind == "" {
			break
		}
		step, err := promptStep(prompt, kind)
		if err != nil {
			fmt.Println(err)
			continue
		}
		test.Steps = append(test.Steps, *step)
	}

	if errs := schema.Validate(test); len(errs) > 0 {
		for _, e := range errs {
			fmt.Println(e)
		}
		return nil, fmt.Errorf("%d validation error(s)", len(errs))
	}
	return test, nil
}

func promptStep(prompt func(string) (string, error), kind string) (*types.Step, error) {
	name, err := prompt("step name")
	if err != nil {
		return nil, err
	}
	step := &types.Step{Name: name}

	switch kind {
	case "sender":
		src, err := prompt("expression")
		if err != nil {
			return nil, err
		}
		step.Sender = &types.SenderStep{Expr: src}
	case "read":
		src, err := prompt("in (term or file path string)")
		if err != nil {
			return nil, err
		}
		step.Read = &types.ReadStep{In: src}
	case "transform_stream":
		in, err := prompt("in (term)")
		if err != nil {
			return nil, err
		}
		flavour, err := prompt("flavour (utf8|utf8_lines|json|yaml|toml)")
		if err != nil {
			return nil, err
		}
		step.TransformStream = &types.TransformStreamStep{In: in, Flavour: types.TransformFlavour(flavour)}
	case "process":
		command, err := prompt("command")
		if err != nil {
			return nil, err
		}
		argsLine, err := prompt("args (space separated)")
		if err != nil {
			return nil, err
		}
		step.Process = &types.ProcessStep{Command: command, Args: strings.Fields(argsLine)}
	case "plugin":
		path, err := prompt("plugin path")
		if err != nil {
			return nil, err
		}
		step.Plugin = &types.PluginStep{Path: path}
	case "assertion":
		src, err := prompt("expression")
		if err != nil {
			return nil, err
		}
		step.Assertion = &types.AssertionStep{Expr: src}
	default:
		return nil, fmt.Errorf("unknown step kind %q", kind)
	}
	return step, nil
}
