// File: cmd/compile.go
package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/pagepilot/internal/compiler"
	"github.com/xkilldash9x/pagepilot/internal/config"
	"github.com/xkilldash9x/pagepilot/internal/intent"
)

// newCompileCmd shows what the engine would execute for a list of intents,
// without launching a browser.
func newCompileCmd() *cobra.Command {
	var showCode bool
	cmd := &cobra.Command{
		Use:   "compile [intents-json | -]",
		Short: "Validate intents and print their execution plans",
		Long: `Reads a JSON array of intents (or a single intent object) from the argument,
or from stdin when the argument is "-" or omitted, and prints the plan each one compiles to.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromContext(cmd.Context())
			if err != nil {
				return err
			}

			var raw string
			if len(args) == 0 || args[0] == "-" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("failed to read intents from stdin: %w", err)
				}
				raw = string(data)
			} else {
				raw = args[0]
			}

			intents, err := intent.ParseList([]byte(raw))
			if err != nil {
				return err
			}
			return printPlans(cmd.OutOrStdout(), cfg.Compiler, intents, showCode)
		},
	}
	cmd.Flags().BoolVar(&showCode, "code", false, "print the full generated script for script plans")
	return cmd
}

// printPlans compiles every intent and reports each result. Invalid intents
// are listed, not fatal; the error reports how many failed.
func printPlans(w io.Writer, cfg config.CompilerConfig, intents []intent.Intent, showCode bool) error {
	comp := compiler.New(compiler.Options{DefaultScrollAmount: cfg.DefaultScrollAmount})
	failed := 0
	for i, in := range intents {
		plan, err := comp.Compile(in)
		if err != nil {
			failed++
			fmt.Fprintf(w, "%d. %s: INVALID: %v\n", i+1, in, err)
			continue
		}
		switch plan.Kind {
		case compiler.PlanNavigate:
			target := plan.URL
			if target == "" {
				target = string(plan.History)
			}
			fmt.Fprintf(w, "%d. %s: navigate %s\n", i+1, in, target)
		case compiler.PlanMessage:
			fmt.Fprintf(w, "%d. %s: message %q\n", i+1, in, plan.Message)
		default:
			fmt.Fprintf(w, "%d. %s: script (%d bytes)\n", i+1, in, len(plan.Code))
			if showCode {
				fmt.Fprintln(w, indent(plan.Code, "    "))
			}
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d intents are invalid", failed, len(intents))
	}
	return nil
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
