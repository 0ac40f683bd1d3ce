package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gantry-io/gantry/internal/eval"
	"github.com/gantry-io/gantry/internal/stack"
)

var validateCmd = &cobra.Command{
	Use:   "validate [settings file or directory]",
	Short: "Validate the stack settings",
	Long: `Evaluates the settings file, checks every field against its constraints,
and builds the resource graph without touching any infrastructure.`,
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	wd, entryPoint, err := resolveEntry(args)
	if err != nil {
		return err
	}

	evaluator := eval.NewEvaluator(wd)

	fmt.Printf("Checking %s... ", entryPoint)
	settings, err := evaluator.LoadSettings(cmd.Context(), entryPoint, nil)
	if err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("validation failed: %w", err)
	}
	if _, err := stack.Build(settings); err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("validation failed: %w", err)
	}
	fmt.Println("OK")

	fmt.Println("\nConfiguration is valid!")
	return nil
}
