package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gantry-io/gantry/internal/engine"
	"github.com/gantry-io/gantry/internal/eval"
	"github.com/gantry-io/gantry/internal/registry"
	"github.com/gantry-io/gantry/internal/stack"
)

var (
	planProperties map[string]string
	planTargets    []string
)

var planCmd = &cobra.Command{
	Use:   "plan [settings file or directory]",
	Short: "Show the changes required to reach the declared stack",
	Long: `Evaluates the stack settings, builds the resource graph, and compares it
against recorded state. Nothing is changed; the plan shows what apply would do.`,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringToStringVarP(&planProperties, "prop", "D", nil, "Set external properties (format: key=value)")
	planCmd.Flags().StringSliceVar(&planTargets, "target", nil, "Limit planning to these resource addresses (plus their dependencies)")
}

func runPlan(cmd *cobra.Command, args []string) error {
	wd, entryPoint, err := resolveEntry(args)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	evaluator := eval.NewEvaluator(wd)
	stateMgr, err := newStateStore(wd, evaluator)
	if err != nil {
		return err
	}
	reg := registry.NewRegistry()
	eng := engine.NewEngine(reg)

	fmt.Print("Loading settings... ")
	settings, err := evaluator.LoadSettings(ctx, entryPoint, planProperties)
	if err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("failed to load settings: %w", err)
	}
	cfg, err := stack.Build(settings)
	if err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("failed to build stack: %w", err)
	}
	fmt.Println("OK")

	if err := loadRequiredProviders(reg, cfg); err != nil {
		return err
	}

	currentState, err := stateMgr.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}
	if err := loadStateProviders(reg, currentState); err != nil {
		return err
	}

	fmt.Print("Calculating plan... ")
	plan, err := eng.CreatePlanWithTargets(ctx, cfg, currentState, planTargets)
	if err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("plan generation failed: %w", err)
	}
	fmt.Println("OK")

	if len(plan.Changes) == 0 {
		fmt.Println("\nNo changes. Infrastructure is up-to-date.")
		return nil
	}

	fmt.Println("\nGantry will perform the following actions:")
	renderPlanChanges(plan)
	renderPlanSummary(plan)

	fmt.Println("\nRun 'gantry apply' to execute these actions.")
	return nil
}
