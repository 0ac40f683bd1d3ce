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
	applyAutoApprove bool
	applyProperties  map[string]string
)

var applyCmd = &cobra.Command{
	Use:   "apply [settings file or directory]",
	Short: "Provision the declared stack",
	Long: `Builds or changes infrastructure until it matches the stack settings.

The plan is shown and confirmed before anything runs unless --auto-approve
is set.`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().BoolVar(&applyAutoApprove, "auto-approve", false, "Skip interactive approval of plan before applying")
	applyCmd.Flags().StringToStringVarP(&applyProperties, "prop", "D", nil, "Set external properties (format: key=value)")
}

func runApply(cmd *cobra.Command, args []string) error {
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

	if err := stateMgr.Lock(); err != nil {
		return err
	}
	defer stateMgr.Unlock()

	fmt.Print("Loading settings... ")
	settings, err := evaluator.LoadSettings(ctx, entryPoint, applyProperties)
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

	// Also load providers for resources already in state (needed for DELETE)
	if err := loadStateProviders(reg, currentState); err != nil {
		return err
	}

	fmt.Print("Calculating plan... ")
	plan, err := eng.CreatePlan(ctx, cfg, currentState)
	if err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("plan generation failed: %w", err)
	}
	fmt.Println("OK")

	if len(plan.Changes) == 0 {
		fmt.Println("No changes. Infrastructure is up-to-date.")
		return nil
	}

	fmt.Println("\nGantry will perform the following actions:")
	renderPlanChanges(plan)
	renderPlanSummary(plan)

	if !applyAutoApprove {
		fmt.Print("\nDo you want to perform these actions? (y/n): ")
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "yes" {
			fmt.Println("Apply cancelled.")
			return nil
		}
	}

	fmt.Printf("\nApplying %d changes...\n", len(plan.Changes))

	newState, err := eng.ApplyPlan(ctx, plan, currentState)
	if err != nil {
		// Write partial state on failure so successful changes aren't lost
		_ = stateMgr.Write(ctx, currentState)
		return fmt.Errorf("apply failed: %w", err)
	}

	if err := stateMgr.Write(ctx, newState); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}

	fmt.Println("\nApply complete! Resources: " +
		fmt.Sprintf("%d added, %d changed, %d destroyed.", plan.Summary.Create, plan.Summary.Update, plan.Summary.Delete))

	if len(newState.Outputs) > 0 {
		fmt.Println("\nOutputs:")
		for k, v := range newState.Outputs {
			fmt.Printf("  %s = %v\n", k, v)
		}
	}

	return nil
}
