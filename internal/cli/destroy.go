package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gantry-io/gantry/internal/engine"
	"github.com/gantry-io/gantry/internal/eval"
	"github.com/gantry-io/gantry/internal/ir"
	"github.com/gantry-io/gantry/internal/registry"
)

var destroyAutoApprove bool

var destroyCmd = &cobra.Command{
	Use:   "destroy",
	Short: "Destroy all managed infrastructure",
	Long: `Deletes every resource tracked in the state file, dependents before
the resources they reference. This is the inverse of 'gantry apply'.`,
	RunE: runDestroy,
}

func init() {
	destroyCmd.Flags().BoolVar(&destroyAutoApprove, "auto-approve", false, "Skip interactive approval before destroying")
}

func runDestroy(cmd *cobra.Command, args []string) error {
	wd, _, err := resolveEntry(args)
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

	fmt.Print("Reading state... ")
	currentState, err := stateMgr.Read(ctx)
	if err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("failed to read state: %w", err)
	}
	fmt.Println("OK")

	if len(currentState.Resources) == 0 {
		fmt.Println("Nothing to destroy. State is empty.")
		return nil
	}

	if err := loadStateProviders(reg, currentState); err != nil {
		return err
	}

	// Planning against an empty config marks everything in state for deletion.
	plan, err := eng.CreatePlan(ctx, &ir.Config{}, currentState)
	if err != nil {
		return fmt.Errorf("destroy plan generation failed: %w", err)
	}

	fmt.Println("\nGantry will destroy the following resources:")
	renderPlanChanges(plan)
	renderPlanSummary(plan)

	if !destroyAutoApprove {
		fmt.Print("\nDo you really want to destroy all resources? (y/n): ")
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "yes" {
			fmt.Println("Destroy cancelled.")
			return nil
		}
	}

	fmt.Printf("\nDestroying %d resources...\n", len(plan.Changes))

	newState, err := eng.ApplyPlan(ctx, plan, currentState)
	if err != nil {
		_ = stateMgr.Write(ctx, currentState)
		return fmt.Errorf("destroy failed: %w", err)
	}

	if err := stateMgr.Write(ctx, newState); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}

	fmt.Printf("\nDestroy complete! %d resources deleted.\n", plan.Summary.Delete)
	return nil
}
