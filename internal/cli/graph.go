package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gantry-io/gantry/internal/engine"
	"github.com/gantry-io/gantry/internal/eval"
	"github.com/gantry-io/gantry/internal/stack"
)

var graphCmd = &cobra.Command{
	Use:   "graph [settings file or directory]",
	Short: "Output the dependency graph in DOT format",
	Long: `Generates a visual representation of the resource dependency graph
in Graphviz DOT format. Pipe the output to 'dot' to generate an image:

  gantry graph | dot -Tpng > graph.png`,
	RunE: runGraph,
}

func runGraph(cmd *cobra.Command, args []string) error {
	wd, entryPoint, err := resolveEntry(args)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	evaluator := eval.NewEvaluator(wd)
	settings, err := evaluator.LoadSettings(ctx, entryPoint, nil)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	cfg, err := stack.Build(settings)
	if err != nil {
		return fmt.Errorf("failed to build stack: %w", err)
	}

	dag, err := engine.BuildDAG(cfg.Resources)
	if err != nil {
		return fmt.Errorf("failed to build graph: %w", err)
	}

	fmt.Println("digraph gantry {")
	fmt.Println("  rankdir = \"BT\";")
	fmt.Println("  node [shape = rect];")
	fmt.Println()

	for _, res := range cfg.Resources {
		fmt.Printf("  %q;\n", engine.ResourceAddr(res))
	}
	fmt.Println()

	for _, res := range cfg.Resources {
		addr := engine.ResourceAddr(res)
		for _, dep := range dag.Dependencies(addr) {
			fmt.Printf("  %q -> %q;\n", addr, dep)
		}
	}

	fmt.Println("}")
	return nil
}
