package app

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/zjy-dev/covfit/internal/analysis"
	"github.com/zjy-dev/covfit/internal/distance"
	"github.com/zjy-dev/covfit/internal/fitness"
	"github.com/zjy-dev/covfit/internal/goal"
)

// NewGoalsCommand creates the "goals" subcommand.
func NewGoalsCommand(opts *GlobalOptions) *cobra.Command {
	var (
		modelPath string
		criterion string
		output    string
	)

	cmd := &cobra.Command{
		Use:   "goals",
		Short: "Generate the coverage goals of a branch model.",
		Long: `This command loads a static branch model and generates the coverage goals
of one criterion for every method in it.

Criteria:
  branch    both outcomes of each predicate, plus a root goal for
            each method without predicates
  trycatch  both outcomes of each exception-handler branch

The goal set is written as YAML and can be passed back to "covfit evaluate".

Examples:
  # Print branch goals to stdout
  covfit goals --model model.yaml

  # Save exception-handler goals
  covfit goals --model model.yaml --criterion trycatch --out goals.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			g, calc, err := loadModel(modelPath, opts)
			if err != nil {
				return err
			}

			c, err := fitness.Lookup(criterion)
			if err != nil {
				return err
			}
			goals, err := c.Goals(calc, g.Methods())
			if err != nil {
				return fmt.Errorf("failed to generate goals: %w", err)
			}

			if output == "" {
				return goal.WriteYAML(out, goals)
			}

			if err := writeGoalFile(output, goals); err != nil {
				return err
			}

			fmt.Fprintf(out, "[Goals] %d %s goals written to %s\n", len(goals), criterion, output)
			renderGoals(out, goals)
			return nil
		},
	}

	cmd.Flags().StringVarP(&modelPath, "model", "m", "", "Static branch model (YAML)")
	cmd.Flags().StringVarP(&criterion, "criterion", "c", fitness.CriterionBranch, "Coverage criterion")
	cmd.Flags().StringVarP(&output, "out", "o", "", "Goal file to write (default: stdout)")
	_ = cmd.MarkFlagRequired("model")

	return cmd
}

// writeGoalFile writes goals to path. A failed close is reported, since it may lose
// buffered data.
func writeGoalFile(path string, goals []*goal.BranchGoal) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create goal file: %w", err)
	}
	if err := goal.WriteYAML(f, goals); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close goal file: %w", err)
	}
	return nil
}

// loadModel reads the branch model and builds a calculator from the configured options.
func loadModel(path string, opts *GlobalOptions) (*analysis.Graph, *distance.Calculator, error) {
	g, err := analysis.LoadFile(path)
	if err != nil {
		return nil, nil, err
	}
	calc := distance.NewCalculator(g, opts.Config.DistanceOptions())
	return g, calc, nil
}

func renderGoals(w io.Writer, goals []*goal.BranchGoal) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Goal", "Line"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_RIGHT})
	for _, g := range goals {
		table.Append([]string{g.String(), strconv.Itoa(g.LineNumber())})
	}
	table.Render()
}
