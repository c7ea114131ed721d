package app

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/zjy-dev/gcovr-json-util/v2/pkg/gcovr"
	"gopkg.in/yaml.v3"

	"github.com/zjy-dev/covfit/internal/archive"
	"github.com/zjy-dev/covfit/internal/execution"
	"github.com/zjy-dev/covfit/internal/fitness"
	"github.com/zjy-dev/covfit/internal/goal"
	"github.com/zjy-dev/covfit/internal/logger"
	"github.com/zjy-dev/covfit/internal/metrics"
)

// testFile is the YAML list of candidates run by --runner-cmd.
type testFile struct {
	Tests []execution.TestCase `yaml:"tests"`
}

// NewEvaluateCommand creates the "evaluate" subcommand.
func NewEvaluateCommand(opts *GlobalOptions) *cobra.Command {
	var (
		modelPath   string
		goalsPath   string
		criterion   string
		traces      []string
		runnerCmd   string
		runnerArgs  []string
		testsPath   string
		archivePath string
		gcovrPath   string
		gcovrClass  string
	)

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Score test executions against a goal set.",
		Long: `This command scores candidate tests against every goal of a goal set and
reports, per goal, the best candidate and its control-flow distance.

Candidates come either from recorded JSON traces (--trace, repeatable; the test
id is the file name) or from running an instrumented harness (--runner-cmd)
over the tests listed in --tests. The harness must print the JSON trace of the
run on stdout.

A gcovr JSON report (--gcovr) of the recorded runs adds every executed function
to the entered methods of each trace. Functions are named by their demangled
name; their class is --gcovr-class, or the source file name without extension.

A candidate whose run fails, or whose trace contradicts the model, gets the
worst fitness and does not affect the others.

Examples:
  # Score two recorded traces
  covfit evaluate --model model.yaml --goals goals.yaml --trace t1.json --trace t2.json

  # Take entered methods from gcov coverage of the same run
  covfit evaluate --model model.yaml --goals goals.yaml --trace t1.json \
    --gcovr coverage.json --gcovr-class com.example.Calc

  # Run a harness and keep covering tests in an archive
  covfit evaluate --model model.yaml --goals goals.yaml \
    --runner-cmd ./harness --tests tests.yaml --archive archive.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			ctx := cmd.Context()

			if (len(traces) == 0) == (runnerCmd == "") {
				return fmt.Errorf("exactly one of --trace or --runner-cmd is required")
			}
			if gcovrPath != "" && runnerCmd != "" {
				return fmt.Errorf("--gcovr applies to recorded traces only")
			}

			_, calc, err := loadModel(modelPath, opts)
			if err != nil {
				return err
			}

			f, err := os.Open(goalsPath)
			if err != nil {
				return fmt.Errorf("failed to open goal file: %w", err)
			}
			goals, err := goal.ReadYAML(f, calc)
			f.Close()
			if err != nil {
				return err
			}
			if len(goals) == 0 {
				return fmt.Errorf("goal file %s contains no goals", goalsPath)
			}

			m := metrics.New(prometheus.NewRegistry(), opts.Config.Fitness.MaxApproachLevel)

			var (
				runner  execution.Runner
				tests   []execution.TestCase
				results map[string]*execution.Result
			)
			if runnerCmd != "" {
				tests, err = readTests(testsPath)
				if err != nil {
					return err
				}
				runner = execution.NewCommandRunner(runnerCmd, runnerArgs...)
				fmt.Fprintf(out, "[Evaluate] Running %d tests with %s\n", len(tests), runnerCmd)
			} else {
				var report *gcovr.GcovrReport
				if gcovrPath != "" {
					report, err = execution.ReadGcovrReport(gcovrPath)
					if err != nil {
						return err
					}
				}
				results = make(map[string]*execution.Result, len(traces))
				for _, path := range traces {
					res, err := execution.ReadResultFile(path)
					if err != nil {
						return err
					}
					if report != nil {
						n, err := res.MergeGcovr(report, gcovrClassOf(gcovrClass))
						if err != nil {
							return err
						}
						logger.Debug("[Evaluate] gcovr marked %d methods entered in %s", n, path)
					}
					tc := execution.TestCase{ID: filepath.Base(path)}
					results[tc.ID] = res
					tests = append(tests, tc)
				}
				fmt.Fprintf(out, "[Evaluate] Scoring %d traces\n", len(tests))
			}

			var arc *archive.Archive
			if archivePath != "" {
				arc, err = archive.New(archivePath)
				if err != nil {
					return err
				}
			}

			evaluator := fitness.NewEvaluator(opts.Config.Fitness.Parallelism)
			rows := make([]goalRow, 0, len(goals))
			covered := 0
			for _, g := range goals {
				ff, err := fitness.New(criterion, g, runner, m)
				if err != nil {
					return fmt.Errorf("goal %s: %w", g, err)
				}

				var evals []fitness.Evaluation
				if runner != nil {
					evals, err = evaluator.EvaluateAll(ctx, ff, tests)
					if err != nil {
						return err
					}
				} else {
					for _, tc := range tests {
						ev, err := ff.Score(tc, results[tc.ID])
						if err != nil {
							return fmt.Errorf("scoring %s for %s: %w", tc.ID, g, err)
						}
						evals = append(evals, ev)
					}
				}

				best, _ := fitness.Best(evals)
				if best.Covered {
					covered++
				}
				if arc != nil && arc.RecordEvaluations(g, evals) {
					logger.Info("[Evaluate] Archived %s for %s", best.Test.ID, g)
				}
				rows = append(rows, goalRow{fitness: ff, best: best})
			}

			renderEvaluations(out, rows)
			fmt.Fprintf(out, "[Evaluate] Covered %d/%d %s goals\n", covered, len(goals), criterion)

			if arc != nil {
				if err := arc.Save(""); err != nil {
					return err
				}
				fmt.Fprintf(out, "[Evaluate] Archive %s holds %d covered goals\n", archivePath, arc.Len())
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&modelPath, "model", "m", "", "Static branch model (YAML)")
	cmd.Flags().StringVarP(&goalsPath, "goals", "g", "", "Goal file written by \"covfit goals\"")
	cmd.Flags().StringVarP(&criterion, "criterion", "c", fitness.CriterionBranch, "Coverage criterion the goals belong to")
	cmd.Flags().StringArrayVarP(&traces, "trace", "t", nil, "Recorded JSON trace (repeatable)")
	cmd.Flags().StringVar(&runnerCmd, "runner-cmd", "", "Instrumented harness to run each test with")
	cmd.Flags().StringArrayVar(&runnerArgs, "runner-arg", nil, "Argument passed to the harness before the test arguments (repeatable)")
	cmd.Flags().StringVar(&testsPath, "tests", "", "YAML file listing the tests to run with --runner-cmd")
	cmd.Flags().StringVar(&archivePath, "archive", "", "Archive of covering tests to update")
	cmd.Flags().StringVar(&gcovrPath, "gcovr", "", "gcovr JSON report whose executed functions count as entered")
	cmd.Flags().StringVar(&gcovrClass, "gcovr-class", "", "Class of every gcovr function (default: source file name)")
	_ = cmd.MarkFlagRequired("model")
	_ = cmd.MarkFlagRequired("goals")

	return cmd
}

// gcovrClassOf maps gcovr source files to model classes.
func gcovrClassOf(class string) func(string) string {
	return func(filePath string) string {
		if class != "" {
			return class
		}
		base := filepath.Base(filePath)
		return strings.TrimSuffix(base, filepath.Ext(base))
	}
}

func readTests(path string) ([]execution.TestCase, error) {
	if path == "" {
		return nil, fmt.Errorf("--tests is required with --runner-cmd")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read test file: %w", err)
	}
	var tf testFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("failed to parse test file: %w", err)
	}
	if len(tf.Tests) == 0 {
		return nil, fmt.Errorf("test file %s lists no tests", path)
	}
	return tf.Tests, nil
}

type goalRow struct {
	fitness fitness.TestFitness
	best    fitness.Evaluation
}

func renderEvaluations(w io.Writer, rows []goalRow) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Goal", "Best Test", "Approach", "Branch Distance", "Fitness", "Covered"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	for _, r := range rows {
		d := r.best.Distance
		covered := strconv.FormatBool(r.best.Covered)
		if r.best.Err != nil {
			covered = "error"
		}
		table.Append([]string{
			r.fitness.String(),
			r.best.Test.ID,
			strconv.Itoa(d.ApproachLevel),
			strconv.FormatFloat(d.BranchDistance, 'f', 4, 64),
			strconv.FormatFloat(r.best.Fitness, 'f', 4, 64),
			covered,
		})
	}
	table.Render()
}
