package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zjy-dev/covfit/internal/config"
	"github.com/zjy-dev/covfit/internal/logger"
)

// GlobalOptions holds the persistent flags and the configuration they resolve to.
type GlobalOptions struct {
	ConfigFile string
	LogLevel   string
	LogDir     string

	Config *config.Config
}

// NewCovfitCommand creates the root command for the covfit tool.
func NewCovfitCommand() *cobra.Command {
	opts := &GlobalOptions{}

	cmd := &cobra.Command{
		Use:   "covfit",
		Short: "Coverage-goal fitness evaluation for search-based test generation.",
		Long: `covfit turns a static branch model into coverage goals and scores
recorded test executions against them.

Lower fitness is better. A goal is covered when its fitness is zero.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return logger.Close()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "Configuration file (default: configs/covfit.yaml if present)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	cmd.PersistentFlags().StringVar(&opts.LogDir, "log-dir", "", "Directory for log files")

	cmd.AddCommand(NewGoalsCommand(opts))
	cmd.AddCommand(NewEvaluateCommand(opts))

	return cmd
}

func (o *GlobalOptions) load(cmd *cobra.Command) error {
	cfg, err := config.LoadConfig(o.ConfigFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = o.LogLevel
	}
	if cmd.Flags().Changed("log-dir") {
		cfg.Log.Dir = o.LogDir
	}
	o.Config = cfg

	logger.Init(cfg.Log.Level)
	logger.SetLevel(cfg.Log.Level)
	logger.SetOutput(cmd.ErrOrStderr())
	if cfg.Log.Dir != "" {
		if err := logger.InitWithFile(cfg.Log.Level, cfg.Log.Dir); err != nil {
			return fmt.Errorf("failed to initialize log file: %w", err)
		}
		logger.Debug("[Covfit] Logging to %s", logger.GetLogFilePath())
	}
	return nil
}
