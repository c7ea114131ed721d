package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/zjy-dev/covfit/internal/distance"
)

const (
	configBaseName = "covfit"
	envPrefix      = "COVFIT"

	maxApproachLevelKey = "fitness.max_approach_level"
	minimalGapKey       = "fitness.minimal_gap"
	parallelismKey      = "fitness.parallelism"
	logLevelKey         = "log.level"
	logDirKey           = "log.dir"

	defaultParallelism = 4
	defaultLogLevel    = "info"
)

// FitnessConfig tunes distance computation and population evaluation.
type FitnessConfig struct {
	MaxApproachLevel int     `mapstructure:"max_approach_level"`
	MinimalGap       float64 `mapstructure:"minimal_gap"`
	Parallelism      int     `mapstructure:"parallelism"`
}

// LogConfig holds the logger settings. An empty Dir logs to the console only.
type LogConfig struct {
	Level string `mapstructure:"level"`
	Dir   string `mapstructure:"dir"`
}

// Config is the top-level covfit configuration.
type Config struct {
	Fitness FitnessConfig `mapstructure:"fitness"`
	Log     LogConfig     `mapstructure:"log"`
}

// DistanceOptions converts the fitness settings for the distance calculator.
func (c *Config) DistanceOptions() distance.Options {
	return distance.Options{
		MaxApproachLevel: c.Fitness.MaxApproachLevel,
		MinimalGap:       c.Fitness.MinimalGap,
	}
}

// Load reads a configuration file from the "configs" directory into a struct.
// The configName parameter should be the base name of the file without the extension (e.g., "covfit").
// The result parameter should be a pointer to a struct that the configuration will be unmarshaled into.
func Load(configName string, result interface{}) error {
	v := viper.New()
	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	addSearchPaths(v)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := v.Unmarshal(result); err != nil {
		return fmt.Errorf("failed to unmarshal config data: %w", err)
	}

	return nil
}

// LoadConfig builds the covfit configuration from defaults, an optional YAML file and
// COVFIT_* environment variables (e.g. COVFIT_FITNESS_MINIMAL_GAP). With an empty
// configFile, covfit.yaml is looked up in the configs directories and may be absent.
func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	v.SetDefault(maxApproachLevelKey, distance.DefaultMaxApproachLevel)
	v.SetDefault(minimalGapKey, distance.DefaultMinimalGap)
	v.SetDefault(parallelismKey, defaultParallelism)
	v.SetDefault(logLevelKey, defaultLogLevel)
	v.SetDefault(logDirKey, "")

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName(configBaseName)
		addSearchPaths(v)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config data: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the engine cannot work with.
func (c *Config) Validate() error {
	if c.Fitness.MaxApproachLevel <= 0 {
		return fmt.Errorf("%s must be positive, got %d", maxApproachLevelKey, c.Fitness.MaxApproachLevel)
	}
	if c.Fitness.MinimalGap <= 0 || c.Fitness.MinimalGap >= 1 {
		return fmt.Errorf("%s must be in (0, 1), got %v", minimalGapKey, c.Fitness.MinimalGap)
	}
	if c.Fitness.Parallelism <= 0 {
		return fmt.Errorf("%s must be positive, got %d", parallelismKey, c.Fitness.Parallelism)
	}
	return nil
}

func addSearchPaths(v *viper.Viper) {
	v.AddConfigPath("configs")       // configs under the working directory
	v.AddConfigPath("../configs")    // parent directory, for go test inside a package
	v.AddConfigPath("../../configs") // deeper packages
}
