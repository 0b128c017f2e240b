package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// configName is the config file name without extension.
const configName = ".courseflow"

// configType is the config file format.
const configType = "yaml"

// envPrefix is the environment variable prefix for courseflow settings.
const envPrefix = "COURSEFLOW"

// envKeySeparator is the nested key separator in environment variable names.
const envKeySeparator = "_"

// Defaults applied before any file or environment values.
const (
	DefaultOutputDir       = "runs"
	DefaultEnvironment     = "dev"
	DefaultServerAddr      = ":8080"
	DefaultDiagnosticsAddr = ":9090"
	DefaultSegmentWorkers  = 4
	DefaultDayTimeout      = "10m"
	DefaultSoftTimeout     = "2m"
	DefaultLogLevel        = "info"
)

// LoadConfig loads configuration from file, env vars, and defaults.
// If configPath is non-empty, it is used as the explicit config file path.
// Otherwise, the config file is searched in CWD and $HOME.
// Missing config file is not an error; defaults are used.
func LoadConfig(configPath string) (*Config, error) {
	viperCfg := viper.New()

	applyDefaults(viperCfg)

	viperCfg.SetConfigType(configType)
	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	viperCfg.AutomaticEnv()

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(configName)
		viperCfg.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viperCfg.AddConfigPath(home)
		}
	}

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFound) {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
	}

	var cfg Config

	unmarshalErr := viperCfg.Unmarshal(&cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal config: %w", unmarshalErr)
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("validate config: %w", validateErr)
	}

	return &cfg, nil
}

func applyDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("output.dir", DefaultOutputDir)
	viperCfg.SetDefault("output.environment", DefaultEnvironment)

	viperCfg.SetDefault("server.addr", DefaultServerAddr)
	viperCfg.SetDefault("server.diagnostics_addr", DefaultDiagnosticsAddr)

	viperCfg.SetDefault("pipeline.day_workers", 0)
	viperCfg.SetDefault("pipeline.segment_workers", DefaultSegmentWorkers)
	viperCfg.SetDefault("pipeline.day_timeout", DefaultDayTimeout)
	viperCfg.SetDefault("pipeline.soft_timeout", DefaultSoftTimeout)

	viperCfg.SetDefault("observability.otlp_endpoint", "")
	viperCfg.SetDefault("observability.otlp_insecure", false)
	viperCfg.SetDefault("observability.sample_ratio", 0.0)
	viperCfg.SetDefault("observability.log_level", DefaultLogLevel)
	viperCfg.SetDefault("observability.log_json", false)
}
