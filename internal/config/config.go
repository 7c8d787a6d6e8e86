package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	// Set defaults
	config := GetDefaults()

	// Configure viper
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("/etc/seqvec/")
	viper.AddConfigPath("$HOME/.seqvec/")

	// Environment variable overrides
	viper.SetEnvPrefix("SEQVEC")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Use specific config file if provided
	if configPath != "" {
		viper.SetConfigFile(configPath)
	}

	// Read configuration
	if err := viper.ReadInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Unmarshal into config struct
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := Validate(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Validate validates the loaded configuration
func Validate(config *Config) error {
	t := config.Training

	if t.Algorithm != "skipgram" && t.Algorithm != "cbow" {
		return fmt.Errorf("invalid algorithm: %s (must be skipgram or cbow)", t.Algorithm)
	}

	if t.Objective != "ns" && t.Objective != "hs" {
		return fmt.Errorf("invalid objective: %s (must be ns or hs)", t.Objective)
	}

	if !t.TrainElements && !t.TrainSequences {
		return fmt.Errorf("at least one of train_elements or train_sequences must be enabled")
	}

	if t.VectorSize <= 0 {
		return fmt.Errorf("vector_size must be positive, got %d", t.VectorSize)
	}

	if t.MinCount < 1 {
		return fmt.Errorf("min_count must be >= 1, got %d", t.MinCount)
	}

	if t.LearningRate <= 0 {
		return fmt.Errorf("learning_rate must be positive, got %g", t.LearningRate)
	}

	if t.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", t.BatchSize)
	}

	if t.Iterations < 1 {
		return fmt.Errorf("iterations must be >= 1, got %d", t.Iterations)
	}

	if t.Epochs < 1 {
		return fmt.Errorf("epochs must be >= 1, got %d", t.Epochs)
	}

	if t.Window <= 0 {
		return fmt.Errorf("window must be positive, got %d", t.Window)
	}

	if t.Negative < 0 {
		return fmt.Errorf("negative must be >= 0, got %d", t.Negative)
	}

	if t.Sample < 0 {
		return fmt.Errorf("sample must be >= 0, got %g", t.Sample)
	}

	if t.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", t.Workers)
	}

	switch config.Corpus.Format {
	case "auto", "text", "csv", "jsonl", "parquet":
	default:
		return fmt.Errorf("invalid corpus format: %s (must be auto, text, csv, jsonl, or parquet)", config.Corpus.Format)
	}

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Logging.Level != "debug" && config.Logging.Level != "info" && config.Logging.Level != "warn" && config.Logging.Level != "error" {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	return nil
}

// Watch starts watching the configuration file for changes
func Watch(config *Config, callback func(*Config)) error {
	viper.WatchConfig()
	viper.OnConfigChange(func(e fsnotify.Event) {
		newConfig := &Config{}
		if err := viper.Unmarshal(newConfig); err != nil {
			// Log error but don't crash
			return
		}

		if err := Validate(newConfig); err != nil {
			// Log error but don't crash
			return
		}

		callback(newConfig)
	})

	return nil
}
