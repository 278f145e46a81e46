// Package config loads the engine tuning file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/outflow/outflow/pkg/models"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Batching  BatchingConfig  `yaml:"batching"`
	Costs     CostsConfig     `yaml:"costs"`
	Import    ImportConfig    `yaml:"import"`
	Database  DatabaseConfig  `yaml:"database"`
}

type SchedulerConfig struct {
	TickSchedule string        `yaml:"tick_schedule" validate:"required"`
	Concurrency  int           `yaml:"concurrency"   validate:"min=1"`
	BatchLimit   int           `yaml:"batch_limit"   validate:"min=1"`
	MaxSteps     int           `yaml:"max_steps"     validate:"min=1"`
	LockTTL      time.Duration `yaml:"lock_ttl"      validate:"gt=0"`
}

type BatchingConfig struct {
	Threshold    int           `yaml:"threshold"      validate:"min=0"`
	BatchCount   int           `yaml:"batch_count"    validate:"min=1"`
	MaxBatchSize int           `yaml:"max_batch_size" validate:"min=0"`
	Interval     time.Duration `yaml:"interval"       validate:"min=0"`
	GroupTimeout time.Duration `yaml:"group_timeout"  validate:"gt=0"`
}

type CostsConfig struct {
	Currency string  `yaml:"currency" validate:"required,len=3"`
	Email    float64 `yaml:"email"    validate:"min=0"`
	SMS      float64 `yaml:"sms"      validate:"min=0"`
}

// UnitCost is the price of one message on channel.
func (c CostsConfig) UnitCost(channel models.Channel) float64 {
	switch channel {
	case models.ChannelEmail:
		return c.Email
	case models.ChannelSMS:
		return c.SMS
	default:
		return 0
	}
}

type ImportConfig struct {
	ChunkSize      int  `yaml:"chunk_size"      validate:"min=1"`
	RequireContact bool `yaml:"require_contact"`
	MaxRowErrors   int  `yaml:"max_row_errors"  validate:"min=0"`
}

type DatabaseConfig struct {
	StatementTimeout time.Duration `yaml:"statement_timeout" validate:"min=0"`
}

// Default returns the configuration used for every key the file omits.
func Default() *Config {
	return &Config{
		Scheduler: SchedulerConfig{
			TickSchedule: "@every 1m",
			Concurrency:  8,
			BatchLimit:   500,
			MaxSteps:     16,
			LockTTL:      55 * time.Second,
		},
		Batching: BatchingConfig{
			Threshold:    20000,
			BatchCount:   24,
			MaxBatchSize: 5000,
			Interval:     10 * time.Minute,
			GroupTimeout: 2 * time.Hour,
		},
		Costs: CostsConfig{
			Currency: "USD",
			Email:    0.0008,
			SMS:      0.045,
		},
		Import: ImportConfig{
			ChunkSize:    500,
			MaxRowErrors: 1000,
		},
		Database: DatabaseConfig{
			StatementTimeout: 30 * time.Second,
		},
	}
}

// Load reads path over the defaults. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := Parse(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
	}

	return cfg, nil
}

// Parse decodes data into cfg and validates the result.
func Parse(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return cfg.Validate()
}

func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())

	if err := validate.Struct(c); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			return fmt.Errorf("invalid config: %w", validationErrors)
		}

		return err
	}

	return nil
}
