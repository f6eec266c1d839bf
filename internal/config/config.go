package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gyeh/caremart/internal/normalize"
)

// Config holds all runtime configuration for a martload run.
type Config struct {
	SourceDSN string // OLTP source connection string
	SourceDir string // alternative: directory of Parquet snapshot files
	TargetDSN string // star-schema target connection string
	RunDate   string // as-of date for effective dating, YYYY-MM-DD
	LogFormat string // "text" or "json"

	// ReadmissionTypes lists the encounter types that flag a fact row as a
	// readmission candidate.
	ReadmissionTypes []string `yaml:"readmission_types"`
	// AgeBands overrides the patient age-group banding.
	AgeBands []AgeBandConfig `yaml:"age_bands"`
}

// AgeBandConfig is one age band entry in the YAML overlay.
type AgeBandConfig struct {
	Name   string `yaml:"name"`
	MinAge int    `yaml:"min_age"`
}

// yamlConfig is the on-disk YAML structure.
type yamlConfig struct {
	ReadmissionTypes []string        `yaml:"readmission_types"`
	AgeBands         []AgeBandConfig `yaml:"age_bands"`
}

// LoadFromFile reads a YAML config file and merges its values into Config.
func (c *Config) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	c.ReadmissionTypes = yc.ReadmissionTypes
	c.AgeBands = yc.AgeBands
	return c.validateAgeBands()
}

// validateAgeBands checks ordering of any configured bands. Empty means the
// built-in defaults apply.
func (c *Config) validateAgeBands() error {
	for i := 1; i < len(c.AgeBands); i++ {
		if c.AgeBands[i].MinAge <= c.AgeBands[i-1].MinAge {
			return fmt.Errorf("age_bands must be in ascending min_age order (%q before %q)",
				c.AgeBands[i-1].Name, c.AgeBands[i].Name)
		}
	}
	return nil
}

// ParsedRunDate returns the run date as a UTC midnight time.
func (c *Config) ParsedRunDate() (time.Time, error) {
	if c.RunDate == "" {
		return time.Time{}, fmt.Errorf("--run-date is required")
	}
	t, err := time.Parse(normalize.DateLayout, c.RunDate)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse --run-date %q: %w", c.RunDate, err)
	}
	return t.UTC(), nil
}

// ReadmissionTypeSet returns the configured readmission encounter types as
// a lookup set, defaulting to Inpatient.
func (c *Config) ReadmissionTypeSet() map[string]bool {
	types := c.ReadmissionTypes
	if len(types) == 0 {
		types = []string{"Inpatient"}
	}
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return set
}

// NormalizedAgeBands converts configured bands for the normalize package,
// or nil to use its defaults.
func (c *Config) NormalizedAgeBands() []normalize.AgeBand {
	if len(c.AgeBands) == 0 {
		return nil
	}
	bands := make([]normalize.AgeBand, len(c.AgeBands))
	for i, b := range c.AgeBands {
		bands[i] = normalize.AgeBand{Name: b.Name, MinAge: b.MinAge}
	}
	return bands
}

// Validate checks fields needed by every run-shaped command.
func (c *Config) Validate() error {
	if c.SourceDSN == "" && c.SourceDir == "" {
		return fmt.Errorf("--source-dsn or --source-dir is required")
	}
	if c.SourceDSN != "" && c.SourceDir != "" {
		return fmt.Errorf("--source-dsn and --source-dir are mutually exclusive")
	}
	if c.SourceDir != "" {
		if _, err := os.Stat(c.SourceDir); err != nil {
			return fmt.Errorf("source dir not accessible: %w", err)
		}
	}
	if _, err := c.ParsedRunDate(); err != nil {
		return err
	}
	return nil
}

// ValidateWithTarget checks both source and target settings.
func (c *Config) ValidateWithTarget() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.TargetDSN == "" {
		return fmt.Errorf("--target-dsn or WAREHOUSE_DB_URL is required")
	}
	return nil
}
