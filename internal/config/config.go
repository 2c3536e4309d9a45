package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"tidyplan/internal/validate"
)

// Config models tidyplan.yml.
type Config struct {
	Dataset struct {
		ID   string `yaml:"id"`
		Kind string `yaml:"kind"`
	} `yaml:"dataset"`
	Validation struct {
		Limits validate.Limits `yaml:"limits"`
	} `yaml:"validation"`
	Weights map[string]float64 `yaml:"weights"`
	Export  struct {
		MaxErrors int    `yaml:"max_errors"`
		Dir       string `yaml:"dir"`
	} `yaml:"export"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with tp dataset config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Dataset.ID == "" {
		return fmt.Errorf("config.dataset.id is required")
	}
	if c.Dataset.Kind != "allocation-dataset" {
		return fmt.Errorf("config.dataset.kind must be 'allocation-dataset'")
	}
	l := c.Validation.Limits
	if l.MinPhase < 1 {
		return fmt.Errorf("config.validation.limits.min_phase must be at least 1")
	}
	if l.MaxPhase < l.MinPhase {
		return fmt.Errorf("config.validation.limits.max_phase must not be below min_phase")
	}
	if l.MaxAttributesJSONBytes <= 0 {
		return fmt.Errorf("config.validation.limits.max_attributes_json_bytes must be positive")
	}
	if l.NearCapacityRatio <= 0 || l.NearCapacityRatio >= 1 {
		return fmt.Errorf("config.validation.limits.near_capacity_ratio must be in (0,1)")
	}
	for name, w := range c.Weights {
		if name == "" {
			return fmt.Errorf("config.weights contains an empty criterion name")
		}
		if w < 0 {
			return fmt.Errorf("weight for %s must not be negative", name)
		}
	}
	if c.Export.MaxErrors < 0 {
		return fmt.Errorf("config.export.max_errors must not be negative")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "tidyplan.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(datasetID string) string {
	return fmt.Sprintf(defaultTemplate, datasetID)
}

// Default returns the default Config struct for a dataset.
func Default(datasetID string) *Config {
	var cfg Config
	cfg.Dataset.ID = datasetID
	cfg.Dataset.Kind = "allocation-dataset"
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, datasetID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `dataset:
  id: %s
  kind: allocation-dataset

validation:
  limits:
    min_phase: 1
    max_phase: 50
    max_attributes_json_bytes: 5000
    requested_tasks_warn: 20
    skills_warn: 10
    available_phases_warn: 30
    required_skills_warn: 5
    near_capacity_ratio: 0.8

weights:
  priority_level: 0.30
  task_fulfillment: 0.25
  fairness: 0.20
  workload_balance: 0.15
  skill_match: 0.10

export:
  max_errors: 0
  dir: export
`
