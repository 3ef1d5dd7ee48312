// Package config loads pipeline configuration from a YAML file with
// documented defaults for every tunable.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the full pipeline configuration.
type Config struct {
	DBPath string `yaml:"db_path"`

	Crossref struct {
		Affiliation string `yaml:"affiliation"`
		Mailto      string `yaml:"mailto"`
		FromYear    int    `yaml:"from_year"`
		ToYear      int    `yaml:"to_year"`
		Rows        int    `yaml:"rows"`
	} `yaml:"crossref"`

	CiteIndex struct {
		SearchURL string `yaml:"search_url"`
		MaxPages  int    `yaml:"max_pages"`
	} `yaml:"cite_index"`

	Resolver struct {
		// FuzzyThreshold is the tier-3 title similarity floor. Default 0.90.
		FuzzyThreshold float64 `yaml:"fuzzy_threshold"`
	} `yaml:"resolver"`

	Classifier struct {
		// Attempts bounds retries on invalid model output. Default 3.
		Attempts int `yaml:"attempts"`
		// ConfidenceFloor rejects low-confidence labels. Default 0.60.
		ConfidenceFloor float64 `yaml:"confidence_floor"`
	} `yaml:"classifier"`

	Telemetry struct {
		OTLPEndpoint string `yaml:"otlp_endpoint"`
	} `yaml:"telemetry"`

	// Departments maps author affiliation strings to department ids for the
	// directory collaborator. Unlisted affiliations fold into "unassigned".
	Departments map[string]string `yaml:"departments"`
}

// Default returns the documented defaults applied before any file values.
func Default() Config {
	var cfg Config
	cfg.DBPath = "pubmetrics.db"
	cfg.Resolver.FuzzyThreshold = 0.90
	cfg.Classifier.Attempts = 3
	cfg.Classifier.ConfidenceFloor = 0.60
	cfg.CiteIndex.MaxPages = 50
	cfg.Crossref.Rows = 100
	return cfg
}

// Load reads path over the defaults. A missing file is an error; an empty
// path returns the defaults untouched.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.Resolver.FuzzyThreshold <= 0 || cfg.Resolver.FuzzyThreshold > 1 {
		return cfg, fmt.Errorf("resolver.fuzzy_threshold %v out of range (0,1]", cfg.Resolver.FuzzyThreshold)
	}
	if cfg.Classifier.Attempts <= 0 {
		return cfg, fmt.Errorf("classifier.attempts must be positive")
	}
	return cfg, nil
}
