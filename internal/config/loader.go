package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file, applying defaults first and
// validating the result.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	return cfg, nil
}

// Parse decodes YAML bytes on top of Defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyConfigDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyConfigDefaults fills zero values that yaml may have cleared.
func applyConfigDefaults(cfg *Config) {
	d := Defaults()
	if cfg.Log.Level == "" {
		cfg.Log.Level = d.Log.Level
	}
	if cfg.Policy == "" {
		cfg.Policy = d.Policy
	}
	if cfg.Cluster.Workers <= 0 {
		cfg.Cluster.Workers = d.Cluster.Workers
	}
	if cfg.Cluster.MaxConcurrentPerWorker <= 0 {
		cfg.Cluster.MaxConcurrentPerWorker = d.Cluster.MaxConcurrentPerWorker
	}
	if cfg.WS.Termination.GracePeriod <= 0 {
		cfg.WS.Termination.GracePeriod = d.WS.Termination.GracePeriod
	}
	if cfg.WS.Timeout <= 0 {
		cfg.WS.Timeout = d.WS.Timeout
	}
	if cfg.WS.Retry.Factor <= 0 {
		cfg.WS.Retry.Factor = d.WS.Retry.Factor
	}
	if cfg.WS.Retry.MinTimeout <= 0 {
		cfg.WS.Retry.MinTimeout = d.WS.Retry.MinTimeout
	}
	if cfg.WS.Retry.MaxTimeout <= 0 {
		cfg.WS.Retry.MaxTimeout = d.WS.Retry.MaxTimeout
	}
}

// interpolateEnv replaces ${VAR} with the environment value. Unknown variables
// are left in place so validation can report them.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}
