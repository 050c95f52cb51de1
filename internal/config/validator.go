package config

import (
	"fmt"
	"net/url"
)

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	if cfg.Name == "" {
		return fmt.Errorf("name is required")
	}
	if cfg.Version == "" {
		return fmt.Errorf("version is required")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Log.Level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error (got %q)", cfg.Log.Level)
	}

	if cfg.Policy != "ephemeral" && cfg.Policy != "durable" {
		return fmt.Errorf("policy must be ephemeral or durable (got %q)", cfg.Policy)
	}

	if err := checkUnresolved("api_key", cfg.APIKey); err != nil {
		return err
	}

	if !cfg.WS.Enabled && !cfg.HTTP.Enabled {
		return fmt.Errorf("at least one of ws.enabled or http.enabled must be true")
	}

	if cfg.WS.Enabled {
		if cfg.APIKey == "" {
			return fmt.Errorf("api_key is required when ws.enabled is true")
		}
		if len(cfg.WorkspaceIDs) == 0 {
			return fmt.Errorf("workspace_ids must not be empty when ws.enabled is true")
		}
		if _, err := url.ParseRequestURI(cfg.Endpoints.API); err != nil {
			return fmt.Errorf("endpoints.api: %w", err)
		}
		if cfg.WS.Retry.Retries < 0 {
			return fmt.Errorf("ws.retry.retries must not be negative")
		}
		if cfg.WS.Retry.MaxTimeout < cfg.WS.Retry.MinTimeout {
			return fmt.Errorf("ws.retry.max_timeout must be >= ws.retry.min_timeout")
		}
	}

	if cfg.HTTP.Enabled {
		if cfg.HTTP.Listen == "" {
			return fmt.Errorf("http.listen is required when http.enabled is true")
		}
		for i, tok := range cfg.HTTP.Auth.Tokens {
			if tok.Token == "" {
				return fmt.Errorf("http.auth.tokens[%d].token is required", i)
			}
			if err := checkUnresolved(fmt.Sprintf("http.auth.tokens[%d].token", i), tok.Token); err != nil {
				return err
			}
		}
		if err := checkUnresolved("http.event_secret", cfg.HTTP.EventSecret); err != nil {
			return err
		}
	}

	if cfg.Cluster.Enabled {
		if cfg.Cluster.Workers <= 0 {
			return fmt.Errorf("cluster.workers must be positive")
		}
		if cfg.Cluster.MaxConcurrentPerWorker <= 0 {
			return fmt.Errorf("cluster.max_concurrent_per_worker must be positive")
		}
	}

	if cfg.WS.Backoff.Threshold < 0 || cfg.WS.Backoff.Interval < 0 || cfg.WS.Backoff.Duration < 0 {
		return fmt.Errorf("ws.backoff values must not be negative")
	}

	return nil
}

func checkUnresolved(field, value string) error {
	if !envVarPattern.MatchString(value) {
		return nil
	}
	matches := envVarPattern.FindStringSubmatch(value)
	if len(matches) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, matches[1])
	}
	return fmt.Errorf("%s: unresolved environment variable", field)
}
