package config

import (
	"runtime"
	"time"
)

// Config represents the complete autoclient configuration.
type Config struct {
	Name         string          `yaml:"name"`
	Version      string          `yaml:"version"`
	Policy       string          `yaml:"policy"` // ephemeral | durable
	WorkspaceIDs []string        `yaml:"workspace_ids"`
	GroupID      string          `yaml:"group_id,omitempty"`
	APIKey       string          `yaml:"api_key"`
	LockPath     string          `yaml:"lock_path,omitempty"`
	Log          LogConfig       `yaml:"log"`
	Endpoints    EndpointsConfig `yaml:"endpoints"`
	WS           WSConfig        `yaml:"ws"`
	HTTP         HTTPConfig      `yaml:"http"`
	Cluster      ClusterConfig   `yaml:"cluster"`
	Journal      JournalConfig   `yaml:"journal"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	Level string `yaml:"level"`
}

// EndpointsConfig holds the backend URLs.
type EndpointsConfig struct {
	API     string `yaml:"api"`     // registration endpoint
	GraphQL string `yaml:"graphql"` // graph endpoint, "{workspace}" is replaced per invocation
}

// WSConfig defines the WebSocket transport.
type WSConfig struct {
	Enabled     bool              `yaml:"enabled"`
	Compress    bool              `yaml:"compress"`
	Timeout     time.Duration     `yaml:"timeout"`
	Termination TerminationConfig `yaml:"termination"`
	Retry       RetryConfig       `yaml:"retry"`
	Backoff     BackoffConfig     `yaml:"backoff"`
}

// TerminationConfig controls the shutdown drain.
type TerminationConfig struct {
	Graceful    bool          `yaml:"graceful"`
	GracePeriod time.Duration `yaml:"grace_period"`
}

// RetryConfig controls registration retries.
type RetryConfig struct {
	Retries    int           `yaml:"retries"`
	MinTimeout time.Duration `yaml:"min_timeout"`
	MaxTimeout time.Duration `yaml:"max_timeout"`
	Factor     float64       `yaml:"factor"`
}

// BackoffConfig controls upstream flow control in cluster mode.
// Zero values mean "derive a default at check time".
type BackoffConfig struct {
	Threshold int           `yaml:"threshold,omitempty"`
	Interval  time.Duration `yaml:"interval,omitempty"`
	Duration  time.Duration `yaml:"duration,omitempty"`
}

// HTTPConfig defines the HTTP transport.
type HTTPConfig struct {
	Enabled     bool           `yaml:"enabled"`
	Listen      string         `yaml:"listen"`
	Auth        HTTPAuthConfig `yaml:"auth"`
	EventSecret string         `yaml:"event_secret,omitempty"`
}

// HTTPAuthConfig defines bearer tokens accepted by the HTTP transport.
type HTTPAuthConfig struct {
	Tokens []Token `yaml:"tokens,omitempty"`
}

// Token is a bearer token and its scopes.
type Token struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// ClusterConfig defines cluster mode.
type ClusterConfig struct {
	Enabled                bool `yaml:"enabled"`
	Workers                int  `yaml:"workers"`
	MaxConcurrentPerWorker int  `yaml:"max_concurrent_per_worker"`
}

// JournalConfig defines the SQLite message/invocation journal. An empty path disables it.
type JournalConfig struct {
	Path string `yaml:"path"`
}

const (
	DefaultBackoffInterval = 2500 * time.Millisecond
	DefaultBackoffDuration = 5 * time.Second
)

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Name:    "autoclient",
		Version: "0.1.0",
		Policy:  "ephemeral",
		Log: LogConfig{
			Level: "info",
		},
		Endpoints: EndpointsConfig{
			API:     "https://automation.atomist.com/registration",
			GraphQL: "https://automation.atomist.com/graphql/team/{workspace}",
		},
		WS: WSConfig{
			Enabled:  true,
			Compress: false,
			Timeout:  10 * time.Second,
			Termination: TerminationConfig{
				Graceful:    false,
				GracePeriod: 10 * time.Second,
			},
			Retry: RetryConfig{
				Retries:    10,
				MinTimeout: 500 * time.Millisecond,
				MaxTimeout: 5 * time.Second,
				Factor:     2,
			},
		},
		HTTP: HTTPConfig{
			Enabled: true,
			Listen:  "127.0.0.1:2866",
		},
		Cluster: ClusterConfig{
			Enabled:                false,
			Workers:                runtime.NumCPU(),
			MaxConcurrentPerWorker: 4,
		},
		Journal: JournalConfig{
			Path: "",
		},
	}
}

// BackoffThreshold returns the configured threshold or workers x maxConcurrentPerWorker.
func (c *Config) BackoffThreshold() int {
	if c.WS.Backoff.Threshold > 0 {
		return c.WS.Backoff.Threshold
	}
	return c.Cluster.Workers * c.Cluster.MaxConcurrentPerWorker
}

// BackoffInterval returns the configured check interval or the default.
func (c *Config) BackoffInterval() time.Duration {
	if c.WS.Backoff.Interval > 0 {
		return c.WS.Backoff.Interval
	}
	return DefaultBackoffInterval
}

// BackoffDuration returns how long the backend is asked to pause.
func (c *Config) BackoffDuration() time.Duration {
	if c.WS.Backoff.Duration > 0 {
		return c.WS.Backoff.Duration
	}
	return DefaultBackoffDuration
}
