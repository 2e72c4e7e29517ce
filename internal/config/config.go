// Package config defines the service configuration and converts it into the
// values the subsystems are built from.
package config

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/NIRALUser/clusterpost/internal/domain/executionserver"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Config represents the top-level configuration.
type Config struct {
	Web              WebConfig                        `yaml:"web" mapstructure:"web"`
	Logging          LoggingConfig                    `yaml:"logging" mapstructure:"logging"`
	Store            StoreConfig                      `yaml:"store" mapstructure:"store"`
	Tokens           TokenConfig                      `yaml:"tokens" mapstructure:"tokens"`
	Dispatch         DispatchConfig                   `yaml:"dispatch" mapstructure:"dispatch"`
	Scheduler        SchedulerConfig                  `yaml:"scheduler" mapstructure:"scheduler"`
	Distribution     DistributionConfig               `yaml:"distribution" mapstructure:"distribution"`
	Attachments      AttachmentsConfig                `yaml:"attachments" mapstructure:"attachments"`
	Events           EventsConfig                     `yaml:"events" mapstructure:"events"`
	Telemetry        TelemetryConfig                  `yaml:"telemetry" mapstructure:"telemetry"`
	ExecutionServers map[string]ExecutionServerConfig `yaml:"executionservers" mapstructure:"executionservers"`
}

// WebConfig configures the API and debug listeners.
type WebConfig struct {
	APIHost            string        `yaml:"api_host" mapstructure:"api_host"`
	DebugHost          string        `yaml:"debug_host" mapstructure:"debug_host"`
	ReadTimeout        time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout        time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	CORSAllowedOrigins []string      `yaml:"cors_allowed_origins" mapstructure:"cors_allowed_origins"`
}

// LoggingConfig sets the minimum log level.
type LoggingConfig struct {
	Level string `yaml:"level" mapstructure:"level"`
}

// StoreConfig selects the job registry backend.
type StoreConfig struct {
	Driver   string `yaml:"driver" mapstructure:"driver"`
	DSN      string `yaml:"dsn" mapstructure:"dsn"`
	MinConns int32  `yaml:"min_conns" mapstructure:"min_conns"`
	MaxConns int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// TokenConfig configures token signing. A zero DownloadTTL issues download
// tokens that never expire.
type TokenConfig struct {
	Secret      string        `yaml:"secret" mapstructure:"secret"`
	ServerTTL   time.Duration `yaml:"server_ttl" mapstructure:"server_ttl"`
	DownloadTTL time.Duration `yaml:"download_ttl" mapstructure:"download_ttl"`
	UserTTL     time.Duration `yaml:"user_ttl" mapstructure:"user_ttl"`
}

// DispatchConfig configures the ssh transport. A zero Timeout leaves agent
// invocations unbounded; a zero RateLimit disables throttling.
type DispatchConfig struct {
	SSHBinary string        `yaml:"ssh_binary" mapstructure:"ssh_binary"`
	SCPBinary string        `yaml:"scp_binary" mapstructure:"scp_binary"`
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout"`
	RateLimit float64       `yaml:"rate_limit" mapstructure:"rate_limit"`
	Burst     int           `yaml:"burst" mapstructure:"burst"`
}

// SchedulerConfig configures the in-process queue drainer.
type SchedulerConfig struct {
	Enabled     bool          `yaml:"enabled" mapstructure:"enabled"`
	Interval    time.Duration `yaml:"interval" mapstructure:"interval"`
	Concurrency int           `yaml:"concurrency" mapstructure:"concurrency"`
}

// DistributionConfig configures installing tokens on local servers.
type DistributionConfig struct {
	OnStartup   bool   `yaml:"on_startup" mapstructure:"on_startup"`
	TempDir     string `yaml:"temp_dir" mapstructure:"temp_dir"`
	Concurrency int    `yaml:"concurrency" mapstructure:"concurrency"`
}

// AttachmentsConfig configures the local artifact store. An empty Root
// disables local artifacts.
type AttachmentsConfig struct {
	Root  string   `yaml:"root" mapstructure:"root"`
	Allow []string `yaml:"allow" mapstructure:"allow"`
}

// EventsConfig configures lifecycle event publishing. No brokers means events
// are published to an in-process bus.
type EventsConfig struct {
	Brokers  []string `yaml:"brokers" mapstructure:"brokers"`
	Topic    string   `yaml:"topic" mapstructure:"topic"`
	ClientID string   `yaml:"client_id" mapstructure:"client_id"`
}

// TelemetryConfig configures OTLP export. An empty Endpoint disables it.
type TelemetryConfig struct {
	ServiceName string  `yaml:"service_name" mapstructure:"service_name"`
	Endpoint    string  `yaml:"endpoint" mapstructure:"endpoint"`
	Probability float64 `yaml:"probability" mapstructure:"probability"`
}

// ExecutionServerConfig describes one execution server entry.
type ExecutionServerConfig struct {
	Mode         string   `yaml:"mode" mapstructure:"mode"`
	Hostname     string   `yaml:"hostname" mapstructure:"hostname"`
	User         string   `yaml:"user" mapstructure:"user"`
	IdentityFile string   `yaml:"identityfile" mapstructure:"identityfile"`
	SourceDir    string   `yaml:"sourcedir" mapstructure:"sourcedir"`
	BaseURL      string   `yaml:"baseurl" mapstructure:"baseurl"`
	Queues       []string `yaml:"queues" mapstructure:"queues"`
}

// Default returns the configuration used for values not set by a loader.
func Default() Config {
	return Config{
		Web: WebConfig{
			APIHost:            "0.0.0.0:8180",
			DebugHost:          "0.0.0.0:8190",
			ReadTimeout:        5 * time.Second,
			WriteTimeout:       10 * time.Minute,
			IdleTimeout:        120 * time.Second,
			ShutdownTimeout:    20 * time.Second,
			CORSAllowedOrigins: []string{"*"},
		},
		Logging:   LoggingConfig{Level: "info"},
		Store:     StoreConfig{Driver: StoreMemory, MinConns: 2, MaxConns: 10},
		Tokens:    TokenConfig{ServerTTL: 356 * 24 * time.Hour, UserTTL: 24 * time.Hour},
		Dispatch:  DispatchConfig{SSHBinary: "ssh", SCPBinary: "scp"},
		Scheduler: SchedulerConfig{Interval: 10 * time.Second, Concurrency: 4},
		Distribution: DistributionConfig{
			Concurrency: 4,
		},
		Events:    EventsConfig{Topic: "clusterpost.lifecycle", ClientID: "clusterpost"},
		Telemetry: TelemetryConfig{ServiceName: "clusterpost", Probability: 0.05},
	}
}

// Validate reports every problem with the configuration.
func (c *Config) Validate() error {
	var errs []error
	if c.Tokens.Secret == "" {
		errs = append(errs, errors.New("tokens.secret is required"))
	}
	switch c.Store.Driver {
	case StoreMemory:
	case StorePostgres:
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not supported", c.Store.Driver))
	}
	if _, err := c.Servers(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Servers converts the executionservers section, ordered by key.
func (c *Config) Servers() ([]executionserver.Config, error) {
	keys := make([]string, 0, len(c.ExecutionServers))
	for k := range c.ExecutionServers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]executionserver.Config, 0, len(keys))
	var errs []error
	for _, k := range keys {
		s := c.ExecutionServers[k]
		mode := executionserver.Mode(s.Mode)
		if mode == "" {
			mode = executionserver.ModeLocal
		}
		cfg := executionserver.Config{
			Key:          k,
			Mode:         mode,
			Host:         s.Hostname,
			User:         s.User,
			IdentityFile: s.IdentityFile,
			SourceDir:    s.SourceDir,
			BaseURL:      s.BaseURL,
			Queues:       s.Queues,
		}
		if err := cfg.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, cfg)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return out, nil
}
