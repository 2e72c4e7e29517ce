// Package viperloader loads configuration from an optional YAML file with
// CLUSTERPOST_ environment overrides.
package viperloader

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/NIRALUser/clusterpost/internal/config"
)

// EnvPrefix prefixes every environment override, e.g. CLUSTERPOST_TOKENS_SECRET.
const EnvPrefix = "CLUSTERPOST"

var _ config.Loader = (*Loader)(nil)

// Loader reads configuration through viper. Execution server keys are
// lowercased by viper, so keys should be written in lowercase.
type Loader struct {
	path string
}

// New returns a loader for path. An empty path searches for clusterpost.yaml
// in ./config and the working directory.
func New(path string) *Loader { return &Loader{path: path} }

func (l *Loader) Load(_ context.Context) (*config.Config, error) {
	v := viper.New()
	setDefaults(v, config.Default())

	if l.path != "" {
		v.SetConfigFile(l.path)
	} else {
		v.SetConfigName("clusterpost")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg config.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// setDefaults registers every scalar default so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d config.Config) {
	v.SetDefault("web.api_host", d.Web.APIHost)
	v.SetDefault("web.debug_host", d.Web.DebugHost)
	v.SetDefault("web.read_timeout", d.Web.ReadTimeout)
	v.SetDefault("web.write_timeout", d.Web.WriteTimeout)
	v.SetDefault("web.idle_timeout", d.Web.IdleTimeout)
	v.SetDefault("web.shutdown_timeout", d.Web.ShutdownTimeout)
	v.SetDefault("web.cors_allowed_origins", d.Web.CORSAllowedOrigins)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.dsn", d.Store.DSN)
	v.SetDefault("store.min_conns", d.Store.MinConns)
	v.SetDefault("store.max_conns", d.Store.MaxConns)
	v.SetDefault("tokens.secret", d.Tokens.Secret)
	v.SetDefault("tokens.server_ttl", d.Tokens.ServerTTL)
	v.SetDefault("tokens.download_ttl", d.Tokens.DownloadTTL)
	v.SetDefault("tokens.user_ttl", d.Tokens.UserTTL)
	v.SetDefault("dispatch.ssh_binary", d.Dispatch.SSHBinary)
	v.SetDefault("dispatch.scp_binary", d.Dispatch.SCPBinary)
	v.SetDefault("dispatch.timeout", d.Dispatch.Timeout)
	v.SetDefault("dispatch.rate_limit", d.Dispatch.RateLimit)
	v.SetDefault("dispatch.burst", d.Dispatch.Burst)
	v.SetDefault("scheduler.enabled", d.Scheduler.Enabled)
	v.SetDefault("scheduler.interval", d.Scheduler.Interval)
	v.SetDefault("scheduler.concurrency", d.Scheduler.Concurrency)
	v.SetDefault("distribution.on_startup", d.Distribution.OnStartup)
	v.SetDefault("distribution.temp_dir", d.Distribution.TempDir)
	v.SetDefault("distribution.concurrency", d.Distribution.Concurrency)
	v.SetDefault("attachments.root", d.Attachments.Root)
	v.SetDefault("attachments.allow", d.Attachments.Allow)
	v.SetDefault("events.brokers", d.Events.Brokers)
	v.SetDefault("events.topic", d.Events.Topic)
	v.SetDefault("events.client_id", d.Events.ClientID)
	v.SetDefault("telemetry.service_name", d.Telemetry.ServiceName)
	v.SetDefault("telemetry.endpoint", d.Telemetry.Endpoint)
	v.SetDefault("telemetry.probability", d.Telemetry.Probability)
}
