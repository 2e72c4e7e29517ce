// Package executionserver holds the static registry of execution servers a job
// can be dispatched to.
package executionserver

import (
	"errors"
	"fmt"
	"slices"
	"sort"
)

// ErrServerNotFound is returned when a key is not in the registry.
var ErrServerNotFound = errors.New("execution server not found")

// Mode is how the service reaches an execution server.
type Mode string

const (
	// ModeLocal servers are driven directly over ssh.
	ModeLocal Mode = "local"
	// ModeRemote servers are never dialed; they pull work with a delegation token.
	ModeRemote Mode = "remote"
)

// Config describes one execution server.
type Config struct {
	Key          string
	Mode         Mode
	Host         string
	User         string
	IdentityFile string
	SourceDir    string
	// BaseURL is the attachment endpoint used to proxy artifacts stored on
	// this server.
	BaseURL string
	Queues  []string
}

// IsRemote reports whether the server pulls its own work.
func (c Config) IsRemote() bool { return c.Mode == ModeRemote }

// Address returns the user@host ssh destination.
func (c Config) Address() string { return c.User + "@" + c.Host }

// Validate checks that a local server carries its connection parameters.
func (c Config) Validate() error {
	switch c.Mode {
	case ModeRemote:
		return nil
	case ModeLocal:
		if c.Host == "" || c.User == "" || c.IdentityFile == "" || c.SourceDir == "" {
			return fmt.Errorf("execution server %s: local mode requires host, user, identity file and source dir", c.Key)
		}
		return nil
	default:
		return fmt.Errorf("execution server %s: unknown mode %q", c.Key, c.Mode)
	}
}

// Info is the discovery view of a server.
type Info struct {
	Key    string
	Mode   Mode
	Queues []string
}

// Registry maps keys to server configs. It is read-only after construction
// and safe for concurrent use.
type Registry struct {
	servers map[string]Config
	keys    []string
}

// NewRegistry validates the configs and builds a registry.
func NewRegistry(configs []Config) (*Registry, error) {
	r := &Registry{servers: make(map[string]Config, len(configs))}
	for _, c := range configs {
		if c.Key == "" {
			return nil, errors.New("execution server with empty key")
		}
		if _, dup := r.servers[c.Key]; dup {
			return nil, fmt.Errorf("execution server %s configured twice", c.Key)
		}
		if err := c.Validate(); err != nil {
			return nil, err
		}
		c.Queues = slices.Clone(c.Queues)
		r.servers[c.Key] = c
		r.keys = append(r.keys, c.Key)
	}
	sort.Strings(r.keys)
	return r, nil
}

// Resolve returns the config for key or ErrServerNotFound.
func (r *Registry) Resolve(key string) (Config, error) {
	c, ok := r.servers[key]
	if !ok {
		return Config{}, fmt.Errorf("%w: %s", ErrServerNotFound, key)
	}
	return c, nil
}

// ListAll returns every server in key order.
func (r *Registry) ListAll() []Info {
	infos := make([]Info, 0, len(r.keys))
	for _, k := range r.keys {
		c := r.servers[k]
		infos = append(infos, Info{Key: c.Key, Mode: c.Mode, Queues: slices.Clone(c.Queues)})
	}
	return infos
}

// Configs returns every server config in key order.
func (r *Registry) Configs() []Config {
	out := make([]Config, 0, len(r.keys))
	for _, k := range r.keys {
		out = append(out, r.servers[k])
	}
	return out
}

// Remote returns the configs of remote-mode servers in key order.
func (r *Registry) Remote() []Config {
	var out []Config
	for _, c := range r.Configs() {
		if c.IsRemote() {
			out = append(out, c)
		}
	}
	return out
}
