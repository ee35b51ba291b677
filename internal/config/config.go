// Package config holds the gateway's file configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the gateway configuration, loadable from a YAML file. Every
// field has a flag counterpart in cmd/mutagraph, and flags win over the
// file.
type Config struct {
	Server struct {
		Addr         string        `yaml:"addr"`
		Timeout      time.Duration `yaml:"timeout"`
		MaxBodyBytes int64         `yaml:"max_body_bytes"`
		CORSOrigins  []string      `yaml:"cors_origins"`
		GraphiQL     bool          `yaml:"graphiql"`
		Pretty       bool          `yaml:"pretty"`
	} `yaml:"server"`

	GraphQL struct {
		SchemaFile       string   `yaml:"schema_file"`
		CorrelationPaths []string `yaml:"correlation_paths"`
		StreamPrefix     string   `yaml:"stream_prefix"`
		TypeNamespace    string   `yaml:"type_namespace"`
	} `yaml:"graphql"`

	Upstream struct {
		URL            string        `yaml:"url"`
		Timeout        time.Duration `yaml:"timeout"`
		ForwardHeaders []string      `yaml:"forward_headers"`
	} `yaml:"upstream"`

	Sink struct {
		// Backend selects where events land: eventstore, nats, or log.
		Backend string `yaml:"backend"`
	} `yaml:"sink"`

	EventStore struct {
		Connection string `yaml:"connection"`
	} `yaml:"eventstore"`

	NATS struct {
		URL           string `yaml:"url"`
		Stream        string `yaml:"stream"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"nats"`

	Dispatch struct {
		QueueCapacity int           `yaml:"queue_capacity"`
		AppendTimeout time.Duration `yaml:"append_timeout"`
		DrainTimeout  time.Duration `yaml:"drain_timeout"`
	} `yaml:"dispatch"`

	Metrics struct {
		// Addr serves /metrics when set; empty disables the endpoint.
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`

	OTel struct {
		Endpoint string `yaml:"endpoint"`
		Service  string `yaml:"service"`
	} `yaml:"otel"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

func Default() Config {
	var c Config
	c.Server.Addr = ":8080"
	c.Server.Timeout = 10 * time.Second
	c.Server.GraphiQL = true
	c.Upstream.Timeout = 30 * time.Second
	c.Sink.Backend = "log"
	c.NATS.URL = "nats://127.0.0.1:4222"
	c.NATS.Stream = "MUTAGRAPH"
	c.NATS.SubjectPrefix = "mutation"
	c.Dispatch.QueueCapacity = 256
	c.Dispatch.AppendTimeout = 10 * time.Second
	c.Dispatch.DrainTimeout = 15 * time.Second
	c.OTel.Service = "mutagraph"
	c.Log.Level = "info"
	c.Log.Format = "text"
	return c
}

// Load reads the file at path over the defaults. An empty path returns
// the defaults untouched.
func Load(path string) (Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return c, nil
}

// Validate checks the settings the serve command depends on.
func (c Config) Validate() error {
	if c.Upstream.URL == "" {
		return fmt.Errorf("config: upstream.url is required")
	}
	switch c.Sink.Backend {
	case "eventstore":
		if c.EventStore.Connection == "" {
			return fmt.Errorf("config: eventstore.connection is required for the eventstore backend")
		}
	case "nats":
		if c.NATS.URL == "" {
			return fmt.Errorf("config: nats.url is required for the nats backend")
		}
	case "log":
	default:
		return fmt.Errorf("config: unknown sink backend %q", c.Sink.Backend)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}
	return nil
}
