package config

import "time"

// Config represents the complete deployhook configuration.
type Config struct {
	Include    []string        `yaml:"include,omitempty"`
	Service    ServiceConfig   `yaml:"service"`
	State      StateConfig     `yaml:"state"`
	Listener   ListenerConfig  `yaml:"listener"`
	Metrics    MetricsConfig   `yaml:"metrics,omitempty"`
	Executor   ExecutorConfig  `yaml:"executor,omitempty"`
	Procedures []ProcedureConf `yaml:"procedures,omitempty"`
	Stacks     []StackConf     `yaml:"stacks,omitempty"`

	// SourcePaths lists every file that contributed to this config, root first.
	SourcePaths []string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name            string        `yaml:"name"`
	LogLevel        string        `yaml:"log_level"`
	LogFormat       string        `yaml:"log_format"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StateConfig defines state storage settings.
type StateConfig struct {
	Path string `yaml:"path"`
}

// ListenerConfig defines the webhook listener.
type ListenerConfig struct {
	Listen          string `yaml:"listen"`
	SignatureHeader string `yaml:"signature_header"`
	MaxBodySize     string `yaml:"max_body_size"` // e.g. "1MB", "2048576"
	// WebhookSecret is used for resources that have no secret of their own.
	WebhookSecret string `yaml:"webhook_secret"`
	// Async acknowledges deliveries right after authentication and handles them in the background.
	Async bool `yaml:"async"`
}

// MetricsConfig controls the Prometheus endpoint on the listener.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// ExecutorConfig configures the queue consumer. With no command the
// executor is not started and jobs stay queued for an external consumer.
type ExecutorConfig struct {
	Command      []string      `yaml:"command"`
	Timeout      time.Duration `yaml:"timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// ProcedureConf seeds a procedure into the resource store.
type ProcedureConf struct {
	ID             string `yaml:"id"`
	Name           string `yaml:"name"`
	WebhookEnabled *bool  `yaml:"webhook_enabled,omitempty"` // default true
	WebhookSecret  string `yaml:"webhook_secret"`
}

// StackConf seeds a stack into the resource store.
type StackConf struct {
	ID                 string `yaml:"id"`
	Name               string `yaml:"name"`
	Branch             string `yaml:"branch"`
	WebhookEnabled     *bool  `yaml:"webhook_enabled,omitempty"` // default true
	WebhookSecret      string `yaml:"webhook_secret"`
	WebhookForceDeploy bool   `yaml:"webhook_force_deploy"`
}

func (p ProcedureConf) Enabled() bool { return p.WebhookEnabled == nil || *p.WebhookEnabled }

func (s StackConf) Enabled() bool { return s.WebhookEnabled == nil || *s.WebhookEnabled }

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:            "deployhook",
			LogLevel:        "info",
			LogFormat:       "json",
			ShutdownTimeout: 30 * time.Second,
		},
		State: StateConfig{
			Path: "./data/state.db",
		},
		Listener: ListenerConfig{
			Listen:          "127.0.0.1:8120",
			SignatureHeader: "X-Hub-Signature-256",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Path:    "/metrics",
		},
		Executor: ExecutorConfig{
			Timeout:      10 * time.Minute,
			PollInterval: time.Second,
		},
	}
}
