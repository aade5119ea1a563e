package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config describes the agent configuration loaded from YAML, ENV and flags.
type Config struct {
	Run       RunConfig       `mapstructure:"run"`
	Server    ServerConfig    `mapstructure:"server"`
	Scripts   ScriptsConfig   `mapstructure:"scripts"`
	Workspace WorkspaceConfig `mapstructure:"workspace"`
	GitHub    GitHubConfig    `mapstructure:"github"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Status    StatusConfig    `mapstructure:"status"`
}

// RunConfig identifies the run and bounds its lifetime.
type RunConfig struct {
	ID              string        `mapstructure:"id"`
	CommitSha       string        `mapstructure:"commit_sha"`
	PollingDuration time.Duration `mapstructure:"polling_duration"`
	PollingInterval time.Duration `mapstructure:"polling_interval"`
}

// ServerConfig points at the coordinating server.
type ServerConfig struct {
	URL        string        `mapstructure:"url"`
	AuthToken  string        `mapstructure:"auth_token"`
	Timeout    time.Duration `mapstructure:"timeout"`     // per attempt
	MaxRetries int           `mapstructure:"max_retries"` // on 503 only
}

// ScriptsConfig holds the operator-supplied script templates. Lint and Coverage are optional.
type ScriptsConfig struct {
	Test     string        `mapstructure:"test"`
	Lint     string        `mapstructure:"lint"`
	Coverage string        `mapstructure:"coverage"`
	Shell    string        `mapstructure:"shell"`
	Timeout  time.Duration `mapstructure:"timeout"` // 0 disables
}

// WorkspaceConfig describes the checkout the agent operates on.
type WorkspaceConfig struct {
	Root string `mapstructure:"root"`
}

// GitHubConfig carries CI metadata reported with every poll.
type GitHubConfig struct {
	Repository string `mapstructure:"repository"`
	Ref        string `mapstructure:"ref"`
}

// LoggingConfig controls logger behaviour.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // console, json or github
}

// StatusConfig controls the optional local status server.
type StatusConfig struct {
	Addr           string `mapstructure:"addr"` // empty disables the server
	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
}

// envAliases maps config keys to extra environment variables. The INPUT_* names
// are how GitHub Actions exposes action inputs to container actions.
var envAliases = map[string][]string{
	"run.id":               {"INPUT_RUNID"},
	"run.commit_sha":       {"INPUT_COMMITSHA", "GITHUB_SHA"},
	"run.polling_duration": {"INPUT_POLLINGDURATION"},
	"run.polling_interval": {"INPUT_POLLINGINTERVAL"},
	"server.url":           {"INPUT_TUSKURL"},
	"server.auth_token":    {"INPUT_AUTHTOKEN"},
	"scripts.test":         {"INPUT_TESTSCRIPT"},
	"scripts.lint":         {"INPUT_LINTSCRIPT"},
	"scripts.coverage":     {"INPUT_COVERAGESCRIPT"},
	"workspace.root":       {"GITHUB_WORKSPACE"},
	"github.repository":    {"GITHUB_REPOSITORY"},
	"github.ref":           {"GITHUB_REF"},
}

// flagKeys binds CLI flag names to config keys.
var flagKeys = map[string]string{
	"run-id":           "run.id",
	"commit-sha":       "run.commit_sha",
	"polling-duration": "run.polling_duration",
	"polling-interval": "run.polling_interval",
	"server-url":       "server.url",
	"auth-token":       "server.auth_token",
	"test-script":      "scripts.test",
	"lint-script":      "scripts.lint",
	"coverage-script":  "scripts.coverage",
	"workspace":        "workspace.root",
	"log-level":        "logging.level",
	"log-format":       "logging.format",
	"status-addr":      "status.addr",
}

// Load reads configuration from the provided path, or from tusk-runner.yaml in the
// working directory or configs/ when present. A missing default file is not an error:
// CI runs usually configure everything through the environment.
// Environment variables override file values (prefix: TUSK_, dots replaced with underscores),
// and flags that were explicitly set override both.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("TUSK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, aliases := range envAliases {
		names := append([]string{key, "TUSK_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, aliases...)
		if err := v.BindEnv(names...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if path == "" {
		v.SetConfigName("tusk-runner")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("configs")
	} else {
		v.SetConfigFile(path)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || path != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	// Action inputs arrive as bare seconds ("1800"), which ParseDuration rejects.
	for _, key := range []string{"run.polling_duration", "run.polling_interval"} {
		raw := strings.TrimSpace(v.GetString(key))
		if _, err := strconv.Atoi(raw); err == nil {
			v.Set(key, raw+"s")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults populates defaults for optional fields.
func setDefaults(v *viper.Viper) {
	v.SetDefault("run.polling_duration", "1800s")
	v.SetDefault("run.polling_interval", "5s")

	v.SetDefault("server.timeout", "5s")
	v.SetDefault("server.max_retries", 3)

	v.SetDefault("scripts.shell", "sh")
	v.SetDefault("scripts.timeout", "0s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("status.addr", "")
	v.SetDefault("status.metrics_enabled", true)
}

func (c *Config) normalize() {
	c.Server.URL = strings.TrimRight(strings.TrimSpace(c.Server.URL), "/")
}

// Validate performs basic sanity checks on configuration values.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Run.ID) == "" {
		return errors.New("run.id is required")
	}
	if strings.TrimSpace(c.Run.CommitSha) == "" {
		return errors.New("run.commit_sha is required")
	}
	if c.Run.PollingDuration <= 0 {
		return errors.New("run.polling_duration must be > 0")
	}
	if c.Run.PollingInterval < 0 {
		return errors.New("run.polling_interval must be >= 0")
	}

	if c.Server.URL == "" {
		return errors.New("server.url is required")
	}
	if !strings.HasPrefix(c.Server.URL, "http://") && !strings.HasPrefix(c.Server.URL, "https://") {
		return fmt.Errorf("server.url must be an http(s) URL, got %q", c.Server.URL)
	}
	if strings.TrimSpace(c.Server.AuthToken) == "" {
		return errors.New("server.auth_token is required")
	}
	if c.Server.Timeout <= 0 {
		return errors.New("server.timeout must be > 0")
	}
	if c.Server.MaxRetries < 0 {
		return errors.New("server.max_retries must be >= 0")
	}

	if strings.TrimSpace(c.Scripts.Test) == "" {
		return errors.New("scripts.test is required")
	}
	if strings.TrimSpace(c.Scripts.Shell) == "" {
		return errors.New("scripts.shell must not be empty")
	}
	if c.Scripts.Timeout < 0 {
		return errors.New("scripts.timeout must be >= 0")
	}

	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "console", "json", "github":
	default:
		return fmt.Errorf("logging.format must be one of console, json or github, got %q", c.Logging.Format)
	}

	return nil
}
