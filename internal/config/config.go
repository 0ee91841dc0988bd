package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidConfig = errors.New("config: invalid")
	ErrUnknownStage  = errors.New("config: unknown stage")
)

// Config is the resolved deploy configuration. It is populated once by Load
// and treated as read-only while tasks run.
type Config struct {
	Application      string         `toml:"application"`
	DeployTo         string         `toml:"deploy_to"`
	Stage            string         `toml:"stage"`
	KeepReleases     int            `toml:"keep_releases"`
	MaxParallelHosts int            `toml:"max_parallel_hosts"`
	MetricsAddr      string         `toml:"metrics_addr"`
	CorsOrigins      []string       `toml:"cors_origins"`
	StatusTokenEnv   string         `toml:"status_token_env"`
	SSH              SSHConfig      `toml:"ssh"`
	Servers          []ServerConfig `toml:"servers"`

	// supervisor restart
	SupervisorPIDFile    string `toml:"supervisor_pid_file"`
	SupervisorConfigFile string `toml:"supervisor_config_file"`

	// environment setup
	SharedVirtualenv bool   `toml:"shared_virtualenv"`
	PipRequirements  string `toml:"pip_requirements"`

	// framework task runner
	DjangoCompressor  bool   `toml:"django_compressor"`
	CompileMessages   bool   `toml:"compilemessages"`
	CollectStatic     bool   `toml:"collectstatic"`
	DjangoSettingsDir string `toml:"django_settings_dir"`
	DjangoSettings    string `toml:"django_settings"`
	DjangoProjectDir  string `toml:"django_project_dir"`
	WSGIPath          string `toml:"wsgi_path"`
	Nginx             bool   `toml:"nginx"`
	MultiDB           bool   `toml:"multidb"`
	Migrate           bool   `toml:"migrate"`

	// worker restart
	CeleryName            string          `toml:"celery_name"`
	CeleryNames           []CeleryProcess `toml:"celery_names"`
	RestartCeleryOnDeploy bool            `toml:"restart_celery_on_deploy"`
}

type SSHConfig struct {
	User                     string   `toml:"user"`
	Port                     int      `toml:"port"`
	KeyPath                  string   `toml:"key_path"`
	PassphraseEnv            string   `toml:"passphrase_env"`
	KnownHosts               string   `toml:"known_hosts"`
	InsecureSkipHostKeyCheck bool     `toml:"insecure_skip_host_key_check"`
	UseAgent                 bool     `toml:"use_agent"`
	Timeout                  Duration `toml:"timeout"`
}

// ServerConfig is one inventory entry. User and Port fall back to [ssh].
type ServerConfig struct {
	Address string   `toml:"address"`
	User    string   `toml:"user"`
	Port    int      `toml:"port"`
	Roles   []string `toml:"roles"`
	Local   bool     `toml:"local"`
}

// CeleryProcess names one worker service and whether it has a beat companion.
type CeleryProcess struct {
	Name string `toml:"name"`
	Beat bool   `toml:"beat"`
}

// Duration decodes TOML strings such as "10s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns a Config carrying every documented default.
func Default() Config {
	return Config{
		KeepReleases:         5,
		SupervisorPIDFile:    "/tmp/supervisord.pid",
		SupervisorConfigFile: "supervisord.conf",
		PipRequirements:      "requirements.txt",
		CollectStatic:        true,
		WSGIPath:             "wsgi",
		Migrate:              true,
		SSH: SSHConfig{
			Port:    22,
			Timeout: Duration{10 * time.Second},
		},
	}
}

// HasCelery reports whether any worker restart is configured.
func (c *Config) HasCelery() bool {
	return strings.TrimSpace(c.CeleryName) != "" || len(c.CeleryNames) > 0
}

func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Application) == "" {
		return invalidf("missing application")
	}
	if strings.TrimSpace(cfg.DeployTo) == "" {
		return invalidf("missing deploy_to")
	}
	if !strings.HasPrefix(cfg.DeployTo, "/") {
		return invalidf("deploy_to must be absolute: %q", cfg.DeployTo)
	}
	if cfg.KeepReleases < 1 {
		return invalidf("keep_releases must be at least 1")
	}
	if cfg.MaxParallelHosts < 0 {
		return invalidf("max_parallel_hosts must not be negative")
	}
	if len(cfg.Servers) == 0 {
		return invalidf("at least one server is required")
	}
	for i, srv := range cfg.Servers {
		if err := ValidateServer(srv); err != nil {
			return fmt.Errorf("servers[%d]: %w", i, err)
		}
	}
	for i, proc := range cfg.CeleryNames {
		if strings.TrimSpace(proc.Name) == "" {
			return invalidf("celery_names[%d]: name is required", i)
		}
	}
	if cfg.SSH.Port <= 0 || cfg.SSH.Port > 65535 {
		return invalidf("ssh port out of range: %d", cfg.SSH.Port)
	}
	return nil
}

func ValidateServer(srv ServerConfig) error {
	if strings.TrimSpace(srv.Address) == "" {
		return invalidf("address is required")
	}
	if len(srv.Roles) == 0 {
		return invalidf("server %q has no roles", srv.Address)
	}
	for _, role := range srv.Roles {
		if strings.TrimSpace(role) == "" {
			return invalidf("server %q has an empty role", srv.Address)
		}
	}
	if srv.Port < 0 || srv.Port > 65535 {
		return invalidf("server %q port out of range: %d", srv.Address, srv.Port)
	}
	return nil
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}
