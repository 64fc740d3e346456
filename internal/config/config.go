package config

import (
	"errors"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type DatabaseConfig struct {
	DataSource string `koanf:"datasource"`
	Driver     string `koanf:"driver"`
}

type SSHConfig struct {
	KnownHostsPath     string `koanf:"known-hosts"`
	InsecureSkipVerify bool   `koanf:"insecure-skip-host-key"`
	ConnectTimeout     uint64 `koanf:"connect-timeout-seconds"`
	RetryAttempts      uint64 `koanf:"retry-attempts"`
	RetryDelayMs       uint64 `koanf:"retry-delay-ms"`
	RetryMaxDelayMs    uint64 `koanf:"retry-max-delay-ms"`
}

type ArtifactsConfig struct {
	StoragePath      string   `koanf:"location"`
	WorkspacesPath   string   `koanf:"workspaces"`
	LoadSize         uint32   `koanf:"load-size"`
	StartScriptGlobs []string `koanf:"start-script-patterns"`
	ManifestGlobs    []string `koanf:"manifest-patterns"`
}

type ShellConfig struct {
	Tracing bool `koanf:"tracing"`
}

type RunnerConfig struct {
	BackgroundTimeout uint64 `koanf:"background-timeout-seconds"`
}

type Config struct {
	DatabaseConfig  DatabaseConfig  `koanf:"database"`
	SSHConfig       SSHConfig       `koanf:"ssh"`
	ArtifactsConfig ArtifactsConfig `koanf:"artifacts"`
	ShellConfig     ShellConfig     `koanf:"shell"`
	RunnerConfig    RunnerConfig    `koanf:"runner"`
}

func Configure() (*Config, error) {
	config := &Config{}
	err := loadConfig(config)
	if err != nil {
		return nil, err
	}
	return config, nil
}

func loadConfig(config *Config) error {
	koanfInstance := koanf.New(".")
	err := koanfInstance.Load(confmap.Provider(map[string]interface{}{
		"artifacts.load-size":               uint32(4096),
		"artifacts.location":                "artifacts",
		"artifacts.workspaces":              "workspaces",
		"artifacts.start-script-patterns":   []string{"**/bin/start*", "**/server/server.js", "**/app.js"},
		"artifacts.manifest-patterns":       []string{"**/package.json"},
		"ssh.connect-timeout-seconds":       uint64(10),
		"ssh.retry-attempts":                uint64(3),
		"ssh.retry-delay-ms":                uint64(500),
		"ssh.retry-max-delay-ms":            uint64(5000),
		"runner.background-timeout-seconds": uint64(300),
	}, "."), nil)
	if err != nil {
		return err
	}
	err = koanfInstance.Load(file.Provider("/etc/deploy-executor/config.toml"), toml.Parser())
	if errRel := koanfInstance.Load(file.Provider("config.toml"), toml.Parser()); errRel != nil && err != nil {
		return errors.New("unable to load service configuration from known locations")
	}
	return koanfInstance.Unmarshal("", config)
}
