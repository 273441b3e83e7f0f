// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the config file when no flag is given.
const EnvironmentVariable = "TETHER_CONFIG"

// Config is the complete tether configuration.
type Config struct {
	Paths  PathsConfig  `yaml:"paths"`
	Tunnel TunnelConfig `yaml:"tunnel"`
	Daemon DaemonConfig `yaml:"daemon"`
	Shell  ShellConfig  `yaml:"shell"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// Root holds the client and server workspace registries.
	Root string `yaml:"root"`

	// Bin is searched for tether binaries before PATH.
	Bin string `yaml:"bin"`
}

// TunnelConfig configures the SSH tunnel and its restart policy.
type TunnelConfig struct {
	SSHBinary string   `yaml:"ssh_binary"`
	SSHArgs   []string `yaml:"ssh_args"`

	// RemoteExecutable is run on the remote host through ssh to start
	// the server daemon.
	RemoteExecutable string `yaml:"remote_executable"`

	GracePeriod  time.Duration `yaml:"grace_period"`
	RestartDelay time.Duration `yaml:"restart_delay"`
	StopTimeout  time.Duration `yaml:"stop_timeout"`
	MaxRetries   int           `yaml:"max_retries"`
}

// DaemonConfig configures both daemons' connection handling.
type DaemonConfig struct {
	IOTimeout   time.Duration `yaml:"io_timeout"`
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// ReadyTimeout bounds how long the CLI waits for a daemon it spawned
	// to publish its record, and how long the client daemon waits for
	// the server to answer through a new tunnel.
	ReadyTimeout time.Duration `yaml:"ready_timeout"`

	MaxMessageSize int `yaml:"max_message_size"`

	// Remote ports are chosen from this range.
	PortRangeStart int `yaml:"port_range_start"`
	PortRangeEnd   int `yaml:"port_range_end"`
}

// ShellConfig configures shell request execution.
type ShellConfig struct {
	Binary  string        `yaml:"binary"`
	Timeout time.Duration `yaml:"timeout"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	homeDirectory, _ := os.UserHomeDir()
	root := filepath.Join(homeDirectory, ".tether")

	return &Config{
		Paths: PathsConfig{
			Root: root,
		},
		Tunnel: TunnelConfig{
			SSHBinary:        "ssh",
			SSHArgs:          []string{"-o", "BatchMode=yes", "-o", "ServerAliveInterval=15", "-o", "ServerAliveCountMax=3"},
			RemoteExecutable: "tether-server",
			GracePeriod:      2 * time.Second,
			RestartDelay:     time.Second,
			StopTimeout:      10 * time.Second,
			MaxRetries:       5,
		},
		Daemon: DaemonConfig{
			IOTimeout:      5 * time.Second,
			DialTimeout:    2 * time.Second,
			ReadyTimeout:   15 * time.Second,
			MaxMessageSize: 1 << 20,
			PortRangeStart: 49152,
			PortRangeEnd:   65535,
		},
		Shell: ShellConfig{
			Binary:  "sh",
			Timeout: 60 * time.Second,
		},
	}
}

// Load reads the file at path, or the file named by TETHER_CONFIG when
// path is empty. With neither, it returns Default.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvironmentVariable)
	}
	if path == "" {
		cfg := Default()
		cfg.expandVariables()
		return cfg, nil
	}
	return LoadFile(path)
}

// LoadFile reads the file at path over the defaults and validates the
// result.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.expandVariables()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME":        os.Getenv("HOME"),
		"TETHER_ROOT": c.Paths.Root,
	}
	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["TETHER_ROOT"] = c.Paths.Root
	c.Paths.Bin = expandVars(c.Paths.Bin, vars)
	c.Tunnel.SSHBinary = expandVars(c.Tunnel.SSHBinary, vars)
	c.Shell.Binary = expandVars(c.Shell.Binary, vars)
}

// varPattern matches ${VAR} and ${VAR:-default}.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, fallback := parts[1], parts[2]
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return fallback
	})
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error

	if c.Paths.Root == "" {
		errs = append(errs, errors.New("paths.root is required"))
	}
	if c.Tunnel.SSHBinary == "" {
		errs = append(errs, errors.New("tunnel.ssh_binary is required"))
	}
	if c.Tunnel.RemoteExecutable == "" {
		errs = append(errs, errors.New("tunnel.remote_executable is required"))
	}
	for name, value := range map[string]time.Duration{
		"tunnel.grace_period":  c.Tunnel.GracePeriod,
		"tunnel.stop_timeout":  c.Tunnel.StopTimeout,
		"daemon.io_timeout":    c.Daemon.IOTimeout,
		"daemon.dial_timeout":  c.Daemon.DialTimeout,
		"daemon.ready_timeout": c.Daemon.ReadyTimeout,
		"shell.timeout":        c.Shell.Timeout,
	} {
		if value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %v", name, value))
		}
	}
	if c.Tunnel.RestartDelay < 0 {
		errs = append(errs, fmt.Errorf("tunnel.restart_delay must not be negative, got %v", c.Tunnel.RestartDelay))
	}
	if c.Tunnel.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("tunnel.max_retries must not be negative, got %d", c.Tunnel.MaxRetries))
	}
	if c.Daemon.MaxMessageSize < 1024 {
		errs = append(errs, fmt.Errorf("daemon.max_message_size must be at least 1024, got %d", c.Daemon.MaxMessageSize))
	}
	if c.Daemon.PortRangeStart < 1024 || c.Daemon.PortRangeEnd > 65535 || c.Daemon.PortRangeStart >= c.Daemon.PortRangeEnd {
		errs = append(errs, fmt.Errorf("daemon port range %d-%d is invalid", c.Daemon.PortRangeStart, c.Daemon.PortRangeEnd))
	}
	if c.Shell.Binary == "" {
		errs = append(errs, errors.New("shell.binary is required"))
	}

	return errors.Join(errs...)
}

// BinaryPath locates a tether binary, looking in Paths.Bin before PATH.
func (c *Config) BinaryPath(name string) (string, error) {
	if c.Paths.Bin != "" {
		candidate := filepath.Join(c.Paths.Bin, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	path, err := exec.LookPath(name)
	if err != nil {
		if c.Paths.Bin != "" {
			return "", fmt.Errorf("%s not found in %s or PATH", name, c.Paths.Bin)
		}
		return "", fmt.Errorf("%s not found in PATH", name)
	}
	return path, nil
}
