// Package config resolves launcher settings from flags, environment,
// an optional defaults file, and ~/.ssh/config, in that order.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Built-in defaults. The nonstandard SSH port matches how training nodes
// are provisioned, with sshd listening next to the standard daemon.
const (
	DefaultSSHPort    = 2025
	DefaultSSHUser    = "root"
	DefaultMasterPort = 23456
)

// Settings is the resolved launcher configuration.
type Settings struct {
	SSHKey      string   `yaml:"ssh_key,omitempty"`
	SSHPort     int      `yaml:"ssh_port,omitempty"`
	SSHUser     string   `yaml:"ssh_user,omitempty"`
	Concurrency int      `yaml:"concurrency,omitempty"`
	TaskTimeout Duration `yaml:"task_timeout,omitempty"`
	MasterPort  int      `yaml:"master_port,omitempty"`
}

// Duration wraps time.Duration to support YAML unmarshaling from strings
// like "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = dur
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// DefaultSettings returns Settings with built-in default values. Task
// timeout defaults to zero: training runs block for hours.
func DefaultSettings() *Settings {
	return &Settings{
		SSHPort:     DefaultSSHPort,
		SSHUser:     DefaultSSHUser,
		Concurrency: 20,
		MasterPort:  DefaultMasterPort,
	}
}

// DefaultConfigPath returns the defaults file path. Respects
// $XDG_CONFIG_HOME, falling back to ~/.config.
func DefaultConfigPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir != "" {
		return filepath.Join(configDir, "dlaunch", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "dlaunch", "config.yaml")
}

// Load reads and parses a settings YAML file, layered over the built-in
// defaults.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	s := DefaultSettings()
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return s, nil
}

// LoadDefault loads the defaults file if it exists, then layers the
// environment on top (SSH_KEY, SSH_PORT, SSH_USER).
func LoadDefault() (*Settings, error) {
	s := DefaultSettings()

	path := DefaultConfigPath()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			loaded, err := Load(path)
			if err != nil {
				return nil, err
			}
			s = loaded
		}
	}

	s.applyEnv()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Save writes the settings to the given path as YAML, creating parent
// directories if needed.
func Save(path string, s *Settings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// applyEnv overlays environment variables on the settings.
func (s *Settings) applyEnv() {
	if v := os.Getenv("SSH_KEY"); v != "" {
		s.SSHKey = v
	}
	if v := os.Getenv("SSH_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			s.SSHPort = port
		}
	}
	if v := os.Getenv("SSH_USER"); v != "" {
		s.SSHUser = v
	}
}

// Validate checks the settings for logical errors.
func (s *Settings) Validate() error {
	if s.SSHPort <= 0 || s.SSHPort > 65535 {
		return fmt.Errorf("ssh_port must be in 1..65535, got %d", s.SSHPort)
	}
	if s.Concurrency < 0 {
		return fmt.Errorf("concurrency must be non-negative, got %d", s.Concurrency)
	}
	if s.TaskTimeout.Duration < 0 {
		return fmt.Errorf("task_timeout must be non-negative, got %s", s.TaskTimeout)
	}
	if s.MasterPort <= 0 || s.MasterPort > 65535 {
		return fmt.Errorf("master_port must be in 1..65535, got %d", s.MasterPort)
	}
	return nil
}
