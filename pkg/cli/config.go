package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// UserConfig represents ~/.vizflow/config.yaml.
type UserConfig struct {
	CurrentProfile string             `yaml:"current-profile" json:"currentProfile"`
	Profiles       map[string]Profile `yaml:"profiles" json:"profiles"`
}

// Profile represents a single named configuration profile. Server, Token and
// Transport select a compute agent for server-mode computation.
type Profile struct {
	Server    string `yaml:"server,omitempty" json:"server,omitempty"`
	Token     string `yaml:"token,omitempty" json:"token,omitempty"`
	Transport string `yaml:"transport,omitempty" json:"transport,omitempty"`
	Output    string `yaml:"output,omitempty" json:"output,omitempty"`
}

// ActiveProfile returns the profile to use based on the override or
// current-profile. A missing current profile is empty; a missing override
// is an error.
func (c *UserConfig) ActiveProfile(override string) (Profile, error) {
	name := c.CurrentProfile
	if override != "" {
		name = override
	}
	p, ok := c.Profiles[name]
	if !ok && override != "" {
		return Profile{}, fmt.Errorf("profile %q not found", override)
	}
	return p, nil
}

// ConfigDir returns the CLI config directory: $VIZFLOW_CONFIG_DIR, else
// ~/.vizflow/.
func ConfigDir() string {
	if v := os.Getenv("VIZFLOW_CONFIG_DIR"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".vizflow")
}

// ConfigPath returns the path to config.yaml in ConfigDir.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// LoadUserConfig reads the CLI config file.
func LoadUserConfig() (*UserConfig, error) {
	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg UserConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Profiles == nil {
		cfg.Profiles = map[string]Profile{}
	}
	return &cfg, nil
}

// SaveUserConfig writes the CLI config file.
func SaveUserConfig(cfg *UserConfig) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(ConfigPath(), data, 0o600)
}

func emptyUserConfig() *UserConfig {
	return &UserConfig{CurrentProfile: "default", Profiles: map[string]Profile{}}
}
