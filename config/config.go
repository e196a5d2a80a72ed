package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the daemon configuration, loaded from a TOML file.
type Config struct {
	ListenAddress   string `toml:"ListenAddress"`
	DataDir         string `toml:"DataDir"`
	PolicyAuthority string `toml:"PolicyAuthority"`

	// RevocationPeriods is the cooldown window, in compounding periods from
	// origination, during which a borrower may revoke their own loan.
	RevocationPeriods uint64 `toml:"RevocationPeriods"`

	// Treasuries lists the treasury addresses to bind liquidity-pool hooks for
	// at startup. Hook bindings are runtime-only and re-applied on every boot.
	Treasuries []string `toml:"Treasuries"`

	Pauses  Pauses  `toml:"pauses"`
	Auth    Auth    `toml:"auth"`
	Metrics Metrics `toml:"metrics"`
	Journal Journal `toml:"journal"`
}

// Pauses are the administrative kill switches per ledger flow.
type Pauses struct {
	Take   bool `toml:"Take"`
	Repay  bool `toml:"Repay"`
	Freeze bool `toml:"Freeze"`
	Revoke bool `toml:"Revoke"`
}

// Auth configures the gateway bearer-token middleware.
type Auth struct {
	Enabled    bool          `toml:"Enabled"`
	HMACSecret string        `toml:"HMACSecret"`
	Issuer     string        `toml:"Issuer"`
	Audience   string        `toml:"Audience"`
	ClockSkew  time.Duration `toml:"ClockSkew"`
}

// Metrics configures request metrics and tracing.
type Metrics struct {
	Enabled     bool   `toml:"Enabled"`
	ServiceName string `toml:"ServiceName"`
	LogRequests bool   `toml:"LogRequests"`
}

// Journal configures the persistent event journal.
type Journal struct {
	Enabled bool   `toml:"Enabled"`
	Path    string `toml:"Path"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the daemon cannot start with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		return fmt.Errorf("config: ListenAddress must not be empty")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("config: DataDir must not be empty")
	}
	if c.Auth.Enabled && strings.TrimSpace(c.Auth.HMACSecret) == "" {
		return fmt.Errorf("config: auth enabled without an HMAC secret")
	}
	if c.PolicyAuthority != "" {
		trimmed := strings.TrimPrefix(c.PolicyAuthority, "0x")
		if len(trimmed) != 40 {
			return fmt.Errorf("config: PolicyAuthority must be 20 hex-encoded bytes")
		}
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8645"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./data"
	}
	if strings.TrimSpace(cfg.Metrics.ServiceName) == "" {
		cfg.Metrics.ServiceName = "lendledgerd"
	}
	if cfg.Journal.Enabled && strings.TrimSpace(cfg.Journal.Path) == "" {
		cfg.Journal.Path = filepath.Join(cfg.DataDir, "journal")
	}
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}
