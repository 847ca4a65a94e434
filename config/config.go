package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
)

// TelemetryConfig controls the OTLP exporters.
type TelemetryConfig struct {
	Enabled  bool   `toml:"Enabled"`
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Metrics  bool   `toml:"Metrics"`
	Traces   bool   `toml:"Traces"`
}

// Config is the daemon configuration, loaded from a TOML file.
type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	DataDir       string `toml:"DataDir"`
	InMemoryState bool   `toml:"InMemoryState"`
	GenesisFile   string `toml:"GenesisFile"`
	AdminAddress  string `toml:"AdminAddress"`
	Environment   string `toml:"Environment"`

	LogFile       string `toml:"LogFile"`
	LogMaxSizeMB  int    `toml:"LogMaxSizeMB"`
	LogMaxBackups int    `toml:"LogMaxBackups"`
	LogMaxAgeDays int    `toml:"LogMaxAgeDays"`

	AuthSecret         string  `toml:"AuthSecret"`
	RateLimitPerSecond float64 `toml:"RateLimitPerSecond"`
	RateLimitBurst     int     `toml:"RateLimitBurst"`

	Telemetry TelemetryConfig `toml:"Telemetry"`
}

const defaultConfig = `ListenAddress = ":8645"
DataDir = "./custodia-data"
InMemoryState = false
GenesisFile = ""
AdminAddress = ""
Environment = ""

LogFile = ""
LogMaxSizeMB = 100
LogMaxBackups = 3
LogMaxAgeDays = 28

AuthSecret = ""
RateLimitPerSecond = 50.0
RateLimitBurst = 100

[Telemetry]
Enabled = false
Endpoint = "localhost:4318"
Insecure = true
Metrics = false
Traces = false
`

// Load reads the configuration at path, creating a default file when
// none exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := createDefault(path); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	for _, undecoded := range meta.Undecoded() {
		return nil, fmt.Errorf("config file %s contains unknown key %q", path, undecoded.String())
	}

	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func createDefault(path string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, []byte(defaultConfig), 0o600)
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8645"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./custodia-data"
	}
	if cfg.LogMaxSizeMB <= 0 {
		cfg.LogMaxSizeMB = 100
	}
	if cfg.LogMaxBackups < 0 {
		cfg.LogMaxBackups = 0
	}
	if cfg.LogMaxAgeDays < 0 {
		cfg.LogMaxAgeDays = 0
	}
	if cfg.RateLimitPerSecond <= 0 {
		cfg.RateLimitPerSecond = 50
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 100
	}
	if strings.TrimSpace(cfg.Telemetry.Endpoint) == "" {
		cfg.Telemetry.Endpoint = "localhost:4318"
	}
}

// Validate rejects configurations the daemon cannot start with.
func (c *Config) Validate() error {
	admin := strings.TrimSpace(c.AdminAddress)
	if admin != "" && !common.IsHexAddress(admin) {
		return fmt.Errorf("config: AdminAddress %q is not a valid address", c.AdminAddress)
	}
	if genesis := strings.TrimSpace(c.GenesisFile); genesis != "" {
		if _, err := os.Stat(genesis); err != nil {
			return fmt.Errorf("config: GenesisFile %q: %w", c.GenesisFile, err)
		}
	}
	return nil
}

// Admin parses the configured administrator address. Returns the zero
// address when unset.
func (c *Config) Admin() [20]byte {
	admin := strings.TrimSpace(c.AdminAddress)
	if !common.IsHexAddress(admin) {
		return [20]byte{}
	}
	return common.HexToAddress(admin)
}
