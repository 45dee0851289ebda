package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the node configuration persisted as TOML.
type Config struct {
	ListenAddress string    `toml:"ListenAddress"`
	DataDir       string    `toml:"DataDir"`
	Database      string    `toml:"Database"`
	GenesisFile   string    `toml:"GenesisFile"`
	Environment   string    `toml:"Environment"`
	Log           Log       `toml:"log"`
	Telemetry     Telemetry `toml:"telemetry"`
	Oracle        Oracle    `toml:"oracle"`
	RateLimit     RateLimit `toml:"ratelimit"`
	Keeper        Keeper    `toml:"keeper"`
	Auth          Auth      `toml:"auth"`
}

// Load loads the configuration from the given path, writing a default file when
// none exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}

	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown field %q", path, undecoded[0].String())
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration written by createDefault.
func Default() *Config {
	cfg := &Config{
		ListenAddress: ":8088",
		DataDir:       "./zkusd-data",
		Database:      DatabaseLevelDB,
		GenesisFile:   "./genesis.yaml",
		Environment:   "dev",
	}
	cfg.applyDefaults()
	cfg.Keeper.AutoSettle = true
	return cfg
}

func (c *Config) applyDefaults() {
	c.Database = strings.ToLower(strings.TrimSpace(c.Database))
	if c.Database == "" {
		c.Database = DatabaseLevelDB
	}
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = ":8088"
	}
	if strings.TrimSpace(c.Environment) == "" {
		c.Environment = "dev"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.MaxSizeMB <= 0 {
		c.Log.MaxSizeMB = 100
	}
	if c.Log.MaxBackups <= 0 {
		c.Log.MaxBackups = 5
	}
	if c.Log.MaxAgeDays <= 0 {
		c.Log.MaxAgeDays = 28
	}
	if c.Telemetry.Endpoint == "" {
		c.Telemetry.Endpoint = "localhost:4318"
	}
	if c.Oracle.MaxAgeBlocks == 0 {
		c.Oracle.MaxAgeBlocks = 20
	}
	if c.Oracle.MaxParticipants <= 0 {
		c.Oracle.MaxParticipants = 16
	}
	if c.RateLimit.RequestsPerSecond <= 0 {
		c.RateLimit.RequestsPerSecond = 20
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 40
	}
	if c.Auth.TimestampSkewSeconds <= 0 {
		c.Auth.TimestampSkewSeconds = 120
	}
	if c.Auth.NonceTTLSeconds <= 0 {
		c.Auth.NonceTTLSeconds = 600
	}
	if c.Auth.NonceCapacity <= 0 {
		c.Auth.NonceCapacity = 4096
	}
	if c.Keeper.BlockIntervalSeconds <= 0 {
		c.Keeper.BlockIntervalSeconds = 5
	}
}

// BlockInterval returns the keeper tick as a duration.
func (c *Config) BlockInterval() time.Duration {
	return time.Duration(c.Keeper.BlockIntervalSeconds) * time.Second
}

// DatabasePath returns the on-disk location of the state database.
func (c *Config) DatabasePath() string {
	switch c.Database {
	case DatabaseBolt:
		return filepath.Join(c.DataDir, "state.bolt")
	default:
		return filepath.Join(c.DataDir, "state")
	}
}

// NoncePath returns the on-disk location of the gateway nonce store.
func (c *Config) NoncePath() string {
	return filepath.Join(c.DataDir, "nonces")
}

// JournalPath returns the on-disk location of the event journal.
func (c *Config) JournalPath() string {
	return filepath.Join(c.DataDir, "events.bolt")
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
