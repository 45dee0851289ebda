package config

import (
	"fmt"
	"log/slog"
	"strings"
)

// Validate rejects configurations the node cannot start with.
func (c *Config) Validate() error {
	switch c.Database {
	case DatabaseMemory, DatabaseLevelDB, DatabaseBolt:
	default:
		return fmt.Errorf("config: unsupported database %q", c.Database)
	}
	if c.Database != DatabaseMemory && strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("config: DataDir required for %s backend", c.Database)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.RateLimit.Burst < 1 {
		return fmt.Errorf("config: ratelimit burst must be positive")
	}
	seen := make(map[string]struct{}, len(c.Auth.Keys))
	for i, key := range c.Auth.Keys {
		id := strings.TrimSpace(key.ID)
		if id == "" || strings.TrimSpace(key.Secret) == "" || strings.TrimSpace(key.Address) == "" {
			return fmt.Errorf("config: auth key %d requires ID, Secret and Address", i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("config: duplicate auth key %q", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// ParseLevel maps a textual log level onto slog.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("config: unknown log level %q", level)
	}
}
