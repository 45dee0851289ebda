package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database != DatabaseLevelDB || cfg.ListenAddress != ":8088" || !cfg.Keeper.AutoSettle {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	again, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.Oracle != cfg.Oracle || again.RateLimit != cfg.RateLimit {
		t.Fatalf("reloaded config differs: %+v vs %+v", again, cfg)
	}
}

func TestLoadParsesSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := strings.Join([]string{
		`ListenAddress = "127.0.0.1:9000"`,
		`DataDir = "/var/lib/zkusd"`,
		`Database = "Bolt"`,
		`[log]`,
		`Level = "debug"`,
		`[oracle]`,
		`MaxAgeBlocks = 7`,
		`[keeper]`,
		`BlockIntervalSeconds = 2`,
		"",
	}, "\n")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database != DatabaseBolt {
		t.Fatalf("database not normalised: %q", cfg.Database)
	}
	if cfg.Oracle.MaxAgeBlocks != 7 || cfg.Oracle.MaxParticipants != 16 {
		t.Fatalf("unexpected oracle section %+v", cfg.Oracle)
	}
	if cfg.BlockInterval() != 2*time.Second {
		t.Fatalf("unexpected block interval %s", cfg.BlockInterval())
	}
	if cfg.DatabasePath() != filepath.Join("/var/lib/zkusd", "state.bolt") {
		t.Fatalf("unexpected database path %s", cfg.DatabasePath())
	}
	level, err := ParseLevel(cfg.Log.Level)
	if err != nil || level != slog.LevelDebug {
		t.Fatalf("unexpected level %v %v", level, err)
	}
}

func TestLoadRejectsUnknownField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("RPCAddress = \"x\"\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "RPCAddress") {
		t.Fatalf("expected unknown field error, got %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Database = "postgres"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected unsupported database error")
	}
	cfg = Default()
	cfg.Log.Level = "loud"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected log level error")
	}
	cfg = Default()
	cfg.Database = DatabaseMemory
	cfg.DataDir = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("memory backend should not need a data dir: %v", err)
	}
}

func TestLoadParsesAuthKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := strings.Join([]string{
		`DataDir = "/var/lib/zkusd"`,
		`[auth]`,
		`NonceTTLSeconds = 300`,
		`[[auth.Keys]]`,
		`ID = "oracle-a"`,
		`Secret = "s3cret"`,
		`Address = "znhb1example"`,
		"",
	}, "\n")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Auth.Keys) != 1 || cfg.Auth.Keys[0].ID != "oracle-a" {
		t.Fatalf("unexpected keys %+v", cfg.Auth.Keys)
	}
	if cfg.Auth.NonceTTLSeconds != 300 || cfg.Auth.TimestampSkewSeconds != 120 || cfg.Auth.NonceCapacity != 4096 {
		t.Fatalf("unexpected auth section %+v", cfg.Auth)
	}
	if cfg.NoncePath() != filepath.Join(cfg.DataDir, "nonces") {
		t.Fatalf("unexpected nonce path %s", cfg.NoncePath())
	}
}

func TestValidateRejectsBadAuthKeys(t *testing.T) {
	cfg := Default()
	cfg.Auth.Keys = []APIKey{{ID: "a", Secret: "s"}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected missing address error")
	}
	cfg = Default()
	cfg.Auth.Keys = []APIKey{
		{ID: "a", Secret: "s", Address: "x"},
		{ID: " a ", Secret: "t", Address: "y"},
	}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate key error, got %v", err)
	}
}
