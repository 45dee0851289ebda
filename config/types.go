package config

// Database backends accepted in Config.Database.
const (
	DatabaseMemory  = "memory"
	DatabaseLevelDB = "leveldb"
	DatabaseBolt    = "bolt"
)

// Log configures the structured logger and the optional rotating file sink.
type Log struct {
	Level      string `toml:"Level"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// Telemetry configures the OTLP exporters.
type Telemetry struct {
	Enabled  bool   `toml:"Enabled"`
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Headers  string `toml:"Headers"`
	Metrics  bool   `toml:"Metrics"`
	Traces   bool   `toml:"Traces"`
}

// Oracle bounds the price aggregator.
type Oracle struct {
	MaxAgeBlocks    uint64 `toml:"MaxAgeBlocks"`
	MaxParticipants int    `toml:"MaxParticipants"`
}

// RateLimit configures the per-client gateway limiter.
type RateLimit struct {
	RequestsPerSecond float64 `toml:"RequestsPerSecond"`
	Burst             int     `toml:"Burst"`
}

// APIKey binds a gateway client to the account it signs requests for.
type APIKey struct {
	ID      string `toml:"ID"`
	Secret  string `toml:"Secret"`
	Address string `toml:"Address"`
}

// Auth configures gateway request signing. Writes from keys not listed here
// are rejected.
type Auth struct {
	TimestampSkewSeconds int      `toml:"TimestampSkewSeconds"`
	NonceTTLSeconds      int      `toml:"NonceTTLSeconds"`
	NonceCapacity        int      `toml:"NonceCapacity"`
	Keys                 []APIKey `toml:"Keys"`
}

// Keeper configures the block clock.
type Keeper struct {
	BlockIntervalSeconds int  `toml:"BlockIntervalSeconds"`
	AutoSettle           bool `toml:"AutoSettle"`
}
