package config

import (
	"embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed example.yaml
var exampleConfig embed.FS

// Custody modes for the signing key of the configured identity.
const (
	CustodyPlatform = "platform"
	CustodyUser     = "user"
)

// Config represents the complete learnstr configuration
type Config struct {
	Site         Site         `yaml:"site"`
	Identity     Identity     `yaml:"identity"`
	Relays       Relays       `yaml:"relays"`
	Publish      Publish      `yaml:"publish"`
	Cache        Cache        `yaml:"cache"`
	Interactions Interactions `yaml:"interactions"`
	Storage      Storage      `yaml:"storage"`
	Logging      Logging      `yaml:"logging"`
}

// Site contains site metadata
type Site struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Operator    string `yaml:"operator"`
}

// Identity contains the Nostr identity and key custody settings
type Identity struct {
	Npub      string `yaml:"npub"`
	Custody   string `yaml:"custody"`    // platform|user
	BunkerURL string `yaml:"bunker_url"` // NIP-46 bunker for user custody
	Nsec      string `yaml:"-"`          // never in the file; loaded from LEARNSTR_NSEC
}

// Relays contains relay configuration
type Relays struct {
	Seeds  []string    `yaml:"seeds"`
	Policy RelayPolicy `yaml:"policy"`
}

// RelayPolicy contains relay connection policies
type RelayPolicy struct {
	ConnectTimeoutMs int `yaml:"connect_timeout_ms"`
	QueryTimeoutMs   int `yaml:"query_timeout_ms"`
}

// Publish contains publish orchestration settings
type Publish struct {
	// MinRelayAcks is how many relays must accept a broadcast before it
	// counts as published.
	MinRelayAcks int `yaml:"min_relay_acks"`
	// MaxChildren bounds how many child drafts a composite draft may carry.
	MaxChildren int `yaml:"max_children"`
}

// Cache contains note cache settings
type Cache struct {
	Enabled          bool   `yaml:"enabled"`
	Engine           string `yaml:"engine"` // memory|redis
	RedisURL         string `yaml:"redis_url"`
	TTLSeconds       int    `yaml:"ttl_seconds"`
	MissTTLSeconds   int    `yaml:"miss_ttl_seconds"`
	CleanupIntervalS int    `yaml:"cleanup_interval_seconds"`
}

// Interactions contains live interaction aggregation settings
type Interactions struct {
	GraceMs              int      `yaml:"grace_ms"`  // hidden this long closes the subscription
	SettleMs             int      `yaml:"settle_ms"` // loading flags clear after this, events or not
	MinZapSats           int      `yaml:"min_zap_sats"`
	AllowedReactionChars []string `yaml:"allowed_reaction_chars"`
}

// Storage contains local store settings
type Storage struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// Logging contains logging configuration
type Logging struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // text|json
}

// Default returns a configuration populated with sane defaults
func Default() *Config {
	return &Config{
		Site: Site{
			Title: "learnstr",
		},
		Identity: Identity{
			Custody: CustodyPlatform,
		},
		Relays: Relays{
			Seeds: []string{},
			Policy: RelayPolicy{
				ConnectTimeoutMs: 5000,
				QueryTimeoutMs:   8000,
			},
		},
		Publish: Publish{
			MinRelayAcks: 1,
			MaxChildren:  200,
		},
		Cache: Cache{
			Enabled:          true,
			Engine:           "memory",
			TTLSeconds:       300,
			MissTTLSeconds:   30,
			CleanupIntervalS: 600,
		},
		Interactions: Interactions{
			GraceMs:  45000,
			SettleMs: 4000,
		},
		Storage: Storage{
			SQLitePath: "learnstr.db",
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
	}
}

// applyDefaults fills missing fields from Default()
func applyDefaults(cfg *Config) {
	defaults := Default()

	if cfg.Identity.Custody == "" {
		cfg.Identity.Custody = defaults.Identity.Custody
	}
	if cfg.Relays.Policy.ConnectTimeoutMs == 0 {
		cfg.Relays.Policy.ConnectTimeoutMs = defaults.Relays.Policy.ConnectTimeoutMs
	}
	if cfg.Relays.Policy.QueryTimeoutMs == 0 {
		cfg.Relays.Policy.QueryTimeoutMs = defaults.Relays.Policy.QueryTimeoutMs
	}
	if cfg.Publish.MinRelayAcks == 0 {
		cfg.Publish.MinRelayAcks = defaults.Publish.MinRelayAcks
	}
	if cfg.Publish.MaxChildren == 0 {
		cfg.Publish.MaxChildren = defaults.Publish.MaxChildren
	}
	if cfg.Cache.Engine == "" {
		cfg.Cache.Engine = defaults.Cache.Engine
	}
	if cfg.Cache.TTLSeconds == 0 {
		cfg.Cache.TTLSeconds = defaults.Cache.TTLSeconds
	}
	if cfg.Cache.MissTTLSeconds == 0 {
		cfg.Cache.MissTTLSeconds = defaults.Cache.MissTTLSeconds
	}
	if cfg.Cache.CleanupIntervalS == 0 {
		cfg.Cache.CleanupIntervalS = defaults.Cache.CleanupIntervalS
	}
	if cfg.Interactions.GraceMs == 0 {
		cfg.Interactions.GraceMs = defaults.Interactions.GraceMs
	}
	if cfg.Interactions.SettleMs == 0 {
		cfg.Interactions.SettleMs = defaults.Interactions.SettleMs
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = defaults.Storage.SQLitePath
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaults.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = defaults.Logging.Format
	}
}

// applyEnvOverrides pulls secrets and overrides from the environment
func applyEnvOverrides(cfg *Config) error {
	if nsec := os.Getenv("LEARNSTR_NSEC"); nsec != "" {
		cfg.Identity.Nsec = nsec
	}
	if redisURL := os.Getenv("LEARNSTR_REDIS_URL"); redisURL != "" {
		cfg.Cache.RedisURL = redisURL
	}
	return nil
}

// Validate checks configuration consistency
func Validate(cfg *Config) error {
	switch cfg.Identity.Custody {
	case CustodyPlatform, CustodyUser:
	default:
		return fmt.Errorf("identity.custody must be %q or %q, got %q",
			CustodyPlatform, CustodyUser, cfg.Identity.Custody)
	}

	if cfg.Identity.Custody == CustodyUser && cfg.Identity.BunkerURL == "" {
		return fmt.Errorf("identity.bunker_url is required for user custody")
	}

	if len(cfg.Relays.Seeds) == 0 {
		return fmt.Errorf("relays.seeds must not be empty")
	}
	for _, seed := range cfg.Relays.Seeds {
		if !strings.HasPrefix(seed, "wss://") && !strings.HasPrefix(seed, "ws://") {
			return fmt.Errorf("relay seed %q must be a ws:// or wss:// URL", seed)
		}
	}

	if cfg.Publish.MinRelayAcks < 1 {
		return fmt.Errorf("publish.min_relay_acks must be at least 1")
	}
	if cfg.Publish.MinRelayAcks > len(cfg.Relays.Seeds) {
		return fmt.Errorf("publish.min_relay_acks (%d) exceeds configured relay count (%d)",
			cfg.Publish.MinRelayAcks, len(cfg.Relays.Seeds))
	}

	switch cfg.Cache.Engine {
	case "memory":
	case "redis":
		if cfg.Cache.RedisURL == "" {
			return fmt.Errorf("cache.redis_url is required for the redis cache engine")
		}
	default:
		return fmt.Errorf("cache.engine must be memory or redis, got %q", cfg.Cache.Engine)
	}

	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", cfg.Logging.Level)
	}

	return nil
}

// Load reads, defaults, overrides and validates a configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// GetExampleConfig returns the embedded example configuration
func GetExampleConfig() ([]byte, error) {
	return exampleConfig.ReadFile("example.yaml")
}
