// Package config provides TOML configuration for the Hashpool roles.
// Every polling interval, staleness threshold, address, and HTTP client
// timeout is configurable; nothing is hard-coded in the services.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration wraps time.Duration so TOML files can use strings like "5s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Shared holds configuration common to every role
type Shared struct {
	ServiceName string `toml:"service_name"`
	Version     string `toml:"version"`
	LogLevel    string `toml:"log_level"`
	LogFormat   string `toml:"log_format"`

	// MinimumDifficulty is the floor (in leading-zero bits) used by the
	// ehash amount calculation. Pool and Translator must agree on it.
	MinimumDifficulty uint32 `toml:"minimum_difficulty"`

	// SnapshotInterval is how often stats snapshots are generated and
	// pushed to the stats receiver.
	SnapshotInterval Duration `toml:"snapshot_interval"`
}

// Pool holds configuration for the pool role
type Pool struct {
	Shared Shared `toml:"shared"`

	// ListenAddr is the SV2 mining listener for downstream translators
	ListenAddr string `toml:"listen_addr"`
	// MintAddr is the SV2 mint-quote endpoint the hub connects to
	MintAddr string `toml:"mint_addr"`
	// StatsAddr is the TCP endpoint of the stats-pool receiver
	StatsAddr string `toml:"stats_addr"`

	// NetworkDifficulty is the leading-zero-bit threshold at which a
	// share would also solve a block. Clamped to at least
	// minimum_difficulty by the validator.
	NetworkDifficulty uint32 `toml:"network_difficulty"`

	// ShareTimeout is how long a PendingShare may wait for a quote
	// before the sweep evicts it and emits a mint-timeout failure.
	ShareTimeout Duration `toml:"share_timeout"`
	// SweepInterval is the staleness sweep tick
	SweepInterval Duration `toml:"sweep_interval"`

	// RequestBuffer bounds the hub's outgoing quote request queue
	RequestBuffer int `toml:"request_buffer"`
	// ResponseBuffer bounds each hub response subscription
	ResponseBuffer int `toml:"response_buffer"`

	// ReadTimeout bounds a single frame read on the mint and downstream
	// links. Zero, the default, keeps idle links open: share traffic is
	// bursty and a quiet link is not a broken one.
	ReadTimeout  Duration `toml:"read_timeout"`
	WriteTimeout Duration `toml:"write_timeout"`
}

// Mint holds configuration for the mint role
type Mint struct {
	Shared Shared `toml:"shared"`

	// ListenAddr is the SV2 mint-quote listener for the pool connection
	ListenAddr string `toml:"listen_addr"`
	// HTTPAddr serves the Cashu wallet API (keysets, mint)
	HTTPAddr string `toml:"http_addr"`

	// RedisURL locates the quote store
	RedisURL string `toml:"redis_url"`
	// KeysetSeed derives the active keyset's signing keys
	KeysetSeed string `toml:"keyset_seed"`
	// QuoteExpiry is how long an issued quote stays redeemable
	QuoteExpiry Duration `toml:"quote_expiry"`

	ReadTimeout  Duration `toml:"read_timeout"`
	WriteTimeout Duration `toml:"write_timeout"`
}

// Translator holds configuration for the translator role
type Translator struct {
	Shared Shared `toml:"shared"`

	// UpstreamAddr is the pool's SV2 mining endpoint
	UpstreamAddr string `toml:"upstream_addr"`
	// MintURL is the mint's Cashu HTTP base URL
	MintURL string `toml:"mint_url"`
	// StatsAddr is the TCP endpoint of the stats-proxy receiver
	StatsAddr string `toml:"stats_addr"`

	// UserIdentity is sent in the upstream channel-open request
	UserIdentity string `toml:"user_identity"`

	// LockingKeyPath persists the proxy's secp256k1 locking keypair
	LockingKeyPath string `toml:"locking_key_path"`
	// WalletDBPath is the SQLite database holding proofs
	WalletDBPath string `toml:"wallet_db_path"`

	// RedemptionQueue bounds the wallet redemption task queue
	RedemptionQueue int `toml:"redemption_queue"`
	// QuoteRecordCap bounds the share_hash -> quote map (FIFO trimmed)
	QuoteRecordCap int `toml:"quote_record_cap"`

	// HTTPTimeout applies to all mint HTTP calls
	HTTPTimeout Duration `toml:"http_timeout"`

	// ReadTimeout bounds a single frame read on the upstream link.
	// Zero, the default, keeps the link open while no shares flow.
	ReadTimeout  Duration `toml:"read_timeout"`
	WriteTimeout Duration `toml:"write_timeout"`
}

// Stats holds configuration for the stats receiver roles
type Stats struct {
	Shared Shared `toml:"shared"`

	// ListenAddr accepts the producer's snapshot TCP connection
	ListenAddr string `toml:"listen_addr"`
	// HTTPAddr serves /api/stats and /health
	HTTPAddr string `toml:"http_addr"`
	// StalenessThreshold flips /health to 503 when exceeded
	StalenessThreshold Duration `toml:"staleness_threshold"`
}

// Web holds configuration for the dashboard services
type Web struct {
	Shared Shared `toml:"shared"`

	// ListenAddr serves the browser-facing dashboard
	ListenAddr string `toml:"listen_addr"`
	// StatsURL is the stats receiver's HTTP base URL
	StatsURL string `toml:"stats_url"`
	// PollInterval is how often the dashboard polls the stats receiver
	PollInterval Duration `toml:"poll_interval"`
	// HTTPTimeout applies to stats receiver HTTP calls
	HTTPTimeout Duration `toml:"http_timeout"`
}

func defaultShared(service string) Shared {
	return Shared{
		ServiceName:       service,
		Version:           "dev",
		LogLevel:          "info",
		LogFormat:         "json",
		MinimumDifficulty: 32,
		SnapshotInterval:  Duration{5 * time.Second},
	}
}

// DefaultPool returns the pool defaults from the design document
func DefaultPool() *Pool {
	return &Pool{
		Shared:            defaultShared("poold"),
		ListenAddr:        "0.0.0.0:34254",
		MintAddr:          "127.0.0.1:34260",
		StatsAddr:         "127.0.0.1:34270",
		NetworkDifficulty: 70,
		ShareTimeout:      Duration{10 * time.Second},
		SweepInterval:     Duration{30 * time.Second},
		RequestBuffer:     100,
		ResponseBuffer:    1000,
		ReadTimeout:       Duration{0},
		WriteTimeout:      Duration{30 * time.Second},
	}
}

// DefaultMint returns the mint defaults
func DefaultMint() *Mint {
	return &Mint{
		Shared:       defaultShared("mintd"),
		ListenAddr:   "0.0.0.0:34260",
		HTTPAddr:     "0.0.0.0:34261",
		RedisURL:     "redis://localhost:6379/0",
		KeysetSeed:   "",
		QuoteExpiry:  Duration{24 * time.Hour},
		ReadTimeout:  Duration{30 * time.Second},
		WriteTimeout: Duration{30 * time.Second},
	}
}

// DefaultTranslator returns the translator defaults
func DefaultTranslator() *Translator {
	return &Translator{
		Shared:          defaultShared("translatord"),
		UpstreamAddr:    "127.0.0.1:34254",
		MintURL:         "http://127.0.0.1:34261",
		StatsAddr:       "127.0.0.1:34271",
		UserIdentity:    "hashpool-proxy",
		LockingKeyPath:  "locking.key",
		WalletDBPath:    "wallet.db",
		RedemptionQueue: 100,
		QuoteRecordCap:  10000,
		HTTPTimeout:     Duration{10 * time.Second},
		ReadTimeout:     Duration{0},
		WriteTimeout:    Duration{30 * time.Second},
	}
}

// DefaultStats returns the stats receiver defaults
func DefaultStats(service string) *Stats {
	return &Stats{
		Shared:             defaultShared(service),
		ListenAddr:         "0.0.0.0:34270",
		HTTPAddr:           "0.0.0.0:34280",
		StalenessThreshold: Duration{15 * time.Second},
	}
}

// DefaultWeb returns the dashboard defaults
func DefaultWeb(service string) *Web {
	return &Web{
		Shared:       defaultShared(service),
		ListenAddr:   "0.0.0.0:34290",
		StatsURL:     "http://127.0.0.1:34280",
		PollInterval: Duration{3 * time.Second},
		HTTPTimeout:  Duration{5 * time.Second},
	}
}

// LoadPool loads pool configuration from a TOML file, applying defaults
// for unset fields. An empty path returns the defaults.
func LoadPool(path string) (*Pool, error) {
	cfg := DefaultPool()
	if err := loadInto(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadMint loads mint configuration from a TOML file
func LoadMint(path string) (*Mint, error) {
	cfg := DefaultMint()
	if err := loadInto(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadTranslator loads translator configuration from a TOML file
func LoadTranslator(path string) (*Translator, error) {
	cfg := DefaultTranslator()
	if err := loadInto(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadStats loads stats receiver configuration from a TOML file
func LoadStats(path, service string) (*Stats, error) {
	cfg := DefaultStats(service)
	if err := loadInto(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadWeb loads dashboard configuration from a TOML file
func LoadWeb(path, service string) (*Web, error) {
	cfg := DefaultWeb(service)
	if err := loadInto(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func loadInto(path string, v any) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := toml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse TOML: %w", err)
	}
	return nil
}

func (s *Shared) validate() error {
	if s.ServiceName == "" {
		return fmt.Errorf("service_name cannot be empty")
	}
	if s.MinimumDifficulty == 0 || s.MinimumDifficulty > 255 {
		return fmt.Errorf("minimum_difficulty must be between 1 and 255")
	}
	if s.SnapshotInterval.Duration <= 0 {
		return fmt.Errorf("snapshot_interval must be positive")
	}
	return nil
}

func (c *Pool) validate() error {
	if err := c.Shared.validate(); err != nil {
		return err
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr cannot be empty")
	}
	if c.MintAddr == "" {
		return fmt.Errorf("mint_addr cannot be empty")
	}
	if c.NetworkDifficulty == 0 {
		return fmt.Errorf("network_difficulty must be positive")
	}
	if c.ShareTimeout.Duration <= 0 {
		return fmt.Errorf("share_timeout must be positive")
	}
	if c.SweepInterval.Duration <= 0 {
		return fmt.Errorf("sweep_interval must be positive")
	}
	if c.RequestBuffer <= 0 {
		return fmt.Errorf("request_buffer must be positive")
	}
	if c.ResponseBuffer <= 0 {
		return fmt.Errorf("response_buffer must be positive")
	}
	return nil
}

func (c *Mint) validate() error {
	if err := c.Shared.validate(); err != nil {
		return err
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr cannot be empty")
	}
	if c.HTTPAddr == "" {
		return fmt.Errorf("http_addr cannot be empty")
	}
	if c.QuoteExpiry.Duration <= 0 {
		return fmt.Errorf("quote_expiry must be positive")
	}
	return nil
}

func (c *Translator) validate() error {
	if err := c.Shared.validate(); err != nil {
		return err
	}
	if c.UpstreamAddr == "" {
		return fmt.Errorf("upstream_addr cannot be empty")
	}
	if c.MintURL == "" {
		return fmt.Errorf("mint_url cannot be empty")
	}
	if c.LockingKeyPath == "" {
		return fmt.Errorf("locking_key_path cannot be empty")
	}
	if c.WalletDBPath == "" {
		return fmt.Errorf("wallet_db_path cannot be empty")
	}
	if c.RedemptionQueue <= 0 {
		return fmt.Errorf("redemption_queue must be positive")
	}
	if c.QuoteRecordCap <= 0 {
		return fmt.Errorf("quote_record_cap must be positive")
	}
	return nil
}

func (c *Stats) validate() error {
	if err := c.Shared.validate(); err != nil {
		return err
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr cannot be empty")
	}
	if c.HTTPAddr == "" {
		return fmt.Errorf("http_addr cannot be empty")
	}
	if c.StalenessThreshold.Duration <= 0 {
		return fmt.Errorf("staleness_threshold must be positive")
	}
	return nil
}

func (c *Web) validate() error {
	if err := c.Shared.validate(); err != nil {
		return err
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr cannot be empty")
	}
	if c.StatsURL == "" {
		return fmt.Errorf("stats_url cannot be empty")
	}
	if c.PollInterval.Duration <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if c.HTTPTimeout.Duration <= 0 {
		return fmt.Errorf("http_timeout must be positive")
	}
	return nil
}
