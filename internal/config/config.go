// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

package config

import "time"

// Config is the root configuration for a Tidings process.
type Config struct {
	Database   DatabaseConfig   `koanf:"database"`
	Redis      RedisConfig      `koanf:"redis"`
	Broker     BrokerConfig     `koanf:"broker"`
	Outbox     OutboxConfig     `koanf:"outbox"`
	Indexer    IndexerConfig    `koanf:"indexer"`
	Notify     NotifyConfig     `koanf:"notify"`
	Counter    CounterConfig    `koanf:"counter"`
	DeadLetter DeadLetterConfig `koanf:"deadletter"`
	Server     ServerConfig     `koanf:"server"`
	Security   SecurityConfig   `koanf:"security"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// DatabaseConfig configures the PostgreSQL connection that holds the outbox,
// indexer rows, communities and counter columns.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	MigrateOnStart  bool          `koanf:"migrate_on_start"`
}

// RedisConfig configures the cache used for counter deltas, flush leases and
// message deduplication keys.
type RedisConfig struct {
	Addr        string        `koanf:"addr"`
	Password    string        `koanf:"password"`
	DB          int           `koanf:"db"`
	KeyPrefix   string        `koanf:"key_prefix"`
	DialTimeout time.Duration `koanf:"dial_timeout"`
}

// BrokerConfig selects and configures the message transport.
type BrokerConfig struct {
	// Transport is one of nats, amqp or memory.
	Transport string       `koanf:"transport"`
	NATS      NATSConfig   `koanf:"nats"`
	AMQP      AMQPConfig   `koanf:"amqp"`
	Router    RouterConfig `koanf:"router"`
}

// NATSConfig configures the JetStream transport.
type NATSConfig struct {
	URL              string        `koanf:"url"`
	EmbeddedServer   bool          `koanf:"embedded_server"`
	StoreDir         string        `koanf:"store_dir"`
	MaxMemory        int64         `koanf:"max_memory"`
	MaxStore         int64         `koanf:"max_store"`
	StreamName       string        `koanf:"stream_name"`
	DurableName      string        `koanf:"durable_name"`
	QueueGroup       string        `koanf:"queue_group"`
	SubscribersCount int           `koanf:"subscribers_count"`
	MaxDeliver       int           `koanf:"max_deliver"`
	AckWait          time.Duration `koanf:"ack_wait"`
}

// AMQPConfig configures the RabbitMQ transport.
type AMQPConfig struct {
	URL                string `koanf:"url"`
	Exchange           string `koanf:"exchange"`
	DeadLetterExchange string `koanf:"dead_letter_exchange"`
	Prefetch           int    `koanf:"prefetch"`
}

// RouterConfig configures consumer-side middleware.
type RouterConfig struct {
	RetryCount           int           `koanf:"retry_count"`
	RetryInitialInterval time.Duration `koanf:"retry_initial_interval"`
	RetryMaxInterval     time.Duration `koanf:"retry_max_interval"`
	DeadLetterTopic      string        `koanf:"dead_letter_topic"`
	DedupEnabled         bool          `koanf:"dedup_enabled"`
	DedupTTL             time.Duration `koanf:"dedup_ttl"`
	ThrottlePerSecond    int64         `koanf:"throttle_per_second"`
	CloseTimeout         time.Duration `koanf:"close_timeout"`
}

// OutboxConfig configures the relay and archive sweeps.
type OutboxConfig struct {
	RelayInterval   time.Duration `koanf:"relay_interval"`
	RelayGrace      time.Duration `koanf:"relay_grace"`
	RelayBatchSize  int           `koanf:"relay_batch_size"`
	ArchiveInterval time.Duration `koanf:"archive_interval"`
	Retention       time.Duration `koanf:"retention"`
}

// IndexerConfig configures the resource indexer driver.
type IndexerConfig struct {
	TickInterval   time.Duration `koanf:"tick_interval"`
	GlobalLock     bool          `koanf:"global_lock"`
	PendingTimeout time.Duration `koanf:"pending_timeout"`
	// MaxPages bounds one traversal. Reaching it fails the traversal
	// without advancing last_checked. Zero means unbounded.
	MaxPages int           `koanf:"max_pages"`
	Clanker  ClankerConfig `koanf:"clanker"`
}

// ClankerConfig configures the clanker token source.
type ClankerConfig struct {
	Enabled           bool          `koanf:"enabled"`
	BaseURL           string        `koanf:"base_url"`
	APIKey            string        `koanf:"api_key"`
	Timeout           time.Duration `koanf:"timeout"`
	MaxAttempts       int           `koanf:"max_attempts"`
	InitialBackoff    time.Duration `koanf:"initial_backoff"`
	RequestsPerSecond float64       `koanf:"requests_per_second"`
}

// NotifyConfig configures the notification schedule provider.
type NotifyConfig struct {
	// Provider is knock or memory. The memory provider keeps schedules in
	// process and is meant for development.
	Provider string        `koanf:"provider"`
	BaseURL  string        `koanf:"base_url"`
	APIKey   string        `koanf:"api_key"`
	Timeout  time.Duration `koanf:"timeout"`
}

// CounterConfig configures the counter aggregator.
type CounterConfig struct {
	FlushInterval time.Duration `koanf:"flush_interval"`
	LockTTL       time.Duration `koanf:"lock_ttl"`
	// SeenTTL is how long a counted ThreadViewed event id is remembered.
	// It should cover the outbox retention so replays are not recounted.
	SeenTTL time.Duration `koanf:"seen_ttl"`
	// FlushRetention is how long applied flush tokens are kept. A leftover
	// flushing key older than this would be applied again.
	FlushRetention time.Duration `koanf:"flush_retention"`
}

// DeadLetterConfig configures the dead-letter archive.
type DeadLetterConfig struct {
	Path      string        `koanf:"path"`
	InMemory  bool          `koanf:"in_memory"`
	Retention time.Duration `koanf:"retention"`
}

// ServerConfig configures the admin/emit HTTP server.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              int           `koanf:"port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
	RateLimitRequests int           `koanf:"rate_limit_requests"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
}

// SecurityConfig configures admin API authentication.
type SecurityConfig struct {
	// AuthMode is jwt or none.
	AuthMode  string `koanf:"auth_mode"`
	JWTSecret string `koanf:"jwt_secret"`
	JWTIssuer string `koanf:"jwt_issuer"`
}

// LoggingConfig mirrors logging.Config for the koanf layer.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Load reads configuration from defaults, an optional YAML file and the
// environment, in that order of precedence, and validates the result.
func Load() (*Config, error) {
	return LoadWithKoanf()
}
