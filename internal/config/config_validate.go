// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

package config

import (
	"errors"
	"fmt"
	"strings"
)

var validLogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true, "warning": true,
	"error": true, "fatal": true, "panic": true, "disabled": true,
}

// Validate checks that the loaded configuration is usable.
func (c *Config) Validate() error {
	validators := []func() error{
		c.validateDatabase,
		c.validateBroker,
		c.validateOutbox,
		c.validateIndexer,
		c.validateNotify,
		c.validateCounter,
		c.validateServer,
		c.validateSecurity,
		c.validateLogging,
	}
	for _, v := range validators {
		if err := v(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateDatabase() error {
	if c.Database.URL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if err := validateURL(c.Database.URL, "DATABASE_URL", "postgres", "postgresql"); err != nil {
		return err
	}
	if c.Database.MaxOpenConns < 1 {
		return fmt.Errorf("DB_MAX_OPEN_CONNS must be at least 1, got %d", c.Database.MaxOpenConns)
	}
	return nil
}

func (c *Config) validateBroker() error {
	switch c.Broker.Transport {
	case "nats":
		if !c.Broker.NATS.EmbeddedServer {
			if err := validateURL(c.Broker.NATS.URL, "NATS_URL", "nats", "tls", "ws", "wss"); err != nil {
				return err
			}
		}
		if c.Broker.NATS.StreamName == "" {
			return errors.New("NATS_STREAM_NAME is required")
		}
		if c.Broker.NATS.MaxDeliver < 1 {
			return fmt.Errorf("NATS_MAX_DELIVER must be at least 1, got %d", c.Broker.NATS.MaxDeliver)
		}
	case "amqp":
		if err := validateURL(c.Broker.AMQP.URL, "AMQP_URL", "amqp", "amqps"); err != nil {
			return err
		}
		if c.Broker.AMQP.Exchange == "" || c.Broker.AMQP.DeadLetterExchange == "" {
			return errors.New("AMQP_EXCHANGE and AMQP_DEAD_LETTER_EXCHANGE are required")
		}
	case "memory":
	default:
		return fmt.Errorf("BROKER_TRANSPORT must be nats, amqp or memory, got %q", c.Broker.Transport)
	}

	r := c.Broker.Router
	if r.RetryCount < 0 {
		return fmt.Errorf("ROUTER_RETRY_COUNT must be non-negative, got %d", r.RetryCount)
	}
	if r.DeadLetterTopic == "" {
		return errors.New("ROUTER_DEAD_LETTER_TOPIC is required")
	}
	if r.DedupEnabled && r.DedupTTL <= 0 {
		return errors.New("ROUTER_DEDUP_TTL must be positive when deduplication is enabled")
	}
	return nil
}

func (c *Config) validateOutbox() error {
	o := c.Outbox
	if o.RelayInterval <= 0 || o.ArchiveInterval <= 0 {
		return errors.New("OUTBOX_RELAY_INTERVAL and OUTBOX_ARCHIVE_INTERVAL must be positive")
	}
	if o.RelayBatchSize < 1 {
		return fmt.Errorf("OUTBOX_RELAY_BATCH_SIZE must be at least 1, got %d", o.RelayBatchSize)
	}
	if o.Retention < o.RelayGrace {
		return fmt.Errorf("OUTBOX_RETENTION (%s) must not be shorter than OUTBOX_RELAY_GRACE (%s)", o.Retention, o.RelayGrace)
	}
	return nil
}

func (c *Config) validateIndexer() error {
	if c.Indexer.TickInterval <= 0 {
		return errors.New("INDEXER_TICK_INTERVAL must be positive")
	}
	cl := c.Indexer.Clanker
	if !cl.Enabled {
		return nil
	}
	if err := validateURL(cl.BaseURL, "CLANKER_URL", "http", "https"); err != nil {
		return err
	}
	if cl.MaxAttempts < 1 {
		return fmt.Errorf("CLANKER_MAX_ATTEMPTS must be at least 1, got %d", cl.MaxAttempts)
	}
	if cl.Timeout <= 0 {
		return errors.New("CLANKER_TIMEOUT must be positive")
	}
	return nil
}

func (c *Config) validateNotify() error {
	switch c.Notify.Provider {
	case "memory":
		return nil
	case "knock":
		if c.Notify.APIKey == "" {
			return errors.New("KNOCK_API_KEY is required when NOTIFY_PROVIDER=knock")
		}
		return validateURL(c.Notify.BaseURL, "KNOCK_URL", "http", "https")
	default:
		return fmt.Errorf("NOTIFY_PROVIDER must be knock or memory, got %q", c.Notify.Provider)
	}
}

func (c *Config) validateCounter() error {
	if c.Counter.FlushInterval <= 0 {
		return errors.New("COUNTER_FLUSH_INTERVAL must be positive")
	}
	if c.Counter.LockTTL <= 0 {
		return errors.New("COUNTER_LOCK_TTL must be positive")
	}
	if c.Counter.SeenTTL <= 0 {
		return errors.New("COUNTER_SEEN_TTL must be positive")
	}
	if c.Counter.FlushRetention < c.Counter.FlushInterval {
		return errors.New("COUNTER_FLUSH_RETENTION must be at least COUNTER_FLUSH_INTERVAL")
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	return nil
}

func (c *Config) validateSecurity() error {
	switch c.Security.AuthMode {
	case "none":
		return nil
	case "jwt":
		if len(c.Security.JWTSecret) < 32 {
			return errors.New("JWT_SECRET must be at least 32 characters when AUTH_MODE=jwt")
		}
		return nil
	default:
		return fmt.Errorf("AUTH_MODE must be jwt or none, got %q", c.Security.AuthMode)
	}
}

func (c *Config) validateLogging() error {
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("LOG_LEVEL %q is not a valid level", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Logging.Format)
	}
	return nil
}
