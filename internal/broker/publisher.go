// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

package broker

import (
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/tidings/internal/breaker"
)

// Publisher wraps a Watermill publisher with a circuit breaker. When the
// broker is down the breaker opens and appends fail fast on the publish
// step; the rows stay in the outbox for the relay.
type Publisher struct {
	publisher message.Publisher
	cb        *gobreaker.CircuitBreaker[struct{}]

	mu     sync.RWMutex
	closed bool
}

// NewPublisher wraps pub with a breaker named after the transport.
func NewPublisher(transport string, pub message.Publisher) *Publisher {
	return &Publisher{
		publisher: pub,
		cb:        breaker.New[struct{}](breaker.DefaultConfig("broker-" + transport)),
	}
}

// Publish sends msgs to topic through the breaker.
func (p *Publisher) Publish(topic string, msgs ...*message.Message) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}

	_, err := p.cb.Execute(func() (struct{}, error) {
		return struct{}{}, p.publisher.Publish(topic, msgs...)
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Close closes the underlying publisher once.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.publisher.Close()
}
