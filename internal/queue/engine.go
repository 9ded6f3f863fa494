// Driftline - Client-Side Analytics Event Pipeline
// Copyright 2026 Driftline Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/driftline/driftline-go

package queue

import (
	"context"
	"math"
	"time"

	"github.com/driftline/driftline-go/internal/clock"
	"github.com/driftline/driftline-go/internal/logging"
	"github.com/driftline/driftline-go/internal/metrics"
)

// Config bounds the engine's retry behavior.
type Config struct {
	// MaxFailures is the per-record failure ceiling; at this many
	// failed attempts the record is dropped.
	// Default: 27
	MaxFailures int

	// MaxAge is the record age ceiling; a record older than this is
	// dropped on its next failure.
	// Default: 48h
	MaxAge time.Duration

	// BackoffBase is the delay before the first retry; subsequent
	// retries multiply it by BackoffFactor.
	// Default: 500ms
	BackoffBase time.Duration

	// BackoffFactor is the exponential backoff multiplier.
	// Default: 1.5
	BackoffFactor float64

	// AttemptPause is the fixed pause after every attempt, success or
	// failure, preventing a hot loop.
	// Default: 100ms
	AttemptPause time.Duration
}

// DefaultConfig returns the production retry policy.
func DefaultConfig() Config {
	return Config{
		MaxFailures:   27,
		MaxAge:        48 * time.Hour,
		BackoffBase:   500 * time.Millisecond,
		BackoffFactor: 1.5,
		AttemptPause:  100 * time.Millisecond,
	}
}

// attemptResult tracks the outcome of one delivery attempt.
type attemptResult int

const (
	attemptDelivered attemptResult = iota
	attemptFailed
	attemptDroppedMaxFailures
	attemptDroppedExpired
)

// Engine drains the queue head-first against the network. It is
// single-flight: at most one drain loop runs at a time, re-triggered by
// every enqueue.
//
// Engine implements suture.Service via Serve.
type Engine struct {
	queue  *Queue
	sender Sender
	clock  clock.Clock
	config Config

	// abVersion supplies the X-AB-Version request header value.
	abVersion func() string

	// onDelivered receives each successful response so the owner can
	// refresh experiment state. May be nil.
	onDelivered func(ctx context.Context, resp Response)

	// drainMu is the single-flight guard; the holder is the one
	// active drain loop.
	drainMu chanMutex

	// failures counts consecutive delivery failures for the current
	// head record. Reset to zero whenever the head leaves the queue.
	failures int
}

// NewEngine wires a delivery engine over a queue and transport.
// abVersion and onDelivered may be nil.
func NewEngine(q *Queue, sender Sender, clk clock.Clock, cfg Config,
	abVersion func() string, onDelivered func(ctx context.Context, resp Response)) *Engine {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 27
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 48 * time.Hour
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	if cfg.BackoffFactor <= 1 {
		cfg.BackoffFactor = 1.5
	}
	if cfg.AttemptPause <= 0 {
		cfg.AttemptPause = 100 * time.Millisecond
	}
	return &Engine{
		queue:       q,
		sender:      sender,
		clock:       clk,
		config:      cfg,
		abVersion:   abVersion,
		onDelivered: onDelivered,
		drainMu:     newChanMutex(),
	}
}

// Serve runs the engine until the context is canceled: it drains
// whatever is pending, then sleeps until the next enqueue wake-up.
func (e *Engine) Serve(ctx context.Context) error {
	e.Drain(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.queue.Signal():
			e.Drain(ctx)
		}
	}
}

// TryDrain starts a drain loop unless one is already running.
func (e *Engine) TryDrain(ctx context.Context) {
	if !e.drainMu.TryLock() {
		return
	}
	defer e.drainMu.Unlock()
	e.drainLocked(ctx)
}

// Drain runs the drain loop to completion, waiting for any in-flight
// loop first. Returns when the queue is empty or the context is done.
func (e *Engine) Drain(ctx context.Context) {
	if !e.drainMu.Lock(ctx) {
		return
	}
	defer e.drainMu.Unlock()
	e.drainLocked(ctx)
}

// drainLocked is the drain loop body. Loop invariant: every attempt
// operates on the head of the queue; the head only leaves the queue by
// confirmed delivery or a permanent give-up.
func (e *Engine) drainLocked(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		head, ok := e.queue.Head()
		if !ok {
			return
		}

		if e.failures > 0 {
			// Backoff precedes every retry, never the first attempt.
			if err := e.clock.Sleep(ctx, e.backoff(e.failures)); err != nil {
				return
			}
			metrics.DeliveryRetries.Inc()
		}

		switch e.attempt(ctx, head) {
		case attemptDelivered, attemptDroppedMaxFailures, attemptDroppedExpired:
			e.queue.PopHead(ctx)
			e.failures = 0
		case attemptFailed:
		}

		if err := e.clock.Sleep(ctx, e.config.AttemptPause); err != nil {
			return
		}
	}
}

// attempt delivers the head record once and classifies the outcome.
func (e *Engine) attempt(ctx context.Context, head Record) attemptResult {
	var abVersion string
	if e.abVersion != nil {
		abVersion = e.abVersion()
	}

	resp, err := e.sender.Send(ctx, head.Body(), abVersion)
	if err == nil {
		metrics.EventsDelivered.Inc()
		if e.onDelivered != nil {
			e.onDelivered(ctx, resp)
		}
		return attemptDelivered
	}

	e.failures++
	logging.Diag().
		Err(err).
		Str("event", head.Event).
		Int("failures", e.failures).
		Msg("event delivery failed")

	if e.failures >= e.config.MaxFailures {
		logging.Diag().
			Str("event", head.Event).
			Int("failures", e.failures).
			Msg("event dropped after failure ceiling")
		metrics.EventsDropped.WithLabelValues("max_failures").Inc()
		return attemptDroppedMaxFailures
	}
	if head.Age(e.clock.Now()) > e.config.MaxAge {
		logging.Diag().
			Str("event", head.Event).
			Dur("age", head.Age(e.clock.Now())).
			Msg("event dropped after age ceiling")
		metrics.EventsDropped.WithLabelValues("expired").Inc()
		return attemptDroppedExpired
	}
	return attemptFailed
}

// backoff computes the delay before retry n (1-based):
// BackoffBase × BackoffFactor^(n-1).
func (e *Engine) backoff(failures int) time.Duration {
	multiplier := math.Pow(e.config.BackoffFactor, float64(failures-1))
	d := time.Duration(float64(e.config.BackoffBase) * multiplier)
	if d < 0 {
		// Overflow; the failure ceiling fires long before this matters.
		d = e.config.BackoffBase
	}
	return d
}

// chanMutex is a mutex acquirable with context cancellation, used as
// the single-flight drain guard.
type chanMutex chan struct{}

func newChanMutex() chanMutex {
	m := make(chanMutex, 1)
	return m
}

// Lock acquires the mutex, returning false if ctx is done first.
func (m chanMutex) Lock(ctx context.Context) bool {
	select {
	case m <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

// TryLock acquires the mutex only if it is free.
func (m chanMutex) TryLock() bool {
	select {
	case m <- struct{}{}:
		return true
	default:
		return false
	}
}

// Unlock releases the mutex.
func (m chanMutex) Unlock() {
	<-m
}
