// Driftline - Client-Side Analytics Event Pipeline
// Copyright 2026 Driftline Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/driftline/driftline-go

// Package queue implements the durable FIFO event queue and the
// single-flight delivery engine draining it.
//
// The queue is persisted as a whole JSON snapshot after every mutation
// (append or head removal), so the persisted state always reflects the
// in-memory state after the most recent completed mutation. Across a
// process restart the in-flight head record may be resent: delivery is
// at-least-once, never exactly-once.
package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/goccy/go-json"

	"github.com/driftline/driftline-go/internal/logging"
	"github.com/driftline/driftline-go/internal/metrics"
	"github.com/driftline/driftline-go/internal/storage"
)

// Queue is the ordered sequence of pending records. FIFO order defines
// delivery order; there is no reordering.
type Queue struct {
	store storage.Store

	mu      sync.Mutex
	records []Record

	// signal coalesces enqueue wake-ups for the drain loop
	// (buffered, size 1).
	signal chan struct{}
}

// New returns an empty queue persisting through store.
func New(store storage.Store) *Queue {
	return &Queue{
		store:  store,
		signal: make(chan struct{}, 1),
	}
}

// Load replaces the in-memory queue with the persisted snapshot.
// A missing or malformed snapshot degrades to an empty queue.
func (q *Queue) Load(ctx context.Context) {
	raw, err := q.store.Get(ctx, storage.KeyEventQueue)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logging.Diag().Err(err).Msg("reading event queue failed, starting empty")
		}
		return
	}

	var records []Record
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		logging.Diag().Err(err).Msg("malformed event queue snapshot, starting empty")
		return
	}

	q.mu.Lock()
	q.records = records
	depth := len(q.records)
	q.mu.Unlock()

	metrics.QueueDepth.Set(float64(depth))
	if depth > 0 {
		logging.Debug().Int("pending", depth).Msg("event queue restored")
		q.wake()
	}
}

// Enqueue appends a record to the tail, persists the full queue, and
// wakes the drain loop. The snapshot is taken synchronously under the
// queue lock, so concurrent enqueues never race on persistence.
func (q *Queue) Enqueue(ctx context.Context, rec Record) error {
	q.mu.Lock()
	q.records = append(q.records, rec)
	err := q.persistLocked(ctx)
	depth := len(q.records)
	q.mu.Unlock()

	metrics.EventsEnqueued.Inc()
	metrics.QueueDepth.Set(float64(depth))
	q.wake()
	return err
}

// Head returns the head record without removing it.
func (q *Queue) Head() (Record, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.records) == 0 {
		return Record{}, false
	}
	return q.records[0], true
}

// PopHead removes the head record and persists the queue.
func (q *Queue) PopHead(ctx context.Context) {
	q.mu.Lock()
	if len(q.records) == 0 {
		q.mu.Unlock()
		return
	}
	// Nil out the slot so the backing array releases the record.
	copy(q.records, q.records[1:])
	q.records[len(q.records)-1] = Record{}
	q.records = q.records[:len(q.records)-1]
	if err := q.persistLocked(ctx); err != nil {
		logging.Diag().Err(err).Msg("persisting event queue after pop failed")
	}
	depth := len(q.records)
	q.mu.Unlock()

	metrics.QueueDepth.Set(float64(depth))
}

// Len returns the number of pending records.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.records)
}

// Signal returns the channel the drain loop waits on.
func (q *Queue) Signal() <-chan struct{} {
	return q.signal
}

// wake signals the drain loop without blocking; a full buffer means a
// wake-up is already pending.
func (q *Queue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// persistLocked snapshots the whole queue to storage. Callers hold mu.
func (q *Queue) persistLocked(ctx context.Context) error {
	data, err := json.Marshal(q.records)
	if err != nil {
		return err
	}
	if err := q.store.Set(ctx, storage.KeyEventQueue, string(data)); err != nil {
		logging.Diag().Err(err).Msg("persisting event queue failed")
		return err
	}
	return nil
}
