// Driftline - Client-Side Analytics Event Pipeline
// Copyright 2026 Driftline Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/driftline/driftline-go

package queue

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/driftline/driftline-go/internal/clock"
	"github.com/driftline/driftline-go/internal/storage"
)

// fakeSender records every delivered body and answers from a script.
type fakeSender struct {
	bodies    []string
	versions  []string
	responses []Response
	fail      func(attempt int) bool // nil means always succeed
}

func (f *fakeSender) Send(_ context.Context, body string, abVersion string) (Response, error) {
	attempt := len(f.bodies)
	f.bodies = append(f.bodies, body)
	f.versions = append(f.versions, abVersion)
	if f.fail != nil && f.fail(attempt) {
		return Response{}, errors.New("connection refused")
	}
	if attempt < len(f.responses) {
		return f.responses[attempt], nil
	}
	return Response{}, nil
}

func testRecord(event string, at time.Time) Record {
	return Record{
		AppID:    "app1",
		UserData: "ud",
		Event:    event,
		Time:     at.Unix(),
	}
}

func newTestEngine(t *testing.T, sender Sender, clk *clock.Fake, cfg Config) (*Engine, *Queue, *storage.Memory) {
	t.Helper()
	store := storage.NewMemory()
	q := New(store)
	e := NewEngine(q, sender, clk, cfg, nil, nil)
	return e, q, store
}

func TestDrain_FIFOOrder(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Unix(1700000000, 0))
	sender := &fakeSender{}
	e, q, _ := newTestEngine(t, sender, clk, DefaultConfig())

	const n = 10
	for i := 0; i < n; i++ {
		if err := q.Enqueue(ctx, testRecord(fmt.Sprintf("ev%02d", i), clk.Now())); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	e.Drain(ctx)

	if len(sender.bodies) != n {
		t.Fatalf("delivered %d records, want %d", len(sender.bodies), n)
	}
	for i, body := range sender.bodies {
		rec := testRecord(fmt.Sprintf("ev%02d", i), clk.Now())
		if body != rec.Body() {
			t.Errorf("delivery %d = %q, want %q", i, body, rec.Body())
		}
	}
	if q.Len() != 0 {
		t.Errorf("queue length after drain = %d, want 0", q.Len())
	}
}

func TestDrain_BoundedRetry27Attempts(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Unix(1700000000, 0))
	sender := &fakeSender{fail: func(int) bool { return true }}
	e, q, _ := newTestEngine(t, sender, clk, DefaultConfig())

	if err := q.Enqueue(ctx, testRecord("doomed", clk.Now())); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	e.Drain(ctx)

	if len(sender.bodies) != 27 {
		t.Fatalf("attempts = %d, want exactly 27", len(sender.bodies))
	}
	if q.Len() != 0 {
		t.Errorf("record not dropped after failure ceiling")
	}

	// Backoff schedule: 26 retries, retry n delayed 500ms * 1.5^(n-1).
	// The fixed 100ms inter-attempt pause is interleaved; filter it out.
	var backoffs []time.Duration
	for _, d := range clk.Sleeps() {
		if d != 100*time.Millisecond {
			backoffs = append(backoffs, d)
		}
	}
	if len(backoffs) != 26 {
		t.Fatalf("backoff sleeps = %d, want 26", len(backoffs))
	}
	for i, got := range backoffs {
		want := time.Duration(float64(500*time.Millisecond) * math.Pow(1.5, float64(i)))
		if got != want {
			t.Errorf("backoff %d = %v, want %v", i+1, got, want)
		}
	}
}

func TestDrain_AgeCeilingDropsImmediately(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Unix(1700000000, 0))
	sender := &fakeSender{fail: func(int) bool { return true }}
	e, q, _ := newTestEngine(t, sender, clk, DefaultConfig())

	stale := testRecord("stale", clk.Now().Add(-49*time.Hour))
	if err := q.Enqueue(ctx, stale); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	e.Drain(ctx)

	if len(sender.bodies) != 1 {
		t.Errorf("attempts = %d, want 1 (dropped on first failure past age ceiling)", len(sender.bodies))
	}
	if q.Len() != 0 {
		t.Errorf("expired record not dropped")
	}
}

func TestDrain_FailureCounterResetsBetweenRecords(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Unix(1700000000, 0))
	// First record fails twice then succeeds; second must start with a
	// clean failure counter (no backoff before its first attempt).
	sender := &fakeSender{fail: func(attempt int) bool { return attempt < 2 }}
	e, q, _ := newTestEngine(t, sender, clk, DefaultConfig())

	if err := q.Enqueue(ctx, testRecord("first", clk.Now())); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, testRecord("second", clk.Now())); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	e.Drain(ctx)

	if len(sender.bodies) != 4 {
		t.Fatalf("attempts = %d, want 4 (3 for first, 1 for second)", len(sender.bodies))
	}

	var backoffs []time.Duration
	for _, d := range clk.Sleeps() {
		if d != 100*time.Millisecond {
			backoffs = append(backoffs, d)
		}
	}
	want := []time.Duration{500 * time.Millisecond, 750 * time.Millisecond}
	if len(backoffs) != len(want) {
		t.Fatalf("backoffs = %v, want %v", backoffs, want)
	}
	for i := range want {
		if backoffs[i] != want[i] {
			t.Errorf("backoff %d = %v, want %v", i, backoffs[i], want[i])
		}
	}
}

func TestDrain_DeliveredResponseReachesCallback(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Unix(1700000000, 0))
	store := storage.NewMemory()
	q := New(store)
	sender := &fakeSender{
		responses: []Response{{Body: `[{"name":["x"],"variants":[100]}]`, ABVersion: "7"}},
	}

	var gotBody, gotVersion string
	e := NewEngine(q, sender, clk, DefaultConfig(),
		func() string { return "3" },
		func(_ context.Context, resp Response) {
			gotBody = resp.Body
			gotVersion = resp.ABVersion
		})

	if err := q.Enqueue(ctx, testRecord("ev", clk.Now())); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	e.Drain(ctx)

	if gotBody != `[{"name":["x"],"variants":[100]}]` || gotVersion != "7" {
		t.Errorf("callback got (%q, %q)", gotBody, gotVersion)
	}
	if sender.versions[0] != "3" {
		t.Errorf("request ab version = %q, want 3", sender.versions[0])
	}
}

func TestQueue_PersistsAfterEveryMutation(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Unix(1700000000, 0))
	store := storage.NewMemory()
	q := New(store)

	assertPersisted := func(wantLen int) {
		t.Helper()
		raw, err := store.Get(ctx, storage.KeyEventQueue)
		if err != nil {
			t.Fatalf("snapshot missing: %v", err)
		}
		var records []Record
		if err := json.Unmarshal([]byte(raw), &records); err != nil {
			t.Fatalf("snapshot malformed: %v", err)
		}
		if len(records) != wantLen {
			t.Fatalf("persisted %d records, want %d", len(records), wantLen)
		}
	}

	if err := q.Enqueue(ctx, testRecord("a", clk.Now())); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	assertPersisted(1)
	if err := q.Enqueue(ctx, testRecord("b", clk.Now())); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	assertPersisted(2)
	q.PopHead(ctx)
	assertPersisted(1)
	q.PopHead(ctx)
	assertPersisted(0)
}

func TestQueue_LoadRestoresAcrossRestart(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Unix(1700000000, 0))
	store := storage.NewMemory()

	q1 := New(store)
	if err := q1.Enqueue(ctx, testRecord("survives", clk.Now())); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// Simulated restart: a fresh queue over the same store.
	q2 := New(store)
	q2.Load(ctx)
	if q2.Len() != 1 {
		t.Fatalf("restored queue length = %d, want 1", q2.Len())
	}
	head, ok := q2.Head()
	if !ok || head.Event != "survives" {
		t.Errorf("restored head = %+v", head)
	}
}

func TestQueue_LoadMalformedSnapshotDegradesToEmpty(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	if err := store.Set(ctx, storage.KeyEventQueue, "{broken"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	q := New(store)
	q.Load(ctx)
	if q.Len() != 0 {
		t.Errorf("queue length = %d, want 0", q.Len())
	}
}

func TestTryDrain_SingleFlight(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Unix(1700000000, 0))
	sender := &fakeSender{}
	e, _, _ := newTestEngine(t, sender, clk, DefaultConfig())

	// Hold the drain guard, then verify TryDrain refuses to run.
	if !e.drainMu.TryLock() {
		t.Fatal("guard should be free")
	}
	e.TryDrain(ctx)
	if len(sender.bodies) != 0 {
		t.Error("TryDrain ran while another drain held the guard")
	}
	e.drainMu.Unlock()
}

func TestServe_StopsOnContextCancel(t *testing.T) {
	clk := clock.NewFake(time.Unix(1700000000, 0))
	sender := &fakeSender{}
	e, _, _ := newTestEngine(t, sender, clk, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Serve(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not stop on cancellation")
	}
}
