// Driftline - Client-Side Analytics Event Pipeline
// Copyright 2026 Driftline Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/driftline/driftline-go

// Package session tracks per-screen view durations across pause/resume
// cycles and process restarts, emitting a "view" event when a session
// ends.
//
// Each screen id owns at most one session. A session accrues time while
// active, folds elapsed time into an accumulator on pause, and is
// periodically snapshotted so a crash loses at most one persistence
// interval of tracked time. Snapshots written before a session has
// aged past the estimated floor carry the floor value flagged as
// estimated; recovery never counts an estimated floor toward the final
// logged duration.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/driftline/driftline-go/internal/clock"
	"github.com/driftline/driftline-go/internal/logging"
	"github.com/driftline/driftline-go/internal/metrics"
	"github.com/driftline/driftline-go/internal/storage"
)

// Config holds the tracker's thresholds and intervals.
type Config struct {
	// MinDuration is the minimum trackable session duration; shorter
	// sessions are discarded silently.
	// Default: 500ms
	MinDuration time.Duration

	// PersistInterval is how often crash-recovery snapshots are
	// written for live sessions.
	// Default: 10s
	PersistInterval time.Duration

	// EstimatedFloor is the duration substituted for sessions younger
	// than it when snapshotting, flagged as estimated.
	// Default: 5s
	EstimatedFloor time.Duration

	// RecoveryMaxAge bounds how old a crash snapshot may be and still
	// be restored.
	// Default: 24h
	RecoveryMaxAge time.Duration
}

// DefaultConfig returns the production session thresholds.
func DefaultConfig() Config {
	return Config{
		MinDuration:     500 * time.Millisecond,
		PersistInterval: 10 * time.Second,
		EstimatedFloor:  5 * time.Second,
		RecoveryMaxAge:  24 * time.Hour,
	}
}

// LogFunc receives the synthesized view event on session end. The
// timestamp is the session's original logical start.
type LogFunc func(event string, args map[string]string, at time.Time)

// ViewEvent is the event name emitted on session end.
const ViewEvent = "view"

// session is the per-screen state machine instance.
type session struct {
	screenID     string
	args         map[string]string
	startTime    time.Time // last activation point
	accumulated  time.Duration
	paused       bool
	sessionStart time.Time // original logical start, survives restarts
}

// duration returns the session's tracked time as of now.
func (s *session) duration(now time.Time) time.Duration {
	if s.paused {
		return s.accumulated
	}
	return s.accumulated + now.Sub(s.startTime)
}

// Tracker owns all screen sessions. All mutations run under one lock;
// the synchronous portion of each operation is atomic.
//
// Tracker implements suture.Service via Serve (the periodic persister).
type Tracker struct {
	store storage.Store
	clock clock.Clock
	logFn LogFunc
	cfg   Config

	mu        sync.Mutex
	sessions  map[string]*session
	recovered bool
}

// NewTracker returns a tracker persisting through store and emitting
// view events through logFn.
func NewTracker(store storage.Store, clk clock.Clock, cfg Config, logFn LogFunc) *Tracker {
	if cfg.MinDuration <= 0 {
		cfg.MinDuration = 500 * time.Millisecond
	}
	if cfg.PersistInterval <= 0 {
		cfg.PersistInterval = 10 * time.Second
	}
	if cfg.EstimatedFloor <= 0 {
		cfg.EstimatedFloor = 5 * time.Second
	}
	if cfg.RecoveryMaxAge <= 0 {
		cfg.RecoveryMaxAge = 24 * time.Hour
	}
	return &Tracker{
		store:    store,
		clock:    clk,
		logFn:    logFn,
		cfg:      cfg,
		sessions: make(map[string]*session),
	}
}

// Start begins (or re-enters) the session for screenID. A re-entrant
// start merges args, new keys overriding, and does not reset timing.
// A fresh session immediately writes a crash snapshot carrying the
// estimated floor, so a crash right after navigation still records a
// plausible view.
func (t *Tracker) Start(ctx context.Context, screenID string, args map[string]string) {
	t.mu.Lock()
	if s, ok := t.sessions[screenID]; ok {
		if s.args == nil {
			s.args = make(map[string]string, len(args))
		}
		for k, v := range args {
			s.args[k] = v
		}
		t.mu.Unlock()
		return
	}

	now := t.clock.Now()
	copied := make(map[string]string, len(args))
	for k, v := range args {
		copied[k] = v
	}
	t.sessions[screenID] = &session{
		screenID:     screenID,
		args:         copied,
		startTime:    now,
		sessionStart: now,
	}
	t.persistEstimatedLocked(ctx, now)
	t.mu.Unlock()

	metrics.SessionsStarted.Inc()
	logging.Debug().Str("screen", screenID).Msg("screen view started")
}

// Pause folds elapsed time into the accumulator and marks the session
// paused. No-op when the session is absent or already paused.
func (t *Tracker) Pause(screenID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pauseLocked(screenID, t.clock.Now())
}

func (t *Tracker) pauseLocked(screenID string, now time.Time) {
	s, ok := t.sessions[screenID]
	if !ok || s.paused {
		return
	}
	s.accumulated += now.Sub(s.startTime)
	s.paused = true
}

// Resume restarts the elapsed-time measurement for a paused session.
// No-op when the session is absent or not paused.
func (t *Tracker) Resume(screenID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resumeLocked(screenID, t.clock.Now())
}

func (t *Tracker) resumeLocked(screenID string, now time.Time) {
	s, ok := t.sessions[screenID]
	if !ok || !s.paused {
		return
	}
	s.startTime = now
	s.paused = false
}

// End terminates the session and emits the view event when its tracked
// duration reaches the minimum threshold; shorter sessions are
// discarded silently. Either way the session's crash snapshot is
// removed.
func (t *Tracker) End(ctx context.Context, screenID string) {
	t.mu.Lock()
	s, ok := t.sessions[screenID]
	if !ok {
		t.mu.Unlock()
		return
	}
	now := t.clock.Now()
	dur := s.duration(now)
	delete(t.sessions, screenID)
	t.persistEstimatedLocked(ctx, now)
	t.mu.Unlock()

	if dur < t.cfg.MinDuration {
		logging.Debug().Str("screen", screenID).Dur("duration", dur).Msg("screen view below threshold, discarded")
		return
	}

	args := map[string]string{
		"screen":  screenID,
		"seconds": ShortString(dur.Seconds()),
	}
	for k, v := range s.args {
		args[k] = v
	}
	metrics.SessionsLogged.Inc()
	if t.logFn != nil {
		t.logFn(ViewEvent, args, s.sessionStart)
	}
}

// PauseAll pauses every tracked session (app moved to background) and
// writes both a crash-snapshot batch with actual durations and the
// richer active-sessions snapshot used for graceful restore.
func (t *Tracker) PauseAll(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now()
	for id := range t.sessions {
		t.pauseLocked(id, now)
	}
	t.persistActualLocked(ctx, now)
}

// ResumeAll resumes every paused session (app moved to foreground).
// The active-sessions snapshot is cleared: the process is live again,
// so the periodic crash snapshots are the authoritative recovery state.
func (t *Tracker) ResumeAll(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now()
	for id := range t.sessions {
		t.resumeLocked(id, now)
	}
	clearSnapshots(ctx, t.store, storage.KeyActiveSessions)
}

// PersistEstimated writes the periodic crash-snapshot batch for all
// live sessions, substituting the estimated floor for sessions younger
// than it.
func (t *Tracker) PersistEstimated(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.persistEstimatedLocked(ctx, t.clock.Now())
}

func (t *Tracker) persistEstimatedLocked(ctx context.Context, now time.Time) {
	snaps := make([]crashSnapshot, 0, len(t.sessions))
	for _, s := range t.sessions {
		actual := s.duration(now)
		acc := actual
		estimated := actual < t.cfg.EstimatedFloor
		if estimated {
			acc = t.cfg.EstimatedFloor
		}
		snaps = append(snaps, crashSnapshot{
			ScreenID:      s.screenID,
			Args:          s.args,
			AccumulatedMS: acc.Milliseconds(),
			LastUpdateMS:  now.UnixMilli(),
			StartMS:       s.sessionStart.UnixMilli(),
			IsEstimated:   estimated,
		})
	}
	writeSnapshots(ctx, t.store, storage.KeyCrashSessions, snaps)
}

// persistActualLocked writes the background-transition batch: crash
// snapshots with measured durations plus the active-sessions snapshot.
func (t *Tracker) persistActualLocked(ctx context.Context, now time.Time) {
	crash := make([]crashSnapshot, 0, len(t.sessions))
	active := make([]activeSnapshot, 0, len(t.sessions))
	for _, s := range t.sessions {
		actual := s.duration(now)
		crash = append(crash, crashSnapshot{
			ScreenID:      s.screenID,
			Args:          s.args,
			AccumulatedMS: actual.Milliseconds(),
			LastUpdateMS:  now.UnixMilli(),
			StartMS:       s.sessionStart.UnixMilli(),
		})
		active = append(active, activeSnapshot{
			ScreenID:      s.screenID,
			Args:          s.args,
			AccumulatedMS: actual.Milliseconds(),
			StartMS:       s.sessionStart.UnixMilli(),
		})
	}
	writeSnapshots(ctx, t.store, storage.KeyCrashSessions, crash)
	writeSnapshots(ctx, t.store, storage.KeyActiveSessions, active)
}

// Recover reconstructs sessions from persisted snapshots after an
// unclean shutdown. Idempotent: a repeat call is a no-op. Entries older
// than the recovery age or below the minimum threshold are discarded.
// When a graceful active-sessions snapshot exists for an entry it wins;
// otherwise the crash snapshot is used, with estimated floors restored
// as zero accumulated time so the floor never leaks into the final
// logged duration. All snapshots are cleared after processing.
func (t *Tracker) Recover(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.recovered {
		return
	}
	t.recovered = true

	crash := readSnapshots[crashSnapshot](ctx, t.store, storage.KeyCrashSessions)
	if len(crash) == 0 {
		clearSnapshots(ctx, t.store, storage.KeyCrashSessions)
		clearSnapshots(ctx, t.store, storage.KeyActiveSessions)
		return
	}

	activeByID := make(map[string]activeSnapshot)
	for _, a := range readSnapshots[activeSnapshot](ctx, t.store, storage.KeyActiveSessions) {
		activeByID[a.ScreenID] = a
	}

	now := t.clock.Now()
	restored := 0
	for _, snap := range crash {
		age := now.Sub(time.UnixMilli(snap.LastUpdateMS))
		if age > t.cfg.RecoveryMaxAge {
			continue
		}
		if time.Duration(snap.AccumulatedMS)*time.Millisecond < t.cfg.MinDuration {
			continue
		}

		s := &session{
			screenID:  snap.ScreenID,
			args:      snap.Args,
			startTime: now,
		}
		if act, ok := activeByID[snap.ScreenID]; ok {
			// The previous process persisted gracefully; its measured
			// state is richer than the crash estimate.
			s.accumulated = time.Duration(act.AccumulatedMS) * time.Millisecond
			s.sessionStart = time.UnixMilli(act.StartMS)
			if act.Args != nil {
				s.args = act.Args
			}
		} else {
			s.sessionStart = time.UnixMilli(snap.StartMS)
			if !snap.IsEstimated {
				s.accumulated = time.Duration(snap.AccumulatedMS) * time.Millisecond
			}
		}
		t.sessions[snap.ScreenID] = s
		restored++
		metrics.SessionsRecovered.Inc()
	}

	clearSnapshots(ctx, t.store, storage.KeyCrashSessions)
	clearSnapshots(ctx, t.store, storage.KeyActiveSessions)

	if restored > 0 {
		logging.Debug().Int("sessions", restored).Msg("screen sessions recovered")
	}
}

// Serve is the periodic persister: it writes the estimated crash
// snapshot batch every PersistInterval until the context is canceled.
// The cadence runs on a real ticker; only the snapshot contents read
// the injected clock.
func (t *Tracker) Serve(ctx context.Context) error {
	tick := time.NewTicker(t.cfg.PersistInterval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			t.PersistEstimated(ctx)
		}
	}
}
