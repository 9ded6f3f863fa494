// Driftline - Client-Side Analytics Event Pipeline
// Copyright 2026 Driftline Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/driftline/driftline-go

// Package driftline is a client-side analytics SDK: it captures
// application events (custom, revenue, screen-view), enriches them
// with device and session context, and delivers them at-least-once to
// a remote ingestion endpoint across network failures and process
// restarts.
//
// The host application constructs a single Client at startup and
// passes it to call sites; there is no hidden global instance.
//
//	cfg, _ := config.Load("")
//	client, err := driftline.New(driftline.Options{Config: cfg})
//	if err != nil { ... }
//	if err := client.Init(ctx); err != nil { ... }
//	client.Log("purchase_tapped", map[string]string{"sku": "pro"})
//
// Nothing in the pipeline panics or returns errors into the host's hot
// path: every failure degrades to "skip and continue" with a
// diagnostic, emitted only while EnableLogging is active.
package driftline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/driftline/driftline-go/internal/abtest"
	"github.com/driftline/driftline-go/internal/clock"
	"github.com/driftline/driftline-go/internal/config"
	"github.com/driftline/driftline-go/internal/identity"
	"github.com/driftline/driftline-go/internal/logging"
	"github.com/driftline/driftline-go/internal/queue"
	"github.com/driftline/driftline-go/internal/session"
	"github.com/driftline/driftline-go/internal/storage"
	"github.com/driftline/driftline-go/internal/wire"
)

// Store is the persistence capability hosts may supply. See
// storage.Store; the SDK ships NewMemoryStore and NewBadgerStore.
type Store = storage.Store

// DeviceInfo describes the host device, embedded in every event's
// user-data sub-record. Detection is the host's concern; the SDK
// treats the fields as opaque strings.
type DeviceInfo struct {
	Device   string
	OS       string
	BundleID string
	Version  string
	Language string
	Debug    bool
}

// Options configures a Client. Zero-value fields fall back to
// defaults: configuration from config.Load, an in-memory or Badger
// store per the configuration, the real clock, and the HTTP transport.
type Options struct {
	Config *config.Config
	Store  Store
	Device DeviceInfo

	// Sender overrides the delivery transport. Tests inject fakes
	// here; production leaves it nil for the HTTP transport.
	Sender queue.Sender

	// Clock overrides time. Tests only.
	Clock clock.Clock
}

// Client is the analytics pipeline instance. All methods are safe for
// concurrent use. Logging methods are fire-and-forget; the Sync
// variants report enqueue failures for callers that need them.
type Client struct {
	cfg    *config.Config
	store  Store
	device DeviceInfo
	clk    clock.Clock

	events  *queue.Queue
	engine  *queue.Engine
	ab      *abtest.Cache
	ids     *identity.Manager
	tracker *session.Tracker

	sup       *suture.Supervisor
	supCancel context.CancelFunc
	supDone   <-chan error

	// ownsStore marks a store opened by New, closed again in Close.
	ownsStore bool

	// initMu guards the shared initialization future: concurrent Init
	// callers wait on one in-flight run instead of re-running setup.
	initMu   sync.Mutex
	initDone chan struct{}
	initErr  error

	mu       sync.RWMutex
	ident    identity.Identity
	disabled bool
}

// ErrNotInitialized is returned by Sync logging calls before Init.
var ErrNotInitialized = errors.New("driftline: client not initialized")

// New constructs a Client. It does not touch storage or the network;
// call Init to bring the pipeline up.
func New(opts Options) (*Client, error) {
	cfg := opts.Config
	if cfg == nil {
		loaded, err := config.Load("")
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	logging.SetEnabled(cfg.Logging.Enabled)

	clk := opts.Clock
	if clk == nil {
		clk = clock.NewReal()
	}

	store := opts.Store
	ownsStore := false
	if store == nil {
		if cfg.Storage.Path != "" {
			b, err := storage.OpenBadger(cfg.Storage.Path)
			if err != nil {
				return nil, err
			}
			store = b
			ownsStore = true
		} else {
			store = storage.NewMemory()
		}
	}

	sender := opts.Sender
	if sender == nil {
		sender = queue.NewHTTPSender(cfg.Endpoint)
	}

	c := &Client{
		cfg:       cfg,
		store:     store,
		device:    opts.Device,
		clk:       clk,
		ownsStore: ownsStore,
		ab:        abtest.NewCache(),
		ids:       identity.NewManager(store, clk),
	}

	c.events = queue.New(store)
	c.engine = queue.NewEngine(c.events, sender, clk, queue.Config{
		MaxFailures:   cfg.Queue.MaxFailures,
		MaxAge:        cfg.Queue.MaxAge,
		BackoffBase:   cfg.Queue.BackoffBase,
		BackoffFactor: cfg.Queue.BackoffFactor,
		AttemptPause:  cfg.Queue.AttemptPause,
	}, c.ab.Version, c.handleDelivery)

	c.tracker = session.NewTracker(store, clk, session.Config{
		MinDuration:     cfg.Session.MinDuration,
		PersistInterval: cfg.Session.PersistInterval,
		EstimatedFloor:  cfg.Session.EstimatedFloor,
		RecoveryMaxAge:  cfg.Session.RecoveryMaxAge,
	}, c.sessionView)

	handler := &sutureslog.Handler{Logger: logging.NewSlogLogger()}
	c.sup = suture.New("driftline", suture.Spec{EventHook: handler.MustHook()})
	c.sup.Add(c.engine)
	c.sup.Add(c.tracker)

	return c, nil
}

// Init brings the pipeline up: identity, persisted experiment state,
// the queued-event backlog, session crash recovery, and the background
// delivery and persistence services. Idempotent; concurrent callers
// share a single in-flight initialization.
func (c *Client) Init(ctx context.Context) error {
	c.initMu.Lock()
	if c.initDone == nil {
		c.initDone = make(chan struct{})
		go c.runInit()
	}
	done := c.initDone
	c.initMu.Unlock()

	select {
	case <-done:
		return c.initErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runInit performs the one-time setup. It never fails the host over
// network or storage trouble; only a missing app id disables logging.
func (c *Client) runInit() {
	defer close(c.initDone)
	ctx := context.Background()

	if c.cfg.AppID == "" {
		logging.Diag().Msg("no app id configured, logging disabled")
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()
		return
	}

	ident := c.ids.Load(ctx)
	c.mu.Lock()
	c.ident = ident
	c.mu.Unlock()

	c.restoreExperiments(ctx, ident.ID)
	c.events.Load(ctx)
	c.tracker.Recover(ctx)

	supCtx, cancel := context.WithCancel(context.Background())
	c.supCancel = cancel
	c.supDone = c.sup.ServeBackground(supCtx)

	// One launch event per process start; the shared init future
	// guarantees racing initializers cannot emit duplicates.
	if err := c.logAt(ctx, "launch", "", "", c.clk.Now()); err != nil {
		logging.Diag().Err(err).Msg("enqueueing launch event failed")
	}
}

// restoreExperiments applies persisted experiment state from storage.
func (c *Client) restoreExperiments(ctx context.Context, userID string) {
	if v, err := c.store.Get(ctx, storage.KeyABVersion); err == nil {
		c.ab.SetVersion(v)
	}
	data, err := c.store.Get(ctx, storage.KeyABData)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logging.Diag().Err(err).Msg("reading experiment data failed")
		}
		return
	}
	if err := c.ab.Refresh(data, userID); err != nil {
		logging.Diag().Err(err).Msg("malformed persisted experiment data")
	}
}

// handleDelivery runs after each confirmed delivery: the response may
// carry refreshed experiment definitions and version.
func (c *Client) handleDelivery(ctx context.Context, resp queue.Response) {
	if resp.ABVersion != "" {
		c.ab.SetVersion(resp.ABVersion)
		if err := c.store.Set(ctx, storage.KeyABVersion, resp.ABVersion); err != nil {
			logging.Diag().Err(err).Msg("persisting experiment version failed")
		}
	}
	if resp.Body == "" {
		return
	}
	// Stored verbatim; a malformed payload costs only the refresh,
	// never the delivered event.
	if err := c.store.Set(ctx, storage.KeyABData, resp.Body); err != nil {
		logging.Diag().Err(err).Msg("persisting experiment data failed")
	}
	if err := c.ab.Refresh(resp.Body, c.userID()); err != nil {
		logging.Diag().Err(err).Msg("malformed experiment payload in response")
	}
}

// Log records an event with optional key/value arguments.
// Fire-and-forget: enqueueing happens on a detached goroutine.
func (c *Client) Log(event string, args map[string]string) {
	go func() {
		if err := c.LogSync(context.Background(), event, args); err != nil {
			logging.Diag().Err(err).Str("event", event).Msg("log failed")
		}
	}()
}

// LogSync records an event and reports enqueue failures.
func (c *Client) LogSync(ctx context.Context, event string, args map[string]string) error {
	if err := c.ready(); err != nil {
		return err
	}
	ev := wire.SafeEvent(event)
	argStr := wire.FitArgs(ev, wire.EncodeArgs(args))
	return c.logAt(ctx, ev, "", argStr, c.clk.Now())
}

// LogRaw records an event whose arguments are already joined into a
// single key<US>value string. Unit separators inside argString are
// preserved; everything else is sanitized as usual.
func (c *Client) LogRaw(event string, argString string) {
	go func() {
		if err := c.LogRawSync(context.Background(), event, argString); err != nil {
			logging.Diag().Err(err).Str("event", event).Msg("log failed")
		}
	}()
}

// LogRawSync is the awaitable variant of LogRaw.
func (c *Client) LogRawSync(ctx context.Context, event string, argString string) error {
	if err := c.ready(); err != nil {
		return err
	}
	ev := wire.SafeEvent(event)
	argStr := wire.FitArgs(ev, wire.Sanitize(argString, true))
	return c.logAt(ctx, ev, "", argStr, c.clk.Now())
}

// LogWithRevenue records an event carrying a revenue amount, clamped
// and formatted per the wire contract. Fire-and-forget.
func (c *Client) LogWithRevenue(event string, revenue float64, args map[string]string) {
	go func() {
		if err := c.LogWithRevenueSync(context.Background(), event, revenue, args); err != nil {
			logging.Diag().Err(err).Str("event", event).Msg("log failed")
		}
	}()
}

// LogWithRevenueSync is the awaitable variant of LogWithRevenue.
func (c *Client) LogWithRevenueSync(ctx context.Context, event string, revenue float64, args map[string]string) error {
	if err := c.ready(); err != nil {
		return err
	}
	ev := wire.SafeEvent(event)
	argStr := wire.FitArgs(ev, wire.EncodeArgs(args))
	return c.logAt(ctx, ev, wire.FormatRevenue(revenue), argStr, c.clk.Now())
}

// sessionView receives synthesized view events from the tracker,
// timestamped at the session's logical start.
func (c *Client) sessionView(event string, args map[string]string, at time.Time) {
	if c.ready() != nil {
		return
	}
	ev := wire.SafeEvent(event)
	argStr := wire.FitArgs(ev, wire.EncodeArgs(args))
	if err := c.logAt(context.Background(), ev, "", argStr, at); err != nil {
		logging.Diag().Err(err).Str("event", event).Msg("logging view event failed")
	}
}

// logAt builds the queued record. event and args arrive sanitized.
func (c *Client) logAt(ctx context.Context, event, revenue, args string, at time.Time) error {
	c.mu.RLock()
	ident := c.ident
	c.mu.RUnlock()

	userData := wire.UserData{
		ID:          ident.ID,
		Device:      c.device.Device,
		OS:          c.device.OS,
		BundleID:    c.device.BundleID,
		Debug:       c.device.Debug,
		Version:     c.device.Version,
		Language:    c.device.Language,
		InstallDate: ident.InstallDate,
	}

	return c.events.Enqueue(ctx, queue.Record{
		AppID:     c.cfg.AppID,
		UserData:  userData.Encode(),
		Event:     event,
		Revenue:   revenue,
		Args:      args,
		Time:      at.Unix(),
		ABLetters: c.ab.Letters(),
	})
}

// ready reports whether logging may proceed.
func (c *Client) ready() error {
	c.initMu.Lock()
	done := c.initDone
	c.initMu.Unlock()
	if done == nil {
		return ErrNotInitialized
	}
	select {
	case <-done:
	default:
		return ErrNotInitialized
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.disabled {
		return errors.New("driftline: logging disabled (no app id)")
	}
	return nil
}

// ABTest returns the variant letter assigned to the named experiment
// for this user, or "A" when the experiment is unknown.
func (c *Client) ABTest(name string) string {
	return c.ab.Query(name)
}

// ID returns the pseudonymous user id, empty before Init completes.
func (c *Client) ID() string {
	return c.userID()
}

func (c *Client) userID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ident.ID
}

// SetID supplies an externally-generated user id. A no-op once any id
// has been persisted; call it before Init to take effect.
func (c *Client) SetID(ctx context.Context, id string) {
	c.ids.SetID(ctx, id)
}

// StartScreenView begins (or re-enters) the screen session for
// screenID.
func (c *Client) StartScreenView(screenID string, args map[string]string) {
	c.tracker.Start(context.Background(), screenID, args)
}

// EndScreenView terminates the session, logging a view event when its
// duration reaches the trackable threshold.
func (c *Client) EndScreenView(screenID string) {
	c.tracker.End(context.Background(), screenID)
}

// PauseScreenView suspends duration tracking for one screen.
func (c *Client) PauseScreenView(screenID string) {
	c.tracker.Pause(screenID)
}

// ResumeScreenView resumes duration tracking for one screen.
func (c *Client) ResumeScreenView(screenID string) {
	c.tracker.Resume(screenID)
}

// AppBackgrounded pauses all sessions and writes graceful snapshots.
// Wire it to the host platform's background-transition signal.
func (c *Client) AppBackgrounded() {
	c.tracker.PauseAll(context.Background())
}

// AppForegrounded resumes all sessions.
func (c *Client) AppForegrounded() {
	c.tracker.ResumeAll(context.Background())
}

// EnableLogging turns on developer diagnostics.
func (c *Client) EnableLogging() {
	logging.SetEnabled(true)
}

// DisableLogging silences developer diagnostics.
func (c *Client) DisableLogging() {
	logging.SetEnabled(false)
}

// Flush drains the queue synchronously, waiting for any in-flight
// drain loop first. Returns when the queue is empty or ctx is done.
func (c *Client) Flush(ctx context.Context) error {
	c.engine.Drain(ctx)
	return ctx.Err()
}

// Close stops the background services and releases the store when the
// client opened it. The persisted queue survives for the next launch.
func (c *Client) Close() error {
	if c.supCancel != nil {
		c.supCancel()
		if c.supDone != nil {
			<-c.supDone
		}
	}
	if c.ownsStore {
		if closer, ok := c.store.(*storage.Badger); ok {
			return closer.Close()
		}
	}
	return nil
}

// NewMemoryStore returns the non-durable in-memory Store.
func NewMemoryStore() Store {
	return storage.NewMemory()
}

// NewBadgerStore opens the durable BadgerDB-backed Store at path.
// Close the returned store (or let Close on an owning Client do it).
func NewBadgerStore(path string) (*storage.Badger, error) {
	return storage.OpenBadger(path)
}
