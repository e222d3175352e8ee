// Package syncer schedules catalog and sale synchronization for the terminal.
package syncer

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"pos-offline-sync/internal/catalog"
	"pos-offline-sync/internal/config"
	"pos-offline-sync/internal/models"
	"pos-offline-sync/internal/network"
	"pos-offline-sync/internal/sales"
	"pos-offline-sync/internal/telemetry"
	"pos-offline-sync/internal/utils"
)

// Triggers recorded on every run
const (
	TriggerStartup   = "startup"
	TriggerNetwork   = "network"
	TriggerPeriodic  = "periodic"
	TriggerManual    = "manual"
	TriggerCacheMiss = "cache_miss"
	TriggerSale      = "sale_recorded"
)

const (
	flightKey = "sync"
	// missCooldown bounds how often storage misses may schedule a resync
	missCooldown = 30 * time.Second
)

// Listener is told about runs and connectivity changes. Calls must return quickly.
type Listener interface {
	SyncStarted(trigger string)
	SyncFinished(run models.SyncRun)
	NetworkChanged(online bool)
}

// SaleListener is optionally implemented by listeners interested in new sales
type SaleListener interface {
	SaleQueued(sale models.QueuedSale)
}

// Options tunes an Orchestrator. Zero values take defaults.
type Options struct {
	Interval  time.Duration
	Telemetry *telemetry.SyncTelemetry
	Listeners []Listener
	Logger    *slog.Logger
}

// Orchestrator runs catalog sync followed by sale upload. Only one run is in
// flight at a time: manual callers join it, background triggers are skipped.
type Orchestrator struct {
	catalog   *catalog.Syncer
	queue     *sales.Queue
	uploader  *sales.Uploader
	monitor   *network.Monitor
	interval  time.Duration
	telemetry *telemetry.SyncTelemetry
	listeners []Listener
	logger    *slog.Logger

	group    singleflight.Group
	lastMiss atomic.Int64

	// flights counts callers inside group for flightKey. A new background
	// run starts only when it is zero; it drops after Do/DoChan returns, by
	// which point singleflight has forgotten the call.
	flightMu sync.Mutex
	flights  int

	mu      sync.RWMutex
	lastRun *models.SyncRun

	// lifecycleMu orders background launches against Stop
	lifecycleMu sync.Mutex

	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	startOnce   sync.Once
	stopOnce    sync.Once
	unsubscribe func()
}

func NewOrchestrator(cat *catalog.Syncer, queue *sales.Queue, uploader *sales.Uploader, monitor *network.Monitor, opts Options) *Orchestrator {
	if opts.Interval <= 0 {
		opts.Interval = config.DefaultSyncInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		catalog:   cat,
		queue:     queue,
		uploader:  uploader,
		monitor:   monitor,
		interval:  opts.Interval,
		telemetry: opts.Telemetry,
		listeners: opts.Listeners,
		logger:    utils.OrDefault(opts.Logger),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start recovers interrupted uploads, subscribes to connectivity changes,
// forces the startup syncs the local state calls for and begins the
// periodic schedule. Cancelling ctx has the same effect as Stop.
func (o *Orchestrator) Start(ctx context.Context) {
	o.startOnce.Do(func() {
		if n, err := o.queue.RecoverInterrupted(); err != nil {
			o.logger.Error("Failed to recover interrupted uploads", "error", err)
		} else if n > 0 {
			o.logger.Info("Recovered interrupted uploads", "sales", n)
		}

		o.catalog.OnMiss(o.onCacheMiss)
		o.unsubscribe = o.OnNetworkChange(o.onOnline, o.onOffline)

		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			select {
			case <-ctx.Done():
				o.cancel()
			case <-o.ctx.Done():
			}
		}()

		o.startupSync()

		o.wg.Add(1)
		go o.loop()

		o.logger.Info("Sync orchestrator started", "interval", o.interval, "online", o.monitor.Online())
	})
}

// Stop ends the schedule and waits for background runs. A run in progress
// stops after its current sale.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() {
		o.lifecycleMu.Lock()
		o.cancel()
		o.lifecycleMu.Unlock()
		if o.unsubscribe != nil {
			o.unsubscribe()
		}
		o.wg.Wait()
		o.logger.Info("Sync orchestrator stopped")
	})
}

// startupSync forces a run when the cache is empty or sales are waiting.
// While offline the run is left to the next online transition.
func (o *Orchestrator) startupSync() {
	cached, err := o.catalog.Count()
	if err != nil {
		cached = 0
	}
	pending, err := o.queue.PendingCount()
	if err != nil {
		o.logger.Warn("Failed to count pending sales at startup", "error", err)
	}

	if cached > 0 && pending == 0 {
		o.logger.Debug("Local state is current, no startup sync needed", "cached_products", cached)
		return
	}
	if !o.monitor.Online() {
		o.logger.Info("Startup sync deferred until online", "cached_products", cached, "pending_sales", pending)
		return
	}
	o.logger.Info("Forcing startup sync", "cached_products", cached, "pending_sales", pending)
	o.Trigger(TriggerStartup)
}

func (o *Orchestrator) loop() {
	defer o.wg.Done()
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			if o.monitor.Online() {
				o.Trigger(TriggerPeriodic)
			}
		}
	}
}

func (o *Orchestrator) onOnline() {
	for _, l := range o.listeners {
		l.NetworkChanged(true)
	}
	o.Trigger(TriggerNetwork)
}

func (o *Orchestrator) onOffline() {
	for _, l := range o.listeners {
		l.NetworkChanged(false)
	}
}

func (o *Orchestrator) onCacheMiss(err error) {
	now := time.Now().UnixNano()
	last := o.lastMiss.Load()
	if now-last < int64(missCooldown) || !o.lastMiss.CompareAndSwap(last, now) {
		return
	}
	o.logger.Warn("Catalog cache miss, scheduling resync", "error", err)
	o.Trigger(TriggerCacheMiss)
}

// OnNetworkChange subscribes to connectivity transitions
func (o *Orchestrator) OnNetworkChange(onOnline, onOffline func()) (unsubscribe func()) {
	return o.monitor.Subscribe(onOnline, onOffline)
}

// Trigger starts a background run and returns immediately. It returns false
// when a run is already in flight or the orchestrator is stopped.
func (o *Orchestrator) Trigger(reason string) bool {
	return o.launch(reason, true)
}

func (o *Orchestrator) launch(reason string, withCatalog bool) bool {
	o.lifecycleMu.Lock()
	defer o.lifecycleMu.Unlock()

	if o.ctx.Err() != nil {
		return false
	}

	o.flightMu.Lock()
	if o.flights > 0 {
		o.flightMu.Unlock()
		o.logger.Debug("Sync already in flight, trigger skipped", "trigger", reason)
		return false
	}
	o.flights++
	ch := o.group.DoChan(flightKey, func() (interface{}, error) {
		return o.run(o.ctx, reason, withCatalog), nil
	})
	o.flightMu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		<-ch
		o.leaveFlight()
	}()
	return true
}

func (o *Orchestrator) enterFlight() {
	o.flightMu.Lock()
	o.flights++
	o.flightMu.Unlock()
}

func (o *Orchestrator) leaveFlight() {
	o.flightMu.Lock()
	o.flights--
	o.flightMu.Unlock()
}

func (o *Orchestrator) inFlight() bool {
	o.flightMu.Lock()
	defer o.flightMu.Unlock()
	return o.flights > 0
}

// SyncNow runs catalog sync then sale upload and waits for the result. If a
// run is already in flight the caller joins it and gets its result. The run
// is shared, so it ignores cancellation of ctx and stops only with the
// orchestrator.
func (o *Orchestrator) SyncNow(ctx context.Context) models.SyncRun {
	o.enterFlight()
	defer o.leaveFlight()

	v, _, shared := o.group.Do(flightKey, func() (interface{}, error) {
		runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		defer cancel()
		stop := context.AfterFunc(o.ctx, cancel)
		defer stop()
		return o.run(runCtx, TriggerManual, true), nil
	})
	run := v.(models.SyncRun)
	run.Joined = shared
	return run
}

// SyncProducts runs only the catalog sync
func (o *Orchestrator) SyncProducts(ctx context.Context) (int, error) {
	count, err := o.catalog.SyncProducts(ctx)
	o.telemetry.RecordCatalogSync(ctx, err)
	return count, err
}

// SyncPendingSales runs only the sale upload. It does not wait for an upload
// already in progress.
func (o *Orchestrator) SyncPendingSales(ctx context.Context) models.UploadResult {
	return o.uploader.SyncPendingSales(ctx)
}

// RecordSale queues a sale and, when online, schedules its upload
func (o *Orchestrator) RecordSale(input models.SaleInput) (*models.QueuedSale, error) {
	sale, err := o.queue.Enqueue(input)
	if err != nil {
		return nil, err
	}
	for _, l := range o.listeners {
		if sl, ok := l.(SaleListener); ok {
			sl.SaleQueued(*sale)
		}
	}
	if o.monitor.Online() {
		o.launch(TriggerSale, false)
	}
	return sale, nil
}

func (o *Orchestrator) run(ctx context.Context, trigger string, withCatalog bool) models.SyncRun {
	run := models.SyncRun{Trigger: trigger, StartedAt: time.Now()}
	o.logger.Info("Sync run started", "trigger", trigger)
	for _, l := range o.listeners {
		l.SyncStarted(trigger)
	}

	if withCatalog {
		count, err := o.SyncProducts(ctx)
		if err != nil {
			// Sales still go: the remote resolves products on its own
			run.CatalogError = err.Error()
		}
		run.ProductsSynced = count
	}
	run.Sales = o.uploader.SyncPendingSales(ctx)

	elapsed := time.Since(run.StartedAt)
	run.Duration = elapsed.String()

	o.mu.Lock()
	last := run
	o.lastRun = &last
	o.mu.Unlock()

	o.telemetry.RecordRun(ctx, run, elapsed)
	for _, l := range o.listeners {
		l.SyncFinished(run)
	}

	o.logger.Info("Sync run completed",
		"trigger", trigger,
		"products_synced", run.ProductsSynced,
		"catalog_error", run.CatalogError,
		"synced", run.Sales.Synced,
		"failed", run.Sales.Failed,
		"total_pending", run.Sales.TotalPending,
		"duration", elapsed)
	return run
}

// Stats reports the current queue, cache and sync state. Counts that cannot
// be read are reported as zero.
func (o *Orchestrator) Stats() models.SyncStats {
	stats := models.SyncStats{
		IsSyncing: o.inFlight() || o.uploader.IsSyncing(),
		Online:    o.monitor.Online(),
	}

	pending, failed, err := o.queue.Counts()
	if err != nil {
		o.logger.Warn("Failed to count queued sales", "error", err)
	}
	stats.PendingSales, stats.FailedSales = pending, failed

	if cached, err := o.catalog.Count(); err == nil {
		stats.CachedProducts = cached
	}

	if at := o.catalog.LastSyncedAt(); !at.IsZero() {
		stats.LastSyncAt = &at
	}

	o.mu.RLock()
	if o.lastRun != nil {
		last := *o.lastRun
		stats.LastRun = &last
	}
	o.mu.RUnlock()
	return stats
}

// Gauges exposes the counts backing the telemetry gauges
func (o *Orchestrator) Gauges() telemetry.Gauges {
	return telemetry.Gauges{
		PendingSales: func() int {
			n, _, _ := o.queue.Counts()
			return n
		},
		FailedSales: func() int {
			_, n, _ := o.queue.Counts()
			return n
		},
		CachedProducts: func() int {
			n, _ := o.catalog.Count()
			return n
		},
	}
}
