package network

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"pos-offline-sync/internal/utils"
)

// HealthChecker is anything that can tell whether the remote answers
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ProberConfig controls how reachability is sampled
type ProberConfig struct {
	Interval time.Duration
	Timeout  time.Duration
	// FailureThreshold consecutive failed checks are needed before reporting offline
	FailureThreshold int
}

func DefaultProberConfig() ProberConfig {
	return ProberConfig{
		Interval:         15 * time.Second,
		Timeout:          5 * time.Second,
		FailureThreshold: 2,
	}
}

// Prober periodically checks the remote and feeds the results into a Monitor.
type Prober struct {
	checker HealthChecker
	monitor *Monitor
	config  ProberConfig
	logger  *slog.Logger

	mu       sync.Mutex
	failures int
	running  bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewProber(checker HealthChecker, monitor *Monitor, config ProberConfig, logger *slog.Logger) *Prober {
	defaults := DefaultProberConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 1
	}
	return &Prober{
		checker: checker,
		monitor: monitor,
		config:  config,
		logger:  utils.OrDefault(logger),
	}
}

// ProbeOnce runs one health check and reports whether the remote answered
func (p *Prober) ProbeOnce(ctx context.Context) bool {
	checkCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	err := p.checker.HealthCheck(checkCtx)

	p.mu.Lock()
	if err == nil {
		p.failures = 0
	} else {
		p.failures++
	}
	failures := p.failures
	p.mu.Unlock()

	if err == nil {
		p.monitor.Observe(true)
		return true
	}

	p.logger.Debug("Remote health check failed", "consecutive_failures", failures, "error", err)
	if failures >= p.config.FailureThreshold {
		p.monitor.Observe(false)
	}
	return false
}

// Start probes immediately and then on every interval until Stop or ctx is done
func (p *Prober) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.mu.Unlock()

	p.wg.Add(1)
	go p.loop(ctx)

	p.logger.Info("Reachability prober started", "interval", p.config.Interval.String())
}

func (p *Prober) loop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	p.ProbeOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.ProbeOnce(ctx)
		}
	}
}

func (p *Prober) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("Reachability prober stopped")
}
