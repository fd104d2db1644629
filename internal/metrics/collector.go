package metrics

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"
)

// RecipientStats is a snapshot of recipient counts by status
type RecipientStats map[string]int

// StatsProvider supplies recipient counts for the active profile
type StatsProvider interface {
	RecipientStats(ctx context.Context) (RecipientStats, error)
}

// QuotaProvider supplies the current quota position for the active profile
type QuotaProvider interface {
	QuotaSnapshot(ctx context.Context) (remaining, limit int, err error)
}

// Collector periodically refreshes the gauge metrics from live state.
// Counter metrics are incremented at the call sites; gauges are derived
// here so a scrape always sees a recent snapshot without every store
// mutation paying for a metrics update.
type Collector struct {
	metrics     *Metrics
	stats       StatsProvider
	quota       QuotaProvider
	storagePath string
	interval    time.Duration
	startTime   time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewCollector creates a metrics collector
func NewCollector(m *Metrics, stats StatsProvider, quota QuotaProvider, storagePath string, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Collector{
		metrics:     m,
		stats:       stats,
		quota:       quota,
		storagePath: storagePath,
		interval:    interval,
		startTime:   time.Now(),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the background refresh loop
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.refreshLoop(ctx)
}

// Stop halts the refresh loop
func (c *Collector) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

func (c *Collector) refreshLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.refresh(ctx)
		}
	}
}

// refresh updates all derived gauges from current state
func (c *Collector) refresh(ctx context.Context) {
	c.metrics.UptimeSeconds.Set(time.Since(c.startTime).Seconds())
	c.metrics.Goroutines.Set(float64(runtime.NumGoroutine()))

	if c.storagePath != "" {
		if info, err := os.Stat(c.storagePath); err == nil {
			c.metrics.StorageUsedBytes.Set(float64(info.Size()))
		}
	}

	if c.stats != nil {
		if stats, err := c.stats.RecipientStats(ctx); err == nil {
			for status, n := range stats {
				c.metrics.RecipientsByStatus.WithLabelValues(status).Set(float64(n))
			}
		}
	}

	if c.quota != nil {
		if remaining, limit, err := c.quota.QuotaSnapshot(ctx); err == nil {
			c.metrics.QuotaRemaining.Set(float64(remaining))
			c.metrics.QuotaLimit.Set(float64(limit))
		}
	}
}
