package metrics

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"
)

// PoolCount is one owner+kind row of pool-size gauges.
type PoolCount struct {
	Owner   string
	Kind    string
	Total   int
	Active  int
	Healthy int
}

// PoolCountsProvider supplies current pool counts for the gauge collector.
type PoolCountsProvider interface {
	PoolCounts(ctx context.Context) ([]PoolCount, error)
}

// Collector keeps the pool and system gauges current. Counters are not
// persisted here: the counters that matter live in the server store, and
// scrape counters restart at zero like any process metric.
type Collector struct {
	metrics   *Metrics
	pools     PoolCountsProvider
	statePath string
	interval  time.Duration
	startTime time.Time
	logger    *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewCollector creates a gauge collector. statePath is stat'ed for the
// storage-size gauge; empty disables it.
func NewCollector(m *Metrics, pools PoolCountsProvider, statePath string, interval time.Duration, logger *slog.Logger) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}

	return &Collector{
		metrics:   m,
		pools:     pools,
		statePath: statePath,
		interval:  interval,
		startTime: time.Now(),
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the background gauge updates
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.loop(ctx)
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

func (c *Collector) loop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.collect(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.collect(ctx)
		}
	}
}

func (c *Collector) collect(ctx context.Context) {
	c.metrics.UptimeSeconds.Set(time.Since(c.startTime).Seconds())
	c.metrics.Goroutines.Set(float64(runtime.NumGoroutine()))

	if c.statePath != "" {
		if info, err := os.Stat(c.statePath); err == nil {
			c.metrics.StorageUsedBytes.Set(float64(info.Size()))
		}
	}

	if c.pools == nil {
		return
	}
	counts, err := c.pools.PoolCounts(ctx)
	if err != nil {
		c.logger.Warn("failed to collect pool counts", "error", err)
		return
	}

	// Reset so owners whose servers were all removed drop off
	c.metrics.ServersTotal.Reset()
	c.metrics.ServersActive.Reset()
	c.metrics.ServersHealthy.Reset()
	for _, pc := range counts {
		c.metrics.ServersTotal.WithLabelValues(pc.Owner, pc.Kind).Set(float64(pc.Total))
		c.metrics.ServersActive.WithLabelValues(pc.Owner, pc.Kind).Set(float64(pc.Active))
		c.metrics.ServersHealthy.WithLabelValues(pc.Owner, pc.Kind).Set(float64(pc.Healthy))
	}
}
