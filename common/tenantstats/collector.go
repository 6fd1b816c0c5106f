package tenantstats

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Flusher persists a batch. *Client satisfies it.
type Flusher interface {
	FlushBatch(ctx context.Context, batch *Batch) error
}

// Collector accumulates outcomes in memory and flushes them periodically so
// the ingest hot path never waits on Redis. Safe for concurrent use.
type Collector struct {
	flusher       Flusher
	flushInterval time.Duration
	logger        *slog.Logger

	mu      sync.Mutex
	batches map[string]*Batch

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCollector starts a collector flushing every flushInterval.
func NewCollector(flusher Flusher, flushInterval time.Duration, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	if flushInterval <= 0 {
		flushInterval = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	c := &Collector{
		flusher:       flusher,
		flushInterval: flushInterval,
		logger:        logger,
		batches:       make(map[string]*Batch),
		ctx:           ctx,
		cancel:        cancel,
	}

	c.wg.Add(1)
	go c.flushLoop()

	return c
}

// Record counts one arrival for tenant with outcome.
func (c *Collector) Record(tenantID, outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	batch, ok := c.batches[tenantID]
	if !ok {
		batch = NewBatch(tenantID)
		c.batches[tenantID] = batch
	}
	batch.Add(outcome, time.Now())
}

func (c *Collector) flushLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			c.flush()
			return
		case <-ticker.C:
			c.flush()
		}
	}
}

func (c *Collector) flush() {
	c.mu.Lock()
	batches := c.batches
	c.batches = make(map[string]*Batch)
	c.mu.Unlock()

	if len(batches) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var flushed int
	var total int64
	for _, batch := range batches {
		if err := c.flusher.FlushBatch(ctx, batch); err != nil {
			c.logger.Error("failed to flush tenant stats",
				slog.String("tenant_id", batch.TenantID),
				slog.Int64("count", batch.Total()),
				slog.String("error", err.Error()),
			)
			c.requeue(batch)
			continue
		}
		flushed++
		total += batch.Total()
	}

	if flushed > 0 {
		c.logger.Debug("flushed tenant stats",
			slog.Int("tenants", flushed),
			slog.Int64("arrivals", total),
		)
	}
}

func (c *Collector) requeue(batch *Batch) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.batches[batch.TenantID]; ok {
		existing.Merge(batch)
		return
	}
	c.batches[batch.TenantID] = batch
}

// FlushNow forces an immediate flush.
func (c *Collector) FlushNow() {
	c.flush()
}

// Stop stops the flush loop after a final flush.
func (c *Collector) Stop() {
	c.cancel()
	c.wg.Wait()
}

// Pending returns unflushed arrival counts per tenant.
func (c *Collector) Pending() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]int64, len(c.batches))
	for tenant, batch := range c.batches {
		out[tenant] = batch.Total()
	}
	return out
}
