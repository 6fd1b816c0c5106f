// Package tenantstats keeps per-tenant ingest outcome counters in Redis.
//
// Several ingest instances write concurrently; any service can read.
//
// Redis key structure:
//
//	ledger:stats:{tenant}                 hash outcome -> total count, plus last_seen_at
//	ledger:hourly:{tenant}:{YYYYMMDDHH}   hash outcome -> count for that hour (expires 48h)
//	ledger:instances:{tenant}             hash instance id -> last flush (expires 24h)
package tenantstats

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const fieldLastSeen = "last_seen_at"

// Stats is the read model for one tenant.
type Stats struct {
	TenantID         string            `json:"tenant_id"`
	LastSeenAt       *time.Time        `json:"last_seen_at,omitempty"`
	Totals           map[string]int64  `json:"totals"`
	LastHour         map[string]int64  `json:"last_hour"`
	Last24h          map[string]int64  `json:"last_24h"`
	IngestInstances  map[string]string `json:"ingest_instances,omitempty"`
	StatsRetrievedAt time.Time         `json:"stats_retrieved_at"`
}

// Client records and reads tenant statistics.
type Client struct {
	redis      *redis.Client
	instanceID string
	now        func() time.Time
}

// NewClient connects to Redis at redisURL and verifies the connection.
// instanceID should be unique per ingest instance (hostname, pod name).
func NewClient(redisURL, instanceID string) (*Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return NewClientFromRedis(client, instanceID), nil
}

// NewClientFromRedis wraps an existing connection.
func NewClientFromRedis(client *redis.Client, instanceID string) *Client {
	return &Client{
		redis:      client,
		instanceID: instanceID,
		now:        time.Now,
	}
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.redis.Close()
}

// Batch accumulates outcome counts for one tenant between flushes.
type Batch struct {
	TenantID string
	Counts   map[string]int64
	LastSeen time.Time
}

// NewBatch creates an empty batch for a tenant.
func NewBatch(tenantID string) *Batch {
	return &Batch{
		TenantID: tenantID,
		Counts:   make(map[string]int64),
	}
}

// Add counts one arrival with the given outcome.
func (b *Batch) Add(outcome string, at time.Time) {
	b.Counts[outcome]++
	if at.After(b.LastSeen) {
		b.LastSeen = at
	}
}

// Merge folds other into b.
func (b *Batch) Merge(other *Batch) {
	for outcome, n := range other.Counts {
		b.Counts[outcome] += n
	}
	if other.LastSeen.After(b.LastSeen) {
		b.LastSeen = other.LastSeen
	}
}

// Total is the number of arrivals in the batch.
func (b *Batch) Total() int64 {
	var n int64
	for _, v := range b.Counts {
		n += v
	}
	return n
}

func statsKey(tenant string) string {
	return fmt.Sprintf("ledger:stats:%s", tenant)
}

func hourlyKey(tenant string, t time.Time) string {
	return fmt.Sprintf("ledger:hourly:%s:%s", tenant, t.UTC().Format("2006010215"))
}

func instancesKey(tenant string) string {
	return fmt.Sprintf("ledger:instances:%s", tenant)
}

// FlushBatch writes a batch in a single pipeline.
func (c *Client) FlushBatch(ctx context.Context, batch *Batch) error {
	if batch.Total() == 0 {
		return nil
	}

	now := c.now()
	seen := batch.LastSeen
	if seen.IsZero() {
		seen = now
	}
	nowUnix := strconv.FormatInt(now.Unix(), 10)

	pipe := c.redis.Pipeline()

	sKey := statsKey(batch.TenantID)
	hKey := hourlyKey(batch.TenantID, now)
	for outcome, n := range batch.Counts {
		pipe.HIncrBy(ctx, sKey, outcome, n)
		pipe.HIncrBy(ctx, hKey, outcome, n)
	}
	pipe.HSet(ctx, sKey, fieldLastSeen, strconv.FormatInt(seen.Unix(), 10))
	pipe.Expire(ctx, hKey, 48*time.Hour)

	iKey := instancesKey(batch.TenantID)
	pipe.HSet(ctx, iKey, c.instanceID, nowUnix)
	pipe.Expire(ctx, iKey, 24*time.Hour)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to flush batch: %w", err)
	}
	return nil
}

// GetStats reads the totals, the current hour and the trailing 24 hours.
func (c *Client) GetStats(ctx context.Context, tenantID string) (*Stats, error) {
	now := c.now()

	pipe := c.redis.Pipeline()
	totalsCmd := pipe.HGetAll(ctx, statsKey(tenantID))
	hourCmds := make([]*redis.MapStringStringCmd, 24)
	for i := range hourCmds {
		hourCmds[i] = pipe.HGetAll(ctx, hourlyKey(tenantID, now.Add(-time.Duration(i)*time.Hour)))
	}
	instancesCmd := pipe.HGetAll(ctx, instancesKey(tenantID))

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}

	stats := &Stats{
		TenantID:         tenantID,
		Totals:           make(map[string]int64),
		LastHour:         make(map[string]int64),
		Last24h:          make(map[string]int64),
		IngestInstances:  make(map[string]string),
		StatsRetrievedAt: now,
	}

	for field, raw := range totalsCmd.Val() {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		if field == fieldLastSeen {
			t := time.Unix(v, 0).UTC()
			stats.LastSeenAt = &t
			continue
		}
		stats.Totals[field] = v
	}

	for i, cmd := range hourCmds {
		for outcome, raw := range cmd.Val() {
			v, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				continue
			}
			stats.Last24h[outcome] += v
			if i == 0 {
				stats.LastHour[outcome] += v
			}
		}
	}

	for instance, raw := range instancesCmd.Val() {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
			stats.IngestInstances[instance] = time.Unix(v, 0).UTC().Format(time.RFC3339)
		}
	}

	return stats, nil
}
