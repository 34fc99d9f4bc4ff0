package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dontdude/imgconv/internal/metrics"
	"github.com/redis/go-redis/v9"
)

const pendingScanCount = 100

// StaleEntry is a delivered but unacknowledged entry idle for longer than the threshold.
type StaleEntry struct {
	EntryID    string
	Consumer   string
	Idle       time.Duration
	Deliveries int64
}

// PendingMonitor watches the group's PEL for entries left behind by crashed workers.
// It only reports them: entries are never claimed, re-queued or acknowledged here.
type PendingMonitor struct {
	client  redis.UniversalClient
	stream  string
	group   string
	maxIdle time.Duration
	log     *slog.Logger
}

// NewPendingMonitor returns a monitor flagging entries idle for at least maxIdle.
func NewPendingMonitor(client redis.UniversalClient, stream, group string, maxIdle time.Duration, logger *slog.Logger) *PendingMonitor {
	return &PendingMonitor{
		client:  client,
		stream:  stream,
		group:   group,
		maxIdle: maxIdle,
		log:     logger.With("component", "pending-monitor"),
	}
}

// Stale lists up to 100 pending entries that have been idle for at least maxIdle.
func (m *PendingMonitor) Stale(ctx context.Context) ([]StaleEntry, error) {
	pending, err := m.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: m.stream,
		Group:  m.group,
		Start:  "-",
		End:    "+",
		Count:  pendingScanCount,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis xpending failed: %w", err)
	}

	var stale []StaleEntry
	for _, p := range pending {
		if p.Idle < m.maxIdle {
			continue
		}
		stale = append(stale, StaleEntry{
			EntryID:    p.ID,
			Consumer:   p.Consumer,
			Idle:       p.Idle,
			Deliveries: p.RetryCount,
		})
	}
	return stale, nil
}

// Run polls the PEL every interval until ctx is done.
func (m *PendingMonitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.log.Info("Starting pending entry monitor", "interval", interval, "maxIdle", m.maxIdle)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stale, err := m.Stale(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				m.log.Error("Pending entry scan failed", "error", err)
				continue
			}
			metrics.SetPendingStale(len(stale))
			for _, e := range stale {
				m.log.Warn("Stale pending job entry",
					"entryID", e.EntryID, "consumer", e.Consumer, "idle", e.Idle, "deliveries", e.Deliveries)
			}
		}
	}
}
