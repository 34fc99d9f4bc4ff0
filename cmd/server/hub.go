package main

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dontdude/imgconv/internal/domain"
)

// resultRetention is how long a finished job waits for its websocket client.
const resultRetention = 10 * time.Minute

var errUnknownJob = errors.New("unknown job")

// outcome is what waiting for a job produced: a result, or the reason there is none.
type outcome struct {
	result domain.JobResult
	err    error
}

type parked struct {
	done chan struct{}
	outcome
}

// resultHub holds the results of jobs submitted through POST /api/jobs until a
// websocket client collects them.
// Map key: JobID -> Value: pending or finished outcome
type resultHub struct {
	mu      sync.Mutex
	entries map[string]*parked
	ttl     time.Duration
}

func newResultHub(ttl time.Duration) *resultHub {
	return &resultHub{entries: make(map[string]*parked), ttl: ttl}
}

// track registers a job before its result can arrive.
func (h *resultHub) track(jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[jobID] = &parked{done: make(chan struct{})}
}

// finish stores the outcome and schedules its removal.
func (h *resultHub) finish(jobID string, result domain.JobResult, err error) {
	h.mu.Lock()
	p, ok := h.entries[jobID]
	h.mu.Unlock()
	if !ok {
		return
	}
	p.outcome = outcome{result: result, err: err}
	close(p.done)

	time.AfterFunc(h.ttl, func() { h.forget(jobID) })
}

func (h *resultHub) forget(jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.entries, jobID)
}

func (h *resultHub) known(jobID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.entries[jobID]
	return ok
}

// wait blocks until the job's outcome is known. The outcome is handed out once.
func (h *resultHub) wait(ctx context.Context, jobID string) (outcome, error) {
	h.mu.Lock()
	p, ok := h.entries[jobID]
	h.mu.Unlock()
	if !ok {
		return outcome{}, errUnknownJob
	}

	select {
	case <-ctx.Done():
		return outcome{}, ctx.Err()
	case <-p.done:
		h.forget(jobID)
		return p.outcome, nil
	}
}
