package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/dontdude/imgconv/internal/domain"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memBlobs struct {
	mu   sync.Mutex
	data map[string][]byte
	meta map[string]map[string]string
	next int
}

func newMemBlobs() *memBlobs {
	return &memBlobs{data: map[string][]byte{}, meta: map[string]map[string]string{}}
}

func (m *memBlobs) Put(ctx context.Context, data []byte, meta map[string]string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	id := fmt.Sprintf("blob-%d", m.next)
	m.data[id] = data
	m.meta[id] = meta
	return id, nil
}

func (m *memBlobs) Get(ctx context.Context, id string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return data, nil
}

func (m *memBlobs) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, id)
	return nil
}

func (m *memBlobs) seed(id string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[id] = data
}

func (m *memBlobs) has(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[id]
	return ok
}

func (m *memBlobs) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

type fakeQueue struct {
	deliveries chan *domain.Delivery

	mu           sync.Mutex
	joinFailures int
	joins        int
	acked        []string
	// claimErrs are returned by the next Claim calls, in order.
	claimErrs []error
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{deliveries: make(chan *domain.Delivery, 16)}
}

func (q *fakeQueue) Publish(ctx context.Context, job domain.Job) error { return nil }

func (q *fakeQueue) Join(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.joins++
	if q.joins <= q.joinFailures {
		return errors.New("connection refused")
	}
	return nil
}

func (q *fakeQueue) Claim(ctx context.Context, consumer string, block time.Duration) (*domain.Delivery, error) {
	q.mu.Lock()
	if len(q.claimErrs) > 0 {
		err := q.claimErrs[0]
		q.claimErrs = q.claimErrs[1:]
		q.mu.Unlock()
		return nil, err
	}
	q.mu.Unlock()

	select {
	case d := <-q.deliveries:
		return d, nil
	case <-time.After(block):
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *fakeQueue) Acknowledge(ctx context.Context, entryID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked = append(q.acked, entryID)
	return nil
}

func (q *fakeQueue) ackedIDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.acked...)
}

type published struct {
	jobID  string
	result domain.JobResult
}

type fakeResults struct {
	out chan published

	mu       sync.Mutex
	failures int
	attempts int
}

func newFakeResults() *fakeResults {
	return &fakeResults{out: make(chan published, 16)}
}

func (r *fakeResults) Broadcast(ctx context.Context, jobID string, result domain.JobResult) error {
	r.mu.Lock()
	r.attempts++
	fail := r.attempts <= r.failures
	r.mu.Unlock()
	if fail {
		return errors.New("broken pipe")
	}
	r.out <- published{jobID: jobID, result: result}
	return nil
}

func (r *fakeResults) Listen(ctx context.Context, jobID string) (domain.ResultListener, error) {
	return nil, errors.New("not used by workers")
}

type converterFunc func(ctx context.Context, req domain.ConvertRequest) (domain.ConvertOutput, error)

func (f converterFunc) Convert(ctx context.Context, req domain.ConvertRequest) (domain.ConvertOutput, error) {
	return f(ctx, req)
}
