package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dontdude/imgconv/internal/domain"
	"github.com/dontdude/imgconv/internal/platform/blob"
	"github.com/dontdude/imgconv/internal/platform/queue"
	"github.com/dontdude/imgconv/internal/worker"
	"github.com/redis/go-redis/v9"
)

type converterFunc func(ctx context.Context, req domain.ConvertRequest) (domain.ConvertOutput, error)

func (f converterFunc) Convert(ctx context.Context, req domain.ConvertRequest) (domain.ConvertOutput, error) {
	return f(ctx, req)
}

type stack struct {
	rdb       *redis.Client
	queue     *queue.RedisQueue
	results   *queue.ResultBus
	blobs     *blob.RedisStore
	submitter *Submitter
	log       *slog.Logger
}

func newStack(t *testing.T) *stack {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), PoolSize: 200})
	t.Cleanup(func() { rdb.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := &stack{
		rdb:     rdb,
		queue:   queue.NewRedisQueue(rdb, domain.StreamName, domain.GroupName, 0),
		results: queue.NewResultBus(rdb),
		blobs:   blob.NewRedisStore(rdb, 0),
		log:     log,
	}
	s.submitter = NewSubmitter(s.queue, s.results, s.blobs, 5*time.Second, log)
	if err := s.submitter.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return s
}

// startWorkers runs one pool per name, as separate worker processes would.
func (s *stack) startWorkers(t *testing.T, conv domain.Converter, names ...string) {
	t.Helper()
	for _, name := range names {
		p := worker.NewPool(worker.Config{Name: name, ClaimBlock: 20 * time.Millisecond}, s.queue, s.results, s.blobs, conv, s.log)
		p.Start(context.Background())
		t.Cleanup(p.Stop)
	}
}

func TestWaitForJobResultTimesOut(t *testing.T) {
	s := newStack(t)

	jobID, err := s.submitter.SubmitConversionJob(context.Background(), ConversionJobData{InputFileID: "b1", OutputFormat: "png"})
	if err != nil {
		t.Fatalf("SubmitConversionJob: %v", err)
	}

	timeout := 150 * time.Millisecond
	start := time.Now()
	_, err = s.submitter.WaitForJobResult(context.Background(), jobID, timeout)
	elapsed := time.Since(start)

	if !errors.Is(err, domain.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if err.Error() != "conversion timed out" {
		t.Fatalf("error message = %q", err.Error())
	}
	if elapsed < timeout || elapsed > timeout+2*time.Second {
		t.Fatalf("returned after %v, want about %v", elapsed, timeout)
	}
}

func TestWaitForJobResultCanceled(t *testing.T) {
	s := newStack(t)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := s.submitter.WaitForJobResult(ctx, "job-x", time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestWaitForJobResultReceivesBroadcast(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	done := make(chan struct{})
	var got domain.JobResult
	var err error
	go func() {
		defer close(done)
		got, err = s.submitter.WaitForJobResult(ctx, "job-7", 5*time.Second)
	}()

	// Keep broadcasting until the waiter has subscribed and picked one up.
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	timeout := time.After(5 * time.Second)
wait:
	for {
		_ = s.results.Broadcast(ctx, "job-7", domain.Succeeded("out-1", "image/png"))
		select {
		case <-done:
			break wait
		case <-timeout:
			t.Fatal("waiter never received a result")
		case <-ticker.C:
		}
	}

	if err != nil {
		t.Fatalf("WaitForJobResult: %v", err)
	}
	if got != domain.Succeeded("out-1", "image/png") {
		t.Fatalf("got %+v", got)
	}
}

func TestConvertRoundTrip(t *testing.T) {
	s := newStack(t)
	s.startWorkers(t, converterFunc(func(ctx context.Context, req domain.ConvertRequest) (domain.ConvertOutput, error) {
		if req.OutputFormat != "webp" || req.Quality != 80 || req.InputExtension != "png" {
			return domain.ConvertOutput{}, domain.NewConversionError("unexpected request", nil)
		}
		return domain.ConvertOutput{Data: append([]byte("webp:"), req.Input...), MimeType: "image/webp"}, nil
	}), "worker-a")

	out, err := s.submitter.Convert(context.Background(), ConvertInput{
		Data: []byte("pixels"), Extension: "png", OutputFormat: "webp", Quality: 80,
	}, 5*time.Second)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if string(out.Data) != "webp:pixels" || out.MimeType != "image/webp" {
		t.Fatalf("unexpected output %q %q", out.Data, out.MimeType)
	}

	// Input deleted by the worker, output deleted after fetching.
	keys, err := s.rdb.Keys(context.Background(), "blob:*").Result()
	if err != nil {
		t.Fatalf("KEYS: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("blobs left behind: %v", keys)
	}
}

func TestWorkerRecoversAfterDataLoss(t *testing.T) {
	s := newStack(t)
	s.startWorkers(t, converterFunc(func(ctx context.Context, req domain.ConvertRequest) (domain.ConvertOutput, error) {
		return domain.ConvertOutput{Data: append([]byte("png:"), req.Input...), MimeType: "image/png"}, nil
	}), "worker-a")

	// Give the worker time to join and start blocking on the stream.
	time.Sleep(50 * time.Millisecond)
	if err := s.rdb.FlushAll(context.Background()).Err(); err != nil {
		t.Fatalf("FLUSHALL: %v", err)
	}

	out, err := s.submitter.Convert(context.Background(), ConvertInput{
		Data: []byte("pixels"), Extension: "jpg", OutputFormat: "png",
	}, 5*time.Second)
	if err != nil {
		t.Fatalf("Convert after flush: %v", err)
	}
	if string(out.Data) != "png:pixels" {
		t.Fatalf("unexpected output %q", out.Data)
	}
}

func TestConvertReportsConversionFailure(t *testing.T) {
	s := newStack(t)
	s.startWorkers(t, converterFunc(func(ctx context.Context, req domain.ConvertRequest) (domain.ConvertOutput, error) {
		return domain.ConvertOutput{}, domain.NewConversionError("failed to decode input image", nil)
	}), "worker-a")

	_, err := s.submitter.Convert(context.Background(), ConvertInput{
		Data: []byte("not an image"), Extension: "png", OutputFormat: "jpg",
	}, 5*time.Second)

	if !errors.Is(err, domain.ErrConversionFailed) {
		t.Fatalf("expected a conversion failure, got %v", err)
	}
	var convErr *domain.ConversionError
	if !errors.As(err, &convErr) || convErr.Msg != "failed to decode input image" {
		t.Fatalf("unexpected error %#v", err)
	}

	keys, _ := s.rdb.Keys(context.Background(), "blob:*").Result()
	if len(keys) != 0 {
		t.Fatalf("blobs left behind: %v", keys)
	}
}

func TestConvertMissingInputFailsTheJob(t *testing.T) {
	s := newStack(t)
	s.startWorkers(t, converterFunc(func(ctx context.Context, req domain.ConvertRequest) (domain.ConvertOutput, error) {
		return domain.ConvertOutput{Data: req.Input, MimeType: "image/png"}, nil
	}), "worker-a")

	pending, err := s.submitter.Dispatch(context.Background(), ConversionJobData{InputFileID: "gone", OutputFormat: "png"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	result, err := pending.Wait(context.Background(), 5*time.Second)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if result.Success || !strings.Contains(result.Error, "not found") {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestEachJobProcessedOnceAcrossWorkers(t *testing.T) {
	s := newStack(t)

	var mu sync.Mutex
	calls := map[string]int{}
	s.startWorkers(t, converterFunc(func(ctx context.Context, req domain.ConvertRequest) (domain.ConvertOutput, error) {
		mu.Lock()
		calls[string(req.Input)]++
		mu.Unlock()
		return domain.ConvertOutput{Data: append([]byte("out:"), req.Input...), MimeType: "image/png"}, nil
	}), "worker-a", "worker-b", "worker-c")

	const jobs = 50
	var wg sync.WaitGroup
	errs := make(chan error, jobs)
	for i := 0; i < jobs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			input := fmt.Sprintf("input-%d", i)
			out, err := s.submitter.Convert(context.Background(), ConvertInput{
				Data: []byte(input), Extension: "png", OutputFormat: "png",
			}, 10*time.Second)
			if err != nil {
				errs <- fmt.Errorf("job %d: %w", i, err)
				return
			}
			if string(out.Data) != "out:"+input {
				errs <- fmt.Errorf("job %d got output %q", i, out.Data)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(calls) != jobs {
		t.Fatalf("%d distinct inputs converted, want %d", len(calls), jobs)
	}
	for input, n := range calls {
		if n != 1 {
			t.Errorf("%s converted %d times", input, n)
		}
	}

	// Acknowledgement follows publishing, so give the last acks a moment.
	deadline := time.Now().Add(2 * time.Second)
	for {
		pending, err := s.rdb.XPending(context.Background(), domain.StreamName, domain.GroupName).Result()
		if err != nil {
			t.Fatalf("XPENDING: %v", err)
		}
		if pending.Count == 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("%d entries still pending", pending.Count)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
