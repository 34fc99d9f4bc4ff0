package convert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dontdude/imgconv/internal/domain"
)

// DefaultTimeout is the hard wall-clock limit of one conversion.
const DefaultTimeout = 30 * time.Second

type timed struct {
	next    domain.Converter
	timeout time.Duration
}

// WithTimeout bounds every call to next by timeout and turns any failure into a
// *domain.ConversionError. An executor that ignores its context is abandoned
// once the deadline passes; its result is discarded.
func WithTimeout(next domain.Converter, timeout time.Duration) domain.Converter {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &timed{next: next, timeout: timeout}
}

type outcome struct {
	out domain.ConvertOutput
	err error
}

func (t *timed) Convert(ctx context.Context, req domain.ConvertRequest) (domain.ConvertOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		out, err := t.next.Convert(ctx, req)
		done <- outcome{out: out, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				return domain.ConvertOutput{}, t.timeoutError()
			}
			return domain.ConvertOutput{}, asConversionError(res.err)
		}
		return res.out, nil
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return domain.ConvertOutput{}, t.timeoutError()
		}
		return domain.ConvertOutput{}, domain.NewConversionError("conversion canceled", ctx.Err())
	}
}

func (t *timed) timeoutError() error {
	return domain.NewConversionError(fmt.Sprintf("conversion exceeded %s", t.timeout), context.DeadlineExceeded)
}

func asConversionError(err error) error {
	var convErr *domain.ConversionError
	if errors.As(err, &convErr) {
		return err
	}
	return domain.NewConversionError("conversion failed", err)
}
