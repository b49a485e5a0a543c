package resilience

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Strategy is one way of producing O from I. A chain of strategies is tried
// in order until one succeeds or one fails fatally.
type Strategy[I, O any] interface {
	Name() string
	Try(ctx context.Context, in I) (O, error)
}

type funcStrategy[I, O any] struct {
	name string
	fn   func(ctx context.Context, in I) (O, error)
}

func (s funcStrategy[I, O]) Name() string { return s.name }

func (s funcStrategy[I, O]) Try(ctx context.Context, in I) (O, error) { return s.fn(ctx, in) }

// StrategyFunc adapts a function to a named Strategy.
func StrategyFunc[I, O any](name string, fn func(ctx context.Context, in I) (O, error)) Strategy[I, O] {
	return funcStrategy[I, O]{name: name, fn: fn}
}

type fatalError struct{ err error }

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

type retryableError struct{ err error }

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// Fatal marks err as ending the chain: later strategies are not tried.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// Retryable marks err as "try the next strategy". Unmarked errors behave
// the same way; the marker documents intent at the call site.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// IsFatal reports whether err was marked with Fatal.
func IsFatal(err error) bool {
	var fe *fatalError
	return errors.As(err, &fe)
}

// IsRetryable reports whether err was marked with Retryable.
func IsRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// ExhaustedError is returned when every strategy failed without a fatal error.
type ExhaustedError struct {
	Last error
}

func (e *ExhaustedError) Error() string {
	if e.Last == nil {
		return "fallback: no strategy available"
	}
	return "fallback: all strategies failed: " + e.Last.Error()
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// IsExhausted reports whether err came from a chain that ran out of strategies.
func IsExhausted(err error) bool {
	var ee *ExhaustedError
	return errors.As(err, &ee)
}

// FirstSuccess tries each strategy in order and returns the first success
// along with the name of the strategy that produced it.
func FirstSuccess[I, O any](ctx context.Context, in I, strategies ...Strategy[I, O]) (O, string, error) {
	var zero O
	var last error
	for _, s := range strategies {
		if err := ctx.Err(); err != nil {
			return zero, "", err
		}
		out, err := s.Try(ctx, in)
		if err == nil {
			return out, s.Name(), nil
		}
		if IsFatal(err) {
			return zero, s.Name(), err
		}
		zap.L().Debug("fallback: strategy failed, trying next",
			zap.String("strategy", s.Name()),
			zap.Error(err),
		)
		last = err
	}
	return zero, "", &ExhaustedError{Last: last}
}
