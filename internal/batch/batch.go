// Package batch runs a known-size set of operations concurrently and
// collects a per-item outcome for every one of them. A failing item never
// cancels its siblings; callers inspect the outcomes once all have finished.
package batch

import (
	"context"
	"errors"
	"fmt"

	"github.com/sourcegraph/conc/iter"
)

// Outcome is the result of one item of a batch.
type Outcome[R any] struct {
	Index int
	Value R
	Err   error
}

// Results holds one Outcome per input item, in input order.
type Results[R any] []Outcome[R]

// Error reports the failed items of a batch. First is the failure of the
// lowest-indexed item.
type Error struct {
	Total  int
	Failed []error
}

func (e *Error) Error() string {
	if len(e.Failed) == 1 {
		return e.Failed[0].Error()
	}
	return fmt.Sprintf("%d of %d failed; first: %v", len(e.Failed), e.Total, e.Failed[0])
}

// First returns the first failure.
func (e *Error) First() error { return e.Failed[0] }

// Unwrap exposes every failure to errors.Is and errors.As.
func (e *Error) Unwrap() []error { return e.Failed }

// Run calls fn for every item concurrently and waits for all of them.
// At most limit calls run at once; limit <= 0 means one goroutine per item.
func Run[T, R any](ctx context.Context, items []T, limit int, fn func(context.Context, T) (R, error)) Results[R] {
	if limit <= 0 {
		limit = len(items)
	}
	mapper := iter.Mapper[T, Outcome[R]]{MaxGoroutines: limit}
	out := mapper.Map(items, func(item *T) Outcome[R] {
		v, err := fn(ctx, *item)
		return Outcome[R]{Value: v, Err: err}
	})
	for i := range out {
		out[i].Index = i
	}
	return out
}

// Each is Run for operations without a result value.
func Each[T any](ctx context.Context, items []T, limit int, fn func(context.Context, T) error) Results[struct{}] {
	return Run(ctx, items, limit, func(ctx context.Context, item T) (struct{}, error) {
		return struct{}{}, fn(ctx, item)
	})
}

// Err returns nil when every item succeeded, otherwise an *Error holding
// the failures in item order.
func (r Results[R]) Err() error {
	var failed []error
	for _, o := range r {
		if o.Err != nil {
			failed = append(failed, o.Err)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return &Error{Total: len(r), Failed: failed}
}

// Succeeded returns the values of the items that did not fail.
func (r Results[R]) Succeeded() []R {
	var out []R
	for _, o := range r {
		if o.Err == nil {
			out = append(out, o.Value)
		}
	}
	return out
}

// FirstError returns the first failure of err if it is a batch error, and
// err itself otherwise.
func FirstError(err error) error {
	var be *Error
	if errors.As(err, &be) {
		return be.First()
	}
	return err
}
