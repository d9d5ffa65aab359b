// Package outcome is the tagged result type shared by the provider clients, the
// location resolver, and the page orchestrator.
package outcome

import (
	"errors"
	"fmt"
)

// Kind tags the result of a provider call.
type Kind int

const (
	KindSuccess Kind = iota
	KindNotFound
	KindFailure
)

func (o Kind) String() string {
	switch o {
	case KindSuccess:
		return "success"
	case KindNotFound:
		return "not_found"
	case KindFailure:
		return "failure"
	default:
		return "unknown"
	}
}

var (
	// ErrCapabilityUnavailable is returned when a location capability (device geolocation) is missing.
	ErrCapabilityUnavailable = errors.New("capability unavailable")
	// ErrProviderUnavailable covers transport failures and timeouts.
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrNotFound means the provider answered but had no usable data.
	ErrNotFound = errors.New("not found")
	// ErrUpstream is a non-2xx answer from an upstream API.
	ErrUpstream = errors.New("upstream error")
)

// ErrNoMatch is the location-search flavour of ErrNotFound.
var ErrNoMatch = ErrNotFound

// Result is the outcome of a provider call. Clients never return a bare error for
// "no data"; they return a Result tagged NotFound instead.
type Result[T any] struct {
	Value T
	Kind  Kind
	Err   error
}

// Found wraps a successful value.
func Found[T any](v T) Result[T] {
	return Result[T]{Value: v, Kind: KindSuccess}
}

// NotFound builds a "valid response, nothing usable" result.
func NotFound[T any](reason string) Result[T] {
	return Result[T]{Kind: KindNotFound, Err: fmt.Errorf("%w: %s", ErrNotFound, reason)}
}

// Failed builds a failure result. Errors that already wrap ErrNotFound are tagged NotFound.
func Failed[T any](err error) Result[T] {
	if errors.Is(err, ErrNotFound) {
		return Result[T]{Kind: KindNotFound, Err: err}
	}
	return Result[T]{Kind: KindFailure, Err: err}
}

// OK reports whether the call produced a value.
func (r Result[T]) OK() bool {
	return r.Kind == KindSuccess
}

// OrElse runs next when r did not succeed and returns its result.
func OrElse[T any](r Result[T], next func() Result[T]) Result[T] {
	if r.OK() {
		return r
	}
	return next()
}

// Map transforms a successful value, leaving other outcomes untouched.
func Map[T, U any](r Result[T], fn func(T) U) Result[U] {
	if !r.OK() {
		return Result[U]{Kind: r.Kind, Err: r.Err}
	}
	return Found(fn(r.Value))
}

// FirstOf tries each step in order and returns the first success. When every step
// fails the last result is returned.
func FirstOf[T any](steps ...func() Result[T]) Result[T] {
	last := NotFound[T]("no candidates")
	for _, step := range steps {
		last = step()
		if last.OK() {
			return last
		}
	}
	return last
}
