// Package async implements the single-assignment asynchronous value that
// carries RPC results across the event loop: Promise[T].
//
// A Promise holds one slot, initially empty, plus at most one installed
// continuation. Fulfilling or rejecting it either runs the continuation
// immediately (if one is already installed) or stores the outcome for
// later. Installing a continuation after the outcome has already arrived
// runs it at once. Only one continuation may ever be attached; fulfilling
// or rejecting an already-settled promise is a programmer error and panics,
// matching "illegal" in the source contract.
//
// This is a from-scratch, single-shot primitive — not a relabeled
// sync.WaitGroup/channel — because the chaining contract (exactly one
// continuation, structural error propagation through Then, recovery only
// through Catch) does not fall out of any stdlib concurrency type for free.
// It is grounded on async::_promise_impl / async::exception_handler in the
// original smoljudge RPC layer (common/include/common/async.hpp), ported
// from C++ callback chaining to Go generics plus a mutex, since this
// framework runs one goroutine per connection rather than one OS thread
// total (see the concurrency note in SPEC_FULL.md §5).
package async

import (
	"errors"
	"fmt"
	"log"
	"runtime"
	"sync"
)

// OnUnhandledRejection is invoked when a rejected Promise is garbage
// collected without ever having had a continuation installed to observe
// the error. The default logs and exits the process, matching "an uncaught
// rejection reaching an empty continuation... terminates the process by
// design" (spec.md §4.2, §7). Tests should override this to capture the
// error instead of killing the test binary.
var OnUnhandledRejection = func(err error) {
	log.Fatalf("smolrpc/async: unhandled promise rejection: %v", err)
}

type settleKind int

const (
	settlePending settleKind = iota
	settleFulfilled
	settleRejected
)

// Promise is a single-assignment asynchronous value of type T.
type Promise[T any] struct {
	mu         sync.Mutex
	state      settleKind
	value      T
	err        error
	onFulfill  func(T)
	onReject   func(error)
	hasWatcher bool
}

// New returns a pending, unresolved Promise.
func New[T any]() *Promise[T] {
	p := &Promise[T]{}
	runtime.SetFinalizer(p, finalizeUnwatched[T])
	return p
}

func finalizeUnwatched[T any](p *Promise[T]) {
	p.mu.Lock()
	unwatchedRejection := p.state == settleRejected && !p.hasWatcher
	err := p.err
	p.mu.Unlock()
	if unwatchedRejection {
		OnUnhandledRejection(err)
	}
}

// Resolved returns a Promise already fulfilled with value.
func Resolved[T any](value T) *Promise[T] {
	p := New[T]()
	p.Fulfill(value)
	return p
}

// Rejected returns a Promise already rejected with err.
func Rejected[T any](err error) *Promise[T] {
	p := New[T]()
	p.Reject(err)
	return p
}

// Fulfill completes the promise successfully. It panics if the promise has
// already settled — fulfilling a resolved promise is a programmer error
// per spec.md §4.2.
func (p *Promise[T]) Fulfill(value T) {
	p.mu.Lock()
	if p.state != settlePending {
		p.mu.Unlock()
		panic("smolrpc/async: Promise fulfilled twice")
	}
	p.state = settleFulfilled
	p.value = value
	cb := p.onFulfill
	p.mu.Unlock()
	if cb != nil {
		cb(value)
	}
}

// Reject completes the promise with a failure.
func (p *Promise[T]) Reject(err error) {
	if err == nil {
		err = errors.New("smolrpc/async: Reject called with nil error")
	}
	p.mu.Lock()
	if p.state != settlePending {
		p.mu.Unlock()
		panic("smolrpc/async: Promise rejected twice")
	}
	p.state = settleRejected
	p.err = err
	cb := p.onReject
	p.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

// onSettle installs the sole continuation. It panics if one is already
// installed (spec.md: "only one continuation may be attached per
// promise"). If the promise has already settled, the relevant callback
// runs synchronously before onSettle returns.
func (p *Promise[T]) onSettle(onFulfill func(T), onReject func(error)) {
	p.mu.Lock()
	if p.onFulfill != nil || p.onReject != nil {
		p.mu.Unlock()
		panic("smolrpc/async: Promise already has a continuation installed")
	}
	p.hasWatcher = true
	p.onFulfill = onFulfill
	p.onReject = onReject
	state, value, err := p.state, p.value, p.err
	p.mu.Unlock()

	switch state {
	case settleFulfilled:
		onFulfill(value)
	case settleRejected:
		onReject(err)
	case settlePending:
		// continuation stored, will fire from Fulfill/Reject
	}
}

// Then runs transform when p fulfills and fulfills the returned promise
// with its result; an error returned by transform rejects the returned
// promise. Rejection of p propagates unchanged past Then, bypassing
// transform entirely — callers that need to observe it attach Catch
// instead.
func Then[T, R any](p *Promise[T], transform func(T) (R, error)) *Promise[R] {
	out := New[R]()
	p.onSettle(func(v T) {
		result, err := transform(v)
		if err != nil {
			out.Reject(err)
		} else {
			out.Fulfill(result)
		}
	}, func(err error) {
		out.Reject(err)
	})
	return out
}

// ThenPromise is Then for transforms that themselves return a Promise[R]
// (e.g. invoking a peer method from inside a handler) — the outer promise
// settles when the inner one does, matching spec.md's "if its return type
// is itself a promise, the outer promise is resolved when that inner
// promise resolves".
func ThenPromise[T, R any](p *Promise[T], transform func(T) *Promise[R]) *Promise[R] {
	out := New[R]()
	p.onSettle(func(v T) {
		inner := transform(v)
		inner.onSettle(func(r R) {
			out.Fulfill(r)
		}, func(err error) {
			out.Reject(err)
		})
	}, func(err error) {
		out.Reject(err)
	})
	return out
}

// CatchCase is one structural match-and-recover arm of a Catch chain,
// identified by a predicate over the error (typically errors.As against a
// concrete error type, or errors.Is against a sentinel).
type CatchCase[T any] struct {
	matches func(error) bool
	recover func(error) (T, error)
}

// Case builds a CatchCase: when matches(err) is true, recover runs and its
// result (or error, to keep propagating) becomes the outcome.
func Case[T any](matches func(error) bool, recover func(error) (T, error)) CatchCase[T] {
	return CatchCase[T]{matches: matches, recover: recover}
}

// Catch attaches a chain of structural error handlers plus an optional
// success-channel transform (elseFn). On rejection, cases are tried in
// order; the first whose matches predicate returns true recovers the
// value. An unmatched rejection propagates to the returned promise
// unchanged. On fulfillment, elseFn runs if non-nil (identity otherwise) —
// spec.md: "An optional else-branch runs on successful values."
func Catch[T any](p *Promise[T], elseFn func(T) (T, error), cases ...CatchCase[T]) *Promise[T] {
	out := New[T]()
	p.onSettle(func(v T) {
		if elseFn == nil {
			out.Fulfill(v)
			return
		}
		result, err := elseFn(v)
		if err != nil {
			out.Reject(err)
			return
		}
		out.Fulfill(result)
	}, func(err error) {
		for _, c := range cases {
			if c.matches(err) {
				result, rerr := c.recover(err)
				if rerr != nil {
					out.Reject(rerr)
				} else {
					out.Fulfill(result)
				}
				return
			}
		}
		out.Reject(err)
	})
	return out
}

// CatchAll is a convenience over Catch for the common case of a single
// catch-all recovery with no structural matching and no else-branch.
func CatchAll[T any](p *Promise[T], recover func(error) T) *Promise[T] {
	return Catch[T](p, nil, Case[T](func(error) bool { return true }, func(err error) (T, error) {
		return recover(err), nil
	}))
}

// MatchAs builds a matches predicate for CatchCase using errors.As against
// a concrete error type E.
func MatchAs[E error]() func(error) bool {
	return func(err error) bool {
		var target E
		return errors.As(err, &target)
	}
}

// Subscribe installs p's sole continuation from outside the package — the
// escape hatch a dispatcher needs to react to settlement (e.g. writing a
// reply or error frame) without transforming the value the way Then/Catch
// do. Same one-continuation-per-promise rule as onSettle: calling this
// twice on the same promise panics.
func Subscribe[T any](p *Promise[T], onFulfill func(T), onReject func(error)) {
	p.onSettle(onFulfill, onReject)
}

// Await blocks the calling goroutine until p settles and returns its
// outcome directly, for the synchronous boundaries (tests, CLI commands,
// the top of a cmd/ main) that need to leave the promise world and return
// a plain value. Production request-handling code should prefer Then/Catch
// chaining instead of blocking a goroutine per pending call.
func Await[T any](p *Promise[T]) (T, error) {
	ch := make(chan struct{})
	var val T
	var err error
	p.onSettle(func(v T) {
		val = v
		close(ch)
	}, func(e error) {
		err = e
		close(ch)
	})
	<-ch
	return val, err
}

// Join wraps err with a prefix (errors.Is/As still see err), for
// diagnostics only — the wire protocol never carries more than one error
// string per spec.md §3.
func Join(prefix string, err error) error {
	return fmt.Errorf("%s: %w", prefix, err)
}
