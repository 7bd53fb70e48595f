package async

import (
	"errors"
	"testing"
)

func TestFulfillThenInstallLater(t *testing.T) {
	p := New[int]()
	p.Fulfill(21)
	out := Then(p, func(v int) (int, error) { return v * 2, nil })

	var got int
	out.onSettle(func(v int) { got = v }, func(err error) { t.Fatalf("unexpected rejection: %v", err) })
	if got != 42 {
		t.Fatalf("got = %d, want 42", got)
	}
}

func TestThenInstallFirstThenFulfill(t *testing.T) {
	p := New[int]()
	out := Then(p, func(v int) (int, error) { return v * 2, nil })

	var got int
	out.onSettle(func(v int) { got = v }, func(err error) { t.Fatalf("unexpected rejection: %v", err) })

	p.Fulfill(21)
	if got != 42 {
		t.Fatalf("got = %d, want 42", got)
	}
}

func TestRejectSkipsThen(t *testing.T) {
	p := New[int]()
	boom := errors.New("boom")
	out := Then(p, func(v int) (int, error) {
		t.Fatal("transform should not run on rejection")
		return 0, nil
	})

	var gotErr error
	out.onSettle(func(v int) { t.Fatal("should not fulfill") }, func(err error) { gotErr = err })

	p.Reject(boom)
	if !errors.Is(gotErr, boom) {
		t.Fatalf("gotErr = %v, want %v", gotErr, boom)
	}
}

type customError struct{ msg string }

func (e *customError) Error() string { return e.msg }

func TestCatchMatchingCaseRecovers(t *testing.T) {
	p := New[string]()
	out := Catch[string](p, nil, Case[string](MatchAs[*customError](), func(err error) (string, error) {
		return "recovered", nil
	}))

	var got string
	out.onSettle(func(v string) { got = v }, func(err error) { t.Fatalf("unexpected rejection: %v", err) })

	p.Reject(&customError{msg: "oops"})
	if got != "recovered" {
		t.Fatalf("got = %q, want %q", got, "recovered")
	}
}

func TestCatchElseBranchPassesValueThrough(t *testing.T) {
	p := New[int]()
	out := Catch[int](p, func(v int) (int, error) { return v + 1, nil })

	var got int
	out.onSettle(func(v int) { got = v }, func(err error) { t.Fatalf("unexpected rejection: %v", err) })

	p.Fulfill(41)
	if got != 42 {
		t.Fatalf("got = %d, want 42", got)
	}
}

func TestCatchUnmatchedPropagates(t *testing.T) {
	p := New[int]()
	sentinel := errors.New("sentinel")
	out := Catch[int](p, nil, Case[int](MatchAs[*customError](), func(err error) (int, error) {
		t.Fatal("should not match")
		return 0, nil
	}))

	var gotErr error
	out.onSettle(func(v int) { t.Fatal("should not fulfill") }, func(err error) { gotErr = err })

	p.Reject(sentinel)
	if !errors.Is(gotErr, sentinel) {
		t.Fatalf("gotErr = %v, want %v", gotErr, sentinel)
	}
}

func TestFulfillTwicePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on double fulfill")
		}
	}()
	p := New[int]()
	p.Fulfill(1)
	p.Fulfill(2)
}

func TestThenPromiseChainsInnerPromise(t *testing.T) {
	p := New[string]()
	out := ThenPromise(p, func(name string) *Promise[string] {
		return Resolved("hello " + name)
	})

	var got string
	out.onSettle(func(v string) { got = v }, func(err error) { t.Fatalf("unexpected rejection: %v", err) })

	p.Fulfill("world")
	if got != "hello world" {
		t.Fatalf("got = %q, want %q", got, "hello world")
	}
}
