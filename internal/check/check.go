// Package check evaluates named assertions against RPC responses. A failed
// assertion is recorded, never raised.
package check

import (
	"errors"
	"fmt"
)

// Outcome of one assertion.
type Outcome int

const (
	Passed Outcome = iota
	Failed
	Skipped
)

func (o Outcome) String() string {
	switch o {
	case Passed:
		return "pass"
	case Failed:
		return "fail"
	case Skipped:
		return "skip"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// ErrNoResponse is the failure reason when there is nothing to assert on.
var ErrNoResponse = errors.New("no response")

// Check is a named assertion on a response of type T. Assert returns nil
// when the assertion holds. Requires names an earlier check in the same
// Evaluate call that must pass for this one to run.
type Check[T any] struct {
	Name     string
	Requires string
	Assert   func(*T) error
}

// Result is the recorded outcome of one check.
type Result struct {
	Name    string
	Outcome Outcome
	Err     error
}

func (r Result) Passed() bool { return r.Outcome == Passed }

// Evaluate runs checks in order against resp. With a nil resp independent
// checks fail with ErrNoResponse. A check whose requirement did not pass,
// or names an unknown check, is skipped.
func Evaluate[T any](resp *T, checks ...Check[T]) []Result {
	results := make([]Result, 0, len(checks))
	seen := make(map[string]Outcome, len(checks))

	for _, c := range checks {
		r := Result{Name: c.Name}
		switch {
		case c.Requires != "" && !passed(seen, c.Requires):
			r.Outcome = Skipped
		case resp == nil:
			r.Outcome, r.Err = Failed, ErrNoResponse
		default:
			if err := c.Assert(resp); err != nil {
				r.Outcome, r.Err = Failed, err
			} else {
				r.Outcome = Passed
			}
		}
		seen[c.Name] = r.Outcome
		results = append(results, r)
	}
	return results
}

func passed(seen map[string]Outcome, name string) bool {
	o, ok := seen[name]
	return ok && o == Passed
}

// AllPassed reports whether every result passed.
func AllPassed(results []Result) bool {
	for _, r := range results {
		if !r.Passed() {
			return false
		}
	}
	return true
}
