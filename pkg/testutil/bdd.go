package testutil

import (
	"strings"
	"testing"
)

// step is the keyword a scenario subtest is named after.
type step string

const (
	given step = "Given"
	when  step = "When"
	then  step = "Then"
	and   step = "And"
)

// run nests fn under t as "<keyword> <desc>". Steps after a failed sibling
// are not run, so the report ends at the first broken step.
func (k step) run(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	name := string(k) + " " + strings.TrimSpace(desc)
	if t.Failed() {
		t.Logf("not running %q: an earlier step failed", name)
		return
	}
	t.Run(name, fn)
}

// Given, When, Then and And name subtests after scenario steps, so resolver
// and workflow tests read like the rules they check.
func Given(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	given.run(t, desc, fn)
}

func When(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	when.run(t, desc, fn)
}

func Then(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	then.run(t, desc, fn)
}

func And(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	and.run(t, desc, fn)
}
