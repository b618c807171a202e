package testutil

import "testing"

// Given opens a scenario step. Steps nest as subtests, so a failing Then
// names the whole path in the test output.
func Given(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	step(t, "Given", desc, fn)
}

func When(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	step(t, "When", desc, fn)
}

func Then(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	step(t, "Then", desc, fn)
}

func step(t *testing.T, keyword, desc string, fn func(t *testing.T)) {
	t.Helper()
	t.Run(keyword+" "+desc, fn)
}
