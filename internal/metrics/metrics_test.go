package metrics

import (
	"errors"
	"testing"
)

func TestResult(t *testing.T) {
	if got := Result(nil); got != "ok" {
		t.Fatalf("Result(nil) = %q", got)
	}
	if got := Result(errors.New("boom")); got != "error" {
		t.Fatalf("Result(err) = %q", got)
	}
}
