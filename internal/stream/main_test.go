package stream

import (
	"testing"

	"go.uber.org/goleak"
)

// Accumulators and monitors own timers and goroutines; every test must leave
// none behind.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
