// ABOUTME: Package test entry point
// ABOUTME: Fails the run if any send, drain or subscriber goroutine outlives its test

package conversation

import (
	"testing"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	// opencensus, pulled in by the genai client, starts a stats worker in init.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}
