package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveSync(t *testing.T) {
	before := testutil.ToFloat64(SyncRuns.WithLabelValues("completed"))
	ObserveSync("completed", 2*time.Second)
	if got := testutil.ToFloat64(SyncRuns.WithLabelValues("completed")); got != before+1 {
		t.Errorf("completed runs: got %v, want %v", got, before+1)
	}
}
