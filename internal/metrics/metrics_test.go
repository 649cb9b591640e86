package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestResult(t *testing.T) {
	if Result(nil) != "ok" {
		t.Error("nil should be ok")
	}
	if Result(errors.New("x")) != "error" {
		t.Error("non-nil should be error")
	}
}

func TestObserveRasterOp(t *testing.T) {
	before := testutil.CollectAndCount(RasterOpDuration)
	ObserveRasterOp("metrics-test-op", 20*time.Millisecond, nil)
	if after := testutil.CollectAndCount(RasterOpDuration); after != before+1 {
		t.Errorf("series count = %d, want %d", after, before+1)
	}
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(DownloadsTotal.WithLabelValues("ok"))
	DownloadsTotal.WithLabelValues("ok").Inc()
	if got := testutil.ToFloat64(DownloadsTotal.WithLabelValues("ok")); got != before+1 {
		t.Errorf("downloads ok = %g, want %g", got, before+1)
	}
}
