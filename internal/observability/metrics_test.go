package observability

import (
	"testing"
	"time"

	"github.com/danmuck/udpkv/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	before := testutil.ToFloat64(datagramsDropped.WithLabelValues("bad_magic"))
	RecordDatagram(ResultDropped)
	RecordDrop("bad_magic")
	RecordDispatch("echo", 300*time.Nanosecond, true)
	RecordHTTPRequest("kvd", "/health", OpNone, 200, 2*time.Millisecond)

	if got := testutil.ToFloat64(datagramsDropped.WithLabelValues("bad_magic")); got != before+1 {
		t.Fatalf("drop counter: got=%v want=%v", got, before+1)
	}
}
