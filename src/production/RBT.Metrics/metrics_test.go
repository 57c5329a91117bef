package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestHelpersRecordAfterInit(t *testing.T) {
	Init(nil)
	// a second call must not panic on duplicate registration
	Init(nil)

	before := testutil.ToFloat64(ingestDropped.WithLabelValues(DropQueueFull))
	IncIngestDropped(DropQueueFull)
	require.Equal(t, before+1, testutil.ToFloat64(ingestDropped.WithLabelValues(DropQueueFull)))

	IncUplinkReceived("")
	require.Equal(t, float64(1), testutil.ToFloat64(uplinksReceived.WithLabelValues("unknown")))

	ObserveDownlink("multicast", "start", "", time.Millisecond)
	require.Equal(t, float64(1), testutil.ToFloat64(downlinkRequests.WithLabelValues("multicast", "start", ResultSuccess)))

	SetScheduledPending(3)
	require.Equal(t, float64(3), testutil.ToFloat64(scheduledPending))
}
