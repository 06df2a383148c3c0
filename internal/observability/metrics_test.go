package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("GET", "/health", 200, 12*time.Millisecond)
	RecordRequest("carriage", "WRITE", "ok", 24*time.Millisecond)
	RecordPush("carriage", "MSG")
	TrackConnection("carriage", 1)
	TrackConnection("carriage", -1)
	RecordReconnect("disconnected")
	RecordUploadBytes("photo", 4096)
	RecordUpload("photo", true)
	RecordRoomEvent("processed")
}

func TestRecordPushIncrementsCounter(t *testing.T) {
	before := testutil.ToFloat64(wirePushes.WithLabelValues("trailer", "COMPLETE"))
	RecordPush("trailer", "COMPLETE")
	RecordPush("trailer", "COMPLETE")
	after := testutil.ToFloat64(wirePushes.WithLabelValues("trailer", "COMPLETE"))
	if after-before != 2 {
		t.Fatalf("expected 2 pushes recorded, got %v", after-before)
	}
}
