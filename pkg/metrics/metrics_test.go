package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestAdmissionDecisionCounters(t *testing.T) {
	// Use a test label to avoid colliding with other tests
	lbl := "test-category"

	AdmissionDecisions.WithLabelValues(lbl, "deny", "RATE_LIMITED").Inc()
	if v := testutil.ToFloat64(AdmissionDecisions.WithLabelValues(lbl, "deny", "RATE_LIMITED")); v < 1 {
		t.Fatalf("expected AdmissionDecisions >= 1, got %v", v)
	}

	AdmissionInternalErrors.WithLabelValues(lbl, "redis").Add(2)
	if v := testutil.ToFloat64(AdmissionInternalErrors.WithLabelValues(lbl, "redis")); v < 2 {
		t.Fatalf("expected AdmissionInternalErrors >= 2, got %v", v)
	}

	WindowStoreIdentities.WithLabelValues("memory").Set(7)
	if v := testutil.ToFloat64(WindowStoreIdentities.WithLabelValues("memory")); v != 7 {
		t.Fatalf("expected WindowStoreIdentities == 7, got %v", v)
	}
}

func TestAuditDroppedLabelCardinality(t *testing.T) {
	AuditEventsDropped.Reset()
	defer AuditEventsDropped.Reset()
	labels := []string{"kafka", "queue_full"}
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("AuditEventsDropped panicked with labels %v: %v", labels, r)
		}
	}()

	AuditEventsDropped.WithLabelValues(labels...).Inc()
	if v := testutil.ToFloat64(AuditEventsDropped.WithLabelValues(labels...)); v != 1 {
		t.Fatalf("expected metric value 1 after increment, got %v", v)
	}
}

func TestMetricsHandlerExposesCollectors(t *testing.T) {
	FloodGuardRejected.Inc()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	MetricsHandler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "admission_flood_guard_rejected_total") {
		t.Fatalf("expected flood guard counter in exposition output")
	}
}
