package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandler_ExposesCounters(t *testing.T) {
	m := New()
	m.SessionsCreated.Inc()
	m.SessionsCreated.Inc()
	m.WSConnections.WithLabelValues(RoleMobile).Inc()

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics/prometheus", nil))

	body := rr.Body.String()
	if !strings.Contains(body, "wallet_relay_sessions_created_total 2") {
		t.Fatalf("missing sessions_created counter:\n%s", body)
	}
	if !strings.Contains(body, `wallet_relay_ws_connections_total{role="mobile"} 1`) {
		t.Fatalf("missing ws_connections counter:\n%s", body)
	}
}

func TestNew_RegistriesAreIndependent(t *testing.T) {
	// Two instances must not panic on duplicate registration.
	_ = New()
	_ = New()
}
