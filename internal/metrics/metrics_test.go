package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRegistryExposesRecordedObservations(t *testing.T) {
	r := NewRegistry()
	r.SetFlowsActive(3)
	r.IncFlowsTotal()
	r.IncFlowsTotal()
	r.AddBytesUp(100)
	r.AddBytesDown(250)
	r.IncDialFailure("timeout")
	r.IncDNSQuery("ok")

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.handler(rec, req)

	body := rec.Body.String()
	for _, want := range []string{
		"gateway_flows_active 3",
		"gateway_flows_total 2",
		"gateway_bytes_up_total 100",
		"gateway_bytes_down_total 250",
		`gateway_proxy_dial_failures_total{reason="timeout"} 1`,
		`gateway_dns_queries_total{result="ok"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected body to contain %q, got:\n%s", want, body)
		}
	}
}
