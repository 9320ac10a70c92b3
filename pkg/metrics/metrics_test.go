package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fleetware/otaagent/pkg/agent"
	"github.com/fleetware/otaagent/pkg/ota"
)

func TestExporterRegistersAgentMetrics(t *testing.T) {
	a := agent.New(agent.Config{DeviceID: "device-1"}, agent.Collaborators{}, agent.Callbacks{})
	e := NewExporter(a)

	families, err := e.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	want := map[string]bool{
		"otaagent_packets_received_total":  false,
		"otaagent_packets_queued_total":    false,
		"otaagent_packets_processed_total": false,
		"otaagent_packets_dropped_total":   false,
		"otaagent_controller_state":        false,
		"otaagent_image_state":             false,
	}
	for _, mf := range families {
		if _, ok := want[mf.GetName()]; ok {
			want[mf.GetName()] = true
		}
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("metric %s not registered", name)
		}
	}
}

func TestHandlerServesControllerState(t *testing.T) {
	a := agent.New(agent.Config{DeviceID: "device-1"}, agent.Collaborators{}, agent.Callbacks{})
	e := NewExporter(a)

	rec := httptest.NewRecorder()
	e.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != 200 {
		t.Fatalf("scrape returned %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "otaagent_controller_state") {
		t.Error("scrape output missing controller state")
	}
	if a.State() != ota.StateInit {
		t.Errorf("constructed agent state = %s, want init", a.State())
	}
}
