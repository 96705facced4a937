package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"broker_go/internal/detector"
	"broker_go/internal/domain"
	"broker_go/internal/notify"
	"broker_go/internal/tracker"
)

type staticSource struct {
	orders []domain.RestingOrder
}

func (s *staticSource) ListRestingOrders(ctx context.Context, instrumentID string) ([]domain.RestingOrder, error) {
	return s.orders, nil
}

type dropNotifier struct{}

func (dropNotifier) Send(ctx context.Context, accountID, title, body string, data map[string]string) error {
	return nil
}

func newTestServer(t *testing.T) (*httptest.Server, *notify.Dispatcher, *tracker.Tracker) {
	t.Helper()

	disp := notify.NewDispatcher(dropNotifier{}, notify.DefaultOptions())
	trk := tracker.New(disp, nil)
	det := detector.New(&staticSource{}, nil, detector.DefaultConfig(), trk.OnCycle)

	mux := http.NewServeMux()
	NewHandler(disp, det, trk).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, disp, trk
}

func getJSON(t *testing.T, url string, out interface{}) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("Bad JSON from %s: %v", url, err)
		}
	}
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	srv, disp, trk := newTestServer(t)

	disp.Enqueue(notify.Job{
		AccountID:    "alice",
		InstrumentID: "ACME",
		Price:        decimal.RequireFromString("99.50"),
	})
	trk.OnCycle(detector.CycleResult{Orders: []domain.RestingOrder{
		{ID: "B1", AccountID: "bob", InstrumentID: "ACME", Side: domain.SideBuy,
			Price: decimal.RequireFromString("100.00"), BuyVolume: 100},
		{ID: "S1", AccountID: "carol", InstrumentID: "ACME", Side: domain.SideSell,
			Price: decimal.RequireFromString("99.50"), SellVolume: 50},
	}})

	var health struct {
		MonitoringActive bool          `json:"monitoring_active"`
		Subscribers      int           `json:"subscribers"`
		Dispatcher       notify.Health `json:"dispatcher"`
		Discovered       map[string]struct {
			Price string `json:"price"`
		} `json:"discovered"`
	}
	resp := getJSON(t, srv.URL+"/v1/engine/health", &health)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %s", ct)
	}
	if health.MonitoringActive {
		t.Error("detector was never started, monitoring_active must be false")
	}
	if health.Dispatcher.QueueLength == 0 {
		t.Error("expected the queued job to show up in dispatcher health")
	}
	if health.Dispatcher.BreakerState != "CLOSED" {
		t.Errorf("breaker state = %s, want CLOSED", health.Dispatcher.BreakerState)
	}
	if _, ok := health.Discovered["ACME"]; !ok {
		t.Errorf("expected ACME in the discovered map, got %v", health.Discovered)
	}
}

func TestHealthEndpoint_RejectsPost(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/v1/engine/health", "application/json", nil)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

func TestBreakerResetEndpoint(t *testing.T) {
	srv, disp, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/v1/engine/breaker/reset", "application/json", nil)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if state := disp.GetHealth().BreakerState; state != "CLOSED" {
		t.Errorf("breaker state after reset = %s", state)
	}

	// GET is not a valid admin verb.
	getResp := getJSON(t, srv.URL+"/v1/engine/breaker/reset", nil)
	if getResp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d, want 405", getResp.StatusCode)
	}
}

func TestQueueClearEndpoint(t *testing.T) {
	srv, disp, _ := newTestServer(t)

	disp.Enqueue(notify.Job{
		AccountID:    "alice",
		InstrumentID: "ACME",
		Price:        decimal.RequireFromString("99.50"),
	})
	if disp.GetHealth().QueueLength != 1 {
		t.Fatal("expected one queued job")
	}

	for i := 0; i < 2; i++ { // idempotent
		resp, err := http.Post(srv.URL+"/v1/engine/queue/clear", "application/json", nil)
		if err != nil {
			t.Fatalf("POST failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("status = %d, want 200", resp.StatusCode)
		}
	}
	if got := disp.GetHealth().QueueLength; got != 0 {
		t.Errorf("queue length after clear = %d", got)
	}
}
