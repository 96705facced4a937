package ops

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"broker_go/internal/detector"
	"broker_go/internal/domain"
	"broker_go/internal/notify"
	"broker_go/internal/tracker"
)

// Handler exposes the read-only health snapshot and the two
// administrative actions. Both admin actions are idempotent and always
// succeed.
type Handler struct {
	dispatcher *notify.Dispatcher
	detector   *detector.ChangeDetector
	tracker    *tracker.Tracker
}

// NewHandler wires the operational surface over the live components.
func NewHandler(d *notify.Dispatcher, cd *detector.ChangeDetector, t *tracker.Tracker) *Handler {
	return &Handler{dispatcher: d, detector: cd, tracker: t}
}

// Register mounts the operational routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/v1/engine/health", h.handleHealth)
	mux.HandleFunc("/v1/engine/breaker/reset", h.handleResetBreaker)
	mux.HandleFunc("/v1/engine/queue/clear", h.handleClearQueue)
}

// healthResponse is the full operational snapshot.
type healthResponse struct {
	MonitoringActive bool                              `json:"monitoring_active"`
	Subscribers      int                               `json:"subscribers"`
	Dispatcher       notify.Health                     `json:"dispatcher"`
	Discovered       map[string]domain.DiscoveredPrice `json:"discovered"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, healthResponse{
		MonitoringActive: h.detector.Active(),
		Subscribers:      h.detector.Subscribers(),
		Dispatcher:       h.dispatcher.GetHealth(),
		Discovered:       h.tracker.Discovered(),
	})
}

func (h *Handler) handleResetBreaker(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.dispatcher.ResetBreaker()
	writeJSON(w, map[string]string{"status": "ok"})
}

func (h *Handler) handleClearQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.dispatcher.ClearQueue()
	writeJSON(w, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to write ops response", slog.Any("error", err))
	}
}
