package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"wa_guard/internal/models"
	"wa_guard/internal/monitor"
)

// HeartbeatProbe reports process liveness.
type HeartbeatProbe interface {
	IsAlive() bool
	MissedBeats() int
	LastBeat() time.Time
}

// ScannerSource returns the live scanner instance.
type ScannerSource interface {
	Current() *monitor.Scanner
}

// RefreshFailureCounter counts failed blacklist refreshes.
type RefreshFailureCounter interface {
	RefreshFailures() uint64
}

// ConnectionProbe reports whether the bot account is online.
type ConnectionProbe interface {
	IsReady() bool
}

// DatabaseProbe pings the main database.
type DatabaseProbe interface {
	Ping(ctx context.Context) error
}

// StateLister reads the persisted actor rows.
type StateLister interface {
	List(ctx context.Context) ([]models.ActorState, error)
}

type StatusHandler struct {
	heartbeat HeartbeatProbe
	scanners  ScannerSource
	refreshes RefreshFailureCounter
	whatsapp  ConnectionProbe
	states    StateLister
	database  DatabaseProbe
	log       *zap.Logger
}

func NewStatusHandler(heartbeat HeartbeatProbe, scanners ScannerSource, refreshes RefreshFailureCounter, whatsapp ConnectionProbe, states StateLister, log *zap.Logger) *StatusHandler {
	return &StatusHandler{
		heartbeat: heartbeat,
		scanners:  scanners,
		refreshes: refreshes,
		whatsapp:  whatsapp,
		states:    states,
		log:       log,
	}
}

// WithDatabase adds a database reachability field to the health report.
func (h *StatusHandler) WithDatabase(db DatabaseProbe) *StatusHandler {
	h.database = db
	return h
}

type heartbeatStatus struct {
	Alive       bool      `json:"alive"`
	MissedBeats int       `json:"missed_beats"`
	LastBeat    time.Time `json:"last_beat"`
}

type scannerStatus struct {
	Present           bool      `json:"present"`
	Running           bool      `json:"running"`
	Healthy           bool      `json:"healthy"`
	LastTickAt        time.Time `json:"last_tick_at"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	RestartCount      int       `json:"restart_count"`
}

type healthResponse struct {
	Status                   string          `json:"status"`
	Heartbeat                heartbeatStatus `json:"heartbeat"`
	Scanner                  scannerStatus   `json:"scanner"`
	BlacklistRefreshFailures uint64          `json:"blacklist_refresh_failures"`
	WhatsAppReady            bool            `json:"whatsapp_ready"`
	DatabaseOK               *bool           `json:"database_ok,omitempty"`
	Timestamp                string          `json:"timestamp"`
}

// Health handles GET /api/health. It answers 503 unless the heartbeat is
// alive and the scanner is healthy.
func (h *StatusHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Heartbeat: heartbeatStatus{
			Alive:       h.heartbeat.IsAlive(),
			MissedBeats: h.heartbeat.MissedBeats(),
			LastBeat:    h.heartbeat.LastBeat(),
		},
		Timestamp: time.Now().Format(time.RFC3339),
	}
	if sc := h.scanners.Current(); sc != nil {
		resp.Scanner = scannerStatus{
			Present:           true,
			Running:           sc.IsRunning(),
			Healthy:           sc.IsHealthy(),
			LastTickAt:        sc.LastTickAt(),
			ConsecutiveErrors: sc.ConsecutiveErrors(),
			RestartCount:      sc.RestartCount(),
		}
	}
	if h.refreshes != nil {
		resp.BlacklistRefreshFailures = h.refreshes.RefreshFailures()
	}
	if h.whatsapp != nil {
		resp.WhatsAppReady = h.whatsapp.IsReady()
	}
	if h.database != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		ok := h.database.Ping(ctx) == nil
		cancel()
		resp.DatabaseOK = &ok
	}

	status := http.StatusOK
	resp.Status = "ok"
	if !resp.Heartbeat.Alive || !resp.Scanner.Healthy {
		status = http.StatusServiceUnavailable
		resp.Status = "degraded"
	}
	writeJSON(w, status, resp)
}

// SupervisorState handles GET /api/supervisor/state.
func (h *StatusHandler) SupervisorState(w http.ResponseWriter, r *http.Request) {
	states, err := h.states.List(r.Context())
	if err != nil {
		h.log.Error("failed to list actor state", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load actor state")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"actors": states})
}
