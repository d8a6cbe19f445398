package handlers

import (
	"net"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"wa_guard/internal/metrics"
)

// WhatsAppEndpoints serves pairing and connection state.
type WhatsAppEndpoints interface {
	HandleQR(w http.ResponseWriter, r *http.Request)
	HandleStatus(w http.ResponseWriter, r *http.Request)
	HandleRefreshQR(w http.ResponseWriter, r *http.Request)
}

// RouterDeps are the handlers mounted on the router.
type RouterDeps struct {
	Auth      TokenValidator
	Status    *StatusHandler
	Blacklist *BlacklistHandler
	Groups    *GroupHandler
	Audit     *AuditHandler
	WhatsApp  WhatsAppEndpoints

	RatePerSecond int
	RateBurst     int
	// TrustedProxies may set X-Forwarded-For for rate limiting.
	TrustedProxies []*net.IPNet
	Logger         *zap.Logger
}

// NewRouter wires every endpoint. Health and metrics are public; everything
// else requires a bearer token.
func NewRouter(d RouterDeps) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/health", d.Status.Health).Methods("GET")
	r.Handle("/metrics", metrics.Handler()).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.Use(requireAuth(d.Auth))

	api.HandleFunc("/supervisor/state", d.Status.SupervisorState).Methods("GET")
	api.HandleFunc("/audit", d.Audit.List).Methods("GET")

	api.HandleFunc("/blacklist", d.Blacklist.List).Methods("GET")
	api.HandleFunc("/blacklist", d.Blacklist.Add).Methods("POST")
	api.HandleFunc("/blacklist/{phone}", d.Blacklist.Remove).Methods("DELETE")

	api.HandleFunc("/groups", d.Groups.List).Methods("GET")
	api.HandleFunc("/groups", d.Groups.Bind).Methods("POST")
	api.HandleFunc("/groups/{jid}", d.Groups.Unbind).Methods("DELETE")

	if d.WhatsApp != nil {
		api.HandleFunc("/wa/qr", d.WhatsApp.HandleQR).Methods("GET")
		api.HandleFunc("/wa/status", d.WhatsApp.HandleStatus).Methods("GET")
		api.HandleFunc("/wa/qr/refresh", d.WhatsApp.HandleRefreshQR).Methods("POST")
	}

	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}

	var h http.Handler = r
	if d.RatePerSecond > 0 {
		h = newRateLimiter(d.RatePerSecond, d.RateBurst, d.TrustedProxies).middleware(h)
	}
	h = loggingMiddleware(log)(h)
	return corsMiddleware(h)
}
