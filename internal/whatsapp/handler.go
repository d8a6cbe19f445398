package whatsapp

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HandleQR returns the current pairing QR code as a PNG data URL.
func (c *Client) HandleQR(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	qr := c.QRCode()
	if qr == "" {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"qr":      "",
			"ready":   c.IsReady(),
			"message": "QR code is being generated or the account is already paired, try again in a few seconds",
		})
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"qr": qr, "ready": false})
}

// HandleStatus reports the bot account's connection state.
func (c *Client) HandleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"ready":      c.IsReady(),
		"account":    c.AccountJID(),
		"qr_pending": c.QRCode() != "",
		"timestamp":  time.Now().Format(time.RFC3339),
	})
}

// HandleRefreshQR restarts pairing when the account is not logged in.
func (c *Client) HandleRefreshQR(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	// The QR channel lives past this request.
	if err := c.RefreshQR(context.Background()); err != nil {
		c.log.Warn("QR refresh failed", zap.Error(err))
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"message": "QR refresh triggered"})
}
