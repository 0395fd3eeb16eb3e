package http

import (
	"encoding/json"
	"net/http"
)

type health struct {
	Status   string `json:"status"`
	Tier     string `json:"tier"`
	Degraded bool   `json:"degraded"`
}

// NewRouter mounts /ws, /healthz and, when metrics is non-nil, /metrics.
func NewRouter(ws *WSHandler, tier string, degraded bool, metrics http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(health{Status: "ok", Tier: tier, Degraded: degraded})
	})
	mux.HandleFunc("/ws", ws.ServeWS)
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}
	return mux
}
