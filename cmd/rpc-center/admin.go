package main

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"rpc-center/center"
	"rpc-center/client"
	"rpc-center/server"
)

type peersResponse struct {
	Center    string          `json:"center"`
	Peers     []peerInfo      `json:"peers"`
	Connected []string        `json:"connected"` // dialed through the registry
	Services  map[string]bool `json:"services"`  // name → created here
}

type peerInfo struct {
	ID     string `json:"id"`
	Weight int    `json:"weight"`
}

// newAdminRouter serves health, peer listing, metrics and the WebSocket
// endpoint peers connect to.
func newAdminRouter(c *center.Center, k *client.Connector, srv *server.Server, wsPath string, gatherer prometheus.Gatherer, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		select {
		case <-c.When():
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
		default:
			http.Error(w, "no peers yet", http.StatusServiceUnavailable)
		}
	})
	r.Get("/peers", func(w http.ResponseWriter, _ *http.Request) {
		resp := peersResponse{
			Center:    c.ID(),
			Peers:     []peerInfo{},
			Connected: k.Connected(),
			Services:  c.Services(),
		}
		for _, p := range c.Peers() {
			resp.Peers = append(resp.Peers, peerInfo{ID: p.ID, Weight: p.Weight})
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logger.Warn("write /peers", zap.Error(err))
		}
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	if wsPath != "" {
		r.Handle(wsPath, srv)
	}
	return r
}
