// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package simulator

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// AdminRouter exposes the device over HTTP:
//
//	GET /state    JSON snapshot of the simulated camera
//	GET /history  requests handled so far
//	GET /metrics  prometheus metrics
//	GET /healthz  liveness
//	GET /visca    websocket endpoint (see WebSocketHandler)
func (d *Device) AdminRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok\n"))
	})
	r.Get("/state", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, d.State())
	})
	r.Get("/history", func(w http.ResponseWriter, r *http.Request) {
		type entry struct {
			Session string `json:"session"`
			Time    string `json:"time"`
			Packet  string `json:"packet"`
		}
		history := d.History()
		out := make([]entry, 0, len(history))
		for _, h := range history {
			out = append(out, entry{
				Session: h.Session.String(),
				Time:    h.Time.Format("2006-01-02T15:04:05.000Z07:00"),
				Packet:  h.Packet.String(),
			})
		}
		writeJSON(w, out)
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{}))
	r.Method(http.MethodGet, "/visca", d.WebSocketHandler())
	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
