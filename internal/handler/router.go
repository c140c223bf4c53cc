package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter はルーターを生成する。
func NewRouter(h *MintHandler) http.Handler {
	r := chi.NewRouter()

	// ミドルウェア
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)

	// ルート定義
	r.Route("/v1/mints", func(r chi.Router) {
		r.Post("/prepare", h.Prepare)
		r.Get("/pool", h.PoolStatus)
		r.Route("/{attempt_id}", func(r chi.Router) {
			r.Post("/pool", h.PreparePool)
			r.Post("/submit", h.Submit)
			r.Post("/release", h.Release)
		})
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
