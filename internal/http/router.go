package http

import (
	"net/http"
)

type RouterConfig struct {
	Classboard  *ClassboardHandler
	Events      *EventHandler
	Adjustments *AdjustmentHandler
	Middleware  []func(http.Handler) http.Handler
}

func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	if cfg.Classboard != nil {
		mux.HandleFunc("GET /schools/{school}/classboard", cfg.Classboard.Day)
		mux.HandleFunc("GET /schools/{school}/board", cfg.Classboard.Board)
		mux.HandleFunc("GET /schools/{school}/stream", cfg.Classboard.Stream)
	}

	if cfg.Events != nil {
		mux.HandleFunc("POST /events", cfg.Events.Create)
		mux.HandleFunc("POST /events/batch", cfg.Events.Batch)
		mux.HandleFunc("POST /events/status", cfg.Events.Status)
		mux.HandleFunc("POST /events/delete", cfg.Events.Delete)
		mux.HandleFunc("GET /events/{id}/revenue", cfg.Events.Revenue)
	}

	if cfg.Adjustments != nil {
		mux.HandleFunc("POST /adjustments", cfg.Adjustments.Start)
		mux.HandleFunc("GET /adjustments/{id}", cfg.Adjustments.Get)
		mux.HandleFunc("DELETE /adjustments/{id}", cfg.Adjustments.Cancel)
		mux.HandleFunc("GET /adjustments/{id}/changes", cfg.Adjustments.Changes)
		mux.HandleFunc("POST /adjustments/{id}/{action}", cfg.Adjustments.Action)
	}

	var handler http.Handler = mux
	if len(cfg.Middleware) > 0 {
		for i := len(cfg.Middleware) - 1; i >= 0; i-- {
			if cfg.Middleware[i] != nil {
				handler = cfg.Middleware[i](handler)
			}
		}
	}

	return handler
}
