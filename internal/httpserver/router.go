package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/gpt4free/pollinations/internal/handlers"
	"github.com/gpt4free/pollinations/internal/metrics"
	"github.com/gpt4free/pollinations/internal/middleware"
)

func SetupRouter(r *chi.Mux, baseLogger *zap.Logger, chatHandler *handlers.ChatHandler) {

	r.Use(metrics.Middleware)

	// base middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)

	r.Use(middleware.LoggingContext(baseLogger))
	r.Use(middleware.Recoverer())             // panic recovery
	r.Use(middleware.MaxBodySize(512 * 1024)) // 512 KB max body

	// routes
	r.Route("/v1", func(r chi.Router) {
		// No Timeout middleware here: streamed completions can legitimately
		// run for minutes.
		r.Post("/chat/completions", chatHandler.ChatCompletion)

		r.With(middleware.Timeout(15 * time.Second)).
			Post("/images/generations", chatHandler.ImageGeneration)

		r.With(middleware.Timeout(15 * time.Second)).
			Get("/models", chatHandler.ListModels)
	})

	// health check
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Handle("/metrics", metrics.Handler())
}
