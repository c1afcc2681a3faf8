package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/tessellate-ai/querymesh/internal/api"
	"github.com/tessellate-ai/querymesh/internal/api/handlers"
	"github.com/tessellate-ai/querymesh/internal/api/middleware"
)

type RouterConfig struct {
	AuthValidator       middleware.AuthValidator
	QueryHandler        *handlers.QueryHandler
	ConversationHandler *handlers.ConversationHandler
	PartitionHandler    *handlers.PartitionHandler
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	const maxBodyBytes int64 = 1 * 1024 * 1024

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog)
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(cfg.AuthValidator))

		r.Route("/queries", func(r chi.Router) {
			r.Post("/", cfg.QueryHandler.Submit)
			r.Get("/", cfg.QueryHandler.List)
			r.Get("/analytics/summary", cfg.QueryHandler.Analytics)
			r.Get("/{id}", cfg.QueryHandler.Get)
			r.Post("/{id}/cancel", cfg.QueryHandler.Cancel)
			r.Post("/{id}/feedback", cfg.QueryHandler.Feedback)
			r.Post("/{id}/citations/{citationID}/click", cfg.QueryHandler.CitationClick)
		})

		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", cfg.ConversationHandler.Create)
			r.Get("/", cfg.ConversationHandler.List)
			r.Get("/{id}", cfg.ConversationHandler.Get)
			r.Post("/{id}/archive", cfg.ConversationHandler.Archive)
		})

		r.Route("/partitions", func(r chi.Router) {
			r.Post("/", cfg.PartitionHandler.Create)
			r.Get("/", cfg.PartitionHandler.List)
			r.Get("/{kind}/{ownerID}", cfg.PartitionHandler.Get)
			r.Delete("/{kind}/{ownerID}", cfg.PartitionHandler.Deactivate)
		})
	})

	return r
}
