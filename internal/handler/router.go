package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/mliang/classcast/backend/internal/handler/history"
	"github.com/mliang/classcast/backend/internal/handler/language"
	"github.com/mliang/classcast/backend/internal/handler/live"
	"github.com/mliang/classcast/backend/internal/middleware"
	"github.com/mliang/classcast/backend/internal/service/registry"
	"github.com/mliang/classcast/backend/internal/service/speech"
	"github.com/mliang/classcast/backend/internal/store"
	"github.com/mliang/classcast/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(
	liveHandler *live.Handler,
	catalog *speech.Catalog,
	reg *registry.Registry,
	st *store.Store,
) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS)

	r.Get("/ws", liveHandler.Serve)

	r.Route("/api", func(api chi.Router) {
		language.New(catalog).RegisterRoutes(api)

		// 历史查询只在启用了存储时可用
		if st != nil {
			history.New(st).RegisterRoutes(api)
		}

		api.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			utils.RespondJSON(w, http.StatusOK, map[string]any{
				"status":      "ok",
				"connections": reg.Len(),
				"timestamp":   time.Now().UTC().Format(time.RFC3339),
			})
		})
	})

	return r
}
