package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(UserID)

		// Version
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Credentials
		r.Get("/credentials", h.ListCredentials)
		r.Post("/credentials", h.CreateCredential)
		r.Get("/credentials/{id}", h.GetCredential)
		r.Put("/credentials/{id}", h.UpdateCredential)
		r.Delete("/credentials/{id}", h.DeleteCredential)
		r.Post("/credentials/{id}/default", h.SetDefaultCredential)
		r.Post("/credentials/{id}/test", h.TestCredential)

		// Query previews
		r.Post("/query/preview", h.PreviewQuery)
		r.Post("/query/preview/refresh", h.RefreshPreview)

		// Report templates and execution
		r.Get("/reports", h.ListTemplates)
		r.Post("/reports/{id}/execute", h.ExecuteReport)
		r.Get("/history", h.ListHistory)
		r.Get("/history/{id}", h.GetExecution)

		// Cache administration
		r.Get("/cache/stats", h.CacheStats)
		r.Delete("/cache", h.InvalidateCache)
	})
}
