package api

import (
	"net/http"

	"docsync/internal/middleware"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

func SetupRoutes(h *Handler, log logrus.FieldLogger) *mux.Router {
	r := mux.NewRouter()

	// Apply global middleware
	// Learning: Middleware runs in order - tracing first, then recovery, then CORS
	r.Use(middleware.TracingMiddleware(log))       // Add tracing spans to all requests
	r.Use(middleware.ErrorRecoveryMiddleware(log)) // Catch panics
	r.Use(middleware.CORSMiddleware)               // Handle CORS

	// API routes
	api := r.PathPrefix("/api").Subrouter()

	// Document endpoints
	api.HandleFunc("/documents", h.CreateDocument).Methods("POST")
	api.HandleFunc("/documents", h.ListDocuments).Methods("GET")
	api.HandleFunc("/documents/{id}", h.GetDocument).Methods("GET")
	api.HandleFunc("/documents/{id}", h.PatchDocument).Methods("PATCH")
	api.HandleFunc("/documents/{id}", h.DeleteDocument).Methods("DELETE")
	api.HandleFunc("/documents/{id}/publish", h.PublishDocument).Methods("POST")
	api.HandleFunc("/documents/{id}/revisions", h.ListRevisions).Methods("GET")

	// Slug endpoints
	api.HandleFunc("/slugs/validate", h.ValidateSlug).Methods("GET")

	// Converter endpoints
	api.HandleFunc("/convert/blocks", h.TreeToBlocks).Methods("POST")
	api.HandleFunc("/convert/tree", h.BlocksToTree).Methods("POST")

	// Health check endpoint
	api.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods("GET")

	// WebSocket routes
	r.HandleFunc("/ws/documents/{id}", h.HandleDocumentWebSocket)

	return r
}
