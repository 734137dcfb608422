package api

import (
	"net/http"
)

// WebSocket endpoints

// HandleDocumentWebSocket opens an editing session on a document
func (h *Handler) HandleDocumentWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.ws == nil {
		writeError(w, http.StatusServiceUnavailable, "editing sessions are disabled")
		return
	}
	h.ws.ServeHTTP(w, r)
}
