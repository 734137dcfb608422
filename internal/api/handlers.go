package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"docsync/internal/blocks"
	"docsync/internal/controller"
	"docsync/internal/converter"
	"docsync/internal/models"
	"docsync/internal/repository"
	"docsync/internal/services"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Handler handles HTTP requests
// Learning: Uses INTERFACES defined in this package (consumer-driven)
type Handler struct {
	docs      DocumentService      // Interface defined in this package!
	revisions RevisionHistory      // Interface defined in this package!
	conv      *converter.Converter // Editor tree <-> block array
	ws        http.Handler         // WebSocket editing sessions
	log       logrus.FieldLogger
	now       func() time.Time
}

func NewHandler(
	docs DocumentService, // Accept interface
	revisions RevisionHistory,
	conv *converter.Converter,
	ws http.Handler,
	log logrus.FieldLogger,
) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{
		docs:      docs,
		revisions: revisions,
		conv:      conv,
		ws:        ws,
		log:       log.WithField("component", "api"),
		now:       time.Now,
	}
}

// documentResponse is a document plus its derived editor view
type documentResponse struct {
	*models.Document
	Status        models.DocumentStatus `json:"status"`
	TiptapContent json.RawMessage       `json:"tiptapContent,omitempty"`
}

func (h *Handler) respondDocument(w http.ResponseWriter, r *http.Request, status int, doc *models.Document) {
	resp := documentResponse{Document: doc, Status: doc.Status(h.now())}
	if doc.Type.HasContent() {
		tree, err := h.conv.TreeJSON(doc.Content)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		resp.TiptapContent = tree
	}
	writeJSON(w, status, resp)
}

// Document handlers

func (h *Handler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	var req models.DocumentCreate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := h.docs.CreateDocument(r.Context(), &req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondDocument(w, r, http.StatusCreated, created)
}

func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	// Parse pagination parameters
	limit := 50 // default
	offset := 0

	if parsed, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && parsed > 0 {
		limit = parsed
	}
	if parsed, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && parsed >= 0 {
		offset = parsed
	}
	docType := models.DocType(r.URL.Query().Get("type"))

	documents, err := h.docs.ListDocuments(r.Context(), docType, limit, offset)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"documents": documents,
		"limit":     limit,
		"offset":    offset,
	})
}

func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.docs.LoadDocument(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondDocument(w, r, http.StatusOK, doc)
}

// PatchDocument applies a draft patch: field name -> new value, null clears.
func (h *Handler) PatchDocument(w http.ResponseWriter, r *http.Request) {
	var patch map[string]any
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(patch) == 0 {
		writeError(w, http.StatusBadRequest, "empty patch")
		return
	}

	updated, err := h.docs.SaveDraftPatch(r.Context(), mux.Vars(r)["id"], patch)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondDocument(w, r, http.StatusOK, updated)
}

// PublishDocument publishes, schedules or unpublishes a document.
//
//	{}                                    publish now, keeping an existing publishedAt
//	{"publishAt": "2030-01-01T00:00:00Z"} schedule
//	{"publishAt": null}                   unpublish
//	{"unpublish": true}                   unpublish
func (h *Handler) PublishDocument(w http.ResponseWriter, r *http.Request) {
	var body map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req, err := publishRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	doc, err := h.docs.Publish(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondDocument(w, r, http.StatusOK, doc)
}

func publishRequest(body map[string]json.RawMessage) (models.PublishRequest, error) {
	req, err := models.ParsePublishAt(body["publishAt"])
	if err != nil {
		return req, err
	}
	if raw, ok := body["unpublish"]; ok {
		var unpublish bool
		if err := json.Unmarshal(raw, &unpublish); err != nil {
			return req, fmt.Errorf("unpublish: %w", err)
		}
		if unpublish {
			req = models.PublishRequest{Unpublish: true}
		}
	}
	return req, nil
}

func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := h.docs.DeleteDocument(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListRevisions(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	limit := 20
	if parsed, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && parsed > 0 {
		limit = parsed
	}

	revisions, err := h.revisions.History(r.Context(), id, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"document_id":  models.PublicID(id),
		"revisions":    revisions,
		"queue_length": h.revisions.GetQueueLength(),
	})
}

// Slug handlers

func (h *Handler) ValidateSlug(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	slug := query.Get("slug")
	docID := query.Get("docId")
	if docID == "" {
		docID = query.Get("id")
	}
	check, err := h.docs.ValidateSlug(r.Context(), slug, docID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"slug":    slug,
		"valid":   check.Valid,
		"message": check.Message,
	})
}

// Converter handlers

// TreeToBlocks converts a serialized editor tree to a block array.
func (h *Handler) TreeToBlocks(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	bs, err := h.conv.BlocksFromJSON(raw)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, bs)
}

// BlocksToTree converts a block array to a serialized editor tree.
func (h *Handler) BlocksToTree(w http.ResponseWriter, r *http.Request) {
	var bs []blocks.Block
	if err := json.NewDecoder(r.Body).Decode(&bs); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := blocks.Validate(bs); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	tree, err := h.conv.TreeJSON(bs)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

// fail maps service errors to HTTP status codes
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var verr *services.ValidationError
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &verr),
		errors.Is(err, repository.ErrInvalidPatch),
		errors.Is(err, controller.ErrInvalidSlug),
		errors.Is(err, controller.ErrIncompleteDocument):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.log.WithError(err).WithField("path", r.URL.Path).Error("Request failed")
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
