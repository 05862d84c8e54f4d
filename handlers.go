package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"calculogic/internal/builder"
)

// maxBodyBytes bounds every request body.
const maxBodyBytes = 1 << 20

// Handler handles HTTP requests for items, configurations, knowledge entries
// and results.
type Handler struct {
	svc      *builder.Service
	sessions *Sessions
	logger   *zap.Logger
	validate *validator.Validate
}

// NewHandler creates a Handler with dependencies.
func NewHandler(svc *builder.Service, sessions *Sessions, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, sessions: sessions, logger: logger, validate: validator.New()}
}

// Router returns the complete HTTP API, wrapped in request logging.
func (h *Handler) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.handleHealth).Methods(http.MethodGet)

	api := r.NewRoute().Subrouter()
	api.Use(sessionMiddleware(h.sessions), nonceMiddleware(h.sessions))
	api.HandleFunc("/nonce", h.handleNonce).Methods(http.MethodGet)
	api.HandleFunc("/dashboard", h.handleDashboard).Methods(http.MethodGet)
	api.HandleFunc("/items", h.handleListItems).Methods(http.MethodGet)
	api.HandleFunc("/items", h.handleCreateItem).Methods(http.MethodPost)
	api.HandleFunc("/items/{id}", h.handleGetItem).Methods(http.MethodGet)
	api.HandleFunc("/items/{id}", h.handleUpdateItem).Methods(http.MethodPatch)
	api.HandleFunc("/items/{id}", h.handleDeleteItem).Methods(http.MethodDelete)
	api.HandleFunc("/items/{id}/duplicate", h.handleDuplicateItem).Methods(http.MethodPost)
	api.HandleFunc("/items/{id}/results", h.handleListResults).Methods(http.MethodGet)
	api.HandleFunc("/items/{id}/results", h.handleRecordResult).Methods(http.MethodPost)
	api.HandleFunc("/configurations", h.handleListConfigurations).Methods(http.MethodGet)
	api.HandleFunc("/configurations", h.handleCreateConfiguration).Methods(http.MethodPost)
	api.HandleFunc("/configurations/{id}", h.handleGetConfiguration).Methods(http.MethodGet)
	api.HandleFunc("/configurations/{id}", h.handleDeleteConfiguration).Methods(http.MethodDelete)
	api.HandleFunc("/knowledge", h.handleListKnowledge).Methods(http.MethodGet)
	api.HandleFunc("/knowledge", h.handleCreateKnowledge).Methods(http.MethodPost)
	api.HandleFunc("/knowledge/{id}", h.handleGetKnowledge).Methods(http.MethodGet)
	api.HandleFunc("/knowledge/{id}", h.handleDeleteKnowledge).Methods(http.MethodDelete)

	return loggingMiddleware(h.logger)(r)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleNonce processes GET /nonce.
func (h *Handler) handleNonce(w http.ResponseWriter, r *http.Request) {
	nonce, expires, err := h.sessions.IssueNonce(principalFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NonceResponse{Nonce: nonce, Header: nonceHeader, ExpiresAt: expires.UTC()})
}

// handleDashboard processes GET /dashboard.
func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	sum, err := h.svc.Summary(r.Context(), principalFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// handleCreateItem processes POST /items.
func (h *Handler) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	var req CreateItemRequest
	if !h.decode(w, r, &req) {
		return
	}
	item, err := h.svc.Create(r.Context(), principalFrom(r.Context()), req.Title, builder.ItemType(req.ItemType))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/items/%s", item.ID))
	writeJSON(w, http.StatusCreated, item)
}

// handleGetItem processes GET /items/{id}.
func (h *Handler) handleGetItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.svc.Read(r.Context(), principalFrom(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// handleUpdateItem processes PATCH /items/{id}.
func (h *Handler) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	var req UpdateItemRequest
	if !h.decode(w, r, &req) {
		return
	}
	item, err := h.svc.Update(r.Context(), principalFrom(r.Context()), mux.Vars(r)["id"], req.fields())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// handleDuplicateItem processes POST /items/{id}/duplicate.
func (h *Handler) handleDuplicateItem(w http.ResponseWriter, r *http.Request) {
	var req DuplicateItemRequest
	if !h.decode(w, r, &req) {
		return
	}
	item, err := h.svc.Duplicate(r.Context(), principalFrom(r.Context()), mux.Vars(r)["id"], req.Title)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/items/%s", item.ID))
	writeJSON(w, http.StatusCreated, item)
}

// handleDeleteItem processes DELETE /items/{id}.
func (h *Handler) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), principalFrom(r.Context()), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListItems processes GET /items. Without page_size or page_token the
// whole visible list is returned.
func (h *Handler) handleListItems(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p := principalFrom(ctx)
	values := r.URL.Query()
	query := builder.ListQuery{
		Filter:   values.Get("filter"),
		Search:   values.Get("search"),
		Category: values.Get("category"),
	}

	if values.Has("page_size") || values.Has("page_token") {
		pageSize := 0
		if raw := values.Get("page_size"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				h.writeError(w, r, badRequest(fmt.Errorf("page_size must be a non-negative integer")))
				return
			}
			pageSize = n
		}
		page, err := h.svc.ListPage(ctx, p, query, pageSize, values.Get("page_token"))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
		return
	}

	seq, err := h.svc.List(ctx, p, query)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	items := []builder.Item{}
	for item, err := range seq {
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, builder.Page{Items: items})
}

// handleRecordResult processes POST /items/{id}/results.
func (h *Handler) handleRecordResult(w http.ResponseWriter, r *http.Request) {
	var req RecordResultRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.svc.RecordResult(r.Context(), principalFrom(r.Context()), mux.Vars(r)["id"], req.UserInputs, req.ComputedOutputs)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// handleListResults processes GET /items/{id}/results.
func (h *Handler) handleListResults(w http.ResponseWriter, r *http.Request) {
	results, err := h.svc.ListResults(r.Context(), principalFrom(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ListResponse[builder.Result]{Items: results})
}

// handleCreateConfiguration processes POST /configurations.
func (h *Handler) handleCreateConfiguration(w http.ResponseWriter, r *http.Request) {
	var req CreateConfigurationRequest
	if !h.decode(w, r, &req) {
		return
	}
	cfg, err := h.svc.CreateConfiguration(r.Context(), principalFrom(r.Context()), req.Title, req.Document, req.Categories...)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/configurations/%s", cfg.ID))
	writeJSON(w, http.StatusCreated, cfg)
}

// handleGetConfiguration processes GET /configurations/{id}.
func (h *Handler) handleGetConfiguration(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.svc.GetConfiguration(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// handleListConfigurations processes GET /configurations, optionally
// narrowed by ?category=.
func (h *Handler) handleListConfigurations(w http.ResponseWriter, r *http.Request) {
	cfgs, err := h.svc.ListConfigurations(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ListResponse[builder.Configuration]{Items: cfgs})
}

// handleDeleteConfiguration processes DELETE /configurations/{id}.
func (h *Handler) handleDeleteConfiguration(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteConfiguration(r.Context(), principalFrom(r.Context()), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCreateKnowledge processes POST /knowledge.
func (h *Handler) handleCreateKnowledge(w http.ResponseWriter, r *http.Request) {
	var req CreateKnowledgeRequest
	if !h.decode(w, r, &req) {
		return
	}
	entry, err := h.svc.CreateKnowledge(r.Context(), principalFrom(r.Context()), req.Title, req.Content)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/knowledge/%s", entry.ID))
	writeJSON(w, http.StatusCreated, entry)
}

// handleGetKnowledge processes GET /knowledge/{id}.
func (h *Handler) handleGetKnowledge(w http.ResponseWriter, r *http.Request) {
	entry, err := h.svc.GetKnowledge(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// handleListKnowledge processes GET /knowledge.
func (h *Handler) handleListKnowledge(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.ListKnowledge(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ListResponse[builder.KnowledgeEntry]{Items: entries})
}

// handleDeleteKnowledge processes DELETE /knowledge/{id}.
func (h *Handler) handleDeleteKnowledge(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteKnowledge(r.Context(), principalFrom(r.Context()), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decode reads a single JSON value with no unknown fields into dst and
// validates it. On failure it writes the response and returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		h.writeError(w, r, badRequest(err))
		return false
	}
	if err := rejectTrailingData(dec); err != nil {
		h.writeError(w, r, badRequest(err))
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.writeError(w, r, badRequest(err))
		return false
	}
	return true
}

// rejectTrailingData fails unless the first JSON value is all the body
// holds, apart from whitespace.
func rejectTrailingData(dec *json.Decoder) error {
	if _, err := dec.Token(); err != io.EOF {
		return errors.New("request body must contain a single JSON value")
	}
	return nil
}
