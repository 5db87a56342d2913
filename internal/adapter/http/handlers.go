// Package http is the inbound HTTP adapter: a thin layer that decodes
// requests, calls services, and encodes responses. Credential secret
// fields never serialize; the entity's JSON shape enforces it.
package http

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ReportDeck/reportdeck/internal/domain/credential"
	"github.com/ReportDeck/reportdeck/internal/domain/query"
	"github.com/ReportDeck/reportdeck/internal/domain/report"
	"github.com/ReportDeck/reportdeck/internal/service"
)

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Credentials *service.CredentialService
	Queries     *service.QueryService
	Cache       *service.QueryCache
}

// --- Credentials ---

func (h *Handlers) ListCredentials(w http.ResponseWriter, r *http.Request) {
	serviceType := credential.ServiceType(r.URL.Query().Get("service_type"))
	if serviceType != "" && !serviceType.Known() {
		writeError(w, http.StatusBadRequest, "unknown service_type")
		return
	}

	creds, err := h.Credentials.List(r.Context(), userID(r), serviceType)
	if err != nil {
		writeDomainError(w, err, "credentials not found")
		return
	}
	writeJSON(w, http.StatusOK, creds)
}

func (h *Handlers) CreateCredential(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[credential.CreateRequest](w, r)
	if !ok {
		return
	}

	c, err := h.Credentials.Create(r.Context(), userID(r), req)
	if err != nil {
		writeDomainError(w, err, "credential not found")
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *Handlers) GetCredential(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}

	c, err := h.Credentials.Get(r.Context(), id, userID(r))
	if err != nil {
		writeDomainError(w, err, "credential not found")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handlers) UpdateCredential(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	req, ok := readJSON[credential.UpdateRequest](w, r)
	if !ok {
		return
	}

	c, err := h.Credentials.Update(r.Context(), id, userID(r), req)
	if err != nil {
		writeDomainError(w, err, "credential not found")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handlers) DeleteCredential(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}

	if err := h.Credentials.Delete(r.Context(), id, userID(r)); err != nil {
		writeDomainError(w, err, "credential not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) SetDefaultCredential(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}

	if err := h.Credentials.SetDefault(r.Context(), id, userID(r)); err != nil {
		writeDomainError(w, err, "credential not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) TestCredential(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}

	result, err := h.Credentials.Test(r.Context(), id, userID(r))
	if err != nil {
		writeDomainError(w, err, "credential not found")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- Queries ---

func (h *Handlers) PreviewQuery(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[query.Request](w, r)
	if !ok {
		return
	}

	result, err := h.Queries.Preview(r.Context(), &req)
	if err != nil {
		writeDomainError(w, err, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) RefreshPreview(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[query.Request](w, r)
	if !ok {
		return
	}

	result, err := h.Queries.RefreshPreview(r.Context(), &req)
	if err != nil {
		writeDomainError(w, err, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- Reports ---

func (h *Handlers) ListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := h.Queries.ListTemplates(r.Context(), userID(r))
	if err != nil {
		writeDomainError(w, err, "templates not found")
		return
	}
	writeJSON(w, http.StatusOK, templates)
}

func (h *Handlers) ExecuteReport(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	req, ok := readJSON[service.ExecuteRequest](w, r)
	if !ok {
		return
	}
	req.TemplateID = id

	result, err := h.Queries.ExecuteReport(r.Context(), userID(r), req)
	if err != nil {
		writeDomainError(w, err, "template not found")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) GetExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "execution id is required")
		return
	}

	rec, rows, err := h.Queries.GetExecution(r.Context(), userID(r), id)
	if err != nil {
		writeDomainError(w, err, "execution not found")
		return
	}
	writeJSON(w, http.StatusOK, executionDetail{Record: rec, Rows: rows})
}

// executionDetail pairs a history record with its stored result rows.
type executionDetail struct {
	Record *report.ExecutionRecord `json:"record"`
	Rows   []map[string]any        `json:"rows"`
}

func (h *Handlers) ListHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	records, err := h.Queries.ListHistory(r.Context(), userID(r), limit)
	if err != nil {
		writeDomainError(w, err, "history not found")
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// --- Cache ---

func (h *Handlers) CacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Cache.Stats(r.Context()))
}

func (h *Handlers) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	namespace := r.URL.Query().Get("namespace")
	if namespace == "" {
		writeError(w, http.StatusBadRequest, "namespace is required")
		return
	}

	removed := h.Cache.InvalidateNamespace(r.Context(), namespace)
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}
