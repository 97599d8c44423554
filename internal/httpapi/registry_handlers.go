package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"qazna.org/permgate/internal/audit"
	"qazna.org/permgate/internal/auth"
	"qazna.org/permgate/internal/registry"
)

func (a *API) handleCreateApplication(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, accessDenied)
		return
	}
	var req registry.NewApplication
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	app, err := a.registry.CreateApplication(r.Context(), caller, req)
	if err != nil {
		a.registryError(w, r, "create application", err)
		return
	}
	audit.ApplicationCreated(r.Context(), app.ID, app.Name)
	w.Header().Set("Location", "/api/applications/"+strconv.FormatInt(app.ID, 10))
	writeJSON(w, http.StatusCreated, app)
}

func (a *API) handleGetApplication(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, accessDenied)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, http.StatusBadRequest, "id must be a positive integer")
		return
	}
	app, err := a.registry.GetApplication(r.Context(), caller, id)
	if err != nil {
		a.registryError(w, r, "get application", err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (a *API) handleListApplications(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, accessDenied)
		return
	}
	apps, err := a.registry.ListApplications(r.Context(), caller)
	if err != nil {
		a.registryError(w, r, "list applications", err)
		return
	}
	writeJSON(w, http.StatusOK, apps)
}

func (a *API) handleRecordError(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, accessDenied)
		return
	}
	var req registry.NewErrorLog
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	entry, err := a.registry.RecordError(r.Context(), caller, req)
	if err != nil {
		a.registryError(w, r, "record error log", err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// handleListErrorLogs accepts applicationId, severity and limit query
// parameters.
func (a *API) handleListErrorLogs(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, accessDenied)
		return
	}
	q := r.URL.Query()
	var filter registry.ErrorLogFilter
	if v := q.Get("applicationId"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			writeError(w, r, http.StatusBadRequest, "applicationId must be a positive integer")
			return
		}
		filter.ApplicationID = id
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, r, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}
	filter.Severity = q.Get("severity")

	logs, err := a.registry.ListErrorLogs(r.Context(), caller, filter)
	if err != nil {
		a.registryError(w, r, "list error logs", err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (a *API) registryError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "forbidden")
	case errors.Is(err, registry.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, registry.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not found")
	case errors.Is(err, registry.ErrConflict):
		writeError(w, r, http.StatusConflict, "application already exists")
	default:
		a.serverError(w, r, op, err)
	}
}
