package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"qazna.org/permgate/internal/audit"
	"qazna.org/permgate/internal/auth"
)

const accessDenied = "access denied"

type authenticateRequest struct {
	UserName string `json:"userName"`
	Password string `json:"password"`
}

func (a *API) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	var req authenticateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	username := strings.TrimSpace(req.UserName)
	if username == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "userName and password are required")
		return
	}

	res, err := a.svc.Authenticate(r.Context(), username, req.Password)
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrInvalidCredentials):
		audit.Denied(r.Context(), username, "invalid credentials")
		writeError(w, r, http.StatusUnauthorized, accessDenied)
		return
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, "userName and password are required")
		return
	default:
		a.serverError(w, r, "authenticate", err)
		return
	}

	audit.Authenticated(r.Context(), res.UserID, res.Username, res.TokenID)
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handlePermissions(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, accessDenied)
		return
	}
	userID, err := strconv.ParseInt(chi.URLParam(r, "userId"), 10, 64)
	if err != nil || userID <= 0 {
		writeError(w, r, http.StatusBadRequest, "userId must be a positive integer")
		return
	}

	perms, err := a.svc.GetPermissions(r.Context(), caller, userID)
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "forbidden")
		return
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "user "+strconv.FormatInt(userID, 10)+" not found")
		return
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	default:
		a.serverError(w, r, "get permissions", err)
		return
	}
	if caller.UserID != userID {
		audit.PermissionsRead(r.Context(), userID)
	}
	writeJSON(w, http.StatusOK, perms)
}

func (a *API) serverError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if r.Context().Err() != nil {
		// client went away; nothing useful to send
		return
	}
	a.log.Error(op+" failed",
		zap.Error(err),
		zap.String("request_id", RequestIDFromContext(r.Context())),
	)
	writeError(w, r, http.StatusInternalServerError, "internal error")
}
