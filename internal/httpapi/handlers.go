package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"qazna.org/permgate/internal/auth"
	"qazna.org/permgate/internal/obs"
	"qazna.org/permgate/internal/registry"
)

// Authenticator is the slice of auth.Service the HTTP layer needs.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (auth.AuthResult, error)
	GetPermissions(ctx context.Context, caller auth.Identity, userID int64) (auth.UserPermissions, error)
}

// TokenValidator checks bearer tokens.
type TokenValidator interface {
	Validate(ctx context.Context, raw string, now time.Time) (auth.Identity, error)
}

// Registry is the slice of registry.Service behind /api/applications and
// /api/errorlogs. Those routes are mounted only when one is configured.
type Registry interface {
	CreateApplication(ctx context.Context, caller auth.Identity, in registry.NewApplication) (registry.Application, error)
	GetApplication(ctx context.Context, caller auth.Identity, id int64) (registry.Application, error)
	ListApplications(ctx context.Context, caller auth.Identity) ([]registry.Application, error)
	RecordError(ctx context.Context, caller auth.Identity, in registry.NewErrorLog) (registry.ErrorLog, error)
	ListErrorLogs(ctx context.Context, caller auth.Identity, filter registry.ErrorLogFilter) ([]registry.ErrorLog, error)
}

// ReadyChecker reports whether backing services are reachable.
type ReadyChecker interface {
	Ping(ctx context.Context) error
}

// Options tunes the HTTP layer. Zero values pick defaults.
type Options struct {
	Version      string
	MaxBodyBytes int64
	RateEnabled  bool
	RatePerSec   float64
	RateBurst    int
	Ready        ReadyChecker
	Logger       *zap.Logger
	Now          func() time.Time

	// TrustForwarded honours X-Forwarded-For for client addresses. Enable
	// only behind a proxy that sets the header.
	TrustForwarded bool
	Registry       Registry
}

// API is the HTTP adapter over the authentication service.
type API struct {
	svc       Authenticator
	validator TokenValidator
	ready     ReadyChecker
	version   string
	maxBody   int64
	limiter   *RateLimiter
	log       *zap.Logger
	now       func() time.Time

	trustForwarded bool
	registry       Registry
}

func New(svc Authenticator, validator TokenValidator, opts Options) (*API, error) {
	if svc == nil {
		return nil, errors.New("httpapi: authenticator is required")
	}
	if validator == nil {
		return nil, errors.New("httpapi: token validator is required")
	}
	a := &API{
		svc:       svc,
		validator: validator,
		ready:     opts.Ready,
		version:   opts.Version,
		maxBody:   opts.MaxBodyBytes,
		log:       opts.Logger,
		now:       opts.Now,

		trustForwarded: opts.TrustForwarded,
		registry:       opts.Registry,
	}
	if a.maxBody <= 0 {
		a.maxBody = 1 << 20
	}
	if a.log == nil {
		a.log = obs.Named("http")
	}
	if a.now == nil {
		a.now = time.Now
	}
	if opts.RateEnabled {
		perSec, burst := opts.RatePerSec, opts.RateBurst
		if perSec <= 0 {
			perSec = 5
		}
		if burst <= 0 {
			burst = 10
		}
		a.limiter = NewRateLimiter(perSec, burst, WithTrustedForwarding(opts.TrustForwarded))
	}
	return a, nil
}

// Handler returns the routed and instrumented handler.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(a.accessLog)
	r.Use(a.recoverer)
	r.Use(SecurityHeaders)
	r.Use(CORS)
	r.Use(func(next http.Handler) http.Handler { return MaxBodyBytes(next, a.maxBody) })

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Handle("/metrics", obs.Handler())

	r.Route("/api/users", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if a.limiter != nil {
				r.Use(a.limiter.Middleware)
			}
			r.Post("/authenticate", a.handleAuthenticate)
		})
		r.Group(func(r chi.Router) {
			r.Use(a.requireToken)
			r.Get("/{userId}/permissions", a.handlePermissions)
		})
	})
	if a.registry != nil {
		r.Route("/api/applications", func(r chi.Router) {
			r.Use(a.requireToken)
			r.Get("/", a.handleListApplications)
			r.Post("/", a.handleCreateApplication)
			r.Get("/{id}", a.handleGetApplication)
		})
		r.Route("/api/errorlogs", func(r chi.Router) {
			r.Use(a.requireToken)
			r.Get("/", a.handleListErrorLogs)
			r.Post("/", a.handleRecordError)
		})
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})
	return obs.Instrument(r)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "permgate-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if a.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.ready.Ping(ctx); err != nil {
			a.log.Warn("readiness check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "not_ready",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errors.New("request body too large")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
