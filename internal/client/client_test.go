package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"qazna.org/permgate/internal/auth"
	"qazna.org/permgate/internal/tokencache"
)

var now = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// fakeAPI issues "token-<user>" for password == user and accepts those tokens
// for the permissions endpoint.
func fakeAPI(t *testing.T, logins *int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/users/authenticate", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(logins, 1)
		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if req.UserName != req.Password {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"access denied"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(auth.AuthResult{
			UserID:    1,
			Username:  req.UserName,
			Token:     "token-" + req.UserName,
			ExpiresAt: now.Add(time.Hour),
			Permissions: auth.UserPermissions{UserID: 1, Username: req.UserName, Categories: auth.PermissionTree{
				{ID: 1, Name: "Administration", Modules: []auth.ModuleNode{{ID: 1, Name: "User Management", Functions: []auth.FunctionNode{{ID: 1, Code: "Users.View"}}}}},
			}},
		})
	})
	mux.HandleFunc("/api/users/1/permissions", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer token-alice" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(auth.UserPermissions{UserID: 1, Username: "alice"})
	})
	mux.HandleFunc("/api/users/2/permissions", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	mux.HandleFunc("/api/users/3/permissions", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"upstream"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newClient(t *testing.T, logins *int32) (*Client, *tokencache.Memory) {
	t.Helper()
	srv := fakeAPI(t, logins)
	cache := tokencache.NewMemory(time.Hour, tokencache.WithClock(func() time.Time { return now }))
	c, err := New(srv.URL+"/", cache, WithHTTPClient(srv.Client()), WithTimeout(5*time.Second))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, cache
}

func TestLoginCachesPerSession(t *testing.T) {
	var logins int32
	c, _ := newClient(t, &logins)
	ctx := context.Background()

	if _, err := c.Token(ctx, "s1"); !errors.Is(err, ErrLoginRequired) {
		t.Fatalf("expected ErrLoginRequired before login, got %v", err)
	}
	res, err := c.Login(ctx, "s1", "alice", "alice")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.Token != "token-alice" || len(res.Permissions.Categories) != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if _, err := c.Login(ctx, "s2", "bob", "bob"); err != nil {
		t.Fatalf("Login bob: %v", err)
	}

	if tok, err := c.Token(ctx, "s1"); err != nil || tok != "token-alice" {
		t.Fatalf("session 1 token: %q, %v", tok, err)
	}
	if tok, err := c.Token(ctx, "s2"); err != nil || tok != "token-bob" {
		t.Fatalf("session 2 token: %q, %v", tok, err)
	}
	if atomic.LoadInt32(&logins) != 2 {
		t.Fatalf("expected 2 logins, got %d", logins)
	}

	if err := c.Logout(ctx, "s1"); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := c.Token(ctx, "s1"); !errors.Is(err, ErrLoginRequired) {
		t.Fatalf("expected ErrLoginRequired after logout, got %v", err)
	}
	if _, err := c.Token(ctx, "s2"); err != nil {
		t.Fatalf("logout leaked into other session: %v", err)
	}
}

func TestLoginFailureCachesNothing(t *testing.T) {
	var logins int32
	c, cache := newClient(t, &logins)
	if _, err := c.Login(context.Background(), "s", "alice", "wrong"); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}
	if cache.Len() != 0 {
		t.Fatalf("expected empty cache")
	}
	if _, err := c.Login(context.Background(), " ", "alice", "alice"); !errors.Is(err, tokencache.ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestLoginCancelledCachesNothing(t *testing.T) {
	var logins int32
	c, cache := newClient(t, &logins)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Login(ctx, "s", "alice", "alice"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if cache.Len() != 0 {
		t.Fatalf("expected empty cache after cancellation")
	}
}

func TestPermissions(t *testing.T) {
	var logins int32
	c, _ := newClient(t, &logins)
	ctx := context.Background()

	if _, err := c.Permissions(ctx, "s", 1); !errors.Is(err, ErrLoginRequired) {
		t.Fatalf("expected ErrLoginRequired, got %v", err)
	}
	if _, err := c.Login(ctx, "s", "alice", "alice"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	perms, err := c.Permissions(ctx, "s", 1)
	if err != nil || perms.Username != "alice" {
		t.Fatalf("Permissions: %+v, %v", perms, err)
	}
	if _, err := c.Permissions(ctx, "s", 2); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	var se *StatusError
	if _, err := c.Permissions(ctx, "s", 3); !errors.As(err, &se) || se.Code != http.StatusBadGateway || se.Message != "upstream" {
		t.Fatalf("expected StatusError 502, got %v", err)
	}

	if _, err := c.Login(ctx, "b", "bob", "bob"); err != nil {
		t.Fatalf("Login bob: %v", err)
	}
	if _, err := c.Permissions(ctx, "b", 1); !errors.Is(err, ErrLoginRequired) {
		t.Fatalf("expected rejected token to require login, got %v", err)
	}
	if _, err := c.Token(ctx, "b"); !errors.Is(err, ErrLoginRequired) {
		t.Fatalf("rejected token should be dropped, got %v", err)
	}
}

func TestNewValidation(t *testing.T) {
	cache := tokencache.NewMemory(time.Minute)
	if _, err := New("localhost:8080", cache); err == nil {
		t.Fatalf("expected error for url without scheme")
	}
	if _, err := New("http://localhost:8080", nil); err == nil {
		t.Fatalf("expected error for nil cache")
	}
}
