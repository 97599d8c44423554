package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"qazna.org/permgate/internal/auth"
	"qazna.org/permgate/internal/token"
)

var testNow = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// catalogStore serves alice (Admin: every Administration and Operations
// function), bob (Operator: Users.View and Payments.View) and mona (Monitor:
// the Monitoring functions).
type catalogStore struct {
	fail error
}

var catalogRows = []auth.FunctionRow{
	{CategoryID: 1, CategoryName: "Administration", ModuleID: 1, ModuleName: "User Management", Area: "Admin", Controller: "Users", Action: "Index", FunctionID: 1, Code: "Users.View", DisplayName: "View Users"},
	{CategoryID: 1, CategoryName: "Administration", ModuleID: 1, ModuleName: "User Management", Area: "Admin", Controller: "Users", Action: "Index", FunctionID: 2, Code: "Users.Edit", DisplayName: "Edit Users"},
	{CategoryID: 1, CategoryName: "Administration", ModuleID: 2, ModuleName: "Role Management", Area: "Admin", Controller: "Roles", Action: "Index", FunctionID: 3, Code: "Roles.View", DisplayName: "View Roles"},
	{CategoryID: 1, CategoryName: "Administration", ModuleID: 2, ModuleName: "Role Management", Area: "Admin", Controller: "Roles", Action: "Index", FunctionID: 4, Code: "Roles.Assign", DisplayName: "Assign Roles"},
	{CategoryID: 2, CategoryName: "Operations", ModuleID: 3, ModuleName: "Payments", Area: "Ops", Controller: "Payments", Action: "Index", FunctionID: 5, Code: "Payments.View", DisplayName: "View Payments"},
}

var monitorRows = []auth.FunctionRow{
	{CategoryID: 3, CategoryName: "Monitoring", ModuleID: 4, ModuleName: "Applications", Area: "Monitoring", Controller: "Applications", Action: "Index", FunctionID: 6, Code: "Applications.View", DisplayName: "View Applications"},
	{CategoryID: 3, CategoryName: "Monitoring", ModuleID: 4, ModuleName: "Applications", Area: "Monitoring", Controller: "Applications", Action: "Index", FunctionID: 7, Code: "Applications.Manage", DisplayName: "Manage Applications"},
	{CategoryID: 3, CategoryName: "Monitoring", ModuleID: 5, ModuleName: "Error Logs", Area: "Monitoring", Controller: "ErrorLogs", Action: "Index", FunctionID: 8, Code: "ErrorLogs.View", DisplayName: "View Error Logs"},
	{CategoryID: 3, CategoryName: "Monitoring", ModuleID: 5, ModuleName: "Error Logs", Area: "Monitoring", Controller: "ErrorLogs", Action: "Index", FunctionID: 9, Code: "ErrorLogs.Record", DisplayName: "Record Error Logs"},
}

var catalogUsers = map[int64]auth.User{
	1: {ID: 1, Username: "alice", PasswordHash: "pw:alice"},
	2: {ID: 2, Username: "bob", PasswordHash: "pw:bob"},
	3: {ID: 3, Username: "mona", PasswordHash: "pw:mona"},
}

func (s catalogStore) GetUserByUsername(ctx context.Context, username string) (auth.User, error) {
	if s.fail != nil {
		return auth.User{}, s.fail
	}
	for _, u := range catalogUsers {
		if u.Username == username {
			return u, nil
		}
	}
	return auth.User{}, auth.ErrNotFound
}

func (s catalogStore) GetUserByID(ctx context.Context, id int64) (auth.User, error) {
	if s.fail != nil {
		return auth.User{}, s.fail
	}
	u, ok := catalogUsers[id]
	if !ok {
		return auth.User{}, auth.ErrNotFound
	}
	return u, nil
}

func (s catalogStore) GetRoleIDsForUser(ctx context.Context, id int64) ([]int64, error) {
	return []int64{id}, nil
}

func (s catalogStore) GetRoleNamesForUser(ctx context.Context, id int64) ([]string, error) {
	switch id {
	case 1:
		return []string{"Admin"}, nil
	case 3:
		return []string{"Monitor"}, nil
	}
	return []string{"Operator"}, nil
}

func (s catalogStore) GetFunctionRowsForRoles(ctx context.Context, roleIDs []int64) ([]auth.FunctionRow, error) {
	if len(roleIDs) == 1 && roleIDs[0] == 1 {
		return catalogRows, nil
	}
	if len(roleIDs) == 1 && roleIDs[0] == 3 {
		return monitorRows, nil
	}
	return []auth.FunctionRow{catalogRows[0], catalogRows[4]}, nil
}

type prefixVerifier struct{}

func (prefixVerifier) VerifyPassword(plain, hash string) bool { return hash == "pw:"+plain }

func testTokenConfig() token.Config {
	return token.Config{
		Key:      []byte("0123456789abcdef0123456789abcdef"),
		Issuer:   "permgate-test",
		Audience: "frontend",
		TTL:      time.Hour,
	}
}

type testServer struct {
	t      *testing.T
	srv    *httptest.Server
	issuer *token.Issuer
	now    time.Time
}

func newTestServer(t *testing.T, store auth.PermissionStore, opts Options) *testServer {
	t.Helper()
	iss, err := token.NewIssuer(testTokenConfig())
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	val, err := token.NewValidator(testTokenConfig())
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	clock := func() time.Time { return testNow }
	svc, err := auth.NewService(store, iss, auth.WithPasswordVerifier(prefixVerifier{}), auth.WithClock(clock))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if opts.Now == nil {
		opts.Now = clock
	}
	api, err := New(svc, val, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return &testServer{t: t, srv: srv, issuer: iss, now: testNow}
}

func (s *testServer) do(method, path string, body any, headers map[string]string) (*http.Response, map[string]any) {
	s.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		if raw, ok := body.(string); ok {
			payload = []byte(raw)
		} else if payload, err = json.Marshal(body); err != nil {
			s.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, s.srv.URL+path, bytes.NewReader(payload))
	if err != nil {
		s.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := s.srv.Client().Do(req)
	if err != nil {
		s.t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (s *testServer) login(username string) string {
	s.t.Helper()
	resp, body := s.do(http.MethodPost, "/api/users/authenticate", map[string]string{"userName": username, "password": username}, nil)
	if resp.StatusCode != http.StatusOK {
		s.t.Fatalf("login %s: status %d body %v", username, resp.StatusCode, body)
	}
	tok, _ := body["token"].(string)
	return tok
}

func bearerHeader(tok string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + tok}
}
