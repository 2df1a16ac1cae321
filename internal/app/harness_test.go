package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"flux/api/internal/auth"
	"flux/api/internal/email"
	"flux/api/internal/events"
	"flux/api/internal/export"
	"flux/api/internal/gitrepo"
	"flux/api/internal/store"
)

const testSecret = "test-secret-test-secret-test-secret"

type testEnv struct {
	t       *testing.T
	db      *gorm.DB
	store   *store.Store
	service *Service
	handler http.Handler
	events  *events.Memory
	history *gitrepo.Service
	mailer  *fakeMailer
}

func newTestEnv(t *testing.T, configure ...func(*Options)) *testEnv {
	t.Helper()
	db, err := store.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(db) })
	require.NoError(t, store.Migrate(context.Background(), db))

	st := store.New(db)
	published := events.NewMemory()
	history := gitrepo.New(t.TempDir())
	mailer := &fakeMailer{sent: make(chan email.InviteData, 32)}

	opts := Options{
		JWTSecret: testSecret,
		AppURL:    "https://flux.test",
		Store:     st,
		Export: export.NewServiceWithRenderer(func(context.Context, string) ([]byte, error) {
			return []byte("%PDF-1.4 test"), nil
		}),
		History: history,
		Events:  published,
		Mailer:  mailer,
	}
	for _, fn := range configure {
		fn(&opts)
	}

	svc := New(opts)
	return &testEnv{
		t:       t,
		db:      db,
		store:   st,
		service: svc,
		handler: NewHTTPServer(svc, []string{"*"}).Handler(),
		events:  published,
		history: history,
		mailer:  mailer,
	}
}

// token signs a token for userID; the user row is created on first use.
func (e *testEnv) token(userID string) string {
	e.t.Helper()
	tok, err := auth.IssueToken([]byte(testSecret), auth.Claims{
		Name:             userID,
		Email:            userID + "@example.com",
		RegisteredClaims: jwt.RegisteredClaims{Subject: userID},
	}, time.Hour)
	require.NoError(e.t, err)
	return tok
}

// user registers an account without making a request, as a user who has
// signed in before would have.
func (e *testEnv) user(userID string) {
	e.t.Helper()
	require.NoError(e.t, e.store.UpsertUser(context.Background(), store.User{
		ID:    userID,
		Name:  userID,
		Email: userID + "@example.com",
	}))
}

func (e *testEnv) do(method, path, token string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(e.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

// createWorkspace creates a workspace owned by ownerID and returns its id.
func (e *testEnv) createWorkspace(ownerID, name string) string {
	e.t.Helper()
	rr := e.do(http.MethodPost, "/api/workspaces", e.token(ownerID), map[string]any{"name": name})
	require.Equal(e.t, http.StatusCreated, rr.Code, rr.Body.String())
	var payload struct {
		Workspace store.Workspace `json:"workspace"`
	}
	decodeJSON(e.t, rr, &payload)
	return payload.Workspace.ID
}

func (e *testEnv) invite(ownerID, workspaceID, userID, role string) {
	e.t.Helper()
	e.user(userID)
	rr := e.do(http.MethodPost, "/api/invites", e.token(ownerID), map[string]any{
		"workspaceId": workspaceID,
		"email":       userID + "@example.com",
		"role":        role,
	})
	require.Equal(e.t, http.StatusOK, rr.Code, rr.Body.String())
}

func (e *testEnv) createPage(userID string, body map[string]any) store.Page {
	e.t.Helper()
	rr := e.do(http.MethodPost, "/api/pages", e.token(userID), body)
	require.Equal(e.t, http.StatusCreated, rr.Code, rr.Body.String())
	var payload struct {
		Page store.Page `json:"page"`
	}
	decodeJSON(e.t, rr, &payload)
	return payload.Page
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, target any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), target), rr.Body.String())
}

// requireError asserts status and the user-facing error message.
func requireError(t *testing.T, rr *httptest.ResponseRecorder, status int, message string) {
	t.Helper()
	require.Equal(t, status, rr.Code, rr.Body.String())
	var payload map[string]any
	decodeJSON(t, rr, &payload)
	require.Equal(t, message, payload["error"])
}

type fakeMailer struct {
	mu   sync.Mutex
	to   []string
	sent chan email.InviteData
}

func (f *fakeMailer) IsConfigured() bool { return true }

func (f *fakeMailer) SendInviteEmail(to string, data email.InviteData) error {
	f.mu.Lock()
	f.to = append(f.to, to)
	f.mu.Unlock()
	f.sent <- data
	return nil
}

func newRequest(method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil)
}

func serve(e *testEnv, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}
