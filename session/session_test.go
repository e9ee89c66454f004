package session

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rewind-fm/rewind/db"
	"github.com/rewind-fm/rewind/models"
)

func newTestManager(t *testing.T) (*SessionManager, int64) {
	t.Helper()

	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("db.New() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := database.Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	userID, err := database.CreateUser(&models.User{Username: "tester"})
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}

	return NewSessionManager(database), userID
}

func TestWithAPIAuthValidKey(t *testing.T) {
	sm, userID := newTestManager(t)

	key, err := sm.CreateAPIKey(userID, "test key", 30)
	if err != nil {
		t.Fatalf("CreateAPIKey() error = %v", err)
	}

	var gotUserID int64
	var gotAPIRequest bool
	handler := WithAPIAuth(func(w http.ResponseWriter, r *http.Request) {
		gotUserID, _ = GetUserID(r.Context())
		gotAPIRequest = IsAPIRequest(r.Context())
		w.WriteHeader(http.StatusOK)
	}, sm)

	r := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	r.Header.Set("Authorization", "Bearer "+key.ID)
	w := httptest.NewRecorder()
	handler(w, r)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotUserID != userID {
		t.Errorf("userID in context = %d, want %d", gotUserID, userID)
	}
	if !gotAPIRequest {
		t.Errorf("IsAPIRequest() = false, want true")
	}
}

func TestWithAPIAuthMissingKey(t *testing.T) {
	sm, _ := newTestManager(t)

	handler := WithAPIAuth(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler ran without an API key")
	}, sm)

	r := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	w := httptest.NewRecorder()
	handler(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestWithAPIAuthExpiredKey(t *testing.T) {
	sm, userID := newTestManager(t)

	key, err := sm.CreateAPIKey(userID, "expired key", -1)
	if err != nil {
		t.Fatalf("CreateAPIKey() error = %v", err)
	}

	handler := WithAPIAuth(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler ran with an expired API key")
	}, sm)

	r := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	r.Header.Set("Authorization", "Bearer "+key.ID)
	w := httptest.NewRecorder()
	handler(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestWithAuthSessionCookie(t *testing.T) {
	sm, userID := newTestManager(t)

	sess := sm.CreateSession(userID)

	var gotUserID int64
	handler := WithAuth(func(w http.ResponseWriter, r *http.Request) {
		gotUserID, _ = GetUserID(r.Context())
		w.WriteHeader(http.StatusOK)
	}, sm)

	r := httptest.NewRequest(http.MethodGet, "/api/v1/keys", nil)
	r.AddCookie(&http.Cookie{Name: "session", Value: sess.ID})
	w := httptest.NewRecorder()
	handler(w, r)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotUserID != userID {
		t.Errorf("userID in context = %d, want %d", gotUserID, userID)
	}
}

func TestWithAuthAcceptsAPIKey(t *testing.T) {
	sm, userID := newTestManager(t)

	key, err := sm.CreateAPIKey(userID, "test key", 30)
	if err != nil {
		t.Fatalf("CreateAPIKey() error = %v", err)
	}

	var gotAPIRequest bool
	handler := WithAuth(func(w http.ResponseWriter, r *http.Request) {
		gotAPIRequest = IsAPIRequest(r.Context())
		w.WriteHeader(http.StatusOK)
	}, sm)

	r := httptest.NewRequest(http.MethodGet, "/api/v1/keys", nil)
	r.Header.Set("Authorization", "Bearer "+key.ID)
	w := httptest.NewRecorder()
	handler(w, r)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !gotAPIRequest {
		t.Errorf("IsAPIRequest() = false, want true")
	}
}

func TestWithAuthRedirectsWithoutCredentials(t *testing.T) {
	sm, _ := newTestManager(t)

	handler := WithAuth(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler ran without credentials")
	}, sm)

	r := httptest.NewRequest(http.MethodGet, "/api/v1/keys", nil)
	w := httptest.NewRecorder()
	handler(w, r)

	if w.Code != http.StatusSeeOther {
		t.Errorf("status = %d, want %d", w.Code, http.StatusSeeOther)
	}
	if location := w.Header().Get("Location"); location != "/" {
		t.Errorf("Location = %q, want %q", location, "/")
	}
}

func TestGetSessionExpired(t *testing.T) {
	sm, userID := newTestManager(t)

	sess := sm.CreateSession(userID)
	sess.ExpiresAt = time.Now().UTC().Add(-time.Hour)

	if _, exists := sm.GetSession(sess.ID); exists {
		t.Errorf("GetSession() found an expired session")
	}
}

func TestDeleteSession(t *testing.T) {
	sm, userID := newTestManager(t)

	sess := sm.CreateSession(userID)
	sm.DeleteSession(sess.ID)

	if _, exists := sm.GetSession(sess.ID); exists {
		t.Errorf("GetSession() found a deleted session")
	}
}
