package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/rewind-fm/rewind/db"
	"github.com/rewind-fm/rewind/db/apikey"
)

// Session is one authenticated browser session.
type Session struct {
	ID        string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

// SessionManager stores sessions in the database with an in-memory
// read-through cache, and owns the API key manager used by the
// request middleware.
type SessionManager struct {
	db        *db.DB
	sessions  map[string]*Session
	apiKeyMgr *apikey.Manager
	mu        sync.RWMutex
	logger    *log.Logger
}

func NewSessionManager(database *db.DB) *SessionManager {
	logger := log.New(os.Stdout, "session: ", log.LstdFlags|log.Lmsgprefix)

	_, err := database.Exec(`
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		created_at TIMESTAMP,
		expires_at TIMESTAMP,
		FOREIGN KEY (user_id) REFERENCES users(id)
	)`)
	if err != nil {
		logger.Printf("Error creating sessions table: %v", err)
	}

	return &SessionManager{
		db:        database,
		sessions:  make(map[string]*Session),
		apiKeyMgr: apikey.NewManager(database),
		logger:    logger,
	}
}

// CreateSession mints a 24-hour session for a user.
func (sm *SessionManager) CreateSession(userID int64) *Session {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	b := make([]byte, 32)
	rand.Read(b)
	sessionID := base64.URLEncoding.EncodeToString(b)

	now := time.Now().UTC()
	session := &Session{
		ID:        sessionID,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(24 * time.Hour),
	}

	sm.sessions[sessionID] = session

	_, err := sm.db.Exec(`
	INSERT INTO sessions (id, user_id, created_at, expires_at)
	VALUES (?, ?, ?, ?)`,
		sessionID, userID, now, session.ExpiresAt)
	if err != nil {
		sm.logger.Printf("Error storing session in database: %v", err)
	}

	return session
}

// GetSession retrieves a live session, falling back to the database
// when the in-memory cache misses. Expired sessions are deleted.
func (sm *SessionManager) GetSession(sessionID string) (*Session, bool) {
	sm.mu.RLock()
	session, exists := sm.sessions[sessionID]
	sm.mu.RUnlock()

	if exists {
		if time.Now().UTC().After(session.ExpiresAt) {
			sm.DeleteSession(sessionID)
			return nil, false
		}
		return session, true
	}

	session = &Session{ID: sessionID}
	err := sm.db.QueryRow(`
	SELECT user_id, created_at, expires_at
	FROM sessions WHERE id = ?`, sessionID).Scan(
		&session.UserID, &session.CreatedAt, &session.ExpiresAt)
	if err != nil {
		return nil, false
	}

	if time.Now().UTC().After(session.ExpiresAt) {
		sm.DeleteSession(sessionID)
		return nil, false
	}

	sm.mu.Lock()
	sm.sessions[sessionID] = session
	sm.mu.Unlock()

	return session, true
}

// DeleteSession removes a session from the cache and the database.
func (sm *SessionManager) DeleteSession(sessionID string) {
	sm.mu.Lock()
	delete(sm.sessions, sessionID)
	sm.mu.Unlock()

	if _, err := sm.db.Exec("DELETE FROM sessions WHERE id = ?", sessionID); err != nil {
		sm.logger.Printf("Error deleting session from database: %v", err)
	}
}

func (sm *SessionManager) SetSessionCookie(w http.ResponseWriter, session *Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     "session",
		Value:    session.ID,
		Path:     "/",
		HttpOnly: true,
		Expires:  session.ExpiresAt,
	})
}

func (sm *SessionManager) ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     "session",
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}

func (sm *SessionManager) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie("session"); err == nil {
		sm.DeleteSession(cookie.Value)
	}
	sm.ClearSessionCookie(w)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (sm *SessionManager) GetAPIKeyManager() *apikey.Manager {
	return sm.apiKeyMgr
}

func (sm *SessionManager) CreateAPIKey(userID int64, name string, validityDays int) (*apikey.ApiKey, error) {
	return sm.apiKeyMgr.CreateApiKey(userID, name, validityDays)
}

// WithAuth accepts either a valid API key or a session cookie. No
// handler behind it ever runs for an unauthenticated caller.
func WithAuth(handler http.HandlerFunc, sm *SessionManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apiKeyStr, apiKeyErr := apikey.ExtractApiKey(r)
		if apiKeyErr == nil && apiKeyStr != "" {
			if key, valid := sm.apiKeyMgr.GetApiKey(apiKeyStr); valid {
				ctx := WithUserID(r.Context(), key.UserID)
				ctx = WithAPIRequest(ctx, true)
				handler(w, r.WithContext(ctx))
				return
			}
		}

		cookie, err := r.Cookie("session")
		if err != nil {
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}

		session, exists := sm.GetSession(cookie.Value)
		if !exists {
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}

		handler(w, r.WithContext(WithUserID(r.Context(), session.UserID)))
	}
}

// WithAPIAuth only accepts API keys and answers JSON errors.
func WithAPIAuth(handler http.HandlerFunc, sm *SessionManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apiKeyStr, apiKeyErr := apikey.ExtractApiKey(r)
		if apiKeyErr != nil || apiKeyStr == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error": "API key is required"}`))
			return
		}

		key, valid := sm.apiKeyMgr.GetApiKey(apiKeyStr)
		if !valid {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error": "Invalid or expired API key"}`))
			return
		}

		ctx := WithUserID(r.Context(), key.UserID)
		ctx = WithAPIRequest(ctx, true)
		handler(w, r.WithContext(ctx))
	}
}

// WithPossibleAuth attaches the user when a credential is present but
// never rejects the request.
func WithPossibleAuth(handler http.HandlerFunc, sm *SessionManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		authenticated := false

		apiKeyStr, apiKeyErr := apikey.ExtractApiKey(r)
		if apiKeyErr == nil && apiKeyStr != "" {
			if key, valid := sm.apiKeyMgr.GetApiKey(apiKeyStr); valid {
				ctx = WithUserID(ctx, key.UserID)
				ctx = WithAPIRequest(ctx, true)
				authenticated = true
			}
		}

		if !authenticated {
			if cookie, err := r.Cookie("session"); err == nil {
				if session, exists := sm.GetSession(cookie.Value); exists {
					ctx = WithUserID(ctx, session.UserID)
					authenticated = true
				}
			}
		}

		handler(w, r.WithContext(WithAuthStatus(ctx, authenticated)))
	}
}

type contextKey int

const (
	userIDKey contextKey = iota
	apiRequestKey
	authStatusKey
)

func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

func GetUserID(ctx context.Context) (int64, bool) {
	userID, ok := ctx.Value(userIDKey).(int64)
	return userID, ok
}

func WithAuthStatus(ctx context.Context, isAuthed bool) context.Context {
	return context.WithValue(ctx, authStatusKey, isAuthed)
}

func WithAPIRequest(ctx context.Context, isAPI bool) context.Context {
	return context.WithValue(ctx, apiRequestKey, isAPI)
}

func IsAPIRequest(ctx context.Context) bool {
	isAPI, ok := ctx.Value(apiRequestKey).(bool)
	return ok && isAPI
}
