package apikey

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rewind-fm/rewind/db"
)

// ApiKey authenticates programmatic requests for a user.
type ApiKey struct {
	ID        string
	UserID    int64
	Name      string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Manager keeps API keys in the database with a read-through
// in-memory cache.
type Manager struct {
	db      *db.DB
	apiKeys map[string]*ApiKey
	mu      sync.RWMutex
	logger  *log.Logger
}

func NewManager(database *db.DB) *Manager {
	logger := log.New(os.Stdout, "apikey: ", log.LstdFlags|log.Lmsgprefix)

	_, err := database.Exec(`
	CREATE TABLE IF NOT EXISTS api_keys (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		created_at TIMESTAMP,
		expires_at TIMESTAMP,
		FOREIGN KEY (user_id) REFERENCES users(id)
	)`)
	if err != nil {
		logger.Printf("Error creating api_keys table: %v", err)
	}

	return &Manager{
		db:      database,
		apiKeys: make(map[string]*ApiKey),
		logger:  logger,
	}
}

// CreateApiKey mints a random key valid for validityDays days.
func (am *Manager) CreateApiKey(userID int64, name string, validityDays int) (*ApiKey, error) {
	am.mu.Lock()
	defer am.mu.Unlock()

	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	apiKeyID := base64.URLEncoding.EncodeToString(b)

	now := time.Now().UTC()
	apiKey := &ApiKey{
		ID:        apiKeyID,
		UserID:    userID,
		Name:      name,
		CreatedAt: now,
		ExpiresAt: now.AddDate(0, 0, validityDays),
	}

	am.apiKeys[apiKeyID] = apiKey

	_, err := am.db.Exec(`
	INSERT INTO api_keys (id, user_id, name, created_at, expires_at)
	VALUES (?, ?, ?, ?, ?)`,
		apiKeyID, userID, name, now, apiKey.ExpiresAt)
	if err != nil {
		return nil, err
	}

	return apiKey, nil
}

// GetApiKey validates a key, consulting the cache before the database.
// Expired keys are deleted on sight.
func (am *Manager) GetApiKey(apiKeyID string) (*ApiKey, bool) {
	am.mu.RLock()
	apiKey, exists := am.apiKeys[apiKeyID]
	am.mu.RUnlock()

	if exists {
		if time.Now().UTC().After(apiKey.ExpiresAt) {
			if err := am.DeleteApiKey(apiKeyID); err != nil {
				am.logger.Printf("Error deleting expired API key: %v", err)
			}
			return nil, false
		}
		return apiKey, true
	}

	apiKey = &ApiKey{ID: apiKeyID}
	err := am.db.QueryRow(`
	SELECT user_id, name, created_at, expires_at
	FROM api_keys WHERE id = ?`, apiKeyID).Scan(
		&apiKey.UserID, &apiKey.Name, &apiKey.CreatedAt, &apiKey.ExpiresAt)
	if err != nil {
		return nil, false
	}

	if time.Now().UTC().After(apiKey.ExpiresAt) {
		if err := am.DeleteApiKey(apiKeyID); err != nil {
			am.logger.Printf("Error deleting expired API key: %v", err)
		}
		return nil, false
	}

	am.mu.Lock()
	am.apiKeys[apiKeyID] = apiKey
	am.mu.Unlock()

	return apiKey, true
}

// DeleteApiKey removes a key from the cache and the database.
func (am *Manager) DeleteApiKey(apiKeyID string) error {
	am.mu.Lock()
	delete(am.apiKeys, apiKeyID)
	am.mu.Unlock()

	_, err := am.db.Exec("DELETE FROM api_keys WHERE id = ?", apiKeyID)
	return err
}

// GetUserApiKeys lists a user's keys, newest first.
func (am *Manager) GetUserApiKeys(userID int64) ([]*ApiKey, error) {
	rows, err := am.db.Query(`
	SELECT id, user_id, name, created_at, expires_at
	FROM api_keys
	WHERE user_id = ?
	ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var apiKeys []*ApiKey
	for rows.Next() {
		apiKey := &ApiKey{}
		err := rows.Scan(&apiKey.ID, &apiKey.UserID, &apiKey.Name, &apiKey.CreatedAt, &apiKey.ExpiresAt)
		if err != nil {
			return nil, err
		}
		apiKeys = append(apiKeys, apiKey)
	}

	return apiKeys, rows.Err()
}

// ExtractApiKey pulls the key from the Authorization header or the
// api_key query parameter.
func ExtractApiKey(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && (strings.ToLower(parts[0]) == "bearer" || strings.ToLower(parts[0]) == "token") {
			return parts[1], nil
		}
	}

	if apiKey := r.URL.Query().Get("api_key"); apiKey != "" {
		return apiKey, nil
	}

	return "", errors.New("no API key found in request")
}
