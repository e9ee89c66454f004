package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rewind-fm/rewind/models"
	"github.com/rewind-fm/rewind/session"
)

func jsonResponse(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func (app *application) home(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")

	_, isLoggedIn := session.GetUserID(r.Context())

	html := `
		<html>
		<head>
			<title>Rewind - Listening History Stats</title>
			<style>
				body {
					font-family: Arial, sans-serif;
					max-width: 800px;
					margin: 0 auto;
					padding: 20px;
					line-height: 1.6;
				}
				h1 { color: #c0392b; }
				.card {
					border: 1px solid #ddd;
					border-radius: 8px;
					padding: 20px;
					margin-bottom: 20px;
				}
				code { background: #f4f4f4; padding: 2px 6px; }
			</style>
		</head>
		<body>
			<h1>Rewind</h1>
			<div class="card">
				<h2>Your listening history, summarized</h2>
				<p>Rewind turns a YouTube Music takeout export into listening
				statistics: top songs and artists, sessions, daily breakdowns
				and the era of music you live in.</p>
				<p>Upload an export with
				<code>POST /api/v1/uploads</code>, poll the job with
				<code>GET /api/v1/jobs/{id}</code> and read the result from
				<code>GET /api/v1/stats</code>. All three need an API key.</p>`

	if isLoggedIn {
		html += `
				<p>You're logged in. <a href="/logout">Logout</a></p>`
	}

	html += `
			</div>
		</body>
		</html>
	`

	w.Write([]byte(html))
}

// validExport checks the payload is a JSON array whose first element
// looks like an activity record. The full parse happens in the
// pipeline; this only guards the upload endpoint.
func validExport(payload []byte) bool {
	decoder := json.NewDecoder(bytes.NewReader(payload))

	token, err := decoder.Token()
	if err != nil {
		return false
	}
	if delim, ok := token.(json.Delim); !ok || delim != '[' {
		return false
	}

	if !decoder.More() {
		// An empty export is still an export.
		return true
	}

	var first models.RawActivityRecord
	if err := decoder.Decode(&first); err != nil {
		return false
	}
	return first.Header != "" || first.Title != "" || first.TitleURL != "" || first.Time != ""
}

func (app *application) apiUpload(w http.ResponseWriter, r *http.Request) {
	userID, ok := session.GetUserID(r.Context())
	if !ok {
		jsonResponse(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, app.maxUploadBytes)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			jsonResponse(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "upload too large"})
			return
		}
		jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "failed to read upload"})
		return
	}

	if !validExport(payload) {
		jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "not a valid export"})
		return
	}

	jobID, err := app.pipeline.Start(userID, payload)
	if err != nil {
		app.logger.Error("failed to start pipeline job", "error", err)
		jsonResponse(w, http.StatusInternalServerError, map[string]string{"error": "failed to start job"})
		return
	}

	jsonResponse(w, http.StatusAccepted, map[string]string{"jobId": jobID})
}

func (app *application) apiMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := session.GetUserID(r.Context())
	if !ok {
		jsonResponse(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	user, err := app.database.GetUserByID(userID)
	if err != nil {
		app.logger.Error("failed to load user", "error", err)
		jsonResponse(w, http.StatusInternalServerError, map[string]string{"error": "failed to load user"})
		return
	}
	if user == nil {
		jsonResponse(w, http.StatusNotFound, map[string]string{"error": "user not found"})
		return
	}

	jsonResponse(w, http.StatusOK, user)
}

func (app *application) apiListKeys(w http.ResponseWriter, r *http.Request) {
	userID, ok := session.GetUserID(r.Context())
	if !ok {
		jsonResponse(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	keys, err := app.sessionManager.GetAPIKeyManager().GetUserApiKeys(userID)
	if err != nil {
		app.logger.Error("failed to list API keys", "error", err)
		jsonResponse(w, http.StatusInternalServerError, map[string]string{"error": "failed to list API keys"})
		return
	}

	jsonResponse(w, http.StatusOK, map[string]any{"apiKeys": keys})
}

func (app *application) apiCreateKey(w http.ResponseWriter, r *http.Request) {
	userID, ok := session.GetUserID(r.Context())
	if !ok {
		jsonResponse(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	var reqBody struct {
		Name         string `json:"name"`
		ValidityDays int    `json:"validityDays"`
	}
	if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
		jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if reqBody.Name == "" {
		reqBody.Name = "API Key"
	}
	if reqBody.ValidityDays <= 0 {
		reqBody.ValidityDays = 30
	}

	key, err := app.sessionManager.CreateAPIKey(userID, reqBody.Name, reqBody.ValidityDays)
	if err != nil {
		app.logger.Error("failed to create API key", "error", err)
		jsonResponse(w, http.StatusInternalServerError, map[string]string{"error": "failed to create API key"})
		return
	}

	jsonResponse(w, http.StatusCreated, map[string]any{
		"id":        key.ID,
		"name":      key.Name,
		"createdAt": key.CreatedAt,
		"expiresAt": key.ExpiresAt,
	})
}

func (app *application) apiDeleteKey(w http.ResponseWriter, r *http.Request) {
	userID, ok := session.GetUserID(r.Context())
	if !ok {
		jsonResponse(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	keyID := r.PathValue("id")
	key, exists := app.sessionManager.GetAPIKeyManager().GetApiKey(keyID)
	if !exists || key.UserID != userID {
		jsonResponse(w, http.StatusNotFound, map[string]string{"error": "API key not found"})
		return
	}

	if err := app.sessionManager.GetAPIKeyManager().DeleteApiKey(keyID); err != nil {
		app.logger.Error("failed to delete API key", "error", err)
		jsonResponse(w, http.StatusInternalServerError, map[string]string{"error": "failed to delete API key"})
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// apiCreateSession exchanges a valid API key for a browser session, so
// a key holder can reach the cookie-authenticated pages.
func (app *application) apiCreateSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := session.GetUserID(r.Context())
	if !ok || !session.IsAPIRequest(r.Context()) {
		jsonResponse(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	sess := app.sessionManager.CreateSession(userID)
	app.sessionManager.SetSessionCookie(w, sess)

	jsonResponse(w, http.StatusCreated, map[string]any{"expiresAt": sess.ExpiresAt})
}

func (app *application) apiJobStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := session.GetUserID(r.Context())
	if !ok {
		jsonResponse(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	job, err := app.database.GetJob(r.PathValue("id"))
	if err != nil {
		app.logger.Error("failed to load job", "error", err)
		jsonResponse(w, http.StatusInternalServerError, map[string]string{"error": "failed to load job"})
		return
	}
	if job == nil || job.UserID != userID {
		jsonResponse(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}

	jsonResponse(w, http.StatusOK, job)
}

func (app *application) apiStats(w http.ResponseWriter, r *http.Request) {
	userID, ok := session.GetUserID(r.Context())
	if !ok {
		jsonResponse(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	statistics, err := app.database.GetStatistics(userID)
	if err != nil {
		app.logger.Error("failed to load statistics", "error", err)
		jsonResponse(w, http.StatusInternalServerError, map[string]string{"error": "failed to load statistics"})
		return
	}
	if statistics == nil {
		jsonResponse(w, http.StatusNotFound, map[string]string{"error": "no statistics computed yet"})
		return
	}

	jsonResponse(w, http.StatusOK, statistics)
}
