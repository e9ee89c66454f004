package main

import (
	"net/http"

	"github.com/justinas/alice"

	"github.com/rewind-fm/rewind/session"
)

func (app *application) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/{$}", session.WithPossibleAuth(app.home, app.sessionManager))
	mux.HandleFunc("/logout", app.sessionManager.HandleLogout)

	mux.HandleFunc("POST /api/v1/uploads", session.WithAPIAuth(app.apiUpload, app.sessionManager))
	mux.HandleFunc("GET /api/v1/jobs/{id}", session.WithAPIAuth(app.apiJobStatus, app.sessionManager))
	mux.HandleFunc("GET /api/v1/stats", session.WithAPIAuth(app.apiStats, app.sessionManager))
	mux.HandleFunc("GET /api/v1/me", session.WithAPIAuth(app.apiMe, app.sessionManager))
	mux.HandleFunc("POST /api/v1/sessions", session.WithAPIAuth(app.apiCreateSession, app.sessionManager))

	// Key management takes either credential so a browser session can
	// mint its own keys.
	mux.HandleFunc("GET /api/v1/keys", session.WithAuth(app.apiListKeys, app.sessionManager))
	mux.HandleFunc("POST /api/v1/keys", session.WithAuth(app.apiCreateKey, app.sessionManager))
	mux.HandleFunc("DELETE /api/v1/keys/{id}", session.WithAuth(app.apiDeleteKey, app.sessionManager))

	standard := alice.New(app.recoverPanic, app.logRequest, commonHeaders)
	return standard.Then(mux)
}
