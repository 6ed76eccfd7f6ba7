package main

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"cardscan/internal/auth"
	"cardscan/internal/capture"
	"cardscan/internal/engine"
	"cardscan/internal/pipeline"
	wshub "cardscan/internal/ws"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

type statusResponse struct {
	Engine   string            `json:"engine"`
	State    pipeline.Snapshot `json:"state"`
	Pipeline pipeline.Stats    `json:"pipeline"`
	Capture  capture.Stats     `json:"capture"`
	Clients  int               `json:"ws_clients"`
}

// newMux assembles the HTTP routes. /healthz and /login are public;
// /status and /ws require a token when auth is enabled.
func newMux(
	pipe *pipeline.Pipeline,
	loader *engine.Loader,
	source *capture.FFmpegSource,
	hub *wshub.StateHub,
	authenticator *auth.Authenticator,
	logger *log.Logger,
) *http.ServeMux {
	mux := http.NewServeMux()
	protect := auth.Middleware(authenticator)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"engine": loader.State().String(),
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	})

	mux.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		token, expiresAt, err := authenticator.Authenticate(req.Username, req.Password)
		if err != nil {
			if errors.Is(err, auth.ErrAuthDisabled) {
				writeError(w, http.StatusNotFound, "authentication is disabled")
				return
			}
			logger.Printf("failed login attempt for %q from %s", req.Username, r.RemoteAddr)
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}

		writeJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: expiresAt})
	})

	mux.Handle("GET /status", protect(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, statusResponse{
			Engine:   loader.State().String(),
			State:    pipe.Snapshot(),
			Pipeline: pipe.Stats(),
			Capture:  source.Stats(),
			Clients:  hub.ClientCount(),
		})
	})))

	mux.Handle("GET /ws", protect(wshub.NewHandler(hub, pipe.Snapshot)))

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
