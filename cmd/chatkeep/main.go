package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"chatkeep/internal/config"
	"chatkeep/internal/conversation"
	"chatkeep/internal/llm"
	"chatkeep/internal/logger"
	"chatkeep/internal/promotion"
	"chatkeep/internal/registry"
	"chatkeep/internal/session"
	"chatkeep/internal/storage"
	"chatkeep/internal/titler"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.L.Error("failed to load configuration", "error", err)
		return
	}
	logger.SetLevel(cfg.Log.Level)

	backend, err := storage.OpenSQLite(cfg.Storage.Path)
	if err != nil {
		logger.L.Error("failed to open snapshot database", "error", err)
		return
	}
	defer backend.Close()

	store, err := session.NewStore(backend)
	if err != nil {
		logger.L.Error("failed to rehydrate session store", "error", err)
		return
	}

	models := registry.Default()
	client := llm.NewClient(cfg.LLM)
	controller := conversation.NewController(client, cfg.LLM.Model)

	// The "navigated to" session, i.e. the view a UI client should show.
	var navMu sync.Mutex
	var currentSessionID string
	nav := promotion.NavigatorFunc(func(id string) {
		navMu.Lock()
		currentSessionID = id
		navMu.Unlock()
		logger.L.Info("navigated to session", "session_id", id)
	})

	workflow := promotion.New(store, titler.New(client, cfg.LLM.Model), nav, models)

	// Selected model label for the conversation being composed.
	var modelMu sync.Mutex
	modelLabel := "OpenAI: GPT-4o-mini"

	controller.SetOnComplete(func(seedUser, reply session.Message) {
		modelMu.Lock()
		label := modelLabel
		modelMu.Unlock()
		if _, err := workflow.Promote(context.Background(), label, seedUser, reply); err != nil {
			logger.L.Warn("promotion failed", "error", err)
		}
	})

	mux := http.NewServeMux()

	// Start or continue the active (unsaved) conversation.
	mux.HandleFunc("POST /chat", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Content string `json:"content"`
			Model   string `json:"model,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == "" {
			http.Error(w, "content is required", http.StatusBadRequest)
			return
		}
		if req.Model != "" {
			modelMu.Lock()
			modelLabel = req.Model
			modelMu.Unlock()
			if m, ok := models.Lookup(req.Model); ok {
				controller.SetModel(m.ID)
			} else {
				controller.SetModel(req.Model)
			}
		}

		err := controller.Append(r.Context(), req.Content)
		if errors.Is(err, conversation.ErrBusy) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		if err != nil {
			logger.L.Error("assistant turn failed", "error", err)
			http.Error(w, "assistant turn failed", http.StatusBadGateway)
			return
		}

		msgs := controller.Messages()
		navMu.Lock()
		sessionID := currentSessionID
		navMu.Unlock()

		// Once promoted, the conversation lives in the durable store; the
		// scratch copy is discarded so the next POST starts fresh.
		if workflow.Promoted() {
			if err := controller.Reset(); err == nil {
				workflow.Reset()
			}
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"messages":   msgs,
			"session_id": sessionID,
		})
	})

	mux.HandleFunc("POST /chat/stop", func(w http.ResponseWriter, r *http.Request) {
		controller.Stop()
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /chat/reload", func(w http.ResponseWriter, r *http.Request) {
		if err := controller.Reload(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"messages": controller.Messages()})
	})

	mux.HandleFunc("GET /models", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, models.Models())
	})

	mux.HandleFunc("GET /sessions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, store.List())
	})

	mux.HandleFunc("GET /sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		sess, ok := store.Get(r.PathValue("id"))
		if !ok {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, sess)
	})

	mux.HandleFunc("DELETE /sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		if err := store.Delete(r.PathValue("id")); err != nil {
			logger.L.Error("delete failed", "error", err)
			http.Error(w, "delete failed", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /sessions/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		var msg session.Message
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil || msg.Content == "" {
			http.Error(w, "message content is required", http.StatusBadRequest)
			return
		}
		if err := store.AddMessage(r.PathValue("id"), msg); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, session.ErrSessionNotFound) {
				status = http.StatusNotFound
			}
			http.Error(w, err.Error(), status)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("PUT /sessions/{id}/title", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Title string `json:"title"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Title == "" {
			http.Error(w, "title is required", http.StatusBadRequest)
			return
		}
		if err := store.UpdateTitle(r.PathValue("id"), req.Title); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, session.ErrSessionNotFound) {
				status = http.StatusNotFound
			}
			http.Error(w, err.Error(), status)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	logger.L.Info("starting server", "address", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.L.Error("server stopped", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.L.Warn("response encode failed", "error", err)
	}
}
