package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"schoolchat/internal/config"
	"schoolchat/pkg/types"
)

type contextKey string

const userIDKey contextKey = "user_id"

// Server is the bundled development backend: the REST chat API and the
// realtime push channel in one process, backed by a sqlite message log.
// It exists so the client subsystem can be run and tested end to end
// without the full school platform.
type Server struct {
	cfg        *config.BackendConfig
	store      *Store
	registry   *Registry
	httpServer *http.Server

	listener net.Listener
}

// NewServer assembles the backend. Components initialize in dependency
// order: store, registry, websocket handler, router, HTTP server.
func NewServer(cfg *config.BackendConfig) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("backend configuration is required")
	}

	store, err := OpenStore(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	registry := NewRegistry()
	wsHandler := NewWSHandler(registry, store, cfg.WriteTimeout)

	s := &Server{
		cfg:      cfg,
		store:    store,
		registry: registry,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/ws", wsHandler.HandleWebSocket)
	r.Route("/api", func(r chi.Router) {
		r.Use(s.requireUser)
		r.Get("/conversations", s.handleListConversations)
		r.Delete("/conversations/{partnerID}", s.handleDeleteConversation)
		r.Get("/messages/{partnerID}", s.handleHistory)
		r.Post("/messages", s.handleCreateMessage)
	})

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s, nil
}

// Start binds the listener and begins serving. Returns once the server is
// accepting connections; serve errors after that are logged, not returned.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", s.httpServer.Addr, err)
	}
	s.listener = ln
	log.Printf("backend: serving on %s", ln.Addr())

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("backend: server error: %v", err)
		}
	}()
	return nil
}

// Stop shuts the server down gracefully: HTTP first, then the store.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Printf("backend: HTTP shutdown error: %v", err)
	}
	if err := s.store.Close(); err != nil {
		log.Printf("backend: store close error: %v", err)
	}
	return nil
}

// Addr returns the bound address, useful when the configured port is 0.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}

// requireUser resolves the session user from the X-User-ID header. The real
// platform authenticates upstream and injects this header; the dev backend
// just trusts it.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-ID")
		if !types.IsValidUserID(userID) {
			writeError(w, http.StatusUnauthorized, "missing or invalid X-User-ID header")
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestUser(r *http.Request) string {
	userID, _ := r.Context().Value(userIDKey).(string)
	return userID
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"connections": s.registry.Len(),
	})
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := s.store.ListConversations(r.Context(), requestUser(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"conversations": convs})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	partnerID := chi.URLParam(r, "partnerID")
	if !types.IsValidUserID(partnerID) {
		writeError(w, http.StatusBadRequest, types.ErrInvalidUserID.Error())
		return
	}
	msgs, err := s.store.History(r.Context(), requestUser(r), partnerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": msgs})
}

func (s *Server) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReceiverID string `json:"receiver_id"`
		Message    string `json:"message"`
		ClientID   string `json:"client_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if !types.IsValidUserID(req.ReceiverID) {
		writeError(w, http.StatusBadRequest, types.ErrInvalidUserID.Error())
		return
	}

	msg, err := s.store.CreateMessage(r.Context(), requestUser(r), req.ReceiverID, req.Message, req.ClientID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Push to the receiver only; the sender's confirmation is this response.
	if ev, err := types.NewEvent(types.EventNewMessage, msg); err == nil {
		s.registry.Push(msg.ReceiverID, ev)
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"message": msg})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	partnerID := chi.URLParam(r, "partnerID")
	if !types.IsValidUserID(partnerID) {
		writeError(w, http.StatusBadRequest, types.ErrInvalidUserID.Error())
		return
	}
	if err := s.store.DeleteConversation(r.Context(), requestUser(r), partnerID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete conversation")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("backend: response encoding failed: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
