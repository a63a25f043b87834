// Package server exposes the OpenAI-compatible HTTP surface over a Model
// Manager: liveness, model listing/description, chat completions (JSON and
// SSE), load/unload, and the accelerator memory probe.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/KamdynS/marathon/apierr"
	"github.com/KamdynS/marathon/chatapi"
	"github.com/KamdynS/marathon/model"
)

// AppInfo is the static display metadata returned by the liveness endpoint.
type AppInfo struct {
	Title   string
	Version string
}

// Server serves the chat-completion core's HTTP surface over one Manager.
type Server struct {
	manager    *model.Manager
	app        AppInfo
	httpServer *http.Server
}

// Config holds server construction parameters.
type Config struct {
	Manager *model.Manager
	App     AppInfo
	Host    string
	Port    int
}

// New builds a Server and wires its routes; it does not start listening.
func New(cfg Config) (*Server, error) {
	if cfg.Manager == nil {
		return nil, fmt.Errorf("manager is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}

	s := &Server{manager: cfg.Manager, app: cfg.App}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/v1/models", s.handleListModels)
	mux.HandleFunc("/models", s.handleListDescriptions)
	mux.HandleFunc("/models/", s.handleModelByID)
	mux.HandleFunc("/v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("/models/load", s.handleLoad)
	mux.HandleFunc("/models/unload", s.handleUnload)
	mux.HandleFunc("/cuda_info", s.handleCudaInfo)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	return s, nil
}

// Start begins serving and blocks until the server stops or fails.
func (s *Server) Start() error {
	log.Printf("[Server] Starting inference core HTTP server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	log.Printf("[Server] Stopping inference core HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]string{
		"message": s.app.Title,
		"version": s.app.Version,
		"status":  "running",
	})
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, s.manager.ListModels())
}

func (s *Server) handleListDescriptions(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/models" {
		http.NotFound(w, r)
		return
	}
	s.sendJSON(w, http.StatusOK, s.manager.ListDescriptions())
}

func (s *Server) handleModelByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/models/")
	if id == "" {
		http.NotFound(w, r)
		return
	}
	desc, err := s.manager.ModelDescription(id)
	if err != nil {
		s.sendAPIError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, desc)
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("model_name")
	if name == "" {
		s.sendAPIError(w, apierr.InvalidArgument("model_name is required"))
		return
	}
	if err := s.manager.AutoLoad(name); err != nil {
		s.sendAPIError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, chatapi.NormalResponse{Code: 0, Message: "loaded"})
}

func (s *Server) handleUnload(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("model_name")
	if name == "" {
		s.sendAPIError(w, apierr.InvalidArgument("model_name is required"))
		return
	}
	if err := s.manager.AutoUnload(name); err != nil {
		s.sendAPIError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, chatapi.NormalResponse{Code: 0, Message: "unloaded"})
}

func (s *Server) handleCudaInfo(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, s.manager.VRAMUsage())
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendAPIError(w, apierr.InvalidArgument("method not allowed"))
		return
	}
	var req chatapi.CompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendAPIError(w, apierr.InvalidArgument("malformed request body: %v", err))
		return
	}
	if req.Model == "" {
		s.sendAPIError(w, apierr.InvalidArgument("model is required"))
		return
	}

	if req.Stream {
		s.streamChatCompletions(w, r, req)
		return
	}

	resp, err := s.manager.ChatCompletions(r.Context(), req.Model, req)
	if err != nil {
		s.sendAPIError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, resp)
}

func (s *Server) streamChatCompletions(w http.ResponseWriter, r *http.Request, req chatapi.CompletionRequest) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendAPIError(w, apierr.System(fmt.Errorf("streaming unsupported by response writer")))
		return
	}

	chunks, err := s.manager.ChatCompletionsStream(r.Context(), req.Model, req)
	if err != nil {
		writeSSEError(w, flusher, err)
		return
	}

	for chunk := range chunks {
		b, err := json.Marshal(chunk)
		if err != nil {
			log.Printf("server: failed marshaling stream chunk: %v", err)
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", b)
		flusher.Flush()
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func writeSSEError(w http.ResponseWriter, flusher http.Flusher, err error) {
	chunk := chatapi.StreamErrorChunk{Error: chatapi.StreamErrorMessage{Message: err.Error(), Type: "error"}}
	b, _ := json.Marshal(chunk)
	fmt.Fprintf(w, "data: %s\n\n", b)
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("server: failed encoding response: %v", err)
	}
}

func (s *Server) sendAPIError(w http.ResponseWriter, err error) {
	apiErr, ok := err.(*apierr.Error)
	if !ok {
		apiErr = apierr.System(err)
	}
	s.sendJSON(w, apiErr.HTTPStatus(), chatapi.NormalResponse{Code: int(apiErr.Code), Message: apiErr.Message})
}
