package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/KamdynS/marathon/chatapi"
	"github.com/KamdynS/marathon/content"
	"github.com/KamdynS/marathon/model"
	"github.com/KamdynS/marathon/native"
)

func setupTestServer(t *testing.T) *Server {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "model-*.gguf")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	f.Close()

	mgr := model.NewManager(model.ConcurrencyConfig{MaxQueueSize: 10, QueueWaitTimeout: time.Minute}, false, func() native.Adapter {
		return native.NewMockAdapter()
	})
	mgr.Start(map[string]model.Config{
		"m": {ModelName: "m", ModelPath: f.Name(), NSeqMax: 2, CacheSeqNum: 1, MaxTokens: 4},
	}, nil, content.New(nil))
	t.Cleanup(mgr.Stop)

	s, err := New(Config{Manager: mgr, App: AppInfo{Title: "Inference Core", Version: "1.0"}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestHandleRootReportsLiveness(t *testing.T) {
	s := setupTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	s.handleRoot(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "running" {
		t.Errorf("expected status=running, got %+v", body)
	}
}

func TestHandleListModels(t *testing.T) {
	s := setupTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	w := httptest.NewRecorder()
	s.handleListModels(w, req)

	var models []chatapi.ModelInfo
	if err := json.NewDecoder(w.Body).Decode(&models); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(models) != 1 || models[0].ID != "m" {
		t.Fatalf("expected one model 'm', got %+v", models)
	}
}

func TestHandleChatCompletionsRejectsMissingModel(t *testing.T) {
	s := setupTestServer(t)
	body, _ := json.Marshal(chatapi.CompletionRequest{})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.handleChatCompletions(w, req)

	if w.Code != 400 {
		t.Fatalf("expected 400 for missing model, got %d", w.Code)
	}
}

func TestHandleChatCompletionsNonStream(t *testing.T) {
	s := setupTestServer(t)
	if err := s.manager.AutoLoad("m"); err != nil {
		t.Fatalf("AutoLoad: %v", err)
	}

	reqBody := chatapi.CompletionRequest{Model: "m", Messages: []chatapi.Message{{Role: chatapi.RoleUser, RawContent: "hi"}}}
	body, _ := json.Marshal(reqBody)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.handleChatCompletions(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp chatapi.CompletionResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Choices) != 1 {
		t.Fatalf("expected one choice, got %d", len(resp.Choices))
	}
}

func TestHandleChatCompletionsStreamFramesDONE(t *testing.T) {
	s := setupTestServer(t)
	if err := s.manager.AutoLoad("m"); err != nil {
		t.Fatalf("AutoLoad: %v", err)
	}

	reqBody := chatapi.CompletionRequest{Model: "m", Stream: true, Messages: []chatapi.Message{{Role: chatapi.RoleUser, RawContent: "hi"}}}
	body, _ := json.Marshal(reqBody)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.handleChatCompletions(w, req)

	if got := w.Body.String(); len(got) == 0 || !bytes.Contains(w.Body.Bytes(), []byte("data: [DONE]")) {
		t.Fatalf("expected SSE stream terminated by data: [DONE], got %q", got)
	}
}

func TestHandleCudaInfoDegradesGracefully(t *testing.T) {
	s := setupTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/cuda_info", nil)
	w := httptest.NewRecorder()
	s.handleCudaInfo(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
