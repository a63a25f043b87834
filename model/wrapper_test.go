package model

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/KamdynS/marathon/chatapi"
	"github.com/KamdynS/marathon/content"
	"github.com/KamdynS/marathon/native"
)

func tempModelFile(t *testing.T) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "model-*.gguf")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	defer f.Close()
	return f.Name()
}

func newTestWrapper(t *testing.T) (*Wrapper, *native.MockAdapter) {
	t.Helper()
	adapter := native.NewMockAdapter()
	cfg := Config{ModelName: "m", ModelPath: tempModelFile(t), NSeqMax: 2, CacheSeqNum: 1, MaxTokens: 4}
	w := NewWrapper("m", cfg, adapter, nil, content.New(nil), ConcurrencyConfig{MaxQueueSize: 10, QueueWaitTimeout: time.Minute})
	return w, adapter
}

func TestLoadRefusesInvalidModelPath(t *testing.T) {
	adapter := native.NewMockAdapter()
	cfg := Config{ModelName: "m", ModelPath: "/nonexistent/path.gguf", NSeqMax: 2, CacheSeqNum: 1}
	w := NewWrapper("m", cfg, adapter, nil, content.New(nil), ConcurrencyConfig{MaxQueueSize: 10, QueueWaitTimeout: time.Minute})
	if err := w.Load(); err == nil {
		t.Fatalf("expected Load to refuse an invalid model path")
	}
}

func TestLoadThenChatThenUnload(t *testing.T) {
	w, _ := newTestWrapper(t)
	if err := w.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer w.Unload()

	req := chatapi.CompletionRequest{Model: "m", Messages: []chatapi.Message{{Role: chatapi.RoleUser, RawContent: "hi"}}}

	// Chat allocates a fresh UUID-based request id we can't script in
	// advance; the mock adapter's default (finished=true, nil, nil) for an
	// unscripted id already terminates the pipeline on the first call.
	resp, err := w.Chat(context.Background(), req)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if len(resp.Choices) != 1 {
		t.Fatalf("expected one choice, got %d", len(resp.Choices))
	}
}

func TestUnloadRefusesWhileRunning(t *testing.T) {
	w, _ := newTestWrapper(t)
	if err := w.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	w.mu.Lock()
	w.status = StatusRunning
	w.mu.Unlock()
	if err := w.Unload(); err == nil {
		t.Fatalf("expected Unload to refuse while Running")
	}
}

func TestChatRejectsWhenNotLoaded(t *testing.T) {
	w, _ := newTestWrapper(t)
	_, err := w.Chat(context.Background(), chatapi.CompletionRequest{})
	if err == nil {
		t.Fatalf("expected Chat to reject when model not loaded")
	}
}
