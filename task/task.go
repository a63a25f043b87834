// Package task implements a single in-flight request's execution: the
// status state machine and the prompt->generate loop driven against the
// native library adapter.
package task

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/KamdynS/marathon/chatapi"
	"github.com/KamdynS/marathon/native"
	"github.com/KamdynS/marathon/toolcall"
)

// Status is a Task's lifecycle state.
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusStreaming
	StatusCompleted
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusStreaming:
		return "streaming"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Request is everything the pipeline needs to drive one chat completion
// against the native library; Messages/Descriptors/ModalBuffers are already
// the output of the Content Preprocessor. ModalBuffers holds the actual
// pinned byte buffers Descriptors describe, index for index, so the
// pipeline can take each buffer's real address immediately before the
// request_prompt call that needs it.
type Request struct {
	ID           string
	ModelName    string
	Messages     []chatapi.Message
	Tools        []chatapi.Tool
	Descriptors  []native.ModalDescriptor
	ModalBuffers [][]byte
	MaxTokens    int
	Temperature  float64
	Stream       bool
	ToolMarkers  toolcall.Markers
}

// Callback delivers one response (a full message, or one stream chunk) to
// the Model Wrapper, which forwards it to the waiting caller.
type Callback func(chatapi.CompletionResponse)

// Task encapsulates one request's execution.
type Task struct {
	ID        string
	Label     string
	Priority  int
	CreatedAt time.Time

	request  Request
	callback Callback

	mu     sync.Mutex
	status Status
}

// New creates a pending Task for req, classified under label/priority.
func New(id, label string, priority int, req Request, callback Callback) *Task {
	return &Task{
		ID:        id,
		Label:     label,
		Priority:  priority,
		CreatedAt: time.Now(),
		request:   req,
		callback:  callback,
		status:    StatusPending,
	}
}

// Status returns the current status.
func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *Task) setStatus(s Status) {
	t.mu.Lock()
	t.status = s
	t.mu.Unlock()
}

// Cancel marks the task Cancelled. In-flight native calls already issued
// complete naturally; no further calls are issued once this observes.
func (t *Task) Cancel() {
	t.mu.Lock()
	if t.status == StatusPending || t.status == StatusRunning || t.status == StatusStreaming {
		t.status = StatusCancelled
	}
	t.mu.Unlock()
}

func (t *Task) isCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status == StatusCancelled
}

// Start drives the task to completion: a queue-wait timeout check, then the
// prompt->generate loop against adapter/handle. It returns true on success.
func (t *Task) Start(adapter native.Adapter, handle native.Handle, queueWaitTimeout time.Duration) bool {
	if t.isCancelled() {
		return false
	}
	if time.Since(t.CreatedAt) > queueWaitTimeout {
		t.setStatus(StatusCancelled)
		t.callback(failureResponse(t.request, "wait timeout exceeded"))
		return false
	}

	if t.request.Stream {
		t.setStatus(StatusStreaming)
	} else {
		t.setStatus(StatusRunning)
	}

	finishReason, err := t.run(adapter, handle)
	if err != nil {
		t.setStatus(StatusFailed)
		t.callback(failureResponse(t.request, err.Error()))
		return false
	}
	if finishReason != chatapi.FinishStop {
		// Best-effort stop signal; failures here are log-only.
		if _, _, err := adapter.RequestGenerate(handle, native.GenerateRequest{ID: t.request.ID, Stop: true}); err != nil {
			log.Printf("task: best-effort stop for %s failed: %v", t.request.ID, err)
		}
	}
	t.setStatus(StatusCompleted)
	return true
}

func failureResponse(req Request, msg string) chatapi.CompletionResponse {
	object := chatapi.ObjectChatCompletion
	if req.Stream {
		object = chatapi.ObjectChatCompletionChunk
	}
	reason := chatapi.FinishStop
	content := fmt.Sprintf("error: %s", msg)
	choice := chatapi.Choice{Index: 0, FinishReason: &reason}
	if req.Stream {
		choice.Delta = &chatapi.Message{Role: chatapi.RoleAssistant, RawContent: content}
	} else {
		choice.Message = &chatapi.Message{Role: chatapi.RoleAssistant, RawContent: content}
	}
	return chatapi.CompletionResponse{
		ID:      req.ID,
		Object:  object,
		Model:   req.ModelName,
		Choices: []chatapi.Choice{choice},
	}
}

func marshalMessages(msgs []chatapi.Message) []any {
	out := make([]any, 0, len(msgs))
	for _, m := range msgs {
		var content any
		if m.NormalizedContent != nil {
			content = m.NormalizedContent
		} else {
			content = m.RawContent
		}
		b, _ := json.Marshal(map[string]any{
			"role":    m.Role,
			"content": content,
		})
		var v any
		_ = json.Unmarshal(b, &v)
		out = append(out, v)
	}
	return out
}

func marshalTools(tools []chatapi.Tool) []any {
	out := make([]any, 0, len(tools))
	for _, t := range tools {
		b, _ := json.Marshal(t)
		var v any
		_ = json.Unmarshal(b, &v)
		out = append(out, v)
	}
	return out
}
