package model

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/KamdynS/marathon/apierr"
	"github.com/KamdynS/marathon/chatapi"
	"github.com/KamdynS/marathon/content"
	"github.com/KamdynS/marathon/native"
	"github.com/KamdynS/marathon/promptmatch"
	"github.com/KamdynS/marathon/scheduler"
	"github.com/KamdynS/marathon/task"
	"github.com/KamdynS/marathon/telemetry"
	"github.com/KamdynS/marathon/toolcall"
)

// chunkTimeout bounds how long a caller waits between successive chunks (or
// for the single non-stream response) before the Wrapper gives up on a Task.
const chunkTimeout = 30 * time.Second

// Wrapper is the per-model coordinator: it owns the adapter handle and the
// model's Task Scheduler, and re-enters Running via useCount so concurrent
// in-flight requests don't race an unload.
type Wrapper struct {
	name    string
	config  Config
	adapter native.Adapter
	matcher *promptmatch.Matcher
	preproc *content.Preprocessor

	concurrency ConcurrencyConfig

	// Hooks is optional; a nil value (the default) disables all callbacks.
	Hooks *telemetry.Hooks

	mu        sync.Mutex
	status    Status
	handle    native.Handle
	useCount  int
	scheduler *scheduler.Scheduler
}

// ConcurrencyConfig carries the server-wide scheduler sizing/timeout knobs
// that apply to every model's Scheduler instance.
type ConcurrencyConfig struct {
	MaxQueueSize     int
	QueueWaitTimeout time.Duration
}

// NewWrapper constructs a NotLoaded Wrapper for one configured model.
func NewWrapper(name string, cfg Config, adapter native.Adapter, matcher *promptmatch.Matcher, preproc *content.Preprocessor, concurrency ConcurrencyConfig) *Wrapper {
	return &Wrapper{
		name:        name,
		config:      cfg,
		adapter:     adapter,
		matcher:     matcher,
		preproc:     preproc,
		concurrency: concurrency,
		status:      StatusNotLoaded,
	}
}

// Status reports the current lifecycle state.
func (w *Wrapper) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Load validates the model's files, initializes the native adapter, and
// starts the scheduler. If already loaded it does nothing and returns nil.
func (w *Wrapper) Load() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.status != StatusNotLoaded {
		return nil
	}
	if !validateModelPath(w.config.ModelPath) {
		return apierr.ModelManager("model path invalid or not a regular file: %s", w.config.ModelPath)
	}
	if w.config.MMProjPath != "" && !validateModelPath(w.config.MMProjPath) {
		return apierr.ModelManager("mmproj path invalid or not a regular file: %s", w.config.MMProjPath)
	}

	configJSON, err := json.Marshal(map[string]any{
		"model_name":        w.name,
		"model_path":        w.config.ModelPath,
		"mmproj_path":       w.config.MMProjPath,
		"device":            w.config.Device,
		"total_context_num": w.config.TotalContextNum,
		"context_per_seq":   w.config.ContextPerSeq,
		"n_seq_max":         w.config.NSeqMax,
		"cache_seq_num":     w.config.CacheSeqNum,
		"chunk_size":        w.config.ChunkSize,
	})
	if err != nil {
		return apierr.System(err)
	}

	handle, err := w.adapter.Init(string(configJSON))
	if err != nil {
		return apierr.ModelManager("adapter init failed: %v", err)
	}

	w.handle = handle
	w.scheduler = scheduler.New(w.adapter, handle, scheduler.Config{
		WorkerCount:  w.config.WorkerCount(),
		MaxQueueSize: w.concurrency.MaxQueueSize,
	}, w.concurrency.QueueWaitTimeout)
	w.scheduler.ModelName = w.name
	w.scheduler.Hooks = w.Hooks
	w.scheduler.Start()
	w.status = StatusReady
	return nil
}

// Unload refuses while a request is in flight (status=Running), otherwise
// stops the scheduler, frees the adapter handle, and returns to NotLoaded.
func (w *Wrapper) Unload() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.status == StatusNotLoaded {
		return nil
	}
	if w.status == StatusRunning {
		return apierr.ModelManager("cannot unload %s while requests are in flight", w.name)
	}

	w.scheduler.Stop()
	w.scheduler = nil
	if err := w.adapter.Free(w.handle); err != nil {
		return apierr.ModelManager("adapter free failed: %v", err)
	}
	w.handle = 0
	w.status = StatusNotLoaded
	return nil
}

func (w *Wrapper) enter() (*scheduler.Scheduler, native.Handle, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.status == StatusNotLoaded {
		return nil, 0, apierr.ModelManager("model %s is not loaded", w.name)
	}
	w.status = StatusRunning
	w.useCount++
	return w.scheduler, w.handle, nil
}

func (w *Wrapper) leave() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.useCount--
	if w.useCount <= 0 {
		w.useCount = 0
		w.status = StatusReady
	}
}

func requestText(messages []chatapi.Message) string {
	var text string
	for _, m := range messages {
		for _, c := range m.NormalizedContent {
			if c.Type == chatapi.ContentText {
				text += c.Text + " "
			}
		}
	}
	return text
}

func (w *Wrapper) buildTask(req chatapi.CompletionRequest, stream bool, callback task.Callback) (*task.Task, error) {
	preprocessed := req.Messages
	var descriptors []native.ModalDescriptor
	var buffers [][]byte
	if w.preproc != nil {
		result, err := w.preproc.Process(req.Messages)
		if err != nil {
			return nil, apierr.CoreResponse("content preprocessing failed: %v", err)
		}
		preprocessed = result.Messages
		buffers = result.Buffers
		for _, buf := range result.Buffers {
			descriptors = append(descriptors, native.ModalDescriptor{Length: len(buf)})
		}
	}

	label, priority := scheduler.Classify(w.matcher, w.config.TaskClassification, requestText(preprocessed))

	id := fmt.Sprintf("chatcmpl-%s", uuid.New().String()[:8])
	taskReq := task.Request{
		ID:           id,
		ModelName:    w.name,
		Messages:     preprocessed,
		Tools:        req.Tools,
		Descriptors:  descriptors,
		ModalBuffers: buffers,
		MaxTokens:    w.config.MaxTokens, // ModelConfig's MaxTokens always wins, per §4.7.
		Temperature: req.Temperature,
		Stream:      stream,
		ToolMarkers: toolcall.DefaultMarkers(),
	}
	return task.New(id, label, priority, taskReq, callback), nil
}

// Chat runs one non-streaming completion to terminal state (or the
// chunkTimeout ceiling), returning the single accumulated response.
func (w *Wrapper) Chat(ctx context.Context, req chatapi.CompletionRequest) (chatapi.CompletionResponse, error) {
	sched, handle, err := w.enter()
	if err != nil {
		return chatapi.CompletionResponse{}, err
	}
	defer w.leave()

	reply := make(chan chatapi.CompletionResponse, 1)
	t, err := w.buildTask(req, false, func(r chatapi.CompletionResponse) { reply <- r })
	if err != nil {
		return chatapi.CompletionResponse{}, err
	}
	if err := sched.Submit(t); err != nil {
		return chatapi.CompletionResponse{}, err
	}

	select {
	case resp := <-reply:
		return resp, nil
	case <-ctx.Done():
		return chatapi.CompletionResponse{}, apierr.Scheduler("request canceled: %v", ctx.Err())
	case <-time.After(chunkTimeout):
		t.Cancel()
		_, _, _ = w.adapter.RequestGenerate(handle, native.GenerateRequest{ID: t.ID, Stop: true})
		return chatapi.CompletionResponse{}, apierr.Scheduler("timed out waiting for response from %s", w.name)
	}
}

// StreamChat runs one streaming completion, forwarding each chunk on the
// returned channel as it arrives; the channel is closed once a chunk with a
// non-nil finish_reason is delivered, ctx is done, the per-chunk timeout
// ceiling is exceeded, or the model's MaxTokens chunks have been forwarded.
func (w *Wrapper) StreamChat(ctx context.Context, req chatapi.CompletionRequest) (<-chan chatapi.CompletionResponse, error) {
	sched, handle, err := w.enter()
	if err != nil {
		return nil, err
	}

	maxTokens := w.config.MaxTokens
	if maxTokens < 1 {
		maxTokens = 1
	}
	reply := make(chan chatapi.CompletionResponse, maxTokens)
	out := make(chan chatapi.CompletionResponse, maxTokens)

	t, err := w.buildTask(req, true, func(r chatapi.CompletionResponse) { reply <- r })
	if err != nil {
		w.leave()
		return nil, err
	}
	if err := sched.Submit(t); err != nil {
		w.leave()
		return nil, err
	}

	go func() {
		defer close(out)
		defer w.leave()
		for i := 0; i < maxTokens; i++ {
			select {
			case chunk, ok := <-reply:
				if !ok {
					return
				}
				out <- chunk
				if len(chunk.Choices) > 0 && chunk.Choices[0].FinishReason != nil {
					return
				}
			case <-ctx.Done():
				t.Cancel()
				return
			case <-time.After(chunkTimeout):
				t.Cancel()
				_, _, _ = w.adapter.RequestGenerate(handle, native.GenerateRequest{ID: t.ID, Stop: true})
				out <- chatapi.CompletionResponse{
					ID:    t.ID,
					Model: w.name,
					Choices: []chatapi.Choice{{
						FinishReason: finishReasonPtr(chatapi.FinishLength),
					}},
				}
				return
			}
		}
	}()

	return out, nil
}

func finishReasonPtr(r chatapi.FinishReason) *chatapi.FinishReason { return &r }
