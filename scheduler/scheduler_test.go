package scheduler

import (
	"testing"
	"time"

	"github.com/KamdynS/marathon/chatapi"
	"github.com/KamdynS/marathon/native"
	"github.com/KamdynS/marathon/promptmatch"
	"github.com/KamdynS/marathon/task"
	"github.com/KamdynS/marathon/toolcall"
)

func newTestTask(id string, priority int, done chan<- string) *task.Task {
	req := task.Request{ID: id, ModelName: "m", MaxTokens: 1, Stream: false, ToolMarkers: toolcall.DefaultMarkers()}
	return task.New(id, "label", priority, req, func(chatapi.CompletionResponse) {
		done <- id
	})
}

func TestClassifyMatchedTemplateUsesFirstPlaceholder(t *testing.T) {
	matcher, err := promptmatch.New([]promptmatch.Template{
		{Key: "summarize", Variants: map[promptmatch.Language]string{
			promptmatch.LangDefault: "Summarize this for {user}: {body}",
		}},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	label, priority := Classify(matcher, map[string]int{"summarize": 5}, "Summarize this for alice: hello")
	if label != "summarize_alice" {
		t.Errorf("expected label summarize_alice, got %q", label)
	}
	if priority != 5 {
		t.Errorf("expected priority 5, got %d", priority)
	}
}

func TestClassifyUnmatchedFallsBackToDefaultWorker(t *testing.T) {
	matcher, _ := promptmatch.New([]promptmatch.Template{
		{Key: "summarize", Variants: map[promptmatch.Language]string{promptmatch.LangDefault: "Summarize {x}"}},
	})
	label, priority := Classify(matcher, nil, "totally unrelated text")
	if label != DefaultWorkerLabel || priority != DefaultWorkerPriority {
		t.Errorf("expected DefaultWorker/0, got %q/%d", label, priority)
	}
}

func TestSubmitRejectsWhenQueueFull(t *testing.T) {
	adapter := native.NewMockAdapter()
	s := New(adapter, native.Handle(1), Config{WorkerCount: 1, MaxQueueSize: 1}, time.Minute)
	// Scheduler not started: nothing dequeues, so the second submit must see
	// the queue already at capacity.
	done := make(chan string, 2)
	if err := s.Submit(newTestTask("t1", 0, done)); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	err := s.Submit(newTestTask("t2", 0, done))
	if err == nil {
		t.Fatalf("expected second submit to fail on a full queue")
	}
}

func TestSchedulerDispatchesHighestPriorityFirst(t *testing.T) {
	adapter := native.NewMockAdapter()
	s := New(adapter, native.Handle(1), Config{WorkerCount: 1, MaxQueueSize: 10}, time.Minute)

	done := make(chan string, 3)
	if err := s.Submit(newTestTask("low", 0, done)); err != nil {
		t.Fatalf("submit low: %v", err)
	}
	if err := s.Submit(newTestTask("high", 5, done)); err != nil {
		t.Fatalf("submit high: %v", err)
	}

	s.Start()
	defer s.Stop()

	first := <-done
	if first != "high" {
		t.Errorf("expected higher-priority task dispatched first, got %q", first)
	}
	second := <-done
	if second != "low" {
		t.Errorf("expected low-priority task dispatched second, got %q", second)
	}
}

func TestStopJoinsWorkers(t *testing.T) {
	adapter := native.NewMockAdapter()
	s := New(adapter, native.Handle(1), Config{WorkerCount: 2, MaxQueueSize: 10}, time.Minute)
	s.Start()
	s.Stop()
	if s.isRunning() {
		t.Errorf("expected scheduler to report stopped after Stop")
	}
}
