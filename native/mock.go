package native

import "sync"

// MockAdapter is a scriptable Adapter test double: each request id is
// driven by a queue of (finished, content, err) steps, one per call,
// consumed by RequestPrompt then successive RequestGenerate calls.
type MockAdapter struct {
	mu    sync.Mutex
	steps map[string][]MockStep
	calls []MockCall
}

// MockStep is one scripted (finished, content, err) return.
type MockStep struct {
	Finished bool
	Content  []byte
	Err      error
}

// MockCall records one call made against the adapter, for assertions.
type MockCall struct {
	Kind string // "init", "free", "prompt", "generate"
	ID   string
}

// NewMockAdapter returns an empty MockAdapter; use Script to queue steps.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{steps: make(map[string][]MockStep)}
}

// Script queues steps for a request id, consumed in order by the first
// RequestPrompt call then successive RequestGenerate calls.
func (m *MockAdapter) Script(id string, steps ...MockStep) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps[id] = steps
}

// Calls returns a snapshot of every call made so far.
func (m *MockAdapter) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *MockAdapter) Init(configJSON string) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{Kind: "init"})
	return Handle(1), nil
}

func (m *MockAdapter) Free(h Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{Kind: "free"})
	return nil
}

func (m *MockAdapter) RequestPrompt(h Handle, req PromptRequest) (bool, []byte, error) {
	return m.step("prompt", req.ID)
}

func (m *MockAdapter) RequestGenerate(h Handle, req GenerateRequest) (bool, []byte, error) {
	return m.step("generate", req.ID)
}

func (m *MockAdapter) step(kind, id string) (bool, []byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{Kind: kind, ID: id})
	steps := m.steps[id]
	if len(steps) == 0 {
		return true, nil, nil
	}
	next := steps[0]
	m.steps[id] = steps[1:]
	return next.Finished, next.Content, next.Err
}
