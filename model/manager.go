package model

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/KamdynS/marathon/accelerator"
	"github.com/KamdynS/marathon/apierr"
	"github.com/KamdynS/marathon/chatapi"
	"github.com/KamdynS/marathon/content"
	"github.com/KamdynS/marathon/native"
	"github.com/KamdynS/marathon/promptmatch"
	"github.com/KamdynS/marathon/telemetry"
)

const cleanupInterval = 60 * time.Second

// managerChunkCeiling is the wrapper's 30s ceiling plus one second of
// manager-level slack, per §4.8.
const managerChunkCeiling = 31 * time.Second

// Manager is the singleton catalog owner: one Wrapper per configured model,
// the single-loader latch, and the periodic cleanup tick.
type Manager struct {
	concurrency ConcurrencyConfig
	autoOptVRAM bool
	newAdapter  func() native.Adapter

	// Hooks is optional; a nil value (the default) disables all callbacks.
	Hooks *telemetry.Hooks

	mu       sync.Mutex
	wrappers map[string]*Wrapper
	order    []string // catalog order as built by Start (map iteration order of its configs)
	loadedAt map[string]bool

	loadLatch chan struct{}

	stopCleanup chan struct{}
	cleanupWG   sync.WaitGroup
}

// NewManager constructs a Manager; newAdapter is called once per model at
// construction so each Wrapper gets an independent adapter instance (the
// native library keeps per-handle state, not global state).
func NewManager(concurrency ConcurrencyConfig, autoOptVRAM bool, newAdapter func() native.Adapter) *Manager {
	return &Manager{
		concurrency: concurrency,
		autoOptVRAM: autoOptVRAM,
		newAdapter:  newAdapter,
		wrappers:    make(map[string]*Wrapper),
		loadedAt:    make(map[string]bool),
		loadLatch:   make(chan struct{}, 1),
	}
}

// Start constructs one Wrapper per configured model (without loading any)
// and schedules the periodic cleanup tick.
func (m *Manager) Start(configs map[string]Config, matcher *promptmatch.Matcher, preproc *content.Preprocessor) {
	m.mu.Lock()
	for name, cfg := range configs {
		w := NewWrapper(name, cfg, m.newAdapter(), matcher, preproc, m.concurrency)
		w.Hooks = m.Hooks
		m.wrappers[name] = w
		m.order = append(m.order, name)
	}
	m.loadLatch <- struct{}{} // latch starts free
	stopCh := make(chan struct{})
	m.stopCleanup = stopCh
	m.mu.Unlock()

	m.cleanupWG.Add(1)
	go m.cleanupLoop(stopCh)
}

// Stop cancels the cleanup tick and unloads every loaded model, walking the
// catalog order recorded by Start in reverse, then drops the catalog. That
// order is not the order in which models were loaded.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopCleanup != nil {
		close(m.stopCleanup)
		m.stopCleanup = nil
	}
	order := append([]string(nil), m.order...)
	m.mu.Unlock()

	m.cleanupWG.Wait()

	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]
		if err := m.AutoUnload(name); err != nil {
			log.Printf("manager: error unloading %s during stop: %v", name, err)
		}
	}

	m.mu.Lock()
	m.wrappers = make(map[string]*Wrapper)
	m.order = nil
	m.mu.Unlock()
}

func (m *Manager) cleanupLoop(stopCh <-chan struct{}) {
	defer m.cleanupWG.Done()
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.broadcastCleanup()
		case <-stopCh:
			return
		}
	}
}

func (m *Manager) broadcastCleanup() {
	m.mu.Lock()
	wrappers := make([]*Wrapper, 0, len(m.wrappers))
	for _, w := range m.wrappers {
		wrappers = append(wrappers, w)
	}
	m.mu.Unlock()
	for _, w := range wrappers {
		if w.Status() == StatusNotLoaded {
			continue
		}
		log.Printf("manager: cleanup tick for %s (status=%s)", w.name, w.Status())
	}
}

func (m *Manager) wrapper(name string) (*Wrapper, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wrappers[name]
	if !ok {
		return nil, apierr.ModelManager("model %q is not configured", name)
	}
	return w, nil
}

// AutoLoad idempotently loads a configured model, adjusting its runtime
// parameters against free accelerator memory under the single-loader latch.
func (m *Manager) AutoLoad(name string) error {
	w, err := m.wrapper(name)
	if err != nil {
		return err
	}
	if w.Status() != StatusNotLoaded {
		return nil
	}

	<-m.loadLatch
	defer func() { m.loadLatch <- struct{}{} }()

	if m.autoOptVRAM {
		m.adjustForAvailableMemory(w)
	}

	err = w.Load()
	m.Hooks.SafeModelLoad(context.Background(), name, err)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.loadedAt[name] = true
	m.mu.Unlock()
	return nil
}

// adjustForAvailableMemory shrinks context_per_seq, n_seq_max, or chunk_size
// until the estimated VRAM usage fits free accelerator memory, per §4.8's
// single-loader invariant. Mutates w.config in place before Load runs.
func (m *Manager) adjustForAvailableMemory(w *Wrapper) {
	info, ok := accelerator.Probe()
	if !ok {
		return
	}
	for i := 0; i < 32; i++ {
		estimate := EstimateVRAMUsage(w.config.ModelPath, w.config.MMProjPath, w.config.ContextPerSeq, w.config.ChunkSize)
		if estimate < 0 || estimate <= info.FreeGB {
			return
		}
		switch {
		case w.config.ContextPerSeq > 512:
			w.config.ContextPerSeq /= 2
		case w.config.NSeqMax > 1:
			w.config.NSeqMax--
		case w.config.ChunkSize > 64:
			w.config.ChunkSize /= 2
		default:
			log.Printf("manager: cannot shrink %s further to fit %.2fGB free (estimate %.2fGB)", w.name, info.FreeGB, estimate)
			return
		}
	}
}

// AutoUnload idempotently unloads a configured model.
func (m *Manager) AutoUnload(name string) error {
	w, err := m.wrapper(name)
	if err != nil {
		return err
	}
	if w.Status() == StatusNotLoaded {
		return nil
	}
	err = w.Unload()
	m.Hooks.SafeModelUnload(context.Background(), name, err)
	if err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.loadedAt, name)
	m.mu.Unlock()
	return nil
}

// ChatCompletions rejects unless name is loaded, then dispatches to the
// wrapper under a 31-second ceiling.
func (m *Manager) ChatCompletions(ctx context.Context, name string, req chatapi.CompletionRequest) (chatapi.CompletionResponse, error) {
	w, err := m.loadedWrapper(name)
	if err != nil {
		return chatapi.CompletionResponse{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, managerChunkCeiling)
	defer cancel()
	return w.Chat(ctx, req)
}

// ChatCompletionsStream is the streaming counterpart of ChatCompletions.
func (m *Manager) ChatCompletionsStream(ctx context.Context, name string, req chatapi.CompletionRequest) (<-chan chatapi.CompletionResponse, error) {
	w, err := m.loadedWrapper(name)
	if err != nil {
		return nil, err
	}
	return w.StreamChat(ctx, req)
}

func (m *Manager) loadedWrapper(name string) (*Wrapper, error) {
	w, err := m.wrapper(name)
	if err != nil {
		return nil, err
	}
	if w.Status() == StatusNotLoaded {
		return nil, apierr.ModelManager("model %q is not loaded", name)
	}
	return w, nil
}

// VRAMUsage queries the accelerator probe; zero on failure.
func (m *Manager) VRAMUsage() chatapi.VRAMUsage {
	info, ok := accelerator.Probe()
	if !ok {
		return chatapi.VRAMUsage{}
	}
	return chatapi.VRAMUsage{Total: info.TotalGB, Free: info.FreeGB}
}

// ModelDescription composes a model's static config with a VRAM estimate.
func (m *Manager) ModelDescription(name string) (chatapi.ModelDescription, error) {
	w, err := m.wrapper(name)
	if err != nil {
		return chatapi.ModelDescription{}, err
	}
	estimate := EstimateVRAMUsage(w.config.ModelPath, w.config.MMProjPath, w.config.ContextPerSeq, w.config.ChunkSize)
	return chatapi.ModelDescription{
		ModelInfo: chatapi.ModelInfo{
			ID:      name,
			Object:  "model",
			OwnedBy: "local",
		},
		Loaded:            w.Status() != StatusNotLoaded,
		EstimateVRAMUsage: estimate,
	}, nil
}

// ListModels returns every configured model's minimal listing entry.
func (m *Manager) ListModels() []chatapi.ModelInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]chatapi.ModelInfo, 0, len(m.wrappers))
	for _, name := range m.order {
		out = append(out, chatapi.ModelInfo{ID: name, Object: "model", OwnedBy: "local"})
	}
	return out
}

// ListDescriptions returns every configured model's full description.
func (m *Manager) ListDescriptions() []chatapi.ModelDescription {
	m.mu.Lock()
	names := append([]string(nil), m.order...)
	m.mu.Unlock()
	out := make([]chatapi.ModelDescription, 0, len(names))
	for _, name := range names {
		desc, err := m.ModelDescription(name)
		if err != nil {
			continue
		}
		out = append(out, desc)
	}
	return out
}
