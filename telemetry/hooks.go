// Package telemetry provides optional callbacks for logging and tracing
// without introducing a logging dependency into the core library.
package telemetry

import "context"

// Hooks holds optional callbacks. A nil field is simply skipped; a nil
// *Hooks receiver is safe to call through the Safe* methods.
type Hooks struct {
	// Logf logs a structured message with a severity level and fields.
	Logf func(ctx context.Context, level string, msg string, fields map[string]any)

	// OnModelLoad fires after a load attempt (err nil on success).
	OnModelLoad func(ctx context.Context, model string, err error)
	// OnModelUnload fires after an unload attempt.
	OnModelUnload func(ctx context.Context, model string, err error)
	// OnTaskDispatch fires when a worker dequeues a task.
	OnTaskDispatch func(ctx context.Context, model string, taskID string, priority int)
}

// SafeLog logs if Logf is configured.
func (h *Hooks) SafeLog(ctx context.Context, level string, msg string, fields map[string]any) {
	if h != nil && h.Logf != nil {
		h.Logf(ctx, level, msg, fields)
	}
}

// SafeModelLoad invokes OnModelLoad if configured.
func (h *Hooks) SafeModelLoad(ctx context.Context, model string, err error) {
	if h != nil && h.OnModelLoad != nil {
		h.OnModelLoad(ctx, model, err)
	}
}

// SafeModelUnload invokes OnModelUnload if configured.
func (h *Hooks) SafeModelUnload(ctx context.Context, model string, err error) {
	if h != nil && h.OnModelUnload != nil {
		h.OnModelUnload(ctx, model, err)
	}
}

// SafeTaskDispatch invokes OnTaskDispatch if configured.
func (h *Hooks) SafeTaskDispatch(ctx context.Context, model string, taskID string, priority int) {
	if h != nil && h.OnTaskDispatch != nil {
		h.OnTaskDispatch(ctx, model, taskID, priority)
	}
}
