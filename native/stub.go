//go:build !native

package native

import "fmt"

// StubAdapter satisfies Adapter without linking against the native
// library. It backs default (non-`native`-tagged) builds and tests; a real
// deployment builds with `-tags native` to link native.go's cgo adapter
// instead.
type StubAdapter struct{}

// NewCLibraryAdapter mirrors the native build's constructor name so callers
// (config-driven wiring in cmd/) don't need a build-tag switch of their own.
func NewCLibraryAdapter() *StubAdapter {
	return &StubAdapter{}
}

// Init always succeeds, returning a non-zero placeholder handle.
func (a *StubAdapter) Init(configJSON string) (Handle, error) {
	return Handle(1), nil
}

// Free succeeds for any non-zero handle and reports an error for zero.
func (a *StubAdapter) Free(h Handle) error {
	if h == 0 {
		return fmt.Errorf("native: free called with zero handle")
	}
	return nil
}

// RequestPrompt returns an immediately-finished empty response; real
// exercising of the prompt/generate loop is done against a test double
// (see MockAdapter) rather than this build's stub.
func (a *StubAdapter) RequestPrompt(h Handle, req PromptRequest) (bool, []byte, error) {
	return true, nil, nil
}

// RequestGenerate returns an immediately-finished empty response.
func (a *StubAdapter) RequestGenerate(h Handle, req GenerateRequest) (bool, []byte, error) {
	return true, nil, nil
}
