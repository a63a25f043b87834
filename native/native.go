//go:build native

package native

/*
#cgo LDFLAGS: -lllama-mico
#include <stdlib.h>

extern int32_t llama_mico_init(const char* config_json, void** handle);
extern int32_t llama_mico_free(void* handle);
extern int32_t llama_mico_request_prompt(void* handle, const char* request_json, int32_t* is_finished, char** content);
extern int32_t llama_mico_request_generate(void* handle, const char* request_json, int32_t* is_finished, char** content);
*/
import "C"

import (
	"encoding/json"
	"fmt"
	"sync"
	"unsafe"
)

// CLibraryAdapter drives the llama-mico shared library directly through
// cgo. The library is loaded once per process (the dynamic linker resolves
// the extern symbols at load time); this type only serializes calls that
// touch a given handle's C-side state, mirroring the Python singleton
// LibraryManager's lazy, double-checked-locked construction.
type CLibraryAdapter struct {
	mu sync.Mutex
}

// NewCLibraryAdapter returns an Adapter backed by the linked native library.
func NewCLibraryAdapter() *CLibraryAdapter {
	return &CLibraryAdapter{}
}

// Init loads a model and returns its opaque handle.
func (a *CLibraryAdapter) Init(configJSON string) (Handle, error) {
	cConfig := C.CString(configJSON)
	defer C.free(unsafe.Pointer(cConfig))

	var cHandle unsafe.Pointer
	rc := C.llama_mico_init(cConfig, &cHandle)
	if rc != 0 {
		return 0, fmt.Errorf("native: init failed with code %d", int(rc))
	}
	return Handle(uintptr(cHandle)), nil
}

// Free releases a loaded model's handle.
func (a *CLibraryAdapter) Free(h Handle) error {
	rc := C.llama_mico_free(unsafe.Pointer(uintptr(h)))
	if rc != 0 {
		return fmt.Errorf("native: free failed with code %d", int(rc))
	}
	return nil
}

// RequestPrompt issues the initial "prompt" call for a request.
func (a *CLibraryAdapter) RequestPrompt(h Handle, req PromptRequest) (bool, []byte, error) {
	return a.call(h, false, req)
}

// RequestGenerate issues a subsequent "generate" call for a request.
func (a *CLibraryAdapter) RequestGenerate(h Handle, req GenerateRequest) (bool, []byte, error) {
	return a.call(h, true, req)
}

func (a *CLibraryAdapter) call(h Handle, generate bool, req any) (bool, []byte, error) {
	body, err := marshalRequest(req)
	if err != nil {
		return false, nil, fmt.Errorf("native: marshaling request: %w", err)
	}
	cReq := C.CString(body)
	defer C.free(unsafe.Pointer(cReq))

	var finished C.int32_t
	var content *C.char

	a.mu.Lock()
	var rc C.int32_t
	if generate {
		rc = C.llama_mico_request_generate(unsafe.Pointer(uintptr(h)), cReq, &finished, &content)
	} else {
		rc = C.llama_mico_request_prompt(unsafe.Pointer(uintptr(h)), cReq, &finished, &content)
	}
	a.mu.Unlock()

	if content != nil {
		defer C.free(unsafe.Pointer(content))
	}
	out := []byte(C.GoString(content))
	if rc != 0 {
		return false, out, fmt.Errorf("native: call failed with code %d: %s", int(rc), string(out))
	}
	return finished != 0, out, nil
}

func marshalRequest(req any) (string, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
