package task

import (
	"runtime"
	"time"
	"unsafe"

	"github.com/KamdynS/marathon/apierr"
	"github.com/KamdynS/marathon/chatapi"
	"github.com/KamdynS/marathon/native"
	"github.com/KamdynS/marathon/toolcall"
)

// interCallSleep avoids tight-looping between adjacent generate calls.
const interCallSleep = time.Millisecond

// run drives the prompt->generate loop: one request_prompt call followed
// by repeated request_generate calls, reassembling UTF-8 output and
// applying the tool-call parser at each step, until a finish reason is set
// or MaxTokens iterations elapse. It delivers chunks via t.callback as it
// goes (streaming) or accumulates and delivers once at the end (non-stream).
func (t *Task) run(adapter native.Adapter, handle native.Handle) (chatapi.FinishReason, error) {
	req := t.request
	reassembler := &native.Reassembler{}
	parser := toolcall.New(req.ToolMarkers)

	pinner, descriptors := pinModalBuffers(req.Descriptors, req.ModalBuffers)
	defer pinner.Unpin()

	promptReq := native.PromptRequest{
		ID:          req.ID,
		Messages:    marshalMessages(req.Messages),
		Tools:       marshalTools(req.Tools),
		Stop:        false,
		ModalPtrs:   native.ModalPtrsJSON(descriptors),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}

	finished, content, err := adapter.RequestPrompt(handle, promptReq)
	if err != nil {
		return "", apierr.CoreNormal("request_prompt failed: %v", err)
	}

	var accumulated string
	var toolCalls []chatapi.ToolCall
	var finishReason chatapi.FinishReason
	objectKind := chatapi.ObjectChatCompletion
	if req.Stream {
		objectKind = chatapi.ObjectChatCompletionChunk
	}

	emit := func(frag string, toolCall *chatapi.ToolCall, reason *chatapi.FinishReason) {
		accumulated += frag
		if toolCall != nil {
			toolCalls = append(toolCalls, *toolCall)
		}
		if !req.Stream {
			return
		}
		msg := &chatapi.Message{Role: chatapi.RoleAssistant, RawContent: frag}
		if toolCall != nil {
			msg.RawContent = ""
			msg.ToolCalls = []chatapi.ToolCall{*toolCall}
		}
		t.callback(chatapi.CompletionResponse{
			ID:      req.ID,
			Object:  objectKind,
			Model:   req.ModelName,
			Choices: []chatapi.Choice{{Index: 0, Delta: msg, FinishReason: reason}},
		})
	}

	processChunk := func(raw []byte) {
		text := reassembler.Feed(raw)
		if text == "" {
			return
		}
		emission := parser.Feed(text)
		switch emission.Kind {
		case toolcall.EmissionText:
			emit(emission.Text, nil, nil)
		case toolcall.EmissionToolCall:
			reason := chatapi.FinishToolCall
			finishReason = reason
			emit("", &emission.ToolCall, &reason)
		}
	}

	processChunk(content)
	if finished {
		finishReason = chatapi.FinishStop
	}

	iterations := 0
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1
	}
	for finishReason == "" && iterations < maxTokens {
		if t.isCancelled() {
			break
		}
		iterations++
		finished, content, err = adapter.RequestGenerate(handle, native.GenerateRequest{ID: req.ID, Stop: false})
		if err != nil {
			return "", apierr.CoreNormal("request_generate failed: %v", err)
		}
		processChunk(content)
		if finished && finishReason == "" {
			finishReason = chatapi.FinishStop
		}
		time.Sleep(interCallSleep)
	}

	if finishReason == "" {
		finishReason = chatapi.FinishLength
	}

	if !req.Stream {
		msg := &chatapi.Message{Role: chatapi.RoleAssistant, RawContent: accumulated}
		if len(toolCalls) > 0 {
			msg.ToolCalls = toolCalls
		}
		reason := finishReason
		t.callback(chatapi.CompletionResponse{
			ID:      req.ID,
			Object:  objectKind,
			Model:   req.ModelName,
			Choices: []chatapi.Choice{{Index: 0, Message: msg, FinishReason: &reason}},
		})
	} else if finishReason != chatapi.FinishToolCall {
		// The tool-call branch already emitted its own terminal chunk with a
		// finish_reason; every other terminal path needs one final empty
		// chunk carrying the finish_reason so the SSE consumer can stop.
		reason := finishReason
		t.callback(chatapi.CompletionResponse{
			ID:      req.ID,
			Object:  objectKind,
			Model:   req.ModelName,
			Choices: []chatapi.Choice{{Index: 0, Delta: &chatapi.Message{Role: chatapi.RoleAssistant, RawContent: ""}, FinishReason: &reason}},
		})
	}

	return finishReason, nil
}

// pinModalBuffers pins every non-empty buffer for the duration of the
// native calls below and returns descriptors carrying each buffer's real
// address, so the native library reads actual pixel data instead of the
// zero address. The returned Pinner must be unpinned once those calls
// (request_prompt and any request_generate calls that follow it for this
// request) have returned.
func pinModalBuffers(descs []native.ModalDescriptor, buffers [][]byte) (*runtime.Pinner, []native.ModalDescriptor) {
	pinner := &runtime.Pinner{}
	out := make([]native.ModalDescriptor, len(descs))
	copy(out, descs)
	for i, buf := range buffers {
		if i >= len(out) || len(buf) == 0 {
			continue
		}
		ptr := &buf[0]
		pinner.Pin(ptr)
		out[i].Addr = uintptr(unsafe.Pointer(ptr))
	}
	return pinner, out
}
