package native

import "testing"

func TestReassemblerWholeValidChunk(t *testing.T) {
	var r Reassembler
	got := r.Feed([]byte("hello"))
	if got != "hello" {
		t.Errorf("expected hello, got %q", got)
	}
}

func TestReassemblerSplitMultiByteRune(t *testing.T) {
	// "é" is 0xC3 0xA9 in UTF-8; split across two chunks.
	full := "café"
	b := []byte(full)
	split := len(b) - 1

	var r Reassembler
	first := r.Feed(b[:split])
	if first != "caf" {
		t.Fatalf("expected 'caf' emitted, held back split rune; got %q", first)
	}
	second := r.Feed(b[split:])
	if second != "é" {
		t.Errorf("expected trailing rune completed, got %q", second)
	}
}

func TestReassemblerForceFlushOnPersistentGarbage(t *testing.T) {
	var r Reassembler
	// Five invalid bytes never decode as valid UTF-8 on their own; once the
	// buffer exceeds the 4-byte threshold it force-flushes with replacement.
	garbage := []byte{0xff, 0xfe, 0xfd, 0xfc, 0xfb}
	got := r.Feed(garbage)
	if got == "" {
		t.Fatalf("expected forced flush to make forward progress")
	}
	if len(r.buf) != 0 {
		t.Errorf("expected buffer reset after forced flush, got %d bytes", len(r.buf))
	}
}

func TestReassemblerEmptyChunkNoOp(t *testing.T) {
	var r Reassembler
	if got := r.Feed(nil); got != "" {
		t.Errorf("expected empty emission for empty chunk, got %q", got)
	}
}

func TestMockAdapterScriptedSequence(t *testing.T) {
	m := NewMockAdapter()
	m.Script("req-1",
		MockStep{Finished: false, Content: []byte("hello ")},
		MockStep{Finished: true, Content: []byte("world")},
	)

	h, err := m.Init(`{}`)
	if err != nil || h == 0 {
		t.Fatalf("Init: h=%v err=%v", h, err)
	}

	finished, content, err := m.RequestPrompt(h, PromptRequest{ID: "req-1"})
	if err != nil || finished || string(content) != "hello " {
		t.Fatalf("RequestPrompt: finished=%v content=%q err=%v", finished, content, err)
	}
	finished, content, err = m.RequestGenerate(h, GenerateRequest{ID: "req-1"})
	if err != nil || !finished || string(content) != "world" {
		t.Fatalf("RequestGenerate: finished=%v content=%q err=%v", finished, content, err)
	}
}
