package toolcall

import "testing"

func TestFeedPlainTextEmitsImmediately(t *testing.T) {
	p := New(DefaultMarkers())
	e := p.Feed("hello world")
	if e.Kind != EmissionText || e.Text != "hello world" {
		t.Fatalf("expected immediate text emission, got %+v", e)
	}
}

func TestFeedSplitMarkerAcrossChunksDetectsToolCall(t *testing.T) {
	p := New(DefaultMarkers())
	if e := p.Feed("<tool_"); e.Kind != EmissionNone {
		t.Fatalf("expected buffering while marker is split, got %+v", e)
	}
	if e := p.Feed("call>\n{\"name\":\"get_weather\",\"arguments\":{\"city\":\"Beijing\"}}\n"); e.Kind != EmissionNone {
		t.Fatalf("expected still waiting on end marker, got %+v", e)
	}
	e := p.Feed("</tool_call>")
	if e.Kind != EmissionToolCall {
		t.Fatalf("expected tool call emission, got %+v", e)
	}
	if e.ToolCall.Function.Name != "get_weather" {
		t.Errorf("expected name get_weather, got %q", e.ToolCall.Function.Name)
	}
	if e.ToolCall.Function.Arguments == "" {
		t.Errorf("expected non-empty arguments")
	}
}

func TestFeedMalformedJSONEmitsEmptyArguments(t *testing.T) {
	p := New(DefaultMarkers())
	p.Feed("<tool_call>")
	e := p.Feed("{not valid json</tool_call>")
	if e.Kind != EmissionToolCall {
		t.Fatalf("expected tool call emission even for malformed json, got %+v", e)
	}
	if e.ToolCall.Function.Arguments != "" {
		t.Errorf("expected empty arguments for malformed json, got %q", e.ToolCall.Function.Arguments)
	}
}

func TestFeedMissingFieldsEmitsEmptyArguments(t *testing.T) {
	p := New(DefaultMarkers())
	p.Feed("<tool_call>")
	e := p.Feed(`{"name":"only_name"}</tool_call>`)
	if e.Kind != EmissionToolCall {
		t.Fatalf("expected tool call emission, got %+v", e)
	}
	if e.ToolCall.Function.Name != "only_name" {
		t.Errorf("expected name preserved, got %q", e.ToolCall.Function.Name)
	}
	if e.ToolCall.Function.Arguments != "" {
		t.Errorf("expected empty arguments when arguments key missing, got %q", e.ToolCall.Function.Arguments)
	}
}
