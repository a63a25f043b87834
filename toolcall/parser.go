// Package toolcall detects an inline "<tool_call>...</tool_call>" marker in
// a growing model output stream and extracts the JSON payload it wraps.
package toolcall

import (
	"encoding/json"
	"log"
	"strings"

	"github.com/KamdynS/marathon/chatapi"
)

// Markers are overridable per model; the zero value uses the defaults.
type Markers struct {
	Start        string // default "<tool_call>"
	End          string // default "</tool_call>"
	NameKey      string // default "name"
	ArgumentsKey string // default "arguments"
}

// DefaultMarkers returns the standard marker set.
func DefaultMarkers() Markers {
	return Markers{Start: "<tool_call>", End: "</tool_call>", NameKey: "name", ArgumentsKey: "arguments"}
}

func (m Markers) withDefaults() Markers {
	d := DefaultMarkers()
	if m.Start == "" {
		m.Start = d.Start
	}
	if m.End == "" {
		m.End = d.End
	}
	if m.NameKey == "" {
		m.NameKey = d.NameKey
	}
	if m.ArgumentsKey == "" {
		m.ArgumentsKey = d.ArgumentsKey
	}
	return m
}

// Parser holds the streaming state machine's two flags between calls, plus
// the accumulated text not yet emitted as a delta.
type Parser struct {
	markers     Markers
	waiting     bool
	detected    bool
	accumulated strings.Builder
}

// New creates a parser for the given marker set (zero value uses defaults).
func New(markers Markers) *Parser {
	return &Parser{markers: markers.withDefaults()}
}

// Emission is the result of feeding one chunk to the parser. Exactly one of
// Text or ToolCall is meaningful, gated by Kind.
type Emission struct {
	Kind     EmissionKind
	Text     string
	ToolCall chatapi.ToolCall
}

// EmissionKind distinguishes the three outcomes of Feed.
type EmissionKind int

const (
	// EmissionNone means still buffering; nothing to surface yet.
	EmissionNone EmissionKind = iota
	// EmissionText means Text carries an incremental delta to append.
	EmissionText
	// EmissionToolCall means a complete tool call was detected; delta and
	// finish_reason should be rewritten by the caller.
	EmissionToolCall
)

// Feed appends one chunk of newly produced text and returns what, if
// anything, should be surfaced to the caller this turn.
func (p *Parser) Feed(chunk string) Emission {
	p.accumulated.WriteString(chunk)
	acc := p.accumulated.String()

	if !p.detected {
		if strings.Contains(acc, p.markers.Start) {
			p.detected = true
			p.waiting = false
		} else if isStrictPrefix(acc, p.markers.Start) {
			p.waiting = true
			return Emission{Kind: EmissionNone}
		} else {
			// Not a prefix of the marker and marker not present: flush as text.
			p.accumulated.Reset()
			return Emission{Kind: EmissionText, Text: acc}
		}
	}

	if p.detected {
		startIdx := strings.Index(acc, p.markers.Start)
		endIdx := strings.Index(acc, p.markers.End)
		if startIdx >= 0 && endIdx >= 0 && endIdx > startIdx {
			body := acc[startIdx+len(p.markers.Start) : endIdx]
			p.accumulated.Reset()
			p.detected = false
			p.waiting = false
			return p.parseBody(body)
		}
		// Still waiting on END; nothing to emit yet.
		return Emission{Kind: EmissionNone}
	}

	p.accumulated.Reset()
	return Emission{Kind: EmissionText, Text: acc}
}

// isStrictPrefix reports whether s is a non-empty, proper prefix of marker.
func isStrictPrefix(s, marker string) bool {
	if s == "" || len(s) >= len(marker) {
		return false
	}
	return strings.HasPrefix(marker, s)
}

func (p *Parser) parseBody(body string) Emission {
	var raw map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(body)), &raw); err != nil {
		log.Printf("toolcall: malformed tool_call JSON, surfacing empty arguments: %v", err)
		return Emission{Kind: EmissionToolCall, ToolCall: chatapi.ToolCall{
			Type:     "function",
			Function: chatapi.FunctionCall{Name: "", Arguments: ""},
		}}
	}
	name, _ := raw[p.markers.NameKey].(string)
	argsVal, hasArgs := raw[p.markers.ArgumentsKey]
	_, hasName := raw[p.markers.NameKey]
	if !hasName || !hasArgs {
		log.Printf("toolcall: tool_call JSON missing name/arguments, surfacing empty arguments")
		return Emission{Kind: EmissionToolCall, ToolCall: chatapi.ToolCall{
			Type:     "function",
			Function: chatapi.FunctionCall{Name: name, Arguments: ""},
		}}
	}

	var argsStr string
	if s, ok := argsVal.(string); ok {
		argsStr = s
	} else {
		b, err := json.Marshal(argsVal)
		if err != nil {
			argsStr = ""
		} else {
			argsStr = string(b)
		}
	}
	return Emission{Kind: EmissionToolCall, ToolCall: chatapi.ToolCall{
		Type:     "function",
		Function: chatapi.FunctionCall{Name: name, Arguments: argsStr},
	}}
}
