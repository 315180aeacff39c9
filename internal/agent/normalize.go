package agent

import (
	"encoding/json"
	"strings"
	"time"
)

type pendingTool struct {
	name  string
	title string
	kind  ToolKind
}

// Normalizer maps decoded wire records onto the stable Event vocabulary and
// accumulates the turn summary. One Normalizer serves exactly one process
// invocation; it is not safe for concurrent use.
type Normalizer struct {
	sessionID string
	started   bool
	completed bool

	pending   map[string]pendingTool
	startedID map[string]bool

	seenTools map[string]bool
	toolsUsed []string

	resultText string
	resultOK   bool
	resultDur  time.Duration
}

// NewNormalizer returns a Normalizer for a fresh process invocation.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		pending:   make(map[string]pendingTool),
		startedID: make(map[string]bool),
		seenTools: make(map[string]bool),
	}
}

// Apply maps one record onto zero or more normalized events. Unrecognized
// record types produce no events, matching the decoder's lenient stance.
func (n *Normalizer) Apply(rec Record) []Event {
	if n.completed {
		return nil
	}
	switch rec.Type {
	case "system":
		return n.applySystem(rec)
	case "assistant":
		return n.applyAssistant(rec)
	case "user":
		return n.applyUser(rec)
	case "result":
		return n.applyResult(rec)
	default:
		return nil
	}
}

// applySystem handles the init handshake, the only path by which a session
// id is learned for a newly created session.
func (n *Normalizer) applySystem(rec Record) []Event {
	if rec.Subtype != "init" || rec.SessionID == "" || n.started {
		return nil
	}
	n.started = true
	n.sessionID = rec.SessionID
	return []Event{{Type: EventStarted, SessionID: rec.SessionID}}
}

func (n *Normalizer) applyAssistant(rec Record) []Event {
	if rec.Message == nil {
		return nil
	}
	var evs []Event
	for _, block := range rec.Message.Content {
		switch block.Type {
		case "text":
			// One event per block, in order; no concatenation.
			evs = append(evs, Event{
				Type:      EventText,
				SessionID: n.sessionID,
				Content:   block.Text,
			})
		case "tool_use":
			if ev, ok := n.toolStart(block); ok {
				evs = append(evs, ev)
			}
		}
	}
	return evs
}

func (n *Normalizer) toolStart(block WireBlock) (Event, bool) {
	if block.ID != "" && n.startedID[block.ID] {
		return Event{}, false
	}
	if block.ID != "" {
		n.startedID[block.ID] = true
	}

	title, kind := classifyTool(block.Name, block.Input)
	n.pending[block.ID] = pendingTool{name: block.Name, title: title, kind: kind}

	if block.Name != "" && !n.seenTools[block.Name] {
		n.seenTools[block.Name] = true
		n.toolsUsed = append(n.toolsUsed, block.Name)
	}

	return Event{
		Type:      EventToolStart,
		SessionID: n.sessionID,
		ToolID:    block.ID,
		ToolName:  block.Name,
		Title:     title,
		Kind:      kind,
	}, true
}

func (n *Normalizer) applyUser(rec Record) []Event {
	// Older wire variant: a bare result payload with no invocation id.
	// It ends "some" pending tool; callers must tolerate the missing id.
	if rec.Message == nil || len(rec.Message.Content) == 0 {
		if len(rec.ToolUseResult) == 0 {
			return nil
		}
		return []Event{{
			Type:      EventToolEnd,
			SessionID: n.sessionID,
			Content:   flattenResult(rec.ToolUseResult),
			OK:        true,
		}}
	}

	var evs []Event
	for _, block := range rec.Message.Content {
		if block.Type != "tool_result" {
			continue
		}
		ev := Event{
			Type:      EventToolEnd,
			SessionID: n.sessionID,
			ToolID:    block.ToolUseID,
			Content:   flattenResult(block.Content),
			OK:        !block.IsError,
		}
		if p, ok := n.pending[block.ToolUseID]; ok {
			ev.ToolName = p.name
			ev.Title = p.title
			ev.Kind = p.kind
			delete(n.pending, block.ToolUseID)
		}
		evs = append(evs, ev)
	}
	return evs
}

// applyResult is terminal: no events follow the completed event.
func (n *Normalizer) applyResult(rec Record) []Event {
	n.completed = true
	n.resultText = rec.Result
	n.resultOK = !rec.IsError
	n.resultDur = time.Duration(rec.DurationMS) * time.Millisecond
	if rec.SessionID != "" {
		n.sessionID = rec.SessionID
	}
	return []Event{{
		Type:      EventCompleted,
		SessionID: n.sessionID,
		Content:   rec.Result,
		OK:        n.resultOK,
		Duration:  n.resultDur,
	}}
}

// Completed reports whether a result record was observed.
func (n *Normalizer) Completed() bool {
	return n.completed
}

// SessionID returns the session id announced by the init record, or the
// empty string if the process died before announcing one.
func (n *Normalizer) SessionID() string {
	return n.sessionID
}

// ToolsUsed returns tool names deduplicated in first-use order.
func (n *Normalizer) ToolsUsed() []string {
	return n.toolsUsed
}

// Summary returns the Turn Result accumulated from the completed protocol,
// and false if the process never produced a result record.
func (n *Normalizer) Summary() (TurnResult, bool) {
	if !n.completed {
		return TurnResult{}, false
	}
	return TurnResult{
		SessionID: n.sessionID,
		Text:      n.resultText,
		Duration:  n.resultDur,
		OK:        n.resultOK,
		ToolsUsed: n.toolsUsed,
	}, true
}

// classifyTool derives a human-meaningful title and display kind from a
// tool name and its input payload.
func classifyTool(name string, input json.RawMessage) (string, ToolKind) {
	var in map[string]any
	if len(input) > 0 {
		// Best effort; an unparseable input degrades to the tool name.
		_ = json.Unmarshal(input, &in)
	}
	field := func(key string) string {
		v, _ := in[key].(string)
		return v
	}
	titled := func(title string, kind ToolKind) (string, ToolKind) {
		if title == "" {
			title = name
		}
		return title, kind
	}

	switch name {
	case "Bash":
		return titled(field("command"), KindCommand)
	case "Edit", "Write", "MultiEdit", "NotebookEdit":
		return titled(field("file_path"), KindFileChange)
	case "WebSearch":
		return titled(field("query"), KindWebSearch)
	case "WebFetch":
		return titled(field("url"), KindWebSearch)
	}
	if strings.Contains(strings.ToLower(name), "note") {
		return titled("", KindNote)
	}
	return titled("", KindTool)
}

// flattenResult reduces a tool result payload to display text. String
// payloads pass through; array payloads contribute their embedded text
// fields; any other shape is JSON-stringified.
func flattenResult(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var arr []any
	if err := json.Unmarshal(raw, &arr); err == nil {
		parts := make([]string, 0, len(arr))
		for _, item := range arr {
			switch v := item.(type) {
			case string:
				parts = append(parts, v)
			case map[string]any:
				if text, ok := v["text"].(string); ok {
					parts = append(parts, text)
				}
			}
		}
		return strings.Join(parts, "\n")
	}
	return string(raw)
}
