// Package agent orchestrates turns against an external coding-agent CLI.
//
// A turn spawns the agent binary in stream-json mode, decodes its
// line-delimited event protocol, and normalizes the wire records into a
// small stable event vocabulary that the rest of the system consumes.
// Concurrent messages for the same session are serialized through
// SessionLocks and Queue; timeouts and cancellation escalate from a
// graceful terminate to a forceful kill.
package agent

import "time"

// EventType identifies a normalized turn-progress event.
type EventType string

const (
	// EventStarted announces the session id assigned by the agent process.
	// Exactly one started event precedes all others for a given invocation.
	EventStarted EventType = "started"
	// EventText carries one assistant text block, verbatim.
	EventText EventType = "text"
	// EventToolStart announces a tool invocation. Emitted at most once per
	// tool invocation id.
	EventToolStart EventType = "tool_start"
	// EventToolEnd reports a tool result. A tool_end without a ToolID means
	// some unspecified pending tool finished (older wire variant).
	EventToolEnd EventType = "tool_end"
	// EventCompleted is terminal: the agent produced its final result.
	EventCompleted EventType = "completed"
)

// ToolKind classifies a tool invocation for display purposes.
type ToolKind string

const (
	// KindCommand is a shell command execution.
	KindCommand ToolKind = "command"
	// KindTool is a generic tool invocation.
	KindTool ToolKind = "tool"
	// KindFileChange is a file create/edit operation.
	KindFileChange ToolKind = "file_change"
	// KindWebSearch is a web search or fetch.
	KindWebSearch ToolKind = "web_search"
	// KindNote is a note-store operation.
	KindNote ToolKind = "note"
)

// Event is one normalized turn-progress notification, decoupled from the
// raw wire protocol. Fields beyond Type and SessionID are variant-specific.
type Event struct {
	Type      EventType
	SessionID string

	// Content is the text payload: assistant text for EventText, the
	// flattened tool result for EventToolEnd, the final result text for
	// EventCompleted.
	Content string

	// Tool fields, set on EventToolStart and (when attributable) EventToolEnd.
	ToolID   string
	ToolName string
	Title    string
	Kind     ToolKind

	// OK reports tool success on EventToolEnd and turn success on
	// EventCompleted.
	OK bool

	// Duration is the agent-reported turn duration, set on EventCompleted.
	Duration time.Duration
}

// TurnResult is the terminal summary of one turn, constructed once when the
// agent process exits.
type TurnResult struct {
	SessionID string
	// Text is the agent's final result on success, or an explanatory
	// failure reason ("Cancelled.", "Timeout exceeded.", ...) otherwise.
	Text     string
	Duration time.Duration
	OK       bool
	// ToolsUsed lists tool names deduplicated in first-use order.
	ToolsUsed []string
}
