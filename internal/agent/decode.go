package agent

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
)

// Scanner line limit. Agent tool output can be large; a single wire record
// has been observed near the hundreds of kilobytes.
const maxLineBytes = 1 << 20

// Record is one decoded wire-protocol frame from the agent's stdout.
// Unknown top-level fields are ignored so newer protocol revisions decode
// without error.
type Record struct {
	Type      string       `json:"type"`
	Subtype   string       `json:"subtype"`
	SessionID string       `json:"session_id"`
	Model     string       `json:"model"`
	Message   *WireMessage `json:"message"`

	// ToolUseResult is the older bare-string tool result variant carried
	// directly on a user record, with no tool invocation id.
	ToolUseResult json.RawMessage `json:"tool_use_result"`

	// Result-record fields.
	Result     string `json:"result"`
	DurationMS int64  `json:"duration_ms"`
	IsError    bool   `json:"is_error"`
}

// WireMessage is the nested message body of assistant and user records.
type WireMessage struct {
	Content []WireBlock `json:"content"`
}

// WireBlock is one content block: text, tool_use, or tool_result.
type WireBlock struct {
	Type string `json:"type"`

	// text block
	Text string `json:"text"`

	// tool_use block
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`

	// tool_result block
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
	IsError   bool            `json:"is_error"`
}

// Decoder reads newline-delimited JSON records from an agent process's
// stdout. The protocol is treated as forward-compatible: blank lines,
// non-JSON lines, and objects without a type field are silently skipped
// rather than surfaced as errors.
type Decoder struct {
	scanner *bufio.Scanner
	rec     Record
}

// NewDecoder wraps r in a lenient line decoder.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxLineBytes)
	return &Decoder{scanner: scanner}
}

// Scan advances to the next well-formed record. It returns false when the
// stream ends; unparseable frames are discarded, never returned.
func (d *Decoder) Scan() bool {
	for d.scanner.Scan() {
		line := strings.TrimSpace(d.scanner.Text())
		if line == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		if rec.Type == "" {
			continue
		}
		d.rec = rec
		return true
	}
	return false
}

// Record returns the record read by the last successful Scan.
func (d *Decoder) Record() Record {
	return d.rec
}

// Err returns the underlying scanner error, if any. A closed pipe at
// process exit reads as a clean end of stream.
func (d *Decoder) Err() error {
	return d.scanner.Err()
}
