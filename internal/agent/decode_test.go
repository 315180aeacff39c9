package agent

import (
	"strings"
	"testing"
)

func TestDecoderSkipsGarbageLines(t *testing.T) {
	stream := strings.Join([]string{
		"",
		"not json at all",
		`{"no_type_field":true}`,
		`{"type":"result","result":"ok","duration_ms":7,"is_error":false}`,
		"{truncated",
		"   ",
	}, "\n")

	dec := NewDecoder(strings.NewReader(stream))
	norm := NewNormalizer()
	var completed int
	for dec.Scan() {
		for _, ev := range norm.Apply(dec.Record()) {
			if ev.Type == EventCompleted {
				completed++
			}
		}
	}
	if err := dec.Err(); err != nil {
		t.Fatalf("decode error on garbage interleave: %v", err)
	}
	if completed != 1 {
		t.Fatalf("completed events = %d, want exactly 1", completed)
	}
}

func TestDecoderLargeLine(t *testing.T) {
	// Tool output lines run to hundreds of kilobytes.
	big := strings.Repeat("x", 512*1024)
	stream := `{"type":"assistant","message":{"content":[{"type":"text","text":"` + big + `"}]}}` + "\n"

	dec := NewDecoder(strings.NewReader(stream))
	if !dec.Scan() {
		t.Fatalf("Scan() = false, err = %v", dec.Err())
	}
	rec := dec.Record()
	if rec.Type != "assistant" || len(rec.Message.Content) != 1 {
		t.Fatalf("record = %+v", rec)
	}
	if got := len(rec.Message.Content[0].Text); got != len(big) {
		t.Fatalf("text length = %d, want %d", got, len(big))
	}
}

func TestDecoderEmptyStream(t *testing.T) {
	dec := NewDecoder(strings.NewReader(""))
	if dec.Scan() {
		t.Fatal("Scan() = true on empty stream")
	}
	if err := dec.Err(); err != nil {
		t.Fatalf("Err() = %v", err)
	}
}
