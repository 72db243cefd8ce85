// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package llm

import (
	"io"
	"strings"
	"testing"
)

func TestSSEParser_ParsesDataOnlyFrames(t *testing.T) {
	r := strings.NewReader("data: one\n\ndata: two\n\n")
	parser := newSSEParser(r)

	first, err := parser.Next()
	if err != nil || first.Data != "one" {
		t.Fatalf("expected first event data 'one', got %+v, err=%v", first, err)
	}
	second, err := parser.Next()
	if err != nil || second.Data != "two" {
		t.Fatalf("expected second event data 'two', got %+v, err=%v", second, err)
	}
	if _, err := parser.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF at end of stream, got %v", err)
	}
}

func TestSSEParser_ParsesTypedEvents(t *testing.T) {
	r := strings.NewReader("event: response.completed\ndata: {}\n\n")
	parser := newSSEParser(r)

	event, err := parser.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if event.Event != "response.completed" {
		t.Errorf("expected event type 'response.completed', got %q", event.Event)
	}
}

func TestIsStreamDone(t *testing.T) {
	if !isStreamDone(&sseEvent{Data: "[DONE]"}) {
		t.Error("expected [DONE] sentinel to report done")
	}
	if isStreamDone(&sseEvent{Data: "not done"}) {
		t.Error("expected ordinary data not to report done")
	}
}
