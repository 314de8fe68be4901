package sse

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWriter_Send(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewWriter(rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := w.Send(ProgressFrame{Status: "processing", Total: 3, Completed: 1}); err != nil {
		t.Fatalf("send: %v", err)
	}
	body := rec.Body.String()
	if !strings.HasPrefix(body, "data: ") {
		t.Fatalf("expected data: prefix, got %q", body)
	}
	if !strings.Contains(body, `"status":"processing"`) {
		t.Fatalf("missing status field: %q", body)
	}
	if !strings.HasSuffix(body, "\n\n") {
		t.Fatalf("expected frame to end with blank line, got %q", body)
	}
	if rec.Header().Get("Content-Type") != "text/event-stream" {
		t.Fatalf("expected SSE content type, got %q", rec.Header().Get("Content-Type"))
	}
}

func TestWriter_SendEvent(t *testing.T) {
	rec := httptest.NewRecorder()
	w, _ := NewWriter(rec)
	if err := w.SendEvent("done", ChatFrame{Content: "hi", Done: true}); err != nil {
		t.Fatalf("send event: %v", err)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "event: done\n") {
		t.Fatalf("missing event line: %q", body)
	}
}
