package jsonx

import (
	"errors"
	"testing"
)

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestExtract_FencedBlock(t *testing.T) {
	text := "Here is the result:\n```json\n{\"name\":\"acme\",\"count\":3}\n```\nLet me know if you need more."
	var p payload
	if err := Extract(text, &p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name != "acme" || p.Count != 3 {
		t.Fatalf("got %+v", p)
	}
}

func TestExtract_BareObjectInProse(t *testing.T) {
	text := `Sure, the answer is {"name": "beta", "count": 7} and that's final.`
	var p payload
	if err := Extract(text, &p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name != "beta" || p.Count != 7 {
		t.Fatalf("got %+v", p)
	}
}

func TestExtract_Array(t *testing.T) {
	text := `[{"name":"a","count":1},{"name":"b","count":2}]`
	var ps []payload
	if err := Extract(text, &ps); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ps) != 2 || ps[1].Name != "b" {
		t.Fatalf("got %+v", ps)
	}
}

func TestExtract_NestedBraces(t *testing.T) {
	text := `{"name":"n","count":1,"meta":{"nested":"{}"}}`
	var p payload
	if err := Extract(text, &p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name != "n" {
		t.Fatalf("got %+v", p)
	}
}

func TestExtract_NoJSON(t *testing.T) {
	var p payload
	err := Extract("no json here at all", &p)
	if !errors.Is(err, ErrNoJSON) {
		t.Fatalf("expected ErrNoJSON, got %v", err)
	}
}

func TestExtract_TrailingGarbage(t *testing.T) {
	text := `{"name":"x","count":5} -- that is the structured answer`
	var p payload
	if err := Extract(text, &p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name != "x" || p.Count != 5 {
		t.Fatalf("got %+v", p)
	}
}
