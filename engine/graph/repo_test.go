package graph

import (
	"testing"

	"github.com/finkg-labs/finkg/engine/domain"
)

func TestEntityToMapRoundTrip(t *testing.T) {
	e := Entity{
		ID:         "e1",
		Type:       domain.EntityCompany,
		Name:       "Acme Corp",
		DocumentID: "doc1",
		GraphID:    "doc1",
		Properties: map[string]domain.PropValue{"ticker": "ACME"},
	}
	m := entityToMap(e)
	got := entityFromProps(m)
	if got.ID != e.ID || got.Type != e.Type || got.Name != e.Name {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.Properties["ticker"] != "ACME" {
		t.Fatalf("expected ticker property to survive round trip, got %+v", got.Properties)
	}
}

func TestSanitizeRelType(t *testing.T) {
	cases := map[domain.EdgeType]string{
		domain.EdgeOwns:           "OWNS",
		domain.EdgeType("owns"):   "OWNS",
		domain.EdgeType("bad; x"): "BADX",
		domain.EdgeType(""):       "RELATED_TO",
		domain.EdgeHasMetric:      "HAS_METRIC",
	}
	for in, want := range cases {
		if got := sanitizeRelType(in); got != want {
			t.Errorf("sanitizeRelType(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStrProp(t *testing.T) {
	props := map[string]any{"name": "Acme", "count": 5}
	if got := strProp(props, "name"); got != "Acme" {
		t.Errorf("expected Acme, got %q", got)
	}
	if got := strProp(props, "count"); got != "" {
		t.Errorf("expected empty string for non-string prop, got %q", got)
	}
	if got := strProp(props, "missing"); got != "" {
		t.Errorf("expected empty string for missing prop, got %q", got)
	}
}
