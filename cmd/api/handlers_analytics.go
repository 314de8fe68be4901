package main

import (
	"net/http"
	"sort"

	"github.com/finkg-labs/finkg/engine/domain"
)

// handleAnalyticsDashboard aggregates document, graph, and risk counts
// into a single summary view, pulling node/relationship totals from the
// graph store when it is reachable and degrading to the local snapshot
// otherwise.
func (s *server) handleAnalyticsDashboard(w http.ResponseWriter, r *http.Request) {
	docs := s.store.ListDocuments()
	risks := s.store.ListRisks()

	statusCounts := map[domain.DocStatus]int{}
	for _, d := range docs {
		statusCounts[d.Status]++
	}
	severityCounts := map[domain.Severity]int{}
	for _, rk := range risks {
		severityCounts[rk.Severity]++
	}

	dashboard := map[string]any{
		"document_count":  len(docs),
		"risk_count":      len(risks),
		"status_counts":   statusCounts,
		"severity_counts": severityCounts,
	}

	if s.graph != nil {
		if nodeCounts, err := s.graph.NodeCounts(r.Context()); err == nil {
			dashboard["node_counts"] = nodeCounts
		}
		if relCounts, err := s.graph.RelationshipCounts(r.Context()); err == nil {
			dashboard["relationship_counts"] = relCounts
		}
		if top, err := s.graph.TopEntitiesByDegree(r.Context(), 10); err == nil {
			dashboard["top_entities"] = top
		}
	}

	writeJSON(w, dashboard)
}

// handleRiskTrends buckets detected risks by day and severity, oldest
// first, for the risk-trend chart.
func (s *server) handleRiskTrends(w http.ResponseWriter, r *http.Request) {
	risks := s.store.ListRisks()
	sort.Slice(risks, func(i, j int) bool { return risks[i].DetectedAt.Before(risks[j].DetectedAt) })

	type bucket struct {
		Date     string `json:"date"`
		Severity string `json:"severity"`
		Count    int    `json:"count"`
	}
	counts := map[string]int{}
	for _, rk := range risks {
		key := rk.DetectedAt.Format("2006-01-02") + "|" + string(rk.Severity)
		counts[key]++
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buckets := make([]bucket, 0, len(keys))
	for _, k := range keys {
		var date, severity string
		for i := 0; i < len(k); i++ {
			if k[i] == '|' {
				date, severity = k[:i], k[i+1:]
				break
			}
		}
		buckets = append(buckets, bucket{Date: date, Severity: severity, Count: counts[k]})
	}
	writeJSON(w, map[string]any{"trends": buckets})
}
