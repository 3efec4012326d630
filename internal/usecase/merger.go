package usecase

import (
	"github.com/productmatcher/backend/internal/domain"
	"github.com/productmatcher/backend/internal/metrics"
)

// MergeResults pairs each match with the catalog record sharing its image URL.
// Output keeps the matching service's order; matches with no catalog record are dropped.
func MergeResults(matches []domain.MatchResult, catalog domain.CatalogSnapshot) []domain.MergedResult {
	index := catalog.Index()

	merged := make([]domain.MergedResult, 0, len(matches))
	dropped := 0
	for _, m := range matches {
		record, ok := index[m.ImageURL]
		if !ok {
			dropped++
			continue
		}
		merged = append(merged, domain.MergedResult{
			Match:    m,
			Name:     record.Name,
			Category: record.Category,
		})
	}

	if dropped > 0 {
		metrics.MatchesDropped.Add(float64(dropped))
	}
	return merged
}
