// Package search indexes completed run reports in Qdrant and answers
// similar-insight queries. The index is a projection of the ledger:
// points are fed through an outbox so a Qdrant outage never blocks run
// settlement, and the ledger stays the source of truth.
package search

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/hirameki/internal/storage"
)

// Result holds a run ID and its raw similarity score from the search
// index. The caller hydrates run details from the ledger.
type Result struct {
	RunID uuid.UUID
	Score float32
}

// Match is a hydrated, re-scored search hit.
type Match struct {
	RunID       uuid.UUID `json:"run_id"`
	Question    string    `json:"question"`
	Summary     string    `json:"summary,omitempty"`
	Score       float32   `json:"score"`
	CompletedAt time.Time `json:"completed_at"`
}

// Searcher is the interface for vector search indexes.
// Implementations must be safe for concurrent use.
type Searcher interface {
	// Search returns run IDs matching the query vector with raw
	// similarity scores.
	Search(ctx context.Context, embedding []float32, limit int) ([]Result, error)

	// Healthy returns nil if the search index is reachable, or an error
	// describing the problem.
	Healthy(ctx context.Context) error
}

// ReScore adjusts raw similarity scores with recency weighting, sorts
// descending by adjusted score, and truncates to limit.
//
// Formula: relevance = similarity * (1.0 / (1.0 + age_days / 90.0))
func ReScore(results []Result, runs map[uuid.UUID]storage.RunForIndex, limit int) []Match {
	now := time.Now()
	scored := make([]Match, 0, len(results))

	for _, r := range results {
		run, ok := runs[r.RunID]
		if !ok {
			// Run disappeared between the index query and ledger hydration.
			continue
		}

		ageDays := math.Max(0, now.Sub(run.CompletedAt).Hours()/24.0)
		recencyDecay := 1.0 / (1.0 + ageDays/90.0)
		relevance := float64(r.Score) * recencyDecay

		scored = append(scored, Match{
			RunID:       run.RunID,
			Question:    run.Question,
			Summary:     run.Summary,
			Score:       float32(math.Min(relevance, 1.0)),
			CompletedAt: run.CompletedAt,
		})
	}

	sort.Slice(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}
