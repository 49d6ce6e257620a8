package search

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/hirameki/internal/storage"
)

func TestReScore(t *testing.T) {
	now := time.Now()

	id1 := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	id2 := uuid.MustParse("00000000-0000-0000-0000-000000000002")
	id3 := uuid.MustParse("00000000-0000-0000-0000-000000000003")
	missing := uuid.MustParse("00000000-0000-0000-0000-000000000099")

	runs := map[uuid.UUID]storage.RunForIndex{
		id1: {RunID: id1, Question: "what drives churn?", CompletedAt: now}, // age = 0 days
		id2: {RunID: id2, Question: "seasonal trends", CompletedAt: now.Add(-90 * 24 * time.Hour)},
		id3: {RunID: id3, Question: "quality issues", CompletedAt: now.Add(-180 * 24 * time.Hour)},
	}

	results := []Result{
		{RunID: id1, Score: 0.95},
		{RunID: id2, Score: 0.90},
		{RunID: id3, Score: 0.85},
		{RunID: missing, Score: 0.99}, // not in the ledger
	}

	scored := ReScore(results, runs, 10)

	// The run missing from hydration is filtered out.
	require.Len(t, scored, 3)

	// First run: no age decay.
	assert.Equal(t, id1, scored[0].RunID)
	assert.InDelta(t, 0.95, scored[0].Score, 0.01)

	// Second run: 90-day decay gives recency = 1/(1+1) = 0.5.
	assert.Equal(t, id2, scored[1].RunID)
	assert.InDelta(t, 0.45, scored[1].Score, 0.01)

	// Third run: 180-day decay gives recency = 1/(1+2) = 0.333.
	assert.Equal(t, id3, scored[2].RunID)
	assert.InDelta(t, 0.283, scored[2].Score, 0.01)

	assert.GreaterOrEqual(t, scored[0].Score, scored[1].Score)
	assert.GreaterOrEqual(t, scored[1].Score, scored[2].Score)
}

func TestReScoreTruncatesAtLimit(t *testing.T) {
	now := time.Now()
	id1 := uuid.New()
	id2 := uuid.New()

	runs := map[uuid.UUID]storage.RunForIndex{
		id1: {RunID: id1, CompletedAt: now},
		id2: {RunID: id2, CompletedAt: now},
	}

	results := []Result{
		{RunID: id1, Score: 0.9},
		{RunID: id2, Score: 0.8},
	}

	scored := ReScore(results, runs, 1)
	require.Len(t, scored, 1)
	assert.Equal(t, id1, scored[0].RunID)
}

func TestReScoreRecencyReorders(t *testing.T) {
	now := time.Now()
	fresh := uuid.New()
	stale := uuid.New()

	runs := map[uuid.UUID]storage.RunForIndex{
		fresh: {RunID: fresh, CompletedAt: now},
		stale: {RunID: stale, CompletedAt: now.Add(-365 * 24 * time.Hour)},
	}

	// The stale run wins on raw similarity but loses after decay:
	// 0.92 / (1 + 365/90) is roughly 0.18 against 0.80 undecayed.
	results := []Result{
		{RunID: stale, Score: 0.92},
		{RunID: fresh, Score: 0.80},
	}

	scored := ReScore(results, runs, 10)
	require.Len(t, scored, 2)
	assert.Equal(t, fresh, scored[0].RunID)
	assert.Equal(t, stale, scored[1].RunID)
}

func TestReScoreEmptyInput(t *testing.T) {
	scored := ReScore(nil, map[uuid.UUID]storage.RunForIndex{}, 10)
	assert.Empty(t, scored)
}

func TestReScoreAllMissing(t *testing.T) {
	results := []Result{
		{RunID: uuid.New(), Score: 0.9},
		{RunID: uuid.New(), Score: 0.8},
	}
	scored := ReScore(results, map[uuid.UUID]storage.RunForIndex{}, 10)
	assert.Empty(t, scored)
}

func TestReScoreCarriesRunFields(t *testing.T) {
	now := time.Now()
	id := uuid.New()

	runs := map[uuid.UUID]storage.RunForIndex{
		id: {
			RunID:       id,
			Question:    "which segments are shrinking?",
			Summary:     "3 of 12 segments lost volume quarter over quarter.",
			CompletedAt: now,
		},
	}

	scored := ReScore([]Result{{RunID: id, Score: 0.7}}, runs, 10)
	require.Len(t, scored, 1)
	assert.Equal(t, "which segments are shrinking?", scored[0].Question)
	assert.Equal(t, "3 of 12 segments lost volume quarter over quarter.", scored[0].Summary)
	assert.Equal(t, now, scored[0].CompletedAt)
}
