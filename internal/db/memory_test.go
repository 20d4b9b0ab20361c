package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supplementiq/backend/internal/models"
	"github.com/supplementiq/backend/internal/scoring"
)

func testKey(trigger string) models.PatternKey {
	return models.PatternKey{
		Make:           models.Known("Honda"),
		Location:       models.Known("Front End"),
		AmountBucket:   models.BucketMidHigh,
		TriggerText:    trigger,
		SupplementType: "Parts",
	}
}

func TestMemoryUpsertCreatesThenAdds(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(scoring.Default().Pattern)
	delta := models.PatternDelta{Class: models.ItemParts, FrequencyCount: 1, ApprovalCount: 1, TotalAmount: 200}

	created, err := store.UpsertPattern(ctx, testKey("Bracket"), delta, models.UpsertAdd)
	require.NoError(t, err)
	assert.True(t, created)

	lower := testKey("Bracket")
	lower.Make = models.Known("HONDA")
	created, err = store.UpsertPattern(ctx, lower, delta, models.UpsertAdd)
	require.NoError(t, err)
	assert.False(t, created)

	p, err := store.FindPattern(ctx, testKey("Bracket"))
	require.NoError(t, err)
	assert.Equal(t, 2, p.FrequencyCount)
	assert.Equal(t, 76, p.ConfidenceScore)
	assert.NotEmpty(t, p.ID)
}

func TestMemoryFindPatternNotFound(t *testing.T) {
	_, err := NewMemoryStore(scoring.Default().Pattern).FindPattern(context.Background(), testKey("missing"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryQueryPatternsOrdersAndLimits(t *testing.T) {
	store := NewMemoryStore(scoring.Default().Pattern)
	store.PutPattern(models.SupplementPattern{ID: "b", VehicleMake: models.Known("Honda"), ConfidenceScore: 60})
	store.PutPattern(models.SupplementPattern{ID: "a", VehicleMake: models.Known("Honda"), TriggerText: "x", ConfidenceScore: 60})
	store.PutPattern(models.SupplementPattern{ID: "c", VehicleMake: models.Known("Honda"), TriggerText: "y", ConfidenceScore: 90})
	store.PutPattern(models.SupplementPattern{ID: "d", VehicleMake: models.Known("Ford"), TriggerText: "z", ConfidenceScore: 95})

	rows, err := store.QueryPatterns(context.Background(), models.PatternQuery{Make: models.Known("honda"), Limit: 2})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "c", rows[0].ID)
	assert.Equal(t, "a", rows[1].ID)
}

func TestMemoryFetchUnmined(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(scoring.Default().Pattern)
	early := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.AddSupplements(
		models.ApprovedSupplement{ID: "s1", ApprovedAt: &early},
		models.ApprovedSupplement{ID: "s2"},
		models.ApprovedSupplement{ID: "s3"},
	)

	key := models.PatternKey{AmountBucket: models.BucketLow, TriggerText: "Clips"}
	_, err := store.UpsertPattern(ctx, key, models.PatternDelta{FrequencyCount: 2, ApprovalCount: 2, SupplementIDs: []string{"s1", "s3"}}, models.UpsertAdd)
	require.NoError(t, err)

	all, err := store.FetchApprovedSupplements(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	unmined, err := store.FetchApprovedSupplements(ctx, true)
	require.NoError(t, err)
	require.Len(t, unmined, 1)
	assert.Equal(t, "s2", unmined[0].ID)
}

func TestMemoryRuns(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(scoring.Default().Pattern)

	_, err := store.GetLatestRun(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	mark := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	id, err := store.CreateRun(ctx, RunStatusRunning)
	require.NoError(t, err)
	require.NoError(t, store.FinishRun(ctx, id, RunStatusPartial, []byte(`{"scanned":3}`), &mark))

	failed, err := store.CreateRun(ctx, RunStatusRunning)
	require.NoError(t, err)
	later := mark.Add(time.Hour)
	require.NoError(t, store.FinishRun(ctx, failed, RunStatusFailed, nil, &later))

	latest, err := store.GetLatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, failed, latest.ID)
	assert.Equal(t, RunStatusFailed, latest.Status)
	assert.NotNil(t, latest.FinishedAt)
	require.NotNil(t, latest.HighWaterMark)
	assert.Equal(t, later, *latest.HighWaterMark)

	assert.ErrorIs(t, store.FinishRun(ctx, "nope", RunStatusSuccess, nil, nil), ErrNotFound)
}
