package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supplementiq/backend/internal/db"
	"github.com/supplementiq/backend/internal/models"
	"github.com/supplementiq/backend/internal/scoring"
	"github.com/supplementiq/backend/internal/vin"
)

type stubVIN struct {
	vehicle vin.Vehicle
}

func (s stubVIN) Decode(ctx context.Context, v string) (vin.Vehicle, error) {
	return s.vehicle, nil
}

func triggerOutcome(condition string, confidence int, timing models.Timing) TriggerOutcome {
	return TriggerOutcome{
		TriggerConditionResult: models.TriggerConditionResult{Condition: condition, Met: true, Confidence: confidence},
		Category:               models.ItemLabor,
		Timing:                 timing,
	}
}

func patternMatch(id string, confidence int) PatternMatch {
	return PatternMatch{
		Pattern:    models.SupplementPattern{ID: id, SupplementType: "Parts", SupplementClass: models.ItemParts, FrequencyCount: 3, ApprovalCount: 3},
		Level:      LevelExact,
		Confidence: confidence,
	}
}

func TestComposeRanksByPriorityThenConfidence(t *testing.T) {
	cfg := scoring.Default()
	out := ComposeSuggestions(cfg,
		[]TriggerOutcome{triggerOutcome("a", 68, models.TimingDuringRepair)},
		[]PatternMatch{patternMatch("p1", 82)},
		DefaultRecommendOptions())
	require.Len(t, out, 2)
	assert.Equal(t, "pattern_p1", out[0].ID)
	assert.Equal(t, models.PriorityHigh, out[0].Priority)
	assert.Equal(t, "trigger_a", out[1].ID)
	assert.Equal(t, models.PriorityMedium, out[1].Priority)

	out = ComposeSuggestions(cfg,
		[]TriggerOutcome{triggerOutcome("a", 81, models.TimingDuringRepair)},
		[]PatternMatch{patternMatch("p1", 95)},
		DefaultRecommendOptions())
	require.Len(t, out, 2)
	assert.Equal(t, 95, out[0].Confidence)
	assert.Equal(t, 81, out[1].Confidence)
}

func TestComposeTruncates(t *testing.T) {
	var matches []PatternMatch
	for i := 0; i < 15; i++ {
		matches = append(matches, patternMatch(fmt.Sprintf("p%02d", i), 60+i))
	}
	out := ComposeSuggestions(scoring.Default(), nil, matches, DefaultRecommendOptions())
	require.Len(t, out, 10)
	assert.Equal(t, 74, out[0].Confidence)
	assert.Equal(t, 65, out[9].Confidence)
}

func TestComposeEmptyIsValid(t *testing.T) {
	out := ComposeSuggestions(scoring.Default(), nil, nil, DefaultRecommendOptions())
	assert.NotNil(t, out)
	assert.Empty(t, out)
}

func TestComposeFiltersTimingAndConfidence(t *testing.T) {
	opts := DefaultRecommendOptions()
	opts.IncludePreDisassembly = false
	opts.MinConfidence = 60

	out := ComposeSuggestions(scoring.Default(),
		[]TriggerOutcome{
			triggerOutcome("pre", 90, models.TimingPreDisassembly),
			triggerOutcome("during", 70, models.TimingDuringRepair),
			triggerOutcome("weak", 55, models.TimingDuringRepair),
		},
		nil, opts)
	require.Len(t, out, 1)
	assert.Equal(t, "trigger_during", out[0].ID)
}

func TestComposeKeepsBothFamilies(t *testing.T) {
	out := ComposeSuggestions(scoring.Default(),
		[]TriggerOutcome{triggerOutcome(ConditionSensorReplacement, 90, models.TimingDuringRepair)},
		[]PatternMatch{patternMatch("p1", 90)},
		DefaultRecommendOptions())
	require.Len(t, out, 2)
	assert.Equal(t, models.SourcePattern, out[0].Source)
	assert.Equal(t, models.SourceTrigger, out[1].Source)
	assert.Len(t, out[0].RelatedPatterns, 1)
}

func TestGenerateRecommendationsFallsBackToVehicleAgnostic(t *testing.T) {
	store := db.NewMemoryStore(scoring.Default().Pattern)
	store.PutPattern(agnosticPattern("p1", 70))

	svc := NewRecommendationService(store, scoring.Default(), nil, false, zerolog.Nop())
	svc.Triggers.Now = fixedClock

	est := accordEstimate()
	est.VehicleMake = models.Known("Toyota")
	est.VehicleModel = models.Known("Camry")
	est.Total = 5500

	out, err := svc.GenerateRecommendations(context.Background(), est, DefaultRecommendOptions())
	require.NoError(t, err)

	ids := map[string]models.SupplementSuggestion{}
	for _, sg := range out {
		ids[sg.ID] = sg
	}
	require.Contains(t, ids, "pattern_p1")
	assert.Equal(t, models.TimingPreDisassembly, ids["pattern_p1"].Timing)
	assert.Contains(t, ids, "trigger_"+ConditionHighImpactCollision)
}

func TestGenerateRecommendationsPropagatesLookupError(t *testing.T) {
	svc := NewRecommendationService(failingReader{}, scoring.Default(), nil, false, zerolog.Nop())
	_, err := svc.GenerateRecommendations(context.Background(), accordEstimate(), DefaultRecommendOptions())
	assert.ErrorIs(t, err, ErrPatternLookup)
}

func TestGenerateRecommendationsDecodesVIN(t *testing.T) {
	store := db.NewMemoryStore(scoring.Default().Pattern)
	store.PutPattern(exactPattern("p1", 80))

	decoder := stubVIN{vehicle: vin.Vehicle{Make: "Honda", Model: "Accord"}}
	svc := NewRecommendationService(store, scoring.Default(), decoder, false, zerolog.Nop())
	svc.Triggers.Now = fixedClock

	est := models.EstimateContext{
		ID:                "est-1",
		Total:             6000,
		VIN:               "1HGCV1F34JA000001",
		DamageDescription: "front bumper collision",
		PhotoCount:        10,
	}
	out, err := svc.GenerateRecommendations(context.Background(), est, DefaultRecommendOptions())
	require.NoError(t, err)

	var found bool
	for _, sg := range out {
		if sg.ID == "pattern_p1" {
			found = true
			assert.Equal(t, 90, sg.Confidence)
		}
	}
	assert.True(t, found)
	assert.False(t, est.VehicleMake.IsKnown())
}

func TestGenerateRecommendationsTreatsBlankVehicleAsUnknown(t *testing.T) {
	store := db.NewMemoryStore(scoring.Default().Pattern)
	store.PutPattern(exactPattern("p1", 80))

	decoder := stubVIN{vehicle: vin.Vehicle{Make: "Honda", Model: "Accord"}}
	svc := NewRecommendationService(store, scoring.Default(), decoder, false, zerolog.Nop())
	svc.Triggers.Now = fixedClock

	est := models.EstimateContext{
		ID:                "est-1",
		Total:             6000,
		VehicleMake:       models.Known("  "),
		VehicleModel:      models.Known(""),
		VIN:               " 1HGCV1F34JA000001 ",
		DamageDescription: "front bumper collision",
		PhotoCount:        10,
	}
	out, err := svc.GenerateRecommendations(context.Background(), est, DefaultRecommendOptions())
	require.NoError(t, err)

	var found bool
	for _, sg := range out {
		if sg.ID == "pattern_p1" {
			found = true
			assert.Equal(t, 90, sg.Confidence)
		}
	}
	assert.True(t, found)
}
