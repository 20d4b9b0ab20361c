package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supplementiq/backend/internal/models"
	"github.com/supplementiq/backend/internal/scoring"
)

func fixedClock() time.Time {
	return time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
}

func testEvaluator() TriggerEvaluator {
	return TriggerEvaluator{Config: scoring.Default(), Now: fixedClock}
}

func firedByCondition(outcomes []TriggerOutcome) map[string]TriggerOutcome {
	out := map[string]TriggerOutcome{}
	for _, o := range outcomes {
		if o.Met {
			out[o.Condition] = o
		}
	}
	return out
}

func TestEvaluateReturnsEveryRule(t *testing.T) {
	outcomes := testEvaluator().Evaluate(models.EstimateContext{ID: "est-1"})
	require.Len(t, outcomes, 11)
	assert.Equal(t, ConditionHighImpactCollision, outcomes[0].Condition)
	assert.Equal(t, ConditionTeardown, outcomes[10].Condition)
	for _, o := range outcomes {
		assert.False(t, o.Met, o.Condition)
	}
}

func TestHighImpactCollision(t *testing.T) {
	est := models.EstimateContext{
		ID:                "est-1",
		Total:             6000,
		VehicleYear:       models.Known(2022),
		DamageDescription: "Front bumper pushed in",
		Items:             []models.EstimateItem{{Type: models.ItemParts, Description: "Bumper cover", Total: 600}},
		PhotoCount:        10,
	}
	fired := firedByCondition(testEvaluator().Evaluate(est))
	require.Len(t, fired, 1)

	o := fired[ConditionHighImpactCollision]
	assert.Equal(t, 75, o.Confidence)
	assert.Equal(t, 900.0, o.SuggestedAmount)
	assert.Equal(t, models.ItemLabor, o.Category)
	assert.Equal(t, models.TimingPreDisassembly, o.Timing)
	assert.Contains(t, o.Justification, "front end")
	assert.NotEmpty(t, o.Documentation)
}

func TestHighImpactNeedsFrontOrRear(t *testing.T) {
	est := models.EstimateContext{ID: "est-1", Total: 6000, DamageDescription: "driver door pushed in", PhotoCount: 10}
	fired := firedByCondition(testEvaluator().Evaluate(est))
	assert.NotContains(t, fired, ConditionHighImpactCollision)
}

func TestAirbagDeploymentIgnoresTotal(t *testing.T) {
	est := models.EstimateContext{
		ID:    "est-1",
		Total: 500,
		Items: []models.EstimateItem{{Type: models.ItemParts, Description: "Driver AIRBAG assembly", Total: 450}},
	}
	fired := firedByCondition(testEvaluator().Evaluate(est))
	o, ok := fired[ConditionAirbagDeployment]
	require.True(t, ok)
	assert.Equal(t, 85, o.Confidence)
	assert.Equal(t, 2500.0, o.SuggestedAmount)
}

func TestVehicleAgeRules(t *testing.T) {
	est := models.EstimateContext{
		ID:                "est-1",
		Total:             2000,
		VehicleYear:       models.Known(2010),
		DamageDescription: "rust on rocker panel",
		PhotoCount:        10,
	}
	fired := firedByCondition(testEvaluator().Evaluate(est))
	assert.Contains(t, fired, ConditionAgeRelatedIssues)
	assert.Contains(t, fired, ConditionCorrosionRisk)
	assert.Contains(t, fired, ConditionPartAvailability)
	assert.Equal(t, 200.0, fired[ConditionAgeRelatedIssues].SuggestedAmount)
	assert.Equal(t, 160.0, fired[ConditionCorrosionRisk].SuggestedAmount)

	est.VehicleYear = models.Any[int]()
	fired = firedByCondition(testEvaluator().Evaluate(est))
	assert.NotContains(t, fired, ConditionAgeRelatedIssues)
	assert.NotContains(t, fired, ConditionCorrosionRisk)
	assert.NotContains(t, fired, ConditionPartAvailability)
}

func TestPartAvailabilityLuxuryMake(t *testing.T) {
	est := models.EstimateContext{ID: "est-1", Total: 1000, VehicleMake: models.Known("mercedes-benz"), PhotoCount: 10}
	fired := firedByCondition(testEvaluator().Evaluate(est))
	o, ok := fired[ConditionPartAvailability]
	require.True(t, ok)
	assert.Equal(t, 60, o.Confidence)
	assert.Equal(t, 50.0, o.SuggestedAmount)
}

func TestFrameDamageByTotal(t *testing.T) {
	est := models.EstimateContext{ID: "est-1", Total: 12000, DamageDescription: "driver door", PhotoCount: 10}
	fired := firedByCondition(testEvaluator().Evaluate(est))
	o, ok := fired[ConditionFrameDamageLikely]
	require.True(t, ok)
	assert.Equal(t, 1440.0, o.SuggestedAmount)
}

func TestPaintBlend(t *testing.T) {
	est := models.EstimateContext{
		ID:         "est-1",
		Total:      1500,
		PhotoCount: 10,
		Items: []models.EstimateItem{
			{Type: models.ItemPaint, Description: "Refinish hood", Total: 400},
			{Type: models.ItemPaint, Description: "Refinish fender", Total: 200},
		},
	}
	fired := firedByCondition(testEvaluator().Evaluate(est))
	o, ok := fired[ConditionPaintBlend]
	require.True(t, ok)
	assert.Equal(t, 150.0, o.SuggestedAmount)
	assert.Equal(t, models.ItemPaint, o.Category)

	est.Items = append(est.Items, models.EstimateItem{Type: models.ItemPaint, Description: "Blend door", Total: 150})
	fired = firedByCondition(testEvaluator().Evaluate(est))
	assert.NotContains(t, fired, ConditionPaintBlend)
}

func TestTeardownRecommended(t *testing.T) {
	est := models.EstimateContext{ID: "est-1", Total: 3500, DamageDescription: "driver door", PhotoCount: 2}
	fired := firedByCondition(testEvaluator().Evaluate(est))
	o, ok := fired[ConditionTeardown]
	require.True(t, ok)
	assert.Equal(t, 350.0, o.SuggestedAmount)

	est.PhotoCount = 8
	fired = firedByCondition(testEvaluator().Evaluate(est))
	assert.NotContains(t, fired, ConditionTeardown)
}

func TestTriggerRulesUseConfig(t *testing.T) {
	cfg := scoring.Default()
	cfg.Triggers[ConditionSensorReplacement] = scoring.TriggerRule{Confidence: 55, Fixed: 1000}
	e := TriggerEvaluator{Config: cfg, Now: fixedClock}

	est := models.EstimateContext{ID: "est-1", Total: 800, DamageDescription: "backup camera cracked", PhotoCount: 10}
	fired := firedByCondition(e.Evaluate(est))
	o, ok := fired[ConditionSensorReplacement]
	require.True(t, ok)
	assert.Equal(t, 55, o.Confidence)
	assert.Equal(t, 1000.0, o.SuggestedAmount)
}
