package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/supplementiq/backend/internal/features"
	"github.com/supplementiq/backend/internal/models"
	"github.com/supplementiq/backend/internal/scoring"
)

// MatchLevel names a cascade step, most specific first.
type MatchLevel string

const (
	LevelExact         MatchLevel = "exact"
	LevelMakeModel     MatchLevel = "make_model_location"
	LevelMake          MatchLevel = "make_location"
	LevelVehicleAgnost MatchLevel = "location_type"
)

type PatternMatch struct {
	Pattern      models.SupplementPattern `json:"pattern"`
	Level        MatchLevel               `json:"level"`
	ContextScore int                      `json:"context_score"`
	Confidence   int                      `json:"confidence"`
}

type levelQuery struct {
	level MatchLevel
	query models.PatternQuery
}

// PatternMatcher finds historical patterns similar to an estimate, falling back
// from exact vehicle matches to vehicle-agnostic ones.
type PatternMatcher struct {
	Repo   PatternReader
	Config scoring.Config
	// Parallel issues every cascade level at once instead of stopping early.
	Parallel bool
	Logger   zerolog.Logger
}

// Match returns candidates whose blended confidence is at least minConfidence,
// finest-grained level first.
func (m PatternMatcher) Match(ctx context.Context, est models.EstimateContext, minConfidence int) ([]PatternMatch, error) {
	levels := m.levels(est, minConfidence)

	var (
		batches [][]models.SupplementPattern
		err     error
	)
	if m.Parallel {
		batches, err = m.queryParallel(ctx, levels)
	} else {
		batches, err = m.querySequential(ctx, levels)
	}
	if err != nil {
		patternLookupErrors.Inc()
		return nil, err
	}

	bucket := features.AmountBucket(est.Total)
	location := features.DamageLocation(est.DamageDescription, est.Items)

	seen := make(map[string]bool)
	var out []PatternMatch
	for i, batch := range batches {
		if len(seen) >= m.enough() {
			break
		}
		for _, p := range batch {
			if seen[p.ID] {
				continue
			}
			seen[p.ID] = true
			score := m.contextScore(est, location, bucket, p)
			combined := int(math.Round(float64(p.ConfidenceScore+score) / 2))
			if combined < minConfidence {
				continue
			}
			out = append(out, PatternMatch{
				Pattern:      p,
				Level:        levels[i].level,
				ContextScore: score,
				Confidence:   combined,
			})
		}
	}

	m.Logger.Debug().
		Str("estimate_id", est.ID).
		Int("candidates", len(seen)).
		Int("matches", len(out)).
		Msg("pattern match complete")
	return out, nil
}

// ContextScore scores how closely a pattern fits an estimate, 0 to 100.
func (m PatternMatcher) ContextScore(est models.EstimateContext, p models.SupplementPattern) int {
	return m.contextScore(est, features.DamageLocation(est.DamageDescription, est.Items), features.AmountBucket(est.Total), p)
}

func (m PatternMatcher) contextScore(est models.EstimateContext, location models.Field[string], bucket models.AmountBucket, p models.SupplementPattern) int {
	w := m.Config.Context
	score := 0
	if sameText(est.VehicleMake, p.VehicleMake) {
		score += w.Make
	}
	if sameText(est.VehicleModel, p.VehicleModel) {
		score += w.Model
	}
	if y, ok := est.VehicleYear.Get(); ok {
		if py, ok := p.VehicleYear.Get(); ok {
			score += w.YearPoints(y - py)
		}
	}
	if loc, ok := location.Get(); ok {
		if ploc, ok := p.DamageLocation.Get(); ok && loc == ploc {
			score += w.Location
		}
	}
	if bucket == p.AmountBucket {
		score += w.AmountBucket
	}
	if score > 100 {
		score = 100
	}
	return score
}

// levels builds the cascade. Vehicle levels are skipped when the estimate lacks
// the field they constrain on, since an unknown filter would match everything.
func (m PatternMatcher) levels(est models.EstimateContext, minConfidence int) []levelQuery {
	location := features.DamageLocation(est.DamageDescription, est.Items)
	damageType := features.DamageType(est.DamageDescription)
	base := models.PatternQuery{
		MinConfidence: minConfidence,
		Limit:         m.Config.Matcher.LevelLimit,
	}

	var out []levelQuery
	if est.VehicleMake.IsKnown() && est.VehicleModel.IsKnown() && est.VehicleYear.IsKnown() {
		q := base
		q.Make, q.Model, q.Year = est.VehicleMake, est.VehicleModel, est.VehicleYear
		q.Location, q.DamageType = location, damageType
		out = append(out, levelQuery{LevelExact, q})
	}
	if est.VehicleMake.IsKnown() && est.VehicleModel.IsKnown() {
		q := base
		q.Make, q.Model, q.Location = est.VehicleMake, est.VehicleModel, location
		out = append(out, levelQuery{LevelMakeModel, q})
	}
	if est.VehicleMake.IsKnown() {
		q := base
		q.Make, q.Location = est.VehicleMake, location
		out = append(out, levelQuery{LevelMake, q})
	}
	q := base
	q.Location, q.DamageType = location, damageType
	out = append(out, levelQuery{LevelVehicleAgnost, q})
	return out
}

func (m PatternMatcher) querySequential(ctx context.Context, levels []levelQuery) ([][]models.SupplementPattern, error) {
	seen := make(map[string]bool)
	var out [][]models.SupplementPattern
	for _, lq := range levels {
		if len(seen) >= m.enough() {
			break
		}
		rows, err := m.query(ctx, lq)
		if err != nil {
			return nil, err
		}
		for _, p := range rows {
			seen[p.ID] = true
		}
		out = append(out, rows)
	}
	return out, nil
}

func (m PatternMatcher) queryParallel(ctx context.Context, levels []levelQuery) ([][]models.SupplementPattern, error) {
	out := make([][]models.SupplementPattern, len(levels))
	g, gctx := errgroup.WithContext(ctx)
	for i, lq := range levels {
		g.Go(func() error {
			rows, err := m.query(gctx, lq)
			if err != nil {
				return err
			}
			out[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (m PatternMatcher) query(ctx context.Context, lq levelQuery) ([]models.SupplementPattern, error) {
	start := time.Now()
	rows, err := m.Repo.QueryPatterns(ctx, lq.query)
	patternLookupDuration.WithLabelValues(string(lq.level)).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("%w: level %s (%s): %v", ErrPatternLookup, lq.level, lq.query, err)
	}
	return rows, nil
}

func (m PatternMatcher) enough() int {
	if m.Config.Matcher.EnoughResults > 0 {
		return m.Config.Matcher.EnoughResults
	}
	return scoring.Default().Matcher.EnoughResults
}

func sameText(a, b models.Field[string]) bool {
	av, aok := a.Get()
	bv, bok := b.Get()
	return aok && bok && strings.EqualFold(av, bv)
}
