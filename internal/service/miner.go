package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/supplementiq/backend/internal/db"
	"github.com/supplementiq/backend/internal/features"
	"github.com/supplementiq/backend/internal/models"
)

type MineOptions struct {
	// Incremental leaves out supplements an earlier pass already counted.
	Incremental bool
	// Rebuild replaces stored counts instead of adding to them and always
	// scans all history.
	Rebuild bool
}

type UpsertFailure struct {
	Key   string `json:"key"`
	Error string `json:"error"`
}

type MineResult struct {
	RunID           string          `json:"run_id,omitempty"`
	Success         bool            `json:"success"`
	Scanned         int             `json:"scanned"`
	PatternsCreated int             `json:"patterns_created"`
	PatternsUpdated int             `json:"patterns_updated"`
	Skipped         int             `json:"skipped"`
	Failures        []UpsertFailure `json:"failures,omitempty"`
	// HighWaterMark is the newest approval time among supplements this pass
	// counted into a pattern.
	HighWaterMark *time.Time `json:"high_water_mark,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// Status maps a result to the run status recorded for it.
func (r MineResult) Status() string {
	switch {
	case !r.Success:
		return db.RunStatusFailed
	case len(r.Failures) > 0:
		return db.RunStatusPartial
	default:
		return db.RunStatusSuccess
	}
}

// RunOptions controls a recorded run.
type RunOptions struct {
	Rebuild bool
}

// MiningService aggregates approved supplements into patterns.
type MiningService struct {
	Repo   PatternRepository
	Runs   RunRecorder
	Logger zerolog.Logger

	mu sync.Mutex
}

func NewMiningService(repo PatternRepository, runs RunRecorder, logger zerolog.Logger) *MiningService {
	return &MiningService{Repo: repo, Runs: runs, Logger: logger}
}

type patternGroup struct {
	key   models.PatternKey
	delta models.PatternDelta
}

// ExtractSupplementPatterns runs one mining pass. It does not record a run or
// take the service lock; Run does both.
//
// Each upsert also marks its supplements as mined, so a supplement whose group
// failed stays eligible for the next incremental pass.
func (s *MiningService) ExtractSupplementPatterns(ctx context.Context, opts MineOptions) (MineResult, error) {
	rows, err := s.Repo.FetchApprovedSupplements(ctx, opts.Incremental && !opts.Rebuild)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrSupplementFetch, err)
		return MineResult{Success: false, Error: err.Error()}, err
	}

	res := MineResult{Success: true, Scanned: len(rows)}
	groups := map[models.PatternKey]*patternGroup{}
	for _, row := range rows {
		if row.Estimate == nil {
			res.Skipped++
			continue
		}
		key := PatternKeyFor(row)
		norm := key.Normalize()
		g, ok := groups[norm]
		if !ok {
			g = &patternGroup{key: key, delta: models.PatternDelta{Class: row.Category}}
			if g.delta.Class == "" {
				g.delta.Class = features.ClassForType(key.SupplementType)
			}
			groups[norm] = g
		}
		d := &g.delta
		d.FrequencyCount++
		d.ApprovalCount++
		d.TotalAmount += row.ApprovedAmount
		d.TotalDays += row.DaysToApproval()
		d.SupplementIDs = append(d.SupplementIDs, row.ID)
		if row.ApprovedAt != nil && row.ApprovedAt.After(d.SeenAt) {
			d.SeenAt = *row.ApprovedAt
		}
	}

	mode := models.UpsertAdd
	if opts.Rebuild {
		mode = models.UpsertReplace
	}

	ordered := make([]*patternGroup, 0, len(groups))
	for _, g := range groups {
		ordered = append(ordered, g)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].key.String() < ordered[j].key.String()
	})

	for _, g := range ordered {
		if err := ctx.Err(); err != nil {
			err = fmt.Errorf("mining interrupted: %w", err)
			res.Success = false
			res.Error = err.Error()
			res.HighWaterMark = nil
			return res, err
		}
		id := g.key.String()
		created, err := s.Repo.UpsertPattern(ctx, g.key, g.delta, mode)
		if err != nil {
			minerUpsertFailures.Inc()
			s.Logger.Warn().Err(err).Str("key", id).Msg("pattern upsert failed")
			res.Failures = append(res.Failures, UpsertFailure{Key: id, Error: err.Error()})
			continue
		}
		if created {
			res.PatternsCreated++
		} else {
			res.PatternsUpdated++
		}
		if seen := g.delta.SeenAt; !seen.IsZero() && (res.HighWaterMark == nil || seen.After(*res.HighWaterMark)) {
			res.HighWaterMark = &seen
		}
	}
	return res, nil
}

// PatternKeyFor computes the grouping key of one approved supplement. The
// estimate must be present.
func PatternKeyFor(row models.ApprovedSupplement) models.PatternKey {
	est := row.Estimate
	return models.PatternKey{
		Make:           models.TrimText(est.VehicleMake),
		Model:          models.TrimText(est.VehicleModel),
		Year:           est.VehicleYear,
		Location:       features.DamageLocation(est.DamageDescription, est.Items),
		DamageType:     features.DamageType(est.DamageDescription),
		AmountBucket:   features.AmountBucket(est.Total),
		TriggerText:    features.TruncateTrigger(row.Description),
		SupplementType: features.SupplementType(row.Description),
	}
}

// Run records an incremental mining run around ExtractSupplementPatterns, or a
// full rebuild when Rebuild is set. Only one run per service executes at a time.
func (s *MiningService) Run(ctx context.Context, opts RunOptions) (MineResult, error) {
	if !s.mu.TryLock() {
		return MineResult{}, ErrMinerBusy
	}
	defer s.mu.Unlock()

	start := time.Now()
	mine := MineOptions{Incremental: true, Rebuild: opts.Rebuild}

	runID, err := s.Runs.CreateRun(ctx, db.RunStatusRunning)
	if err != nil {
		return MineResult{}, fmt.Errorf("create mining run: %w", err)
	}

	s.Logger.Info().
		Str("run_id", runID).
		Bool("rebuild", mine.Rebuild).
		Msg("pattern mining started")

	res, mineErr := s.ExtractSupplementPatterns(ctx, mine)
	res.RunID = runID
	status := res.Status()

	summary, err := json.Marshal(res)
	if err != nil {
		return res, fmt.Errorf("encode run summary: %w", err)
	}
	// A cancelled request context must not leave the run stuck in RUNNING.
	finishCtx := context.WithoutCancel(ctx)
	if err := s.Runs.FinishRun(finishCtx, runID, status, summary, res.HighWaterMark); err != nil {
		s.Logger.Error().Err(err).Str("run_id", runID).Msg("failed to record mining run")
	}

	minerRunsTotal.WithLabelValues(status).Inc()
	minerRunDuration.Observe(time.Since(start).Seconds())

	event := s.Logger.Info()
	if mineErr != nil {
		event = s.Logger.Error().Err(mineErr)
	}
	event.
		Str("run_id", runID).
		Str("status", status).
		Int("scanned", res.Scanned).
		Int("created", res.PatternsCreated).
		Int("updated", res.PatternsUpdated).
		Int("skipped", res.Skipped).
		Int("failures", len(res.Failures)).
		Dur("took", time.Since(start)).
		Msg("pattern mining finished")
	return res, mineErr
}
