package service

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"

	"github.com/supplementiq/backend/internal/features"
	"github.com/supplementiq/backend/internal/models"
	"github.com/supplementiq/backend/internal/scoring"
	"github.com/supplementiq/backend/internal/vin"
)

type RecommendOptions struct {
	IncludePreDisassembly bool `json:"include_pre_disassembly"`
	IncludeDuringRepair   bool `json:"include_during_repair"`
	MinConfidence         int  `json:"min_confidence" validate:"gte=0,lte=100"`
	MaxSuggestions        int  `json:"max_suggestions" validate:"gte=0,lte=50"`
}

func DefaultRecommendOptions() RecommendOptions {
	return RecommendOptions{
		IncludePreDisassembly: true,
		IncludeDuringRepair:   true,
		MinConfidence:         scoring.DefaultMinConfidence,
		MaxSuggestions:        scoring.DefaultMaxSuggestions,
	}
}

var documentationByType = map[string][]string{
	features.TypeSafetySystems: {"SRS diagnostic scan report", "OEM replacement procedure"},
	features.TypeStructural:    {"Measurement printouts", "Structural damage photos"},
	features.TypeElectrical:    {"Pre- and post-scan reports", "Calibration printout"},
	features.TypeHiddenDamage:  {"Teardown photos", "Damage sketch"},
	features.TypeMechanical:    {"Alignment printout", "Photos of damaged components"},
	features.TypeGlass:         {"Glass damage photos", "Glass invoice"},
	features.TypeRefinish:      {"Paint code", "Refinish photos"},
	features.TypeParts:         {"Parts invoices", "Vendor quotes"},
	features.TypeLabor:         {"Labor time breakdown", "Repair photos"},
}

// RecommendationService produces ranked supplement suggestions for an estimate.
type RecommendationService struct {
	Triggers TriggerEvaluator
	Matcher  PatternMatcher
	// VIN fills missing vehicle fields before matching. Optional.
	VIN    vin.Decoder
	Config scoring.Config
	Logger zerolog.Logger
}

func NewRecommendationService(repo PatternReader, cfg scoring.Config, decoder vin.Decoder, parallel bool, logger zerolog.Logger) *RecommendationService {
	return &RecommendationService{
		Triggers: TriggerEvaluator{Config: cfg},
		Matcher:  PatternMatcher{Repo: repo, Config: cfg, Parallel: parallel, Logger: logger},
		VIN:      decoder,
		Config:   cfg,
		Logger:   logger,
	}
}

// GenerateRecommendations evaluates triggers and historical patterns for est.
// An empty result is a valid outcome; the only error is a failed pattern lookup.
func (s *RecommendationService) GenerateRecommendations(ctx context.Context, est models.EstimateContext, opts RecommendOptions) ([]models.SupplementSuggestion, error) {
	est = est.Normalized()
	if vin.NeedsDecode(est) {
		enriched, err := vin.Enrich(ctx, s.VIN, est)
		if err != nil {
			s.Logger.Warn().Err(err).Str("estimate_id", est.ID).Msg("vin decode failed")
		}
		est = enriched
	}

	fired := s.Triggers.Fired(est)
	matches, err := s.Matcher.Match(ctx, est, opts.MinConfidence)
	if err != nil {
		return nil, err
	}

	out := ComposeSuggestions(s.Config, fired, matches, opts)
	for _, sg := range out {
		suggestionsTotal.WithLabelValues(string(sg.Source)).Inc()
	}
	s.Logger.Info().
		Str("estimate_id", est.ID).
		Int("triggers", len(fired)).
		Int("patterns", len(matches)).
		Int("suggestions", len(out)).
		Msg("recommendations generated")
	return out, nil
}

// ComposeSuggestions turns fired triggers and pattern matches into a single
// ranked list. Triggers and patterns describing related risks are both kept.
func ComposeSuggestions(cfg scoring.Config, fired []TriggerOutcome, matches []PatternMatch, opts RecommendOptions) []models.SupplementSuggestion {
	out := make([]models.SupplementSuggestion, 0, len(fired)+len(matches))
	for _, t := range fired {
		if !t.Met {
			continue
		}
		out = append(out, fromTrigger(cfg, t))
	}
	for _, m := range matches {
		out = append(out, fromPattern(cfg, m))
	}

	filtered := out[:0]
	for _, sg := range out {
		if sg.Confidence < opts.MinConfidence || !timingAllowed(sg.Timing, opts) {
			continue
		}
		filtered = append(filtered, sg)
	}
	out = filtered

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Priority.Rank() != b.Priority.Rank() {
			return a.Priority.Rank() < b.Priority.Rank()
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return a.ID < b.ID
	})

	limit := opts.MaxSuggestions
	if limit <= 0 {
		limit = cfg.MaxSuggestions
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func fromTrigger(cfg scoring.Config, t TriggerOutcome) models.SupplementSuggestion {
	justification := t.Justification
	if t.Reason != "" {
		justification = t.Reason + ". " + justification
	}
	return models.SupplementSuggestion{
		ID:                  "trigger_" + t.Condition,
		Source:              models.SourceTrigger,
		TriggerText:         t.TriggerText,
		Category:            t.Category,
		Confidence:          t.Confidence,
		SuggestedAmount:     t.SuggestedAmount,
		Justification:       justification,
		DocumentationNeeded: t.Documentation,
		Priority:            cfg.PriorityFor(t.Confidence),
		Timing:              t.Timing,
	}
}

func fromPattern(cfg scoring.Config, m PatternMatch) models.SupplementSuggestion {
	p := m.Pattern
	docs := documentationByType[p.SupplementType]
	if docs == nil {
		docs = []string{"Supporting photos", "Itemized invoice"}
	}
	return models.SupplementSuggestion{
		ID:                  "pattern_" + p.ID,
		Source:              models.SourcePattern,
		TriggerText:         p.TriggerText,
		Category:            p.SupplementClass,
		Confidence:          m.Confidence,
		SuggestedAmount:     math.Round(p.AvgAmount*100) / 100,
		Justification:       patternJustification(p),
		DocumentationNeeded: docs,
		RelatedPatterns:     []models.SupplementPattern{p},
		Priority:            cfg.PriorityFor(m.Confidence),
		Timing:              features.TimingForType(p.SupplementType),
	}
}

func patternJustification(p models.SupplementPattern) string {
	msg := fmt.Sprintf("Seen on %d similar claims with a %.0f%% approval rate",
		p.FrequencyCount, p.ApprovalRate()*100)
	if p.AvgDaysToApproval > 0 {
		msg += fmt.Sprintf(", typically approved within %.0f days", math.Ceil(p.AvgDaysToApproval))
	}
	return msg + "."
}

func timingAllowed(t models.Timing, opts RecommendOptions) bool {
	switch t {
	case models.TimingPreDisassembly:
		return opts.IncludePreDisassembly
	case models.TimingDuringRepair:
		return opts.IncludeDuringRepair
	default:
		return true
	}
}
