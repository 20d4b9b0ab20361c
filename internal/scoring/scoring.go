// Package scoring holds every tunable weight, threshold and per-rule constant
// used by the matcher, the trigger rules and the miner.
package scoring

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/supplementiq/backend/internal/models"
)

const (
	DefaultMinConfidence  = 50
	DefaultMaxSuggestions = 10
)

// ContextWeights are the points a candidate pattern earns for matching the
// estimate. They add up to 100.
type ContextWeights struct {
	Make         int `yaml:"make"`
	Model        int `yaml:"model"`
	YearExact    int `yaml:"year_exact"`
	YearWithin2  int `yaml:"year_within_2"`
	YearWithin5  int `yaml:"year_within_5"`
	YearWithin10 int `yaml:"year_within_10"`
	Location     int `yaml:"location"`
	AmountBucket int `yaml:"amount_bucket"`
}

type PriorityThresholds struct {
	High   int `yaml:"high"`
	Medium int `yaml:"medium"`
}

type MatcherConfig struct {
	LevelLimit    int `yaml:"level_limit"`
	EnoughResults int `yaml:"enough_results"`
}

// PatternConfidence turns mined counts into a 0-100 confidence score:
// approval rate scaled to ApprovalWeight plus up to FrequencyWeight points
// that saturate at FrequencySaturation occurrences.
type PatternConfidence struct {
	ApprovalWeight      float64 `yaml:"approval_weight"`
	FrequencyWeight     float64 `yaml:"frequency_weight"`
	FrequencySaturation int     `yaml:"frequency_saturation"`
}

// TriggerRule is the per-condition output of a firing trigger. Exactly one of
// Percent (of the estimate total) or Fixed is normally set; when both are set
// the larger amount wins.
type TriggerRule struct {
	Confidence int     `yaml:"confidence"`
	Percent    float64 `yaml:"percent"`
	Fixed      float64 `yaml:"fixed"`
}

type TriggerThresholds struct {
	HighImpactTotal   float64  `yaml:"high_impact_total"`
	FrameTotal        float64  `yaml:"frame_total"`
	AgeRelatedYears   int      `yaml:"age_related_years"`
	CorrosionYears    int      `yaml:"corrosion_years"`
	PartAvailYears    int      `yaml:"part_availability_years"`
	TeardownMinTotal  float64  `yaml:"teardown_min_total"`
	TeardownMinPhotos int      `yaml:"teardown_min_photos"`
	LuxuryMakes       []string `yaml:"luxury_makes"`
}

type Config struct {
	MinConfidence  int                    `yaml:"min_confidence"`
	MaxSuggestions int                    `yaml:"max_suggestions"`
	Context        ContextWeights         `yaml:"context"`
	Priority       PriorityThresholds     `yaml:"priority"`
	Matcher        MatcherConfig          `yaml:"matcher"`
	Pattern        PatternConfidence      `yaml:"pattern"`
	Thresholds     TriggerThresholds      `yaml:"thresholds"`
	Triggers       map[string]TriggerRule `yaml:"triggers"`
}

func Default() Config {
	return Config{
		MinConfidence:  DefaultMinConfidence,
		MaxSuggestions: DefaultMaxSuggestions,
		Context: ContextWeights{
			Make:         25,
			Model:        25,
			YearExact:    20,
			YearWithin2:  15,
			YearWithin5:  10,
			YearWithin10: 5,
			Location:     15,
			AmountBucket: 15,
		},
		Priority: PriorityThresholds{High: 80, Medium: 65},
		Matcher:  MatcherConfig{LevelLimit: 10, EnoughResults: 5},
		Pattern: PatternConfidence{
			ApprovalWeight:      70,
			FrequencyWeight:     30,
			FrequencySaturation: 10,
		},
		Thresholds: TriggerThresholds{
			HighImpactTotal:   5000,
			FrameTotal:        10000,
			AgeRelatedYears:   10,
			CorrosionYears:    7,
			PartAvailYears:    15,
			TeardownMinTotal:  3000,
			TeardownMinPhotos: 5,
			LuxuryMakes:       []string{"BMW", "Mercedes-Benz", "Audi", "Lexus", "Porsche", "Jaguar"},
		},
		Triggers: map[string]TriggerRule{
			"high_impact_collision": {Confidence: 75, Percent: 0.15},
			"airbag_deployment":     {Confidence: 85, Fixed: 2500},
			"water_damage":          {Confidence: 80, Percent: 0.20},
			"age_related_issues":    {Confidence: 65, Percent: 0.10},
			"frame_damage_likely":   {Confidence: 70, Percent: 0.12},
			"sensor_replacement":    {Confidence: 90, Fixed: 800},
			"corrosion_risk":        {Confidence: 75, Percent: 0.08},
			"part_availability":     {Confidence: 60, Percent: 0.05},
			"suspension_damage":     {Confidence: 70, Fixed: 750},
			"paint_blend":           {Confidence: 65, Percent: 0.25},
			"teardown_recommended":  {Confidence: 60, Fixed: 350},
		},
	}
}

// Load overlays the YAML file at path onto Default. An empty path returns the
// defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read scoring config: %w", err)
	}
	defaults := cfg.Triggers
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse scoring config %s: %w", path, err)
	}
	// yaml replaces the map wholesale; keep rules the file does not mention.
	for name, rule := range defaults {
		if _, ok := cfg.Triggers[name]; !ok {
			cfg.Triggers[name] = rule
		}
	}
	return cfg, nil
}

// Rule returns the configured output for a trigger condition.
func (c Config) Rule(condition string) TriggerRule {
	return c.Triggers[condition]
}

// Amount computes a trigger's suggested amount for an estimate total.
func (r TriggerRule) Amount(base float64) float64 {
	pct := math.Round(base*r.Percent*100) / 100
	return math.Max(pct, r.Fixed)
}

func (c Config) PriorityFor(confidence int) models.Priority {
	switch {
	case confidence >= c.Priority.High:
		return models.PriorityHigh
	case confidence >= c.Priority.Medium:
		return models.PriorityMedium
	default:
		return models.PriorityLow
	}
}

// YearPoints scores vehicle-year proximity.
func (w ContextWeights) YearPoints(diff int) int {
	if diff < 0 {
		diff = -diff
	}
	switch {
	case diff == 0:
		return w.YearExact
	case diff <= 2:
		return w.YearWithin2
	case diff <= 5:
		return w.YearWithin5
	case diff <= 10:
		return w.YearWithin10
	default:
		return 0
	}
}

func (p PatternConfidence) Score(frequency, approvals, rejections int) int {
	rate := 0.0
	if den := approvals + rejections; den > 0 {
		rate = float64(approvals) / float64(den)
	}
	freq := 1.0
	if p.FrequencySaturation > 0 {
		freq = math.Min(float64(frequency), float64(p.FrequencySaturation)) / float64(p.FrequencySaturation)
	}
	score := int(math.Round(rate*p.ApprovalWeight + freq*p.FrequencyWeight))
	return clamp(score, 0, 100)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
