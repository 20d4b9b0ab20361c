package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/supplementiq/backend/internal/features"
	"github.com/supplementiq/backend/internal/models"
	"github.com/supplementiq/backend/internal/scoring"
)

const (
	ConditionHighImpactCollision = "high_impact_collision"
	ConditionAirbagDeployment    = "airbag_deployment"
	ConditionWaterDamage         = "water_damage"
	ConditionAgeRelatedIssues    = "age_related_issues"
	ConditionFrameDamageLikely   = "frame_damage_likely"
	ConditionSensorReplacement   = "sensor_replacement"
	ConditionCorrosionRisk       = "corrosion_risk"
	ConditionPartAvailability    = "part_availability"
	ConditionSuspensionDamage    = "suspension_damage"
	ConditionPaintBlend          = "paint_blend"
	ConditionTeardown            = "teardown_recommended"
)

// TriggerOutcome is a rule result plus what a suggestion built from it carries.
type TriggerOutcome struct {
	models.TriggerConditionResult
	TriggerText     string          `json:"trigger_text"`
	Category        models.ItemType `json:"category"`
	SuggestedAmount float64         `json:"suggested_amount"`
	Justification   string          `json:"justification"`
	Timing          models.Timing   `json:"timing"`
}

// estimateFacts is everything the rules look at, computed once per estimate.
type estimateFacts struct {
	est        models.EstimateContext
	text       string
	items      string
	location   models.Field[string]
	age        models.Field[int]
	paintTotal float64
	hasPaint   bool
	hasBlend   bool
}

type triggerRule struct {
	condition   string
	triggerText string
	category    models.ItemType
	timing      models.Timing
	// check reports whether the rule fires and, if so, why.
	check func(f estimateFacts, cfg scoring.Config) (bool, string)
	// base is the amount a percentage rule is applied to; nil means the estimate total.
	base          func(f estimateFacts) float64
	justification string
	documentation []string
}

// triggerRules is evaluated top to bottom; every rule runs and several may fire.
var triggerRules = []triggerRule{
	{
		condition:   ConditionHighImpactCollision,
		triggerText: "Hidden structural and mechanical damage from high-impact collision",
		category:    models.ItemLabor,
		timing:      models.TimingPreDisassembly,
		check: func(f estimateFacts, cfg scoring.Config) (bool, string) {
			loc, _ := f.location.Get()
			if f.est.Total >= cfg.Thresholds.HighImpactTotal && (loc == features.LocationFrontEnd || loc == features.LocationRearEnd) {
				return true, fmt.Sprintf("Estimate total $%.2f with %s damage indicates a high-energy impact", f.est.Total, loc)
			}
			return false, ""
		},
		justification: "High-energy %s collisions routinely conceal damage to reinforcements, brackets and cooling components that is only visible after teardown.",
		documentation: []string{"Teardown photos of reinforcement and absorber", "Pre-repair measurements", "Damaged bracket and mount photos"},
	},
	{
		condition:   ConditionAirbagDeployment,
		triggerText: "SRS components and sensors after airbag deployment",
		category:    models.ItemParts,
		timing:      models.TimingPreDisassembly,
		check: func(f estimateFacts, cfg scoring.Config) (bool, string) {
			if strings.Contains(f.items, "airbag") {
				return true, "Estimate lines include airbag replacement"
			}
			return false, ""
		},
		justification: "Airbag deployment requires replacing single-use SRS components such as the clock spring, seat belt pretensioners and crash sensors per OEM position statements.",
		documentation: []string{"SRS diagnostic scan report", "OEM SRS replacement procedure", "Photos of deployed components"},
	},
	{
		condition:   ConditionWaterDamage,
		triggerText: "Electrical and interior remediation for water exposure",
		category:    models.ItemOther,
		timing:      models.TimingPreDisassembly,
		check: func(f estimateFacts, cfg scoring.Config) (bool, string) {
			if kw, ok := containsAny(f.text, "water", "flood", "submerge"); ok {
				return true, fmt.Sprintf("Damage description mentions %q", kw)
			}
			return false, ""
		},
		justification: "Water intrusion spreads to wiring, modules and interior trim; the full extent is typically found once panels and carpet are removed.",
		documentation: []string{"Water line photos", "Module and connector corrosion photos", "Interior moisture readings"},
	},
	{
		condition:   ConditionAgeRelatedIssues,
		triggerText: "Age-related part failures during repair",
		category:    models.ItemParts,
		timing:      models.TimingDuringRepair,
		check: func(f estimateFacts, cfg scoring.Config) (bool, string) {
			if age, ok := f.age.Get(); ok && age >= cfg.Thresholds.AgeRelatedYears {
				return true, fmt.Sprintf("Vehicle is %d years old", age)
			}
			return false, ""
		},
		justification: "On older vehicles clips, fasteners and brittle plastic parts commonly break on removal and must be replaced.",
		documentation: []string{"Photos of broken clips and fasteners", "Parts invoices"},
	},
	{
		condition:   ConditionFrameDamageLikely,
		triggerText: "Frame or unibody straightening and measurement",
		category:    models.ItemLabor,
		timing:      models.TimingPreDisassembly,
		check: func(f estimateFacts, cfg scoring.Config) (bool, string) {
			if kw, ok := containsAny(f.text, "frame", "rail", "unibody"); ok {
				return true, fmt.Sprintf("Estimate mentions %q", kw)
			}
			if f.est.Total >= cfg.Thresholds.FrameTotal {
				return true, fmt.Sprintf("Estimate total $%.2f exceeds $%.0f", f.est.Total, cfg.Thresholds.FrameTotal)
			}
			return false, ""
		},
		justification: "Severe or structural damage usually requires a frame bench setup, pulls and a post-repair measurement report.",
		documentation: []string{"Pre- and post-repair measurement printouts", "Frame setup photos", "OEM structural repair procedure"},
	},
	{
		condition:   ConditionSensorReplacement,
		triggerText: "ADAS sensor replacement and calibration",
		category:    models.ItemParts,
		timing:      models.TimingDuringRepair,
		check: func(f estimateFacts, cfg scoring.Config) (bool, string) {
			if kw, ok := containsAny(f.text, "sensor", "radar", "camera"); ok {
				return true, fmt.Sprintf("Estimate mentions %q", kw)
			}
			return false, ""
		},
		justification: "Disturbed ADAS sensors require OEM-mandated calibration and frequently need brackets or the sensor itself replaced.",
		documentation: []string{"Pre- and post-scan reports", "Calibration printout", "OEM calibration requirement"},
	},
	{
		condition:   ConditionCorrosionRisk,
		triggerText: "Corrosion repair on seized or rusted components",
		category:    models.ItemLabor,
		timing:      models.TimingDuringRepair,
		check: func(f estimateFacts, cfg scoring.Config) (bool, string) {
			age, ok := f.age.Get()
			if !ok || age < cfg.Thresholds.CorrosionYears {
				return false, ""
			}
			if kw, found := containsAny(f.text, "rust", "corrosion"); found {
				return true, fmt.Sprintf("Estimate mentions %q on a %d year old vehicle", kw, age)
			}
			return false, ""
		},
		justification: "Rusted fasteners and panels add removal time and often require sectioning or corrosion treatment not visible at estimate time.",
		documentation: []string{"Corrosion photos", "Seized fastener photos"},
	},
	{
		condition:   ConditionPartAvailability,
		triggerText: "Part price or availability changes",
		category:    models.ItemParts,
		timing:      models.TimingDuringRepair,
		check: func(f estimateFacts, cfg scoring.Config) (bool, string) {
			if mk, ok := f.est.VehicleMake.Get(); ok && isLuxuryMake(mk, cfg.Thresholds.LuxuryMakes) {
				return true, fmt.Sprintf("%s parts are frequently back-ordered or re-priced", mk)
			}
			if age, ok := f.age.Get(); ok && age >= cfg.Thresholds.PartAvailYears {
				return true, fmt.Sprintf("Vehicle is %d years old; parts may be discontinued", age)
			}
			return false, ""
		},
		justification: "Discontinued or back-ordered parts often force price changes or alternate part sourcing after approval.",
		documentation: []string{"Parts vendor quotes", "Back-order or discontinuation notice"},
	},
	{
		condition:   ConditionSuspensionDamage,
		triggerText: "Suspension and steering component replacement",
		category:    models.ItemParts,
		timing:      models.TimingDuringRepair,
		check: func(f estimateFacts, cfg scoring.Config) (bool, string) {
			if kw, ok := containsAny(f.text, "suspension", "alignment", "steering", "axle", "wheel"); ok {
				return true, fmt.Sprintf("Estimate mentions %q", kw)
			}
			return false, ""
		},
		justification: "Wheel-area impacts frequently bend control arms, tie rods or knuckles, which only show up on an alignment check.",
		documentation: []string{"Alignment printout before repair", "Photos of bent components"},
	},
	{
		condition:   ConditionPaintBlend,
		triggerText: "Blend adjacent panels for color match",
		category:    models.ItemPaint,
		timing:      models.TimingDuringRepair,
		check: func(f estimateFacts, cfg scoring.Config) (bool, string) {
			if f.hasPaint && !f.hasBlend {
				return true, "Estimate refinishes panels without any blend operation"
			}
			return false, ""
		},
		base:          func(f estimateFacts) float64 { return f.paintTotal },
		justification: "Refinished panels generally require blending into adjacent panels to achieve an acceptable color match.",
		documentation: []string{"Paint code and variant", "Spray-out card or color match photos"},
	},
	{
		condition:   ConditionTeardown,
		triggerText: "Teardown to document hidden damage",
		category:    models.ItemLabor,
		timing:      models.TimingPreDisassembly,
		check: func(f estimateFacts, cfg scoring.Config) (bool, string) {
			if f.est.PhotoCount < cfg.Thresholds.TeardownMinPhotos && f.est.Total >= cfg.Thresholds.TeardownMinTotal {
				return true, fmt.Sprintf("Only %d photos on a $%.2f estimate", f.est.PhotoCount, f.est.Total)
			}
			return false, ""
		},
		justification: "A documented teardown before repair surfaces hidden damage early, while the claim is still open.",
		documentation: []string{"Teardown photo set", "Damage sketch"},
	},
}

// TriggerEvaluator runs the fixed rule set against one estimate. It keeps no
// state between calls.
type TriggerEvaluator struct {
	Config scoring.Config
	// Now is the clock used for vehicle age; nil means time.Now.
	Now func() time.Time
}

// Evaluate returns one outcome per rule, fired or not, in rule order.
func (e TriggerEvaluator) Evaluate(est models.EstimateContext) []TriggerOutcome {
	facts := e.facts(est)
	out := make([]TriggerOutcome, 0, len(triggerRules))
	for _, r := range triggerRules {
		out = append(out, e.apply(r, facts))
	}
	return out
}

// Fired returns only the outcomes whose rule fired.
func (e TriggerEvaluator) Fired(est models.EstimateContext) []TriggerOutcome {
	var out []TriggerOutcome
	for _, o := range e.Evaluate(est) {
		if o.Met {
			out = append(out, o)
		}
	}
	return out
}

func (e TriggerEvaluator) apply(r triggerRule, f estimateFacts) TriggerOutcome {
	out := TriggerOutcome{
		TriggerConditionResult: models.TriggerConditionResult{
			Condition:     r.condition,
			Documentation: r.documentation,
		},
		TriggerText: r.triggerText,
		Category:    r.category,
		Timing:      r.timing,
	}
	met, reason := r.check(f, e.Config)
	if !met {
		return out
	}
	rule := e.Config.Rule(r.condition)
	base := f.est.Total
	if r.base != nil {
		base = r.base(f)
	}
	out.Met = true
	out.Confidence = rule.Confidence
	out.Reason = reason
	out.SuggestedAmount = rule.Amount(base)
	out.Justification = r.justification
	if strings.Contains(r.justification, "%s") {
		out.Justification = fmt.Sprintf(r.justification, strings.ToLower(f.location.Or("")))
	}
	return out
}

func (e TriggerEvaluator) facts(est models.EstimateContext) estimateFacts {
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	f := estimateFacts{
		est:      est,
		text:     est.SearchText(),
		items:    est.ItemText(),
		location: features.DamageLocation(est.DamageDescription, est.Items),
		age:      models.Any[int](),
	}
	if year, ok := est.VehicleYear.Get(); ok && year > 0 {
		f.age = models.Known(now().Year() - year)
	}
	for _, it := range est.Items {
		desc := strings.ToLower(it.Description)
		if strings.Contains(desc, "blend") {
			f.hasBlend = true
		}
		if it.Type == models.ItemPaint {
			f.hasPaint = true
			f.paintTotal += it.Total
		}
	}
	return f
}

func containsAny(text string, keywords ...string) (string, bool) {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return kw, true
		}
	}
	return "", false
}

func isLuxuryMake(mk string, luxury []string) bool {
	m := strings.ToLower(strings.TrimSpace(mk))
	for _, l := range luxury {
		l = strings.ToLower(l)
		if m == l || strings.HasPrefix(l, m+"-") || strings.HasPrefix(m, l) {
			return true
		}
	}
	return false
}
