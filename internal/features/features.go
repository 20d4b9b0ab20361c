// Package features maps raw estimate and supplement text to the categorical
// features that patterns are keyed on. The miner and the matcher both call
// these functions, so a change here changes how history lines up with new
// estimates.
package features

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/supplementiq/backend/internal/models"
)

const TriggerTextLimit = 50

const (
	LocationMultiple      = "Multiple"
	LocationFrontEnd      = "Front End"
	LocationRearEnd       = "Rear End"
	LocationDriverSide    = "Driver Side"
	LocationPassengerSide = "Passenger Side"
	LocationRoof          = "Roof"
	LocationUndercarriage = "Undercarriage"
	LocationInterior      = "Interior"
)

type keywordRule struct {
	label string
	match func(text string) bool
}

// anyOf matches single words as word prefixes ("dent" hits "dented" but not
// "accident") and anything containing a space or symbol as a substring.
func anyOf(words ...string) func(string) bool {
	return func(text string) bool {
		var tokens []string
		for _, w := range words {
			if strings.IndexFunc(w, func(r rune) bool { return !unicode.IsLetter(r) }) >= 0 {
				if strings.Contains(text, w) {
					return true
				}
				continue
			}
			if tokens == nil {
				tokens = strings.FieldsFunc(text, func(r rune) bool {
					return !unicode.IsLetter(r) && !unicode.IsDigit(r)
				})
			}
			for _, tok := range tokens {
				if strings.HasPrefix(tok, w) {
					return true
				}
			}
		}
		return false
	}
}

// Order matters: the first rule that matches wins.
var locationRules = []keywordRule{
	{LocationMultiple, func(t string) bool {
		return strings.Contains(t, "multiple") || (strings.Contains(t, "front") && strings.Contains(t, "rear"))
	}},
	{LocationFrontEnd, anyOf("front bumper", "front end", "hood", "grille", "headlight", "radiator", "front")},
	{LocationRearEnd, anyOf("rear bumper", "rear end", "trunk", "tailgate", "taillight", "liftgate", "rear")},
	{LocationDriverSide, anyOf("driver side", "left side", "driver door", "left fender", "left quarter")},
	{LocationPassengerSide, anyOf("passenger side", "right side", "passenger door", "right fender", "right quarter")},
	{LocationRoof, anyOf("roof", "sunroof", "moonroof", "pillar")},
	{LocationUndercarriage, anyOf("undercarriage", "under carriage", "underbody", "oil pan", "suspension")},
	{LocationInterior, anyOf("interior", "dashboard", "dash", "seat", "headliner")},
}

var damageTypeRules = []keywordRule{
	{"impact", anyOf("impact", "collision", "crash", "struck", "accident")},
	{"scrape", anyOf("scrape", "scratch", "scuff", "gouge")},
	{"dent", anyOf("dent", "ding", "hail")},
	{"crack", anyOf("crack", "split", "fracture")},
	{"shatter", anyOf("shatter", "smash", "broken glass")},
	{"bend", anyOf("bent", "bend", "buckle", "kink")},
	{"tear", anyOf("tear", "torn", "ripped", "puncture")},
	{"burn", anyOf("burn", "fire", "melt", "scorch")},
	{"water", anyOf("water", "flood", "submerge")},
	{"rust", anyOf("rust", "corrosion", "corroded")},
}

const (
	TypeSafetySystems = "Safety Systems"
	TypeStructural    = "Structural"
	TypeElectrical    = "Electrical"
	TypeHiddenDamage  = "Hidden Damage"
	TypeMechanical    = "Mechanical"
	TypeGlass         = "Glass"
	TypeRefinish      = "Refinish"
	TypeParts         = "Parts"
	TypeLabor         = "Labor"
	TypeOther         = "Other"
)

var supplementTypeRules = []keywordRule{
	{TypeSafetySystems, anyOf("airbag", "srs", "seat belt", "seatbelt", "pretensioner")},
	{TypeStructural, anyOf("frame", "unibody", "rail", "structural", "pillar", "measure")},
	{TypeElectrical, anyOf("sensor", "radar", "camera", "wiring", "harness", "calibrat", "module", "electrical")},
	{TypeHiddenDamage, anyOf("hidden", "teardown", "tear down", "discovered", "behind", "additional damage")},
	{TypeMechanical, anyOf("suspension", "alignment", "steering", "axle", "radiator", "condenser", "engine", "a/c")},
	{TypeGlass, anyOf("glass", "windshield", "window")},
	{TypeRefinish, anyOf("paint", "blend", "refinish", "clear coat", "clearcoat")},
	{TypeParts, anyOf("part", "price", "oem", "bracket", "clip", "hardware")},
	{TypeLabor, anyOf("labor", "hour", "r&i", "remove and install", "repair time")},
}

// AmountBucket places an estimate total in one of four disjoint bands.
func AmountBucket(total float64) models.AmountBucket {
	switch {
	case total < 2000:
		return models.BucketLow
	case total < 5000:
		return models.BucketMidLow
	case total < 10000:
		return models.BucketMidHigh
	default:
		return models.BucketHigh
	}
}

// DamageLocation classifies the damage text together with the item
// descriptions. It returns Any when nothing matches.
func DamageLocation(text string, items []models.EstimateItem) models.Field[string] {
	parts := []string{text}
	for _, it := range items {
		parts = append(parts, it.Description)
	}
	return firstMatch(locationRules, strings.ToLower(strings.Join(parts, " ")))
}

// DamageType returns Any for empty or unrecognised text.
func DamageType(text string) models.Field[string] {
	return firstMatch(damageTypeRules, strings.ToLower(text))
}

// SupplementType classifies supplement trigger text, falling back to Other.
func SupplementType(triggerText string) string {
	return firstMatch(supplementTypeRules, strings.ToLower(triggerText)).Or(TypeOther)
}

// ClassForType is the supplement class used when the source row carries none.
func ClassForType(supplementType string) models.ItemType {
	switch supplementType {
	case TypeStructural, TypeHiddenDamage, TypeLabor:
		return models.ItemLabor
	case TypeSafetySystems, TypeElectrical, TypeMechanical, TypeGlass, TypeParts:
		return models.ItemParts
	case TypeRefinish:
		return models.ItemPaint
	default:
		return models.ItemOther
	}
}

// TimingForType is when in the repair a supplement of this type is usually raised.
func TimingForType(supplementType string) models.Timing {
	switch supplementType {
	case TypeSafetySystems, TypeStructural, TypeHiddenDamage:
		return models.TimingPreDisassembly
	case TypeOther:
		return models.TimingPostRepair
	default:
		return models.TimingDuringRepair
	}
}

// TruncateTrigger keeps the first TriggerTextLimit runes of trimmed text.
func TruncateTrigger(text string) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= TriggerTextLimit {
		return text
	}
	return string([]rune(text)[:TriggerTextLimit])
}

func firstMatch(rules []keywordRule, text string) models.Field[string] {
	if strings.TrimSpace(text) == "" {
		return models.Any[string]()
	}
	for _, r := range rules {
		if r.match(text) {
			return models.Known(r.label)
		}
	}
	return models.Any[string]()
}
