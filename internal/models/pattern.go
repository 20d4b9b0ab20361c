package models

import (
	"fmt"
	"strings"
	"time"
)

// SupplementPattern is an aggregate of approved supplements that share a
// PatternKey. Only the miner writes patterns.
type SupplementPattern struct {
	ID                string        `json:"id"`
	VehicleMake       Field[string] `json:"vehicle_make"`
	VehicleModel      Field[string] `json:"vehicle_model"`
	VehicleYear       Field[int]    `json:"vehicle_year"`
	DamageLocation    Field[string] `json:"damage_location"`
	DamageType        Field[string] `json:"damage_type"`
	AmountBucket      AmountBucket  `json:"amount_bucket"`
	TriggerText       string        `json:"trigger_text"`
	SupplementClass   ItemType      `json:"supplement_class"`
	SupplementType    string        `json:"supplement_type"`
	FrequencyCount    int           `json:"frequency_count"`
	ApprovalCount     int           `json:"approval_count"`
	RejectionCount    int           `json:"rejection_count"`
	AvgAmount         float64       `json:"avg_amount"`
	AvgDaysToApproval float64       `json:"avg_days_to_approval"`
	ConfidenceScore   int           `json:"confidence_score"`
	LastSeenAt        time.Time     `json:"last_seen_at"`
}

// Key rebuilds the grouping key a pattern was stored under.
func (p SupplementPattern) Key() PatternKey {
	return PatternKey{
		Make:           p.VehicleMake,
		Model:          p.VehicleModel,
		Year:           p.VehicleYear,
		Location:       p.DamageLocation,
		DamageType:     p.DamageType,
		AmountBucket:   p.AmountBucket,
		TriggerText:    p.TriggerText,
		SupplementType: p.SupplementType,
	}
}

// ApprovalRate is zero when the pattern has no decisions yet.
func (p SupplementPattern) ApprovalRate() float64 {
	return approvalRate(p.ApprovalCount, p.RejectionCount)
}

// PatternKey identifies a pattern. Two supplements are grouped together only
// when every field is identical.
type PatternKey struct {
	Make           Field[string]
	Model          Field[string]
	Year           Field[int]
	Location       Field[string]
	DamageType     Field[string]
	AmountBucket   AmountBucket
	TriggerText    string
	SupplementType string
}

// Normalize returns the key supplements are grouped under: make and model are
// trimmed and lower-cased, and blank text fields become Any.
func (k PatternKey) Normalize() PatternKey {
	k.Make = lowerField(TrimText(k.Make))
	k.Model = lowerField(TrimText(k.Model))
	k.Location = TrimText(k.Location)
	k.DamageType = TrimText(k.DamageType)
	return k
}

// String is the canonical form hashed into the stored key_hash. Known values
// are tagged and escaped, so Any never collides with a literal value and a
// separator inside one field cannot shift the others.
func (k PatternKey) String() string {
	n := k.Normalize()
	return strings.Join([]string{
		encodeField(n.Make),
		encodeField(n.Model),
		encodeField(n.Year),
		encodeField(n.Location),
		encodeField(n.DamageType),
		escapeKeyPart(string(n.AmountBucket)),
		escapeKeyPart(n.TriggerText),
		escapeKeyPart(n.SupplementType),
	}, "|")
}

var keyEscaper = strings.NewReplacer(`\`, `\\`, `|`, `\|`)

func escapeKeyPart(s string) string {
	return keyEscaper.Replace(s)
}

func encodeField[T comparable](f Field[T]) string {
	v, ok := f.Get()
	if !ok {
		return "-"
	}
	return "k:" + escapeKeyPart(fmt.Sprint(v))
}

// PatternDelta is the contribution of one mining batch to a single pattern.
type PatternDelta struct {
	Class          ItemType
	FrequencyCount int
	ApprovalCount  int
	RejectionCount int
	TotalAmount    float64
	TotalDays      float64
	SeenAt         time.Time

	// SupplementIDs are the supplements counted into this delta. The store
	// records them as mined together with the pattern write.
	SupplementIDs []string
}

func (d PatternDelta) AvgAmount() float64 {
	if d.FrequencyCount == 0 {
		return 0
	}
	return d.TotalAmount / float64(d.FrequencyCount)
}

func (d PatternDelta) AvgDays() float64 {
	if d.FrequencyCount == 0 {
		return 0
	}
	return d.TotalDays / float64(d.FrequencyCount)
}

func (d PatternDelta) ApprovalRate() float64 {
	return approvalRate(d.ApprovalCount, d.RejectionCount)
}

type UpsertMode int

const (
	// UpsertAdd adds the delta's counts to the stored counts.
	UpsertAdd UpsertMode = iota
	// UpsertReplace overwrites stored counts with the delta's.
	UpsertReplace
)

// NewPattern builds the first version of a pattern from its key and delta.
func NewPattern(id string, key PatternKey, d PatternDelta) SupplementPattern {
	return SupplementPattern{
		ID:                id,
		VehicleMake:       key.Make,
		VehicleModel:      key.Model,
		VehicleYear:       key.Year,
		DamageLocation:    key.Location,
		DamageType:        key.DamageType,
		AmountBucket:      key.AmountBucket,
		TriggerText:       key.TriggerText,
		SupplementType:    key.SupplementType,
		SupplementClass:   d.Class,
		FrequencyCount:    d.FrequencyCount,
		ApprovalCount:     d.ApprovalCount,
		RejectionCount:    d.RejectionCount,
		AvgAmount:         d.AvgAmount(),
		AvgDaysToApproval: d.AvgDays(),
		LastSeenAt:        d.SeenAt,
	}
}

// Apply merges a delta into an existing pattern. In add mode the averages
// become count-weighted means over the old and new observations.
func (p *SupplementPattern) Apply(d PatternDelta, mode UpsertMode) {
	if mode == UpsertReplace {
		id := p.ID
		*p = NewPattern(id, p.Key(), d)
		return
	}
	prev := float64(p.FrequencyCount)
	total := prev + float64(d.FrequencyCount)
	if total > 0 {
		p.AvgAmount = (p.AvgAmount*prev + d.TotalAmount) / total
		p.AvgDaysToApproval = (p.AvgDaysToApproval*prev + d.TotalDays) / total
	}
	p.FrequencyCount += d.FrequencyCount
	p.ApprovalCount += d.ApprovalCount
	p.RejectionCount += d.RejectionCount
	if d.Class != "" {
		p.SupplementClass = d.Class
	}
	if d.SeenAt.After(p.LastSeenAt) {
		p.LastSeenAt = d.SeenAt
	}
}

// PatternQuery filters patterns. Any fields are unconstrained.
type PatternQuery struct {
	Make          Field[string]
	Model         Field[string]
	Year          Field[int]
	Location      Field[string]
	DamageType    Field[string]
	MinConfidence int
	Limit         int
}

// Matches applies the query filters to one pattern. Make and model compare
// case-insensitively, the same way the SQL store does.
func (q PatternQuery) Matches(p SupplementPattern) bool {
	if p.ConfidenceScore < q.MinConfidence {
		return false
	}
	return lowerField(q.Make).Matches(lowerField(p.VehicleMake)) &&
		lowerField(q.Model).Matches(lowerField(p.VehicleModel)) &&
		q.Year.Matches(p.VehicleYear) &&
		q.Location.Matches(p.DamageLocation) &&
		q.DamageType.Matches(p.DamageType)
}

func (q PatternQuery) String() string {
	return fmt.Sprintf("make=%s model=%s year=%s location=%s type=%s min=%d",
		q.Make, q.Model, q.Year, q.Location, q.DamageType, q.MinConfidence)
}

func lowerField(f Field[string]) Field[string] {
	if v, ok := f.Get(); ok {
		return Known(strings.ToLower(v))
	}
	return f
}

func approvalRate(approvals, rejections int) float64 {
	den := approvals + rejections
	if den == 0 {
		return 0
	}
	return float64(approvals) / float64(den)
}
