package models

import (
	"encoding/json"
	"strings"
	"time"
)

type ItemType string

const (
	ItemLabor ItemType = "labor"
	ItemParts ItemType = "parts"
	ItemPaint ItemType = "paint"
	ItemOther ItemType = "other"
)

type AmountBucket string

const (
	BucketLow     AmountBucket = "low"
	BucketMidLow  AmountBucket = "mid-low"
	BucketMidHigh AmountBucket = "mid-high"
	BucketHigh    AmountBucket = "high"
)

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank orders priorities for sorting, high first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	default:
		return 2
	}
}

type Timing string

const (
	TimingPreDisassembly Timing = "pre-disassembly"
	TimingDuringRepair   Timing = "during-repair"
	TimingPostRepair     Timing = "post-repair"
)

type SuggestionSource string

const (
	SourceTrigger SuggestionSource = "trigger"
	SourcePattern SuggestionSource = "pattern"
)

type EstimateItem struct {
	Type        ItemType `json:"type" validate:"omitempty,oneof=labor parts paint other"`
	Description string   `json:"description"`
	Quantity    float64  `json:"quantity"`
	UnitPrice   float64  `json:"unit_price"`
	Total       float64  `json:"total"`
	Category    string   `json:"category,omitempty"`
}

// EstimateContext is the per-request view of an estimate. It is never persisted
// by this service and must not be mutated while a recommendation is running.
type EstimateContext struct {
	ID                string         `json:"id" validate:"required"`
	Total             float64        `json:"total" validate:"gte=0"`
	VehicleMake       Field[string]  `json:"vehicle_make"`
	VehicleModel      Field[string]  `json:"vehicle_model"`
	VehicleYear       Field[int]     `json:"vehicle_year"`
	VIN               string         `json:"vin,omitempty"`
	DamageDescription string         `json:"damage_description"`
	Items             []EstimateItem `json:"items" validate:"dive"`
	PhotoCount        int            `json:"photo_count" validate:"gte=0"`
	Insurer           string         `json:"insurer,omitempty"`
	Submitted         bool           `json:"submitted"`
}

// Normalized trims the vehicle fields and turns blank make or model into Any,
// the same as a NULL column read from the store.
func (e EstimateContext) Normalized() EstimateContext {
	e.VehicleMake = TrimText(e.VehicleMake)
	e.VehicleModel = TrimText(e.VehicleModel)
	e.VIN = strings.TrimSpace(e.VIN)
	return e
}

// ItemText joins every line-item description, lower-cased.
func (e EstimateContext) ItemText() string {
	parts := make([]string, 0, len(e.Items))
	for _, it := range e.Items {
		parts = append(parts, it.Description)
	}
	return strings.ToLower(strings.Join(parts, " "))
}

// SearchText is the damage description plus item descriptions, lower-cased.
func (e EstimateContext) SearchText() string {
	return strings.TrimSpace(strings.ToLower(e.DamageDescription) + " " + e.ItemText())
}

// ApprovedSupplement is one mining input row: an approved supplement joined to
// the estimate it was raised against. Estimate is nil when the join is missing.
type ApprovedSupplement struct {
	ID             string           `json:"id"`
	EstimateID     string           `json:"estimate_id"`
	Description    string           `json:"description"`
	Category       ItemType         `json:"category"`
	ApprovedAmount float64          `json:"approved_amount"`
	SubmittedAt    *time.Time       `json:"submitted_at"`
	ApprovedAt     *time.Time       `json:"approved_at"`
	Estimate       *EstimateContext `json:"estimate,omitempty"`
}

// DaysToApproval is zero when either timestamp is missing.
func (s ApprovedSupplement) DaysToApproval() float64 {
	if s.SubmittedAt == nil || s.ApprovedAt == nil {
		return 0
	}
	return s.ApprovedAt.Sub(*s.SubmittedAt).Hours() / 24
}

type TriggerConditionResult struct {
	Condition     string   `json:"condition"`
	Met           bool     `json:"met"`
	Confidence    int      `json:"confidence"`
	Reason        string   `json:"reason"`
	Documentation []string `json:"documentation"`
}

type SupplementSuggestion struct {
	ID                  string              `json:"id"`
	Source              SuggestionSource    `json:"source"`
	TriggerText         string              `json:"trigger_text"`
	Category            ItemType            `json:"category"`
	Confidence          int                 `json:"confidence"`
	SuggestedAmount     float64             `json:"suggested_amount"`
	Justification       string              `json:"justification"`
	DocumentationNeeded []string            `json:"documentation_needed"`
	RelatedPatterns     []SupplementPattern `json:"related_patterns,omitempty"`
	Priority            Priority            `json:"priority"`
	Timing              Timing              `json:"timing"`
}

type MiningRun struct {
	ID            string          `json:"id"`
	StartedAt     time.Time       `json:"started_at"`
	FinishedAt    *time.Time      `json:"finished_at"`
	Status        string          `json:"status"`
	Summary       json.RawMessage `json:"summary"`
	HighWaterMark *time.Time      `json:"high_water_mark"`
}
