package service

import (
	"context"
	"errors"
	"time"

	"github.com/supplementiq/backend/internal/models"
)

var (
	// ErrPatternLookup wraps any store failure while matching patterns.
	ErrPatternLookup = errors.New("pattern lookup failed")
	// ErrSupplementFetch wraps a failed bulk read of mining input.
	ErrSupplementFetch = errors.New("approved supplement fetch failed")
	// ErrMinerBusy is returned when a mining run is already in flight.
	ErrMinerBusy = errors.New("pattern miner already running")
)

// PatternReader is the read side the matcher needs.
type PatternReader interface {
	QueryPatterns(ctx context.Context, q models.PatternQuery) ([]models.SupplementPattern, error)
}

// PatternRepository is everything the miner and matcher need from storage.
// db.Store and db.MemoryStore both implement it.
type PatternRepository interface {
	PatternReader
	FetchApprovedSupplements(ctx context.Context, unminedOnly bool) ([]models.ApprovedSupplement, error)
	FindPattern(ctx context.Context, key models.PatternKey) (models.SupplementPattern, error)
	UpsertPattern(ctx context.Context, key models.PatternKey, delta models.PatternDelta, mode models.UpsertMode) (created bool, err error)
}

// RunRecorder persists mining run bookkeeping.
type RunRecorder interface {
	CreateRun(ctx context.Context, status string) (string, error)
	FinishRun(ctx context.Context, runID string, status string, summary []byte, highWaterMark *time.Time) error
	GetLatestRun(ctx context.Context) (models.MiningRun, error)
}
