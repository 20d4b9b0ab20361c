package db

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/supplementiq/backend/internal/models"
	"github.com/supplementiq/backend/internal/scoring"
)

// MemoryStore keeps patterns, mining input and runs in process memory. It backs
// tests and the server when no DATABASE_URL is configured.
type MemoryStore struct {
	Confidence scoring.PatternConfidence

	mu          sync.RWMutex
	supplements []models.ApprovedSupplement
	patterns    map[string]*models.SupplementPattern
	mined       map[string]bool
	runs        []models.MiningRun
}

func NewMemoryStore(confidence scoring.PatternConfidence) *MemoryStore {
	return &MemoryStore{
		Confidence: confidence,
		patterns:   map[string]*models.SupplementPattern{},
		mined:      map[string]bool{},
	}
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// AddSupplements appends mining input rows.
func (m *MemoryStore) AddSupplements(rows ...models.ApprovedSupplement) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.supplements = append(m.supplements, rows...)
}

// PutPattern stores p as-is, assigning an ID when it has none.
func (m *MemoryStore) PutPattern(p models.SupplementPattern) models.SupplementPattern {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	m.patterns[p.Key().String()] = &p
	return p
}

func (m *MemoryStore) FetchApprovedSupplements(ctx context.Context, unminedOnly bool) ([]models.ApprovedSupplement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.ApprovedSupplement, 0, len(m.supplements))
	for _, s := range m.supplements {
		if unminedOnly && m.mined[s.ID] {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (m *MemoryStore) FindPattern(ctx context.Context, key models.PatternKey) (models.SupplementPattern, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.patterns[key.String()]
	if !ok {
		return models.SupplementPattern{}, ErrNotFound
	}
	return *p, nil
}

func (m *MemoryStore) QueryPatterns(ctx context.Context, q models.PatternQuery) ([]models.SupplementPattern, error) {
	m.mu.RLock()
	var out []models.SupplementPattern
	for _, p := range m.patterns {
		if q.Matches(*p) {
			out = append(out, *p)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ConfidenceScore == out[j].ConfidenceScore {
			return out[i].ID < out[j].ID
		}
		return out[i].ConfidenceScore > out[j].ConfidenceScore
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *MemoryStore) UpsertPattern(ctx context.Context, key models.PatternKey, delta models.PatternDelta, mode models.UpsertMode) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range delta.SupplementIDs {
		m.mined[id] = true
	}
	if p, ok := m.patterns[key.String()]; ok {
		p.Apply(delta, mode)
		p.ConfidenceScore = m.Confidence.Score(p.FrequencyCount, p.ApprovalCount, p.RejectionCount)
		return false, nil
	}
	p := models.NewPattern(uuid.NewString(), key, delta)
	p.ConfidenceScore = m.Confidence.Score(p.FrequencyCount, p.ApprovalCount, p.RejectionCount)
	m.patterns[key.String()] = &p
	return true, nil
}

func (m *MemoryStore) CreateRun(ctx context.Context, status string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.NewString()
	m.runs = append(m.runs, models.MiningRun{ID: id, StartedAt: time.Now().UTC(), Status: status})
	return id, nil
}

func (m *MemoryStore) FinishRun(ctx context.Context, runID string, status string, summary []byte, highWaterMark *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.runs {
		if m.runs[i].ID != runID {
			continue
		}
		now := time.Now().UTC()
		m.runs[i].FinishedAt = &now
		m.runs[i].Status = status
		m.runs[i].Summary = json.RawMessage(summary)
		m.runs[i].HighWaterMark = highWaterMark
		return nil
	}
	return ErrNotFound
}

func (m *MemoryStore) GetLatestRun(ctx context.Context) (models.MiningRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.runs) == 0 {
		return models.MiningRun{}, ErrNotFound
	}
	return m.runs[len(m.runs)-1], nil
}
