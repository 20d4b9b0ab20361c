package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/supplementiq/backend/internal/models"
	"github.com/supplementiq/backend/internal/scoring"
	"github.com/supplementiq/backend/internal/utils"
)

var ErrNotFound = errors.New("not found")

const (
	RunStatusRunning = "RUNNING"
	RunStatusSuccess = "SUCCESS"
	RunStatusPartial = "PARTIAL"
	RunStatusFailed  = "FAILED"
)

type Store struct {
	Pool       *pgxpool.Pool
	Confidence scoring.PatternConfidence
}

func New(ctx context.Context, databaseURL string, confidence scoring.PatternConfidence) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{Pool: pool, Confidence: confidence}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// KeyHash is the stable storage identity of a pattern key.
func KeyHash(key models.PatternKey) int64 {
	return utils.StableHash64(key.String())
}

const approvedSupplementsQuery = `
	SELECT s.id, s.estimate_id, s.description, s.category, s.approved_amount, s.submitted_at, s.approved_at,
		e.id, e.total, e.vehicle_make, e.vehicle_model, e.vehicle_year, e.vin, e.damage_description,
		e.photo_count, e.insurer, e.submitted,
		COALESCE((
			SELECT json_agg(json_build_object(
				'type', i.type, 'description', i.description, 'quantity', i.quantity,
				'unit_price', i.unit_price, 'total', i.total, 'category', i.category
			) ORDER BY i.position)
			FROM estimate_items i WHERE i.estimate_id = e.id
		), '[]'::json)
	FROM supplements s
	LEFT JOIN estimates e ON e.id = s.estimate_id
	WHERE s.status = 'approved' AND s.approved_amount IS NOT NULL`

// FetchApprovedSupplements returns approved supplements with their estimates.
// With unminedOnly it leaves out every supplement already counted into a
// pattern, whatever its timestamps.
func (s *Store) FetchApprovedSupplements(ctx context.Context, unminedOnly bool) ([]models.ApprovedSupplement, error) {
	query := approvedSupplementsQuery
	if unminedOnly {
		query += " AND NOT EXISTS (SELECT 1 FROM mined_supplements m WHERE m.supplement_id = s.id)"
	}
	query += " ORDER BY s.approved_at ASC NULLS FIRST, s.id ASC"

	rows, err := s.Pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ApprovedSupplement
	for rows.Next() {
		var (
			sup         models.ApprovedSupplement
			category    *string
			estimateID  *string
			total       *float64
			mk          *string
			model       *string
			year        *int
			vin         *string
			description *string
			photos      *int
			insurer     *string
			submitted   *bool
			itemsJSON   []byte
		)
		if err := rows.Scan(
			&sup.ID, &sup.EstimateID, &sup.Description, &category, &sup.ApprovedAmount, &sup.SubmittedAt, &sup.ApprovedAt,
			&estimateID, &total, &mk, &model, &year, &vin, &description,
			&photos, &insurer, &submitted, &itemsJSON,
		); err != nil {
			return nil, err
		}
		sup.Category = models.ItemType(derefString(category))
		if estimateID != nil {
			est := &models.EstimateContext{
				ID:                *estimateID,
				Total:             derefFloat(total),
				VehicleMake:       nonEmpty(mk),
				VehicleModel:      nonEmpty(model),
				VehicleYear:       models.FromPtr(year),
				VIN:               derefString(vin),
				DamageDescription: derefString(description),
				PhotoCount:        derefInt(photos),
				Insurer:           derefString(insurer),
				Submitted:         submitted != nil && *submitted,
			}
			if err := json.Unmarshal(itemsJSON, &est.Items); err != nil {
				return nil, fmt.Errorf("decode items for estimate %s: %w", est.ID, err)
			}
			sup.Estimate = est
		}
		out = append(out, sup)
	}
	return out, rows.Err()
}

const patternColumns = `id, vehicle_make, vehicle_model, vehicle_year, damage_location, damage_type, amount_bucket,
	trigger_text, supplement_class, supplement_type, frequency_count, approval_count, rejection_count,
	avg_amount, avg_days_to_approval, confidence_score, last_seen_at`

func scanPattern(row pgx.Row) (models.SupplementPattern, error) {
	var (
		p                          models.SupplementPattern
		mk, model, location, dtype *string
		year                       *int
	)
	if err := row.Scan(
		&p.ID, &mk, &model, &year, &location, &dtype, &p.AmountBucket,
		&p.TriggerText, &p.SupplementClass, &p.SupplementType, &p.FrequencyCount, &p.ApprovalCount, &p.RejectionCount,
		&p.AvgAmount, &p.AvgDaysToApproval, &p.ConfidenceScore, &p.LastSeenAt,
	); err != nil {
		return models.SupplementPattern{}, err
	}
	p.VehicleMake = models.FromPtr(mk)
	p.VehicleModel = models.FromPtr(model)
	p.VehicleYear = models.FromPtr(year)
	p.DamageLocation = models.FromPtr(location)
	p.DamageType = models.FromPtr(dtype)
	return p, nil
}

func (s *Store) FindPattern(ctx context.Context, key models.PatternKey) (models.SupplementPattern, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+patternColumns+` FROM supplement_patterns WHERE key_hash = $1`, KeyHash(key))
	p, err := scanPattern(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.SupplementPattern{}, ErrNotFound
	}
	return p, err
}

func (s *Store) QueryPatterns(ctx context.Context, q models.PatternQuery) ([]models.SupplementPattern, error) {
	query := `SELECT ` + patternColumns + ` FROM supplement_patterns`
	args := []any{q.MinConfidence}
	wheres := []string{"confidence_score >= $1"}
	if v, ok := q.Make.Get(); ok {
		args = append(args, v)
		wheres = append(wheres, fmt.Sprintf("lower(vehicle_make) = lower($%d)", len(args)))
	}
	if v, ok := q.Model.Get(); ok {
		args = append(args, v)
		wheres = append(wheres, fmt.Sprintf("lower(vehicle_model) = lower($%d)", len(args)))
	}
	if v, ok := q.Year.Get(); ok {
		args = append(args, v)
		wheres = append(wheres, fmt.Sprintf("vehicle_year = $%d", len(args)))
	}
	if v, ok := q.Location.Get(); ok {
		args = append(args, v)
		wheres = append(wheres, fmt.Sprintf("damage_location = $%d", len(args)))
	}
	if v, ok := q.DamageType.Get(); ok {
		args = append(args, v)
		wheres = append(wheres, fmt.Sprintf("damage_type = $%d", len(args)))
	}
	query += " WHERE " + strings.Join(wheres, " AND ")
	query += " ORDER BY confidence_score DESC, id ASC"
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SupplementPattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpsertPattern merges delta into the pattern stored under key inside its own
// short transaction. It reports whether a new row was inserted.
func (s *Store) UpsertPattern(ctx context.Context, key models.PatternKey, delta models.PatternDelta, mode models.UpsertMode) (bool, error) {
	hash := KeyHash(key)
	created := false
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+patternColumns+` FROM supplement_patterns WHERE key_hash = $1 FOR UPDATE`, hash)
		p, err := scanPattern(row)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			created = true
			p = models.NewPattern("", key, delta)
			p.ConfidenceScore = s.Confidence.Score(p.FrequencyCount, p.ApprovalCount, p.RejectionCount)
			if err := insertPattern(ctx, tx, hash, p); err != nil {
				return err
			}
			return markMined(ctx, tx, delta.SupplementIDs)
		case err != nil:
			return err
		}
		p.Apply(delta, mode)
		p.ConfidenceScore = s.Confidence.Score(p.FrequencyCount, p.ApprovalCount, p.RejectionCount)
		_, err = tx.Exec(ctx, `
			UPDATE supplement_patterns SET
				supplement_class = $1,
				frequency_count = $2,
				approval_count = $3,
				rejection_count = $4,
				avg_amount = $5,
				avg_days_to_approval = $6,
				confidence_score = $7,
				last_seen_at = $8,
				updated_at = NOW()
			WHERE id = $9
		`, p.SupplementClass, p.FrequencyCount, p.ApprovalCount, p.RejectionCount,
			p.AvgAmount, p.AvgDaysToApproval, p.ConfidenceScore, p.LastSeenAt, p.ID)
		if err != nil {
			return err
		}
		return markMined(ctx, tx, delta.SupplementIDs)
	})
	return created, err
}

// markMined records the supplements a delta was built from, in the same
// transaction as the pattern write.
func markMined(ctx context.Context, tx pgx.Tx, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO mined_supplements (supplement_id)
		SELECT unnest($1::text[])
		ON CONFLICT (supplement_id) DO NOTHING
	`, ids)
	return err
}

func insertPattern(ctx context.Context, tx pgx.Tx, hash int64, p models.SupplementPattern) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO supplement_patterns (key_hash, vehicle_make, vehicle_model, vehicle_year, damage_location, damage_type,
			amount_bucket, trigger_text, supplement_class, supplement_type, frequency_count, approval_count, rejection_count,
			avg_amount, avg_days_to_approval, confidence_score, last_seen_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`, hash, p.VehicleMake.Ptr(), p.VehicleModel.Ptr(), p.VehicleYear.Ptr(), p.DamageLocation.Ptr(), p.DamageType.Ptr(),
		p.AmountBucket, p.TriggerText, p.SupplementClass, p.SupplementType, p.FrequencyCount, p.ApprovalCount, p.RejectionCount,
		p.AvgAmount, p.AvgDaysToApproval, p.ConfidenceScore, p.LastSeenAt)
	return err
}

func (s *Store) CreateRun(ctx context.Context, status string) (string, error) {
	var id string
	err := s.Pool.QueryRow(ctx, `INSERT INTO mining_runs (status, started_at) VALUES ($1, NOW()) RETURNING id`, status).Scan(&id)
	return id, err
}

func (s *Store) FinishRun(ctx context.Context, runID string, status string, summary []byte, highWaterMark *time.Time) error {
	_, err := s.Pool.Exec(ctx, `UPDATE mining_runs SET status = $1, summary = $2, high_water_mark = $3, finished_at = NOW() WHERE id = $4`,
		status, summary, highWaterMark, runID)
	return err
}

func (s *Store) GetLatestRun(ctx context.Context) (models.MiningRun, error) {
	row := s.Pool.QueryRow(ctx, `SELECT id, started_at, finished_at, status, summary, high_water_mark FROM mining_runs ORDER BY started_at DESC LIMIT 1`)
	var (
		run     models.MiningRun
		summary []byte
	)
	if err := row.Scan(&run.ID, &run.StartedAt, &run.FinishedAt, &run.Status, &summary, &run.HighWaterMark); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.MiningRun{}, ErrNotFound
		}
		return models.MiningRun{}, err
	}
	run.Summary = summary
	return run, nil
}

func nonEmpty(v *string) models.Field[string] {
	if v == nil {
		return models.Any[string]()
	}
	return models.KnownText(*v)
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func derefInt(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

func derefFloat(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
