package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supplementiq/backend/internal/db"
	"github.com/supplementiq/backend/internal/models"
	"github.com/supplementiq/backend/internal/scoring"
	"github.com/supplementiq/backend/internal/service"
)

func newTestRouter(t *testing.T) (*gin.Engine, *db.MemoryStore, *Handler) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := scoring.Default()
	store := db.NewMemoryStore(cfg.Pattern)
	h := &Handler{
		Store:       store,
		Recommender: service.NewRecommendationService(store, cfg, nil, false, zerolog.Nop()),
		Miner:       service.NewMiningService(store, store, zerolog.Nop()),
		Validator:   validator.New(),
		Logger:      zerolog.Nop(),
	}

	r := gin.New()
	r.POST("/api/recommendations", h.Recommendations)
	r.POST("/api/triggers/evaluate", h.EvaluateTriggers)
	r.GET("/api/patterns", h.PatternsList)
	r.POST("/api/patterns/mine", h.MinePatterns)
	r.GET("/api/runs/latest", h.RunsLatest)
	return r, store, h
}

func doJSON(r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error.Code
}

func TestRecommendationsReturnsTriggers(t *testing.T) {
	r, _, _ := newTestRouter(t)

	payload := map[string]any{
		"estimate": map[string]any{
			"id":                 "est-1",
			"total":              6000,
			"vehicle_make":       "Honda",
			"vehicle_model":      nil,
			"damage_description": "Front bumper pushed in",
			"photo_count":        10,
			"items": []map[string]any{
				{"type": "parts", "description": "Airbag module", "total": 900},
			},
		},
	}
	w := doJSON(r, http.MethodPost, "/api/recommendations", payload)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp RecommendationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, len(resp.Items), resp.Count)

	ids := map[string]bool{}
	for _, it := range resp.Items {
		ids[it.ID] = true
	}
	assert.True(t, ids["trigger_high_impact_collision"])
	assert.True(t, ids["trigger_airbag_deployment"])
	assert.Equal(t, "trigger_airbag_deployment", resp.Items[0].ID)
}

func TestRecommendationsAppliesOptions(t *testing.T) {
	r, _, _ := newTestRouter(t)

	payload := map[string]any{
		"estimate": map[string]any{
			"id":                 "est-1",
			"total":              6000,
			"damage_description": "Front bumper pushed in",
			"photo_count":        10,
		},
		"options": map[string]any{"include_pre_disassembly": false},
	}
	w := doJSON(r, http.MethodPost, "/api/recommendations", payload)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"items":[],"count":0}`, w.Body.String())
}

func TestRecommendationsValidation(t *testing.T) {
	r, _, _ := newTestRouter(t)

	w := doJSON(r, http.MethodPost, "/api/recommendations", map[string]any{"estimate": map[string]any{"total": 10}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, w))

	w = doJSON(r, http.MethodPost, "/api/recommendations", map[string]any{
		"estimate": map[string]any{"id": "est-1", "items": []map[string]any{{"type": "bogus"}}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/recommendations", bytes.NewBufferString("{"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_REQUEST", errorCode(t, rec))
}

func TestEvaluateTriggers(t *testing.T) {
	r, _, _ := newTestRouter(t)

	w := doJSON(r, http.MethodPost, "/api/triggers/evaluate", map[string]any{
		"id":          "est-1",
		"total":       3500,
		"photo_count": 1,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp TriggerResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Items, 11)
	assert.Equal(t, 1, resp.Fired)
}

func TestMineThenListPatterns(t *testing.T) {
	r, store, _ := newTestRouter(t)

	approved := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	submitted := approved.Add(-48 * time.Hour)
	est := models.EstimateContext{
		ID:                "est-1",
		Total:             4200,
		VehicleMake:       models.Known("Toyota"),
		VehicleModel:      models.Known("Camry"),
		VehicleYear:       models.Known(2019),
		DamageDescription: "rear bumper crushed in collision",
	}
	store.AddSupplements(models.ApprovedSupplement{
		ID:             "s1",
		EstimateID:     est.ID,
		Description:    "Rear body panel hidden damage",
		ApprovedAmount: 750,
		SubmittedAt:    &submitted,
		ApprovedAt:     &approved,
		Estimate:       &est,
	})

	w := doJSON(r, http.MethodGet, "/api/runs/latest", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(r, http.MethodPost, "/api/patterns/mine", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result service.MineResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.PatternsCreated)

	w = doJSON(r, http.MethodGet, "/api/patterns?make=toyota&location=Rear%20End", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list PatternListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "Hidden Damage", list.Items[0].SupplementType)
	assert.Equal(t, 73, list.Items[0].ConfidenceScore)

	w = doJSON(r, http.MethodGet, "/api/patterns?make=Honda", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"items":[],"count":0}`, w.Body.String())

	w = doJSON(r, http.MethodGet, "/api/runs/latest", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var run models.MiningRun
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
	assert.Equal(t, db.RunStatusSuccess, run.Status)
}

func TestPatternsListValidation(t *testing.T) {
	r, _, _ := newTestRouter(t)

	for _, path := range []string{"/api/patterns?year=abc", "/api/patterns?min_confidence=101", "/api/patterns?limit=0"} {
		w := doJSON(r, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
	}
}

func TestMineCompletesAfterClientDisconnect(t *testing.T) {
	r, store, _ := newTestRouter(t)

	approved := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	for i, desc := range []string{"Rear body panel hidden damage", "Quarter panel weld clips"} {
		est := models.EstimateContext{ID: "est-1", Total: 4200, DamageDescription: "rear bumper crushed in collision"}
		store.AddSupplements(models.ApprovedSupplement{
			ID:             fmt.Sprintf("s%d", i+1),
			EstimateID:     est.ID,
			Description:    desc,
			ApprovedAmount: 300,
			ApprovedAt:     &approved,
			Estimate:       &est,
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/patterns/mine", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	run, err := store.GetLatestRun(context.Background())
	require.NoError(t, err)
	assert.Equal(t, db.RunStatusSuccess, run.Status)

	rows, err := store.QueryPatterns(context.Background(), models.PatternQuery{})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}
