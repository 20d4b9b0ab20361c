package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/supplementiq/backend/internal/db"
	"github.com/supplementiq/backend/internal/models"
	"github.com/supplementiq/backend/internal/service"
)

// Store is the read side the handlers query directly.
type Store interface {
	Ping(ctx context.Context) error
	QueryPatterns(ctx context.Context, q models.PatternQuery) ([]models.SupplementPattern, error)
	GetLatestRun(ctx context.Context) (models.MiningRun, error)
}

type Handler struct {
	Store          Store
	Recommender    *service.RecommendationService
	Miner          *service.MiningService
	Validator      *validator.Validate
	Logger         zerolog.Logger
	RequestTimeout time.Duration
}

type RecommendationRequest struct {
	Estimate models.EstimateContext `json:"estimate"`
	Options  json.RawMessage        `json:"options,omitempty" swaggertype:"object"`
}

type RecommendationResponse struct {
	Items []models.SupplementSuggestion `json:"items"`
	Count int                           `json:"count"`
}

type TriggerResponse struct {
	Items []service.TriggerOutcome `json:"items"`
	Fired int                      `json:"fired"`
}

type PatternListResponse struct {
	Items []models.SupplementPattern `json:"items"`
	Count int                        `json:"count"`
}

const (
	defaultPatternLimit = 50
	maxPatternLimit     = 500
)

func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	if err := h.Store.Ping(ctx); err != nil {
		writeError(c, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "Database unavailable", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// @Summary Recommend supplements
// @Description Evaluate trigger rules and historical patterns for an estimate
// @Tags recommendations
// @Accept json
// @Produce json
// @Param request body RecommendationRequest true "Estimate and options"
// @Success 200 {object} RecommendationResponse
// @Failure 400 {object} map[string]any
// @Failure 502 {object} map[string]any
// @Router /api/recommendations [post]
func (h *Handler) Recommendations(c *gin.Context) {
	var req RecommendationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	opts := service.DefaultRecommendOptions()
	if len(req.Options) > 0 && string(req.Options) != "null" {
		if err := json.Unmarshal(req.Options, &opts); err != nil {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid options", err.Error())
			return
		}
	}
	req.Estimate = req.Estimate.Normalized()
	if err := h.Validator.Struct(req.Estimate); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}
	if err := h.Validator.Struct(opts); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}

	ctx, cancel := h.withTimeout(c)
	defer cancel()
	items, err := h.Recommender.GenerateRecommendations(ctx, req.Estimate, opts)
	if err != nil {
		h.Logger.Error().Err(err).Str("estimate_id", req.Estimate.ID).Msg("recommendation failed")
		if errors.Is(err, service.ErrPatternLookup) {
			writeError(c, http.StatusBadGateway, "PATTERN_LOOKUP_FAILED", "Pattern lookup failed", err.Error())
			return
		}
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Recommendation failed", err.Error())
		return
	}
	c.JSON(http.StatusOK, RecommendationResponse{Items: items, Count: len(items)})
}

// @Summary Evaluate trigger rules
// @Description Run every trigger rule against an estimate and report which fired
// @Tags recommendations
// @Accept json
// @Produce json
// @Param estimate body models.EstimateContext true "Estimate"
// @Success 200 {object} TriggerResponse
// @Failure 400 {object} map[string]any
// @Router /api/triggers/evaluate [post]
func (h *Handler) EvaluateTriggers(c *gin.Context) {
	var est models.EstimateContext
	if err := c.ShouldBindJSON(&est); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	est = est.Normalized()
	if err := h.Validator.Struct(est); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}
	items := h.Recommender.Triggers.Evaluate(est)
	fired := 0
	for _, it := range items {
		if it.Met {
			fired++
		}
	}
	c.JSON(http.StatusOK, TriggerResponse{Items: items, Fired: fired})
}

// @Summary List patterns
// @Tags patterns
// @Produce json
// @Param make query string false "Vehicle make"
// @Param model query string false "Vehicle model"
// @Param year query int false "Vehicle year"
// @Param location query string false "Damage location"
// @Param type query string false "Damage type"
// @Param min_confidence query int false "Minimum confidence score"
// @Param limit query int false "Max rows (default 50)"
// @Success 200 {object} PatternListResponse
// @Failure 400 {object} map[string]any
// @Router /api/patterns [get]
func (h *Handler) PatternsList(c *gin.Context) {
	q := models.PatternQuery{
		Make:       models.KnownText(c.Query("make")),
		Model:      models.KnownText(c.Query("model")),
		Location:   models.KnownText(c.Query("location")),
		DamageType: models.KnownText(c.Query("type")),
		Limit:      defaultPatternLimit,
	}
	if raw := strings.TrimSpace(c.Query("year")); raw != "" {
		year, err := strconv.Atoi(raw)
		if err != nil {
			writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "year must be an integer", nil)
			return
		}
		q.Year = models.Known(year)
	}
	if raw := strings.TrimSpace(c.Query("min_confidence")); raw != "" {
		minConf, err := strconv.Atoi(raw)
		if err != nil || minConf < 0 || minConf > 100 {
			writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "min_confidence must be 0-100", nil)
			return
		}
		q.MinConfidence = minConf
	}
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be positive", nil)
			return
		}
		q.Limit = min(limit, maxPatternLimit)
	}

	ctx, cancel := h.withTimeout(c)
	defer cancel()
	items, err := h.Store.QueryPatterns(ctx, q)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to list patterns", err.Error())
		return
	}
	if items == nil {
		items = []models.SupplementPattern{}
	}
	c.JSON(http.StatusOK, PatternListResponse{Items: items, Count: len(items)})
}

// @Summary Mine patterns
// @Description Aggregate approved supplements that no earlier run counted. With rebuild, recompute every pattern from all history.
// @Tags patterns
// @Produce json
// @Param rebuild query bool false "Replace stored counts instead of adding"
// @Success 200 {object} service.MineResult
// @Failure 409 {object} map[string]any
// @Failure 500 {object} map[string]any
// @Router /api/patterns/mine [post]
func (h *Handler) MinePatterns(c *gin.Context) {
	opts := service.RunOptions{Rebuild: queryFlag(c, "rebuild")}
	// Mining runs to completion even if the client disconnects.
	ctx := context.WithoutCancel(c.Request.Context())
	result, err := h.Miner.Run(ctx, opts)
	if err != nil {
		if errors.Is(err, service.ErrMinerBusy) {
			writeError(c, http.StatusConflict, "MINER_BUSY", "A mining run is already in progress", nil)
			return
		}
		h.Logger.Error().Err(err).Msg("mining failed")
		writeError(c, http.StatusInternalServerError, "MINING_ERROR", "Mining failed", result)
		return
	}
	c.JSON(http.StatusOK, result)
}

// @Summary Latest mining run
// @Tags runs
// @Produce json
// @Success 200 {object} models.MiningRun
// @Failure 404 {object} map[string]any
// @Router /api/runs/latest [get]
func (h *Handler) RunsLatest(c *gin.Context) {
	result, err := h.Store.GetLatestRun(c.Request.Context())
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeError(c, http.StatusNotFound, "NOT_FOUND", "No runs found", nil)
			return
		}
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to load run", err.Error())
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) withTimeout(c *gin.Context) (context.Context, context.CancelFunc) {
	if h.RequestTimeout <= 0 {
		return context.WithCancel(c.Request.Context())
	}
	return context.WithTimeout(c.Request.Context(), h.RequestTimeout)
}

func queryFlag(c *gin.Context, name string) bool {
	v := c.Query(name)
	return v == "1" || strings.EqualFold(v, "true")
}

func writeError(c *gin.Context, status int, code string, message string, details any) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}
