// Package handler はアラートとアラートルールのHTTPハンドラーを提供します。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ai_memory/internal/api"
	"ai_memory/internal/feature/alerts/domain/entity"
	"ai_memory/internal/feature/alerts/usecase"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 200
)

// AlertUsecase はアラートの参照・作成とルール管理を提供します。
type AlertUsecase interface {
	Check(ctx context.Context) ([]entity.Alert, error)
	Create(ctx context.Context, level, rule, message string, metadata map[string]any) (*entity.Alert, error)
	Query(ctx context.Context, q entity.Query) ([]entity.Alert, int64, error)
	Delete(ctx context.Context, id string) error
	Recent(limit int) []entity.Alert
	Aggregated() []entity.Aggregated
	Rules() []entity.RuleInfo
	ToggleRule(ctx context.Context, id string, enabled bool) error
	UpdateRuleCooldown(ctx context.Context, id string, cooldown time.Duration) error
	UpdateRuleConfig(ctx context.Context, id string, raw json.RawMessage) error
	Stats(ctx context.Context) (*entity.Stats, error)
	Trend(ctx context.Context, hours int) (*entity.Trend, error)
}

// AlertHandler はアラートAPIのHTTPリクエストを処理します。
type AlertHandler struct {
	uc AlertUsecase
}

// NewAlertHandler はAlertHandlerの新しいインスタンスを生成します。
func NewAlertHandler(uc AlertUsecase) *AlertHandler {
	return &AlertHandler{uc: uc}
}

// ListResponse は GET /api/alerts のレスポンスです。
type ListResponse struct {
	Alerts []entity.Alert `json:"alerts"`
	Total  int64          `json:"total"`
	Page   int            `json:"page"`
	Limit  int            `json:"limit"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, usecase.ErrInvalidInput), errors.Is(err, usecase.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, usecase.ErrRuleNotFound), errors.Is(err, usecase.ErrAlertNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, msg string, err error, attrs ...any) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Warn(msg, append(attrs, "error", err)...)
	}
	c.JSON(status, api.ErrorResponse{Error: err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: msg})
}

// List はアラートを新しい順に返します。
// クエリ: level, rule, page, limit
func (h *AlertHandler) List(c *gin.Context) {
	q := c.Request.URL.Query()
	levelParam, err := api.QueryString(q, "level")
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	rule, err := api.QueryString(q, "rule")
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	page, limit, offset, err := api.Page(q, defaultPageLimit, maxPageLimit)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	query := entity.Query{Rule: rule, Limit: limit, Offset: offset}
	if levelParam != "" {
		lv, ok := entity.ParseLevel(levelParam)
		if !ok {
			badRequest(c, "invalid level")
			return
		}
		query.Level = lv
	}

	alerts, total, err := h.uc.Query(c.Request.Context(), query)
	if err != nil {
		fail(c, "failed to query alerts", err)
		return
	}
	if alerts == nil {
		alerts = []entity.Alert{}
	}
	c.JSON(http.StatusOK, ListResponse{Alerts: alerts, Total: total, Page: page, Limit: limit})
}

// Recent はメモリ上の直近のアラートを返します。
func (h *AlertHandler) Recent(c *gin.Context) {
	limit, err := api.QueryInt(c.Request.URL.Query(), "limit", defaultPageLimit)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": h.uc.Recent(limit)})
}

// Create は手動アラートを作成します。
func (h *AlertHandler) Create(c *gin.Context) {
	var req api.CreateAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	a, err := h.uc.Create(c.Request.Context(), req.Level, req.Rule, req.Message, req.Metadata)
	if err != nil {
		fail(c, "failed to create alert", err)
		return
	}
	c.JSON(http.StatusCreated, api.StatusResponse{Status: "created", ID: a.ID})
}

// Delete はアラートを削除します。
func (h *AlertHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.uc.Delete(c.Request.Context(), id); err != nil {
		fail(c, "failed to delete alert", err, "id", id)
		return
	}
	c.JSON(http.StatusOK, api.StatusResponse{Status: "deleted", ID: id})
}

// Check は全ルールを即時評価し、発火したアラートを返します。
func (h *AlertHandler) Check(c *gin.Context) {
	fired, err := h.uc.Check(c.Request.Context())
	if err != nil {
		fail(c, "alert check failed", err)
		return
	}
	if fired == nil {
		fired = []entity.Alert{}
	}
	c.JSON(http.StatusOK, gin.H{"alerts": fired})
}

// Rules はルールの設定と統計を返します。
func (h *AlertHandler) Rules(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rules": h.uc.Rules()})
}

// ToggleRule はルールの有効・無効を切り替えます。
func (h *AlertHandler) ToggleRule(c *gin.Context) {
	var req api.ToggleRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	id := c.Param("id")
	if err := h.uc.ToggleRule(c.Request.Context(), id, *req.Enabled); err != nil {
		fail(c, "failed to toggle rule", err, "rule", id)
		return
	}
	c.JSON(http.StatusOK, api.StatusResponse{Status: "ok", ID: id})
}

// UpdateCooldown はクールダウンを分単位で更新します。
func (h *AlertHandler) UpdateCooldown(c *gin.Context) {
	var req api.RuleCooldownRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	id := c.Param("id")
	d := time.Duration(*req.CooldownMinutes * float64(time.Minute))
	if err := h.uc.UpdateRuleCooldown(c.Request.Context(), id, d); err != nil {
		fail(c, "failed to update rule cooldown", err, "rule", id)
		return
	}
	c.JSON(http.StatusOK, api.StatusResponse{Status: "ok", ID: id})
}

// UpdateConfig はルール固有の設定JSONを更新します。
func (h *AlertHandler) UpdateConfig(c *gin.Context) {
	var req api.RuleConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	if !json.Valid([]byte(req.ConfigJSON)) {
		badRequest(c, "config_json is not valid JSON")
		return
	}
	id := c.Param("id")
	if err := h.uc.UpdateRuleConfig(c.Request.Context(), id, json.RawMessage(req.ConfigJSON)); err != nil {
		fail(c, "failed to update rule config", err, "rule", id)
		return
	}
	c.JSON(http.StatusOK, api.StatusResponse{Status: "ok", ID: id})
}

// Stats はエンジン全体の統計を返します。
func (h *AlertHandler) Stats(c *gin.Context) {
	s, err := h.uc.Stats(c.Request.Context())
	if err != nil {
		fail(c, "failed to load alert stats", err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// Trend は重要度別の時間推移を返します。クエリ: hours（既定24）
func (h *AlertHandler) Trend(c *gin.Context) {
	hours, err := api.QueryInt(c.Request.URL.Query(), "hours", 24)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	t, err := h.uc.Trend(c.Request.Context(), hours)
	if err != nil {
		fail(c, "failed to load alert trend", err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// Aggregated は直近1時間の集約アラートを返します。
func (h *AlertHandler) Aggregated(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"alerts": h.uc.Aggregated()})
}
