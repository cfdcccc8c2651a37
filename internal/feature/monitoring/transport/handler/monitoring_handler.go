// Package handler は監視指標のHTTPハンドラーを提供します。
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"ai_memory/internal/api"
	"ai_memory/internal/feature/monitoring/domain/entity"
)

// MonitoringUsecase は収集器の現在値とダッシュボード集計を提供します。
type MonitoringUsecase interface {
	Snapshot(ctx context.Context) entity.Snapshot
	Dashboard(ctx context.Context, rangeKey string) (*entity.Dashboard, error)
}

// StatusProvider は記憶ストアの稼働状態を返します。
type StatusProvider func(ctx context.Context) any

// MonitoringHandler は監視APIのHTTPリクエストを処理します。
type MonitoringHandler struct {
	uc     MonitoringUsecase
	status StatusProvider
}

// NewMonitoringHandler はMonitoringHandlerの新しいインスタンスを生成します。status は nil でも構いません。
func NewMonitoringHandler(uc MonitoringUsecase, status StatusProvider) *MonitoringHandler {
	return &MonitoringHandler{uc: uc, status: status}
}

// Metrics は収集器の現在値とストアの稼働状態を返します。
func (h *MonitoringHandler) Metrics(c *gin.Context) {
	resp := gin.H{"performance": h.uc.Snapshot(c.Request.Context())}
	if h.status != nil {
		resp["system"] = h.status(c.Request.Context())
	}
	c.JSON(http.StatusOK, resp)
}

// Dashboard は range (1h|24h|7d|30d) の集計を返します。
func (h *MonitoringHandler) Dashboard(c *gin.Context) {
	rangeKey, err := api.QueryString(c.Request.URL.Query(), "range")
	if err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: err.Error()})
		return
	}
	d, err := h.uc.Dashboard(c.Request.Context(), rangeKey)
	if err != nil {
		slog.Warn("dashboard aggregation failed", "error", err, "range", rangeKey)
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, d)
}
