package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"ai_memory/internal/api"
	"ai_memory/internal/feature/memory/domain/entity"
)

// FunnelTrigger は判定と昇格の手動実行を提供します。
type FunnelTrigger interface {
	TriggerJudge(ctx context.Context, userID, sessionID string) (*entity.JudgeReport, bool, error)
	Promote(ctx context.Context) (*entity.PromoteReport, error)
}

// MaintenanceTrigger は減衰・重複統合・スナップショットの手動実行を提供します。
type MaintenanceTrigger interface {
	Decay(ctx context.Context) (*entity.DecayReport, error)
	Deduplicate(ctx context.Context) (*entity.DedupReport, error)
	Snapshot(ctx context.Context) (string, error)
}

// AdminHandler は管理者向けの手動トリガーを処理します。
type AdminHandler struct {
	funnel FunnelTrigger
	maint  MaintenanceTrigger
}

// NewAdminHandler はAdminHandlerの新しいインスタンスを生成します。
func NewAdminHandler(funnel FunnelTrigger, maint MaintenanceTrigger) *AdminHandler {
	return &AdminHandler{funnel: funnel, maint: maint}
}

// TriggerResponse は手動トリガーの結果です。
type TriggerResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Report  any    `json:"report,omitempty"`
}

// TriggerJudge はセッションの判定を要求します。
// キューに送信した場合は202を、その場で判定した場合は200と結果を返します。
func (h *AdminHandler) TriggerJudge(c *gin.Context) {
	var req api.TriggerJudgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "invalid request"})
		return
	}
	report, queued, err := h.funnel.TriggerJudge(c.Request.Context(), req.UserID, req.SessionID)
	if err != nil {
		fail(c, "judge trigger failed", err, "user_id", req.UserID, "session_id", req.SessionID)
		return
	}
	if queued {
		c.JSON(http.StatusAccepted, TriggerResponse{Status: "queued", Message: "judge job enqueued"})
		return
	}
	c.JSON(http.StatusOK, TriggerResponse{
		Status:  "success",
		Message: fmt.Sprintf("judged %d records, staged %d", report.Judged, report.Staged),
		Report:  report,
	})
}

// TriggerPromotion は昇格処理を実行します。
func (h *AdminHandler) TriggerPromotion(c *gin.Context) {
	report, err := h.funnel.Promote(c.Request.Context())
	if err != nil {
		fail(c, "promotion trigger failed", err)
		return
	}
	slog.Info("promotion triggered manually", "promoted", report.Promoted)
	c.JSON(http.StatusOK, TriggerResponse{
		Status:  "success",
		Message: fmt.Sprintf("promoted %d of %d candidates", report.Promoted, report.Candidates),
		Report:  report,
	})
}

// TriggerDecay は減衰スコアの再計算と忘却を実行します。
func (h *AdminHandler) TriggerDecay(c *gin.Context) {
	report, err := h.maint.Decay(c.Request.Context())
	if err != nil {
		fail(c, "decay trigger failed", err)
		return
	}
	c.JSON(http.StatusOK, TriggerResponse{
		Status:  "success",
		Message: fmt.Sprintf("updated %d records, evicted %d", report.Updated, report.Evicted),
		Report:  report,
	})
}

// TriggerDedup は類似LTMの統合を実行します。
func (h *AdminHandler) TriggerDedup(c *gin.Context) {
	report, err := h.maint.Deduplicate(c.Request.Context())
	if err != nil {
		fail(c, "dedup trigger failed", err)
		return
	}
	c.JSON(http.StatusOK, TriggerResponse{
		Status:  "success",
		Message: fmt.Sprintf("merged %d of %d similar pairs", report.Merged, report.Similar),
		Report:  report,
	})
}

// TriggerSnapshot はLTMのスナップショットをアップロードします。
func (h *AdminHandler) TriggerSnapshot(c *gin.Context) {
	uri, err := h.maint.Snapshot(c.Request.Context())
	if err != nil {
		fail(c, "snapshot trigger failed", err)
		return
	}
	c.JSON(http.StatusOK, TriggerResponse{Status: "success", Message: uri})
}
