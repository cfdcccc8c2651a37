package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"ai_memory/internal/api"
	"ai_memory/internal/feature/memory/domain/entity"
)

// StagingUsecase はStagingの参照とユーザー確定を提供します。
type StagingUsecase interface {
	StagingEntries(ctx context.Context, userID string) ([]*entity.StagingEntry, error)
	StagingStats(ctx context.Context) (*entity.StagingStats, error)
	ConfirmStaging(ctx context.Context, id string) error
	RejectStaging(ctx context.Context, id string) error
}

// StagingHandler はStaging APIのHTTPリクエストを処理します。
type StagingHandler struct {
	uc StagingUsecase
}

// NewStagingHandler はStagingHandlerの新しいインスタンスを生成します。
func NewStagingHandler(uc StagingUsecase) *StagingHandler {
	return &StagingHandler{uc: uc}
}

// List は保留中のStagingエントリを返します。user_id で絞り込めます。
func (h *StagingHandler) List(c *gin.Context) {
	userID, err := api.QueryString(c.Request.URL.Query(), "user_id")
	if err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: err.Error()})
		return
	}
	entries, err := h.uc.StagingEntries(c.Request.Context(), userID)
	if err != nil {
		fail(c, "staging list failed", err, "user_id", userID)
		return
	}
	if entries == nil {
		entries = []*entity.StagingEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "total": len(entries)})
}

// Stats は信頼度帯ごとの件数を返します。
func (h *StagingHandler) Stats(c *gin.Context) {
	stats, err := h.uc.StagingStats(c.Request.Context())
	if err != nil {
		fail(c, "staging stats failed", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Confirm はエントリをLTMへ昇格させます。
func (h *StagingHandler) Confirm(c *gin.Context) {
	id := c.Param("id")
	if err := h.uc.ConfirmStaging(c.Request.Context(), id); err != nil {
		fail(c, "staging confirm failed", err, "id", id)
		return
	}
	c.JSON(http.StatusOK, api.StatusResponse{Status: "confirmed", Message: "memory promoted to long-term storage", ID: id})
}

// Reject はエントリを破棄します。
func (h *StagingHandler) Reject(c *gin.Context) {
	id := c.Param("id")
	if err := h.uc.RejectStaging(c.Request.Context(), id); err != nil {
		fail(c, "staging reject failed", err, "id", id)
		return
	}
	c.JSON(http.StatusOK, api.StatusResponse{Status: "rejected", Message: "memory rejected", ID: id})
}
