// Package handler は記憶API（STM/LTM・Staging・手動トリガー）のHTTPハンドラーを提供します。
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"ai_memory/internal/api"
	"ai_memory/internal/feature/memory/domain/entity"
	"ai_memory/internal/feature/memory/usecase"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 200
)

// MemoryUsecase は記憶の登録・想起・管理を提供します。
type MemoryUsecase interface {
	Add(ctx context.Context, userID, sessionID, input, output string, metadata map[string]any) (*entity.Record, error)
	Retrieve(ctx context.Context, userID, sessionID, query string, limit int) ([]entity.Record, error)
	List(ctx context.Context, f entity.Filter) ([]entity.Record, error)
	Update(ctx context.Context, id, content string) error
	Delete(ctx context.Context, id string) error
	Clear(ctx context.Context, userID, sessionID string) error
	Users(ctx context.Context) ([]entity.EndUser, error)
	Status(ctx context.Context) entity.SystemStatus
}

// MemoryHandler は記憶APIのHTTPリクエストを処理します。
type MemoryHandler struct {
	uc MemoryUsecase
}

// NewMemoryHandler はMemoryHandlerの新しいインスタンスを生成します。
func NewMemoryHandler(uc MemoryUsecase) *MemoryHandler {
	return &MemoryHandler{uc: uc}
}

// ListResponse は GET /api/memories のレスポンスです。
type ListResponse struct {
	Memories []entity.Record `json:"memories"`
	Page     int             `json:"page"`
	Limit    int             `json:"limit"`
}

// statusFor はユースケースのエラーをHTTPステータスに対応付けます。
func statusFor(err error) int {
	switch {
	case errors.Is(err, usecase.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, usecase.ErrRecordNotFound), errors.Is(err, usecase.ErrStagingNotFound):
		return http.StatusNotFound
	case errors.Is(err, usecase.ErrSnapshotDisabled):
		return http.StatusServiceUnavailable
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

// List は記憶を新しい順に返します。
// クエリ: user_id, type (short_term|long_term|entity|all), page, limit
func (h *MemoryHandler) List(c *gin.Context) {
	q := c.Request.URL.Query()
	userID, err := api.QueryString(q, "user_id")
	if err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: err.Error()})
		return
	}
	rawType, err := api.QueryString(q, "type")
	if err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: err.Error()})
		return
	}
	memType, ok := entity.ParseMemoryType(rawType)
	if !ok {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "invalid type"})
		return
	}
	page, limit, _, err := api.Page(q, defaultPageLimit, maxPageLimit)
	if err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: err.Error()})
		return
	}

	records, err := h.uc.List(c.Request.Context(), entity.Filter{UserID: userID, Type: memType, Page: page, Limit: limit})
	if err != nil {
		fail(c, "memory list failed", err, "user_id", userID)
		return
	}
	if records == nil {
		records = []entity.Record{}
	}
	c.JSON(http.StatusOK, ListResponse{Memories: records, Page: page, Limit: limit})
}

// Add は1往復の対話をSTMに記録します。
func (h *MemoryHandler) Add(c *gin.Context) {
	var req api.AddMemoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "invalid request"})
		return
	}
	rec, err := h.uc.Add(c.Request.Context(), req.UserID, req.SessionID, req.Input, req.Output, req.Metadata)
	if err != nil {
		fail(c, "memory add failed", err, "user_id", req.UserID, "session_id", req.SessionID)
		return
	}
	c.JSON(http.StatusCreated, api.StatusResponse{Status: "success", Message: "memory added", ID: rec.ID})
}

// Update は記憶の本文を差し替えます。
func (h *MemoryHandler) Update(c *gin.Context) {
	var req api.UpdateMemoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "invalid request"})
		return
	}
	id := c.Param("id")
	if err := h.uc.Update(c.Request.Context(), id, req.Content); err != nil {
		fail(c, "memory update failed", err, "id", id)
		return
	}
	c.JSON(http.StatusOK, api.StatusResponse{Status: "updated", ID: id})
}

// Delete はLTMから記憶を削除します。
func (h *MemoryHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.uc.Delete(c.Request.Context(), id); err != nil {
		fail(c, "memory delete failed", err, "id", id)
		return
	}
	c.JSON(http.StatusOK, api.StatusResponse{Status: "deleted", ID: id})
}

// Retrieve はクエリに関連する記憶を返します。
func (h *MemoryHandler) Retrieve(c *gin.Context) {
	var req api.RetrieveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "invalid request"})
		return
	}
	results, err := h.uc.Retrieve(c.Request.Context(), req.UserID, req.SessionID, req.Query, req.Limit)
	if err != nil {
		fail(c, "memory retrieve failed", err, "user_id", req.UserID)
		return
	}
	if results == nil {
		results = []entity.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// ClearSession はセッションのSTMを削除します。
func (h *MemoryHandler) ClearSession(c *gin.Context) {
	userID, sessionID := c.Param("user_id"), c.Param("session_id")
	if err := h.uc.Clear(c.Request.Context(), userID, sessionID); err != nil {
		fail(c, "session clear failed", err, "user_id", userID, "session_id", sessionID)
		return
	}
	c.JSON(http.StatusOK, api.StatusResponse{Status: "cleared", Message: "session memory cleared"})
}

// Users はエンドユーザー一覧を返します。
func (h *MemoryHandler) Users(c *gin.Context) {
	users, err := h.uc.Users(c.Request.Context())
	if err != nil {
		fail(c, "user list failed", err)
		return
	}
	if users == nil {
		users = []entity.EndUser{}
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

// Status は記憶ストアの稼働状態を返します。
func (h *MemoryHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.uc.Status(c.Request.Context()))
}
