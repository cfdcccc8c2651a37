// Package queue は非同期判定ジョブのコンシューマーハンドラーを提供します。
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"ai_memory/internal/feature/memory/domain/entity"
	"ai_memory/internal/platform/mq"
)

// Judger はセッションの判定と蓄積を行います。
type Judger interface {
	JudgeAndStage(ctx context.Context, userID, sessionID string) (*entity.JudgeReport, error)
}

// JudgeJobHandler は JudgeJob メッセージを判定処理に渡します。
type JudgeJobHandler struct {
	judger Judger
}

// NewJudgeJobHandler はJudgeJobHandlerの新しいインスタンスを生成します。
func NewJudgeJobHandler(judger Judger) *JudgeJobHandler {
	return &JudgeJobHandler{judger: judger}
}

// Handle は mq.HandlerFunc として1メッセージを処理します。
// 解釈できないメッセージは mq.ErrMalformed を返し、再投入されません。
func (h *JudgeJobHandler) Handle(ctx context.Context, body []byte) error {
	var job entity.JudgeJob
	if err := json.Unmarshal(body, &job); err != nil {
		return fmt.Errorf("%w: %v", mq.ErrMalformed, err)
	}
	if job.UserID == "" || job.SessionID == "" {
		return fmt.Errorf("%w: user_id and session_id are required", mq.ErrMalformed)
	}

	report, err := h.judger.JudgeAndStage(ctx, job.UserID, job.SessionID)
	if err != nil {
		return fmt.Errorf("judge job %s/%s: %w", job.UserID, job.SessionID, err)
	}
	slog.Info("judge job done",
		"user_id", job.UserID,
		"session_id", job.SessionID,
		"judged", report.Judged,
		"staged", report.Staged,
		"cache_hits", report.CacheHits,
		"locked", report.Locked,
	)
	return nil
}

var _ mq.HandlerFunc = (*JudgeJobHandler)(nil).Handle
