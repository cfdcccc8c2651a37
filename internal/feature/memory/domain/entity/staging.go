package entity

import "time"

// StagingStatus はStagingエントリの状態です。
type StagingStatus string

const (
	StagingPending   StagingStatus = "pending"
	StagingConfirmed StagingStatus = "confirmed"
	StagingRejected  StagingStatus = "rejected"
)

// 確定者
const (
	ConfirmedByAuto = "auto"
	ConfirmedByUser = "user"
)

// StagingEntry はLTM候補の記憶です。
type StagingEntry struct {
	ID                string            `json:"id"`
	Content           string            `json:"content"`
	Embedding         []float32         `json:"embedding,omitempty"`
	UserID            string            `json:"user_id"`
	FirstSeenAt       time.Time         `json:"first_seen_at"`
	LastSeenAt        time.Time         `json:"last_seen_at"`
	OccurrenceCount   int               `json:"occurrence_count"`
	ValueScore        float64           `json:"value_score"`
	ConfidenceScore   float64           `json:"confidence_score"`
	Category          Category          `json:"category"`
	ExtractedTags     []string          `json:"extracted_tags"`
	ExtractedEntities map[string]string `json:"extracted_entities"`
	Status            StagingStatus     `json:"status"`
	ConfirmedBy       string            `json:"confirmed_by"`
	SessionIDs        []string          `json:"session_ids"`
}

// Apply は最新の判定結果でスコアとタグを更新し、出現回数を1増やします。
func (e *StagingEntry) Apply(jr JudgeResult, sessionID string, now time.Time) {
	e.OccurrenceCount++
	e.LastSeenAt = now
	e.ValueScore = jr.ValueScore
	e.ConfidenceScore = jr.ConfidenceScore
	e.Category = jr.Category
	e.ExtractedTags = jr.Tags
	e.ExtractedEntities = jr.Entities
	e.AddSession(sessionID)
}

// AddSession はセッションIDを重複なく追加します。
func (e *StagingEntry) AddSession(sessionID string) {
	if sessionID == "" {
		return
	}
	for _, sid := range e.SessionIDs {
		if sid == sessionID {
			return
		}
	}
	e.SessionIDs = append(e.SessionIDs, sessionID)
}

// JudgeResult は判定モデルの出力です。
type JudgeResult struct {
	ValueScore      float64           `json:"value_score"`
	ConfidenceScore float64           `json:"confidence_score"`
	Category        Category          `json:"category"`
	Reason          string            `json:"reason"`
	Tags            []string          `json:"tags"`
	Entities        map[string]string `json:"entities"`
	ShouldStage     bool              `json:"should_stage"`
	IsCritical      bool              `json:"is_critical"`
}

// MergeStrategy は類似記憶の統合方法です。
type MergeStrategy string

const (
	MergeUpdateExisting   MergeStrategy = "update_existing"
	MergeMerge            MergeStrategy = "merge"
	MergeKeepNewer        MergeStrategy = "keep_newer"
	MergeKeepBoth         MergeStrategy = "keep_both"
	MergeKeepHigherAccess MergeStrategy = "keep_higher_access"
)

// ParseMergeStrategy は未知の値を keep_both として扱います。
func ParseMergeStrategy(s string) MergeStrategy {
	switch st := MergeStrategy(s); st {
	case MergeUpdateExisting, MergeMerge, MergeKeepNewer, MergeKeepBoth, MergeKeepHigherAccess:
		return st
	}
	return MergeKeepBoth
}

// StagingStats はStagingの集計です。
type StagingStats struct {
	TotalPending      int `json:"total_pending"`
	HighConfidence    int `json:"high_confidence"`
	MediumConfidence  int `json:"medium_confidence"`
	LowConfidence     int `json:"low_confidence"`
	AwaitingPromotion int `json:"awaiting_promotion"`
}
