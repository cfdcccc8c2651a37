// Package entity は記憶（STM・Staging・LTM）のドメイン型を定義します。
package entity

import (
	"time"
)

// MemoryType は記録の層です。
type MemoryType string

const (
	ShortTerm MemoryType = "short_term"
	LongTerm  MemoryType = "long_term"
	Entity    MemoryType = "entity"
	Staging   MemoryType = "staging"
)

// ParseMemoryType は一覧フィルタの種別を解釈します。空文字と "all" は空の種別（全件）を返します。
func ParseMemoryType(s string) (MemoryType, bool) {
	switch MemoryType(s) {
	case "", "all":
		return "", true
	case ShortTerm, LongTerm, Entity, Staging:
		return MemoryType(s), true
	}
	return "", false
}

// Category は判定モデルが付与する意味分類です。
type Category string

const (
	CategoryFact       Category = "fact"
	CategoryPreference Category = "preference"
	CategoryGoal       Category = "goal"
	CategoryNoise      Category = "noise"
)

// メタデータのキー
const (
	MetaUserID           = "user_id"
	MetaSessionID        = "session_id"
	MetaCreatedAt        = "created_at"
	MetaTags             = "tags"
	MetaEntities         = "entities"
	MetaCategory         = "category"
	MetaLastAccessAt     = "last_access_at"
	MetaAccessCount      = "access_count"
	MetaDecayScore       = "decay_score"
	MetaSourceType       = "source_type"
	MetaConfidenceOrigin = "confidence_origin"
	MetaConfirmedBy      = "confirmed_by"
)

// Record は記憶の1単位です。
type Record struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Embedding []float32      `json:"-"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata"`
	Type      MemoryType     `json:"type"`
	Score     float64        `json:"score,omitempty"`
}

// UserID はメタデータのユーザーIDを返します。
func (r Record) UserID() string {
	s, _ := r.Metadata[MetaUserID].(string)
	return s
}

// Filter は一覧取得の条件です。
type Filter struct {
	UserID string
	Type   MemoryType
	Page   int
	Limit  int
}

// VectorFilter はベクトルストアの検索条件です。
type VectorFilter struct {
	UserID string
	Type   MemoryType
}

// SessionRef はSTMのセッションを指します。
type SessionRef struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// EndUser はAIと対話するエンドユーザーです。
type EndUser struct {
	ID             uint      `json:"id"`
	UserIdentifier string    `json:"user_identifier"`
	LastActive     time.Time `json:"last_active"`
	CreatedAt      time.Time `json:"created_at"`

	SessionCount int   `json:"session_count"`
	LTMCount     int64 `json:"ltm_count"`
}

// JudgeJob は非同期判定キューのメッセージです。
type JudgeJob struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// ComponentStatus はストアの稼働状態です。
type ComponentStatus string

const (
	StatusOnline ComponentStatus = "Online"
	StatusDown   ComponentStatus = "Down"
)

// SystemStatus は記憶ストアの稼働状態です。
type SystemStatus struct {
	ShortTermMemory ComponentStatus `json:"short_term_memory"`
	LongTermMemory  ComponentStatus `json:"long_term_memory"`
}
