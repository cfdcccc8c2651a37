package entity

import (
	"encoding/json"
	"time"
)

// ルールID
const (
	RuleQueueBacklog   = "queue_backlog"
	RuleLowSuccessRate = "low_success_rate"
	RuleCacheAnomaly   = "cache_anomaly"
	RuleDecaySpike     = "decay_spike"
)

// RuleConfig は永続化されるルール設定です。Config はルール固有のJSONです。
type RuleConfig struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Enabled     bool            `json:"enabled"`
	Cooldown    time.Duration   `json:"-"`
	Config      json.RawMessage `json:"config"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// RuleStats はルールごとの評価回数と発火回数です。
type RuleStats struct {
	TotalChecks int64     `json:"total_checks"`
	TotalFired  int64     `json:"total_fired"`
	LastFiredAt time.Time `json:"last_fired_at,omitzero"`
}

// RuleInfo はAPIで返すルールの状態です。
type RuleInfo struct {
	RuleConfig
	CooldownSeconds int64     `json:"cooldown_seconds"`
	Stats           RuleStats `json:"stats"`
}

// Stats はエンジン全体の統計です。
type Stats struct {
	TotalChecks       int64                `json:"total_checks"`
	TotalFired        int64                `json:"total_fired"`
	NotifySuccess     int64                `json:"notify_success"`
	NotifyFailed      int64                `json:"notify_failed"`
	NotifySuccessRate float64              `json:"notify_success_rate"`
	ByLevel           map[Level]int64      `json:"by_level"`
	Rules             map[string]RuleStats `json:"rule_stats"`
}

// Signals はルール評価に使う指標の現在値です。
type Signals struct {
	QueueLength int
	Promotions  int64
	Rejections  int64
	Forgotten   int64
	CacheHits   int64
	CacheMisses int64
}
