// Package entity はアラートとアラートルールのドメイン型を定義します。
package entity

import (
	"strings"
	"time"
)

// Level はアラートの重要度です。
type Level string

const (
	LevelInfo    Level = "INFO"
	LevelWarning Level = "WARNING"
	LevelError   Level = "ERROR"
)

// Levels は重要度の一覧です。
var Levels = []Level{LevelError, LevelWarning, LevelInfo}

// ParseLevel は大文字小文字を区別せずに重要度を解釈します。
func ParseLevel(s string) (Level, bool) {
	switch l := Level(strings.ToUpper(strings.TrimSpace(s))); l {
	case LevelInfo, LevelWarning, LevelError:
		return l, true
	}
	return "", false
}

// Alert は発火したアラートです。
type Alert struct {
	ID        string         `json:"id"`
	Level     Level          `json:"level"`
	Rule      string         `json:"rule"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata"`
}

// Query はアラート一覧の条件です。空の項目は絞り込みません。
type Query struct {
	Level  Level
	Rule   string
	Limit  int
	Offset int
}

// Aggregated は rule+level ごとに集約したアラートです。
type Aggregated struct {
	Alert
	Count     int       `json:"count"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// Trend は時間帯ごとの重要度別件数です。各スライスは Timestamps と同じ長さです。
type Trend struct {
	Timestamps []time.Time `json:"timestamps"`
	Error      []int       `json:"error"`
	Warning    []int       `json:"warning"`
	Info       []int       `json:"info"`
}
