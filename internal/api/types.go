// Package api はHTTP APIで共有されるリクエスト/レスポンス型を定義します。
package api

// ErrorResponse はエラー時の共通レスポンスボディです。
type ErrorResponse struct {
	Error string `json:"error"`
}

// MessageResponse は単純なメッセージを返すレスポンスボディです。
type MessageResponse struct {
	Message string `json:"message"`
}

// StatusResponse は操作結果を返すレスポンスボディです。
type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	ID      string `json:"id,omitempty"`
}

// LoginRequest は /api/login のリクエストボディです。
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// SignupRequest は /api/signup のリクエストボディです。
type SignupRequest struct {
	Username string `json:"username" binding:"required,min=3,max=64"`
	Password string `json:"password" binding:"required,min=8"`
}

// RefreshRequest は /api/refresh と /api/logout のリクエストボディです。
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// TokenResponse はログイン成功時に返すトークンです。
type TokenResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// AddMemoryRequest は POST /api/memories のリクエストボディです。
type AddMemoryRequest struct {
	UserID    string         `json:"user_id" binding:"required"`
	SessionID string         `json:"session_id" binding:"required"`
	Input     string         `json:"input"`
	Output    string         `json:"output"`
	Metadata  map[string]any `json:"metadata"`
}

// UpdateMemoryRequest は PUT /api/memories/:id のリクエストボディです。
type UpdateMemoryRequest struct {
	Content string `json:"content" binding:"required"`
}

// RetrieveRequest は POST /api/retrieve のリクエストボディです。
type RetrieveRequest struct {
	UserID    string `json:"user_id" binding:"required"`
	SessionID string `json:"session_id"`
	Query     string `json:"query" binding:"required"`
	Limit     int    `json:"limit"`
}

// TriggerJudgeRequest は POST /api/admin/trigger-judge のリクエストボディです。
type TriggerJudgeRequest struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// CreateAlertRequest は POST /api/alerts のリクエストボディです。
type CreateAlertRequest struct {
	Level    string         `json:"level"`
	Rule     string         `json:"rule"`
	Message  string         `json:"message" binding:"required"`
	Metadata map[string]any `json:"metadata"`
}

// ToggleRuleRequest は PUT /api/alerts/rules/:id/toggle のリクエストボディです。
type ToggleRuleRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// RuleCooldownRequest は PUT /api/alerts/rules/:id/cooldown のリクエストボディです。
type RuleCooldownRequest struct {
	CooldownMinutes *float64 `json:"cooldown_minutes" binding:"required"`
}

// RuleConfigRequest は PUT /api/alerts/rules/:id/config のリクエストボディです。
// ConfigJSON はJSON文字列で、ルールごとに受け付けるキーが決まっています。
type RuleConfigRequest struct {
	ConfigJSON string `json:"config_json" binding:"required"`
}
