package entity

// JudgeReport は1セッションの判定結果の集計です。
type JudgeReport struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Pending   int    `json:"pending"`
	Triggered bool   `json:"triggered"`
	Judged    int    `json:"judged"`
	Staged    int    `json:"staged"`
	CacheHits int    `json:"cache_hits"`
	Locked    bool   `json:"locked,omitempty"`
}

// PromoteReport はStagingからLTMへの昇格処理の集計です。
type PromoteReport struct {
	Candidates     int `json:"candidates"`
	Promoted       int `json:"promoted"`
	AwaitingReview int `json:"awaiting_review"`
	Rejected       int `json:"rejected"`
	Failed         int `json:"failed"`
}

// DecayReport は忘却処理の集計です。
type DecayReport struct {
	Scanned int `json:"scanned"`
	Updated int `json:"updated"`
	Evicted int `json:"evicted"`
}

// DedupReport はLTM重複排除の集計です。
type DedupReport struct {
	Scanned int `json:"scanned"`
	Similar int `json:"similar"`
	Merged  int `json:"merged"`
	Deleted int `json:"deleted"`
}

// Inventory は各層の件数です。
type Inventory struct {
	STMSessions int   `json:"stm_sessions"`
	Staging     int   `json:"staging"`
	LTM         int64 `json:"ltm"`
}

// ResetReport はSTMとStagingの初期化結果です。
type ResetReport struct {
	STMKeys int `json:"stm_keys"`
	Staging int `json:"staging"`
}
