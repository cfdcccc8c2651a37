package usecase

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"ai_memory/internal/feature/alerts/domain/entity"
)

const minSuccessAttempts = 10

type queueBacklogConfig struct {
	Threshold int `json:"threshold"`
}

type successRateConfig struct {
	Threshold   float64 `json:"threshold"`
	MinAttempts int64   `json:"min_attempts"`
}

type cacheAnomalyConfig struct {
	Threshold  float64 `json:"threshold"`
	MinSamples int64   `json:"min_samples"`
}

type decaySpikeConfig struct {
	Threshold int64 `json:"threshold"`
}

// checkInput は1回の評価サイクルの入力です。
type checkInput struct {
	signals        entity.Signals
	forgottenDelta int64
}

// finding はルールが検出した異常です。
type finding struct {
	level    entity.Level
	message  string
	metadata map[string]any
}

// ruleDef はルールの静的な定義です。
type ruleDef struct {
	id          string
	name        string
	description string
	cooldown    time.Duration
	// defaults は既定値を埋めた設定を返します。decode の出力先にもなります。
	defaults func() any
	check    func(cfg any, in checkInput) *finding
}

// decode は raw を既定値の上に厳密に読み込みます。未知のキーと負の閾値はエラーです。
func (d *ruleDef) decode(raw json.RawMessage) (any, error) {
	cfg := d.defaults()
	if len(bytes.TrimSpace(raw)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, d.id, err)
		}
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, d.id, err)
	}
	return cfg, nil
}

func validate(cfg any) error {
	switch c := cfg.(type) {
	case *queueBacklogConfig:
		if c.Threshold < 0 {
			return fmt.Errorf("threshold must be >= 0")
		}
	case *successRateConfig:
		if c.Threshold < 0 || c.Threshold > 100 {
			return fmt.Errorf("threshold must be within 0..100")
		}
		if c.MinAttempts < 0 {
			return fmt.Errorf("min_attempts must be >= 0")
		}
	case *cacheAnomalyConfig:
		if c.Threshold < 0 || c.Threshold > 100 {
			return fmt.Errorf("threshold must be within 0..100")
		}
		if c.MinSamples < 0 {
			return fmt.Errorf("min_samples must be >= 0")
		}
	case *decaySpikeConfig:
		if c.Threshold < 0 {
			return fmt.Errorf("threshold must be >= 0")
		}
	}
	return nil
}

func rate(n, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}

// defaultRules は既定の4ルールを評価順に返します。
func defaultRules(cfg Config) []*ruleDef {
	return []*ruleDef{
		{
			id:          entity.RuleQueueBacklog,
			name:        "Staging queue backlog",
			description: "Pending staging entries exceed the threshold",
			cooldown:    cfg.QueueBacklogCooldown,
			defaults:    func() any { return &queueBacklogConfig{Threshold: cfg.QueueBacklogThreshold} },
			check: func(c any, in checkInput) *finding {
				rc := c.(*queueBacklogConfig)
				if in.signals.QueueLength <= rc.Threshold {
					return nil
				}
				return &finding{
					level:   entity.LevelWarning,
					message: "staging queue is backing up; check the promotion job",
					metadata: map[string]any{
						"queue_length": in.signals.QueueLength,
						"threshold":    rc.Threshold,
					},
				}
			},
		},
		{
			id:          entity.RuleLowSuccessRate,
			name:        "Low promotion success rate",
			description: "Promotion success rate is below the threshold",
			cooldown:    cfg.SuccessRateCooldown,
			defaults: func() any {
				return &successRateConfig{Threshold: cfg.SuccessRateThreshold, MinAttempts: minSuccessAttempts}
			},
			check: func(c any, in checkInput) *finding {
				rc := c.(*successRateConfig)
				attempts := in.signals.Promotions + in.signals.Rejections
				if attempts < rc.MinAttempts {
					return nil
				}
				r := rate(in.signals.Promotions, attempts)
				if r >= rc.Threshold {
					return nil
				}
				return &finding{
					level:   entity.LevelError,
					message: "promotion success rate is low; judge criteria may be too strict",
					metadata: map[string]any{
						"success_rate": r,
						"threshold":    rc.Threshold,
						"attempts":     attempts,
					},
				}
			},
		},
		{
			id:          entity.RuleCacheAnomaly,
			name:        "Judge cache anomaly",
			description: "Judge cache hit rate is abnormally low",
			cooldown:    cfg.CacheHitRateCooldown,
			defaults: func() any {
				return &cacheAnomalyConfig{Threshold: cfg.CacheHitRateThreshold, MinSamples: int64(cfg.CacheMinSamples)}
			},
			check: func(c any, in checkInput) *finding {
				rc := c.(*cacheAnomalyConfig)
				lookups := in.signals.CacheHits + in.signals.CacheMisses
				if lookups < rc.MinSamples || lookups == 0 {
					return nil
				}
				r := rate(in.signals.CacheHits, lookups)
				if r >= rc.Threshold {
					return nil
				}
				return &finding{
					level:   entity.LevelWarning,
					message: "judge cache hit rate is abnormally low",
					metadata: map[string]any{
						"hit_rate":     r,
						"threshold":    rc.Threshold,
						"total_access": lookups,
					},
				}
			},
		},
		{
			id:          entity.RuleDecaySpike,
			name:        "Decay spike",
			description: "Forgotten memories since the last check exceed the threshold",
			cooldown:    cfg.DecaySpikeCooldown,
			defaults:    func() any { return &decaySpikeConfig{Threshold: int64(cfg.DecaySpikeThreshold)} },
			check: func(c any, in checkInput) *finding {
				rc := c.(*decaySpikeConfig)
				if in.forgottenDelta <= rc.Threshold {
					return nil
				}
				return &finding{
					level:   entity.LevelWarning,
					message: "many memories were forgotten since the last check",
					metadata: map[string]any{
						"forgotten": in.forgottenDelta,
						"threshold": rc.Threshold,
					},
				}
			},
		},
	}
}

// defaultConfig は定義から永続化用の既定設定を作ります。
func (d *ruleDef) defaultConfig() entity.RuleConfig {
	raw, _ := json.Marshal(d.defaults())
	return entity.RuleConfig{
		ID:          d.id,
		Name:        d.name,
		Description: d.description,
		Enabled:     true,
		Cooldown:    d.cooldown,
		Config:      raw,
	}
}
