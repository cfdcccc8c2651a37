// Package usecase はアラートルールの評価エンジンとアラート管理を提供します。
package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ai_memory/internal/feature/alerts/domain/entity"
)

const (
	defaultQueryLimit = 20
	maxQueryLimit     = 200
	defaultTrendHours = 24
	maxTrendHours     = 24 * 30
	aggregateWindow   = time.Hour
	manualRule        = "manual"
)

// AlertUsecase はルールの評価・発火・通知と、アラートの参照操作を担います。
type AlertUsecase struct {
	alerts    AlertRepository
	rules     RuleConfigRepository
	signals   SignalSource
	notifiers []Notifier
	metrics   AlertMetrics
	cfg       Config
	defs      []*ruleDef
	now       func() time.Time

	mu            sync.Mutex
	configs       map[string]entity.RuleConfig
	stats         map[string]*entity.RuleStats
	lastFired     map[string]time.Time
	totalChecks   int64
	totalFired    int64
	notifyOK      int64
	notifyFailed  int64
	recent        []entity.Alert
	aggregated    map[string]*entity.Aggregated
	lastForgotten int64
	hasBaseline   bool
}

// NewAlertUsecase はAlertUsecaseを生成します。metrics が nil の場合は記録しません。
// 設定はLoadを呼ぶまで既定値が使われます。
func NewAlertUsecase(alerts AlertRepository, rules RuleConfigRepository, signals SignalSource,
	notifiers []Notifier, metrics AlertMetrics, cfg Config) *AlertUsecase {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if cfg.HistoryMaxSize <= 0 {
		cfg.HistoryMaxSize = 1000
	}
	u := &AlertUsecase{
		alerts:     alerts,
		rules:      rules,
		signals:    signals,
		notifiers:  notifiers,
		metrics:    metrics,
		cfg:        cfg,
		defs:       defaultRules(cfg),
		now:        time.Now,
		configs:    map[string]entity.RuleConfig{},
		stats:      map[string]*entity.RuleStats{},
		lastFired:  map[string]time.Time{},
		aggregated: map[string]*entity.Aggregated{},
	}
	for _, d := range u.defs {
		u.configs[d.id] = d.defaultConfig()
		u.stats[d.id] = &entity.RuleStats{}
	}
	return u
}

func (u *AlertUsecase) def(id string) *ruleDef {
	for _, d := range u.defs {
		if d.id == id {
			return d
		}
	}
	return nil
}

// Load は既定ルールを登録し、永続化された設定を読み込みます。
// 不正な設定JSONは既定値で置き換えず、評価時にスキップされます。
func (u *AlertUsecase) Load(ctx context.Context) error {
	defaults := make([]entity.RuleConfig, 0, len(u.defs))
	for _, d := range u.defs {
		defaults = append(defaults, d.defaultConfig())
	}
	if err := u.rules.Seed(ctx, defaults); err != nil {
		return fmt.Errorf("seed alert rules: %w", err)
	}
	stored, err := u.rules.List(ctx)
	if err != nil {
		return fmt.Errorf("list alert rules: %w", err)
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	for _, c := range stored {
		if u.def(c.ID) == nil {
			slog.Warn("unknown alert rule in storage", "rule", c.ID)
			continue
		}
		u.configs[c.ID] = c
	}
	return nil
}

// Check は有効な全ルールを評価し、発火したアラートを返します。
// クールダウン中のルールは評価しません。
func (u *AlertUsecase) Check(ctx context.Context) ([]entity.Alert, error) {
	sig, err := u.signals.Signals(ctx)
	if err != nil {
		return nil, fmt.Errorf("collect signals: %w", err)
	}
	now := u.now()

	u.mu.Lock()
	in := checkInput{signals: sig}
	if u.hasBaseline && sig.Forgotten >= u.lastForgotten {
		in.forgottenDelta = sig.Forgotten - u.lastForgotten
	}
	u.lastForgotten = sig.Forgotten
	u.hasBaseline = true

	var fired []entity.Alert
	for _, d := range u.defs {
		rc := u.configs[d.id]
		if !rc.Enabled {
			continue
		}
		if last, ok := u.lastFired[d.id]; ok && now.Sub(last) < rc.Cooldown {
			continue
		}
		cfg, err := d.decode(rc.Config)
		if err != nil {
			slog.Warn("skip alert rule with invalid config", "rule", d.id, "error", err)
			continue
		}
		st := u.stats[d.id]
		st.TotalChecks++
		u.totalChecks++

		f := d.check(cfg, in)
		if f == nil {
			continue
		}
		st.TotalFired++
		st.LastFiredAt = now
		u.totalFired++
		u.lastFired[d.id] = now
		fired = append(fired, entity.Alert{
			ID:        d.id + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
			Level:     f.level,
			Rule:      d.id,
			Message:   f.message,
			Timestamp: now,
			Metadata:  f.metadata,
		})
	}
	u.mu.Unlock()

	for _, a := range fired {
		u.fire(ctx, a)
	}
	return fired, nil
}

// fire はアラートを保存・集約し、通知対象の重要度なら通知します。
// 保存や通知の失敗はログに残し、他の処理は続けます。
func (u *AlertUsecase) fire(ctx context.Context, a entity.Alert) {
	slog.Warn("alert fired", "rule", a.Rule, "level", a.Level, "message", a.Message)
	if err := u.alerts.Save(ctx, a); err != nil {
		slog.Error("failed to save alert", "error", err, "id", a.ID)
	}
	u.metrics.AlertFired(a.Rule, a.Level)

	u.mu.Lock()
	u.recent = append(u.recent, a)
	if over := len(u.recent) - u.cfg.HistoryMaxSize; over > 0 {
		u.recent = slices.Delete(u.recent, 0, over)
	}
	u.aggregate(a)
	u.mu.Unlock()

	if !slices.Contains(u.cfg.NotifyLevels, a.Level) {
		return
	}
	for _, n := range u.notifiers {
		err := n.Notify(ctx, a)
		ok := err == nil
		if !ok {
			slog.Error("alert notification failed", "channel", n.Name(), "error", err, "id", a.ID)
		}
		u.metrics.Notified(n.Name(), ok)
		u.mu.Lock()
		if ok {
			u.notifyOK++
		} else {
			u.notifyFailed++
		}
		u.mu.Unlock()
	}
}

// aggregate は rule+level 単位で件数をまとめます。呼び出し側でロックを保持します。
func (u *AlertUsecase) aggregate(a entity.Alert) {
	for k, g := range u.aggregated {
		if a.Timestamp.Sub(g.LastSeen) > aggregateWindow {
			delete(u.aggregated, k)
		}
	}
	key := a.Rule + ":" + string(a.Level)
	if g, ok := u.aggregated[key]; ok {
		g.Count++
		g.LastSeen = a.Timestamp
		g.Alert = a
		return
	}
	u.aggregated[key] = &entity.Aggregated{Alert: a, Count: 1, FirstSeen: a.Timestamp, LastSeen: a.Timestamp}
}

// Aggregated は直近1時間の集約アラートを最終発生の新しい順に返します。
func (u *AlertUsecase) Aggregated() []entity.Aggregated {
	u.mu.Lock()
	defer u.mu.Unlock()
	now := u.now()
	out := make([]entity.Aggregated, 0, len(u.aggregated))
	for _, g := range u.aggregated {
		if now.Sub(g.LastSeen) > aggregateWindow {
			continue
		}
		out = append(out, *g)
	}
	slices.SortFunc(out, func(a, b entity.Aggregated) int { return b.LastSeen.Compare(a.LastSeen) })
	return out
}

// Recent はメモリ上の直近のアラートを新しい順に最大 limit 件返します。
func (u *AlertUsecase) Recent(limit int) []entity.Alert {
	u.mu.Lock()
	defer u.mu.Unlock()
	n := len(u.recent)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]entity.Alert, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, u.recent[i])
	}
	return out
}

// Create は手動アラートを発火させます。level が空の場合は INFO です。
func (u *AlertUsecase) Create(ctx context.Context, level, rule, message string, metadata map[string]any) (*entity.Alert, error) {
	if strings.TrimSpace(message) == "" {
		return nil, fmt.Errorf("%w: message is required", ErrInvalidInput)
	}
	lv := entity.LevelInfo
	if level != "" {
		var ok bool
		if lv, ok = entity.ParseLevel(level); !ok {
			return nil, fmt.Errorf("%w: unknown level %q", ErrInvalidInput, level)
		}
	}
	if rule == "" {
		rule = manualRule
	}
	now := u.now()
	a := entity.Alert{
		ID:        fmt.Sprintf("manual_%d", now.UnixNano()),
		Level:     lv,
		Rule:      rule,
		Message:   message,
		Timestamp: now,
		Metadata:  metadata,
	}
	u.fire(ctx, a)
	return &a, nil
}

// Query は条件に一致するアラートと総件数を返します。
func (u *AlertUsecase) Query(ctx context.Context, q entity.Query) ([]entity.Alert, int64, error) {
	if q.Limit <= 0 {
		q.Limit = defaultQueryLimit
	}
	if q.Limit > maxQueryLimit {
		q.Limit = maxQueryLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return u.alerts.Query(ctx, q)
}

// Delete はアラートを削除します。
func (u *AlertUsecase) Delete(ctx context.Context, id string) error {
	if err := u.alerts.Delete(ctx, id); err != nil {
		return err
	}
	u.mu.Lock()
	u.recent = slices.DeleteFunc(u.recent, func(a entity.Alert) bool { return a.ID == id })
	u.mu.Unlock()
	return nil
}

// Rules は評価順にルールの設定と統計を返します。
func (u *AlertUsecase) Rules() []entity.RuleInfo {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]entity.RuleInfo, 0, len(u.defs))
	for _, d := range u.defs {
		rc := u.configs[d.id]
		out = append(out, entity.RuleInfo{
			RuleConfig:      rc,
			CooldownSeconds: int64(rc.Cooldown / time.Second),
			Stats:           *u.stats[d.id],
		})
	}
	return out
}

// update は id のルール設定に mutate を適用して保存します。
func (u *AlertUsecase) update(ctx context.Context, id string, mutate func(*entity.RuleConfig) error) error {
	if u.def(id) == nil {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	u.mu.Lock()
	rc := u.configs[id]
	u.mu.Unlock()

	if err := mutate(&rc); err != nil {
		return err
	}
	rc.UpdatedAt = u.now()
	if err := u.rules.Save(ctx, rc); err != nil {
		return fmt.Errorf("save alert rule %s: %w", id, err)
	}

	u.mu.Lock()
	u.configs[id] = rc
	u.mu.Unlock()
	return nil
}

// ToggleRule はルールの有効・無効を切り替えます。
func (u *AlertUsecase) ToggleRule(ctx context.Context, id string, enabled bool) error {
	return u.update(ctx, id, func(rc *entity.RuleConfig) error {
		rc.Enabled = enabled
		return nil
	})
}

// UpdateRuleCooldown はクールダウンを変更します。
func (u *AlertUsecase) UpdateRuleCooldown(ctx context.Context, id string, cooldown time.Duration) error {
	if cooldown < 0 {
		return fmt.Errorf("%w: cooldown must be >= 0", ErrInvalidInput)
	}
	return u.update(ctx, id, func(rc *entity.RuleConfig) error {
		rc.Cooldown = cooldown
		return nil
	})
}

// UpdateRuleConfig はルール固有の設定JSONを検証して置き換えます。
// 保存されるのは既定値で補完した正規化済みのJSONです。
func (u *AlertUsecase) UpdateRuleConfig(ctx context.Context, id string, raw json.RawMessage) error {
	d := u.def(id)
	if d == nil {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	cfg, err := d.decode(raw)
	if err != nil {
		return err
	}
	normalized, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal rule config: %w", err)
	}
	return u.update(ctx, id, func(rc *entity.RuleConfig) error {
		rc.Config = normalized
		return nil
	})
}

// Stats はエンジン全体の統計を返します。重要度別件数は永続化されたアラートから数えます。
func (u *AlertUsecase) Stats(ctx context.Context) (*entity.Stats, error) {
	byLevel, err := u.alerts.CountByLevel(ctx)
	if err != nil {
		return nil, fmt.Errorf("count alerts by level: %w", err)
	}
	for _, l := range entity.Levels {
		if _, ok := byLevel[l]; !ok {
			byLevel[l] = 0
		}
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	s := &entity.Stats{
		TotalChecks:   u.totalChecks,
		TotalFired:    u.totalFired,
		NotifySuccess: u.notifyOK,
		NotifyFailed:  u.notifyFailed,
		ByLevel:       byLevel,
		Rules:         make(map[string]entity.RuleStats, len(u.stats)),
	}
	if total := u.notifyOK + u.notifyFailed; total > 0 {
		s.NotifySuccessRate = float64(u.notifyOK) / float64(total) * 100
	}
	for id, st := range u.stats {
		s.Rules[id] = *st
	}
	return s, nil
}

// Trend は直近 hours 時間の重要度別件数を1時間単位で返します。
// 先頭のバケットは now-hours を時単位で切り捨てた時刻で、末尾は now を含みます。
func (u *AlertUsecase) Trend(ctx context.Context, hours int) (*entity.Trend, error) {
	if hours <= 0 {
		hours = defaultTrendHours
	}
	if hours > maxTrendHours {
		hours = maxTrendHours
	}
	now := u.now().UTC()
	start := now.Add(-time.Duration(hours) * time.Hour).Truncate(time.Hour)
	slots := hours + 1

	alerts, err := u.alerts.Since(ctx, start)
	if err != nil {
		return nil, fmt.Errorf("load alerts for trend: %w", err)
	}

	t := &entity.Trend{
		Timestamps: make([]time.Time, slots),
		Error:      make([]int, slots),
		Warning:    make([]int, slots),
		Info:       make([]int, slots),
	}
	for i := range slots {
		t.Timestamps[i] = start.Add(time.Duration(i) * time.Hour)
	}
	for _, a := range alerts {
		i := int(a.Timestamp.UTC().Sub(start) / time.Hour)
		if i < 0 || i >= slots {
			continue
		}
		switch a.Level {
		case entity.LevelError:
			t.Error[i]++
		case entity.LevelWarning:
			t.Warning[i]++
		case entity.LevelInfo:
			t.Info[i]++
		}
	}
	return t, nil
}
