package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"ai_memory/internal/feature/memory/domain/entity"
)

const (
	// similarityThreshold を超える類似度の記憶は同一視します。
	similarityThreshold = 0.95
	sourceTypeStaging   = "staging"
	// judgeLockTTL はLLM呼び出しを含む1セッション分の判定時間の上限です。
	judgeLockTTL = 5 * time.Minute
)

// FunnelUsecase はSTMの判定、Stagingへの蓄積、LTMへの昇格を実装します。
type FunnelUsecase struct {
	stm       STMStore
	staging   StagingStore
	vectors   VectorStore
	judge     Judge
	embedder  Embedder
	cache     JudgeCache
	metrics   MetricsRecorder
	publisher JobPublisher
	locker    SessionLocker
	cfg       Config
	now       func() time.Time
}

// NewFunnelUsecase はFunnelUsecaseの新しいインスタンスを生成します。
// cache と metrics は nil でも構いません。
func NewFunnelUsecase(stores Stores, judge Judge, embedder Embedder, cache JudgeCache, metrics MetricsRecorder, cfg Config) *FunnelUsecase {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if cfg.JudgeBatchSize <= 0 {
		cfg.JudgeBatchSize = 10
	}
	return &FunnelUsecase{
		stm:      stores.STM,
		staging:  stores.Staging,
		vectors:  stores.Vectors,
		judge:    judge,
		embedder: embedder,
		cache:    cache,
		metrics:  metrics,
		cfg:      cfg,
		now:      time.Now,
	}
}

// SetPublisher は判定ジョブの送信先を設定します。設定するとTriggerJudgeは非同期になります。
func (u *FunnelUsecase) SetPublisher(p JobPublisher) {
	u.publisher = p
}

// SetLocker はセッション単位の判定ロックを設定します。
// ワーカー、cronのSweep、インラインのTriggerJudgeが同じ記録を二重に数えないようにします。
func (u *FunnelUsecase) SetLocker(l SessionLocker) {
	u.locker = l
}

// TriggerJudge はセッションの判定を要求します。
// 送信先が設定されていればジョブを送信して queued=true を返し、なければその場で判定します。
func (u *FunnelUsecase) TriggerJudge(ctx context.Context, userID, sessionID string) (report *entity.JudgeReport, queued bool, err error) {
	if userID == "" || sessionID == "" {
		return nil, false, fmt.Errorf("%w: user_id and session_id are required", ErrInvalidInput)
	}
	if u.publisher != nil {
		if err := u.publisher.PublishJSON(ctx, entity.JudgeJob{UserID: userID, SessionID: sessionID}); err != nil {
			return nil, false, fmt.Errorf("failed to enqueue judge job: %w", err)
		}
		return nil, true, nil
	}
	report, err = u.JudgeAndStage(ctx, userID, sessionID)
	return report, false, err
}

// JudgeAndStage はセッションの未判定STMを判定し、価値のある記録をStagingに蓄積します。
// 未判定件数が最小件数に満たず、最古の未判定記録も待機上限に達していない場合は何もしません。
// 判定した記録は判定済みセットに追加され、STMから削除されます。
// 同じセッションを他が判定中の場合は Locked=true の空のレポートを返します。
func (u *FunnelUsecase) JudgeAndStage(ctx context.Context, userID, sessionID string) (*entity.JudgeReport, error) {
	report := &entity.JudgeReport{UserID: userID, SessionID: sessionID}

	if u.locker != nil {
		unlock, ok, err := u.locker.TryLock(ctx, userID, sessionID, judgeLockTTL)
		if err != nil {
			return nil, err
		}
		if !ok {
			slog.Info("STM judge already running", "user_id", userID, "session_id", sessionID)
			report.Locked = true
			return report, nil
		}
		defer unlock()
	}

	recs, err := u.stm.Range(ctx, userID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to read STM: %w", err)
	}
	if len(recs) == 0 {
		return report, nil
	}
	judged, err := u.stm.Judged(ctx, userID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to read judged set: %w", err)
	}

	toJudge := make([]entity.Record, 0, len(recs))
	for _, r := range recs {
		if !judged[r.ID] {
			toJudge = append(toJudge, r)
		}
	}
	report.Pending = len(toJudge)
	if len(toJudge) == 0 || !u.shouldJudge(toJudge) {
		return report, nil
	}
	report.Triggered = true
	slog.Info("STM judge started", "total", len(recs), "new", len(toJudge), "user_id", userID, "session_id", sessionID)

	for i := 0; i < len(toJudge); i += u.cfg.JudgeBatchSize {
		end := min(i+u.cfg.JudgeBatchSize, len(toJudge))
		batch := toJudge[i:end]

		results, hits, err := u.judgeBatch(ctx, batch)
		if err != nil {
			// 失敗したバッチは未判定のまま次回に回す
			slog.Error("batch judge failed", "error", err, "user_id", userID, "session_id", sessionID, "size", len(batch))
			continue
		}
		report.CacheHits += hits

		ids := make([]string, 0, len(batch))
		for j, res := range results {
			if res == nil {
				continue
			}
			ids = append(ids, batch[j].ID)
			if res.ShouldStage && res.ValueScore >= u.cfg.StagingValueThreshold {
				if u.stage(ctx, userID, sessionID, batch[j].Content, *res) {
					report.Staged++
				}
			}
		}
		if len(ids) == 0 {
			continue
		}
		if err := u.stm.MarkJudged(ctx, userID, sessionID, u.cfg.STMExpiration, ids...); err != nil {
			slog.Error("failed to mark judged", "error", err, "user_id", userID, "session_id", sessionID)
		}
		if err := u.stm.Remove(ctx, userID, sessionID, ids...); err != nil {
			slog.Error("failed to remove judged records from STM", "error", err, "user_id", userID, "session_id", sessionID)
		}
		report.Judged += len(ids)
	}
	return report, nil
}

func (u *FunnelUsecase) shouldJudge(pending []entity.Record) bool {
	if len(pending) >= u.cfg.JudgeMinMessages {
		return true
	}
	return u.now().Sub(pending[0].Timestamp) >= u.cfg.JudgeMaxWait
}

// judgeBatch はキャッシュに無い内容だけを判定モデルに送ります。
func (u *FunnelUsecase) judgeBatch(ctx context.Context, batch []entity.Record) ([]*entity.JudgeResult, int, error) {
	results := make([]*entity.JudgeResult, len(batch))
	var contents []string
	var missIdx []int
	hits := 0

	for j, r := range batch {
		if u.cache != nil {
			if cached, ok := u.cache.Get(ctx, r.Content); ok {
				results[j] = cached
				hits++
				u.metrics.RecordCacheLookup(true)
				continue
			}
			u.metrics.RecordCacheLookup(false)
		}
		contents = append(contents, r.Content)
		missIdx = append(missIdx, j)
	}
	if len(contents) == 0 {
		return results, hits, nil
	}

	judged, err := u.judge.JudgeBatch(ctx, contents)
	if err != nil {
		return nil, hits, err
	}
	if len(judged) != len(contents) {
		return nil, hits, fmt.Errorf("judge result count mismatch: want %d, got %d", len(contents), len(judged))
	}
	for k := range judged {
		res := judged[k]
		idx := missIdx[k]
		results[idx] = &res
		if u.cache != nil {
			u.cache.Set(ctx, batch[idx].Content, res)
		}
	}
	return results, hits, nil
}

// stage は内容を要約してStagingに追加します。要約に失敗した場合は原文を使います。
func (u *FunnelUsecase) stage(ctx context.Context, userID, sessionID, content string, res entity.JudgeResult) bool {
	summary, err := u.judge.Summarize(ctx, content, res.Category)
	if err != nil || summary == "" {
		slog.Warn("summarize failed; staging original content", "error", err)
		summary = content
	}
	embedding, err := u.embedder.Embed(ctx, summary)
	if err != nil {
		// 埋め込みが無くても内容ハッシュで重複排除される
		slog.Warn("embedding for staging failed", "error", err)
		embedding = nil
	}
	if _, err := u.staging.AddOrIncrement(ctx, userID, sessionID, summary, embedding, res); err != nil {
		slog.Error("failed to add to staging", "error", err, "user_id", userID)
		return false
	}
	return true
}

// Sweep はSTMを持つ全セッションに対して JudgeAndStage を実行します。
func (u *FunnelUsecase) Sweep(ctx context.Context) (int, error) {
	sessions, err := u.stm.Sessions(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("failed to scan STM sessions: %w", err)
	}
	judged := 0
	for _, s := range sessions {
		if ctx.Err() != nil {
			return judged, ctx.Err()
		}
		rep, err := u.JudgeAndStage(ctx, s.UserID, s.SessionID)
		if err != nil {
			slog.Error("judge sweep failed for session", "error", err, "user_id", s.UserID, "session_id", s.SessionID)
			continue
		}
		judged += rep.Judged
	}
	return judged, nil
}

// Promote は昇格条件を満たすStagingエントリを信頼度に応じて処理します。
//   - 信頼度 >= high: 自動昇格
//   - 信頼度 >= low: 人手の確認待ち
//   - それ未満: 削除（却下として記録）
func (u *FunnelUsecase) Promote(ctx context.Context) (*entity.PromoteReport, error) {
	entries, err := u.staging.Pending(ctx, u.cfg.StagingMinOccurrences, u.cfg.StagingMinWait)
	if err != nil {
		return nil, fmt.Errorf("failed to list staging: %w", err)
	}
	report := &entity.PromoteReport{Candidates: len(entries)}

	for _, e := range entries {
		switch {
		case e.ConfidenceScore >= u.cfg.ConfidenceHigh:
			if err := u.promote(ctx, e, entity.ConfirmedByAuto); err != nil {
				slog.Error("auto promotion failed", "error", err, "id", e.ID)
				report.Failed++
				continue
			}
			report.Promoted++
		case e.ConfidenceScore >= u.cfg.ConfidenceLow:
			report.AwaitingReview++
		default:
			if err := u.staging.Delete(ctx, e.ID); err != nil {
				slog.Error("failed to delete low confidence staging entry", "error", err, "id", e.ID)
			}
			u.metrics.RecordPromotion(string(e.Category), false)
			report.Rejected++
		}
	}
	u.recordQueueLength(ctx)
	slog.Info("staging promotion finished",
		"candidates", report.Candidates, "promoted", report.Promoted,
		"awaiting_review", report.AwaitingReview, "rejected", report.Rejected)
	return report, nil
}

// promote はエントリをLTMに書き込みます。ユーザーのLTMに類似記憶がある場合は判定モデルが統合方針を決めます。
func (u *FunnelUsecase) promote(ctx context.Context, e *entity.StagingEntry, confirmedBy string) error {
	vector := e.Embedding
	if len(vector) == 0 {
		v, err := u.embedder.Embed(ctx, e.Content)
		if err != nil {
			return fmt.Errorf("failed to embed staging entry: %w", err)
		}
		vector = v
	}
	now := u.now()

	similar, err := u.vectors.Search(ctx, vector, 1, similarityThreshold, entity.VectorFilter{UserID: e.UserID})
	if err != nil {
		slog.Warn("LTM similarity search failed; creating new record", "error", err, "id", e.ID)
	}
	if len(similar) > 0 {
		existing := similar[0]
		strategy, merged, err := u.judge.DecideMergeStrategy(ctx, existing.Content, e.Content)
		if err != nil {
			slog.Warn("merge strategy decision failed; keeping both", "error", err)
			strategy = entity.MergeKeepBoth
		}
		switch strategy {
		case entity.MergeUpdateExisting:
			touch(&existing, now, metaInt(existing.Metadata, entity.MetaAccessCount)+1)
			existing.Embedding = nil
			if err := u.vectors.Update(ctx, existing); err != nil {
				return fmt.Errorf("failed to update existing LTM: %w", err)
			}
			return u.finishPromotion(ctx, e)
		case entity.MergeMerge:
			if merged == "" {
				merged = e.Content
			}
			v, err := u.embedder.Embed(ctx, merged)
			if err != nil {
				return fmt.Errorf("failed to embed merged content: %w", err)
			}
			existing.Content = merged
			existing.Embedding = v
			touch(&existing, now, metaInt(existing.Metadata, entity.MetaAccessCount))
			if err := u.vectors.Update(ctx, existing); err != nil {
				return fmt.Errorf("failed to update merged LTM: %w", err)
			}
			return u.finishPromotion(ctx, e)
		case entity.MergeKeepNewer:
			if err := u.vectors.Delete(ctx, existing.ID); err != nil {
				return fmt.Errorf("failed to delete older LTM: %w", err)
			}
		}
	}

	tags, entities, err := u.judge.ExtractTags(ctx, e.Content, e.Category)
	if err != nil {
		slog.Warn("tag extraction failed; using staging tags", "error", err)
		tags, entities = e.ExtractedTags, e.ExtractedEntities
	}
	rec := entity.Record{
		ID:        uuid.NewString(),
		Content:   e.Content,
		Embedding: vector,
		Timestamp: e.LastSeenAt,
		Type:      entity.LongTerm,
		Metadata: map[string]any{
			entity.MetaUserID:           e.UserID,
			entity.MetaCreatedAt:        now.Format(time.RFC3339Nano),
			entity.MetaTags:             tags,
			entity.MetaEntities:         entities,
			entity.MetaCategory:         string(e.Category),
			entity.MetaLastAccessAt:     now.Format(time.RFC3339Nano),
			entity.MetaAccessCount:      0,
			entity.MetaDecayScore:       1.0,
			entity.MetaSourceType:       sourceTypeStaging,
			entity.MetaConfidenceOrigin: e.ConfidenceScore,
			entity.MetaConfirmedBy:      confirmedBy,
		},
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = now
	}
	if err := u.vectors.Add(ctx, rec); err != nil {
		return fmt.Errorf("failed to add LTM: %w", err)
	}
	return u.finishPromotion(ctx, e)
}

func (u *FunnelUsecase) finishPromotion(ctx context.Context, e *entity.StagingEntry) error {
	if err := u.staging.Delete(ctx, e.ID); err != nil {
		slog.Warn("failed to delete promoted staging entry", "error", err, "id", e.ID)
	}
	u.metrics.RecordPromotion(string(e.Category), true)
	return nil
}

// touch はアクセス情報を更新し、忘却スコアを1.0に戻します。
func touch(rec *entity.Record, now time.Time, accessCount int) {
	rec.Metadata = ensureMeta(rec.Metadata)
	rec.Metadata[entity.MetaAccessCount] = accessCount
	rec.Metadata[entity.MetaLastAccessAt] = now.Format(time.RFC3339Nano)
	rec.Metadata[entity.MetaDecayScore] = 1.0
}

// ConfirmStaging は保留中のエントリをオペレーターの確認としてLTMに昇格します。
func (u *FunnelUsecase) ConfirmStaging(ctx context.Context, id string) error {
	e, err := u.pendingEntry(ctx, id)
	if err != nil {
		return err
	}
	e.Status = entity.StagingConfirmed
	e.ConfirmedBy = entity.ConfirmedByUser
	return u.promote(ctx, e, entity.ConfirmedByUser)
}

// RejectStaging は保留中のエントリを削除します。
func (u *FunnelUsecase) RejectStaging(ctx context.Context, id string) error {
	if _, err := u.pendingEntry(ctx, id); err != nil {
		return err
	}
	return u.staging.Delete(ctx, id)
}

func (u *FunnelUsecase) pendingEntry(ctx context.Context, id string) (*entity.StagingEntry, error) {
	e, err := u.staging.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Status != entity.StagingPending {
		return nil, ErrStagingNotFound
	}
	return e, nil
}

// StagingEntries は userID の全エントリ、または全ユーザーの保留中エントリを返します。埋め込みは含めません。
func (u *FunnelUsecase) StagingEntries(ctx context.Context, userID string) ([]*entity.StagingEntry, error) {
	var (
		entries []*entity.StagingEntry
		err     error
	)
	if userID != "" {
		entries, err = u.staging.ByUser(ctx, userID)
	} else {
		entries, err = u.staging.Pending(ctx, 1, 0)
	}
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		e.Embedding = nil
	}
	return entries, nil
}

// StagingStats は保留中エントリを信頼度と昇格条件で集計します。
func (u *FunnelUsecase) StagingStats(ctx context.Context) (*entity.StagingStats, error) {
	entries, err := u.staging.Pending(ctx, 1, 0)
	if err != nil {
		return nil, err
	}
	now := u.now()
	st := &entity.StagingStats{TotalPending: len(entries)}
	for _, e := range entries {
		switch {
		case e.ConfidenceScore >= u.cfg.ConfidenceHigh:
			st.HighConfidence++
		case e.ConfidenceScore >= u.cfg.ConfidenceLow:
			st.MediumConfidence++
		default:
			st.LowConfidence++
		}
		if e.FirstSeenAt.IsZero() {
			continue
		}
		if e.OccurrenceCount >= u.cfg.StagingMinOccurrences && now.Sub(e.FirstSeenAt) >= u.cfg.StagingMinWait {
			st.AwaitingPromotion++
		}
	}
	u.metrics.RecordQueueLength(len(entries))
	return st, nil
}

// QueueLength は保留中のStaging件数を返します。
func (u *FunnelUsecase) QueueLength(ctx context.Context) (int, error) {
	entries, err := u.staging.Pending(ctx, 1, 0)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

func (u *FunnelUsecase) recordQueueLength(ctx context.Context) {
	n, err := u.QueueLength(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			slog.Warn("failed to measure staging queue", "error", err)
		}
		return
	}
	u.metrics.RecordQueueLength(n)
}
