package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"time"

	"ai_memory/internal/feature/memory/domain/entity"
)

// scanBatchSize はLTMを走査するときの1ページの件数です。
const scanBatchSize = 1000

// MaintenanceUsecase はLTMの忘却・重複排除・スナップショットと、運用向けの点検操作を実装します。
type MaintenanceUsecase struct {
	stm      STMStore
	staging  StagingStore
	vectors  VectorStore
	judge    Judge
	embedder Embedder
	decay    *DecayCalculator
	metrics  MetricsRecorder
	uploader SnapshotUploader
	prefix   string
	now      func() time.Time
}

// NewMaintenanceUsecase はMaintenanceUsecaseを生成します。
// uploader が nil の場合、Snapshot は ErrSnapshotDisabled を返します。
func NewMaintenanceUsecase(stores Stores, judge Judge, embedder Embedder, metrics MetricsRecorder, uploader SnapshotUploader, snapshotPrefix string, cfg Config) *MaintenanceUsecase {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &MaintenanceUsecase{
		stm:      stores.STM,
		staging:  stores.Staging,
		vectors:  stores.Vectors,
		judge:    judge,
		embedder: embedder,
		decay:    NewDecayCalculator(cfg.DecayHalfLifeDays, cfg.DecayMinScore),
		metrics:  metrics,
		uploader: uploader,
		prefix:   snapshotPrefix,
		now:      time.Now,
	}
}

func (u *MaintenanceUsecase) listAll(ctx context.Context) ([]entity.Record, error) {
	var all []entity.Record
	err := u.vectors.Scan(ctx, entity.VectorFilter{}, scanBatchSize, func(batch []entity.Record) error {
		all = append(all, batch...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list LTM: %w", err)
	}
	return all, nil
}

// Decay は全LTMの忘却スコアを再計算し、下限未満の記録を削除します。
func (u *MaintenanceUsecase) Decay(ctx context.Context) (*entity.DecayReport, error) {
	recs, err := u.listAll(ctx)
	if err != nil {
		return nil, err
	}
	now := u.now()
	report := &entity.DecayReport{Scanned: len(recs)}

	var evict []string
	for _, rec := range recs {
		lastAccess, ok := metaTime(rec.Metadata, entity.MetaLastAccessAt)
		if !ok {
			lastAccess = now.Add(-missingAccessAge)
		}
		score := u.decay.Score(now, lastAccess, metaInt(rec.Metadata, entity.MetaAccessCount))
		if u.decay.ShouldEvict(score) {
			evict = append(evict, rec.ID)
			continue
		}
		rec.Metadata = ensureMeta(rec.Metadata)
		rec.Metadata[entity.MetaDecayScore] = score
		rec.Embedding = nil
		if err := u.vectors.Update(ctx, rec); err != nil {
			slog.Warn("failed to update decay score", "id", rec.ID, "error", err)
			continue
		}
		report.Updated++
	}

	if len(evict) > 0 {
		if err := u.vectors.Delete(ctx, evict...); err != nil {
			return report, fmt.Errorf("failed to evict decayed memories: %w", err)
		}
		report.Evicted = len(evict)
		u.metrics.RecordForgotten(len(evict))
	}
	slog.Info("LTM decay finished", "scanned", report.Scanned, "updated", report.Updated, "evicted", report.Evicted)
	return report, nil
}

// Deduplicate は同一ユーザー内で類似度が閾値を超えるLTMの組を判定モデルの方針で統合します。
func (u *MaintenanceUsecase) Deduplicate(ctx context.Context) (*entity.DedupReport, error) {
	recs, err := u.listAll(ctx)
	if err != nil {
		return nil, err
	}
	report := &entity.DedupReport{Scanned: len(recs)}

	byUser := make(map[string][]int)
	for i, r := range recs {
		if uid := r.UserID(); uid != "" {
			byUser[uid] = append(byUser[uid], i)
		}
	}
	removed := make(map[string]bool)

	for _, idx := range byUser {
		for a := 0; a < len(idx); a++ {
			for b := a + 1; b < len(idx); b++ {
				if ctx.Err() != nil {
					return report, ctx.Err()
				}
				r1, r2 := &recs[idx[a]], &recs[idx[b]]
				if removed[r1.ID] || removed[r2.ID] {
					continue
				}
				if entity.CosineSimilarity(r1.Embedding, r2.Embedding) <= similarityThreshold {
					continue
				}
				report.Similar++

				strategy, merged, err := u.judge.DecideMergeStrategy(ctx, r1.Content, r2.Content)
				if err != nil {
					slog.Error("merge strategy decision failed", "error", err)
					continue
				}
				gone, err := u.applyMerge(ctx, r1, r2, strategy, merged)
				if err != nil {
					slog.Error("failed to apply merge strategy", "error", err, "strategy", strategy)
					continue
				}
				if gone != "" {
					removed[gone] = true
					report.Merged++
					report.Deleted++
				}
			}
		}
	}
	slog.Info("LTM dedup finished", "scanned", report.Scanned, "similar", report.Similar, "merged", report.Merged)
	return report, nil
}

// applyMerge は統合方針を実行し、削除した記録のIDを返します。
func (u *MaintenanceUsecase) applyMerge(ctx context.Context, r1, r2 *entity.Record, strategy entity.MergeStrategy, merged string) (string, error) {
	c1 := metaInt(r1.Metadata, entity.MetaAccessCount)
	c2 := metaInt(r2.Metadata, entity.MetaAccessCount)

	switch strategy {
	case entity.MergeKeepNewer:
		older := r1
		if r1.Timestamp.After(r2.Timestamp) {
			older = r2
		}
		return older.ID, u.vectors.Delete(ctx, older.ID)

	case entity.MergeKeepHigherAccess, entity.MergeUpdateExisting:
		keep, drop := r1, r2
		if c2 > c1 {
			keep, drop = r2, r1
		}
		return drop.ID, u.keep(ctx, *keep, drop.ID, c1+c2, nil)

	case entity.MergeMerge:
		if merged == "" {
			return "", fmt.Errorf("%w: merge strategy without merged content", ErrInvalidInput)
		}
		vec, err := u.embedder.Embed(ctx, merged)
		if err != nil {
			return "", err
		}
		r1.Content = merged
		return r2.ID, u.keep(ctx, *r1, r2.ID, c1+c2, vec)
	}
	return "", nil
}

func (u *MaintenanceUsecase) keep(ctx context.Context, rec entity.Record, dropID string, accessCount int, vec []float32) error {
	rec.Metadata = ensureMeta(rec.Metadata)
	rec.Metadata[entity.MetaAccessCount] = accessCount
	rec.Metadata[entity.MetaDecayScore] = 1.0
	rec.Embedding = vec
	if err := u.vectors.Update(ctx, rec); err != nil {
		return err
	}
	return u.vectors.Delete(ctx, dropID)
}

type snapshotFile struct {
	CreatedAt time.Time       `json:"created_at"`
	Count     int             `json:"count"`
	Records   []snapshotEntry `json:"records"`
}

type snapshotEntry struct {
	entity.Record
	Embedding []float32 `json:"embedding"`
}

// Snapshot は全LTMを埋め込み付きのJSONとして書き出し、オブジェクトのURIを返します。
func (u *MaintenanceUsecase) Snapshot(ctx context.Context) (string, error) {
	if u.uploader == nil {
		return "", ErrSnapshotDisabled
	}
	recs, err := u.listAll(ctx)
	if err != nil {
		return "", err
	}
	now := u.now().UTC()
	file := snapshotFile{CreatedAt: now, Count: len(recs), Records: make([]snapshotEntry, 0, len(recs))}
	for _, r := range recs {
		file.Records = append(file.Records, snapshotEntry{Record: r, Embedding: r.Embedding})
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(file); err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}
	object := path.Join(u.prefix, now.Format("2006-01-02T150405Z")+".json")
	uri, err := u.uploader.Upload(ctx, object, "application/json", &buf)
	if err != nil {
		return "", fmt.Errorf("failed to upload snapshot: %w", err)
	}
	slog.Info("LTM snapshot uploaded", "uri", uri, "records", len(recs))
	return uri, nil
}

// Inspect は各層の件数を返します。
func (u *MaintenanceUsecase) Inspect(ctx context.Context) (*entity.Inventory, error) {
	sessions, err := u.stm.Sessions(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to scan STM: %w", err)
	}
	staged, err := u.staging.Pending(ctx, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to scan staging: %w", err)
	}
	ltm, err := u.vectors.Count(ctx, entity.VectorFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to count LTM: %w", err)
	}
	return &entity.Inventory{STMSessions: len(sessions), Staging: len(staged), LTM: ltm}, nil
}

// Reset はSTM（判定済みセットを含む）とStagingを空にします。LTMには触れません。
func (u *MaintenanceUsecase) Reset(ctx context.Context) (*entity.ResetReport, error) {
	keys, err := u.stm.Reset(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to reset STM: %w", err)
	}
	staged, err := u.staging.Reset(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to reset staging: %w", err)
	}
	slog.Warn("STM and staging reset", "stm_keys", keys, "staging", staged)
	return &entity.ResetReport{STMKeys: keys, Staging: staged}, nil
}
