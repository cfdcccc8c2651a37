// Package usecase は記憶ファネル（STM→Staging→LTM）のビジネスロジックを実装します。
package usecase

import (
	"context"
	"io"
	"time"

	"ai_memory/internal/feature/memory/domain/entity"
)

// Goの慣例に従い、インターフェースはプロバイダー（adapters）ではなくコンシューマー（usecase）が定義します。

// STMStore はセッション単位の短期記憶リストです。
type STMStore interface {
	// Append は記録をセッションの末尾に追加し、リストの有効期限を ttl に設定します。
	Append(ctx context.Context, userID, sessionID string, rec entity.Record, ttl time.Duration) error
	// Range はセッションの全記録を古い順に返します。
	Range(ctx context.Context, userID, sessionID string) ([]entity.Record, error)
	// Remove は指定IDの記録をセッションから削除します。
	Remove(ctx context.Context, userID, sessionID string, ids ...string) error
	// Clear はセッションのリストを削除します。
	Clear(ctx context.Context, userID, sessionID string) error
	// Sessions はSTMを持つセッションを返します。userID が空なら全ユーザーです。
	Sessions(ctx context.Context, userID string) ([]entity.SessionRef, error)
	// Get はIDで記録を探します。見つからなければ ErrRecordNotFound を返します。
	Get(ctx context.Context, id string) (*entity.Record, error)
	// Update はIDが一致する記録を置き換えます。
	Update(ctx context.Context, rec entity.Record) error
	// MarkJudged は判定済みIDを記録し、判定済みセットの有効期限を ttl に設定します。
	MarkJudged(ctx context.Context, userID, sessionID string, ttl time.Duration, ids ...string) error
	// Judged はセッションの判定済みIDを返します。
	Judged(ctx context.Context, userID, sessionID string) (map[string]bool, error)
	// Ping は疎通を確認します。
	Ping(ctx context.Context) error
	// Reset は全てのSTMリストと判定済みセットを削除し、削除したキー数を返します。
	Reset(ctx context.Context) (int, error)
}

// StagingStore はLTM候補の保管庫です。
type StagingStore interface {
	// AddOrIncrement は意味的に類似するエントリか同一内容のエントリがあれば出現回数を増やし、
	// なければ新規作成します。
	AddOrIncrement(ctx context.Context, userID, sessionID, content string, embedding []float32, jr entity.JudgeResult) (*entity.StagingEntry, error)
	// Pending は保留中で minOccurrences 回以上出現し、minWait 以上経過したエントリを返します。
	Pending(ctx context.Context, minOccurrences int, minWait time.Duration) ([]*entity.StagingEntry, error)
	// ByUser はユーザーの全エントリを返します。
	ByUser(ctx context.Context, userID string) ([]*entity.StagingEntry, error)
	// Get はエントリを返します。存在しなければ ErrStagingNotFound を返します。
	Get(ctx context.Context, id string) (*entity.StagingEntry, error)
	// Delete はエントリを削除します。
	Delete(ctx context.Context, id string) error
	// Reset は全エントリを削除し、削除数を返します。
	Reset(ctx context.Context) (int, error)
}

// VectorStore は長期記憶（LTM）のベクトルストアです。
type VectorStore interface {
	Add(ctx context.Context, records ...entity.Record) error
	// Search は類似度が minScore 以上の記録を類似度の高い順に最大 limit 件返します。
	Search(ctx context.Context, vector []float32, limit int, minScore float64, filter entity.VectorFilter) ([]entity.Record, error)
	// Get は記録を返します。存在しなければ ErrRecordNotFound を返します。
	Get(ctx context.Context, id string) (*entity.Record, error)
	// Update は記録を置き換えます。Embedding が空なら既存のベクトルを保持します。
	Update(ctx context.Context, rec entity.Record) error
	Delete(ctx context.Context, ids ...string) error
	// List は新しい順に記録を返します。Embedding も含みます。画面のページング用です。
	List(ctx context.Context, filter entity.VectorFilter, limit, offset int) ([]entity.Record, error)
	// Scan は条件に合う全記録を新しい順に batch 件ずつ fn に渡します。件数の上限なく走査できます。
	Scan(ctx context.Context, filter entity.VectorFilter, batch int, fn func([]entity.Record) error) error
	Count(ctx context.Context, filter entity.VectorFilter) (int64, error)
}

// EndUserRepository はエンドユーザーの活動記録を永続化します。
type EndUserRepository interface {
	Upsert(ctx context.Context, identifier string, at time.Time) error
	List(ctx context.Context) ([]entity.EndUser, error)
}

// Judge はLLMによる判定・要約・統合方針の決定を行います。
type Judge interface {
	// JudgeBatch は contents と同じ長さの判定結果を返します。
	JudgeBatch(ctx context.Context, contents []string) ([]entity.JudgeResult, error)
	// Summarize は会話片を独立した事実文に要約します。
	Summarize(ctx context.Context, content string, category entity.Category) (string, error)
	// ExtractTags は構造化タグとエンティティを抽出します。
	ExtractTags(ctx context.Context, content string, category entity.Category) ([]string, map[string]string, error)
	// DecideMergeStrategy は既存記憶と新しい記憶の統合方針と、merge 時の統合後本文を返します。
	DecideMergeStrategy(ctx context.Context, existing, incoming string) (entity.MergeStrategy, string, error)
}

// Embedder はテキストを埋め込みベクトルに変換します。
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// JudgeCache は内容ごとの判定結果キャッシュです。
type JudgeCache interface {
	Get(ctx context.Context, content string) (*entity.JudgeResult, bool)
	Set(ctx context.Context, content string, jr entity.JudgeResult)
}

// MetricsRecorder はファネルの指標を記録します。
type MetricsRecorder interface {
	RecordPromotion(category string, success bool)
	RecordForgotten(n int)
	RecordCacheLookup(hit bool)
	RecordQueueLength(n int)
}

// SessionLocker はセッション単位で判定を排他します。
type SessionLocker interface {
	// TryLock は ttl の間ロックを取得し、解放関数を返します。他が保持中なら ok は false です。
	TryLock(ctx context.Context, userID, sessionID string, ttl time.Duration) (unlock func(), ok bool, err error)
}

// JobPublisher は非同期ジョブを送信します。
type JobPublisher interface {
	PublishJSON(ctx context.Context, body any) error
}

// SnapshotUploader はスナップショットをオブジェクトストレージに書き込みます。
type SnapshotUploader interface {
	Upload(ctx context.Context, object, contentType string, r io.Reader) (string, error)
}

// Stores は記憶の各層のストアをまとめたものです。
type Stores struct {
	STM     STMStore
	Staging StagingStore
	Vectors VectorStore
	Users   EndUserRepository
}

// Config はファネルの閾値です。
type Config struct {
	ContextWindow         int
	MaxRecentMemories     int
	STMExpiration         time.Duration
	JudgeBatchSize        int
	JudgeMinMessages      int
	JudgeMaxWait          time.Duration
	StagingMinOccurrences int
	StagingMinWait        time.Duration
	StagingValueThreshold float64
	ConfidenceHigh        float64
	ConfidenceLow         float64
	DecayHalfLifeDays     int
	DecayMinScore         float64
}

// noopMetrics は MetricsRecorder 未設定時に使います。
type noopMetrics struct{}

func (noopMetrics) RecordPromotion(string, bool) {}
func (noopMetrics) RecordForgotten(int)          {}
func (noopMetrics) RecordCacheLookup(bool)       {}
func (noopMetrics) RecordQueueLength(int)        {}
