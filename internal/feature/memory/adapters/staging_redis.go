package adapters

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"ai_memory/internal/feature/memory/domain/entity"
	"ai_memory/internal/feature/memory/usecase"
)

const (
	stagingPrefix = "staging:"
	// stagingSimilarity を超えるエントリは同じ記憶として出現回数をまとめます。
	stagingSimilarity = 0.95
)

// StagingRedis はLTM候補を staging:<user>:<hash> のキーに保持します。エントリのIDはキーそのものです。
type StagingRedis struct {
	client redis.UniversalClient
	ttl    time.Duration
	now    func() time.Time
}

var _ usecase.StagingStore = (*StagingRedis)(nil)

// NewStagingRedis creates a new StagingRedis instance.
func NewStagingRedis(client redis.UniversalClient, ttl time.Duration) *StagingRedis {
	return &StagingRedis{client: client, ttl: ttl, now: time.Now}
}

// contentHash はMD5の先頭16桁です。
func contentHash(content string) string {
	sum := md5.Sum([]byte(content))
	return hex.EncodeToString(sum[:])[:16]
}

func stagingKey(userID, content string) string {
	return stagingPrefix + userID + ":" + contentHash(content)
}

// userPattern は staging:<user>:* です。"a" のパターンは "a:b" のキーにも一致するため、呼び出し側で UserID を確認します。
func userPattern(userID string) string {
	return stagingPrefix + escapeGlob(userID) + ":*"
}

// ownedBy は userID のエントリだけを残します。
func ownedBy(entries []*entity.StagingEntry, userID string) []*entity.StagingEntry {
	out := entries[:0]
	for _, e := range entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out
}

func (s *StagingRedis) save(ctx context.Context, e *entity.StagingEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal staging entry: %w", err)
	}
	return s.client.Set(ctx, e.ID, data, s.ttl).Err()
}

func (s *StagingRedis) load(ctx context.Context, key string) (*entity.StagingEntry, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, usecase.ErrStagingNotFound
		}
		return nil, err
	}
	var e entity.StagingEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal staging entry: %w", err)
	}
	return &e, nil
}

// scan は pattern に一致する読み取り可能なエントリを返します。途中で消えたキーは無視します。
func (s *StagingRedis) scan(ctx context.Context, pattern string) ([]*entity.StagingEntry, error) {
	keys, err := scanKeys(ctx, s.client, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to scan staging: %w", err)
	}
	entries := make([]*entity.StagingEntry, 0, len(keys))
	for _, key := range keys {
		e, err := s.load(ctx, key)
		if err != nil {
			if !errors.Is(err, usecase.ErrStagingNotFound) {
				slog.Warn("skipping unreadable staging entry", "key", key, "error", err)
			}
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// SearchSimilar はユーザーのエントリから類似度が threshold を超える最も近いものを返します。
func (s *StagingRedis) SearchSimilar(ctx context.Context, userID string, vector []float32, threshold float64) (*entity.StagingEntry, error) {
	entries, err := s.scan(ctx, userPattern(userID))
	if err != nil {
		return nil, err
	}
	entries = ownedBy(entries, userID)
	var (
		best      *entity.StagingEntry
		bestScore float64
	)
	for _, e := range entries {
		if len(e.Embedding) == 0 {
			continue
		}
		if sim := entity.CosineSimilarity(vector, e.Embedding); sim > threshold && sim > bestScore {
			best, bestScore = e, sim
		}
	}
	return best, nil
}

// AddOrIncrement は意味的に類似するエントリ、次に同一内容のエントリを探し、見つかれば出現回数を増やします。
func (s *StagingRedis) AddOrIncrement(ctx context.Context, userID, sessionID, content string, embedding []float32, jr entity.JudgeResult) (*entity.StagingEntry, error) {
	now := s.now()

	if len(embedding) > 0 {
		similar, err := s.SearchSimilar(ctx, userID, embedding, stagingSimilarity)
		if err != nil {
			slog.Warn("staging similarity search failed; falling back to content hash", "error", err)
		}
		if similar != nil {
			similar.Apply(jr, sessionID, now)
			if err := s.save(ctx, similar); err != nil {
				return nil, fmt.Errorf("failed to update staging entry: %w", err)
			}
			return similar, nil
		}
	}

	key := stagingKey(userID, content)
	e, err := s.load(ctx, key)
	switch {
	case err == nil:
		e.Apply(jr, sessionID, now)
	case errors.Is(err, usecase.ErrStagingNotFound):
		e = &entity.StagingEntry{
			ID:          key,
			Content:     content,
			Embedding:   embedding,
			UserID:      userID,
			FirstSeenAt: now,
			Status:      entity.StagingPending,
		}
		e.Apply(jr, sessionID, now)
	default:
		return nil, fmt.Errorf("failed to read staging entry: %w", err)
	}

	if err := s.save(ctx, e); err != nil {
		return nil, fmt.Errorf("failed to write staging entry: %w", err)
	}
	return e, nil
}

// Pending returns pending entries seen at least minOccurrences times and older than minWait.
func (s *StagingRedis) Pending(ctx context.Context, minOccurrences int, minWait time.Duration) ([]*entity.StagingEntry, error) {
	entries, err := s.scan(ctx, stagingPrefix+"*")
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]*entity.StagingEntry, 0, len(entries))
	for _, e := range entries {
		if e.Status != entity.StagingPending || e.OccurrenceCount < minOccurrences {
			continue
		}
		if now.Sub(e.FirstSeenAt) < minWait {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// ByUser returns every entry of a user regardless of status.
func (s *StagingRedis) ByUser(ctx context.Context, userID string) ([]*entity.StagingEntry, error) {
	entries, err := s.scan(ctx, userPattern(userID))
	if err != nil {
		return nil, err
	}
	return ownedBy(entries, userID), nil
}

// Get returns an entry by its ID (the Redis key).
func (s *StagingRedis) Get(ctx context.Context, id string) (*entity.StagingEntry, error) {
	return s.load(ctx, id)
}

// Delete removes an entry.
func (s *StagingRedis) Delete(ctx context.Context, id string) error {
	return s.client.Del(ctx, id).Err()
}

// Reset removes every staging entry.
func (s *StagingRedis) Reset(ctx context.Context) (int, error) {
	keys, err := scanKeys(ctx, s.client, stagingPrefix+"*")
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := s.client.Del(ctx, keys...).Result()
	return int(n), err
}
