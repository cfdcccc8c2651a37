// Package adapters はmemoryフィーチャーのストアと外部サービスの実装を提供します。
package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"ai_memory/internal/feature/memory/domain/entity"
	"ai_memory/internal/feature/memory/usecase"
)

const (
	stmPrefix    = "memory:stm:"
	judgedPrefix = "memory:judged:"
	// sessionIndexKey は memory:stm:* に一致しない名前にしておきます。
	sessionIndexKey = "memory:stm_sessions"
	scanCount       = 100
)

// STMRedis はセッションごとのRedisリストで短期記憶を保持します。
//
//	memory:stm:<user>:<session>     記録のJSONリスト（古い順）
//	memory:judged:<user>:<session>  判定済みIDのセット
//	memory:stm_sessions             {user_id, session_id} のJSONセット
//
// ユーザーIDとセッションIDは ":" を含み得るため、キーを分解せずインデックスから列挙します。
type STMRedis struct {
	client redis.UniversalClient
}

var _ usecase.STMStore = (*STMRedis)(nil)

// NewSTMRedis creates a new STMRedis instance.
func NewSTMRedis(client redis.UniversalClient) *STMRedis {
	return &STMRedis{client: client}
}

func stmKey(userID, sessionID string) string {
	return stmPrefix + userID + ":" + sessionID
}

func judgedKey(userID, sessionID string) string {
	return judgedPrefix + userID + ":" + sessionID
}

func sessionMember(userID, sessionID string) string {
	data, _ := json.Marshal(entity.SessionRef{UserID: userID, SessionID: sessionID})
	return string(data)
}

// escapeGlob はSCANのパターンとして文字通りに一致するようにメタ文字をエスケープします。
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// scanKeys は pattern に一致する全キーを返します。
func scanKeys(ctx context.Context, client redis.UniversalClient, pattern string) ([]string, error) {
	var keys []string
	iter := client.Scan(ctx, 0, pattern, scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

// Append adds rec to the end of the session list and refreshes its TTL.
func (s *STMRedis) Append(ctx context.Context, userID, sessionID string, rec entity.Record, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	key := stmKey(userID, sessionID)
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, key, data)
		if ttl > 0 {
			p.Expire(ctx, key, ttl)
		}
		p.SAdd(ctx, sessionIndexKey, sessionMember(userID, sessionID))
		return nil
	})
	return err
}

// stmElement はリスト上の位置と元のJSON文字列を持つ記録です。
type stmElement struct {
	raw string
	pos int64
	rec entity.Record
}

// rawRange はリストを読み出します。デコードできない要素はログに残して読み飛ばします。
func (s *STMRedis) rawRange(ctx context.Context, key string) ([]stmElement, error) {
	raws, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	elems := make([]stmElement, 0, len(raws))
	for i, raw := range raws {
		var rec entity.Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			slog.Warn("skipping undecodable STM record", "key", key, "index", i, "error", err)
			continue
		}
		elems = append(elems, stmElement{raw: raw, pos: int64(i), rec: rec})
	}
	return elems, nil
}

// Range returns every readable record of the session, oldest first.
func (s *STMRedis) Range(ctx context.Context, userID, sessionID string) ([]entity.Record, error) {
	elems, err := s.rawRange(ctx, stmKey(userID, sessionID))
	if err != nil {
		return nil, err
	}
	recs := make([]entity.Record, len(elems))
	for i, el := range elems {
		recs[i] = el.rec
	}
	return recs, nil
}

// Remove は一致するIDの要素を元のJSON文字列でLREMします。
func (s *STMRedis) Remove(ctx context.Context, userID, sessionID string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	key := stmKey(userID, sessionID)
	elems, err := s.rawRange(ctx, key)
	if err != nil {
		return err
	}
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, el := range elems {
			if drop[el.rec.ID] {
				p.LRem(ctx, key, 1, el.raw)
			}
		}
		return nil
	})
	return err
}

// Clear deletes the session list and its judged set.
func (s *STMRedis) Clear(ctx context.Context, userID, sessionID string) error {
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, stmKey(userID, sessionID), judgedKey(userID, sessionID))
		p.SRem(ctx, sessionIndexKey, sessionMember(userID, sessionID))
		return nil
	})
	return err
}

// Sessions はインデックスからセッションを列挙します。userID が空なら全ユーザーです。
// TTLで消えたリストはインデックスからも取り除きます。
func (s *STMRedis) Sessions(ctx context.Context, userID string) ([]entity.SessionRef, error) {
	members, err := s.client.SMembers(ctx, sessionIndexKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	refs := make([]entity.SessionRef, 0, len(members))
	var stale []any
	for _, m := range members {
		var ref entity.SessionRef
		if err := json.Unmarshal([]byte(m), &ref); err != nil {
			slog.Warn("dropping malformed STM session index member", "member", m, "error", err)
			stale = append(stale, m)
			continue
		}
		if userID != "" && ref.UserID != userID {
			continue
		}
		n, err := s.client.Exists(ctx, stmKey(ref.UserID, ref.SessionID)).Result()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			stale = append(stale, m)
			continue
		}
		refs = append(refs, ref)
	}
	if len(stale) > 0 {
		if err := s.client.SRem(ctx, sessionIndexKey, stale...).Err(); err != nil {
			slog.Warn("failed to prune STM session index", "error", err)
		}
	}
	return refs, nil
}

// locate はIDを持つ記録のキーとリスト上の位置を探します。
func (s *STMRedis) locate(ctx context.Context, id string) (string, int64, *entity.Record, error) {
	keys, err := scanKeys(ctx, s.client, stmPrefix+"*")
	if err != nil {
		return "", 0, nil, err
	}
	for _, key := range keys {
		elems, err := s.rawRange(ctx, key)
		if err != nil {
			slog.Warn("skipping unreadable STM list", "key", key, "error", err)
			continue
		}
		for i := range elems {
			if elems[i].rec.ID == id {
				return key, elems[i].pos, &elems[i].rec, nil
			}
		}
	}
	return "", 0, nil, usecase.ErrRecordNotFound
}

// Get finds a record by ID across all sessions.
func (s *STMRedis) Get(ctx context.Context, id string) (*entity.Record, error) {
	_, _, rec, err := s.locate(ctx, id)
	return rec, err
}

// Update replaces the record with the same ID in place.
func (s *STMRedis) Update(ctx context.Context, rec entity.Record) error {
	key, idx, _, err := s.locate(ctx, rec.ID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	return s.client.LSet(ctx, key, idx, data).Err()
}

// MarkJudged adds ids to the judged set; the set expires together with the STM list.
func (s *STMRedis) MarkJudged(ctx context.Context, userID, sessionID string, ttl time.Duration, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	key := judgedKey(userID, sessionID)
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, key, members...)
		if ttl > 0 {
			p.Expire(ctx, key, ttl)
		}
		return nil
	})
	return err
}

// Judged returns the judged IDs of a session.
func (s *STMRedis) Judged(ctx context.Context, userID, sessionID string) (map[string]bool, error) {
	ids, err := s.client.SMembers(ctx, judgedKey(userID, sessionID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

// Ping checks the connection.
func (s *STMRedis) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Reset はSTMリストと判定済みセットを全て削除します。
func (s *STMRedis) Reset(ctx context.Context) (int, error) {
	var keys []string
	for _, pattern := range []string{stmPrefix + "*", judgedPrefix + "*"} {
		found, err := scanKeys(ctx, s.client, pattern)
		if err != nil {
			return 0, err
		}
		keys = append(keys, found...)
	}
	if err := s.client.Del(ctx, sessionIndexKey).Err(); err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := s.client.Del(ctx, keys...).Result()
	return int(n), err
}
