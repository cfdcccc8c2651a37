package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"ai_memory/internal/feature/memory/domain/entity"
)

const (
	defaultListLimit = 50
	// retrieveMinScore 未満の類似度のLTMは想起しません。
	retrieveMinScore = 0.7
)

// MemoryUsecase は記憶の追加・想起・管理操作を実装します。
type MemoryUsecase struct {
	stm      STMStore
	vectors  VectorStore
	users    EndUserRepository
	embedder Embedder
	cfg      Config
	now      func() time.Time
}

// NewMemoryUsecase はMemoryUsecaseの新しいインスタンスを生成します。
func NewMemoryUsecase(stores Stores, embedder Embedder, cfg Config) *MemoryUsecase {
	return &MemoryUsecase{
		stm:      stores.STM,
		vectors:  stores.Vectors,
		users:    stores.Users,
		embedder: embedder,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Add は1往復の対話をSTMに追加し、エンドユーザーの活動時刻を更新します。
func (u *MemoryUsecase) Add(ctx context.Context, userID, sessionID, input, output string, metadata map[string]any) (*entity.Record, error) {
	if userID == "" || sessionID == "" {
		return nil, fmt.Errorf("%w: user_id and session_id are required", ErrInvalidInput)
	}
	meta := make(map[string]any, len(metadata)+2)
	for k, v := range metadata {
		meta[k] = v
	}
	meta[entity.MetaUserID] = userID
	meta[entity.MetaSessionID] = sessionID

	now := u.now()
	rec := entity.Record{
		ID:        uuid.NewString(),
		Content:   fmt.Sprintf("User: %s\nAI: %s", input, output),
		Timestamp: now,
		Metadata:  meta,
		Type:      entity.ShortTerm,
	}
	if err := u.stm.Append(ctx, userID, sessionID, rec, u.cfg.STMExpiration); err != nil {
		return nil, fmt.Errorf("failed to add to STM: %w", err)
	}

	if u.users != nil {
		if err := u.users.Upsert(ctx, userID, now); err != nil {
			slog.Warn("failed to record end user activity", "user_id", userID, "error", err)
		}
	}
	return &rec, nil
}

// Retrieve は直近のSTMウィンドウと、クエリに類似するユーザーのLTMを返します。
// 想起されたLTMはアクセス回数と最終アクセス時刻が更新されます。
func (u *MemoryUsecase) Retrieve(ctx context.Context, userID, sessionID, query string, limit int) ([]entity.Record, error) {
	var out []entity.Record

	stm, err := u.stm.Range(ctx, userID, sessionID)
	if err != nil {
		slog.Warn("failed to read STM", "user_id", userID, "session_id", sessionID, "error", err)
	} else {
		start := 0
		if u.cfg.ContextWindow > 0 && len(stm) > u.cfg.ContextWindow {
			start = len(stm) - u.cfg.ContextWindow
		}
		out = append(out, stm[start:]...)
	}

	slots := limit
	if u.cfg.MaxRecentMemories > 0 && (slots <= 0 || slots > u.cfg.MaxRecentMemories) {
		slots = u.cfg.MaxRecentMemories
	}

	vector, err := u.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	ltm, err := u.vectors.Search(ctx, vector, slots, retrieveMinScore, entity.VectorFilter{UserID: userID})
	if err != nil {
		slog.Warn("LTM search failed", "user_id", userID, "error", err)
	} else {
		now := u.now()
		for i := range ltm {
			u.refreshAccess(ctx, &ltm[i], now)
		}
		out = append(out, ltm...)
	}

	if u.cfg.MaxRecentMemories > 0 && len(out) > u.cfg.MaxRecentMemories {
		out = out[:u.cfg.MaxRecentMemories]
	}
	return out, nil
}

func (u *MemoryUsecase) refreshAccess(ctx context.Context, rec *entity.Record, now time.Time) {
	rec.Metadata = ensureMeta(rec.Metadata)
	rec.Metadata[entity.MetaAccessCount] = metaInt(rec.Metadata, entity.MetaAccessCount) + 1
	rec.Metadata[entity.MetaLastAccessAt] = now.Format(time.RFC3339Nano)

	stored := *rec
	stored.Embedding = nil // 既存ベクトルを保持
	if err := u.vectors.Update(ctx, stored); err != nil {
		slog.Warn("failed to refresh LTM access", "id", rec.ID, "error", err)
	}
}

// List は種別に応じた記録を新しい順に返します。
// long_term はストア側でページングし、それ以外はSTMとLTMを統合してメモリ上でページングします。
func (u *MemoryUsecase) List(ctx context.Context, f entity.Filter) ([]entity.Record, error) {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	offset := (f.Page - 1) * f.Limit

	if f.Type == entity.LongTerm {
		return u.vectors.List(ctx, entity.VectorFilter{UserID: f.UserID}, f.Limit, offset)
	}

	var results []entity.Record
	if f.Type == "" || f.Type == entity.ShortTerm {
		stm, err := u.listSTM(ctx, f.UserID)
		if err != nil {
			return nil, err
		}
		results = append(results, stm...)
	}
	if f.Type != entity.ShortTerm {
		vf := entity.VectorFilter{UserID: f.UserID}
		if f.Type != "" {
			vf.Type = f.Type
		}
		ltm, err := u.vectors.List(ctx, vf, f.Limit+offset, 0)
		if err != nil {
			slog.Warn("LTM list failed", "error", err)
		} else {
			results = append(results, ltm...)
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Timestamp.After(results[j].Timestamp)
	})
	if offset >= len(results) {
		return []entity.Record{}, nil
	}
	end := offset + f.Limit
	if end > len(results) {
		end = len(results)
	}
	return results[offset:end], nil
}

func (u *MemoryUsecase) listSTM(ctx context.Context, userID string) ([]entity.Record, error) {
	sessions, err := u.stm.Sessions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to scan STM: %w", err)
	}
	var out []entity.Record
	for _, s := range sessions {
		recs, err := u.stm.Range(ctx, s.UserID, s.SessionID)
		if err != nil {
			slog.Warn("failed to read STM session", "user_id", s.UserID, "session_id", s.SessionID, "error", err)
			continue
		}
		for _, r := range recs {
			if userID != "" && r.UserID() != "" && r.UserID() != userID {
				continue
			}
			out = append(out, r)
		}
	}
	return out, nil
}

// Update は記録の本文を差し替えて再埋め込みします。LTM、STMの順に探します。
func (u *MemoryUsecase) Update(ctx context.Context, id, content string) error {
	rec, inLTM, err := u.find(ctx, id)
	if err != nil {
		return err
	}

	vector, err := u.embedder.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("failed to embed new content: %w", err)
	}
	rec.Content = content
	rec.Embedding = vector

	if inLTM {
		if err := u.vectors.Update(ctx, *rec); err != nil {
			return fmt.Errorf("failed to update LTM: %w", err)
		}
		return nil
	}
	if err := u.stm.Update(ctx, *rec); err != nil {
		return fmt.Errorf("failed to update STM: %w", err)
	}
	return nil
}

func (u *MemoryUsecase) find(ctx context.Context, id string) (*entity.Record, bool, error) {
	rec, err := u.vectors.Get(ctx, id)
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, ErrRecordNotFound) {
		slog.Warn("LTM lookup failed; falling back to STM", "id", id, "error", err)
	}
	rec, err = u.stm.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, false, ErrRecordNotFound
		}
		return nil, false, err
	}
	return rec, false, nil
}

// Delete はLTMから記録を削除します。
func (u *MemoryUsecase) Delete(ctx context.Context, id string) error {
	return u.vectors.Delete(ctx, id)
}

// Clear はセッションのSTMを削除します。
func (u *MemoryUsecase) Clear(ctx context.Context, userID, sessionID string) error {
	if userID == "" || sessionID == "" {
		return fmt.Errorf("%w: user_id and session_id are required", ErrInvalidInput)
	}
	if err := u.stm.Clear(ctx, userID, sessionID); err != nil {
		return err
	}
	slog.Info("STM cleared", "user_id", userID, "session_id", sessionID)
	return nil
}

// Users はエンドユーザー一覧をセッション数とLTM件数付きで返します。
func (u *MemoryUsecase) Users(ctx context.Context) ([]entity.EndUser, error) {
	if u.users == nil {
		return nil, errors.New("end user repository not configured")
	}
	users, err := u.users.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range users {
		id := users[i].UserIdentifier
		if sessions, err := u.stm.Sessions(ctx, id); err == nil {
			users[i].SessionCount = len(sessions)
		}
		if n, err := u.vectors.Count(ctx, entity.VectorFilter{UserID: id}); err == nil {
			users[i].LTMCount = n
		}
	}
	return users, nil
}

// Status はSTMとLTMの稼働状態を返します。
func (u *MemoryUsecase) Status(ctx context.Context) entity.SystemStatus {
	st := entity.SystemStatus{ShortTermMemory: entity.StatusOnline, LongTermMemory: entity.StatusOnline}
	if err := u.stm.Ping(ctx); err != nil {
		st.ShortTermMemory = entity.StatusDown
	}
	if _, err := u.vectors.List(ctx, entity.VectorFilter{}, 1, 0); err != nil {
		st.LongTermMemory = entity.StatusDown
	}
	return st
}
