package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"ai_memory/internal/feature/memory/domain/entity"
	"ai_memory/internal/feature/memory/usecase"
)

// VectorInMemory はプロセス内のLTMストアです。path を指定すると変更のたびにJSONファイルへ書き出します。
// Elasticsearch を設定しない開発環境とテストで使います。
type VectorInMemory struct {
	mu      sync.RWMutex
	records map[string]entity.Record
	path    string
}

var _ usecase.VectorStore = (*VectorInMemory)(nil)

// vectorFileRecord はファイル保存用の表現です。Record は埋め込みをJSONに含めないため別に持ちます。
type vectorFileRecord struct {
	entity.Record
	Embedding []float32 `json:"embedding"`
}

// NewVectorInMemory は path の内容を読み込んでストアを生成します。path が空なら永続化しません。
func NewVectorInMemory(path string) (*VectorInMemory, error) {
	v := &VectorInMemory{records: make(map[string]entity.Record), path: path}
	if path == "" {
		return v, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return v, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read vector store %s: %w", path, err)
	}
	var stored []vectorFileRecord
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("decode vector store %s: %w", path, err)
	}
	for _, s := range stored {
		rec := s.Record
		rec.Embedding = s.Embedding
		v.records[rec.ID] = rec
	}
	return v, nil
}

// persist は呼び出し側がロックを保持している前提です。
func (v *VectorInMemory) persist() error {
	if v.path == "" {
		return nil
	}
	out := make([]vectorFileRecord, 0, len(v.records))
	for _, r := range v.records {
		out = append(out, vectorFileRecord{Record: r, Embedding: r.Embedding})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	data, err := json.Marshal(out)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(v.path), 0o755); err != nil {
		return err
	}
	tmp := v.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, v.path)
}

// detach はストア内部のメタデータを呼び出し側の変更から切り離します。
func detach(r entity.Record) entity.Record {
	r.Metadata = maps.Clone(r.Metadata)
	return r
}

func matches(r entity.Record, f entity.VectorFilter) bool {
	if f.UserID != "" && r.UserID() != f.UserID {
		return false
	}
	if f.Type != "" && r.Type != f.Type {
		return false
	}
	return true
}

func (v *VectorInMemory) Add(_ context.Context, records ...entity.Record) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, r := range records {
		if r.ID == "" {
			return fmt.Errorf("%w: record id is required", usecase.ErrInvalidInput)
		}
		if r.Type == "" {
			r.Type = entity.LongTerm
		}
		v.records[r.ID] = detach(r)
	}
	return v.persist()
}

func (v *VectorInMemory) Search(_ context.Context, vector []float32, limit int, minScore float64, filter entity.VectorFilter) ([]entity.Record, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	var out []entity.Record
	for _, r := range v.records {
		if !matches(r, filter) {
			continue
		}
		score := entity.CosineSimilarity(vector, r.Embedding)
		if score < minScore {
			continue
		}
		r.Score = score
		out = append(out, detach(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (v *VectorInMemory) Get(_ context.Context, id string) (*entity.Record, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	r, ok := v.records[id]
	if !ok {
		return nil, usecase.ErrRecordNotFound
	}
	r = detach(r)
	return &r, nil
}

func (v *VectorInMemory) Update(_ context.Context, rec entity.Record) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	cur, ok := v.records[rec.ID]
	if !ok {
		return usecase.ErrRecordNotFound
	}
	if len(rec.Embedding) == 0 {
		rec.Embedding = cur.Embedding
	}
	if rec.Type == "" {
		rec.Type = cur.Type
	}
	v.records[rec.ID] = detach(rec)
	return v.persist()
}

func (v *VectorInMemory) Delete(_ context.Context, ids ...string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, id := range ids {
		delete(v.records, id)
	}
	return v.persist()
}

func (v *VectorInMemory) List(_ context.Context, filter entity.VectorFilter, limit, offset int) ([]entity.Record, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]entity.Record, 0, len(v.records))
	for _, r := range v.records {
		if matches(r, filter) {
			out = append(out, detach(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if offset >= len(out) {
		return []entity.Record{}, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Scan はスナップショットを batch 件ずつ fn に渡します。
func (v *VectorInMemory) Scan(ctx context.Context, filter entity.VectorFilter, batch int, fn func([]entity.Record) error) error {
	all, err := v.List(ctx, filter, 0, 0)
	if err != nil {
		return err
	}
	if batch <= 0 {
		batch = max(len(all), 1)
	}
	for start := 0; start < len(all); start += batch {
		if err := fn(all[start:min(start+batch, len(all))]); err != nil {
			return err
		}
	}
	return nil
}

func (v *VectorInMemory) Count(_ context.Context, filter entity.VectorFilter) (int64, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	var n int64
	for _, r := range v.records {
		if matches(r, filter) {
			n++
		}
	}
	return n, nil
}
