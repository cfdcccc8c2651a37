package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"ai_memory/internal/feature/memory/domain/entity"
	"ai_memory/internal/feature/memory/usecase"
	"ai_memory/internal/platform/elastic"
)

// VectorElastic はElasticsearchの dense_vector とkNN検索でLTMを保持します。
type VectorElastic struct {
	es    *elasticsearch.Client
	index string
}

var _ usecase.VectorStore = (*VectorElastic)(nil)

// ltmDocument はインデックスに保存する文書です。
type ltmDocument struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Embedding []float32      `json:"embedding,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Type      string         `json:"type"`
	UserID    string         `json:"user_id"`
	Metadata  map[string]any `json:"metadata"`
}

func toDocument(r entity.Record) ltmDocument {
	if r.Type == "" {
		r.Type = entity.LongTerm
	}
	return ltmDocument{
		ID:        r.ID,
		Content:   r.Content,
		Embedding: r.Embedding,
		Timestamp: r.Timestamp,
		Type:      string(r.Type),
		UserID:    r.UserID(),
		Metadata:  r.Metadata,
	}
}

func (d ltmDocument) record() entity.Record {
	return entity.Record{
		ID:        d.ID,
		Content:   d.Content,
		Embedding: d.Embedding,
		Timestamp: d.Timestamp,
		Type:      entity.MemoryType(d.Type),
		Metadata:  d.Metadata,
	}
}

// ltmMapping はLTMインデックスの定義です。metadata は検索対象にしないため動的マッピングを無効にします。
func ltmMapping(dims int) map[string]any {
	return map[string]any{
		"mappings": map[string]any{
			"properties": map[string]any{
				"id":        map[string]any{"type": "keyword"},
				"content":   map[string]any{"type": "text"},
				"timestamp": map[string]any{"type": "date"},
				"type":      map[string]any{"type": "keyword"},
				"user_id":   map[string]any{"type": "keyword"},
				"metadata":  map[string]any{"type": "object", "enabled": false},
				"embedding": map[string]any{
					"type":       "dense_vector",
					"dims":       dims,
					"index":      true,
					"similarity": "cosine",
				},
			},
		},
	}
}

// NewVectorElastic はインデックスを用意してストアを生成します。
func NewVectorElastic(ctx context.Context, es *elasticsearch.Client, index string, dims int) (*VectorElastic, error) {
	if err := elastic.EnsureIndex(ctx, es, index, ltmMapping(dims)); err != nil {
		return nil, err
	}
	return &VectorElastic{es: es, index: index}, nil
}

type searchHit struct {
	ID     string      `json:"_id"`
	Score  float64     `json:"_score"`
	Source ltmDocument `json:"_source"`
	Sort   []any       `json:"sort,omitempty"`
}

type searchResponse struct {
	Hits struct {
		Hits []searchHit `json:"hits"`
	} `json:"hits"`
}

func filterClauses(f entity.VectorFilter) []map[string]any {
	var clauses []map[string]any
	if f.UserID != "" {
		clauses = append(clauses, map[string]any{"term": map[string]any{"user_id": f.UserID}})
	}
	if f.Type != "" {
		clauses = append(clauses, map[string]any{"term": map[string]any{"type": string(f.Type)}})
	}
	return clauses
}

func filterQuery(f entity.VectorFilter) map[string]any {
	clauses := filterClauses(f)
	if len(clauses) == 0 {
		return map[string]any{"match_all": map[string]any{}}
	}
	return map[string]any{"bool": map[string]any{"filter": clauses}}
}

func encodeBody(v any) (*bytes.Reader, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(b), nil
}

func (v *VectorElastic) index1(ctx context.Context, r entity.Record) error {
	body, err := encodeBody(toDocument(r))
	if err != nil {
		return fmt.Errorf("failed to marshal LTM document: %w", err)
	}
	res, err := esapi.IndexRequest{Index: v.index, DocumentID: r.ID, Body: body, Refresh: "true"}.Do(ctx, v.es)
	if err != nil {
		return fmt.Errorf("index LTM %s: %w", r.ID, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("index LTM %s: %s", r.ID, elastic.ResponseError(res))
	}
	return nil
}

func (v *VectorElastic) Add(ctx context.Context, records ...entity.Record) error {
	for _, r := range records {
		if err := v.index1(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

// Search はkNN検索を行います。cosine の _score は (1+cos)/2 なので類似度に戻してから minScore と比べます。
func (v *VectorElastic) Search(ctx context.Context, vector []float32, limit int, minScore float64, filter entity.VectorFilter) ([]entity.Record, error) {
	if limit <= 0 {
		limit = 10
	}
	knn := map[string]any{
		"field":          "embedding",
		"query_vector":   vector,
		"k":              limit,
		"num_candidates": max(limit*10, 100),
	}
	if clauses := filterClauses(filter); len(clauses) > 0 {
		knn["filter"] = clauses
	}
	hits, err := v.search(ctx, map[string]any{"knn": knn, "size": limit})
	if err != nil {
		return nil, err
	}
	out := make([]entity.Record, 0, len(hits))
	for _, h := range hits {
		sim := 2*h.Score - 1
		if sim < minScore {
			continue
		}
		rec := h.Source.record()
		rec.Score = sim
		out = append(out, rec)
	}
	return out, nil
}

func (v *VectorElastic) search(ctx context.Context, query map[string]any) ([]searchHit, error) {
	body, err := encodeBody(query)
	if err != nil {
		return nil, err
	}
	res, err := esapi.SearchRequest{Index: []string{v.index}, Body: body}.Do(ctx, v.es)
	if err != nil {
		return nil, fmt.Errorf("search LTM: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("search LTM: %s", elastic.ResponseError(res))
	}
	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode LTM search: %w", err)
	}
	return parsed.Hits.Hits, nil
}

func (v *VectorElastic) Get(ctx context.Context, id string) (*entity.Record, error) {
	res, err := esapi.GetRequest{Index: v.index, DocumentID: id}.Do(ctx, v.es)
	if err != nil {
		return nil, fmt.Errorf("get LTM %s: %w", id, err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil, usecase.ErrRecordNotFound
	}
	if res.IsError() {
		return nil, fmt.Errorf("get LTM %s: %s", id, elastic.ResponseError(res))
	}
	var parsed struct {
		Found  bool        `json:"found"`
		Source ltmDocument `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode LTM %s: %w", id, err)
	}
	if !parsed.Found {
		return nil, usecase.ErrRecordNotFound
	}
	rec := parsed.Source.record()
	return &rec, nil
}

// Update は文書を置き換えます。Embedding が空なら保存済みのベクトルを引き継ぎます。
func (v *VectorElastic) Update(ctx context.Context, rec entity.Record) error {
	cur, err := v.Get(ctx, rec.ID)
	if err != nil {
		return err
	}
	if len(rec.Embedding) == 0 {
		rec.Embedding = cur.Embedding
	}
	if rec.Type == "" {
		rec.Type = cur.Type
	}
	return v.index1(ctx, rec)
}

func (v *VectorElastic) Delete(ctx context.Context, ids ...string) error {
	for _, id := range ids {
		res, err := esapi.DeleteRequest{Index: v.index, DocumentID: id, Refresh: "true"}.Do(ctx, v.es)
		if err != nil {
			return fmt.Errorf("delete LTM %s: %w", id, err)
		}
		res.Body.Close()
		if res.IsError() && res.StatusCode != http.StatusNotFound {
			return fmt.Errorf("delete LTM %s: %s", id, res.Status())
		}
	}
	return nil
}

func (v *VectorElastic) List(ctx context.Context, filter entity.VectorFilter, limit, offset int) ([]entity.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	hits, err := v.search(ctx, map[string]any{
		"query": filterQuery(filter),
		"sort":  []any{map[string]any{"timestamp": map[string]any{"order": "desc"}}},
		"from":  offset,
		"size":  limit,
	})
	if err != nil {
		return nil, err
	}
	out := make([]entity.Record, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.Source.record())
	}
	return out, nil
}

// scanSort は search_after のカーソルです。timestamp が同じ文書は id で順序を決めます。
var scanSort = []any{
	map[string]any{"timestamp": map[string]any{"order": "desc"}},
	map[string]any{"id": map[string]any{"order": "asc"}},
}

// Scan は search_after で全件を辿ります。from+size と違い index.max_result_window の制限を受けません。
func (v *VectorElastic) Scan(ctx context.Context, filter entity.VectorFilter, batch int, fn func([]entity.Record) error) error {
	if batch <= 0 {
		batch = 1000
	}
	var after []any
	for {
		query := map[string]any{
			"query":            filterQuery(filter),
			"sort":             scanSort,
			"size":             batch,
			"track_total_hits": false,
		}
		if after != nil {
			query["search_after"] = after
		}
		hits, err := v.search(ctx, query)
		if err != nil {
			return err
		}
		if len(hits) == 0 {
			return nil
		}
		recs := make([]entity.Record, 0, len(hits))
		for _, h := range hits {
			recs = append(recs, h.Source.record())
		}
		if err := fn(recs); err != nil {
			return err
		}
		if len(hits) < batch {
			return nil
		}
		after = hits[len(hits)-1].Sort
		if len(after) == 0 {
			return fmt.Errorf("scan LTM: hit %s has no sort values", hits[len(hits)-1].ID)
		}
	}
}

func (v *VectorElastic) Count(ctx context.Context, filter entity.VectorFilter) (int64, error) {
	body, err := encodeBody(map[string]any{"query": filterQuery(filter)})
	if err != nil {
		return 0, err
	}
	res, err := esapi.CountRequest{Index: []string{v.index}, Body: body}.Do(ctx, v.es)
	if err != nil {
		return 0, fmt.Errorf("count LTM: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, fmt.Errorf("count LTM: %s", elastic.ResponseError(res))
	}
	var parsed struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return 0, fmt.Errorf("decode LTM count: %w", err)
	}
	return parsed.Count, nil
}
