package usecase

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"ai_memory/internal/feature/memory/domain/entity"
)

// fakeSTM is an in-memory STMStore.
type fakeSTM struct {
	mu      sync.Mutex
	lists   map[entity.SessionRef][]entity.Record
	judged  map[entity.SessionRef]map[string]bool
	pingErr error
}

func newFakeSTM() *fakeSTM {
	return &fakeSTM{lists: map[entity.SessionRef][]entity.Record{}, judged: map[entity.SessionRef]map[string]bool{}}
}

func ref(u, s string) entity.SessionRef { return entity.SessionRef{UserID: u, SessionID: s} }

func (f *fakeSTM) Append(_ context.Context, u, s string, rec entity.Record, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists[ref(u, s)] = append(f.lists[ref(u, s)], rec)
	return nil
}

func (f *fakeSTM) Range(_ context.Context, u, s string) ([]entity.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]entity.Record(nil), f.lists[ref(u, s)]...), nil
}

func (f *fakeSTM) Remove(_ context.Context, u, s string, ids ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	drop := map[string]bool{}
	for _, id := range ids {
		drop[id] = true
	}
	var kept []entity.Record
	for _, r := range f.lists[ref(u, s)] {
		if !drop[r.ID] {
			kept = append(kept, r)
		}
	}
	f.lists[ref(u, s)] = kept
	return nil
}

func (f *fakeSTM) Clear(_ context.Context, u, s string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.lists, ref(u, s))
	return nil
}

func (f *fakeSTM) Sessions(_ context.Context, userID string) ([]entity.SessionRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []entity.SessionRef
	for k, v := range f.lists {
		if len(v) > 0 && (userID == "" || k.UserID == userID) {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out, nil
}

func (f *fakeSTM) Get(_ context.Context, id string) (*entity.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.lists {
		for _, r := range l {
			if r.ID == id {
				r := r
				return &r, nil
			}
		}
	}
	return nil, ErrRecordNotFound
}

func (f *fakeSTM) Update(_ context.Context, rec entity.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, l := range f.lists {
		for i := range l {
			if l[i].ID == rec.ID {
				f.lists[k][i] = rec
				return nil
			}
		}
	}
	return ErrRecordNotFound
}

func (f *fakeSTM) MarkJudged(_ context.Context, u, s string, _ time.Duration, ids ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.judged[ref(u, s)] == nil {
		f.judged[ref(u, s)] = map[string]bool{}
	}
	for _, id := range ids {
		f.judged[ref(u, s)][id] = true
	}
	return nil
}

func (f *fakeSTM) Judged(_ context.Context, u, s string) (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]bool{}
	for id := range f.judged[ref(u, s)] {
		out[id] = true
	}
	return out, nil
}

func (f *fakeSTM) Ping(context.Context) error { return f.pingErr }

func (f *fakeSTM) Reset(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.lists) + len(f.judged)
	f.lists = map[entity.SessionRef][]entity.Record{}
	f.judged = map[entity.SessionRef]map[string]bool{}
	return n, nil
}

// fakeStaging is an in-memory StagingStore keyed by content.
type fakeStaging struct {
	entries map[string]*entity.StagingEntry
	now     time.Time
}

func newFakeStaging(now time.Time) *fakeStaging {
	return &fakeStaging{entries: map[string]*entity.StagingEntry{}, now: now}
}

func (f *fakeStaging) AddOrIncrement(_ context.Context, u, s, content string, emb []float32, jr entity.JudgeResult) (*entity.StagingEntry, error) {
	if e, ok := f.entries[content]; ok {
		e.Apply(jr, s, f.now)
		return e, nil
	}
	e := &entity.StagingEntry{
		ID: content, Content: content, Embedding: emb, UserID: u,
		FirstSeenAt: f.now, LastSeenAt: f.now, Status: entity.StagingPending,
	}
	e.Apply(jr, s, f.now)
	e.OccurrenceCount = 1
	f.entries[content] = e
	return e, nil
}

func (f *fakeStaging) put(e *entity.StagingEntry) {
	if e.Status == "" {
		e.Status = entity.StagingPending
	}
	f.entries[e.ID] = e
}

func (f *fakeStaging) Pending(_ context.Context, minOcc int, minWait time.Duration) ([]*entity.StagingEntry, error) {
	var out []*entity.StagingEntry
	for _, e := range f.entries {
		if e.Status == entity.StagingPending && e.OccurrenceCount >= minOcc && f.now.Sub(e.FirstSeenAt) >= minWait {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStaging) ByUser(_ context.Context, u string) ([]*entity.StagingEntry, error) {
	var out []*entity.StagingEntry
	for _, e := range f.entries {
		if e.UserID == u {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStaging) Get(_ context.Context, id string) (*entity.StagingEntry, error) {
	if e, ok := f.entries[id]; ok {
		return e, nil
	}
	return nil, ErrStagingNotFound
}

func (f *fakeStaging) Delete(_ context.Context, id string) error {
	delete(f.entries, id)
	return nil
}

func (f *fakeStaging) Reset(context.Context) (int, error) {
	n := len(f.entries)
	f.entries = map[string]*entity.StagingEntry{}
	return n, nil
}

// fakeVectors is an in-memory VectorStore using cosine similarity.
type fakeVectors struct {
	records   []entity.Record
	searchErr   error
	listErr     error
	scanBatches []int
}

func (f *fakeVectors) Add(_ context.Context, recs ...entity.Record) error {
	f.records = append(f.records, recs...)
	return nil
}

func (f *fakeVectors) Search(_ context.Context, v []float32, limit int, minScore float64, filter entity.VectorFilter) ([]entity.Record, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	var out []entity.Record
	for _, r := range f.records {
		if filter.UserID != "" && r.UserID() != filter.UserID {
			continue
		}
		score := entity.CosineSimilarity(v, r.Embedding)
		if score >= minScore {
			r.Score = score
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeVectors) Get(_ context.Context, id string) (*entity.Record, error) {
	for _, r := range f.records {
		if r.ID == id {
			r := r
			return &r, nil
		}
	}
	return nil, ErrRecordNotFound
}

func (f *fakeVectors) Update(_ context.Context, rec entity.Record) error {
	for i := range f.records {
		if f.records[i].ID == rec.ID {
			if len(rec.Embedding) == 0 {
				rec.Embedding = f.records[i].Embedding
			}
			f.records[i] = rec
			return nil
		}
	}
	return ErrRecordNotFound
}

func (f *fakeVectors) Delete(_ context.Context, ids ...string) error {
	drop := map[string]bool{}
	for _, id := range ids {
		drop[id] = true
	}
	var kept []entity.Record
	for _, r := range f.records {
		if !drop[r.ID] {
			kept = append(kept, r)
		}
	}
	f.records = kept
	return nil
}

func (f *fakeVectors) List(_ context.Context, filter entity.VectorFilter, limit, offset int) ([]entity.Record, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []entity.Record
	for _, r := range f.records {
		if filter.UserID == "" || r.UserID() == filter.UserID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeVectors) Scan(ctx context.Context, filter entity.VectorFilter, batch int, fn func([]entity.Record) error) error {
	all, err := f.List(ctx, filter, 0, 0)
	if err != nil {
		return err
	}
	f.scanBatches = append(f.scanBatches, batch)
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

func (f *fakeVectors) Count(ctx context.Context, filter entity.VectorFilter) (int64, error) {
	recs, err := f.List(ctx, filter, 0, 0)
	return int64(len(recs)), err
}

func (f *fakeVectors) byID(id string) *entity.Record {
	for i := range f.records {
		if f.records[i].ID == id {
			return &f.records[i]
		}
	}
	return nil
}

// mockJudge is a mock implementation of the Judge interface.
type mockJudge struct {
	JudgeBatchFunc  func(ctx context.Context, contents []string) ([]entity.JudgeResult, error)
	SummarizeFunc   func(ctx context.Context, content string, category entity.Category) (string, error)
	ExtractTagsFunc func(ctx context.Context, content string, category entity.Category) ([]string, map[string]string, error)
	DecideMergeFunc func(ctx context.Context, existing, incoming string) (entity.MergeStrategy, string, error)
	batchCalls      int
}

func (m *mockJudge) JudgeBatch(ctx context.Context, contents []string) ([]entity.JudgeResult, error) {
	m.batchCalls++
	if m.JudgeBatchFunc != nil {
		return m.JudgeBatchFunc(ctx, contents)
	}
	out := make([]entity.JudgeResult, len(contents))
	for i := range out {
		out[i] = entity.JudgeResult{ValueScore: 0.9, ConfidenceScore: 0.9, Category: entity.CategoryFact, ShouldStage: true}
	}
	return out, nil
}

func (m *mockJudge) Summarize(ctx context.Context, content string, category entity.Category) (string, error) {
	if m.SummarizeFunc != nil {
		return m.SummarizeFunc(ctx, content, category)
	}
	return content, nil
}

func (m *mockJudge) ExtractTags(ctx context.Context, content string, category entity.Category) ([]string, map[string]string, error) {
	if m.ExtractTagsFunc != nil {
		return m.ExtractTagsFunc(ctx, content, category)
	}
	return []string{"tag"}, map[string]string{}, nil
}

func (m *mockJudge) DecideMergeStrategy(ctx context.Context, existing, incoming string) (entity.MergeStrategy, string, error) {
	if m.DecideMergeFunc != nil {
		return m.DecideMergeFunc(ctx, existing, incoming)
	}
	return entity.MergeKeepBoth, "", nil
}

// mapEmbedder returns a fixed vector per text and [1, 0] otherwise.
type mapEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (e *mapEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	if v, ok := e.vectors[text]; ok {
		return v, nil
	}
	return []float32{1, 0}, nil
}

type mapCache map[string]entity.JudgeResult

func (c mapCache) Get(_ context.Context, content string) (*entity.JudgeResult, bool) {
	jr, ok := c[content]
	if !ok {
		return nil, false
	}
	return &jr, true
}

func (c mapCache) Set(_ context.Context, content string, jr entity.JudgeResult) { c[content] = jr }

// recordingMetrics counts calls made through MetricsRecorder.
type recordingMetrics struct {
	promoted, rejected int
	forgotten          int
	hits, misses       int
	queue              int
}

func (m *recordingMetrics) RecordPromotion(_ string, success bool) {
	if success {
		m.promoted++
	} else {
		m.rejected++
	}
}
func (m *recordingMetrics) RecordForgotten(n int) { m.forgotten += n }
func (m *recordingMetrics) RecordCacheLookup(hit bool) {
	if hit {
		m.hits++
	} else {
		m.misses++
	}
}
func (m *recordingMetrics) RecordQueueLength(n int) { m.queue = n }

type fakeUploader struct {
	object, contentType string
	body                []byte
	err                 error
}

func (u *fakeUploader) Upload(_ context.Context, object, contentType string, r io.Reader) (string, error) {
	if u.err != nil {
		return "", u.err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return "", err
	}
	u.object, u.contentType, u.body = object, contentType, buf.Bytes()
	return "gs://bucket/" + object, nil
}

type fakePublisher struct {
	published []any
	err       error
}

func (p *fakePublisher) PublishJSON(_ context.Context, body any) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, body)
	return nil
}

// fakeLocker はプロセス内のセッションロックです。
type fakeLocker struct {
	held map[string]bool
	ttls []time.Duration
	err  error
}

func newFakeLocker() *fakeLocker { return &fakeLocker{held: map[string]bool{}} }

func (l *fakeLocker) TryLock(_ context.Context, u, s string, ttl time.Duration) (func(), bool, error) {
	if l.err != nil {
		return nil, false, l.err
	}
	key := u + "\x00" + s
	if l.held[key] {
		return nil, false, nil
	}
	l.held[key] = true
	l.ttls = append(l.ttls, ttl)
	return func() { delete(l.held, key) }, true, nil
}

type fakeUsers struct {
	upserts []string
	list    []entity.EndUser
	err     error
}

func (f *fakeUsers) Upsert(_ context.Context, id string, _ time.Time) error {
	f.upserts = append(f.upserts, id)
	return f.err
}

func (f *fakeUsers) List(context.Context) ([]entity.EndUser, error) {
	return append([]entity.EndUser(nil), f.list...), f.err
}

func ltmRecord(id, user, content string, ts time.Time, vec []float32, meta map[string]any) entity.Record {
	m := map[string]any{entity.MetaUserID: user}
	for k, v := range meta {
		m[k] = v
	}
	return entity.Record{ID: id, Content: content, Embedding: vec, Timestamp: ts, Type: entity.LongTerm, Metadata: m}
}
