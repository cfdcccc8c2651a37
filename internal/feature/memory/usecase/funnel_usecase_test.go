package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai_memory/internal/feature/memory/domain/entity"
)

var funnelConfig = Config{
	STMExpiration:         time.Hour,
	JudgeBatchSize:        2,
	JudgeMinMessages:      3,
	JudgeMaxWait:          10 * time.Minute,
	StagingMinOccurrences: 2,
	StagingMinWait:        time.Hour,
	StagingValueThreshold: 0.6,
	ConfidenceHigh:        0.8,
	ConfidenceLow:         0.5,
}

type funnelFixture struct {
	stm     *fakeSTM
	staging *fakeStaging
	vectors *fakeVectors
	judge   *mockJudge
	emb     *mapEmbedder
	metrics *recordingMetrics
	cache   mapCache
	uc      *FunnelUsecase
}

func newFunnelFixture(cfg Config) *funnelFixture {
	f := &funnelFixture{
		stm:     newFakeSTM(),
		staging: newFakeStaging(testNow),
		vectors: &fakeVectors{},
		judge:   &mockJudge{},
		emb:     &mapEmbedder{},
		metrics: &recordingMetrics{},
		cache:   mapCache{},
	}
	f.uc = NewFunnelUsecase(Stores{STM: f.stm, Staging: f.staging, Vectors: f.vectors}, f.judge, f.emb, f.cache, f.metrics, cfg)
	f.uc.now = func() time.Time { return testNow }
	return f
}

func (f *funnelFixture) seed(user, session string, age time.Duration, contents ...string) {
	for i, c := range contents {
		_ = f.stm.Append(context.Background(), user, session, entity.Record{
			ID:        fmt.Sprintf("%s-%s-%d", user, session, i),
			Content:   c,
			Timestamp: testNow.Add(-age),
		}, time.Hour)
	}
}

func TestFunnelUsecase_JudgeAndStage_Trigger(t *testing.T) {
	tests := []struct {
		name      string
		count     int
		age       time.Duration
		triggered bool
	}{
		{"below min messages and recent", 2, time.Minute, false},
		{"min messages reached", 3, time.Minute, true},
		{"oldest record waited too long", 1, 15 * time.Minute, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFunnelFixture(funnelConfig)
			contents := make([]string, tt.count)
			for i := range contents {
				contents[i] = fmt.Sprintf("c%d", i)
			}
			f.seed("alice", "s1", tt.age, contents...)

			rep, err := f.uc.JudgeAndStage(context.Background(), "alice", "s1")
			require.NoError(t, err)
			assert.Equal(t, tt.count, rep.Pending)
			assert.Equal(t, tt.triggered, rep.Triggered)
			if !tt.triggered {
				assert.Zero(t, f.judge.batchCalls)
			}
		})
	}
}

func TestFunnelUsecase_JudgeAndStage_StagesValuableRecords(t *testing.T) {
	f := newFunnelFixture(funnelConfig)
	f.seed("alice", "s1", time.Minute, "c1", "c2", "c3")
	f.judge.JudgeBatchFunc = func(_ context.Context, contents []string) ([]entity.JudgeResult, error) {
		out := make([]entity.JudgeResult, len(contents))
		for i, c := range contents {
			switch c {
			case "c1":
				out[i] = entity.JudgeResult{ValueScore: 0.9, ConfidenceScore: 0.9, Category: entity.CategoryPreference, ShouldStage: true}
			case "c2":
				out[i] = entity.JudgeResult{ValueScore: 0.9, Category: entity.CategoryNoise, ShouldStage: false}
			default:
				out[i] = entity.JudgeResult{ValueScore: 0.4, Category: entity.CategoryFact, ShouldStage: true}
			}
		}
		return out, nil
	}
	f.judge.SummarizeFunc = func(_ context.Context, content string, _ entity.Category) (string, error) {
		return "summary:" + content, nil
	}

	rep, err := f.uc.JudgeAndStage(context.Background(), "alice", "s1")
	require.NoError(t, err)

	assert.True(t, rep.Triggered)
	assert.Equal(t, 3, rep.Judged)
	assert.Equal(t, 1, rep.Staged)
	assert.Equal(t, 2, f.judge.batchCalls)

	require.Contains(t, f.staging.entries, "summary:c1")
	e := f.staging.entries["summary:c1"]
	assert.Equal(t, "alice", e.UserID)
	assert.Equal(t, entity.CategoryPreference, e.Category)
	assert.Equal(t, []string{"s1"}, e.SessionIDs)
	assert.Len(t, f.staging.entries, 1)

	left, _ := f.stm.Range(context.Background(), "alice", "s1")
	assert.Empty(t, left)
	judged, _ := f.stm.Judged(context.Background(), "alice", "s1")
	assert.Len(t, judged, 3)
	assert.Equal(t, 3, f.metrics.misses)
}

func TestFunnelUsecase_JudgeAndStage_SessionLock(t *testing.T) {
	t.Run("held by another runner", func(t *testing.T) {
		f := newFunnelFixture(funnelConfig)
		locker := newFakeLocker()
		f.uc.SetLocker(locker)
		f.seed("alice", "s1", time.Minute, "c1", "c2", "c3")
		locker.held["alice\x00s1"] = true

		rep, err := f.uc.JudgeAndStage(context.Background(), "alice", "s1")
		require.NoError(t, err)
		assert.True(t, rep.Locked)
		assert.False(t, rep.Triggered)
		assert.Zero(t, f.judge.batchCalls)
		left, _ := f.stm.Range(context.Background(), "alice", "s1")
		assert.Len(t, left, 3)
	})

	t.Run("overlapping run does not count twice", func(t *testing.T) {
		f := newFunnelFixture(funnelConfig)
		locker := newFakeLocker()
		f.uc.SetLocker(locker)
		f.seed("alice", "s1", time.Minute, "likes coffee", "c2", "c3")

		var nested *entity.JudgeReport
		f.judge.JudgeBatchFunc = func(ctx context.Context, contents []string) ([]entity.JudgeResult, error) {
			if nested == nil {
				// 判定中にcronのSweepが同じセッションに到達した
				rep, err := f.uc.JudgeAndStage(ctx, "alice", "s1")
				require.NoError(t, err)
				nested = rep
			}
			out := make([]entity.JudgeResult, len(contents))
			for i := range out {
				out[i] = entity.JudgeResult{ValueScore: 0.9, ConfidenceScore: 0.9, Category: entity.CategoryFact, ShouldStage: true}
			}
			return out, nil
		}

		rep, err := f.uc.JudgeAndStage(context.Background(), "alice", "s1")
		require.NoError(t, err)
		require.NotNil(t, nested)
		assert.True(t, nested.Locked)
		assert.Equal(t, 3, rep.Judged)
		assert.Equal(t, 2, f.judge.batchCalls, "only the outer run judges")
		require.Contains(t, f.staging.entries, "likes coffee")
		assert.Equal(t, 1, f.staging.entries["likes coffee"].OccurrenceCount)

		assert.Empty(t, locker.held, "lock is released")
		assert.Equal(t, []time.Duration{judgeLockTTL}, locker.ttls)
	})

	t.Run("lock store error", func(t *testing.T) {
		f := newFunnelFixture(funnelConfig)
		locker := newFakeLocker()
		locker.err = errors.New("redis down")
		f.uc.SetLocker(locker)
		f.seed("alice", "s1", time.Minute, "c1", "c2", "c3")

		_, err := f.uc.JudgeAndStage(context.Background(), "alice", "s1")
		assert.Error(t, err)
		assert.Zero(t, f.judge.batchCalls)
	})
}

func TestFunnelUsecase_JudgeAndStage_UsesCache(t *testing.T) {
	f := newFunnelFixture(funnelConfig)
	f.seed("alice", "s1", time.Minute, "cached", "fresh", "fresh2")
	f.cache["cached"] = entity.JudgeResult{ValueScore: 0.1, ShouldStage: false}
	var sent []string
	f.judge.JudgeBatchFunc = func(_ context.Context, contents []string) ([]entity.JudgeResult, error) {
		sent = append(sent, contents...)
		return make([]entity.JudgeResult, len(contents)), nil
	}

	rep, err := f.uc.JudgeAndStage(context.Background(), "alice", "s1")
	require.NoError(t, err)

	assert.Equal(t, []string{"fresh", "fresh2"}, sent)
	assert.Equal(t, 1, rep.CacheHits)
	assert.Equal(t, 1, f.metrics.hits)
	assert.Equal(t, 2, f.metrics.misses)
	assert.Contains(t, f.cache, "fresh")
}

func TestFunnelUsecase_JudgeAndStage_FailedBatchStaysInSTM(t *testing.T) {
	f := newFunnelFixture(funnelConfig)
	f.seed("alice", "s1", time.Minute, "c1", "c2", "c3")
	f.judge.JudgeBatchFunc = func(_ context.Context, contents []string) ([]entity.JudgeResult, error) {
		if contents[0] == "c1" {
			return nil, errors.New("model overloaded")
		}
		return make([]entity.JudgeResult, len(contents)), nil
	}

	rep, err := f.uc.JudgeAndStage(context.Background(), "alice", "s1")
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Judged)
	left, _ := f.stm.Range(context.Background(), "alice", "s1")
	require.Len(t, left, 2)
	assert.Equal(t, "c1", left[0].Content)
}

func TestFunnelUsecase_JudgeAndStage_SkipsJudgedAndFallsBackOnSummaryError(t *testing.T) {
	f := newFunnelFixture(funnelConfig)
	f.seed("alice", "s1", time.Minute, "old", "c1", "c2", "c3")
	require.NoError(t, f.stm.MarkJudged(context.Background(), "alice", "s1", time.Hour, "alice-s1-0"))
	f.judge.SummarizeFunc = func(context.Context, string, entity.Category) (string, error) {
		return "", errors.New("timeout")
	}

	rep, err := f.uc.JudgeAndStage(context.Background(), "alice", "s1")
	require.NoError(t, err)

	assert.Equal(t, 3, rep.Pending)
	assert.Equal(t, 3, rep.Staged)
	assert.Contains(t, f.staging.entries, "c1")
	assert.NotContains(t, f.staging.entries, "old")
}

func TestFunnelUsecase_TriggerJudge(t *testing.T) {
	t.Run("queues job when publisher configured", func(t *testing.T) {
		f := newFunnelFixture(funnelConfig)
		pub := &fakePublisher{}
		f.uc.SetPublisher(pub)

		rep, queued, err := f.uc.TriggerJudge(context.Background(), "alice", "s1")
		require.NoError(t, err)
		assert.True(t, queued)
		assert.Nil(t, rep)
		assert.Equal(t, []any{entity.JudgeJob{UserID: "alice", SessionID: "s1"}}, pub.published)
	})

	t.Run("runs inline without publisher", func(t *testing.T) {
		f := newFunnelFixture(funnelConfig)
		f.seed("alice", "s1", time.Minute, "c1", "c2", "c3")

		rep, queued, err := f.uc.TriggerJudge(context.Background(), "alice", "s1")
		require.NoError(t, err)
		assert.False(t, queued)
		assert.Equal(t, 3, rep.Judged)
	})

	t.Run("requires ids", func(t *testing.T) {
		f := newFunnelFixture(funnelConfig)
		_, _, err := f.uc.TriggerJudge(context.Background(), "alice", "")
		assert.ErrorIs(t, err, ErrInvalidInput)
	})
}

func TestFunnelUsecase_Sweep(t *testing.T) {
	f := newFunnelFixture(funnelConfig)
	f.seed("alice", "s1", time.Minute, "a1", "a2", "a3")
	f.seed("bob", "s2", time.Minute, "b1", "b2", "b3")
	f.seed("carol", "s3", time.Minute, "c1")

	n, err := f.uc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	left, _ := f.stm.Range(context.Background(), "carol", "s3")
	assert.Len(t, left, 1)
}

func stagingEntry(id, user string, conf float64, occ int, age time.Duration, vec []float32) *entity.StagingEntry {
	return &entity.StagingEntry{
		ID: id, Content: id, UserID: user, Embedding: vec,
		ConfidenceScore: conf, OccurrenceCount: occ, Category: entity.CategoryFact,
		FirstSeenAt: testNow.Add(-age), LastSeenAt: testNow.Add(-time.Minute),
		ExtractedTags: []string{"staged"},
	}
}

func TestFunnelUsecase_Promote(t *testing.T) {
	f := newFunnelFixture(funnelConfig)
	f.staging.put(stagingEntry("high", "alice", 0.9, 2, 2*time.Hour, []float32{1, 0}))
	f.staging.put(stagingEntry("medium", "alice", 0.6, 3, 2*time.Hour, nil))
	f.staging.put(stagingEntry("low", "alice", 0.2, 2, 2*time.Hour, nil))
	f.staging.put(stagingEntry("young", "alice", 0.9, 5, time.Minute, nil))
	f.staging.put(stagingEntry("rare", "alice", 0.9, 1, 2*time.Hour, nil))

	rep, err := f.uc.Promote(context.Background())
	require.NoError(t, err)

	assert.Equal(t, entity.PromoteReport{Candidates: 3, Promoted: 1, AwaitingReview: 1, Rejected: 1}, *rep)
	require.Len(t, f.vectors.records, 1)
	ltm := f.vectors.records[0]
	assert.Equal(t, "high", ltm.Content)
	assert.Equal(t, entity.LongTerm, ltm.Type)
	assert.Equal(t, "alice", ltm.UserID())
	assert.Equal(t, entity.ConfirmedByAuto, ltm.Metadata[entity.MetaConfirmedBy])
	assert.Equal(t, "staging", ltm.Metadata[entity.MetaSourceType])
	assert.Equal(t, "fact", ltm.Metadata[entity.MetaCategory])
	assert.Equal(t, 0.9, ltm.Metadata[entity.MetaConfidenceOrigin])
	assert.Equal(t, []string{"tag"}, ltm.Metadata[entity.MetaTags])

	assert.NotContains(t, f.staging.entries, "high")
	assert.NotContains(t, f.staging.entries, "low")
	assert.Contains(t, f.staging.entries, "medium")
	assert.Equal(t, 1, f.metrics.promoted)
	assert.Equal(t, 1, f.metrics.rejected)
	assert.Equal(t, 3, f.metrics.queue)
}

func TestFunnelUsecase_Promote_MergeStrategies(t *testing.T) {
	existing := func() entity.Record {
		return ltmRecord("l1", "alice", "likes green tea", testNow.Add(-24*time.Hour), []float32{1, 0}, map[string]any{entity.MetaAccessCount: 1, entity.MetaDecayScore: 0.4})
	}

	tests := []struct {
		name     string
		owner    string
		strategy entity.MergeStrategy
		check    func(t *testing.T, f *funnelFixture)
	}{
		{"update existing bumps access", "alice", entity.MergeUpdateExisting, func(t *testing.T, f *funnelFixture) {
			require.Len(t, f.vectors.records, 1)
			r := f.vectors.records[0]
			assert.Equal(t, "likes green tea", r.Content)
			assert.Equal(t, 2, r.Metadata[entity.MetaAccessCount])
			assert.Equal(t, 1.0, r.Metadata[entity.MetaDecayScore])
		}},
		{"merge rewrites content", "alice", entity.MergeMerge, func(t *testing.T, f *funnelFixture) {
			require.Len(t, f.vectors.records, 1)
			r := f.vectors.records[0]
			assert.Equal(t, "merged text", r.Content)
			assert.Equal(t, []float32{0.6, 0.8}, r.Embedding)
		}},
		{"keep newer replaces existing", "alice", entity.MergeKeepNewer, func(t *testing.T, f *funnelFixture) {
			require.Len(t, f.vectors.records, 1)
			assert.NotEqual(t, "l1", f.vectors.records[0].ID)
			assert.Equal(t, "high", f.vectors.records[0].Content)
		}},
		{"keep both adds record", "alice", entity.MergeKeepBoth, func(t *testing.T, f *funnelFixture) {
			assert.Len(t, f.vectors.records, 2)
		}},
		{"other user's memory is never merged", "bob", entity.MergeUpdateExisting, func(t *testing.T, f *funnelFixture) {
			assert.Len(t, f.vectors.records, 2)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFunnelFixture(funnelConfig)
			rec := existing()
			rec.Metadata[entity.MetaUserID] = tt.owner
			f.vectors.records = []entity.Record{rec}
			f.emb.vectors = map[string][]float32{"merged text": {0.6, 0.8}}
			f.judge.DecideMergeFunc = func(_ context.Context, ex, in string) (entity.MergeStrategy, string, error) {
				assert.Equal(t, "likes green tea", ex)
				assert.Equal(t, "high", in)
				return tt.strategy, "merged text", nil
			}
			f.staging.put(stagingEntry("high", "alice", 0.9, 2, 2*time.Hour, []float32{1, 0}))

			rep, err := f.uc.Promote(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 1, rep.Promoted)
			assert.Empty(t, f.staging.entries)
			tt.check(t, f)
		})
	}
}

func TestFunnelUsecase_ConfirmAndReject(t *testing.T) {
	t.Run("confirm promotes as user confirmed", func(t *testing.T) {
		f := newFunnelFixture(funnelConfig)
		f.staging.put(stagingEntry("medium", "alice", 0.6, 1, 0, nil))

		require.NoError(t, f.uc.ConfirmStaging(context.Background(), "medium"))
		require.Len(t, f.vectors.records, 1)
		assert.Equal(t, entity.ConfirmedByUser, f.vectors.records[0].Metadata[entity.MetaConfirmedBy])
		assert.Empty(t, f.staging.entries)
	})

	t.Run("confirm unknown or non-pending entry", func(t *testing.T) {
		f := newFunnelFixture(funnelConfig)
		done := stagingEntry("done", "alice", 0.6, 1, 0, nil)
		done.Status = entity.StagingConfirmed
		f.staging.put(done)

		assert.ErrorIs(t, f.uc.ConfirmStaging(context.Background(), "missing"), ErrStagingNotFound)
		assert.ErrorIs(t, f.uc.ConfirmStaging(context.Background(), "done"), ErrStagingNotFound)
	})

	t.Run("confirm fails when embedding fails", func(t *testing.T) {
		f := newFunnelFixture(funnelConfig)
		f.emb.err = errors.New("quota")
		f.staging.put(stagingEntry("medium", "alice", 0.6, 1, 0, nil))

		assert.Error(t, f.uc.ConfirmStaging(context.Background(), "medium"))
		assert.Contains(t, f.staging.entries, "medium")
	})

	t.Run("reject deletes entry", func(t *testing.T) {
		f := newFunnelFixture(funnelConfig)
		f.staging.put(stagingEntry("medium", "alice", 0.6, 1, 0, nil))

		require.NoError(t, f.uc.RejectStaging(context.Background(), "medium"))
		assert.Empty(t, f.staging.entries)
		assert.Empty(t, f.vectors.records)
		assert.ErrorIs(t, f.uc.RejectStaging(context.Background(), "medium"), ErrStagingNotFound)
	})
}

func TestFunnelUsecase_StagingEntries(t *testing.T) {
	f := newFunnelFixture(funnelConfig)
	f.staging.put(stagingEntry("a", "alice", 0.9, 1, 0, []float32{1, 0}))
	f.staging.put(stagingEntry("b", "bob", 0.9, 1, 0, nil))

	got, err := f.uc.StagingEntries(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)
	assert.Nil(t, got[0].Embedding)

	all, err := f.uc.StagingEntries(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestFunnelUsecase_StagingStats(t *testing.T) {
	f := newFunnelFixture(funnelConfig)
	f.staging.put(stagingEntry("h1", "alice", 0.95, 3, 2*time.Hour, nil))
	f.staging.put(stagingEntry("h2", "alice", 0.8, 1, 2*time.Hour, nil))
	f.staging.put(stagingEntry("m1", "alice", 0.5, 2, 30*time.Minute, nil))
	f.staging.put(stagingEntry("l1", "bob", 0.1, 2, 3*time.Hour, nil))

	st, err := f.uc.StagingStats(context.Background())
	require.NoError(t, err)

	assert.Equal(t, entity.StagingStats{
		TotalPending:      4,
		HighConfidence:    2,
		MediumConfidence:  1,
		LowConfidence:     1,
		AwaitingPromotion: 2,
	}, *st)
	assert.Equal(t, 4, f.metrics.queue)
}
