package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai_memory/internal/feature/memory/domain/entity"
	"ai_memory/internal/feature/memory/usecase"
)

func newAdminRouter(f FunnelTrigger, m MaintenanceTrigger) *gin.Engine {
	h := NewAdminHandler(f, m)
	r := gin.New()
	r.POST("/trigger-judge", h.TriggerJudge)
	r.POST("/trigger-promotion", h.TriggerPromotion)
	r.POST("/trigger-decay", h.TriggerDecay)
	r.POST("/trigger-dedup", h.TriggerDedup)
	r.POST("/trigger-snapshot", h.TriggerSnapshot)
	return r
}

func TestAdminHandler_TriggerJudge(t *testing.T) {
	tests := []struct {
		name   string
		body   gin.H
		queued bool
		err    error
		status int
	}{
		{"judged inline", gin.H{"user_id": "u1", "session_id": "s1"}, false, nil, http.StatusOK},
		{"queued", gin.H{"user_id": "u1", "session_id": "s1"}, true, nil, http.StatusAccepted},
		{"missing ids", gin.H{}, false, usecase.ErrInvalidInput, http.StatusBadRequest},
		{"publish failure", gin.H{"user_id": "u1", "session_id": "s1"}, false, errors.New("broker down"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &mockFunnel{TriggerJudgeFunc: func(_ context.Context, userID, sessionID string) (*entity.JudgeReport, bool, error) {
				if tt.err != nil {
					return nil, false, tt.err
				}
				if tt.queued {
					return nil, true, nil
				}
				return &entity.JudgeReport{UserID: userID, SessionID: sessionID, Judged: 3, Staged: 1}, false, nil
			}}
			w := doJSON(newAdminRouter(f, &mockMaintenance{}), http.MethodPost, "/trigger-judge", tt.body)

			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				assert.Contains(t, w.Body.String(), `"judged":3`)
				assert.Contains(t, w.Body.String(), "judged 3 records, staged 1")
			}
		})
	}
}

func TestAdminHandler_TriggerPromotion(t *testing.T) {
	f := &mockFunnel{PromoteFunc: func(context.Context) (*entity.PromoteReport, error) {
		return &entity.PromoteReport{Candidates: 3, Promoted: 2, AwaitingReview: 1}, nil
	}}
	w := doJSON(newAdminRouter(f, &mockMaintenance{}), http.MethodPost, "/trigger-promotion", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"success"`)
	assert.Contains(t, w.Body.String(), "promoted 2 of 3 candidates")
}

func TestAdminHandler_Maintenance(t *testing.T) {
	m := &mockMaintenance{
		DecayFunc: func(context.Context) (*entity.DecayReport, error) {
			return &entity.DecayReport{Scanned: 10, Updated: 8, Evicted: 2}, nil
		},
		DedupFunc: func(context.Context) (*entity.DedupReport, error) {
			return nil, errors.New("vector store down")
		},
	}
	r := newAdminRouter(&mockFunnel{}, m)

	w := doJSON(r, http.MethodPost, "/trigger-decay", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"evicted":2`)

	w = doJSON(r, http.MethodPost, "/trigger-dedup", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"vector store down"}`, w.Body.String())
}

func TestAdminHandler_TriggerSnapshot(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		w := doJSON(newAdminRouter(&mockFunnel{}, &mockMaintenance{}), http.MethodPost, "/trigger-snapshot", nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("uploaded", func(t *testing.T) {
		m := &mockMaintenance{SnapshotFunc: func(context.Context) (string, error) {
			return "gs://bucket/ltm/2025-06-01T120000Z.json", nil
		}}
		w := doJSON(newAdminRouter(&mockFunnel{}, m), http.MethodPost, "/trigger-snapshot", nil)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "gs://bucket/ltm/2025-06-01T120000Z.json")
	})
}
