package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai_memory/internal/feature/alerts/domain/entity"
	"ai_memory/internal/feature/alerts/usecase"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// mockAlertUsecase is a mock implementation of the AlertUsecase interface.
type mockAlertUsecase struct {
	CheckFunc              func(ctx context.Context) ([]entity.Alert, error)
	CreateFunc             func(ctx context.Context, level, rule, message string, metadata map[string]any) (*entity.Alert, error)
	QueryFunc              func(ctx context.Context, q entity.Query) ([]entity.Alert, int64, error)
	DeleteFunc             func(ctx context.Context, id string) error
	ToggleRuleFunc         func(ctx context.Context, id string, enabled bool) error
	UpdateRuleCooldownFunc func(ctx context.Context, id string, cooldown time.Duration) error
	UpdateRuleConfigFunc   func(ctx context.Context, id string, raw json.RawMessage) error
	StatsFunc              func(ctx context.Context) (*entity.Stats, error)
	TrendFunc              func(ctx context.Context, hours int) (*entity.Trend, error)
	recent                 []entity.Alert
	aggregated             []entity.Aggregated
	rules                  []entity.RuleInfo
}

func (m *mockAlertUsecase) Check(ctx context.Context) ([]entity.Alert, error) {
	if m.CheckFunc != nil {
		return m.CheckFunc(ctx)
	}
	return nil, nil
}

func (m *mockAlertUsecase) Create(ctx context.Context, level, rule, message string, metadata map[string]any) (*entity.Alert, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, level, rule, message, metadata)
	}
	return &entity.Alert{ID: "manual_1"}, nil
}

func (m *mockAlertUsecase) Query(ctx context.Context, q entity.Query) ([]entity.Alert, int64, error) {
	if m.QueryFunc != nil {
		return m.QueryFunc(ctx, q)
	}
	return nil, 0, nil
}

func (m *mockAlertUsecase) Delete(ctx context.Context, id string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, id)
	}
	return nil
}

func (m *mockAlertUsecase) Recent(limit int) []entity.Alert {
	if limit < len(m.recent) {
		return m.recent[:limit]
	}
	return m.recent
}

func (m *mockAlertUsecase) Aggregated() []entity.Aggregated { return m.aggregated }
func (m *mockAlertUsecase) Rules() []entity.RuleInfo        { return m.rules }

func (m *mockAlertUsecase) ToggleRule(ctx context.Context, id string, enabled bool) error {
	if m.ToggleRuleFunc != nil {
		return m.ToggleRuleFunc(ctx, id, enabled)
	}
	return nil
}

func (m *mockAlertUsecase) UpdateRuleCooldown(ctx context.Context, id string, cooldown time.Duration) error {
	if m.UpdateRuleCooldownFunc != nil {
		return m.UpdateRuleCooldownFunc(ctx, id, cooldown)
	}
	return nil
}

func (m *mockAlertUsecase) UpdateRuleConfig(ctx context.Context, id string, raw json.RawMessage) error {
	if m.UpdateRuleConfigFunc != nil {
		return m.UpdateRuleConfigFunc(ctx, id, raw)
	}
	return nil
}

func (m *mockAlertUsecase) Stats(ctx context.Context) (*entity.Stats, error) {
	if m.StatsFunc != nil {
		return m.StatsFunc(ctx)
	}
	return &entity.Stats{}, nil
}

func (m *mockAlertUsecase) Trend(ctx context.Context, hours int) (*entity.Trend, error) {
	if m.TrendFunc != nil {
		return m.TrendFunc(ctx, hours)
	}
	return &entity.Trend{}, nil
}

func newRouter(h *AlertHandler) *gin.Engine {
	r := gin.New()
	r.GET("/alerts", h.List)
	r.POST("/alerts", h.Create)
	r.GET("/alerts/recent", h.Recent)
	r.GET("/alerts/stats", h.Stats)
	r.GET("/alerts/trend", h.Trend)
	r.GET("/alerts/aggregated", h.Aggregated)
	r.POST("/alerts/check", h.Check)
	r.DELETE("/alerts/:id", h.Delete)
	r.GET("/alerts/rules", h.Rules)
	r.PUT("/alerts/rules/:id/toggle", h.ToggleRule)
	r.PUT("/alerts/rules/:id/cooldown", h.UpdateCooldown)
	r.PUT("/alerts/rules/:id/config", h.UpdateConfig)
	return r
}

func doJSON(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf []byte
	if body != nil {
		buf, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(buf))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAlertHandler_List(t *testing.T) {
	t.Run("passes filters and paging", func(t *testing.T) {
		var got entity.Query
		uc := &mockAlertUsecase{
			QueryFunc: func(_ context.Context, q entity.Query) ([]entity.Alert, int64, error) {
				got = q
				return []entity.Alert{{ID: "a1", Level: entity.LevelError}}, 41, nil
			},
		}
		w := doJSON(newRouter(NewAlertHandler(uc)), http.MethodGet, "/alerts?level=error&rule=queue_backlog&page=3&limit=10", nil)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, entity.Query{Level: entity.LevelError, Rule: "queue_backlog", Limit: 10, Offset: 20}, got)
		var resp ListResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, int64(41), resp.Total)
		assert.Equal(t, 3, resp.Page)
		assert.Len(t, resp.Alerts, 1)
	})

	t.Run("empty result is an array", func(t *testing.T) {
		w := doJSON(newRouter(NewAlertHandler(&mockAlertUsecase{})), http.MethodGet, "/alerts", nil)

		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"alerts":[],"total":0,"page":1,"limit":20}`, w.Body.String())
	})

	t.Run("bad level", func(t *testing.T) {
		w := doJSON(newRouter(NewAlertHandler(&mockAlertUsecase{})), http.MethodGet, "/alerts?level=fatal", nil)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("bad page", func(t *testing.T) {
		w := doJSON(newRouter(NewAlertHandler(&mockAlertUsecase{})), http.MethodGet, "/alerts?page=x", nil)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestAlertHandler_Create(t *testing.T) {
	tests := []struct {
		name      string
		body      gin.H
		createErr error
		want      int
	}{
		{"success", gin.H{"level": "ERROR", "message": "disk full"}, nil, http.StatusCreated},
		{"missing message", gin.H{"level": "ERROR"}, nil, http.StatusBadRequest},
		{"invalid level", gin.H{"level": "x", "message": "m"}, usecase.ErrInvalidInput, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uc := &mockAlertUsecase{
				CreateFunc: func(_ context.Context, level, _, message string, _ map[string]any) (*entity.Alert, error) {
					if tt.createErr != nil {
						return nil, tt.createErr
					}
					return &entity.Alert{ID: "manual_42", Message: message}, nil
				},
			}
			w := doJSON(newRouter(NewAlertHandler(uc)), http.MethodPost, "/alerts", tt.body)

			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusCreated {
				assert.JSONEq(t, `{"status":"created","id":"manual_42"}`, w.Body.String())
			}
		})
	}
}

func TestAlertHandler_Delete(t *testing.T) {
	uc := &mockAlertUsecase{
		DeleteFunc: func(_ context.Context, id string) error {
			if id == "a1" {
				return nil
			}
			return usecase.ErrAlertNotFound
		},
	}
	r := newRouter(NewAlertHandler(uc))

	w := doJSON(r, http.MethodDelete, "/alerts/a1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"deleted","id":"a1"}`, w.Body.String())

	w = doJSON(r, http.MethodDelete, "/alerts/zz", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAlertHandler_Check(t *testing.T) {
	t.Run("returns fired alerts", func(t *testing.T) {
		uc := &mockAlertUsecase{CheckFunc: func(context.Context) ([]entity.Alert, error) {
			return []entity.Alert{{ID: "queue_backlog_1"}}, nil
		}}
		w := doJSON(newRouter(NewAlertHandler(uc)), http.MethodPost, "/alerts/check", nil)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "queue_backlog_1")
	})

	t.Run("nothing fired", func(t *testing.T) {
		w := doJSON(newRouter(NewAlertHandler(&mockAlertUsecase{})), http.MethodPost, "/alerts/check", nil)

		assert.JSONEq(t, `{"alerts":[]}`, w.Body.String())
	})

	t.Run("signal failure", func(t *testing.T) {
		uc := &mockAlertUsecase{CheckFunc: func(context.Context) ([]entity.Alert, error) { return nil, errors.New("redis down") }}
		w := doJSON(newRouter(NewAlertHandler(uc)), http.MethodPost, "/alerts/check", nil)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestAlertHandler_RuleUpdates(t *testing.T) {
	var (
		toggled  *bool
		cooldown time.Duration
		config   string
	)
	uc := &mockAlertUsecase{
		ToggleRuleFunc: func(_ context.Context, id string, enabled bool) error {
			if id == "nope" {
				return usecase.ErrRuleNotFound
			}
			toggled = &enabled
			return nil
		},
		UpdateRuleCooldownFunc: func(_ context.Context, _ string, d time.Duration) error {
			if d < 0 {
				return usecase.ErrInvalidInput
			}
			cooldown = d
			return nil
		},
		UpdateRuleConfigFunc: func(_ context.Context, _ string, raw json.RawMessage) error {
			if string(raw) == `{"bogus":1}` {
				return usecase.ErrInvalidConfig
			}
			config = string(raw)
			return nil
		},
	}
	r := newRouter(NewAlertHandler(uc))

	tests := []struct {
		name string
		path string
		body gin.H
		want int
	}{
		{"toggle off", "/alerts/rules/queue_backlog/toggle", gin.H{"enabled": false}, http.StatusOK},
		{"toggle missing field", "/alerts/rules/queue_backlog/toggle", gin.H{}, http.StatusBadRequest},
		{"toggle unknown rule", "/alerts/rules/nope/toggle", gin.H{"enabled": true}, http.StatusNotFound},
		{"cooldown", "/alerts/rules/queue_backlog/cooldown", gin.H{"cooldown_minutes": 2.5}, http.StatusOK},
		{"negative cooldown", "/alerts/rules/queue_backlog/cooldown", gin.H{"cooldown_minutes": -1}, http.StatusBadRequest},
		{"config", "/alerts/rules/queue_backlog/config", gin.H{"config_json": `{"threshold":5}`}, http.StatusOK},
		{"config not json", "/alerts/rules/queue_backlog/config", gin.H{"config_json": `{`}, http.StatusBadRequest},
		{"config unknown key", "/alerts/rules/queue_backlog/config", gin.H{"config_json": `{"bogus":1}`}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(r, http.MethodPut, tt.path, tt.body)

			assert.Equal(t, tt.want, w.Code)
		})
	}

	require.NotNil(t, toggled)
	assert.False(t, *toggled)
	assert.Equal(t, 150*time.Second, cooldown)
	assert.Equal(t, `{"threshold":5}`, config)
}

func TestAlertHandler_ReadEndpoints(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	var gotHours int
	uc := &mockAlertUsecase{
		recent:     []entity.Alert{{ID: "r1"}, {ID: "r2"}},
		aggregated: []entity.Aggregated{{Alert: entity.Alert{ID: "g1"}, Count: 3}},
		rules:      []entity.RuleInfo{{RuleConfig: entity.RuleConfig{ID: entity.RuleQueueBacklog}, CooldownSeconds: 600}},
		StatsFunc: func(context.Context) (*entity.Stats, error) {
			return &entity.Stats{TotalChecks: 9, ByLevel: map[entity.Level]int64{entity.LevelError: 1}}, nil
		},
		TrendFunc: func(_ context.Context, hours int) (*entity.Trend, error) {
			gotHours = hours
			return &entity.Trend{Timestamps: []time.Time{now}, Error: []int{1}, Warning: []int{0}, Info: []int{0}}, nil
		},
	}
	r := newRouter(NewAlertHandler(uc))

	w := doJSON(r, http.MethodGet, "/alerts/recent?limit=1", nil)
	assert.JSONEq(t, `{"alerts":[{"id":"r1","level":"","rule":"","message":"","timestamp":"0001-01-01T00:00:00Z","metadata":null}]}`, w.Body.String())

	w = doJSON(r, http.MethodGet, "/alerts/aggregated", nil)
	assert.Contains(t, w.Body.String(), `"count":3`)

	w = doJSON(r, http.MethodGet, "/alerts/rules", nil)
	assert.Contains(t, w.Body.String(), `"cooldown_seconds":600`)

	w = doJSON(r, http.MethodGet, "/alerts/stats", nil)
	assert.Contains(t, w.Body.String(), `"total_checks":9`)
	assert.Contains(t, w.Body.String(), `"by_level":{"ERROR":1}`)

	w = doJSON(r, http.MethodGet, "/alerts/trend", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 24, gotHours)
	assert.JSONEq(t, `{"timestamps":["2025-06-01T12:00:00Z"],"error":[1],"warning":[0],"info":[0]}`, w.Body.String())

	w = doJSON(r, http.MethodGet, "/alerts/trend?hours=6", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 6, gotHours)
}
