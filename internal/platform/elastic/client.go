// Package elastic はElasticsearchクライアントの生成とインデックス準備を提供します。
package elastic

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/elastic-transport-go/v8/elastictransport"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"ai_memory/internal/platform/config"
)

// slogLogger はelastictransport.Loggerをslogに橋渡しします。
type slogLogger struct {
	logger *slog.Logger
}

var _ elastictransport.Logger = (*slogLogger)(nil)

// LogRoundTrip はリクエストごとの結果をDebugで記録します。
func (l *slogLogger) LogRoundTrip(req *http.Request, res *http.Response, err error, _ time.Time, dur time.Duration) error {
	status := 0
	if res != nil {
		status = res.StatusCode
	}
	l.logger.Debug("elasticsearch round trip",
		"method", req.Method,
		"url", req.URL.String(),
		"status", status,
		"duration", dur,
		"error", err,
	)
	return nil
}

func (l *slogLogger) RequestBodyEnabled() bool  { return false }
func (l *slogLogger) ResponseBodyEnabled() bool { return false }

// NewClient は設定からクライアントを生成し、Infoで疎通を確認します。
func NewClient(cfg config.ElasticConfig) (*elasticsearch.Client, error) {
	if len(cfg.Addresses) == 0 {
		return nil, fmt.Errorf("ELASTICSEARCH_ADDRESSES is not configured")
	}

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
		Logger:    &slogLogger{logger: slog.Default().With("component", "elasticsearch")},
		// 429 と 502/503/504 はリトライ
		RetryOnStatus: []int{502, 503, 504, 429},
		RetryBackoff:  func(i int) time.Duration { return time.Duration(i) * 100 * time.Millisecond },
		MaxRetries:    5,
	})
	if err != nil {
		return nil, fmt.Errorf("elasticsearch.NewClient: %w", err)
	}

	res, err := es.Info()
	if err != nil {
		return nil, fmt.Errorf("elasticsearch info: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch info: %s", res.Status())
	}
	return es, nil
}

// EnsureIndex は index が存在しなければ mapping で作成します。
func EnsureIndex(ctx context.Context, es *elasticsearch.Client, index string, mapping any) error {
	res, err := esapi.IndicesExistsRequest{Index: []string{index}}.Do(ctx, es)
	if err != nil {
		return fmt.Errorf("check index %s: %w", index, err)
	}
	res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
	default:
		return fmt.Errorf("check index %s: status %s", index, res.Status())
	}

	body, err := json.Marshal(mapping)
	if err != nil {
		return fmt.Errorf("marshal mapping: %w", err)
	}
	createRes, err := esapi.IndicesCreateRequest{Index: index, Body: strings.NewReader(string(body))}.Do(ctx, es)
	if err != nil {
		return fmt.Errorf("create index %s: %w", index, err)
	}
	defer createRes.Body.Close()
	if createRes.IsError() {
		return fmt.Errorf("create index %s: %s", index, ResponseError(createRes))
	}
	slog.Info("elasticsearch index created", "index", index)
	return nil
}

// ResponseError はエラーレスポンスのステータスと本文を文字列にします。
func ResponseError(res *esapi.Response) string {
	if res == nil {
		return ""
	}
	b, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	return fmt.Sprintf("%s: %s", res.Status(), strings.TrimSpace(string(b)))
}
