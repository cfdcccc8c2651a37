package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"ai_memory/internal/feature/alerts/domain/entity"
	"ai_memory/internal/feature/alerts/usecase"
	platformhttp "ai_memory/internal/platform/http"
)

// WebhookNotifier はmarkdown形式のJSONをWebhookにPOSTします。
type WebhookNotifier struct {
	url    string
	client *http.Client
}

var _ usecase.Notifier = (*WebhookNotifier)(nil)

// NewWebhookNotifier は新しいWebhookNotifierを生成します。
func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	return &WebhookNotifier{url: url, client: platformhttp.NewHTTPClient(timeout)}
}

func (n *WebhookNotifier) Name() string { return "webhook" }

type webhookPayload struct {
	MsgType  string          `json:"msgtype"`
	Markdown webhookMarkdown `json:"markdown"`
}

type webhookMarkdown struct {
	Content string `json:"content"`
}

// Notify は2xx以外の応答をエラーとして返します。
func (n *WebhookNotifier) Notify(ctx context.Context, a entity.Alert) error {
	body, err := json.Marshal(webhookPayload{
		MsgType:  "markdown",
		Markdown: webhookMarkdown{Content: formatMarkdown(a)},
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}

// formatMarkdown はアラートをmarkdownの本文に整形します。メタデータはキー順に並べます。
func formatMarkdown(a entity.Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## [%s] %s\n\n", a.Level, a.Rule)
	fmt.Fprintf(&b, "> %s\n\n", a.Message)
	fmt.Fprintf(&b, "- time: %s\n", a.Timestamp.UTC().Format(time.RFC3339))
	keys := make([]string, 0, len(a.Metadata))
	for k := range a.Metadata {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s: %v\n", k, a.Metadata[k])
	}
	return b.String()
}
