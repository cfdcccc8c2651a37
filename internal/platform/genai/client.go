// Package genai はGoogle Gemini APIを使ったテキスト生成と埋め込みのクライアントを提供します。
package genai

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"ai_memory/internal/shared/ratelimiter"
)

// ErrEmptyEmbedding は埋め込みレスポンスにベクトルが含まれない場合に返されます。
var ErrEmptyEmbedding = errors.New("genai: empty embedding response")

// Models はgenai.Modelsのうち利用するメソッドだけを切り出したものです。
type Models interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// Client はレート制限付きのGeminiクライアントです。
type Client struct {
	models  Models
	limiter ratelimiter.Limiter
	embed   string
	dims    int32
}

// Options はClientの生成オプションです。
type Options struct {
	EmbeddingModel string
	Dims           int
	Limiter        ratelimiter.Limiter
}

// NewClient はADCまたは GOOGLE_API_KEY を使ってClientを生成します。
// 環境変数 GOOGLE_GENAI_USE_VERTEXAI, GOOGLE_CLOUD_PROJECT, GOOGLE_CLOUD_LOCATION も参照されます。
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	client, err := genai.NewClient(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return NewClientWithModels(client.Models, opts), nil
}

// NewClientWithModels は任意のModels実装からClientを生成します（テスト用）。
func NewClientWithModels(models Models, opts Options) *Client {
	return &Client{
		models:  models,
		limiter: opts.Limiter,
		embed:   opts.EmbeddingModel,
		dims:    int32(opts.Dims),
	}
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// Generate はプロンプトからテキストを生成します。
func (c *Client) Generate(ctx context.Context, model, prompt string) (string, error) {
	return c.generate(ctx, model, prompt, nil)
}

// GenerateJSON はJSONでの応答を要求してテキストを生成します。
func (c *Client) GenerateJSON(ctx context.Context, model, prompt string) (string, error) {
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.1),
	}
	return c.generate(ctx, model, prompt, cfg)
}

func (c *Client) generate(ctx context.Context, model, prompt string, cfg *genai.GenerateContentConfig) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	resp, err := c.models.GenerateContent(ctx, model, genai.Text(prompt), cfg)
	if err != nil {
		return "", fmt.Errorf("gemini API request failed: %w", err)
	}
	return resp.Text(), nil
}

// Embed はテキストの埋め込みベクトルを返します。
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	var cfg *genai.EmbedContentConfig
	if c.dims > 0 {
		cfg = &genai.EmbedContentConfig{OutputDimensionality: genai.Ptr(c.dims)}
	}
	resp, err := c.models.EmbedContent(ctx, c.embed, genai.Text(text), cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini embed request failed: %w", err)
	}
	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil || len(resp.Embeddings[0].Values) == 0 {
		return nil, ErrEmptyEmbedding
	}
	return resp.Embeddings[0].Values, nil
}
