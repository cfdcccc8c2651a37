package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"ai_memory/internal/feature/memory/domain/entity"
	"ai_memory/internal/feature/memory/usecase"
)

// TextGenerator はLLMのテキスト生成です。*genai.Client が満たします。
type TextGenerator interface {
	Generate(ctx context.Context, model, prompt string) (string, error)
	GenerateJSON(ctx context.Context, model, prompt string) (string, error)
}

// GeminiJudge はLLMで記憶の価値判定・要約・タグ抽出・統合方針の決定を行います。
type GeminiJudge struct {
	llm          TextGenerator
	judgeModel   string
	extractModel string
}

var _ usecase.Judge = (*GeminiJudge)(nil)

// NewGeminiJudge creates a new GeminiJudge instance.
func NewGeminiJudge(llm TextGenerator, judgeModel, extractModel string) *GeminiJudge {
	return &GeminiJudge{llm: llm, judgeModel: judgeModel, extractModel: extractModel}
}

const judgeBatchPrompt = `You evaluate whether conversation snippets contain information worth remembering long term.
Evaluate each of the following %d snippets independently.

%s
Scoring (value_score, max 1.0):
1. Facts (0.4): objective facts such as places, dates, names, tech stack
2. Preferences (0.3): likes, habits, style
3. Goals (0.3): long-running plans or project intents

Return ONLY a JSON array with exactly one object per snippet, in the same order:
[
  {
    "value_score": 0.0-1.0,
    "confidence_score": 0.0-1.0,
    "category": "fact|preference|goal|noise",
    "reason": "short reason",
    "tags": ["tag"],
    "entities": {"type": "value"},
    "should_stage": true/false,
    "is_critical": true/false
  }
]`

const summarizePrompt = `Rewrite the following conversation snippet as one standalone %s statement about the user.
Keep names, dates and numbers exactly. Drop greetings and small talk. Return only the statement.

%s`

const extractTagsPrompt = `Extract structured information from this memory.

Memory:
%s

Category: %s

Return ONLY JSON:
{
  "tags": ["2-5 short tags"],
  "entities": {"entity type": "entity value"}
}`

const mergePrompt = `Two memories about the same user are nearly identical.

Existing memory:
%s

New memory:
%s

Choose one strategy:
- update_existing: the new memory adds nothing; keep the existing one
- merge: both carry details; combine them into one statement
- keep_newer: the new memory supersedes the existing one
- keep_both: they are actually different facts

Return ONLY JSON:
{"strategy": "update_existing|merge|keep_newer|keep_both", "merged_content": "combined statement when strategy is merge, otherwise empty"}`

// cleanJSON はモデルが付けるMarkdownのコードフェンスを取り除きます。
func cleanJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// JudgeBatch は複数の会話片を1回の呼び出しで判定します。結果の件数が一致しない場合はエラーです。
func (j *GeminiJudge) JudgeBatch(ctx context.Context, contents []string) ([]entity.JudgeResult, error) {
	if len(contents) == 0 {
		return nil, nil
	}
	var b strings.Builder
	for i, c := range contents {
		fmt.Fprintf(&b, "[Snippet %d]\n%s\n\n", i+1, c)
	}
	resp, err := j.llm.GenerateJSON(ctx, j.judgeModel, fmt.Sprintf(judgeBatchPrompt, len(contents), b.String()))
	if err != nil {
		return nil, fmt.Errorf("batch judge: %w", err)
	}
	var results []entity.JudgeResult
	if err := json.Unmarshal([]byte(cleanJSON(resp)), &results); err != nil {
		return nil, fmt.Errorf("decode batch judge result: %w", err)
	}
	if len(results) != len(contents) {
		return nil, fmt.Errorf("judge result count mismatch: want %d, got %d", len(contents), len(results))
	}
	for i := range results {
		if results[i].Category == "" {
			results[i].Category = entity.CategoryNoise
		}
	}
	return results, nil
}

// Summarize は会話片を独立した1文に書き換えます。
func (j *GeminiJudge) Summarize(ctx context.Context, content string, category entity.Category) (string, error) {
	resp, err := j.llm.Generate(ctx, j.judgeModel, fmt.Sprintf(summarizePrompt, category, content))
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	summary := strings.TrimSpace(resp)
	if summary == "" {
		return "", errors.New("summarize: empty response")
	}
	return summary, nil
}

// ExtractTags はLTM書き込み前にタグとエンティティを抽出します。
func (j *GeminiJudge) ExtractTags(ctx context.Context, content string, category entity.Category) ([]string, map[string]string, error) {
	resp, err := j.llm.GenerateJSON(ctx, j.extractModel, fmt.Sprintf(extractTagsPrompt, content, category))
	if err != nil {
		return nil, nil, fmt.Errorf("extract tags: %w", err)
	}
	var out struct {
		Tags     []string          `json:"tags"`
		Entities map[string]string `json:"entities"`
	}
	if err := json.Unmarshal([]byte(cleanJSON(resp)), &out); err != nil {
		return nil, nil, fmt.Errorf("decode extracted tags: %w", err)
	}
	return out.Tags, out.Entities, nil
}

// DecideMergeStrategy は類似記憶の統合方針を決めます。未知の方針は keep_both になります。
func (j *GeminiJudge) DecideMergeStrategy(ctx context.Context, existing, incoming string) (entity.MergeStrategy, string, error) {
	resp, err := j.llm.GenerateJSON(ctx, j.judgeModel, fmt.Sprintf(mergePrompt, existing, incoming))
	if err != nil {
		return "", "", fmt.Errorf("decide merge strategy: %w", err)
	}
	var out struct {
		Strategy      string `json:"strategy"`
		MergedContent string `json:"merged_content"`
	}
	if err := json.Unmarshal([]byte(cleanJSON(resp)), &out); err != nil {
		return "", "", fmt.Errorf("decode merge strategy: %w", err)
	}
	strategy := entity.ParseMergeStrategy(out.Strategy)
	merged := strings.TrimSpace(out.MergedContent)
	if strategy == entity.MergeMerge && merged == "" {
		strategy = entity.MergeKeepBoth
	}
	return strategy, merged, nil
}
