package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/JugalBoro/kloth.me/internal/domain"
)

const systemPrompt = `You are a fashion search query planner. Given a shopper
message and optional chat history, produce a JSON object:
{
  "refined_queries": ["up to 3 short retrieval queries"],
  "use_image": true or false,
  "text_weight": 0.0 to 1.0,
  "top_k": 1 to 100,
  "filters": {"color": "", "category": ""},
  "reasoning": "one sentence"
}
Respond with the JSON object only, no prose.`

// Planner turns a free-form shopper message into a structured retrieval
// plan via an OpenAI-compatible chat model.
type Planner struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

// Config holds the planner model settings. A zero Timeout leaves the model
// call bounded only by the caller's context.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	Logger  *zap.Logger
}

// New creates a chat-based query planner.
func New(cfg *Config) *Planner {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &Planner{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
	}
}

// Result carries the plan plus whether planning degraded to the fallback.
type Result struct {
	Plan     domain.QueryPlan
	Fallback bool
	Reason   string
}

// Plan asks the model for a retrieval plan. Planning is best-effort: any
// model or parse failure degrades to a single-query fallback plan built
// from the raw message, never to an error.
func (p *Planner) Plan(ctx context.Context, message string, history []string, hasImage bool) Result {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildUserPrompt(message, history, hasImage)},
		},
		Temperature: 0.1,
	})
	if err != nil {
		p.warn("planner model call failed", err)
		return p.fallback(message, hasImage, "model call failed")
	}
	if len(resp.Choices) == 0 {
		return p.fallback(message, hasImage, "empty model response")
	}

	plan, err := parsePlan(resp.Choices[0].Message.Content)
	if err != nil {
		p.warn("planner output unparsable", err)
		return p.fallback(message, hasImage, "unparsable plan")
	}
	if len(plan.RefinedQueries) == 0 {
		plan.RefinedQueries = []string{message}
	}
	plan.Clamp()
	return Result{Plan: plan}
}

func buildUserPrompt(message string, history []string, hasImage bool) string {
	var b strings.Builder
	if len(history) > 0 {
		b.WriteString("Chat history:\n")
		for _, h := range history {
			b.WriteString("- ")
			b.WriteString(h)
			b.WriteByte('\n')
		}
	}
	fmt.Fprintf(&b, "Image attached: %v\n", hasImage)
	b.WriteString("Message: ")
	b.WriteString(message)
	return b.String()
}

// parsePlan decodes the model output, tolerating a markdown code fence
// around the JSON object.
func parsePlan(content string) (domain.QueryPlan, error) {
	content = strings.TrimSpace(content)
	if after, found := strings.CutPrefix(content, "```json"); found {
		content = after
	} else if after, found := strings.CutPrefix(content, "```"); found {
		content = after
	}
	content = strings.TrimSuffix(strings.TrimSpace(content), "```")

	var dto struct {
		RefinedQueries []string          `json:"refined_queries"`
		UseImage       bool              `json:"use_image"`
		TextWeight     *float64          `json:"text_weight"`
		TopK           int               `json:"top_k"`
		Filters        domain.FilterSet  `json:"filters"`
		Reasoning      string            `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(content), &dto); err != nil {
		return domain.QueryPlan{}, fmt.Errorf("decode plan: %w", err)
	}

	weight := domain.DefaultTextWeight
	if dto.TextWeight != nil {
		weight = *dto.TextWeight
	}
	return domain.QueryPlan{
		RefinedQueries: dto.RefinedQueries,
		UseImage:       dto.UseImage,
		TextWeight:     weight,
		TopK:           dto.TopK,
		Filters:        dto.Filters,
		Reasoning:      dto.Reasoning,
	}, nil
}

func (p *Planner) fallback(message string, hasImage bool, reason string) Result {
	plan := domain.QueryPlan{
		RefinedQueries: []string{message},
		UseImage:       hasImage,
		TextWeight:     domain.DefaultTextWeight,
		TopK:           domain.DefaultTopK,
	}
	plan.Clamp()
	return Result{Plan: plan, Fallback: true, Reason: reason}
}

func (p *Planner) warn(msg string, err error) {
	if p.logger != nil {
		p.logger.Warn(msg, zap.Error(err))
	}
}
