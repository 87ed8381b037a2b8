package explain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const systemPrompt = `You explain predictions about a user's next action in clear, concise language.

Rules:
- Be direct and specific
- Use second person ("you")
- Mention the confidence level
- Reference patterns from the recent history
- Keep explanations under 2 sentences`

// #region openai
// OpenAIExplainer asks an OpenAI-compatible chat endpoint for the explanation.
type OpenAIExplainer struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	log     *zap.Logger
}

// NewOpenAIExplainer builds a chat-completion explainer. An empty BaseURL
// uses the library default.
func NewOpenAIExplainer(cfg Config, log *zap.Logger) *OpenAIExplainer {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &OpenAIExplainer{
		client:  openai.NewClientWithConfig(clientConfig),
		model:   model,
		timeout: timeout,
		log:     log,
	}
}

// Explain implements Explainer.
func (o *OpenAIExplainer) Explain(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	start := time.Now()
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		MaxTokens:   150,
		Temperature: 0.7,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: Prompt(req)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion: no choices")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", errors.New("chat completion: empty content")
	}
	o.log.Debug("explanation generated",
		zap.String("model", o.model),
		zap.Duration("latency", time.Since(start)),
		zap.Int("tokens", resp.Usage.TotalTokens),
	)
	return text, nil
}

// Prompt renders the user message for a prediction.
func Prompt(req Request) string {
	var history string
	if len(req.RecentHistory) == 0 {
		history = "No recent history"
	} else {
		lines := make([]string, len(req.RecentHistory))
		for i, h := range req.RecentHistory {
			lines[i] = fmt.Sprintf("- %s (%s)", h.Action, h.TimeAgo)
		}
		history = strings.Join(lines, "\n")
	}
	return fmt.Sprintf(`Explain this behavior prediction in 1-2 sentences:

Current Activity:
- App: %s
- Duration: %.1f minutes
- Context: %s

Recent Actions:
%s

Prediction:
- Next action: %s
- Confidence: %.0f%%
- Time estimate: %s

Based on the user's historical patterns, explain why this prediction makes sense.`,
		orUnknown(req.App), req.DurationMinutes, orUnknown(req.Context), history,
		humanize(req.PredictedAction), req.Confidence*100, req.TimeEstimate)
}
// #endregion openai
