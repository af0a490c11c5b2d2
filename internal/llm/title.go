package llm

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/sashabaranov/go-openai"

	"chatrelay-backend/internal/tagsplit"
)

const titlePrompt = "Generate a short conversation title in 2–3 words. No quotes, no Markdown, no emojis, no trailing punctuation. Output only the title."

const maxTitleWords = 3

var (
	titleMarkdown   = regexp.MustCompile("[`*_>#]")
	titleQuotes     = regexp.MustCompile(`^["'“”‘’]+|["'“”‘’]+$`)
	titleTrailPunct = regexp.MustCompile(`[.!?:;,]+$`)
)

// GenerateTitle asks the model for a short title summarizing the first
// exchange of a conversation. The result is sanitized and may be empty.
func (c *Client) GenerateTitle(ctx context.Context, model, userText, assistantText string) (string, error) {
	if model == "" {
		model = c.cfg.Model
	}
	resp, err := c.oa.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		// go-openai omits a zero temperature, which would leave the provider default.
		Temperature: math.SmallestNonzeroFloat32,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: titlePrompt},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf("User: %s\nAssistant: %s", userText, assistantText)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("title completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return SanitizeTitle(resp.Choices[0].Message.Content), nil
}

// SanitizeTitle strips reasoning, markdown symbols, surrounding quotes and
// trailing punctuation, and keeps at most three words.
func SanitizeTitle(raw string) string {
	content, _ := tagsplit.Split(raw)
	t := titleMarkdown.ReplaceAllString(content, "")
	t = strings.TrimSpace(t)
	t = titleQuotes.ReplaceAllString(t, "")
	words := strings.Fields(t)
	if len(words) > maxTitleWords {
		words = words[:maxTitleWords]
	}
	t = strings.Join(words, " ")
	return strings.TrimSpace(titleTrailPunct.ReplaceAllString(t, ""))
}
