package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/korjavin/familyorganizer/pkg/logger"
	"github.com/sashabaranov/go-openai"
)

// Client represents an OpenAI API client
type Client struct {
	client *openai.Client
	model  string
	logger *logger.Logger
}

// New creates a new OpenAI client
func New(apiKey, apiBase, model string) *Client {
	config := openai.DefaultConfig(apiKey)
	if apiBase != "" {
		config.BaseURL = apiBase
	}

	client := openai.NewClientWithConfig(config)
	return &Client{
		client: client,
		model:  model,
		logger: logger.New("openai"),
	}
}

// RecipeSteps asks the model for the cooking steps of a dish. Every step is a
// single line that names its duration in minutes, so the result can be fed
// straight into the cooking timer.
func (c *Client) RecipeSteps(ctx context.Context, dish string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	prompt := fmt.Sprintf(`
You are a cooking expert. Break the preparation of "%s" into sequential steps a home cook can follow with a timer.
Each step must be one short sentence and must end with its duration written as "<N> min".
Return only a JSON array of step strings, no other text.
For example: ["Chop the onions 5 min", "Fry the chicken 10 min", "Simmer with the sauce 15 min"]
`, dish)

	c.logger.Info("Requesting recipe steps for %s", dish)
	c.logger.Debug("OpenAI prompt (first 100 chars): %s", truncateString(prompt, 100))

	resp, err := c.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: c.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleSystem,
					Content: "You are a cooking expert who writes precise, timed recipe steps.",
				},
				{
					Role:    openai.ChatMessageRoleUser,
					Content: prompt,
				},
			},
			Temperature: 0.3,
		},
	)

	if err != nil {
		return nil, fmt.Errorf("OpenAI API error: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from OpenAI API")
	}

	content := resp.Choices[0].Message.Content
	c.logger.Debug("OpenAI response (first 100 chars): %s", truncateString(content, 100))

	steps, err := parseSteps(content)
	if err != nil {
		c.logger.Error("Failed to parse response: %v, Content: %s", err, content)
		return nil, err
	}

	c.logger.Info("Got %d recipe steps for %s", len(steps), dish)
	return steps, nil
}

// parseSteps decodes the model's answer, falling back to one step per line
// when it is not valid JSON
func parseSteps(content string) ([]string, error) {
	content = cleanJSONResponse(content)

	var steps []string
	if err := json.Unmarshal([]byte(content), &steps); err != nil {
		steps = extractLines(content)
		if len(steps) == 0 {
			return nil, fmt.Errorf("failed to parse OpenAI response: %w", err)
		}
		return steps, nil
	}

	out := steps[:0]
	for _, s := range steps {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("OpenAI returned no recipe steps")
	}
	return out, nil
}

// truncateString truncates a string to the specified length
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// cleanJSONResponse strips markdown code block delimiters the model sometimes wraps JSON in
func cleanJSONResponse(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "```") {
		// The first line might be "```json"
		firstLineEnd := strings.Index(s, "\n")
		if firstLineEnd != -1 {
			s = s[firstLineEnd+1:]
		}

		if strings.HasSuffix(s, "```") {
			s = s[:len(s)-3]
		}

		s = strings.TrimSpace(s)
	}

	return s
}

// extractLines treats every non-empty line as a step, dropping list markers
// like "1." or "-"
func extractLines(s string) []string {
	var steps []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*•0123456789.) ")
		line = strings.Trim(line, `",[]`)
		line = strings.TrimSpace(line)
		if len(line) <= 1 {
			continue
		}
		steps = append(steps, line)
	}
	return steps
}
