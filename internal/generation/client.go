// Package generation implements note metadata suggestions on top of an
// OpenAI-compatible chat completions endpoint.
package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/notepad/internal/notes"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// DefaultModel is used when no model is configured.
	DefaultModel = "gpt-4o-mini"

	defaultRequestsPerSecond = 2.0
	maxInputRunes            = 8000
	titleMaxTokens           = 32
	summaryMaxTokens         = 160
	tagsMaxTokens            = 32
	completionTemperature    = 0.2

	titlePrompt   = "Write a short title of at most eight words for the user's note. Reply with the title only."
	summaryPrompt = "Summarize the user's note in one or two sentences. Reply with the summary only."
	tagsPrompt    = "Suggest up to three short lowercase tags for the user's note as a comma-separated list. Reply with the list only."
)

var (
	errMissingAPIKey   = errors.New("generation: api key is required")
	errEmptyCompletion = errors.New("generation: empty completion")
)

// Config describes how to reach the text generation endpoint.
type Config struct {
	Enabled           bool
	APIKey            string
	BaseURL           string
	Model             string
	LoadTimeout       time.Duration
	RequestsPerSecond float64
}

// Client suggests note metadata through chat completions. It satisfies
// notes.Generator.
type Client struct {
	api     openai.Client
	model   string
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewClient constructs a Client without contacting the endpoint.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errMissingAPIKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRequestsPerSecond
	}

	options := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}

	return &Client{
		api:     openai.NewClient(options...),
		model:   model,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		logger:  logger,
	}, nil
}

// Probe checks that the configured model is reachable.
func (c *Client) Probe(ctx context.Context) error {
	if _, err := c.api.Models.Get(ctx, c.model); err != nil {
		return fmt.Errorf("generation: probe model %s: %w", c.model, err)
	}
	return nil
}

// SuggestTitle returns a short title for text.
func (c *Client) SuggestTitle(ctx context.Context, text string) (string, error) {
	output, err := c.complete(ctx, titlePrompt, text, titleMaxTokens)
	if err != nil {
		return "", err
	}
	firstLine, _, _ := strings.Cut(output, "\n")
	title := trimDecorations(strings.TrimPrefix(strings.TrimSpace(firstLine), "Title:"))
	if title == "" {
		return "", errEmptyCompletion
	}
	return title, nil
}

// SuggestSummary returns a one or two sentence summary of text.
func (c *Client) SuggestSummary(ctx context.Context, text string) (string, error) {
	output, err := c.complete(ctx, summaryPrompt, text, summaryMaxTokens)
	if err != nil {
		return "", err
	}
	summary := trimDecorations(strings.TrimPrefix(strings.TrimSpace(output), "Summary:"))
	if summary == "" {
		return "", errEmptyCompletion
	}
	return summary, nil
}

// SuggestTags returns up to notes.MaxTags tags for text.
func (c *Client) SuggestTags(ctx context.Context, text string) ([]string, error) {
	output, err := c.complete(ctx, tagsPrompt, text, tagsMaxTokens)
	if err != nil {
		return nil, err
	}
	flattened := strings.ReplaceAll(strings.ReplaceAll(output, "\n", ","), "#", "")
	parsed := notes.ParseUserTags(flattened)
	tags := make([]string, 0, len(parsed))
	for _, tag := range parsed {
		tags = append(tags, trimDecorations(tag))
	}
	return notes.NormalizeTags(tags, notes.MaxTags), nil
}

func (c *Client) complete(ctx context.Context, instruction, text string, maxTokens int64) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("generation: rate limit: %w", err)
	}
	completion, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(instruction),
			openai.UserMessage(truncateRunes(text, maxInputRunes)),
		},
		MaxCompletionTokens: openai.Int(maxTokens),
		Temperature:         openai.Float(completionTemperature),
	})
	if err != nil {
		return "", fmt.Errorf("generation: chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", errEmptyCompletion
	}
	output := strings.TrimSpace(completion.Choices[0].Message.Content)
	if output == "" {
		return "", errEmptyCompletion
	}
	c.logger.Debug("generation completed", zap.String("model", c.model), zap.Int("output_length", len(output)))
	return output, nil
}

func trimDecorations(value string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(value), "\"'`*."))
}

func truncateRunes(value string, limit int) string {
	if utf8.RuneCountInString(value) <= limit {
		return value
	}
	return string([]rune(value)[:limit])
}
