package notes

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

const (
	// DefaultGenerationTimeout bounds a single generator call.
	DefaultGenerationTimeout = 5 * time.Second

	fallbackTitleWords   = 5
	fallbackSummaryWords = 10
	fallbackEllipsis     = "..."
	untitledNoteTitle    = "Untitled note"

	generatorOpTitle   = "suggest_title"
	generatorOpSummary = "suggest_summary"
	generatorOpTags    = "suggest_tags"
)

// Generator produces note metadata from free text. Implementations may be
// slow; every call is bounded by the resolver and failures fall back to
// deterministic heuristics.
type Generator interface {
	SuggestTitle(ctx context.Context, text string) (string, error)
	SuggestSummary(ctx context.Context, text string) (string, error)
	SuggestTags(ctx context.Context, text string) ([]string, error)
}

// ResolverConfig describes the dependencies of a Resolver. A nil Generator
// means the capability is absent for the process lifetime.
type ResolverConfig struct {
	Generator   Generator
	CallTimeout time.Duration
	Logger      *zap.Logger
}

// Resolver fills in the title, summary, and tags of a draft.
type Resolver struct {
	generator   Generator
	callTimeout time.Duration
	logger      *zap.Logger
}

// NewResolver constructs a Resolver.
func NewResolver(cfg ResolverConfig) *Resolver {
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = DefaultGenerationTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Resolver{
		generator:   cfg.Generator,
		callTimeout: timeout,
		logger:      logger,
	}
}

// GenerationAvailable reports whether a generator was supplied.
func (r *Resolver) GenerationAvailable() bool {
	return r != nil && r.generator != nil
}

// Resolve strips any embedded tag directive from the draft contents and
// resolves tags, title, and summary. A non-blank draft title is kept verbatim. Explicit draft tags win over embedded
// tags, which win over generated tags. It fails only when the draft has no
// usable contents.
func (r *Resolver) Resolve(ctx context.Context, draft Draft) (Resolution, error) {
	contentTags, cleaned := ExtractEmbedded(draft.Contents)
	if strings.TrimSpace(cleaned) == "" {
		return Resolution{}, fmt.Errorf("%w: empty contents", ErrInvalidDraft)
	}

	title := draft.Title
	if strings.TrimSpace(title) == "" {
		title = ""
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return Resolution{}, fmt.Errorf("%w: title exceeds %d characters", ErrInvalidDraft, MaxTitleLength)
	}

	var tags []string
	switch {
	case strings.TrimSpace(draft.Tags) != "":
		tags = ParseUserTags(draft.Tags)
	case len(contentTags) > 0:
		tags = contentTags
	default:
		tags = r.suggestTags(ctx, cleaned)
	}

	if title == "" {
		title = r.suggestTitle(ctx, cleaned)
	}

	return Resolution{
		Title:    title,
		Summary:  r.suggestSummary(ctx, cleaned),
		Tags:     NormalizeTags(tags, MaxTags),
		Contents: cleaned,
	}, nil
}

func (r *Resolver) suggestTitle(ctx context.Context, text string) string {
	value, err := invokeGenerator(ctx, r, generatorOpTitle, func(callCtx context.Context) (string, error) {
		return r.generator.SuggestTitle(callCtx, text)
	})
	value = clampRunes(strings.TrimSpace(value), MaxTitleLength)
	if err != nil || value == "" {
		return FallbackTitle(text)
	}
	return value
}

func (r *Resolver) suggestSummary(ctx context.Context, text string) string {
	value, err := invokeGenerator(ctx, r, generatorOpSummary, func(callCtx context.Context) (string, error) {
		return r.generator.SuggestSummary(callCtx, text)
	})
	value = clampRunes(strings.TrimSpace(value), MaxSummaryLength)
	if err != nil || value == "" {
		return FallbackSummary(text)
	}
	return value
}

func (r *Resolver) suggestTags(ctx context.Context, text string) []string {
	value, err := invokeGenerator(ctx, r, generatorOpTags, func(callCtx context.Context) ([]string, error) {
		return r.generator.SuggestTags(callCtx, text)
	})
	if err != nil {
		return []string{}
	}
	return value
}

// invokeGenerator runs call under the resolver timeout. The caller's
// cancellation is not propagated; only the timeout ends the wait.
func invokeGenerator[T any](ctx context.Context, r *Resolver, operation string, call func(context.Context) (T, error)) (T, error) {
	var zero T
	if r.generator == nil {
		return zero, ErrGenerationUnavailable
	}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.callTimeout)
	defer cancel()

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		value, err := call(callCtx)
		done <- outcome{value: value, err: err}
	}()

	select {
	case result := <-done:
		if result.err != nil {
			r.logger.Warn("generation failed; using fallback",
				zap.String("operation", operation),
				zap.Error(result.err))
			return zero, fmt.Errorf("%w: %v", ErrGenerationUnavailable, result.err)
		}
		return result.value, nil
	case <-callCtx.Done():
		r.logger.Warn("generation timed out; using fallback",
			zap.String("operation", operation),
			zap.Duration("timeout", r.callTimeout))
		return zero, fmt.Errorf("%w: %v", ErrGenerationUnavailable, callCtx.Err())
	}
}

// FallbackTitle returns the first five words of text, or the whole text when
// it is shorter.
func FallbackTitle(text string) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return untitledNoteTitle
	}
	title := strings.TrimSpace(text)
	if len(words) > fallbackTitleWords {
		title = strings.Join(words[:fallbackTitleWords], " ")
	}
	return clampRunes(title, MaxTitleLength)
}

// FallbackSummary returns the first ten words of text followed by an
// ellipsis, or the whole text when it is shorter.
func FallbackSummary(text string) string {
	words := strings.Fields(text)
	summary := strings.TrimSpace(text)
	if len(words) > fallbackSummaryWords {
		summary = strings.Join(words[:fallbackSummaryWords], " ") + fallbackEllipsis
	}
	return clampRunes(summary, MaxSummaryLength)
}

func clampRunes(value string, limit int) string {
	if utf8.RuneCountInString(value) <= limit {
		return value
	}
	runes := []rune(value)
	return strings.TrimSpace(string(runes[:limit]))
}
