// Package openai implements pkg/narrative's Composer on the OpenAI chat
// completions API, with bounded retries around transient failures.
package openai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"go.uber.org/zap"

	"github.com/murmurhq/murmur/pkg/journal"
	"github.com/murmurhq/murmur/pkg/narrative"
)

const (
	// DefaultModel is the default composition model.
	DefaultModel = "gpt-4o-mini"

	// maxRetryElapsed bounds the whole retry schedule for one composition.
	maxRetryElapsed = 2 * time.Minute
)

const dailySystemPrompt = `You write a short evening reflection for a developer's journal.
Second person, warm but plain, 3 to 5 sentences. Mention concrete work from
the notes. Do not invent work that is not in the notes. Do not use bullet
points or headings.`

const weeklySystemPrompt = `You write a weekly report for a developer's journal.
Second person, 2 short paragraphs. Summarize themes, name real accomplishments
and blockers from the notes, and close with one suggestion for next week. Echo
the user's own phrasing where the style examples show it. Do not invent work.`

// Composer writes narratives via chat completions.
type Composer struct {
	client oai.Client
	model  string
	logger *zap.Logger
}

// Config holds configuration for the OpenAI composer.
type Config struct {
	// APIKey authenticates against the API. Required.
	APIKey string

	// BaseURL overrides the API endpoint, for proxies or compatible servers.
	BaseURL string

	// Model defaults to DefaultModel if empty.
	Model string
}

// NewComposer creates a chat-completions backed composer.
func NewComposer(cfg Config, logger *zap.Logger) (*Composer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	return &Composer{
		client: oai.NewClient(opts...),
		model:  model,
		logger: logger,
	}, nil
}

// ComposeDaily writes the evening reflection for one day's facts.
func (c *Composer) ComposeDaily(ctx context.Context, in narrative.DailyInput) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Date: %s\n", in.DateKey)
	writeFacts(&sb, in.Facts)
	if in.Degraded > 0 {
		fmt.Fprintf(&sb, "%d entries could not be summarized; only their raw notes exist.\n", in.Degraded)
	}

	return c.complete(ctx, dailySystemPrompt, sb.String())
}

// ComposeWeekly writes the report for one week's facts.
func (c *Composer) ComposeWeekly(ctx context.Context, in narrative.WeeklyInput) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Week: %s\n", in.WeekKey)
	fmt.Fprintf(&sb, "Productivity score: %.1f/10\n", in.Score)
	for cat, n := range in.Histogram {
		fmt.Fprintf(&sb, "- %s: %d entries\n", cat, n)
	}
	writeFacts(&sb, in.Facts)
	if len(in.StyleExamples) > 0 {
		sb.WriteString("\nStyle examples from the user's own notes:\n")
		for _, ex := range in.StyleExamples {
			fmt.Fprintf(&sb, "> %s\n", ex)
		}
	}

	return c.complete(ctx, weeklySystemPrompt, sb.String())
}

func writeFacts(sb *strings.Builder, facts []journal.StructuredFact) {
	sb.WriteString("Notes:\n")
	for _, f := range facts {
		fmt.Fprintf(sb, "- [%s] %s\n", f.Category, f.Summary)
		for _, a := range f.Accomplishments {
			fmt.Fprintf(sb, "  done: %s\n", a)
		}
		for _, b := range f.Blockers {
			fmt.Fprintf(sb, "  blocked: %s\n", b)
		}
		for _, l := range f.Learnings {
			fmt.Fprintf(sb, "  learned: %s\n", l)
		}
	}
}

func (c *Composer) complete(ctx context.Context, system, user string) (string, error) {
	var content string

	operation := func() error {
		completion, err := c.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
			Model: shared.ChatModel(c.model),
			Messages: []oai.ChatCompletionMessageParamUnion{
				oai.SystemMessage(system),
				oai.UserMessage(user),
			},
		})
		if err != nil {
			return err
		}
		if len(completion.Choices) == 0 {
			return fmt.Errorf("no choices returned")
		}
		content = strings.TrimSpace(completion.Choices[0].Message.Content)
		if content == "" {
			return fmt.Errorf("empty narrative returned")
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = maxRetryElapsed
	policy := backoff.WithContext(b, ctx)

	if err := backoff.RetryNotify(operation, policy, func(err error, wait time.Duration) {
		c.logger.Warn("narrative attempt failed, backing off",
			zap.Error(err),
			zap.Duration("wait", wait),
		)
	}); err != nil {
		return "", fmt.Errorf("%w: %v", narrative.ErrComposition, err)
	}

	return content, nil
}

// Close releases resources held by the composer.
func (c *Composer) Close() error {
	return nil
}

var _ narrative.Composer = (*Composer)(nil)
