// Package openai implements pkg/classify's Classifier on the OpenAI chat
// completions API with a JSON response contract.
package openai

import (
	"context"
	"encoding/json"
	"fmt"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"go.uber.org/zap"

	"github.com/murmurhq/murmur/pkg/classify"
	"github.com/murmurhq/murmur/pkg/journal"
)

const (
	// DefaultModel is the default classification model.
	DefaultModel = "gpt-4o-mini"
)

const systemPrompt = `You extract structured facts from a developer's spoken journal entry.
Respond with a single JSON object, nothing else:
{
  "category": one of coding|learning|debugging|research|meeting|planning|blockers|achievement|other,
  "activities": [short phrases, what was worked on],
  "blockers": [short phrases, unresolved obstacles],
  "accomplishments": [short phrases, things completed],
  "learnings": [short phrases, things learned],
  "keywords": [3 to 5 lowercase single words or short terms],
  "sentiment": one of positive|neutral|negative,
  "summary": one sentence, at most 50 words
}`

// Classifier extracts facts via chat completions.
type Classifier struct {
	client oai.Client
	model  string
	logger *zap.Logger
}

// Config holds configuration for the OpenAI classifier.
type Config struct {
	// APIKey authenticates against the API. Required.
	APIKey string

	// BaseURL overrides the API endpoint, for proxies or compatible servers.
	BaseURL string

	// Model defaults to DefaultModel if empty.
	Model string
}

// factPayload mirrors the JSON contract; kept separate from the journal type
// so loose model output never partially mutates a fact in place.
type factPayload struct {
	Category        string   `json:"category"`
	Activities      []string `json:"activities"`
	Blockers        []string `json:"blockers"`
	Accomplishments []string `json:"accomplishments"`
	Learnings       []string `json:"learnings"`
	Keywords        []string `json:"keywords"`
	Sentiment       string   `json:"sentiment"`
	Summary         string   `json:"summary"`
}

// NewClassifier creates a chat-completions backed classifier.
func NewClassifier(cfg Config, logger *zap.Logger) (*Classifier, error) {
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

	return &Classifier{
		client: oai.NewClient(opts...),
		model:  model,
		logger: logger,
	}, nil
}

// Classify extracts a structured fact from the transcript.
func (c *Classifier) Classify(ctx context.Context, entryID, rawText string) (*journal.StructuredFact, error) {
	completion, err := c.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(systemPrompt),
			oai.UserMessage(rawText),
		},
		ResponseFormat: oai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", classify.ErrClassification, err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices returned", classify.ErrClassification)
	}

	var payload factPayload
	if err := json.Unmarshal([]byte(completion.Choices[0].Message.Content), &payload); err != nil {
		return nil, fmt.Errorf("%w: decoding fact json: %v", classify.ErrClassification, err)
	}

	fact := &journal.StructuredFact{
		EntryID:         entryID,
		Category:        journal.Category(payload.Category),
		Activities:      payload.Activities,
		Blockers:        payload.Blockers,
		Accomplishments: payload.Accomplishments,
		Learnings:       payload.Learnings,
		Keywords:        payload.Keywords,
		Sentiment:       journal.Sentiment(payload.Sentiment),
		Summary:         payload.Summary,
	}
	fact.Normalize()

	if err := fact.Validate(); err != nil {
		c.logger.Warn("classifier produced invalid fact",
			zap.String("entry_id", entryID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", classify.ErrClassification, err)
	}

	c.logger.Debug("classified entry",
		zap.String("entry_id", entryID),
		zap.String("category", string(fact.Category)),
	)

	return fact, nil
}

// Close releases resources held by the classifier.
func (c *Classifier) Close() error {
	return nil
}

var _ classify.Classifier = (*Classifier)(nil)
