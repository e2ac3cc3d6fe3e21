package regionews

import (
	"context"
	"encoding/json"
	"math"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// OutcomeScorer turns text into a bounded scalar such as sentiment.
type OutcomeScorer interface {
	Score(ctx context.Context, text string) (float64, error)
}

// OpenAIConfig configures the OpenAI-backed enrichment adapters.
type OpenAIConfig struct {
	APIKey         string `yaml:"api_key" mapstructure:"api_key"`
	BaseURL        string `yaml:"base_url" mapstructure:"base_url"`
	EmbeddingModel string `yaml:"embedding_model" mapstructure:"embedding_model"`
	ScoringModel   string `yaml:"scoring_model" mapstructure:"scoring_model"`
	Concurrency    int    `yaml:"concurrency" mapstructure:"concurrency"`
}

// NewOpenAIClient builds a client from cfg.
func NewOpenAIClient(cfg OpenAIConfig) openai.Client {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return openai.NewClient(opts...)
}

// maxEmbedChars keeps requests under the embedding model's input limit.
const maxEmbedChars = 8000

// OpenAIEmbedder embeds text with the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client openai.Client
	model  string
}

// NewOpenAIEmbedder returns an embedder using model, or
// text-embedding-3-large when model is empty.
func NewOpenAIEmbedder(client openai.Client, model string) *OpenAIEmbedder {
	if model == "" {
		model = string(openai.EmbeddingModelTextEmbedding3Large)
	}
	return &OpenAIEmbedder{client: client, model: model}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(truncateRunes(text, maxEmbedChars)),
		},
		Model:          openai.EmbeddingModel(e.model),
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	})
	if err != nil {
		return nil, eris.Wrap(err, "openai: create embedding")
	}
	if len(resp.Data) == 0 {
		return nil, eris.New("openai: no embedding data in response")
	}
	return resp.Data[0].Embedding, nil
}

// sentimentResult is the structured reply of the scoring model.
type sentimentResult struct {
	Score float64 `json:"score" jsonschema:"description=Overall tone of the article from -1 (very negative) to 1 (very positive),minimum=-1,maximum=1"`
	Label string  `json:"label" jsonschema:"description=One word tone label,enum=negative,enum=neutral,enum=positive"`
}

const sentimentPrompt = `You rate the tone of local news articles.
Read the article and return a single score between -1 and 1:
-1 is very negative, 0 is neutral, 1 is very positive.
Judge the tone of the reporting, not whether the topic is important.`

// OpenAISentimentScorer scores article tone with a chat model constrained to
// a JSON schema.
type OpenAISentimentScorer struct {
	client openai.Client
	model  string
	schema any
}

// NewOpenAISentimentScorer returns a scorer using model, or gpt-4.1-mini
// when model is empty.
func NewOpenAISentimentScorer(client openai.Client, model string) (*OpenAISentimentScorer, error) {
	if model == "" {
		model = string(openai.ChatModelGPT4_1Mini)
	}

	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	schemaObj := reflector.Reflect(&sentimentResult{})
	if schemaObj.Type == "" {
		schemaObj.Type = "object"
	}

	// Round-trip to a plain value for the SDK
	schemaBytes, err := json.Marshal(schemaObj)
	if err != nil {
		return nil, eris.Wrap(err, "openai: marshal sentiment schema")
	}
	var schema any
	if err := json.Unmarshal(schemaBytes, &schema); err != nil {
		return nil, eris.Wrap(err, "openai: unmarshal sentiment schema")
	}
	return &OpenAISentimentScorer{client: client, model: model, schema: schema}, nil
}

func (s *OpenAISentimentScorer) Score(ctx context.Context, text string) (float64, error) {
	completion, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(sentimentPrompt),
			openai.UserMessage(truncateRunes(text, maxEmbedChars)),
		},
		Model:       openai.ChatModel(s.model),
		MaxTokens:   openai.Int(100),
		Temperature: openai.Float(0),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        "article_sentiment",
					Description: openai.String("Tone score of a news article"),
					Schema:      s.schema,
					Strict:      openai.Bool(true),
				},
			},
		},
	})
	if err != nil {
		return 0, eris.Wrap(err, "openai: score sentiment")
	}
	if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
		return 0, eris.New("openai: no content in sentiment response")
	}

	var result sentimentResult
	if err := json.Unmarshal([]byte(completion.Choices[0].Message.Content), &result); err != nil {
		return 0, eris.Wrap(err, "openai: parse sentiment response")
	}
	if math.IsNaN(result.Score) {
		return 0, eris.New("openai: sentiment score is NaN")
	}
	return math.Max(-1, math.Min(1, result.Score)), nil
}

// EnrichStats counts what Enrich did.
type EnrichStats struct {
	Embedded int
	Scored   int
	Failed   int
}

// Enrich fills in missing embeddings and outcomes of docs in place. Either
// collaborator may be nil to skip that step. A document that fails is logged
// and left as is; only cancellation of ctx is returned as an error.
func Enrich(ctx context.Context, docs []Document, embedder Embedder, scorer OutcomeScorer, concurrency int) (EnrichStats, error) {
	type outcome struct {
		embedded, scored, failed bool
	}
	results := make([]outcome, len(docs))

	var g errgroup.Group
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for i := range docs {
		if ctx.Err() != nil {
			break
		}
		doc := &docs[i]
		needsEmbedding := embedder != nil && len(doc.Embedding) == 0
		needsOutcome := scorer != nil && doc.Outcome == nil
		if !needsEmbedding && !needsOutcome {
			continue
		}
		g.Go(func() error {
			text := strings.TrimSpace(doc.Title + "\n" + doc.ClusteringText())
			if needsEmbedding {
				embedding, err := embedder.Embed(ctx, text)
				if err != nil {
					zap.L().Warn("failed to embed document", zap.String("id", doc.ID), zap.Error(err))
					results[i].failed = true
				} else {
					doc.Embedding = embedding
					results[i].embedded = true
				}
			}
			if needsOutcome {
				score, err := scorer.Score(ctx, text)
				if err != nil {
					zap.L().Warn("failed to score document", zap.String("id", doc.ID), zap.Error(err))
					results[i].failed = true
				} else {
					doc.Outcome = &score
					results[i].scored = true
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	var stats EnrichStats
	for _, r := range results {
		if r.embedded {
			stats.Embedded++
		}
		if r.scored {
			stats.Scored++
		}
		if r.failed {
			stats.Failed++
		}
	}
	zap.L().Info("enriched documents",
		zap.Int("documents", len(docs)),
		zap.Int("embedded", stats.Embedded),
		zap.Int("scored", stats.Scored),
		zap.Int("failed", stats.Failed),
	)
	if err := ctx.Err(); err != nil {
		return stats, eris.Wrap(err, "enrich")
	}
	return stats, nil
}
