package sentiment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"companion-service/internal/models"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
)

const classifyInstructions = `You label the emotional tone of a single chat message written to a companion.
Pick exactly one primary_emotion from the allowed values.
intensity is how strongly the emotion is expressed, confidence is how sure you are. Both are between 0 and 1.`

type emotionAnalysis struct {
	PrimaryEmotion string  `json:"primary_emotion" jsonschema:"required,enum=flirty,enum=supportive,enum=playful,enum=intimate,enum=excited,enum=curious,enum=sad,enum=angry,enum=confused,enum=neutral"`
	Intensity      float64 `json:"intensity" jsonschema:"required,minimum=0,maximum=1"`
	Confidence     float64 `json:"confidence" jsonschema:"required,minimum=0,maximum=1"`
}

// OpenAIConfig configures OpenAIRemote.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// OpenAIRemote classifies with a structured-output call to the OpenAI
// Responses API.
type OpenAIRemote struct {
	client *openai.Client
	model  string
	schema map[string]interface{}
}

// NewOpenAIRemote creates the OpenAI backed classifier.
func NewOpenAIRemote(cfg OpenAIConfig) (*OpenAIRemote, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(0)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)

	return &OpenAIRemote{
		client: &client,
		model:  cfg.Model,
		schema: generateSchema[emotionAnalysis](),
	}, nil
}

// Classify implements Remote.
func (r *OpenAIRemote) Classify(ctx context.Context, text string) (*models.SentimentResult, error) {
	params := responses.ResponseNewParams{
		Model:           r.model,
		MaxOutputTokens: openai.Int(100),
		Instructions:    openai.String(classifyInstructions),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: []responses.ResponseInputItemUnionParam{
				responses.ResponseInputItemParamOfMessage(text, responses.EasyInputMessageRoleUser),
			},
		},
		Text: responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigUnionParam{
				OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
					Name:        "EmotionAnalysis",
					Schema:      r.schema,
					Strict:      openai.Bool(true),
					Description: openai.String("Emotion label of a chat message"),
					Type:        "json_schema",
				},
			},
		},
	}

	resp, err := r.client.Responses.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai classify request failed: %w", err)
	}

	var out emotionAnalysis
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp.OutputText())), &out); err != nil {
		return nil, fmt.Errorf("failed to parse openai classification: %w", err)
	}

	return &models.SentimentResult{
		Label:      models.EmotionLabel(out.PrimaryEmotion),
		Intensity:  out.Intensity,
		Confidence: out.Confidence,
	}, nil
}

func generateSchema[T any]() map[string]interface{} {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties:  false,
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	var v T
	b, err := reflector.Reflect(v).MarshalJSON()
	if err != nil {
		panic(err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		panic(err)
	}
	m["additionalProperties"] = false
	return m
}
