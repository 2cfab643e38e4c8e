package generator

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/eino-contrib/jsonschema"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/pbaille/tweetpipe/internal/domain"
	"google.golang.org/genai"
)

// DefaultOllamaURL is where a local Ollama listens
const DefaultOllamaURL = "http://localhost:11434"

// ProviderConfig holds the settings shared by all backends
type ProviderConfig struct {
	OllamaURL string
	// GoogleURL and OpenAIURL override the hosted endpoints when set
	GoogleURL string
	OpenAIURL string
	Timeout   time.Duration
}

// NewModelFactory returns a factory that builds an eino chat model for the
// provider named in the settings
func NewModelFactory(cfg ProviderConfig) ModelFactory {
	if strings.TrimSpace(cfg.OllamaURL) == "" {
		cfg.OllamaURL = DefaultOllamaURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}

	return func(ctx context.Context, s domain.Settings) (ChatModel, error) {
		if strings.TrimSpace(s.Model) == "" {
			return nil, fmt.Errorf("%w: model is empty", ErrInvalidProvider)
		}
		if s.Provider.NeedsAPIKey() && strings.TrimSpace(s.APIKey) == "" {
			return nil, fmt.Errorf("%w for %s", ErrMissingAPIKey, s.Provider)
		}

		temperature := Temperature

		switch s.Provider {
		case domain.ProviderGoogle:
			client, err := genai.NewClient(ctx, &genai.ClientConfig{
				APIKey:      s.APIKey,
				Backend:     genai.BackendGeminiAPI,
				HTTPClient:  &http.Client{Timeout: cfg.Timeout},
				HTTPOptions: genai.HTTPOptions{BaseURL: cfg.GoogleURL},
			})
			if err != nil {
				return nil, fmt.Errorf("create genai client: %w", err)
			}
			return gemini.NewChatModel(ctx, &gemini.Config{
				Client:         client,
				Model:          s.Model,
				Temperature:    &temperature,
				ResponseSchema: draftArraySchema(),
			})

		case domain.ProviderOpenAI:
			return openai.NewChatModel(ctx, &openai.ChatModelConfig{
				APIKey:         s.APIKey,
				BaseURL:        cfg.OpenAIURL,
				Model:          s.Model,
				Temperature:    &temperature,
				Timeout:        cfg.Timeout,
				ResponseFormat: draftResponseFormat(),
			})

		case domain.ProviderOllama:
			// Ollama speaks the OpenAI chat completions protocol under /v1.
			return openai.NewChatModel(ctx, &openai.ChatModelConfig{
				APIKey:         "ollama",
				BaseURL:        strings.TrimRight(cfg.OllamaURL, "/") + "/v1",
				Model:          s.Model,
				Temperature:    &temperature,
				Timeout:        cfg.Timeout,
				ResponseFormat: draftResponseFormat(),
			})
		}

		return nil, fmt.Errorf("%w: %q", ErrInvalidProvider, s.Provider)
	}
}

// draftArraySchema constrains Gemini output to [{"tweet": "..."}]
func draftArraySchema() *openapi3.Schema {
	item := openapi3.NewObjectSchema().WithProperty("tweet", openapi3.NewStringSchema())
	item.Required = []string{"tweet"}
	return openapi3.NewArraySchema().WithItems(item)
}

// draftResponseFormat is the strict JSON schema sent to OpenAI-compatible
// backends. Structured outputs need an object at the root, so the drafts
// are wrapped as {"tweets": [{"tweet": "..."}]}.
func draftResponseFormat() *openai.ChatCompletionResponseFormat {
	itemProps := jsonschema.NewProperties()
	itemProps.Set("tweet", &jsonschema.Schema{Type: string(openapi3.TypeString)})
	item := &jsonschema.Schema{
		Type:                 string(openapi3.TypeObject),
		Properties:           itemProps,
		Required:             []string{"tweet"},
		AdditionalProperties: jsonschema.FalseSchema,
	}

	rootProps := jsonschema.NewProperties()
	rootProps.Set("tweets", &jsonschema.Schema{Type: string(openapi3.TypeArray), Items: item})

	return &openai.ChatCompletionResponseFormat{
		Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
		JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
			Name:        "drafts",
			Description: "candidate social posts",
			Strict:      true,
			JSONSchema: &jsonschema.Schema{
				Type:                 string(openapi3.TypeObject),
				Properties:           rootProps,
				Required:             []string{"tweets"},
				AdditionalProperties: jsonschema.FalseSchema,
			},
		},
	}
}
