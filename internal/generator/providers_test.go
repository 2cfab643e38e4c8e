package generator

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/schema"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/pbaille/tweetpipe/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModelFactory_BuildsEachProvider(t *testing.T) {
	factory := NewModelFactory(ProviderConfig{OllamaURL: "http://127.0.0.1:11434/", Timeout: time.Second})
	ctx := context.Background()

	cases := []domain.Settings{
		{Provider: domain.ProviderGoogle, Model: "gemini-1.5-pro", APIKey: "key"},
		{Provider: domain.ProviderOpenAI, Model: "gpt-4o-mini", APIKey: "sk-test"},
		{Provider: domain.ProviderOllama, Model: "llama3:latest"},
	}
	for _, s := range cases {
		m, err := factory(ctx, s)
		require.NoError(t, err, s.Provider)
		assert.NotNil(t, m, s.Provider)
	}
}

func TestModelFactory_Rejects(t *testing.T) {
	factory := NewModelFactory(ProviderConfig{})
	ctx := context.Background()

	_, err := factory(ctx, domain.Settings{Provider: "anthropic", Model: "claude"})
	assert.ErrorIs(t, err, ErrInvalidProvider)

	_, err = factory(ctx, domain.Settings{Provider: domain.ProviderOllama})
	assert.ErrorIs(t, err, ErrInvalidProvider)

	_, err = factory(ctx, domain.Settings{Provider: domain.ProviderOpenAI, Model: "gpt-4o"})
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	_, err = factory(ctx, domain.Settings{Provider: domain.ProviderGoogle, Model: "gemini-1.5-pro", APIKey: " "})
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

// recordingServer answers every request with body and keeps the last request body
func recordingServer(t *testing.T, body string) (*httptest.Server, func() map[string]any) {
	t.Helper()
	var last []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		last, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, func() map[string]any {
		var req map[string]any
		require.NoError(t, json.Unmarshal(last, &req), string(last))
		return req
	}
}

const chatCompletion = `{"id":"1","object":"chat.completion","created":0,"model":"m",` +
	`"choices":[{"index":0,"message":{"role":"assistant","content":"{\"tweets\":[{\"tweet\":\"hi\"}]}"},"finish_reason":"stop"}]}`

func TestModelFactory_OpenAICompatibleSendsSchema(t *testing.T) {
	ctx := context.Background()
	cases := map[string]func(url string) (ProviderConfig, domain.Settings){
		"ollama": func(url string) (ProviderConfig, domain.Settings) {
			return ProviderConfig{OllamaURL: url}, domain.Settings{Provider: domain.ProviderOllama, Model: "llama3"}
		},
		"openai": func(url string) (ProviderConfig, domain.Settings) {
			return ProviderConfig{OpenAIURL: url + "/v1"}, domain.Settings{Provider: domain.ProviderOpenAI, Model: "gpt-4o-mini", APIKey: "sk-test"}
		},
	}
	for name, setup := range cases {
		t.Run(name, func(t *testing.T) {
			srv, lastRequest := recordingServer(t, chatCompletion)
			cfg, settings := setup(srv.URL)

			m, err := NewModelFactory(cfg)(ctx, settings)
			require.NoError(t, err)
			msg, err := m.Generate(ctx, []*schema.Message{schema.UserMessage("drafts please")})
			require.NoError(t, err)

			tweets, err := parseResponse(msg.Content)
			require.NoError(t, err)
			assert.Equal(t, []string{"hi"}, tweets)

			format, ok := lastRequest()["response_format"].(map[string]any)
			require.True(t, ok, "response_format missing")
			assert.Equal(t, "json_schema", format["type"])
			js, ok := format["json_schema"].(map[string]any)
			require.True(t, ok)
			assert.Equal(t, "drafts", js["name"])
			assert.Equal(t, true, js["strict"])
			root, ok := js["schema"].(map[string]any)
			require.True(t, ok)
			assert.Equal(t, "object", root["type"])
			assert.Equal(t, []any{"tweets"}, root["required"])
		})
	}
}

func TestModelFactory_GeminiSendsSchema(t *testing.T) {
	ctx := context.Background()
	srv, lastRequest := recordingServer(t,
		`{"candidates":[{"content":{"role":"model","parts":[{"text":"[{\"tweet\":\"hi\"}]"}]},"finishReason":"STOP"}]}`)

	factory := NewModelFactory(ProviderConfig{GoogleURL: srv.URL})
	m, err := factory(ctx, domain.Settings{Provider: domain.ProviderGoogle, Model: "gemini-1.5-pro", APIKey: "key"})
	require.NoError(t, err)
	msg, err := m.Generate(ctx, []*schema.Message{schema.UserMessage("drafts please")})
	require.NoError(t, err)

	tweets, err := parseResponse(msg.Content)
	require.NoError(t, err)
	assert.Equal(t, []string{"hi"}, tweets)

	genCfg, ok := lastRequest()["generationConfig"].(map[string]any)
	require.True(t, ok, "generationConfig missing")
	assert.Equal(t, "application/json", genCfg["responseMimeType"])
	rs, ok := genCfg["responseSchema"].(map[string]any)
	require.True(t, ok, "responseSchema missing")
	items, ok := rs["items"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, items["properties"], "tweet")
	assert.Equal(t, []any{"tweet"}, items["required"])
}

func TestDraftSchemas(t *testing.T) {
	arr := draftArraySchema()
	assert.Equal(t, openapi3.TypeArray, arr.Type)
	require.NotNil(t, arr.Items)
	item := arr.Items.Value
	assert.Equal(t, openapi3.TypeObject, item.Type)
	assert.Equal(t, []string{"tweet"}, item.Required)
	assert.Equal(t, openapi3.TypeString, item.Properties["tweet"].Value.Type)

	format := draftResponseFormat()
	assert.Equal(t, openai.ChatCompletionResponseFormatTypeJSONSchema, format.Type)
	require.NotNil(t, format.JSONSchema)
	assert.True(t, format.JSONSchema.Strict)

	raw, err := json.Marshal(format.JSONSchema.JSONSchema)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type": "object",
		"properties": {
			"tweets": {
				"type": "array",
				"items": {
					"type": "object",
					"properties": {"tweet": {"type": "string"}},
					"required": ["tweet"],
					"additionalProperties": false
				}
			}
		},
		"required": ["tweets"],
		"additionalProperties": false
	}`, string(raw))
}
