package domain

import (
	"fmt"
	"strings"
)

// Provider selects the LLM backend used for draft generation
type Provider string

const (
	ProviderOllama Provider = "ollama"
	ProviderGoogle Provider = "google"
	ProviderOpenAI Provider = "openai"
)

// Providers lists the supported backends in display order
var Providers = []Provider{ProviderGoogle, ProviderOpenAI, ProviderOllama}

// ParseProvider validates a provider tag
func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case ProviderOllama, ProviderGoogle, ProviderOpenAI:
		return p, nil
	}
	return "", fmt.Errorf("unsupported provider %q", s)
}

// NeedsAPIKey reports whether the backend requires a credential
func (p Provider) NeedsAPIKey() bool {
	return p == ProviderGoogle || p == ProviderOpenAI
}

// Settings is the persisted generation configuration
type Settings struct {
	Provider Provider `json:"provider"`
	Model    string   `json:"model"`
	APIKey   string   `json:"apiKey,omitempty"`
	Mood     string   `json:"mood,omitempty"`
}

// SettingsPatch is a partial settings update; nil fields are left untouched
type SettingsPatch struct {
	Provider *string `json:"provider,omitempty"`
	Model    *string `json:"model,omitempty"`
	APIKey   *string `json:"apiKey,omitempty"`
	Mood     *string `json:"mood,omitempty"`
}

// Draft is a generated post candidate
type Draft struct {
	ID    string `json:"id"`
	Tweet string `json:"tweet"`
}

// History maps an ISO-8601 run timestamp to the drafts produced by that run
type History map[string][]Draft

// Chunk is the generator input projected from an OCR record
type Chunk struct {
	Text string `json:"text"`
}

// OCRChunk is a text record recognized from a captured screen frame
type OCRChunk struct {
	FrameID    int64  `json:"frame_id"`
	Text       string `json:"text"`
	TextJSON   string `json:"text_json,omitempty"`
	AppName    string `json:"app_name"`
	OCREngine  string `json:"ocr_engine,omitempty"`
	WindowName string `json:"window_name"`
	Focused    int    `json:"focused"`
}

// OCRPage is one page of OCR records plus the total matching row count
type OCRPage struct {
	Data      []OCRChunk `json:"data"`
	TotalRows int        `json:"totalRows"`
}

// ChunksFromOCR projects OCR records to generator input, dropping blank text
func ChunksFromOCR(records []OCRChunk) []Chunk {
	chunks := make([]Chunk, 0, len(records))
	for _, r := range records {
		if strings.TrimSpace(r.Text) == "" {
			continue
		}
		chunks = append(chunks, Chunk{Text: r.Text})
	}
	return chunks
}
