package generator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pbaille/tweetpipe/internal/domain"
)

// Variants is how many drafts one generation asks for
const Variants = 3

// Temperature is the sampling temperature sent to every provider
const Temperature float32 = 0.8

const systemInstruction = `You are a friendly social media writing assistant.
You turn OCR text captured from the user's screen into short posts they could publish as-is.
If the text lacks enough context for a post, return an empty JSON array.
Never add remarks, explanations or markdown around your answer.`

// buildPrompt renders the user prompt. The output depends only on the
// chunk texts and the mood.
func buildPrompt(chunks []domain.Chunk, mood string) string {
	// Marshalling a slice of plain structs cannot fail.
	contextJSON, _ := json.Marshal(chunks)

	var sb strings.Builder

	sb.WriteString("Write an organic, casual post of under 200 characters about what I am doing right now.\n")
	sb.WriteString("Stick to what the context shows; do not invent events, names or results it does not imply.\n")
	sb.WriteString("Example: if I was coding and hit a bug, write about how debugging sharpens engineering skills or eats up the afternoon.\n\n")
	sb.WriteString("Context:\n")
	sb.Write(contextJSON)
	sb.WriteString("\n\n")

	if mood = strings.TrimSpace(mood); mood != "" {
		sb.WriteString("Mood: ")
		sb.WriteString(mood)
		sb.WriteString("\n\n")
	}

	fmt.Fprintf(&sb, `Give %d alternative posts for variety.

Return a JSON array with this structure:
[
  {"tweet": "post text"}
]

Return ONLY the JSON array, no other text.`, Variants)

	return sb.String()
}

// parseResponse validates the model output and returns the post texts.
// It accepts the bare array asked for in the prompt and the {"tweets": [...]}
// object that the OpenAI-compatible response schema enforces.
func parseResponse(resp string) ([]string, error) {
	resp = stripFence(resp)

	var items []map[string]json.RawMessage
	if strings.HasPrefix(resp, "{") {
		var wrapped struct {
			Tweets *[]map[string]json.RawMessage `json:"tweets"`
		}
		if err := json.Unmarshal([]byte(resp), &wrapped); err != nil {
			return nil, fmt.Errorf("%w: expected a JSON object: %v", ErrMalformedOutput, err)
		}
		if wrapped.Tweets == nil {
			return nil, fmt.Errorf("%w: object has no tweets array", ErrMalformedOutput)
		}
		items = *wrapped.Tweets
	} else if err := json.Unmarshal([]byte(resp), &items); err != nil {
		return nil, fmt.Errorf("%w: expected a JSON array: %v", ErrMalformedOutput, err)
	}

	tweets := make([]string, 0, len(items))
	for i, item := range items {
		raw, ok := item["tweet"]
		if !ok {
			return nil, fmt.Errorf("%w: item %d has no tweet field", ErrMalformedOutput, i)
		}
		var tweet string
		if err := json.Unmarshal(raw, &tweet); err != nil {
			return nil, fmt.Errorf("%w: item %d tweet is not a string", ErrMalformedOutput, i)
		}
		tweet = strings.TrimSpace(tweet)
		if tweet == "" {
			return nil, fmt.Errorf("%w: item %d tweet is empty", ErrMalformedOutput, i)
		}
		tweets = append(tweets, tweet)
	}

	return tweets, nil
}

// stripFence removes a surrounding markdown code block, whatever its language tag
func stripFence(resp string) string {
	resp = strings.TrimSpace(resp)
	if !strings.HasPrefix(resp, "```") {
		return resp
	}
	if i := strings.IndexByte(resp, '\n'); i >= 0 {
		resp = resp[i+1:]
	} else {
		resp = strings.TrimPrefix(resp, "```")
	}
	resp = strings.TrimSuffix(strings.TrimSpace(resp), "```")
	return strings.TrimSpace(resp)
}
