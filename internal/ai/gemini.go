package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

var ErrEmptyResponse = errors.New("no response candidates from Gemini")

// GeminiProvider implements DestinationParser using Google's Gemini models.
type GeminiProvider struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGeminiProvider initializes a new Gemini client.
func NewGeminiProvider(ctx context.Context, apiKey, modelName string) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	if modelName == "" {
		modelName = "gemini-2.0-flash"
	}

	model := client.GenerativeModel(modelName)
	model.ResponseMIMEType = "application/json"
	model.SetTemperature(0.2)

	return &GeminiProvider{
		client: client,
		model:  model,
	}, nil
}

// Close cleans up the Gemini client resources.
func (p *GeminiProvider) Close() {
	p.client.Close()
}

// ParseDestination asks the model which place the user wants to drive to.
func (p *GeminiProvider) ParseDestination(ctx context.Context, userMessage string, currentContext map[string]string) (*DestinationIntent, error) {
	fullPrompt := fmt.Sprintf("%s\n\nUser Message: %s", buildSystemPrompt(currentContext), userMessage)

	resp, err := p.model.GenerateContent(ctx, genai.Text(fullPrompt))
	if err != nil {
		return nil, fmt.Errorf("gemini generation error: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, ErrEmptyResponse
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			responseText.WriteString(string(txt))
		}
	}
	return decodeIntent(responseText.String())
}

func decodeIntent(raw string) (*DestinationIntent, error) {
	cleanJSON := cleanJSONString(raw)

	var result DestinationIntent
	if err := json.Unmarshal([]byte(cleanJSON), &result); err != nil {
		return nil, fmt.Errorf("failed to parse JSON response: %w. Raw: %s", err, cleanJSON)
	}
	if result.Intent == "" {
		if result.Query() != "" {
			result.Intent = IntentNavigate
		} else {
			result.Intent = IntentClarification
		}
	}
	return &result, nil
}

// buildSystemPrompt constructs the instructions for the AI.
func buildSystemPrompt(ctxMap map[string]string) string {
	currentTime := ctxMap["current_time"]
	userLocation := ctxMap["user_location"]

	if currentTime == "" {
		currentTime = "UNKNOWN_TIME"
	}
	if userLocation == "" {
		userLocation = "UNKNOWN_LOCATION"
	}

	return fmt.Sprintf(`Role: You pick driving destinations for a turn-by-turn navigation app.
Context:
- Current System Time: %s
- User Location (lat,lng): %s

RULES:
1. Extract the single place the user wants to drive to.
2. "search_query" must be a string a maps text search understands. Prefer proper names and add the city when the user gives one.
3. Words like "nearest", "closest", "nearby" mean the search is biased to the user location; do not put them in "search_query".
4. If the user rules something out ("not the parking lot"), list those words in "exclude_keywords".
5. If no destination can be identified, set "intent" to "clarification" and ask one short question in "reply".
6. Reply in the user's language.

OUTPUT (JSON only):
{
  "intent": "navigate" | "clarification",
  "destination": string | null,
  "search_query": string,
  "exclude_keywords": [string],
  "reply": string
}`, currentTime, userLocation)
}

// cleanJSONString removes markdown code blocks if present (e.g. ```json ... ```)
func cleanJSONString(input string) string {
	input = strings.TrimSpace(input)
	input = strings.TrimPrefix(input, "```json")
	input = strings.TrimPrefix(input, "```")
	input = strings.TrimSuffix(input, "```")
	return strings.TrimSpace(input)
}
