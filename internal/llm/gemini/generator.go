// Package gemini implements llm.Generator on the Google Gen AI SDK.
package gemini

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/amumu-chat/amumu/internal/llm"
)

// Generator calls Gemini's generateContent endpoint.
type Generator struct {
	models contentGenerator
	params llm.Params
}

// contentGenerator is the slice of *genai.Models the generator needs.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

var _ llm.Generator = (*Generator)(nil)

// blockedFinish lists finish reasons that mean the reply was withheld.
var blockedFinish = map[genai.FinishReason]bool{
	genai.FinishReasonSafety:            true,
	genai.FinishReasonRecitation:        true,
	genai.FinishReasonLanguage:          true,
	genai.FinishReasonBlocklist:         true,
	genai.FinishReasonProhibitedContent: true,
	genai.FinishReasonSPII:              true,
}

// New creates a Gemini generator authenticated with apiKey.
func New(ctx context.Context, apiKey string, params llm.Params) (*Generator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return newWithModels(client.Models, params), nil
}

func newWithModels(models contentGenerator, params llm.Params) *Generator {
	if params.Model == "" {
		params.Model = llm.DefaultParams().Model
	}
	return &Generator{models: models, params: params}
}

// Generate sends prompt as a single user turn and returns the reply text.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(g.params.Temperature),
		TopK:            genai.Ptr(g.params.TopK),
		TopP:            genai.Ptr(g.params.TopP),
		MaxOutputTokens: g.params.MaxOutputTokens,
	}

	res, err := g.models.GenerateContent(ctx, g.params.Model, genai.Text(prompt), config)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}

	if res == nil {
		return "", llm.ErrEmptyResponse
	}
	if fb := res.PromptFeedback; fb != nil && fb.BlockReason != "" {
		return "", fmt.Errorf("%w: prompt blocked (%s)", llm.ErrBlocked, fb.BlockReason)
	}
	if len(res.Candidates) == 0 {
		return "", llm.ErrEmptyResponse
	}
	cand := res.Candidates[0]
	if blockedFinish[cand.FinishReason] {
		return "", fmt.Errorf("%w: finish reason %s", llm.ErrBlocked, cand.FinishReason)
	}
	if cand.Content == nil {
		return "", llm.ErrEmptyResponse
	}

	var sb strings.Builder
	for _, part := range cand.Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		sb.WriteString(part.Text)
	}
	text := sb.String()
	if strings.TrimSpace(text) == "" {
		return "", llm.ErrEmptyResponse
	}
	return text, nil
}
