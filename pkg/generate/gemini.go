package generate

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/kerna-app/kerna/pkg/plans"
)

// GeminiGenerator streams completions from the Gemini API
type GeminiGenerator struct {
	client *genai.Client
}

// NewGeminiGenerator creates a Gemini-backed generator
func NewGeminiGenerator(ctx context.Context, apiKey string) (*GeminiGenerator, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiGenerator{client: client}, nil
}

// Close releases the underlying API client
func (g *GeminiGenerator) Close() error {
	return g.client.Close()
}

// Generate streams one completion, forwarding chunks to the sink as they
// arrive. A sink failure stops forwarding but still returns the partial
// result, so the tokens already consumed get settled. Token usage comes
// from the API's usage metadata; when the final chunk omits it, usage is
// estimated from the emitted text so settlement always has a number to
// bill.
func (g *GeminiGenerator) Generate(ctx context.Context, req Request, sink func(chunk string) error) (*Result, error) {
	model := g.client.GenerativeModel(string(req.Model))
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}

	iter := model.GenerateContentStream(ctx, genai.Text(req.Prompt))

	result := &Result{FinishReason: FinishStop}
	emitted := 0
stream:
	for {
		resp, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			if emitted == 0 {
				return nil, fmt.Errorf("%w: %v", ErrUpstreamGeneration, err)
			}
			// Partial output was already delivered; settle for what
			// was consumed rather than failing the whole request.
			result.FinishReason = FinishError
			break
		}

		for _, cand := range resp.Candidates {
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				text, ok := part.(genai.Text)
				if !ok || len(text) == 0 {
					continue
				}
				emitted += len(text)
				if err := sink(string(text)); err != nil {
					// The upstream kept producing tokens the account owes
					// for; a dead sink stops delivery, not settlement.
					result.FinishReason = FinishError
					break stream
				}
			}
			switch cand.FinishReason {
			case genai.FinishReasonMaxTokens:
				result.FinishReason = FinishLength
			case genai.FinishReasonStop, genai.FinishReasonUnspecified:
				// keep current
			default:
				result.FinishReason = FinishError
			}
		}
		if resp.UsageMetadata != nil {
			result.TokensUsed = int64(resp.UsageMetadata.CandidatesTokenCount)
		}
	}

	if emitted == 0 {
		return nil, ErrUpstreamGeneration
	}
	if result.TokensUsed == 0 {
		// Rough chars-per-token estimate, better than billing zero
		result.TokensUsed = int64(emitted / 4)
		if result.TokensUsed == 0 {
			result.TokensUsed = 1
		}
	}
	return result, nil
}

var _ Generator = (*GeminiGenerator)(nil)

// ModelSupported reports whether the catalog prices the given model
func ModelSupported(catalog *plans.Catalog, m plans.Model) bool {
	for _, known := range catalog.Models() {
		if known == m {
			return true
		}
	}
	return false
}
