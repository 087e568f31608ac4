package providers

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAIEmbeddingFunc returns a chromem-go-compatible embedding function
// backed by the OpenAI embeddings API, letting the memory vector store
// embed with the same provider credentials the chat path uses.
func OpenAIEmbeddingFunc(apiKey, apiBase, model string) func(ctx context.Context, text string) ([]float32, error) {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if apiBase != "" {
		opts = append(opts, option.WithBaseURL(apiBase))
	}
	if model == "" {
		model = "text-embedding-3-small"
	}
	client := openai.NewClient(opts...)

	return func(ctx context.Context, text string) ([]float32, error) {
		resp, err := client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Model: model,
			Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		})
		if err != nil {
			return nil, fmt.Errorf("openai: embedding request: %w", err)
		}
		if len(resp.Data) == 0 {
			return nil, fmt.Errorf("openai: empty embedding response")
		}
		vec := make([]float32, len(resp.Data[0].Embedding))
		for i, v := range resp.Data[0].Embedding {
			vec[i] = float32(v)
		}
		return vec, nil
	}
}
