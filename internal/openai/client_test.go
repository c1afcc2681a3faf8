package openai

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbeddingAPI struct {
	embedding []float32
	err       error
}

func (f *fakeEmbeddingAPI) CreateEmbeddings(ctx context.Context, text string) ([]float32, error) {
	return f.embedding, f.err
}

type fakeCompletionAPI struct {
	answer string
	err    error
}

func (f *fakeCompletionAPI) CreateCompletion(ctx context.Context, prompt string) (string, error) {
	return f.answer, f.err
}

func TestGenerateEmbedding(t *testing.T) {
	ctx := context.Background()

	t.Run("returns embedding with expected dimensions", func(t *testing.T) {
		embedding := make([]float32, 8)
		client := &Client{embeddings: &fakeEmbeddingAPI{embedding: embedding}, dimensions: 8}

		got, err := client.GenerateEmbedding(ctx, "biomarkers")
		require.NoError(t, err)
		assert.Len(t, got, 8)
	})

	t.Run("rejects empty text", func(t *testing.T) {
		client := &Client{embeddings: &fakeEmbeddingAPI{}, dimensions: 8}

		_, err := client.GenerateEmbedding(ctx, "")
		assert.ErrorIs(t, err, ErrEmptyText)
	})

	t.Run("wraps backend error", func(t *testing.T) {
		backendErr := errors.New("rate limited")
		client := &Client{embeddings: &fakeEmbeddingAPI{err: backendErr}, dimensions: 8}

		_, err := client.GenerateEmbedding(ctx, "biomarkers")
		assert.ErrorIs(t, err, backendErr)
	})

	t.Run("rejects wrong dimensions", func(t *testing.T) {
		client := &Client{embeddings: &fakeEmbeddingAPI{embedding: make([]float32, 4)}, dimensions: 8}

		_, err := client.GenerateEmbedding(ctx, "biomarkers")
		assert.ErrorIs(t, err, ErrWrongDimensions)
	})
}

func TestGenerateAnswer(t *testing.T) {
	ctx := context.Background()

	t.Run("returns completion text", func(t *testing.T) {
		client := &Client{completions: &fakeCompletionAPI{answer: "PD-L1 expression."}}

		got, err := client.GenerateAnswer(ctx, "question with context")
		require.NoError(t, err)
		assert.Equal(t, "PD-L1 expression.", got)
	})

	t.Run("rejects empty prompt", func(t *testing.T) {
		client := &Client{completions: &fakeCompletionAPI{}}

		_, err := client.GenerateAnswer(ctx, "")
		assert.ErrorIs(t, err, ErrEmptyText)
	})

	t.Run("wraps backend error", func(t *testing.T) {
		backendErr := errors.New("model overloaded")
		client := &Client{completions: &fakeCompletionAPI{err: backendErr}}

		_, err := client.GenerateAnswer(ctx, "question")
		assert.ErrorIs(t, err, backendErr)
	})
}
