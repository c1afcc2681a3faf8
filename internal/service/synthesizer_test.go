package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tessellate-ai/querymesh/internal/domain"
)

// fakeAnswerGenerator records the prompt it received
type fakeAnswerGenerator struct {
	answer string
	err    error
	prompt string
}

func (f *fakeAnswerGenerator) GenerateAnswer(ctx context.Context, prompt string) (string, error) {
	f.prompt = prompt
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

func synthChunk(id, content string, normalized float32) *RetrievedChunk {
	return &RetrievedChunk{
		ChunkID:         id,
		Content:         content,
		NormalizedScore: normalized,
		Partition:       domain.PartitionKey{Kind: domain.PartitionKindPrivate, OwnerID: "user-1"},
	}
}

func TestSynthesizer_Synthesize(t *testing.T) {
	ctx := context.Background()

	t.Run("returns generated answer with confidence from scores", func(t *testing.T) {
		generator := &fakeAnswerGenerator{answer: "  The answer is 42. [1]  "}
		synthesizer := NewSynthesizer(generator)

		chunks := []*RetrievedChunk{
			synthChunk("c1", "first excerpt", 0.8),
			synthChunk("c2", "second excerpt", 0.6),
		}

		result := synthesizer.Synthesize(ctx, "what is the answer?", chunks, nil)

		assert.Equal(t, "The answer is 42. [1]", result.Answer)
		assert.False(t, result.Fallback)
		assert.Equal(t, 2, result.ChunksUsed)
		assert.InDelta(t, 0.7, result.Confidence, 0.0001)
	})

	t.Run("confidence clamps to the 0.3-0.9 band", func(t *testing.T) {
		synthesizer := NewSynthesizer(&fakeAnswerGenerator{answer: "ok"})

		low := synthesizer.Synthesize(ctx, "q", []*RetrievedChunk{synthChunk("c1", "x", 0.05)}, nil)
		high := synthesizer.Synthesize(ctx, "q", []*RetrievedChunk{synthChunk("c1", "x", 0.99)}, nil)

		assert.Equal(t, float32(0.3), low.Confidence)
		assert.Equal(t, float32(0.9), high.Confidence)
	})

	t.Run("backend failure falls back to excerpts", func(t *testing.T) {
		generator := &fakeAnswerGenerator{err: errors.New("model overloaded")}
		synthesizer := NewSynthesizer(generator)

		chunks := []*RetrievedChunk{
			synthChunk("c1", "first excerpt", 0.9),
			synthChunk("c2", "second excerpt", 0.8),
			synthChunk("c3", "third excerpt", 0.7),
			synthChunk("c4", "fourth excerpt", 0.6),
		}

		result := synthesizer.Synthesize(ctx, "what happened?", chunks, nil)

		assert.True(t, result.Fallback)
		assert.Equal(t, float32(FallbackConfidence), result.Confidence)
		assert.Contains(t, result.Answer, "temporarily unavailable")
		assert.Contains(t, result.Answer, "first excerpt")
		assert.Contains(t, result.Answer, "third excerpt")
		// Only the top excerpts appear in the fallback.
		assert.NotContains(t, result.Answer, "fourth excerpt")
	})

	t.Run("prompt includes chunks and recent-first conversation turns", func(t *testing.T) {
		generator := &fakeAnswerGenerator{answer: "ok"}
		synthesizer := NewSynthesizer(generator)

		chunks := []*RetrievedChunk{synthChunk("c1", "grounded content", 0.8)}
		turns := []domain.ContextTurn{
			{Question: "older question", Answer: "older answer"},
			{Question: "newer question", Answer: "newer answer"},
		}

		synthesizer.Synthesize(ctx, "follow-up?", chunks, turns)

		require.Contains(t, generator.prompt, "[1] grounded content")
		require.Contains(t, generator.prompt, "newer question")
		require.Contains(t, generator.prompt, "older question")
		assert.Less(t,
			strings.Index(generator.prompt, "newer question"),
			strings.Index(generator.prompt, "older question"))
	})

	t.Run("character budget truncates chunks", func(t *testing.T) {
		generator := &fakeAnswerGenerator{answer: "ok"}
		synthesizer := NewSynthesizerWithConfig(generator, SynthesizerConfig{CharBudget: 60})

		chunks := []*RetrievedChunk{
			synthChunk("c1", strings.Repeat("a", 40), 0.9),
			synthChunk("c2", strings.Repeat("b", 40), 0.8),
		}

		result := synthesizer.Synthesize(ctx, "q", chunks, nil)

		assert.Equal(t, 1, result.ChunksUsed)
		assert.NotContains(t, generator.prompt, "bbbb")
	})

	t.Run("no chunks answers deterministically without the backend", func(t *testing.T) {
		generator := &fakeAnswerGenerator{answer: "should not be called"}
		synthesizer := NewSynthesizer(generator)

		result := synthesizer.Synthesize(ctx, "q", nil, nil)

		assert.Equal(t, "I couldn't find any relevant documents to answer your question.", result.Answer)
		assert.Equal(t, 0, result.ChunksUsed)
		assert.Equal(t, float32(0), result.Confidence)
		assert.False(t, result.Fallback)
		assert.Empty(t, generator.prompt)
	})
}

func TestExcerpt(t *testing.T) {
	t.Run("collapses whitespace", func(t *testing.T) {
		assert.Equal(t, "a b c", excerpt("a\n\n b\t c", 100))
	})

	t.Run("truncates long content", func(t *testing.T) {
		out := excerpt(strings.Repeat("x", 600), 500)
		assert.Len(t, out, 500)
		assert.True(t, strings.HasSuffix(out, "..."))
	})
}
