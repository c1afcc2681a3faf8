package service

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/tessellate-ai/querymesh/internal/domain"
	"github.com/tessellate-ai/querymesh/internal/telemetry"
)

const (
	// DefaultSynthesisCharBudget bounds the grounded context window built
	// from ranked chunks and conversation turns.
	DefaultSynthesisCharBudget = 6000
	// FallbackConfidence is the low sentinel confidence assigned when the
	// synthesis backend fails and the templated fallback answer is used.
	FallbackConfidence = 0.1
	// fallbackExcerptCount is how many top excerpts the fallback answer uses.
	fallbackExcerptCount = 3

	synthesisSystemPrompt = `You are a research assistant helping scholars analyze their documents.
Answer strictly from the provided context. Cite the bracketed source numbers
you rely on and say clearly when the context is insufficient.`
)

// AnswerGenerator is the external answer-synthesis function. It is treated
// as unreliable and always wrapped with fallback logic.
type AnswerGenerator interface {
	GenerateAnswer(ctx context.Context, prompt string) (string, error)
}

// SynthesizerConfig tunes the adapter
type SynthesizerConfig struct {
	CharBudget         int
	FallbackConfidence float32
}

// DefaultSynthesizerConfig returns the adapter defaults
func DefaultSynthesizerConfig() SynthesizerConfig {
	return SynthesizerConfig{
		CharBudget:         DefaultSynthesisCharBudget,
		FallbackConfidence: FallbackConfidence,
	}
}

// SynthesisResult is the outcome of answer synthesis. Fallback marks an
// answer assembled from raw excerpts after a backend failure; the query
// still completes because the citations remain usable.
type SynthesisResult struct {
	Answer     string
	Confidence float32
	Fallback   bool
	ChunksUsed int
}

// Synthesizer builds a grounded prompt from top-ranked chunks plus prior
// conversation turns and invokes the answer-generation function.
type Synthesizer struct {
	generator AnswerGenerator
	cfg       SynthesizerConfig
}

// NewSynthesizer creates a new Synthesizer instance
func NewSynthesizer(generator AnswerGenerator) *Synthesizer {
	return NewSynthesizerWithConfig(generator, DefaultSynthesizerConfig())
}

// NewSynthesizerWithConfig creates a Synthesizer with explicit tuning
func NewSynthesizerWithConfig(generator AnswerGenerator, cfg SynthesizerConfig) *Synthesizer {
	if cfg.CharBudget <= 0 {
		cfg.CharBudget = DefaultSynthesisCharBudget
	}
	if cfg.FallbackConfidence <= 0 {
		cfg.FallbackConfidence = FallbackConfidence
	}
	return &Synthesizer{generator: generator, cfg: cfg}
}

// Synthesize produces an answer for the query from the ranked chunks and
// recent conversation turns. Backend failure never propagates: the
// deterministic excerpt fallback is returned instead.
func (s *Synthesizer) Synthesize(ctx context.Context, queryText string, ranked []*RetrievedChunk, turns []domain.ContextTurn) *SynthesisResult {
	ctx, span := telemetry.StartSpan(ctx, "Synthesizer.Synthesize", telemetry.SpanAttributes{
		Operation: "synthesize",
	})
	defer span.End()

	// Nothing retrieved: answering deterministically beats asking the
	// backend to work from an empty context.
	if len(ranked) == 0 {
		return &SynthesisResult{
			Answer:     "I couldn't find any relevant documents to answer your question.",
			Confidence: 0,
		}
	}

	prompt, chunksUsed := s.buildPrompt(queryText, ranked, turns)

	answer, err := s.generator.GenerateAnswer(ctx, prompt)
	if err != nil {
		log.Printf("synthesis failed, using excerpt fallback: %v", err)
		telemetry.CaptureError(ctx, err)
		return &SynthesisResult{
			Answer:     s.fallbackAnswer(queryText, ranked),
			Confidence: s.cfg.FallbackConfidence,
			Fallback:   true,
			ChunksUsed: chunksUsed,
		}
	}

	return &SynthesisResult{
		Answer:     strings.TrimSpace(answer),
		Confidence: confidenceFromScores(ranked[:chunksUsed]),
		ChunksUsed: chunksUsed,
	}
}

// buildPrompt packs top-ranked chunks and then recent-first conversation
// turns into the character budget. It returns the prompt and the number of
// chunks that fit.
func (s *Synthesizer) buildPrompt(queryText string, ranked []*RetrievedChunk, turns []domain.ContextTurn) (string, int) {
	var b strings.Builder
	b.WriteString(synthesisSystemPrompt)
	b.WriteString("\n\nQuestion: ")
	b.WriteString(queryText)
	b.WriteString("\n\nContext from documents:\n")

	remaining := s.cfg.CharBudget
	chunksUsed := 0
	for i, chunk := range ranked {
		entry := fmt.Sprintf("[%d] %s\n", i+1, strings.TrimSpace(chunk.Content))
		if len(entry) > remaining {
			break
		}
		b.WriteString(entry)
		remaining -= len(entry)
		chunksUsed++
	}

	if len(turns) > 0 && remaining > 0 {
		b.WriteString("\nPrior conversation (most recent first):\n")
		for i := len(turns) - 1; i >= 0; i-- {
			turn := turns[i]
			entry := fmt.Sprintf("Q: %s\nA: %s\n", strings.TrimSpace(turn.Question), strings.TrimSpace(turn.Answer))
			if len(entry) > remaining {
				break
			}
			b.WriteString(entry)
			remaining -= len(entry)
		}
	}

	b.WriteString("\nAnswer the question from the context above.")
	return b.String(), chunksUsed
}

// fallbackAnswer assembles a deterministic templated answer from the top
// excerpts so the caller still gets grounded material with its citations.
func (s *Synthesizer) fallbackAnswer(queryText string, ranked []*RetrievedChunk) string {
	var b strings.Builder
	b.WriteString("Answer synthesis is temporarily unavailable. The most relevant excerpts for \"")
	b.WriteString(queryText)
	b.WriteString("\" are:\n")

	count := fallbackExcerptCount
	if len(ranked) < count {
		count = len(ranked)
	}
	for i := 0; i < count; i++ {
		b.WriteString(fmt.Sprintf("%d. %s\n", i+1, excerpt(ranked[i].Content, 300)))
	}

	return strings.TrimSpace(b.String())
}

// confidenceFromScores mirrors the retrieval quality into a bounded
// confidence value.
func confidenceFromScores(used []*RetrievedChunk) float32 {
	if len(used) == 0 {
		return 0.3
	}

	var sum float32
	for _, chunk := range used {
		sum += chunk.NormalizedScore
	}
	avg := sum / float32(len(used))

	if avg > 0.9 {
		return 0.9
	}
	if avg < 0.3 {
		return 0.3
	}
	return avg
}

// excerpt collapses whitespace and truncates content for display.
func excerpt(content string, maxChars int) string {
	clean := strings.Join(strings.Fields(content), " ")
	if len(clean) <= maxChars {
		return clean
	}
	return clean[:maxChars-3] + "..."
}
