package app

import (
	"context"
	"fmt"
	"log"
	"strings"

	"pdfchat/internal/ai"
	"pdfchat/internal/model"
)

// answerPrompt is the fixed instruction template for answer synthesis.
// It is versioned: editing it changes observable behavior, so bump the
// version when it changes.
const (
	answerPromptVersion = "v1"

	answerSystemPrompt = `You are an intelligent assistant specializing in analyzing document content. You have access to specific sections from documents that are most relevant to the user's question.

Guidelines:
1. Base your answers solely on the provided context
2. Cite specific page numbers when referencing information
3. If information spans multiple pages, mention all relevant pages
4. If the context does not contain enough information, say so clearly
5. If different pages have conflicting information, point this out
6. Use direct quotes when appropriate, citing the page number
7. Consider the relevance scores when weighing different pieces of information
8. Mention the source document name when providing information

Remember: You can only reference information that is explicitly present in the provided context.`

	answerUserPromptFormat = `Context Information:
Document Sources: %s

Relevant Passages:
%s

Question: %s

Please provide a comprehensive answer based on the above context. Remember to cite pages and sources.`

	// fallbackAnswer is returned when synthesis fails so the interactive
	// layer never crashes on a transient model outage. Retrieval results
	// are still returned alongside it.
	fallbackAnswer = "An error occurred while processing your question."
)

// ChatModel is the synthesis surface the query pipeline consumes.
type ChatModel interface {
	Complete(ctx context.Context, messages []ai.ChatMessage) (string, error)
}

// AnswerCache is the optional result cache in front of the pipeline.
type AnswerCache interface {
	Get(ctx context.Context, query string, topK int) (*model.AnswerResult, bool, error)
	Set(ctx context.Context, query string, topK int, result model.AnswerResult) error
}

// QueryService drives retrieval and synthesis: embed the question, query
// the vector index, assemble a grounded context, and ask the chat model for
// a cited answer.
type QueryService struct {
	embedder    Embedder
	index       VectorIndex
	chat        ChatModel
	cache       AnswerCache
	defaultTopK int
	maxTopK     int
}

func NewQueryService(embedder Embedder, index VectorIndex, chat ChatModel, defaultTopK, maxTopK int) *QueryService {
	if defaultTopK <= 0 {
		defaultTopK = 3
	}
	if maxTopK < defaultTopK {
		maxTopK = defaultTopK
	}
	return &QueryService{
		embedder:    embedder,
		index:       index,
		chat:        chat,
		defaultTopK: defaultTopK,
		maxTopK:     maxTopK,
	}
}

// WithCache attaches an answer cache. Cache failures are logged and
// otherwise ignored; the pipeline must keep working without redis.
func (s *QueryService) WithCache(cache AnswerCache) *QueryService {
	s.cache = cache
	return s
}

// Answer runs one retrieval + synthesis round. Embedding and retrieval
// failures propagate to the caller; a synthesis failure degrades to the
// fallback answer with the retrieved matches kept, and zero matches is a
// normal non-answer outcome.
func (s *QueryService) Answer(ctx context.Context, query string, topK int) (model.AnswerResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return model.AnswerResult{}, fmt.Errorf("%w: question is empty", ErrInvalidInput)
	}
	if topK <= 0 {
		topK = s.defaultTopK
	}
	if topK > s.maxTopK {
		topK = s.maxTopK
	}

	if s.cache != nil {
		if cached, ok, err := s.cache.Get(ctx, query, topK); err != nil {
			log.Printf("answer cache lookup failed: %v", err)
		} else if ok {
			return *cached, nil
		}
	}

	queryVector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return model.AnswerResult{}, fmt.Errorf("embed question failed: %w", err)
	}

	matches, err := s.index.Query(ctx, queryVector, uint64(topK))
	if err != nil {
		return model.AnswerResult{}, fmt.Errorf("retrieve failed: %w", err)
	}
	if len(matches) == 0 {
		return model.AnswerResult{Answered: false, Matches: []model.Match{}}, nil
	}

	contextBlock, sources := buildContext(matches)
	messages := []ai.ChatMessage{
		{Role: "system", Content: answerSystemPrompt},
		{Role: "user", Content: fmt.Sprintf(answerUserPromptFormat, strings.Join(sources, ", "), contextBlock, query)},
	}

	result := model.AnswerResult{Answered: true, Matches: matches}
	answer, err := s.chat.Complete(ctx, messages)
	if err != nil {
		log.Printf("answer synthesis failed (prompt %s): %v", answerPromptVersion, err)
		result.Answer = fallbackAnswer
		return result, nil
	}
	result.Answer = strings.TrimSpace(answer)

	if s.cache != nil {
		if err := s.cache.Set(ctx, query, topK, result); err != nil {
			log.Printf("answer cache store failed: %v", err)
		}
	}
	return result, nil
}

// buildContext renders matches in descending score order into the prompt's
// passage block and collects the distinct source filenames in first-seen
// order. Deterministic for a given match list.
func buildContext(matches []model.Match) (string, []string) {
	var sb strings.Builder
	var sources []string
	seen := make(map[string]bool)

	for _, m := range matches {
		if !seen[m.Source] {
			seen[m.Source] = true
			sources = append(sources, m.Source)
		}
		fmt.Fprintf(&sb, "\nSource: %s (Page %d, Relevance: %.2f%%):\n", m.Source, m.Page, m.Score*100)
		sb.WriteString(m.Text)
		sb.WriteString("\n")
		sb.WriteString(strings.Repeat("-", 80))
		sb.WriteString("\n")
	}
	return sb.String(), sources
}
