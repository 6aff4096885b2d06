package prompt

import (
	"fmt"

	"github.com/tiktoken-go/tokenizer"

	"github.com/tjfontaine/polyglot-lingua/internal/core/domain"
)

// Budget caps how much prior history is sent with a conversational prompt.
// The caller's stored history is never modified; only the prompt copy is
// trimmed.
type Budget struct {
	codec     tokenizer.Codec
	maxTokens int
}

// NewBudget creates a budget of maxTokens. A non-positive maxTokens disables
// trimming.
func NewBudget(maxTokens int) (*Budget, error) {
	if maxTokens <= 0 {
		return &Budget{}, nil
	}
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}
	return &Budget{codec: codec, maxTokens: maxTokens}, nil
}

// Count returns the approximate token count of text.
func (b *Budget) Count(text string) int {
	if b == nil || b.codec == nil {
		return 0
	}
	ids, _, err := b.codec.Encode(text)
	if err != nil {
		// fall back to a rough estimate of four bytes per token
		return len(text)/4 + 1
	}
	return len(ids)
}

// Trim keeps the most recent turns whose combined size fits the budget.
// The kept window never starts with a model turn.
func (b *Budget) Trim(history []domain.Turn) []domain.Turn {
	if b == nil || b.codec == nil || len(history) == 0 {
		return history
	}

	total := 0
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		n := b.Count(history[i].Text())
		if total+n > b.maxTokens {
			break
		}
		total += n
		start = i
	}
	for start < len(history) && history[start].Role == domain.RoleModel {
		start++
	}
	return history[start:]
}
