package tokenizer

// Tokenizer counts tokens so prompts can be held under a model budget.
type Tokenizer interface {
	CountTokens(text string) (int, error)
}

// Heuristic approximates token counts at four characters per token.
// Used when no model-specific tokenizer is configured.
type Heuristic struct{}

func (Heuristic) CountTokens(text string) (int, error) {
	if len(text) == 0 {
		return 0, nil
	}
	return (len(text) + 3) / 4, nil
}
