package tiktoken

import (
	"github.com/pkoukk/tiktoken-go"

	"github.com/fleetsense/fleetsense/rag/tokenizer"
)

// Tokenizer counts tokens with the tiktoken BPE vocabularies.
type Tokenizer struct {
	enc *tiktoken.Tiktoken
}

// New resolves an encoding by model name, falling back to lookup by
// encoding name (e.g. "cl100k_base").
func New(name string) (*Tokenizer, error) {
	enc, err := tiktoken.EncodingForModel(name)
	if err != nil {
		enc, err = tiktoken.GetEncoding(name)
		if err != nil {
			return nil, err
		}
	}
	return &Tokenizer{enc: enc}, nil
}

func (t *Tokenizer) CountTokens(text string) (int, error) {
	return len(t.enc.Encode(text, nil, nil)), nil
}

var _ tokenizer.Tokenizer = (*Tokenizer)(nil)
