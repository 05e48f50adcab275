// Package tokencount estimates token counts for quota checks and prompt
// budgeting ahead of an actual LLM call.
package tokencount

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// defaultEncoding is cl100k_base, shared by GPT-3.5/4-era models; it is a
// reasonable cross-provider estimate since Anthropic does not publish a
// public tokenizer.
const defaultEncoding = "cl100k_base"

var (
	mu  sync.Mutex
	enc *tiktoken.Tiktoken
)

func encoding() (*tiktoken.Tiktoken, error) {
	mu.Lock()
	defer mu.Unlock()
	if enc != nil {
		return enc, nil
	}
	e, err := tiktoken.GetEncoding(defaultEncoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s encoding: %w", defaultEncoding, err)
	}
	enc = e
	return enc, nil
}

// Count returns the number of tokens text would consume.
func Count(text string) (int, error) {
	e, err := encoding()
	if err != nil {
		return 0, err
	}
	return len(e.Encode(text, nil, nil)), nil
}

// CountMany sums Count over a slice of texts, e.g. a chat history.
func CountMany(texts []string) (int, error) {
	total := 0
	for _, t := range texts {
		n, err := Count(t)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}
