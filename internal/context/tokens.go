package context

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/user/chatrelay/pkg/llm"
)

// messageOverhead approximates the per-message framing tokens of the chat
// completion format.
const messageOverhead = 4

// TokenCounter counts tokens in a piece of text.
type TokenCounter interface {
	Count(text string) int
}

// TiktokenCounter counts tokens with the BPE encoding of a model.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter selects the tokenizer for model (e.g. "gpt-4"),
// falling back to cl100k_base for unknown models.
func NewTiktokenCounter(model string) (*TiktokenCounter, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	return &TiktokenCounter{enc: enc}, nil
}

// Count returns the token count for a string.
func (c *TiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// CountMessages estimates the prompt size of messages. A nil counter
// returns 0.
func CountMessages(counter TokenCounter, messages []llm.Message) int {
	if counter == nil {
		return 0
	}
	total := 0
	for _, m := range messages {
		total += messageOverhead + counter.Count(m.Role) + counter.Count(m.Content)
	}
	return total
}
