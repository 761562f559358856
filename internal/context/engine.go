// Package context assembles the message lists sent to the model.
package context

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/user/chatrelay/internal/types"
	"github.com/user/chatrelay/pkg/llm"
)

// EmptyTranscript stands in for the transcript of a session with no messages.
const EmptyTranscript = "(no messages yet)"

// Engine builds chat and summary prompts.
type Engine struct {
	prompt    *template.Template
	counter   TokenCounter
	maxTokens int
}

// New creates an Engine. counter may be nil, which disables token counting
// and the prompt budget. maxTokens <= 0 also disables the budget.
func New(prompt *template.Template, counter TokenCounter, maxTokens int) *Engine {
	return &Engine{prompt: prompt, counter: counter, maxTokens: maxTokens}
}

// ChatInput is everything needed to assemble one chat prompt.
type ChatInput struct {
	SessionID types.SessionID
	Now       time.Time
	// Summary is included when HasSummary is set.
	Summary    string
	HasSummary bool
	// History is the recent window, oldest first.
	History []types.Message
	// Current is the user turn persisted for this exchange.
	Current types.Message
	// Attachment is wrapped into the current turn when HasAttachment is set.
	Attachment    string
	HasAttachment bool
}

// Prompt is an assembled message list with its counted size.
type Prompt struct {
	Messages []llm.Message
	Tokens   int
	// Dropped is the number of history entries removed to fit the budget.
	Dropped int
}

// WrapAttachment prefixes message with delimited file content.
func WrapAttachment(content, message string) string {
	return "[Attached file content]\n" + content + "\n[End of attached file]\n\n" + message
}

// BuildChat renders the system prompt, the optional summary entry, and the
// history window. The current user turn carries the attachment for this
// exchange only; if the window does not contain it, it is appended last.
func (e *Engine) BuildChat(in ChatInput) (*Prompt, error) {
	var sys strings.Builder
	if err := e.prompt.Execute(&sys, PromptData{
		Time:      in.Now.UTC().Format(time.RFC3339),
		SessionID: string(in.SessionID),
	}); err != nil {
		return nil, fmt.Errorf("render system prompt: %w", err)
	}

	head := []llm.Message{{Role: string(types.RoleSystem), Content: sys.String()}}
	if in.HasSummary {
		head = append(head, llm.Message{
			Role:    string(types.RoleSystem),
			Content: "Summary of the earlier conversation:\n" + in.Summary,
		})
	}

	currentContent := in.Current.Content
	if in.HasAttachment {
		currentContent = WrapAttachment(in.Attachment, in.Current.Content)
	}

	history := make([]llm.Message, 0, len(in.History)+1)
	current := -1
	for _, m := range in.History {
		msg := llm.Message{Role: string(m.Role), Content: m.Content}
		if m.Seq == in.Current.Seq {
			msg.Content = currentContent
			current = len(history)
		}
		history = append(history, msg)
	}
	if current < 0 {
		current = len(history)
		history = append(history, llm.Message{Role: string(types.RoleUser), Content: currentContent})
	}

	prompt := &Prompt{}
	for e.overBudget(head, history) && current > 0 {
		history = history[1:]
		current--
		prompt.Dropped++
	}
	prompt.Messages = append(head, history...)
	prompt.Tokens = CountMessages(e.counter, prompt.Messages)
	return prompt, nil
}

func (e *Engine) overBudget(head, history []llm.Message) bool {
	if e.counter == nil || e.maxTokens <= 0 {
		return false
	}
	return CountMessages(e.counter, head)+CountMessages(e.counter, history) > e.maxTokens
}

// BuildTranscript renders history as "role: content" lines, oldest first.
func BuildTranscript(history []types.Message) string {
	if len(history) == 0 {
		return EmptyTranscript
	}
	lines := make([]string, len(history))
	for i, m := range history {
		lines[i] = string(m.Role) + ": " + m.Content
	}
	return strings.Join(lines, "\n")
}

// BuildSummary returns the summarization prompt for history.
func (e *Engine) BuildSummary(history []types.Message) *Prompt {
	messages := []llm.Message{
		{Role: string(types.RoleSystem), Content: SummaryInstruction},
		{Role: string(types.RoleUser), Content: BuildTranscript(history)},
	}
	return &Prompt{Messages: messages, Tokens: CountMessages(e.counter, messages)}
}
