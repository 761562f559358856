package context

import (
	"fmt"
	"os"
	"text/template"
)

// DefaultPrompt is the built-in system prompt template used when no custom
// prompt file is configured. It uses Go text/template syntax with PromptData
// fields: .Time, .SessionID
const DefaultPrompt = `You are a helpful assistant answering questions in a web chat.

## Current Context

- Time: {{.Time}}
- Session: {{.SessionID}}

## Response Style

- Be concise and direct. Don't pad responses with filler.
- Use markdown formatting when it helps readability (lists, code blocks, bold for emphasis).
- When the user attaches a file, its content appears between [Attached file content] and [End of attached file]. Treat it as reference material for the question that follows.
- When you're unsure, say so.
- Don't repeat the user's question back to them. Just answer it.
`

// SummaryInstruction is the system entry of every summarization prompt.
const SummaryInstruction = `Summarize the following conversation in a short paragraph. Capture the main topics, any decisions or answers reached, and questions that are still open. Reply with the summary only.`

// PromptData is the data passed to the system prompt template.
type PromptData struct {
	Time      string
	SessionID string
}

// LoadPrompt parses the system prompt template at path, or DefaultPrompt
// when path is empty.
func LoadPrompt(path string) (*template.Template, error) {
	text := DefaultPrompt
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read system prompt: %w", err)
		}
		text = string(data)
	}
	tmpl, err := template.New("system").Option("missingkey=zero").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse system prompt: %w", err)
	}
	return tmpl, nil
}
