// Package groq provides a provider client for the Groq API, which speaks
// the OpenAI chat-completions wire format.
package groq

import (
	"github.com/scrivly/agentloop/llm"
	"github.com/scrivly/agentloop/llm/openai"
)

const (
	defaultBaseURL = "https://api.groq.com/openai/v1"
	defaultModel   = "llama-3.3-70b-versatile"
)

// NewClient creates a Groq client. The returned client implements
// llm.Provider and reports "groq" as its name.
func NewClient(opts ...llm.ClientOption) (*openai.Client, error) {
	return openai.NewCompatible("groq", defaultBaseURL, "GROQ_API_KEY", defaultModel, opts...)
}
