// Package chat proxies the dashboard chat UI to a hosted language model.
// Conversation history is caller-supplied and caller-stored; the server
// only appends the new exchange and returns the full updated sequence.
package chat

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"

	"github.com/swisscorp/agrisat/internal/common"
)

const defaultModel = "gemini-2.5-flash"

// Turn is one message in a conversation.
type Turn struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// Agent wraps the LLM client. Without an API key it runs in demo mode
// and answers with canned responses so the rest of the dashboard stays
// usable.
type Agent struct {
	client *genai.Client
	model  string
}

// NewAgent constructs the agent. An empty apiKey yields a demo-mode
// agent rather than an error.
func NewAgent(ctx context.Context, apiKey, model string) (*Agent, error) {
	if model == "" {
		model = defaultModel
	}
	if apiKey == "" {
		return &Agent{model: model}, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	return &Agent{client: client, model: model}, nil
}

// DemoMode reports whether the agent answers with canned responses.
func (a *Agent) DemoMode() bool {
	return a.client == nil
}

// Respond sends the message with its history to the model and returns
// the reply plus the updated history. Nothing is stored server-side.
func (a *Agent) Respond(ctx context.Context, message string, history []Turn) (string, []Turn, error) {
	var reply string

	if a.client == nil {
		reply = demoReply(message)
	} else {
		contents := make([]*genai.Content, 0, len(history)+1)
		for _, turn := range history {
			var role genai.Role = genai.RoleUser
			if turn.Role != "user" {
				role = genai.RoleModel
			}
			contents = append(contents, genai.NewContentFromParts(
				[]*genai.Part{genai.NewPartFromText(turn.Content)}, role))
		}
		contents = append(contents, genai.NewContentFromParts(
			[]*genai.Part{genai.NewPartFromText(message)}, genai.RoleUser))

		result, err := a.client.Models.GenerateContent(ctx, a.model, contents, nil)
		if err != nil {
			return "", nil, fmt.Errorf("chat completion failed: %w", err)
		}
		reply = result.Text()
		if reply == "" {
			return "", nil, fmt.Errorf("chat completion returned empty response")
		}
	}

	updated := make([]Turn, 0, len(history)+2)
	updated = append(updated, history...)
	updated = append(updated,
		Turn{Role: "user", Content: message},
		Turn{Role: "assistant", Content: reply},
	)
	return reply, updated, nil
}

// demoReply mirrors the rule-based fallback the dashboard shipped with
// before the LLM key was provisioned.
func demoReply(message string) string {
	switch {
	case common.ContainsAny(message, "hello", "hi"):
		return "Hello! I'm a demo assistant. Set GEMINI_API_KEY to enable full AI responses."
	case common.ContainsAny(message, "how are you"):
		return "I'm doing well, thank you! I'm currently running in demo mode."
	case common.ContainsAny(message, "help"):
		return "I can answer questions about supplier vegetation health. For real AI responses, configure a GEMINI_API_KEY."
	case common.ContainsAny(message, "ndvi", "vegetation", "satellite"):
		return "The vegetation dashboard shows NDVI readings per supplier. Try GET /api/v1/ndvi/location/1 for live data."
	case common.ContainsAny(message, "time"):
		return fmt.Sprintf("The current time is %s. This is a demo response.", time.Now().UTC().Format("15:04:05"))
	default:
		return fmt.Sprintf("You said: %q. I'm in demo mode; set GEMINI_API_KEY to get real AI responses.", message)
	}
}
