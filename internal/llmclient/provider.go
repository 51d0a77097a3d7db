package llmclient

import "context"

// Provider is implemented by each concrete LLM backend (spec.md §4.5:
// "Provides call(request) → response over a chat-completion endpoint
// supporting tool use"). The engine depends only on this interface, never
// on a concrete provider type.
type Provider interface {
	Call(ctx context.Context, req Request) (Response, error)
}
