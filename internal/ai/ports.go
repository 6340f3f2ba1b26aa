package ai

import "context"

// Completer runs one system+user exchange and returns the raw reply.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, input string) (string, error)
}
