package relay

import (
	"context"
	"strings"
	"unicode/utf8"
)

// SupportPolicy decides whether free text from a registered user with no
// open session should open one.
type SupportPolicy interface {
	IsSupportRequest(ctx context.Context, text string) bool
}

// PolicyFunc adapts a function to SupportPolicy.
type PolicyFunc func(ctx context.Context, text string) bool

func (f PolicyFunc) IsSupportRequest(ctx context.Context, text string) bool { return f(ctx, text) }

// HeuristicPolicy flags long messages, questions and messages containing
// any of the keywords.
type HeuristicPolicy struct {
	MinLength int
	Keywords  []string
}

func DefaultHeuristic() HeuristicPolicy {
	return HeuristicPolicy{
		MinLength: 20,
		Keywords:  []string{"help", "issue", "problem"},
	}
}

func (p HeuristicPolicy) IsSupportRequest(_ context.Context, text string) bool {
	if utf8.RuneCountInString(text) > p.MinLength {
		return true
	}
	if strings.Contains(text, "?") {
		return true
	}
	lower := strings.ToLower(text)
	for _, kw := range p.Keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// DisabledPolicy never opens a session on its own.
type DisabledPolicy struct{}

func (DisabledPolicy) IsSupportRequest(context.Context, string) bool { return false }
