package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Vovarama1992/chatcrm-relay/internal/logging"
	"github.com/Vovarama1992/chatcrm-relay/internal/relay"
)

// Policy asks a language model whether free text is a support request. Any
// failure, or a verdict below the confidence floor, defers to the fallback
// policy.
type Policy struct {
	llm           Completer
	fallback      relay.SupportPolicy
	minConfidence float64
	timeout       time.Duration
	log           *logging.Logger
}

func NewPolicy(llm Completer, fallback relay.SupportPolicy, log *logging.Logger) *Policy {
	if fallback == nil {
		fallback = relay.DefaultHeuristic()
	}
	return &Policy{
		llm:           llm,
		fallback:      fallback,
		minConfidence: 0.5,
		timeout:       5 * time.Second,
		log:           log.Sub("ai-policy"),
	}
}

type verdict struct {
	Support    bool    `json:"support"`
	Confidence float64 `json:"confidence"`
}

func (p *Policy) IsSupportRequest(ctx context.Context, text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}

	v, err := p.classify(ctx, text)
	if err != nil {
		p.log.Warn().Err(err).Msg("classifier unavailable, using fallback")
		return p.fallback.IsSupportRequest(ctx, text)
	}
	if v.Confidence < p.minConfidence {
		p.log.Debug().Float64("confidence", v.Confidence).Msg("classifier unsure, using fallback")
		return p.fallback.IsSupportRequest(ctx, text)
	}
	return v.Support
}

func (p *Policy) classify(ctx context.Context, text string) (verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	input, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return verdict{}, err
	}

	raw, err := p.llm.Complete(ctx, SupportClassifierPrompt, string(input))
	if err != nil {
		return verdict{}, err
	}

	var v verdict
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &v); err != nil {
		return verdict{}, fmt.Errorf("parse classifier reply %q: %w", raw, err)
	}
	return v, nil
}

var _ relay.SupportPolicy = (*Policy)(nil)
