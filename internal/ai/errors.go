package ai

import "errors"

var (
	// ErrAIUnavailable covers every failure mode of the collaborator:
	// no API key configured, network trouble, provider errors. Callers
	// degrade to their fallback and never fail the scrape.
	ErrAIUnavailable = errors.New("ai: collaborator unavailable")

	// ErrConfigSynthesis is returned when the model responded but the
	// result is not a valid extraction config.
	ErrConfigSynthesis = errors.New("ai: config synthesis produced an invalid config")

	// ErrRateLimited is returned when a principal exceeds its AI budget.
	ErrRateLimited = errors.New("ai: rate limit exceeded")
)
