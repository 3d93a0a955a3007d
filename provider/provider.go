// Package provider defines the text-generation backend used by the
// planner and the worker agents.
package provider

import "context"

// Generator produces text from a prompt. It is single-shot and stateless
// from the orchestrator's perspective: a call may fail transiently
// (callers retry) or return malformed content (callers validate).
type Generator interface {
	// Name returns the generator identifier (e.g., "anthropic", "mock").
	Name() string

	// Generate sends prompt and returns the generated text.
	Generate(ctx context.Context, prompt string) (string, error)
}
