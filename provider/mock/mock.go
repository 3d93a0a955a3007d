// Package mock provides a scripted generator for testing.
package mock

import (
	"context"
	"errors"
	"sync"
)

const defaultResponse = "Acknowledged."

// Generator implements provider.Generator for testing. It returns
// scripted responses in order and can simulate transient failures.
type Generator struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	idx       int

	// Prompts records every prompt received, in order.
	Prompts []string
}

// New creates a Generator that cycles through the given responses.
func New(responses ...string) *Generator {
	return &Generator{responses: responses}
}

// NewFailing creates a Generator that returns the given errors before
// falling back to responses (a nil error slot yields the next response).
func NewFailing(errs []error, responses ...string) *Generator {
	return &Generator{responses: responses, errs: errs}
}

// Name returns the generator identifier.
func (g *Generator) Name() string { return "mock" }

// Generate returns the next scripted response or error.
func (g *Generator) Generate(_ context.Context, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.Prompts = append(g.Prompts, prompt)
	i := g.idx
	g.idx++

	if i < len(g.errs) && g.errs[i] != nil {
		return "", g.errs[i]
	}
	if len(g.responses) == 0 {
		return defaultResponse, nil
	}
	return g.responses[i%len(g.responses)], nil
}

// Calls returns the number of Generate invocations so far.
func (g *Generator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.idx
}

// ErrScripted is a reusable transient error for failure scripts.
var ErrScripted = errors.New("scripted generator failure")
