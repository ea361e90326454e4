// Package provider implements model clients for the generation backends.
// Clients make a single request per call; retrying is the pipeline engine's
// job, so a failed call returns immediately with a classifiable error.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
)

// ModelClient abstracts LLM completion calls. Implementations wrap OpenAI,
// Anthropic, Gemini, a local Ollama server, or a stub.
type ModelClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// APIError is a non-2xx response from a provider backend.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the failure is transient (rate limit, server
// error). Client errors such as 400/401 will deterministically fail again
// and must not be retried.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= http.StatusInternalServerError
}

// Retryable classifies an arbitrary provider error. Unknown errors (network
// failures, timeouts) are treated as transient.
func Retryable(err error) bool {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Retryable()
	}
	return true
}

// Registry maps provider names to clients and carries the default selection.
type Registry struct {
	clients     map[string]ModelClient
	defaultName string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]ModelClient)}
}

// Register adds a named client. The first registered client becomes the
// default unless SetDefault is called.
func (r *Registry) Register(name string, c ModelClient) {
	if len(r.clients) == 0 {
		r.defaultName = name
	}
	r.clients[name] = c
}

// SetDefault selects the client returned for an empty name.
func (r *Registry) SetDefault(name string) error {
	if _, ok := r.clients[name]; !ok {
		return fmt.Errorf("unknown provider %q", name)
	}
	r.defaultName = name
	return nil
}

// Resolve returns the client for name, or the default client when name is
// empty.
func (r *Registry) Resolve(name string) (ModelClient, error) {
	if name == "" {
		name = r.defaultName
	}
	c, ok := r.clients[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", name)
	}
	return c, nil
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
