// Package gatewaytest provides a scripted gateway for tests.
package gatewaytest

import (
	"context"
	"iter"
	"sync"

	"github.com/ashureev/tripmate/internal/gateway"
)

// Fake replays a fixed script. Stream yields Fragments and then, if
// StreamErr is set, fails after FailAfter fragments. Generate returns Text
// or GenerateErr.
type Fake struct {
	Fragments   []string
	FailAfter   int
	StreamErr   error
	Text        string
	GenerateErr error

	mu            sync.Mutex
	streamCalls   []gateway.Request
	generateCalls []gateway.Request
}

var _ gateway.Gateway = (*Fake)(nil)

// Generate implements gateway.Gateway.
func (f *Fake) Generate(_ context.Context, req gateway.Request) (string, error) {
	f.mu.Lock()
	f.generateCalls = append(f.generateCalls, req)
	f.mu.Unlock()
	if f.GenerateErr != nil {
		return "", f.GenerateErr
	}
	return f.Text, nil
}

// Stream implements gateway.Gateway.
func (f *Fake) Stream(_ context.Context, req gateway.Request) iter.Seq2[string, error] {
	f.mu.Lock()
	f.streamCalls = append(f.streamCalls, req)
	f.mu.Unlock()
	return func(yield func(string, error) bool) {
		for i, frag := range f.Fragments {
			if f.StreamErr != nil && i == f.FailAfter {
				yield("", f.StreamErr)
				return
			}
			if !yield(frag, nil) {
				return
			}
		}
		if f.StreamErr != nil && f.FailAfter >= len(f.Fragments) {
			yield("", f.StreamErr)
		}
	}
}

// StreamCalls returns the requests passed to Stream.
func (f *Fake) StreamCalls() []gateway.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gateway.Request(nil), f.streamCalls...)
}

// GenerateCalls returns the requests passed to Generate.
func (f *Fake) GenerateCalls() []gateway.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gateway.Request(nil), f.generateCalls...)
}

// Provider hands out the same gateway for every key.
type Provider struct {
	Gateway gateway.Gateway
	Keys    []string
	mu      sync.Mutex
}

// ForKey records the key and returns the fixed gateway.
func (p *Provider) ForKey(_ context.Context, apiKey string) (gateway.Gateway, error) {
	p.mu.Lock()
	p.Keys = append(p.Keys, apiKey)
	p.mu.Unlock()
	return p.Gateway, nil
}
