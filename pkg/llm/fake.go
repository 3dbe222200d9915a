package llm

import (
	"context"
	"sync"
)

// ScriptedProvider replays a fixed sequence of chunks per call. It backs
// tests and local development where no real model endpoint is available.
type ScriptedProvider struct {
	name string

	mu       sync.Mutex
	scripts  [][]Chunk
	failWith error
	calls    int
	requests []*Request
}

// NewScriptedProvider creates a provider that answers with the given scripts
// in order, repeating the last one once they run out.
func NewScriptedProvider(name string, scripts ...[]Chunk) *ScriptedProvider {
	return &ScriptedProvider{name: name, scripts: scripts}
}

// FailWith makes every subsequent call deliver err on the error channel
// after the scripted chunks.
func (p *ScriptedProvider) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failWith = err
}

// Calls reports how many times Stream was invoked.
func (p *ScriptedProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Requests returns the requests seen so far.
func (p *ScriptedProvider) Requests() []*Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Request, len(p.requests))
	copy(out, p.requests)
	return out
}

// Name implements Provider.
func (p *ScriptedProvider) Name() string { return p.name }

// Stream implements Provider.
func (p *ScriptedProvider) Stream(ctx context.Context, req *Request) (<-chan Chunk, <-chan error) {
	p.mu.Lock()
	var script []Chunk
	if len(p.scripts) > 0 {
		i := p.calls
		if i >= len(p.scripts) {
			i = len(p.scripts) - 1
		}
		script = p.scripts[i]
	}
	failWith := p.failWith
	p.calls++
	p.requests = append(p.requests, req)
	p.mu.Unlock()

	chunks := make(chan Chunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		for _, c := range script {
			if !emit(ctx, chunks, c) {
				return
			}
		}
		if failWith != nil {
			errs <- failWith
		}
	}()
	return chunks, errs
}
