// Package mock provides a test double for the stt.Provider interface.
//
// Provider returns scripted transcripts in order and records every request.
//
// Example:
//
//	p := &mock.Provider{Results: []mock.Result{{Text: "หยุด"}, {Err: stt.ErrNoResult}}}
//	text, err := p.Transcribe(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/mira/pkg/provider/stt"
)

// Result is one scripted Transcribe outcome.
type Result struct {
	Text string
	Err  error
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Results are returned in order, one per call. When exhausted, Default is
	// returned.
	Results []Result

	// Default is returned once Results is exhausted. A zero Default yields
	// stt.ErrNoResult.
	Default Result

	// Requests records every request in call order.
	Requests []stt.Request
}

var _ stt.Provider = (*Provider)(nil)

// Transcribe records the call and returns the next scripted result.
func (p *Provider) Transcribe(_ context.Context, req stt.Request) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Requests = append(p.Requests, req)
	r := p.Default
	if len(p.Results) > 0 {
		r = p.Results[0]
		p.Results = p.Results[1:]
	}
	if r.Text == "" && r.Err == nil {
		return "", stt.ErrNoResult
	}
	return r.Text, r.Err
}

// CallCount returns the number of Transcribe calls.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Requests)
}

// Push appends scripted results.
func (p *Provider) Push(rs ...Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Results = append(p.Results, rs...)
}
