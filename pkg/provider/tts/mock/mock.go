// Package mock provides a test double for the tts.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Result: &tts.Audio{Data: mp3, ContentType: "audio/mpeg"}}
//	a, _ := p.Synthesize(ctx, tts.Request{Text: "hi"})
//	p.Requests // [{Text: "hi"}]
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/mira/pkg/provider/tts"
)

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is returned by every successful Synthesize call. If nil, a small
	// audio/mpeg payload is returned.
	Result *tts.Audio

	// Err, if non-nil, is returned by Synthesize.
	Err error

	// Requests records every request in call order.
	Requests []tts.Request
}

var _ tts.Provider = (*Provider)(nil)

// Synthesize records the call and returns Result, Err.
func (p *Provider) Synthesize(_ context.Context, req tts.Request) (*tts.Audio, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Requests = append(p.Requests, req)
	if p.Err != nil {
		return nil, p.Err
	}
	if p.Result != nil {
		return p.Result, nil
	}
	return &tts.Audio{Data: []byte("mock-mp3"), ContentType: "audio/mpeg"}, nil
}

// CallCount returns the number of Synthesize calls.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Requests)
}

// LastRequest returns the most recent request, or a zero Request.
func (p *Provider) LastRequest() tts.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Requests) == 0 {
		return tts.Request{}
	}
	return p.Requests[len(p.Requests)-1]
}
