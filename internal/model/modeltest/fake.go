// Package modeltest provides a scripted ports.Model for tests.
package modeltest

import (
	"context"
	"fmt"
	"sync"

	"github.com/tjfontaine/polyglot-lingua/internal/core/ports"
)

// Reply is one scripted answer. Exactly one of Text, Audio or Err is used.
type Reply struct {
	Text  string
	Audio *ports.Audio
	Err   error
	// Panic makes Generate panic with this value.
	Panic any
}

// Fake answers Generate from per-flow scripts. When a flow's script is
// exhausted its last reply repeats.
type Fake struct {
	mu       sync.Mutex
	scripts  map[string][]Reply
	calls    map[string]int
	requests []*ports.GenerateRequest
	// Hook, when set, runs before a reply is picked.
	Hook func(ctx context.Context, req *ports.GenerateRequest)
}

var _ ports.Model = (*Fake)(nil)

func New() *Fake {
	return &Fake{
		scripts: make(map[string][]Reply),
		calls:   make(map[string]int),
	}
}

// On appends replies to flow's script and returns f for chaining.
func (f *Fake) On(flow string, replies ...Reply) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[flow] = append(f.scripts[flow], replies...)
	return f
}

// Text is shorthand for a text reply.
func Text(s string) Reply { return Reply{Text: s} }

// Fail is shorthand for an error reply.
func Fail(err error) Reply { return Reply{Err: err} }

func (f *Fake) Generate(ctx context.Context, req *ports.GenerateRequest) (*ports.GenerateResponse, error) {
	if f.Hook != nil {
		f.Hook(ctx, req)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	n := f.calls[req.Flow]
	f.calls[req.Flow] = n + 1
	f.requests = append(f.requests, req)
	script := f.scripts[req.Flow]
	f.mu.Unlock()

	if len(script) == 0 {
		return nil, fmt.Errorf("modeltest: no reply scripted for %q", req.Flow)
	}
	if n >= len(script) {
		n = len(script) - 1
	}
	r := script[n]
	if r.Panic != nil {
		panic(r.Panic)
	}
	if r.Err != nil {
		return nil, r.Err
	}
	return &ports.GenerateResponse{Text: r.Text, Audio: r.Audio, Model: "fake"}, nil
}

// Calls returns how many times flow reached the model.
func (f *Fake) Calls(flow string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[flow]
}

// TotalCalls returns the number of Generate calls across flows.
func (f *Fake) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// Requests returns a copy of every request received, in order.
func (f *Fake) Requests() []*ports.GenerateRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*ports.GenerateRequest(nil), f.requests...)
}

// Last returns the most recent request for flow, or nil.
func (f *Fake) Last(flow string) *ports.GenerateRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.requests) - 1; i >= 0; i-- {
		if f.requests[i].Flow == flow {
			return f.requests[i]
		}
	}
	return nil
}
