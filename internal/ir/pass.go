package ir

import (
	"context"
	"sync"
)

// Pass groups the evaluations an executor step starts together. Data
// loaders without a batch delay keep their window open until every member
// of the pass has either enqueued its key or finished.
type Pass struct {
	mu      sync.Mutex
	pending int
	loaders []flusher
}

type flusher interface{ Flush() }

// NewPass returns a pass expecting n members.
func NewPass(n int) *Pass { return &Pass{pending: n} }

type memberKey struct{}

type member struct {
	pass *Pass
	once sync.Once
}

// Join attaches one member of p to ctx. The returned func marks the member
// done and must be called when its evaluation ends.
func (p *Pass) Join(ctx context.Context) (context.Context, func()) {
	m := &member{pass: p}
	return context.WithValue(ctx, memberKey{}, m), m.arrive
}

func (m *member) arrive() { m.once.Do(m.pass.leave) }

func (p *Pass) leave() {
	p.mu.Lock()
	p.pending--
	var ready []flusher
	if p.pending == 0 {
		ready, p.loaders = p.loaders, nil
	}
	p.mu.Unlock()
	for _, f := range ready {
		f.Flush()
	}
}

func (p *Pass) watch(f flusher) {
	p.mu.Lock()
	if p.pending <= 0 {
		p.mu.Unlock()
		f.Flush()
		return
	}
	for _, w := range p.loaders {
		if w == f {
			p.mu.Unlock()
			return
		}
	}
	p.loaders = append(p.loaders, f)
	p.mu.Unlock()
}

// arrive marks the evaluation in ctx as waiting on IO. It will not enqueue
// further keys in its pass.
func arrive(ctx context.Context) {
	if m, ok := ctx.Value(memberKey{}).(*member); ok {
		m.arrive()
	}
}

// flushAtPassEnd dispatches f once the pass of ctx has arrived, or right
// away when ctx belongs to no pass.
func flushAtPassEnd(ctx context.Context, f flusher) {
	m, ok := ctx.Value(memberKey{}).(*member)
	if !ok {
		f.Flush()
		return
	}
	m.pass.watch(f)
	m.arrive()
}
