// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechDesk Contributors

package agent

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"

	tderr "github.com/techdesk-dev/techdesk/pkg/errors"
)

// queuedTurn is one call waiting on a Lane. reply is buffered so the
// worker never blocks on a caller that gave up.
type queuedTurn struct {
	ctx   context.Context
	run   func(context.Context) error
	reply chan error
}

// Lane runs the turns of one conversation thread strictly one after another,
// in the order Submit was called. Each Lane owns a single worker goroutine.
type Lane struct {
	threadID string
	pending  chan queuedTurn
	stopping chan struct{}
	stopped  chan struct{}

	stopOnce sync.Once
}

// NewLane starts the worker for threadID. The caller must Close it.
func NewLane(threadID string) *Lane {
	l := &Lane{
		threadID: threadID,
		pending:  make(chan queuedTurn, 256),
		stopping: make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go l.work()
	return l
}

func (l *Lane) work() {
	defer close(l.stopped)
	for {
		select {
		case t := <-l.pending:
			t.reply <- l.runTurn(t)
		case <-l.stopping:
			l.drain()
			return
		}
	}
}

// drain finishes every turn accepted before Close.
func (l *Lane) drain() {
	for {
		select {
		case t := <-l.pending:
			t.reply <- l.runTurn(t)
		default:
			return
		}
	}
}

// runTurn skips turns whose caller already went away and turns a panic into
// a CodeAgentLoopFailure error so the thread stays usable.
func (l *Lane) runTurn(t queuedTurn) (err error) {
	if err := t.ctx.Err(); err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in thread turn",
				"thread_id", l.threadID,
				"panic", r,
				"stack", string(debug.Stack()))
			err = tderr.Errorf(tderr.CodeAgentLoopFailure, "turn panicked: %v", r)
		}
	}()
	return t.run(t.ctx)
}

// Submit queues fn behind the thread's earlier turns and waits for its
// result. A ctx that ends before fn starts yields ctx.Err() and fn never
// runs. A closed Lane rejects fn with CodeAgentLaneClosed.
func (l *Lane) Submit(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.isStopping() {
		return errLaneClosed()
	}

	t := queuedTurn{ctx: ctx, run: fn, reply: make(chan error, 1)}
	select {
	case l.pending <- t:
	case <-l.stopping:
		return errLaneClosed()
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-t.reply:
		return err
	case <-l.stopped:
		// A turn that raced with Close may have missed the drain.
		select {
		case err := <-t.reply:
			return err
		default:
			return errLaneClosed()
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Lane) isStopping() bool {
	select {
	case <-l.stopping:
		return true
	default:
		return false
	}
}

func errLaneClosed() error {
	return tderr.New(tderr.CodeAgentLaneClosed, "lane is closed")
}

// Close refuses new turns, lets the queued ones finish and returns once the
// worker has exited. Extra calls are no-ops.
func (l *Lane) Close() {
	l.stopOnce.Do(func() { close(l.stopping) })
	<-l.stopped
}

type pooledLane struct {
	lane *Lane
	refs int
}

// LanePool hands out one Lane per thread id. Lanes are reference counted through
// Do: a lane is created on first use and closed once no caller holds it,
// so idle keys cost nothing. LanePool is safe for concurrent use.
type LanePool struct {
	mu     sync.Mutex
	lanes  map[string]*pooledLane
	closed bool
}

func NewLanePool() *LanePool {
	return &LanePool{lanes: make(map[string]*pooledLane)}
}

// Do runs fn on the lane for key, after any work already queued for the
// same key. Work for different keys runs concurrently.
func (p *LanePool) Do(ctx context.Context, key string, fn func(context.Context) error) error {
	lane, err := p.acquire(key)
	if err != nil {
		return err
	}
	defer p.release(key)

	return lane.Submit(ctx, fn)
}

// Len reports how many lanes are currently open.
func (p *LanePool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.lanes)
}

func (p *LanePool) acquire(key string) (*Lane, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, tderr.New(tderr.CodeAgentLaneClosed, "lane pool is closed")
	}
	pl, ok := p.lanes[key]
	if !ok {
		pl = &pooledLane{lane: NewLane(key)}
		p.lanes[key] = pl
	}
	pl.refs++
	return pl.lane, nil
}

func (p *LanePool) release(key string) {
	p.mu.Lock()
	pl, ok := p.lanes[key]
	if !ok {
		p.mu.Unlock()
		return
	}
	pl.refs--
	if pl.refs > 0 {
		p.mu.Unlock()
		return
	}
	delete(p.lanes, key)
	p.mu.Unlock()

	pl.lane.Close()
}

// Close shuts down every lane and rejects further work.
func (p *LanePool) Close() {
	p.mu.Lock()
	lanes := p.lanes
	p.lanes = make(map[string]*pooledLane)
	p.closed = true
	p.mu.Unlock()

	for _, pl := range lanes {
		pl.lane.Close()
	}
}
