// Package pool provides a bounded pool of interchangeable connections to a
// single peer with blocking acquire/release semantics.
//
// The server keeps one pool per identified client and checks a connection out
// for the duration of each delivery, so a client with N pooled connections can
// receive up to N deliveries in parallel while further deliveries queue.
package pool

import (
	"context"
	"errors"
	"net"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrClosed is returned by Acquire after Close.
var ErrClosed = errors.New("pool: closed")

// Pool holds a fixed set of connections. Acquire blocks until a connection is
// free; exactly one holder owns a given connection at a time. Fairness among
// waiters is not guaranteed.
//
// The pool performs no health checks. A broken connection surfaces as an I/O
// error on the holder, at which point the owner is expected to tear the whole
// client down.
type Pool struct {
	sem *semaphore.Weighted

	mu     sync.Mutex
	slots  []net.Conn // nil while checked out
	all    []net.Conn
	closed bool
}

// New builds a pool over the given connections. The slice is copied.
func New(conns []net.Conn) *Pool {
	slots := make([]net.Conn, len(conns))
	all := make([]net.Conn, len(conns))
	copy(slots, conns)
	copy(all, conns)

	return &Pool{
		sem:   semaphore.NewWeighted(int64(len(conns))),
		slots: slots,
		all:   all,
	}
}

// Acquire blocks until a connection is free and checks it out. The returned
// connection must be handed back with Release.
func (p *Pool) Acquire(ctx context.Context) (net.Conn, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		p.sem.Release(1)
		return nil, ErrClosed
	}
	for i, conn := range p.slots {
		if conn != nil {
			p.slots[i] = nil
			return conn, nil
		}
	}
	// Unreachable: the semaphore admits at most one holder per slot.
	p.sem.Release(1)
	return nil, errors.New("pool: no free slot after acquire")
}

// Release returns a connection to the pool and wakes one waiter.
func (p *Pool) Release(conn net.Conn) {
	p.mu.Lock()
	for i, s := range p.slots {
		if s == nil {
			p.slots[i] = conn
			break
		}
	}
	p.mu.Unlock()
	p.sem.Release(1)
}

// With acquires a connection, runs fn, and releases the connection on return.
func (p *Pool) With(ctx context.Context, fn func(net.Conn) error) error {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release(conn)
	return fn(conn)
}

// Size returns the fixed number of connections managed by the pool.
func (p *Pool) Size() int {
	return len(p.all)
}

// Close marks the pool closed and closes every managed connection, including
// ones currently checked out; their holders observe an I/O error.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	for _, conn := range p.all {
		_ = conn.Close()
	}
}
