package pool

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConns(t *testing.T, n int) []net.Conn {
	t.Helper()
	conns := make([]net.Conn, n)
	for i := range conns {
		a, b := net.Pipe()
		t.Cleanup(func() { _ = a.Close(); _ = b.Close() })
		conns[i] = a
	}
	return conns
}

func TestAcquireReturnsDistinctConns(t *testing.T) {
	p := New(testConns(t, 3))
	ctx := context.Background()

	seen := map[net.Conn]bool{}
	var held []net.Conn
	for i := 0; i < 3; i++ {
		conn, err := p.Acquire(ctx)
		require.NoError(t, err)
		assert.False(t, seen[conn], "same connection handed to two holders")
		seen[conn] = true
		held = append(held, conn)
	}
	for _, conn := range held {
		p.Release(conn)
	}
}

func TestAcquireBlocksUntilRelease(t *testing.T) {
	p := New(testConns(t, 1))
	ctx := context.Background()

	conn, err := p.Acquire(ctx)
	require.NoError(t, err)

	acquired := make(chan net.Conn)
	go func() {
		c, err := p.Acquire(ctx)
		if err == nil {
			acquired <- c
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire succeeded while the only connection was held")
	case <-time.After(50 * time.Millisecond):
	}

	p.Release(conn)

	select {
	case c := <-acquired:
		p.Release(c)
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken by release")
	}
}

func TestAcquireHonorsContextCancel(t *testing.T) {
	p := New(testConns(t, 1))

	conn, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer p.Release(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConcurrentHoldersBounded(t *testing.T) {
	const size = 4
	const workers = 32

	p := New(testConns(t, size))
	ctx := context.Background()

	var current, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := p.With(ctx, func(net.Conn) error {
				n := current.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				current.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(size))
	assert.Greater(t, peak.Load(), int32(0))
}

func TestAcquireAfterClose(t *testing.T) {
	p := New(testConns(t, 2))
	p.Close()

	_, err := p.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCloseIsIdempotent(t *testing.T) {
	p := New(testConns(t, 1))
	p.Close()
	p.Close()
}
