// Package agent implements the client side of the chat relay: one master
// connection for synchronous control transactions and a pool of slave
// connections the server pushes inbound messages through, plus an optional
// LAN presence beacon.
package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/chatline/chatline/internal/discovery"
	"github.com/chatline/chatline/internal/logger"
	"github.com/chatline/chatline/internal/wire"
)

const (
	// DefaultConnections is the default slave pool size.
	DefaultConnections = 4

	// DefaultQueueSize bounds the receive buffer between the slave readers
	// and the orchestrator.
	DefaultQueueSize = 64

	// minRetryBackoff is the floor for the dial retry interval.
	minRetryBackoff = time.Second

	dialTimeout = 5 * time.Second
)

// ErrUsernameTaken is returned by New when the server refuses IDENTIFY_MASTER
// because another client already holds the name.
var ErrUsernameTaken = errors.New("agent: username already taken")

// Callback receives each inbound message pushed by the server.
type Callback func(*wire.Message)

// Config configures an agent.
type Config struct {
	// Host and Port locate the relay server.
	Host string
	Port int

	// Username is the unique name to join under.
	Username string

	// Connections is the slave pool size. Default 4.
	Connections int

	// QueueSize bounds the receive buffer. Default 64.
	QueueSize int

	// RetryBackoff is the wait between dial attempts. Clamped to >= 1s.
	RetryBackoff time.Duration

	// DialAttempts caps connection retries. Zero retries until the
	// construction context is cancelled.
	DialAttempts int

	// OnMessage is invoked once per inbound message, in arrival order per
	// slave connection. Optional; without it inbound messages are dropped.
	OnMessage Callback

	// OnDiscover is invoked for presence announcements heard on the LAN
	// beacon. Only used when DiscoveryEnabled is set.
	OnDiscover discovery.Callback

	// DiscoveryEnabled starts the CLIENT_DISC beacon after identification.
	DiscoveryEnabled bool

	// DiscoveryPort overrides the beacon port. Default 50001.
	DiscoveryPort int
}

// Agent is a connected chat client. All control methods are serialized by a
// single lock so exactly one write-then-read transaction is in flight on the
// master connection at a time.
type Agent struct {
	config Config

	mu     sync.Mutex // single-flight lock over master transactions
	user   *wire.User
	master net.Conn
	slaves []net.Conn

	queue  chan *wire.Message
	beacon *discovery.Beacon

	shutdown chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New connects to the relay and identifies: dial the master, dial the slave
// pool, then run IDENTIFY_MASTER, one JOIN_SLAVE per slave, and
// IDENTIFY_SLAVES. On any failure every opened connection is closed before
// returning. The context governs dialing only; the returned agent lives until
// Stop.
func New(ctx context.Context, cfg Config) (*Agent, error) {
	if cfg.Username == "" {
		return nil, errors.New("agent: username must not be empty")
	}
	if cfg.Connections <= 0 {
		cfg.Connections = DefaultConnections
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.RetryBackoff < minRetryBackoff {
		cfg.RetryBackoff = minRetryBackoff
	}

	a := &Agent{
		config:   cfg,
		user:     &wire.User{Username: cfg.Username},
		queue:    make(chan *wire.Message, cfg.QueueSize),
		shutdown: make(chan struct{}),
	}

	master, err := a.dial(ctx)
	if err != nil {
		return nil, err
	}
	a.master = master

	for i := 0; i < cfg.Connections; i++ {
		slave, err := a.dial(ctx)
		if err != nil {
			a.closeConns()
			return nil, err
		}
		a.slaves = append(a.slaves, slave)
	}

	if err := a.identify(); err != nil {
		a.closeConns()
		return nil, err
	}

	a.startReceive()

	if cfg.DiscoveryEnabled {
		beacon, err := discovery.New(discovery.Config{
			ServiceName: cfg.Username,
			Code:        wire.CodeClientDiscovery,
			Port:        cfg.DiscoveryPort,
			OnDiscover:  cfg.OnDiscover,
		})
		if err != nil {
			a.Stop()
			return nil, err
		}
		a.beacon = beacon
	}

	logger.Info("Chat agent ready", "username", cfg.Username, "connections", cfg.Connections)
	return a, nil
}

// dial connects to the server, retrying with backoff until it succeeds, the
// attempt budget runs out, or the context is cancelled.
func (a *Agent) dial(ctx context.Context) (net.Conn, error) {
	addr := net.JoinHostPort(a.config.Host, strconv.Itoa(a.config.Port))
	dialer := net.Dialer{Timeout: dialTimeout}

	var lastErr error
	for attempt := 1; ; attempt++ {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn, nil
		}
		lastErr = err

		if a.config.DialAttempts > 0 && attempt >= a.config.DialAttempts {
			return nil, fmt.Errorf("connect %s: %w", addr, lastErr)
		}
		logger.Warn("Connection failed, retrying", "address", addr, "attempt", attempt, "error", err)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("connect %s: %w", addr, ctx.Err())
		case <-time.After(a.config.RetryBackoff):
		}
	}
}

// transaction writes one message and reads one reply on the given connection.
// Callers hold the agent lock.
func (a *Agent) transaction(conn net.Conn, msg *wire.Message) (*wire.Message, error) {
	if err := wire.WriteMessage(conn, msg); err != nil {
		return nil, fmt.Errorf("send %s: %w", msg.Type, err)
	}
	reply, err := wire.ReadMessage(conn)
	if err != nil {
		return nil, fmt.Errorf("receive %s reply: %w", msg.Type, err)
	}
	return reply, nil
}

// identify runs the three-step handshake. JOIN_SLAVE travels on each slave
// connection itself so the server binds that exact socket to the pool.
func (a *Agent) identify() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	msg, err := wire.NewMessage(a.user, nil, wire.CodeIdentifyMaster, nil)
	if err != nil {
		return err
	}
	reply, err := a.transaction(a.master, msg)
	if err != nil {
		return err
	}
	if reply.Response != wire.ResponseOK {
		return ErrUsernameTaken
	}

	for i, slave := range a.slaves {
		msg, err := wire.NewMessage(a.user, nil, wire.CodeJoinSlave, nil)
		if err != nil {
			return err
		}
		reply, err := a.transaction(slave, msg)
		if err != nil {
			return err
		}
		if reply.Response != wire.ResponseOK {
			return fmt.Errorf("agent: slave %d rejected: %s", i, reply.Response)
		}
	}

	msg, err = wire.NewMessage(a.user, nil, wire.CodeIdentifySlaves, nil)
	if err != nil {
		return err
	}
	reply, err = a.transaction(a.master, msg)
	if err != nil {
		return err
	}
	if reply.Response != wire.ResponseOK {
		return fmt.Errorf("agent: slave pool rejected: %s", reply.Response)
	}
	return nil
}

// Username returns the name this agent joined under.
func (a *Agent) Username() string {
	return a.config.Username
}

// Group returns the cached current group, or "" when not in a group.
func (a *Agent) Group() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.user.Group
}

// Stop tears the agent down: the receive pipeline is signalled and joined,
// every connection is closed, and the beacon is stopped. Safe to call more
// than once; errors during shutdown are deliberately ignored.
func (a *Agent) Stop() {
	a.stopOnce.Do(func() {
		close(a.shutdown)
		a.closeConns()
		a.wg.Wait()
		if a.beacon != nil {
			a.beacon.Stop()
		}
		logger.Info("Chat agent stopped", "username", a.config.Username)
	})
}

func (a *Agent) closeConns() {
	if a.master != nil {
		_ = a.master.Close()
	}
	for _, slave := range a.slaves {
		_ = slave.Close()
	}
}
