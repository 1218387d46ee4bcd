// Package server implements the chatline relay: a TCP listener that runs one
// handler per accepted connection, the client/group registry behind it, and
// the fan-out engine that pushes data messages to recipient slave pools.
package server

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/chatline/chatline/internal/discovery"
	"github.com/chatline/chatline/internal/logger"
	"github.com/chatline/chatline/internal/wire"
	"github.com/chatline/chatline/pkg/metrics"
)

// DefaultPort is the relay's well-known TCP port.
const DefaultPort = 50000

// Config holds the relay server configuration.
type Config struct {
	// Host is the bind address. Empty means all interfaces.
	Host string

	// Port is the TCP listen port. Zero binds an ephemeral port.
	Port int

	// Name is the service name announced on the discovery beacon.
	Name string

	// DiscoveryEnabled starts the UDP presence beacon alongside the listener.
	DiscoveryEnabled bool

	// DiscoveryPort overrides the beacon port. Default 50001.
	DiscoveryPort int

	// Metrics instruments routing and registry size. May be nil.
	Metrics *metrics.RelayMetrics
}

// Server is the relay server.
type Server struct {
	config   Config
	registry *Registry
	listener net.Listener
	beacon   *discovery.Beacon

	ctx          context.Context
	shutdown     chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}
}

// NewServer creates a relay server with an empty registry.
func NewServer(cfg Config) *Server {
	return &Server{
		config:   cfg,
		registry: NewRegistry(cfg.Metrics),
		shutdown: make(chan struct{}),
		conns:    make(map[net.Conn]struct{}),
	}
}

// Registry exposes the server's registry, mainly for tests and status
// reporting.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Addr returns the listener address, or "" before Serve.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Serve binds the TCP listener, optionally starts the discovery beacon, and
// accepts connections until the context is cancelled or Stop is called.
func (s *Server) Serve(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.listener = listener
	s.ctx = ctx

	if s.config.DiscoveryEnabled {
		beacon, err := discovery.New(discovery.Config{
			ServiceName: s.config.Name,
			Code:        wire.CodeServerDiscovery,
			Port:        s.config.DiscoveryPort,
		})
		if err != nil {
			_ = listener.Close()
			return fmt.Errorf("start discovery beacon: %w", err)
		}
		s.beacon = beacon
	}

	logger.Info("Relay server started", "address", listener.Addr().String(), "name", s.config.Name)

	s.wg.Add(1)
	go s.acceptLoop()

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.shutdown:
		}
	}()

	s.wg.Wait()
	return nil
}

// acceptLoop accepts connections until the listener is closed by Stop.
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
				logger.Warn("Accept failed, shutting down", "error", err)
				go s.Stop()
				return
			}
		}

		s.trackConn(conn, true)
		s.wg.Add(1)
		go func(c net.Conn) {
			defer s.wg.Done()
			defer s.trackConn(c, false)
			s.handleConn(c)
		}(conn)
	}
}

// trackConn records or forgets a live connection.
func (s *Server) trackConn(conn net.Conn, add bool) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

// Stop shuts the server down: the listener, the beacon, and every live
// connection are closed, so each handler finds its read failing and unwinds
// through its cleanup. Idempotent.
func (s *Server) Stop() {
	s.shutdownOnce.Do(func() {
		close(s.shutdown)
		if s.listener != nil {
			_ = s.listener.Close()
		}
		if s.beacon != nil {
			s.beacon.Stop()
		}

		s.connsMu.Lock()
		for conn := range s.conns {
			_ = conn.Close()
		}
		s.connsMu.Unlock()

		logger.Info("Relay server stopping", "name", s.config.Name)
	})
}
