// Package discovery implements the LAN presence beacon. A beacon shares one
// UDP socket between two loops: a transmitter that periodically broadcasts
// this service's announcement, and a listener that surfaces announcements
// from other hosts to a callback. Datagrams byte-identical to our own
// outbound announcement are dropped so a host never discovers itself.
package discovery

import (
	"bytes"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/chatline/chatline/internal/logger"
	"github.com/chatline/chatline/internal/wire"
)

const (
	// DefaultPort is the well-known discovery port.
	DefaultPort = 50001

	// DefaultBroadcastAddr is the limited broadcast address.
	DefaultBroadcastAddr = "255.255.255.255"

	// DefaultPeriod is the announcement interval.
	DefaultPeriod = 1 * time.Second

	// maxDatagramSize bounds a single announcement datagram.
	maxDatagramSize = 2048

	// readCycle is how often the listener wakes to check for shutdown.
	readCycle = 500 * time.Millisecond
)

// Callback receives every foreign announcement heard on the segment. The
// message's Src.Address is filled in from the datagram's sender.
type Callback func(*wire.Message)

// Config configures a beacon.
type Config struct {
	// ServiceName is announced as src.username in every datagram.
	ServiceName string

	// Code selects the announcement type: CodeServerDiscovery or
	// CodeClientDiscovery.
	Code wire.Code

	// Port is the discovery port (bind and destination). Default 50001.
	Port int

	// BroadcastAddr is the destination address. Default 255.255.255.255.
	BroadcastAddr string

	// Period is the announcement interval. Default 1s.
	Period time.Duration

	// OnDiscover is invoked for each foreign announcement. Optional.
	OnDiscover Callback
}

// Beacon broadcasts presence and listens for peers.
type Beacon struct {
	config   Config
	conn     *net.UDPConn
	dest     *net.UDPAddr
	transmit []byte // our announcement payload, also the self-echo filter

	shutdown     chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup
}

// New binds the discovery socket and starts both loops.
func New(cfg Config) (*Beacon, error) {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.BroadcastAddr == "" {
		cfg.BroadcastAddr = DefaultBroadcastAddr
	}
	if cfg.Period <= 0 {
		cfg.Period = DefaultPeriod
	}

	announce, err := wire.NewMessage(&wire.User{Username: cfg.ServiceName}, nil, cfg.Code, nil)
	if err != nil {
		return nil, fmt.Errorf("discovery: build announcement: %w", err)
	}
	transmit, err := wire.Encode(announce)
	if err != nil {
		return nil, fmt.Errorf("discovery: encode announcement: %w", err)
	}

	conn, err := listenBroadcast(cfg.Port)
	if err != nil {
		return nil, fmt.Errorf("discovery: bind port %d: %w", cfg.Port, err)
	}

	b := &Beacon{
		config: cfg,
		conn:   conn,
		dest: &net.UDPAddr{
			IP:   net.ParseIP(cfg.BroadcastAddr),
			Port: cfg.Port,
		},
		transmit: transmit,
		shutdown: make(chan struct{}),
	}

	b.wg.Add(2)
	go b.transmitLoop()
	go b.listenLoop()

	logger.Info("Discovery beacon started",
		"service", cfg.ServiceName, "type", cfg.Code, "port", cfg.Port)
	return b, nil
}

// Stop terminates both loops, waits for them, and closes the socket.
// Safe to call more than once.
func (b *Beacon) Stop() {
	b.shutdownOnce.Do(func() {
		close(b.shutdown)
		_ = b.conn.Close()
		b.wg.Wait()
		logger.Info("Discovery beacon stopped", "service", b.config.ServiceName)
	})
}

// Addr returns the local socket address.
func (b *Beacon) Addr() string {
	return b.conn.LocalAddr().String()
}

func (b *Beacon) transmitLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.config.Period)
	defer ticker.Stop()

	for {
		select {
		case <-b.shutdown:
			return
		case <-ticker.C:
			if _, err := b.conn.WriteToUDP(b.transmit, b.dest); err != nil {
				select {
				case <-b.shutdown:
					return
				default:
					logger.Debug("Discovery transmit error", "error", err)
				}
			}
		}
	}
}

func (b *Beacon) listenLoop() {
	defer b.wg.Done()

	buf := make([]byte, maxDatagramSize)

	for {
		select {
		case <-b.shutdown:
			return
		default:
		}

		// Short deadline so shutdown is noticed between datagrams.
		if err := b.conn.SetReadDeadline(time.Now().Add(readCycle)); err != nil {
			select {
			case <-b.shutdown:
				return
			default:
				logger.Debug("Discovery set deadline error", "error", err)
				continue
			}
		}

		n, sender, err := b.conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-b.shutdown:
				return
			default:
				logger.Debug("Discovery read error", "error", err)
				continue
			}
		}

		if bytes.Equal(buf[:n], b.transmit) {
			continue // our own announcement reflected back
		}

		msg, err := wire.Decode(buf[:n])
		if err != nil {
			logger.Debug("Discovery datagram malformed", "sender", sender.String(), "error", err)
			continue
		}
		if msg.Src == nil {
			msg.Src = &wire.User{}
		}
		msg.Src.Address = &wire.Addr{Host: sender.IP.String(), Port: sender.Port}

		if b.config.OnDiscover != nil {
			b.config.OnDiscover(msg)
		}
	}
}
