package discovery

import (
	"net"
	"testing"
	"time"

	"github.com/chatline/chatline/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// freePort grabs a free UDP port by binding port 0 and releasing it.
func freePort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	port := conn.LocalAddr().(*net.UDPAddr).Port
	require.NoError(t, conn.Close())
	return port
}

func TestBeaconDeliversForeignAnnouncements(t *testing.T) {
	port := freePort(t)
	heard := make(chan *wire.Message, 16)

	b, err := New(Config{
		ServiceName:   "cli",
		Code:          wire.CodeClientDiscovery,
		Port:          port,
		BroadcastAddr: "127.0.0.1",
		Period:        50 * time.Millisecond,
		OnDiscover:    func(m *wire.Message) { heard <- m },
	})
	require.NoError(t, err)
	defer b.Stop()

	// A foreign server announcement sent from another socket.
	announce, err := wire.NewMessage(&wire.User{Username: "srv"}, nil, wire.CodeServerDiscovery, nil)
	require.NoError(t, err)
	payload, err := wire.Encode(announce)
	require.NoError(t, err)

	sender, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	require.NoError(t, err)
	defer sender.Close()
	_, err = sender.Write(payload)
	require.NoError(t, err)

	select {
	case msg := <-heard:
		assert.Equal(t, wire.CodeServerDiscovery, msg.Type)
		assert.Equal(t, "srv", msg.SrcName())
		require.NotNil(t, msg.Src.Address, "sender address must be attached")
		assert.Equal(t, "127.0.0.1", msg.Src.Address.Host)
	case <-time.After(3 * time.Second):
		t.Fatal("announcement was not delivered to the callback")
	}
}

func TestBeaconFiltersOwnEcho(t *testing.T) {
	port := freePort(t)
	heard := make(chan *wire.Message, 16)

	// Broadcasting to 127.0.0.1 loops our own datagrams straight back to the
	// shared socket, so every received datagram is a self-echo.
	b, err := New(Config{
		ServiceName:   "srv",
		Code:          wire.CodeServerDiscovery,
		Port:          port,
		BroadcastAddr: "127.0.0.1",
		Period:        20 * time.Millisecond,
		OnDiscover:    func(m *wire.Message) { heard <- m },
	})
	require.NoError(t, err)
	defer b.Stop()

	select {
	case msg := <-heard:
		t.Fatalf("self-echo reached the callback: %+v", msg)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestBeaconStopIsIdempotent(t *testing.T) {
	b, err := New(Config{
		ServiceName:   "srv",
		Code:          wire.CodeServerDiscovery,
		Port:          freePort(t),
		BroadcastAddr: "127.0.0.1",
		Period:        time.Hour, // never fires during the test
	})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		b.Stop()
		b.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not terminate the beacon loops")
	}
}
