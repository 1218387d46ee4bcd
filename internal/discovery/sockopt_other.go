//go:build !linux && !darwin

package discovery

import (
	"fmt"
	"net"
)

// listenBroadcast binds the discovery socket without setting socket options;
// on these platforms broadcast permission is the OS default.
func listenBroadcast(port int) (*net.UDPConn, error) {
	addr := &net.UDPAddr{Port: port}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("listen udp: %w", err)
	}
	return conn, nil
}
