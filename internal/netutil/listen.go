// Package netutil holds socket helpers shared by the telnet listener and the
// multicast receiver.
package netutil

import (
	"context"
	"net"
	"syscall"
)

// ReuseAddrConfig returns a ListenConfig that sets SO_REUSEADDR, so a
// restarted daemon can rebind at once and several receivers can share one
// multicast port.
func ReuseAddrConfig() net.ListenConfig {
	return net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			controlErr := c.Control(func(fd uintptr) {
				sockErr = setReuseAddr(fd)
			})
			if controlErr != nil {
				return controlErr
			}
			return sockErr
		},
	}
}

// ListenTCP enables SO_REUSEADDR and falls back to a standard Listen when
// the control call fails.
func ListenTCP(ctx context.Context, addr string) (net.Listener, error) {
	lc := ReuseAddrConfig()
	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return net.Listen("tcp", addr)
	}
	return listener, nil
}

// ListenUDP4 binds an IPv4 UDP socket with SO_REUSEADDR, falling back to a
// plain bind.
func ListenUDP4(ctx context.Context, addr string) (net.PacketConn, error) {
	lc := ReuseAddrConfig()
	conn, err := lc.ListenPacket(ctx, "udp4", addr)
	if err != nil {
		return net.ListenPacket("udp4", addr)
	}
	return conn, nil
}
