package source

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"golang.org/x/net/ipv4"

	"rttydec/internal/netutil"
)

// maxDatagram is the largest payload read from the group in one call.
const maxDatagram = 64 * 1024

// Multicast receives samples from an IPv4 multicast group. Each datagram
// carries a run of samples; datagram boundaries carry no meaning.
type Multicast struct {
	conn        net.PacketConn
	pconn       *ipv4.PacketConn
	group       *net.UDPAddr
	ifi         *net.Interface
	readTimeout time.Duration
	datagram    []byte
	pending     []byte
}

// JoinMulticast binds the group port on all addresses and joins group on the
// named interface, or on the system default when iface is empty.
func JoinMulticast(ctx context.Context, group string, port int, iface string, readTimeout time.Duration) (*Multicast, error) {
	ip := net.ParseIP(group)
	if ip == nil || ip.To4() == nil || !ip.IsMulticast() {
		return nil, fmt.Errorf("source: %q is not an IPv4 multicast group", group)
	}
	var ifi *net.Interface
	if iface != "" {
		found, err := net.InterfaceByName(iface)
		if err != nil {
			return nil, fmt.Errorf("source: interface %s: %w", iface, err)
		}
		ifi = found
	}
	conn, err := netutil.ListenUDP4(ctx, net.JoinHostPort("0.0.0.0", strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("source: bind udp %d: %w", port, err)
	}
	m := &Multicast{
		conn:        conn,
		pconn:       ipv4.NewPacketConn(conn),
		group:       &net.UDPAddr{IP: ip.To4()},
		ifi:         ifi,
		readTimeout: readTimeout,
		datagram:    make([]byte, maxDatagram),
	}
	if err := m.pconn.JoinGroup(ifi, m.group); err != nil {
		conn.Close()
		return nil, fmt.Errorf("source: join %s: %w", group, err)
	}
	_ = m.pconn.SetMulticastLoopback(true)
	return m, nil
}

// ReadSamples implements decoder.Source. A datagram larger than dst is kept
// and handed out over the following calls.
func (m *Multicast) ReadSamples(ctx context.Context, dst []byte) (int, error) {
	for len(m.pending) == 0 {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		deadline := time.Time{}
		if m.readTimeout > 0 {
			deadline = time.Now().Add(m.readTimeout)
		}
		_ = m.conn.SetReadDeadline(deadline)
		n, _, _, err := m.pconn.ReadFrom(m.datagram)
		if err != nil {
			return 0, err
		}
		kept, err := normalize(m.datagram[:n])
		if err != nil {
			// Hand out the samples before the bad byte, as Stream does.
			return copy(dst, m.datagram[:kept]), err
		}
		m.pending = m.datagram[:kept]
	}
	n := copy(dst, m.pending)
	m.pending = m.pending[n:]
	return n, nil
}

// Close leaves the group and closes the socket.
func (m *Multicast) Close() error {
	_ = m.pconn.LeaveGroup(m.ifi, m.group)
	return m.conn.Close()
}

// LocalAddr returns the bound address.
func (m *Multicast) LocalAddr() net.Addr {
	return m.conn.LocalAddr()
}

// String returns the feed label for logs.
func (m *Multicast) String() string {
	return fmt.Sprintf("multicast %s:%d", m.group.IP, m.conn.LocalAddr().(*net.UDPAddr).Port)
}
