package sink

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"
	"unicode/utf8"
)

const defaultForwardWriteTimeout = 10 * time.Second

// Forward sends decoded text over one outbound TCP connection. The first
// failed write closes the connection for good; the owner dials a new
// Forward and restarts the decode loop against it.
type Forward struct {
	mu           sync.Mutex
	conn         net.Conn
	addr         string
	writeTimeout time.Duration
	closed       bool
}

// DialForward connects to addr.
func DialForward(ctx context.Context, addr string, timeout time.Duration) (*Forward, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("forward: dial %s: %w", addr, err)
	}
	return NewForward(conn), nil
}

// NewForward wraps an established connection.
func NewForward(conn net.Conn) *Forward {
	addr := ""
	if conn != nil && conn.RemoteAddr() != nil {
		addr = conn.RemoteAddr().String()
	}
	return &Forward{conn: conn, addr: addr, writeTimeout: defaultForwardWriteTimeout}
}

// EmitChar sends one character as UTF-8.
func (f *Forward) EmitChar(r rune) error {
	var buf [utf8.UTFMax]byte
	n := utf8.EncodeRune(buf[:], r)
	return f.write(buf[:n])
}

// FlushLine sends a line feed.
func (f *Forward) FlushLine() error {
	return f.write([]byte{'\n'})
}

func (f *Forward) write(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || f.conn == nil {
		return ErrClosed
	}
	if f.writeTimeout > 0 {
		_ = f.conn.SetWriteDeadline(time.Now().Add(f.writeTimeout))
	}
	if _, err := f.conn.Write(p); err != nil {
		f.closed = true
		_ = f.conn.Close()
		return fmt.Errorf("%w: %s: %w", ErrClosed, f.addr, err)
	}
	return nil
}

// Close closes the connection; later writes report ErrClosed.
func (f *Forward) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || f.conn == nil {
		return nil
	}
	f.closed = true
	return f.conn.Close()
}

// String returns the remote address.
func (f *Forward) String() string {
	return f.addr
}
