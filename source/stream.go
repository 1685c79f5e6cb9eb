// Package source provides the sample feeds for the decode loop: a UDP
// multicast group fed by a demodulator flowgraph, TCP or telnet streams, and
// plain readers for files and stdin.
//
// Every feed carries one sample per byte. Raw 0x00/0x01 bytes and ASCII
// '0'/'1' are accepted; ASCII whitespace is skipped so recordings may be
// wrapped. Any other byte is malformed input and ends the feed.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	ztelnet "github.com/ziutek/telnet"
)

// ErrMalformedSample reports a byte that is not a sample.
var ErrMalformedSample = errors.New("source: malformed sample")

// normalize rewrites p in place to 0/1 samples and returns how many it kept.
func normalize(p []byte) (int, error) {
	n := 0
	for i, b := range p {
		switch b {
		case 0, '0':
			p[n] = 0
		case 1, '1':
			p[n] = 1
		case ' ', '\t', '\r', '\n':
			continue
		default:
			return n, fmt.Errorf("%w: byte 0x%02x at offset %d", ErrMalformedSample, b, i)
		}
		n++
	}
	return n, nil
}

// Stream reads samples from any byte stream.
type Stream struct {
	r           io.Reader
	closer      io.Closer
	conn        net.Conn
	readTimeout time.Duration
	label       string
}

// NewStream wraps r. If r is also an io.Closer it is closed by Close.
func NewStream(r io.Reader, label string) *Stream {
	s := &Stream{r: r, label: label}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// Dial opens a TCP feed. With telnet set the connection is wrapped by
// github.com/ziutek/telnet so option negotiation never reaches the decoder.
// A positive readTimeout turns a silent feed into an error.
func Dial(ctx context.Context, address string, telnet bool, dialTimeout, readTimeout time.Duration) (*Stream, error) {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("source: dial %s: %w", address, err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetKeepAlive(true)
		_ = tcp.SetKeepAlivePeriod(2 * time.Minute)
	}
	s := &Stream{r: conn, closer: conn, conn: conn, readTimeout: readTimeout, label: address}
	if telnet {
		tconn, err := ztelnet.NewConn(conn)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("source: telnet %s: %w", address, err)
		}
		s.r = tconn
		s.label = "telnet " + address
	}
	return s, nil
}

// ReadSamples implements decoder.Source. Reads that only carried whitespace
// are retried so callers never see a zero-sample success.
func (s *Stream) ReadSamples(ctx context.Context, dst []byte) (int, error) {
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if s.conn != nil {
			deadline := time.Time{}
			if s.readTimeout > 0 {
				deadline = time.Now().Add(s.readTimeout)
			}
			_ = s.conn.SetReadDeadline(deadline)
		}
		n, err := s.r.Read(dst)
		kept, nerr := normalize(dst[:n])
		if nerr != nil {
			return kept, nerr
		}
		if err != nil {
			return kept, err
		}
		if kept > 0 {
			return kept, nil
		}
	}
}

// Close releases the underlying stream and unblocks a pending read.
func (s *Stream) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// String returns the feed label for logs.
func (s *Stream) String() string {
	return s.label
}
