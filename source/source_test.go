package source

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"rttydec/config"
)

func readAll(t *testing.T, f interface {
	ReadSamples(ctx context.Context, dst []byte) (int, error)
}) ([]byte, error) {
	t.Helper()
	var out []byte
	buf := make([]byte, 8)
	for {
		n, err := f.ReadSamples(context.Background(), buf)
		out = append(out, buf[:n]...)
		if err != nil {
			return out, err
		}
	}
}

func TestNormalizeAcceptsRawAndASCII(t *testing.T) {
	p := []byte{0, 1, '0', '1', ' ', '\n', 1}
	n, err := normalize(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []byte{0, 1, 0, 1, 1}
	if n != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), n)
	}
	for i := range want {
		if p[i] != want[i] {
			t.Fatalf("sample %d: expected %d, got %d", i, want[i], p[i])
		}
	}
}

func TestNormalizeRejectsOtherBytes(t *testing.T) {
	_, err := normalize([]byte("01x1"))
	if !errors.Is(err, ErrMalformedSample) {
		t.Fatalf("expected ErrMalformedSample, got %v", err)
	}
}

func TestStreamReadsUntilEOF(t *testing.T) {
	s := NewStream(strings.NewReader("1100 1100\n\n0011"), "test")
	got, err := readAll(t, s)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
	if string(got) != "\x01\x01\x00\x00\x01\x01\x00\x00\x00\x00\x01\x01" {
		t.Fatalf("unexpected samples %v", got)
	}
}

func TestStreamStopsOnMalformedInput(t *testing.T) {
	s := NewStream(strings.NewReader("0101?"), "test")
	got, err := readAll(t, s)
	if !errors.Is(err, ErrMalformedSample) {
		t.Fatalf("expected ErrMalformedSample, got %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("expected samples before the bad byte to be delivered, got %d", len(got))
	}
}

func TestDialReadsTCPFeed(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		_, _ = conn.Write([]byte("110011"))
		conn.Close()
	}()

	s, err := Dial(context.Background(), ln.Addr().String(), false, time.Second, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer s.Close()
	got, err := readAll(t, s)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
	if len(got) != 6 {
		t.Fatalf("expected 6 samples, got %d", len(got))
	}
}

func TestDialReadTimeoutIsAnError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	hold := make(chan struct{})
	defer close(hold)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		<-hold
		conn.Close()
	}()

	s, err := Dial(context.Background(), ln.Addr().String(), false, time.Second, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer s.Close()
	_, err = s.ReadSamples(context.Background(), make([]byte, 4))
	var nerr net.Error
	if !errors.As(err, &nerr) || !nerr.Timeout() {
		t.Fatalf("expected timeout error, got %v", err)
	}
}

func TestOpenFileAndStdin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "samples.txt")
	if err := os.WriteFile(path, []byte("0110\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	f, err := Open(context.Background(), config.SourceConfig{Kind: config.SourceFile, Path: path}, nil)
	if err != nil {
		t.Fatalf("open file: %v", err)
	}
	defer f.Close()
	got, _ := readAll(t, f)
	if len(got) != 4 {
		t.Fatalf("expected 4 samples from file, got %d", len(got))
	}

	in, err := Open(context.Background(), config.SourceConfig{Kind: config.SourceStdin}, strings.NewReader("11"))
	if err != nil {
		t.Fatalf("open stdin: %v", err)
	}
	if in.String() != "stdin" {
		t.Fatalf("unexpected label %q", in.String())
	}
	got, _ = readAll(t, in)
	if len(got) != 2 {
		t.Fatalf("expected 2 samples from stdin, got %d", len(got))
	}
}

func TestMulticastSplitsLargeDatagrams(t *testing.T) {
	m, err := JoinMulticast(context.Background(), "239.255.77.1", 0, "", time.Second)
	if err != nil {
		t.Skipf("multicast unavailable: %v", err)
	}
	defer m.Close()
	port := m.LocalAddr().(*net.UDPAddr).Port

	out, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer out.Close()
	if _, err := out.Write([]byte("0101010101")); err != nil {
		t.Fatalf("write: %v", err)
	}

	buf := make([]byte, 4)
	total := 0
	for total < 10 {
		n, err := m.ReadSamples(context.Background(), buf)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if n > len(buf) {
			t.Fatalf("read overflowed buffer: %d", n)
		}
		total += n
	}
	if total != 10 {
		t.Fatalf("expected 10 samples, got %d", total)
	}
}

func TestMulticastMalformedDatagramKeepsLeadingSamples(t *testing.T) {
	m, err := JoinMulticast(context.Background(), "239.255.77.2", 0, "", time.Second)
	if err != nil {
		t.Skipf("multicast unavailable: %v", err)
	}
	defer m.Close()
	port := m.LocalAddr().(*net.UDPAddr).Port

	out, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer out.Close()
	if _, err := out.Write([]byte("011x0")); err != nil {
		t.Fatalf("write: %v", err)
	}

	buf := make([]byte, 16)
	n, err := m.ReadSamples(context.Background(), buf)
	if !errors.Is(err, ErrMalformedSample) {
		t.Fatalf("expected ErrMalformedSample, got %v", err)
	}
	if n != 3 || !bytes.Equal(buf[:n], []byte{0, 1, 1}) {
		t.Fatalf("expected samples before the bad byte, got %v", buf[:n])
	}
}

func TestJoinMulticastRejectsUnicast(t *testing.T) {
	if _, err := JoinMulticast(context.Background(), "10.1.2.3", 10000, "", 0); err == nil {
		t.Fatal("expected error for unicast group")
	}
}
