// Command rttygen encodes text as a 2x-oversampled ITA2 sample stream, the
// format rttydec consumes. The stream can be written to a file or stdout, or
// sent as datagrams to a multicast group to stand in for a live receiver.
// Slack and noise options exercise the decoder's alignment search.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/net/ipv4"

	"rttydec/baudot"
	"rttydec/frame"
)

const asciiLineSamples = 60

type genOptions struct {
	preamble int     // LTRS frames sent before the text
	slack    int     // up to this many idle samples between frames
	noise    float64 // probability of flipping each sample
	seed     uint64
}

// Purpose: Render text as samples.
// Key aspects: Preamble frames are LTRS so the receiver starts on the letters
// page; slack is capped below one frame so alignment stays recoverable.
// Upstream: main, tests.
// Downstream: baudot.Encoder, baudot.AppendFrame.
func generate(text string, opts genOptions) ([]byte, error) {
	codes, err := baudot.NewEncoder().Codes(text)
	if err != nil {
		return nil, err
	}
	slack := min(max(opts.slack, 0), frame.Candidates-1)
	rng := rand.New(rand.NewPCG(opts.seed, opts.seed^0x9e3779b97f4a7c15))

	out := make([]byte, 0, (opts.preamble+len(codes))*(frame.Size+slack)+frame.MinBuffered)
	for i := 0; i < opts.preamble; i++ {
		out = baudot.AppendFrame(out, baudot.CodeLetters)
	}
	for _, code := range codes {
		out = baudot.AppendFrame(out, code)
		if slack > 0 {
			out = append(out, baudot.Idle(rng.IntN(slack+1))...)
		}
	}
	out = append(out, baudot.Idle(frame.MinBuffered)...)

	if opts.noise > 0 {
		for i := range out {
			if rng.Float64() < opts.noise {
				out[i] ^= 1
			}
		}
	}
	return out, nil
}

// writeASCII prints samples as '0'/'1' characters broken into short lines.
func writeASCII(w io.Writer, samples []byte) error {
	bw := bufio.NewWriter(w)
	for i, s := range samples {
		if err := bw.WriteByte('0' + s); err != nil {
			return err
		}
		if (i+1)%asciiLineSamples == 0 {
			if err := bw.WriteByte('\n'); err != nil {
				return err
			}
		}
	}
	if len(samples)%asciiLineSamples != 0 {
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Purpose: Stream samples to a multicast group.
// Key aspects: Datagrams carry raw 0/1 bytes; rate paces the send in
// samples per second, zero sends as fast as possible.
// Upstream: main.
// Downstream: net.DialUDP, ipv4.PacketConn.
func sendMulticast(ctx context.Context, addr string, samples []byte, chunk, rate, ttl int) error {
	raddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", addr, err)
	}
	if raddr.IP.To4() == nil || !raddr.IP.IsMulticast() {
		return fmt.Errorf("%s is not an IPv4 multicast address", addr)
	}
	conn, err := net.DialUDP("udp4", nil, raddr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()
	pc := ipv4.NewPacketConn(conn)
	if err := pc.SetMulticastTTL(ttl); err != nil {
		log.Printf("Warning: unable to set multicast TTL %d: %v", ttl, err)
	}
	// Loopback lets a decoder on the same host receive the stream.
	_ = pc.SetMulticastLoopback(true)
	if chunk <= 0 {
		chunk = len(samples)
	}

	var ticker *time.Ticker
	if rate > 0 {
		interval := time.Duration(float64(time.Second) * float64(chunk) / float64(rate))
		ticker = time.NewTicker(max(interval, time.Millisecond))
		defer ticker.Stop()
	}
	for len(samples) > 0 {
		n := min(chunk, len(samples))
		if _, err := conn.Write(samples[:n]); err != nil {
			return fmt.Errorf("send: %w", err)
		}
		samples = samples[n:]
		if ticker == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func readText(text, inPath string) (string, error) {
	if text != "" {
		return text, nil
	}
	var r io.Reader = os.Stdin
	if inPath != "" && inPath != "-" {
		f, err := os.Open(inPath)
		if err != nil {
			return "", err
		}
		defer f.Close()
		r = f
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(string(data), "\r\n", "\n"), nil
}

func main() {
	text := flag.String("text", "", "Text to encode (reads -in when empty)")
	inPath := flag.String("in", "-", "Text file to encode, - for stdin")
	outPath := flag.String("out", "-", "Sample file to write, - for stdout")
	format := flag.String("format", "ascii", "Output format: ascii ('0'/'1') or raw (0x00/0x01 bytes)")
	group := flag.String("multicast", "", "Send to this IPv4 multicast group:port instead of writing a file")
	chunk := flag.Int("chunk", 512, "Samples per multicast datagram")
	rate := flag.Int("rate", 100, "Samples per second when sending multicast; 0 sends unpaced")
	ttl := flag.Int("ttl", 1, "Multicast TTL")
	preamble := flag.Int("preamble", 4, "LTRS frames sent before the text")
	slack := flag.Int("slack", 0, "Maximum idle samples inserted between frames (capped at 13)")
	noise := flag.Float64("noise", 0, "Probability of flipping each sample")
	seed := flag.Uint64("seed", uint64(time.Now().UnixNano()), "Random seed for slack and noise")
	flag.Parse()

	msg, err := readText(*text, *inPath)
	if err != nil {
		log.Fatalf("Read text: %v", err)
	}
	samples, err := generate(msg, genOptions{preamble: *preamble, slack: *slack, noise: *noise, seed: *seed})
	if err != nil {
		log.Fatalf("Encode: %v", err)
	}

	if *group != "" {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := sendMulticast(ctx, *group, samples, *chunk, *rate, *ttl); err != nil && !errors.Is(err, context.Canceled) {
			log.Fatalf("Multicast: %v", err)
		}
		log.Printf("Sent %d samples to %s", len(samples), *group)
		return
	}

	var w io.Writer = os.Stdout
	if *outPath != "" && *outPath != "-" {
		f, err := os.Create(*outPath)
		if err != nil {
			log.Fatalf("Create %s: %v", *outPath, err)
		}
		defer f.Close()
		w = f
	}
	switch strings.ToLower(*format) {
	case "ascii":
		err = writeASCII(w, samples)
	case "raw":
		_, err = w.Write(samples)
	default:
		log.Fatalf("Unknown format %q", *format)
	}
	if err != nil {
		log.Fatalf("Write: %v", err)
	}
}
