// Package telnet implements the multi-client telnet server that mirrors the
// decoded RTTY text to remote listeners.
//
// The server is a decoder sink:
//   - Every decoded character is broadcast to all clients as it arrives
//   - Completed lines are kept in a ring buffer and replayed on connect
//   - Clients may type a few commands (HELP, SHOW/LAST, SHOW/USERS, BYE)
//
// Architecture:
//   - One goroutine per connected client reading commands (handleClient)
//   - One sender goroutine per client draining its buffered output channel
//   - Non-blocking delivery: a full client channel drops output for that
//     client only, so a slow listener never stalls the decoder
//
// Concurrency Design:
//   - clientsMutex protects the clients map; broadcasts hold the read lock so
//     an unregistering client's channel is never closed mid-send
//   - writeMu serializes writes from the sender and the command loop
package telnet

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"rttydec/buffer"
	"rttydec/internal/netutil"
	"rttydec/internal/ratelimit"
	"rttydec/sink"

	ztelnet "github.com/ziutek/telnet"
)

// Telnet protocol IAC (Interpret As Command) constants.
const (
	IAC  = 255 // Interpret As Command - starts telnet command sequence
	DONT = 254 // Request client to disable an option
	DO   = 253 // Request client to enable an option
	WONT = 252 // Client refuses to enable an option
	WILL = 251 // Client agrees to enable an option
	SB   = 250 // Subnegotiation begins
	SE   = 240 // Subnegotiation ends
)

const (
	optionEcho             = 1
	optionSuppressGoAhead  = 3
	defaultClientBuffer    = 1024
	defaultHistoryLines    = 500
	defaultSendDeadline    = 2 * time.Second
	defaultCommandLimit    = 64
	dropLogInterval        = 30 * time.Second
	acceptRetryDelay       = 100 * time.Millisecond
	maxShowLast            = 100
	transportZiutek        = "ziutek"
	transportNative        = "native"
	serverFullMessage      = "Server full. Try again later.\r\n"
	unknownCommandResponse = "Unknown command. Type HELP for usage.\n"
	helpResponse           = "Commands:\n" +
		"  SHOW/LAST [n]  replay the last n decoded lines\n" +
		"  SHOW/USERS     number of connected listeners\n" +
		"  BYE            disconnect\n"
)

var lineEnd = []byte("\r\n")

// ServerOptions configures the telnet server instance.
type ServerOptions struct {
	Port           int
	MaxConnections int
	WelcomeMessage string
	Station        string
	ReplayLines    int
	HistoryLines   int
	ClientBuffer   int
	// Transport is "ziutek" to wrap sessions with github.com/ziutek/telnet
	// or "native" to negotiate and strip IAC sequences here.
	Transport     string
	SkipHandshake bool
}

// Server broadcasts decoded text to telnet clients.
type Server struct {
	port           int
	maxConnections int
	welcomeMessage string
	station        string
	replayLines    int
	clientBuffer   int
	useZiutek      bool
	skipHandshake  bool
	startTime      time.Time

	listener     net.Listener
	clients      map[uint64]*Client
	clientsMutex sync.RWMutex
	nextID       atomic.Uint64
	shutdown     chan struct{}
	stopOnce     sync.Once

	history *buffer.RingBuffer
	lines   *sink.LineAssembler
	drops   *ratelimit.Counter
}

// Client represents a connected telnet listener.
type Client struct {
	id          uint64
	conn        net.Conn
	reader      *bufio.Reader
	writer      *bufio.Writer
	writeMu     sync.Mutex
	address     string
	connected   time.Time
	server      *Server
	outChan     chan []byte
	skipNextEOL bool
	stripIAC    bool
	dropCount   atomic.Uint64
}

// NewServer creates a new telnet server
func NewServer(opts ServerOptions) *Server {
	opts = normalizeServerOptions(opts)
	s := &Server{
		port:           opts.Port,
		maxConnections: opts.MaxConnections,
		welcomeMessage: opts.WelcomeMessage,
		station:        opts.Station,
		replayLines:    opts.ReplayLines,
		clientBuffer:   opts.ClientBuffer,
		useZiutek:      opts.Transport == transportZiutek,
		skipHandshake:  opts.SkipHandshake,
		startTime:      time.Now().UTC(),
		clients:        make(map[uint64]*Client),
		shutdown:       make(chan struct{}),
		history:        buffer.NewRingBuffer(opts.HistoryLines),
		drops:          ratelimit.NewCounter(dropLogInterval),
	}
	s.lines = sink.NewLineAssembler(s.recordLine)
	return s
}

func normalizeServerOptions(opts ServerOptions) ServerOptions {
	config := opts
	if config.ClientBuffer <= 0 {
		config.ClientBuffer = defaultClientBuffer
	}
	if config.HistoryLines <= 0 {
		config.HistoryLines = defaultHistoryLines
	}
	if config.ReplayLines < 0 {
		config.ReplayLines = 0
	}
	if config.ReplayLines > config.HistoryLines {
		config.ReplayLines = config.HistoryLines
	}
	config.Transport = strings.ToLower(strings.TrimSpace(config.Transport))
	if config.Transport == "" {
		config.Transport = transportNative
	}
	return config
}

// Start begins listening for telnet connections
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.port)
	listener, err := netutil.ListenTCP(ctx, addr)
	if err != nil {
		return fmt.Errorf("failed to start telnet server: %w", err)
	}
	s.listener = listener
	log.Printf("Telnet server listening on %s (transport=%s)", listener.Addr(), s.transportLabel())
	go s.acceptConnections()
	return nil
}

// Addr returns the listening address once started.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) transportLabel() string {
	if s.useZiutek {
		return transportZiutek
	}
	return transportNative
}

// EmitChar broadcasts one decoded character to every client.
func (s *Server) EmitChar(r rune) error {
	if err := s.lines.EmitChar(r); err != nil {
		return err
	}
	var buf [utf8.UTFMax]byte
	n := utf8.EncodeRune(buf[:], r)
	s.broadcast(append([]byte(nil), buf[:n]...))
	return nil
}

// FlushLine ends the current line for every client and stores it for replay.
func (s *Server) FlushLine() error {
	if err := s.lines.FlushLine(); err != nil {
		return err
	}
	s.broadcast(lineEnd)
	return nil
}

func (s *Server) recordLine(text string, at time.Time) error {
	s.history.Add(&buffer.Line{Time: at, Text: text})
	return nil
}

// broadcast queues data for every client without blocking. data must not be
// modified afterwards; it is shared by all queues.
func (s *Server) broadcast(data []byte) {
	s.clientsMutex.RLock()
	defer s.clientsMutex.RUnlock()
	for _, client := range s.clients {
		select {
		case client.outChan <- data:
		default:
			client.dropCount.Add(1)
			if total, since, ok := s.drops.Inc(); ok {
				log.Printf("Telnet: output dropped for slow client %s (%d since last report, total drops=%d)", client.address, since, total)
			}
		}
	}
}

// Recent returns up to n completed lines, oldest first.
func (s *Server) Recent(n int) []*buffer.Line {
	return s.history.Recent(n)
}

// BroadcastDrops returns how many writes to connected clients were dropped
// for backpressure.
func (s *Server) BroadcastDrops() uint64 {
	s.clientsMutex.RLock()
	defer s.clientsMutex.RUnlock()
	var total uint64
	for _, client := range s.clients {
		total += client.dropCount.Load()
	}
	return total
}

func (s *Server) acceptConnections() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
				if errors.Is(err, net.ErrClosed) {
					return
				}
				log.Printf("Error accepting connection: %v", err)
				time.Sleep(acceptRetryDelay)
				continue
			}
		}

		// Enforce configured connection limit before spinning up a client goroutine.
		if s.maxConnections > 0 && s.GetClientCount() >= s.maxConnections {
			addr := conn.RemoteAddr().String()
			_ = conn.SetWriteDeadline(time.Now().Add(defaultSendDeadline))
			_, _ = conn.Write([]byte(serverFullMessage))
			conn.Close()
			log.Printf("Rejected connection from %s: max connections reached (%d)", addr, s.maxConnections)
			continue
		}
		if tcp, ok := conn.(*net.TCPConn); ok {
			_ = tcp.SetKeepAlive(true)
			_ = tcp.SetKeepAlivePeriod(2 * time.Minute)
		}
		go s.handleClient(conn)
	}
}

// handleClient manages a single client connection
func (s *Server) handleClient(conn net.Conn) {
	defer conn.Close()

	address := conn.RemoteAddr().String()
	log.Printf("New telnet connection from %s", address)

	// Select the telnet transport backend.
	var rw io.ReadWriter = conn
	if s.useZiutek {
		tconn, err := ztelnet.NewConn(conn)
		if err != nil {
			log.Printf("telnet: failed to wrap connection from %s: %v", address, err)
			return
		}
		rw = tconn
	}
	client := &Client{
		id:        s.nextID.Add(1),
		conn:      conn,
		reader:    bufio.NewReader(rw),
		writer:    bufio.NewWriter(rw),
		address:   address,
		connected: time.Now().UTC(),
		server:    s,
		outChan:   make(chan []byte, s.clientBuffer),
		stripIAC:  !s.useZiutek,
	}

	s.negotiateTelnet(client)

	if msg := s.applyTemplateTokens(s.welcomeMessage, time.Now().UTC()); strings.TrimSpace(msg) != "" {
		if err := client.Send(ensureNewline(msg) + "Type HELP for usage.\n"); err != nil {
			return
		}
	}
	// Lines completed between the replay and registration are not seen by
	// this client.
	if err := client.replay(s.history.Recent(s.replayLines)); err != nil {
		return
	}

	s.registerClient(client)
	defer s.unregisterClient(client)
	go client.sender()

	for {
		line, err := client.ReadLine(defaultCommandLimit)
		if err != nil {
			return
		}
		response, quit := s.handleCommand(line)
		if response != "" {
			if err := client.Send(response); err != nil {
				return
			}
		}
		if quit {
			return
		}
	}
}

func (s *Server) handleCommand(line string) (string, bool) {
	fields := strings.Fields(strings.ToUpper(line))
	if len(fields) == 0 {
		return "", false
	}
	switch fields[0] {
	case "BYE", "QUIT", "EXIT":
		return "73!\n", true
	case "HELP", "?":
		return helpResponse, false
	case "SHOW/USERS", "SH/USERS":
		return fmt.Sprintf("%d listener(s) connected\n", s.GetClientCount()), false
	case "SHOW/LAST", "SH/LAST":
		n := s.replayLines
		if len(fields) > 1 {
			v, err := strconv.Atoi(fields[1])
			if err != nil || v <= 0 {
				return "Usage: SHOW/LAST [n]\n", false
			}
			n = v
		}
		if n > maxShowLast {
			n = maxShowLast
		}
		var b strings.Builder
		for _, l := range s.history.Recent(n) {
			b.WriteString(l.Text)
			b.WriteByte('\n')
		}
		if b.Len() == 0 {
			return "No decoded lines yet.\n", false
		}
		return b.String(), false
	default:
		return unknownCommandResponse, false
	}
}

// negotiateTelnet asks for a full-duplex session with local echo. It writes
// directly to the raw connection to avoid IAC escaping by the ziutek transport.
func (s *Server) negotiateTelnet(client *Client) {
	if s.skipHandshake || client == nil || client.conn == nil {
		return
	}
	sendTelnetOption(client.conn, WILL, optionSuppressGoAhead)
	sendTelnetOption(client.conn, DO, optionSuppressGoAhead)
	sendTelnetOption(client.conn, WONT, optionEcho)
}

func sendTelnetOption(conn net.Conn, command, option byte) {
	if conn == nil {
		return
	}
	if err := conn.SetWriteDeadline(time.Now().Add(defaultSendDeadline)); err != nil {
		return
	}
	_, _ = conn.Write([]byte{IAC, command, option})
	_ = conn.SetWriteDeadline(time.Time{})
}

// applyTemplateTokens replaces supported placeholders in the welcome message.
// Tokens:
//
//	<STATION>     -> configured station label
//	<DATETIME>    -> DD-Mon-YYYY HH:MM:SS UTC
//	<UPTIME>      -> uptime since server start
//	<USER_COUNT>  -> current connected listener count
func (s *Server) applyTemplateTokens(msg string, now time.Time) string {
	if msg == "" {
		return msg
	}
	uptime := formatUptime(now, s.startTime)
	if uptime == "" {
		uptime = "unknown"
	}
	replacer := strings.NewReplacer(
		"<STATION>", s.station,
		"<DATETIME>", now.Format("02-Jan-2006 15:04:05 UTC"),
		"<UPTIME>", uptime,
		"<USER_COUNT>", strconv.Itoa(s.GetClientCount()),
	)
	return replacer.Replace(msg)
}

func formatUptime(now, start time.Time) string {
	if start.IsZero() || now.Before(start) {
		return ""
	}
	dur := now.Sub(start).Round(time.Second)
	days := dur / (24 * time.Hour)
	dur -= days * 24 * time.Hour
	hours := dur / time.Hour
	dur -= hours * time.Hour
	minutes := dur / time.Minute
	dur -= minutes * time.Minute
	seconds := dur / time.Second
	if days > 0 {
		return fmt.Sprintf("%dd %02d:%02d:%02d", days, hours, minutes, seconds)
	}
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}

func ensureNewline(msg string) string {
	if strings.HasSuffix(msg, "\n") {
		return msg
	}
	return msg + "\n"
}

// registerClient adds a client to the active clients list
func (s *Server) registerClient(client *Client) {
	s.clientsMutex.Lock()
	s.clients[client.id] = client
	total := len(s.clients)
	s.clientsMutex.Unlock()
	log.Printf("Registered telnet client %s (total: %d)", client.address, total)
}

// unregisterClient removes a client and closes its output channel, which
// ends the sender goroutine.
func (s *Server) unregisterClient(client *Client) {
	s.clientsMutex.Lock()
	_, ok := s.clients[client.id]
	delete(s.clients, client.id)
	total := len(s.clients)
	if ok {
		close(client.outChan)
	}
	s.clientsMutex.Unlock()
	if drops := client.dropCount.Load(); drops > 0 {
		log.Printf("Unregistered telnet client %s (total: %d, dropped writes: %d)", client.address, total, drops)
		return
	}
	log.Printf("Unregistered telnet client %s (total: %d)", client.address, total)
}

// GetClientCount returns the number of connected clients
func (s *Server) GetClientCount() int {
	s.clientsMutex.RLock()
	defer s.clientsMutex.RUnlock()
	return len(s.clients)
}

// Stop shuts down the telnet server
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		log.Println("Stopping telnet server...")
		close(s.shutdown)
		if s.listener != nil {
			s.listener.Close()
		}
		s.clientsMutex.RLock()
		for _, client := range s.clients {
			client.conn.Close()
		}
		s.clientsMutex.RUnlock()
	})
}

// sender drains the client's output channel, flushing once the channel is
// momentarily empty so bursts go out in one write.
func (c *Client) sender() {
	for data := range c.outChan {
		if err := c.write(data, len(c.outChan) == 0); err != nil {
			log.Printf("Telnet client %s disconnecting: write failure: %v", c.address, err)
			// Closing the connection forces the read loop to exit so the
			// client unregisters and its channel is closed.
			_ = c.conn.Close()
			for range c.outChan {
			}
			return
		}
	}
}

func (c *Client) write(data []byte, flush bool) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(defaultSendDeadline)); err != nil {
		return err
	}
	defer c.conn.SetWriteDeadline(time.Time{})
	if _, err := c.writer.Write(data); err != nil {
		return err
	}
	if flush {
		return c.writer.Flush()
	}
	return nil
}

// Send writes a message to the client with proper line endings
func (c *Client) Send(message string) error {
	// Normalize any existing CRLF to LF, then replace LF with CRLF so callers
	// don't need to worry about line endings (and we avoid doubling CRs).
	message = strings.ReplaceAll(message, "\r\n", "\n")
	message = strings.ReplaceAll(message, "\n", "\r\n")
	return c.write([]byte(message), true)
}

func (c *Client) replay(lines []*buffer.Line) error {
	if len(lines) == 0 {
		return nil
	}
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l.Text)
		b.WriteByte('\n')
	}
	return c.Send(b.String())
}

// ReadLine reads one command line. Telnet IAC sequences are consumed on the
// native transport, BS/DEL erase one byte, other control bytes are dropped,
// and input beyond maxLen bytes is discarded. '\r' ends the line and a
// following '\n' or NUL is consumed per RFC 854.
func (c *Client) ReadLine(maxLen int) (string, error) {
	if maxLen <= 0 {
		maxLen = defaultCommandLimit
	}
	var line []byte
	for {
		b, err := c.reader.ReadByte()
		if err != nil {
			return "", err
		}
		if c.skipNextEOL {
			c.skipNextEOL = false
			if b == '\n' || b == 0x00 {
				continue
			}
		}
		if b == IAC && c.stripIAC {
			if err := c.consumeIACSequence(); err != nil {
				return "", err
			}
			continue
		}
		switch {
		case b == '\n':
			return string(line), nil
		case b == '\r':
			c.skipNextEOL = true
			return string(line), nil
		case b == 0x08 || b == 0x7f:
			if len(line) > 0 {
				line = line[:len(line)-1]
			}
		case b < 0x20 || b > 0x7e:
		case len(line) < maxLen:
			line = append(line, b)
		}
	}
}

// consumeIACSequence drains a single telnet IAC sequence.
func (c *Client) consumeIACSequence() error {
	cmd, err := c.reader.ReadByte()
	if err != nil {
		return err
	}
	switch cmd {
	case DO, DONT, WILL, WONT:
		_, err = c.reader.ReadByte()
		return err
	case SB:
		return c.consumeSubnegotiation()
	default:
		return nil
	}
}

// consumeSubnegotiation drains bytes until IAC SE, honoring IAC escapes.
func (c *Client) consumeSubnegotiation() error {
	for {
		b, err := c.reader.ReadByte()
		if err != nil {
			return err
		}
		if b != IAC {
			continue
		}
		next, err := c.reader.ReadByte()
		if err != nil {
			return err
		}
		if next == SE {
			return nil
		}
	}
}
