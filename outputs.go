package main

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"rttydec/archive"
	"rttydec/config"
	"rttydec/decoder"
	"rttydec/sink"
	"rttydec/stats"
	"rttydec/telnet"
)

// outputs owns every destination of decoded text. Only the forward
// connection is replaced between runs; the local members live for the whole
// process and a member that failed once stays detached.
type outputs struct {
	cfg     config.ForwardConfig
	tracker *stats.Tracker

	console *sink.Writer
	telnet  *telnet.Server
	archive *archive.Writer
	mqtt    *sink.MQTT
	ui      *dashboard

	// dial is replaced in tests.
	dial func(ctx context.Context, addr string, timeout time.Duration) (decoder.Sink, error)

	mu       sync.Mutex
	forward  decoder.Sink
	detached map[string]bool
}

func newOutputs(cfg config.ForwardConfig, tracker *stats.Tracker) *outputs {
	return &outputs{
		cfg:      cfg,
		tracker:  tracker,
		detached: make(map[string]bool),
		dial: func(ctx context.Context, addr string, timeout time.Duration) (decoder.Sink, error) {
			return sink.DialForward(ctx, addr, timeout)
		},
	}
}

// Purpose: Build the fan-out used by one decoder run.
// Key aspects: Dials a fresh forward connection when forwarding is enabled;
// the forward member is required so its failure restarts the run.
// Upstream: main startup and supervisor.redialSink.
// Downstream: sink.NewMulti, sink.DialForward.
func (o *outputs) build(ctx context.Context) (decoder.Sink, error) {
	o.closeForward()

	var fwd decoder.Sink
	if o.cfg.Enabled {
		timeout := time.Duration(o.cfg.DialTimeoutSeconds) * time.Second
		s, err := o.dial(ctx, o.cfg.Address, timeout)
		if err != nil {
			return nil, err
		}
		fwd = s
		log.Printf("Forwarding decoded text to %s", o.cfg.Address)
	}

	o.mu.Lock()
	o.forward = fwd
	members := []sink.Member{{Name: "forward", Sink: fwd, Required: true}}
	for _, m := range o.localMembers() {
		if !o.detached[m.Name] {
			members = append(members, m)
		}
	}
	o.mu.Unlock()

	return sink.NewMulti(o.onDrop, members...), nil
}

// localMembers lists the optional members that are configured. Typed nil
// pointers are filtered here because NewMulti only skips untyped nils.
func (o *outputs) localMembers() []sink.Member {
	var members []sink.Member
	if o.console != nil {
		members = append(members, sink.Member{Name: "console", Sink: o.console})
	}
	if o.ui != nil {
		members = append(members, sink.Member{Name: "dashboard", Sink: o.ui})
	}
	if o.telnet != nil {
		members = append(members, sink.Member{Name: "telnet", Sink: o.telnet})
	}
	if o.archive != nil {
		members = append(members, sink.Member{Name: "archive", Sink: o.archive})
	}
	if o.mqtt != nil {
		members = append(members, sink.Member{Name: "mqtt", Sink: o.mqtt})
	}
	return members
}

func (o *outputs) onDrop(name string, err error) {
	o.mu.Lock()
	o.detached[name] = true
	o.mu.Unlock()
	if o.tracker != nil {
		o.tracker.IncrementSinkDrop(name)
	}
}

func (o *outputs) closeForward() {
	o.mu.Lock()
	fwd := o.forward
	o.forward = nil
	o.mu.Unlock()
	if c, ok := fwd.(interface{ Close() error }); ok {
		_ = c.Close()
	}
}

// statusLines adds per-output counters to the periodic stats block.
func (o *outputs) statusLines() []string {
	var lines []string
	if o.telnet != nil {
		lines = append(lines, fmt.Sprintf("Telnet: %d clients | %d queue drops", o.telnet.GetClientCount(), o.telnet.BroadcastDrops()))
	}
	if o.archive != nil {
		queued, written, dropped, dupes := o.archive.Counters()
		lines = append(lines, fmt.Sprintf("Archive: queued %d | written %d | dropped %d | duplicates %d", queued, written, dropped, dupes))
	}
	return lines
}

// Purpose: Flush and release every output at shutdown.
// Key aspects: The console writer is flushed last so final lines from the
// other members' logging do not interleave with decoded text.
// Upstream: main shutdown.
// Downstream: Close/Stop on each member.
func (o *outputs) close() {
	o.closeForward()
	if o.mqtt != nil {
		o.mqtt.Close()
	}
	if o.telnet != nil {
		o.telnet.Stop()
	}
	if o.archive != nil {
		o.archive.Stop()
	}
	if o.console != nil {
		if err := o.console.Close(); err != nil {
			log.Printf("Console flush failed: %v", err)
		}
	}
}
