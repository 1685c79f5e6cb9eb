package main

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"rttydec/decoder"
	"rttydec/sink"
	"rttydec/source"
)

const (
	restartBackoffMin = 5 * time.Second
	restartBackoffMax = 60 * time.Second
)

// backoff doubles from min up to max. Reset starts over at min.
type backoff struct {
	min, max time.Duration
	next     time.Duration
}

func newBackoff(min, max time.Duration) *backoff {
	return &backoff{min: min, max: max}
}

func (b *backoff) Next() time.Duration {
	if b.next <= 0 {
		b.next = b.min
	}
	d := b.next
	b.next *= 2
	if b.next > b.max {
		b.next = b.max
	}
	return d
}

func (b *backoff) Reset() {
	b.next = 0
}

// supervisor keeps one decode loop running. A failed output is redialed and
// the loop restarts against the new fan-out; a failed source is reopened only
// when reconnect is enabled. The loop keeps its shift page across restarts.
type supervisor struct {
	loop      *decoder.Loop
	reconnect bool

	mu   sync.Mutex
	feed source.Feed

	openSource func(ctx context.Context) (source.Feed, error)
	buildSink  func(ctx context.Context) (decoder.Sink, error)
	onRestart  func()

	backoff *backoff
	sleep   func(ctx context.Context, d time.Duration) bool
}

func newSupervisor(loop *decoder.Loop, feed source.Feed, reconnect bool) *supervisor {
	return &supervisor{
		loop:      loop,
		feed:      feed,
		reconnect: reconnect,
		backoff:   newBackoff(restartBackoffMin, restartBackoffMax),
		sleep:     sleepWithContext,
	}
}

// Purpose: Run the decoder until shutdown, a clean end of input, or a fatal
// source error.
// Key aspects: Returns nil on cancellation and end of input; returns the
// wrapped source error when reconnect is off, and the sink error once every
// output has been detached.
// Upstream: main.
// Downstream: decoder.Loop.Run, retry.
func (s *supervisor) run(ctx context.Context) error {
	for {
		err := s.loop.Run(ctx)
		switch {
		case err == nil:
			log.Printf("Source %s reached end of input", s.feedLabel())
			return nil
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, sink.ErrNoMembers):
			// Detached outputs are never rebuilt, so there is nothing to redial.
			return err
		case errors.Is(err, decoder.ErrSinkClosed):
			log.Printf("Output failed: %v", err)
			var next decoder.Sink
			ok := s.retry(ctx, "Forward redial", func(ctx context.Context) error {
				out, err := s.buildSink(ctx)
				if err != nil {
					return err
				}
				next = out
				return nil
			})
			if !ok {
				return nil
			}
			s.loop.Attach(nil, next)
		case errors.Is(err, decoder.ErrSourceFailed):
			if !s.reconnect || s.openSource == nil {
				return err
			}
			log.Printf("Source failed: %v", err)
			s.closeFeed()
			var next source.Feed
			ok := s.retry(ctx, "Source reconnect", func(ctx context.Context) error {
				feed, err := s.openSource(ctx)
				if err != nil {
					return err
				}
				next = feed
				return s.setFeed(ctx, feed)
			})
			if !ok {
				return nil
			}
			s.loop.Attach(next, nil)
			log.Printf("Source reopened: %s", s.feedLabel())
		default:
			return err
		}
		if s.onRestart != nil {
			s.onRestart()
		}
	}
}

// retry waits one backoff step before every attempt so a peer that closes
// immediately is not hammered. It reports false when ctx ends first.
func (s *supervisor) retry(ctx context.Context, what string, attempt func(context.Context) error) bool {
	s.backoff.Reset()
	for {
		d := s.backoff.Next()
		log.Printf("%s in %s", what, d)
		if !s.sleep(ctx, d) {
			return false
		}
		err := attempt(ctx)
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		log.Printf("%s failed: %v", what, err)
	}
}

// setFeed installs a reopened feed unless shutdown began while it was being
// opened, in which case the feed is closed again.
func (s *supervisor) setFeed(ctx context.Context, feed source.Feed) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		_ = feed.Close()
		return err
	}
	s.feed = feed
	return nil
}

// closeFeed closes the current feed, which also unblocks a pending read on
// sources that ignore the context.
func (s *supervisor) closeFeed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.feed != nil {
		_ = s.feed.Close()
	}
}

func (s *supervisor) feedLabel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.feed == nil {
		return "<none>"
	}
	return s.feed.String()
}

// sleepWithContext waits for d or until ctx is done; it reports whether the
// full duration elapsed.
func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
