package sink

import (
	"fmt"
	"log"
	"sync"
	"time"
	"unicode/utf8"
)

// Member is one destination of a Multi.
type Member struct {
	Name string
	Sink Sink
	// Required members end the run when they fail. Optional members are
	// detached and the run continues.
	Required bool
}

// ErrNoMembers is returned once every member of a Multi has been detached.
// It wraps ErrClosed. Redialing cannot help because detached members stay
// out of later fan-outs.
var ErrNoMembers = fmt.Errorf("%w: every output detached", ErrClosed)

// Multi fans decoded output out to several sinks. A Multi built without
// members accepts and discards output; one whose last member was detached
// reports ErrNoMembers from then on.
type Multi struct {
	mu      sync.Mutex
	members []Member
	onDrop  func(name string, err error)
	drained bool
}

// NewMulti builds a fan-out. onDrop, when set, is called each time an
// optional member fails and is detached.
func NewMulti(onDrop func(name string, err error), members ...Member) *Multi {
	active := make([]Member, 0, len(members))
	for _, m := range members {
		if m.Sink != nil {
			active = append(active, m)
		}
	}
	return &Multi{members: active, onDrop: onDrop}
}

// EmitChar forwards one character to every member.
func (m *Multi) EmitChar(r rune) error {
	return m.each(func(s Sink) error { return s.EmitChar(r) })
}

// FlushLine forwards an end-of-line to every member.
func (m *Multi) FlushLine() error {
	return m.each(func(s Sink) error { return s.FlushLine() })
}

// Len reports how many members are still attached.
func (m *Multi) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.members)
}

func (m *Multi) each(fn func(Sink) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.drained {
		return ErrNoMembers
	}
	var firstErr error
	kept := m.members[:0]
	for _, member := range m.members {
		err := fn(member.Sink)
		if err == nil {
			kept = append(kept, member)
			continue
		}
		if member.Required {
			if firstErr == nil {
				firstErr = err
			}
			kept = append(kept, member)
			continue
		}
		log.Printf("sink: detaching %s: %v", member.Name, err)
		if m.onDrop != nil {
			m.onDrop(member.Name, err)
		}
	}
	hadMembers := len(m.members) > 0
	m.members = kept
	if hadMembers && len(kept) == 0 {
		m.drained = true
		return ErrNoMembers
	}
	return firstErr
}

// maxLineRunes bounds a line so a missing line feed cannot grow it forever.
const maxLineRunes = 1024

// LineFunc receives one completed line without its terminator.
type LineFunc func(text string, at time.Time) error

// LineAssembler collects characters into lines for line-oriented sinks.
// Overlong lines are cut and delivered early.
type LineAssembler struct {
	mu     sync.Mutex
	buf    []byte
	runes  int
	handle LineFunc
	now    func() time.Time
}

// NewLineAssembler calls handle for every completed line.
func NewLineAssembler(handle LineFunc) *LineAssembler {
	return &LineAssembler{handle: handle, now: time.Now}
}

// EmitChar appends one character to the pending line.
func (a *LineAssembler) EmitChar(r rune) error {
	a.mu.Lock()
	a.buf = utf8.AppendRune(a.buf, r)
	a.runes++
	if a.runes < maxLineRunes {
		a.mu.Unlock()
		return nil
	}
	text := a.takeLocked()
	a.mu.Unlock()
	return a.handle(text, a.now())
}

// FlushLine delivers the pending line, which may be empty.
func (a *LineAssembler) FlushLine() error {
	a.mu.Lock()
	text := a.takeLocked()
	a.mu.Unlock()
	return a.handle(text, a.now())
}

// Pending returns the characters received since the last line end.
func (a *LineAssembler) Pending() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return string(a.buf)
}

func (a *LineAssembler) takeLocked() string {
	text := string(a.buf)
	a.buf = a.buf[:0]
	a.runes = 0
	return text
}
