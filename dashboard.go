package main

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

const (
	dashboardEventQueue = 4096
	defaultTextLines    = 200
	statsPaneHeight     = 6
	systemPaneHeight    = 8
)

// dashboard renders the tview layout when a compatible terminal is available:
// the decoder counters on top, the decoded text stream in the middle and the
// system log at the bottom. It is a decoder sink, so decoded characters show
// up as they are demodulated.
type dashboard struct {
	app        *tview.Application
	statsView  *tview.TextView
	textView   *tview.TextView
	systemView *tview.TextView
	text       *textPane
	events     chan textEvent
	closed     atomic.Bool
	stopOnce   sync.Once
	ready      chan struct{}
	done       chan struct{}
}

type textEvent struct {
	r       rune
	newline bool
}

// textPane keeps the last max decoded lines plus the line being received.
type textPane struct {
	mu      sync.Mutex
	lines   []string
	max     int
	partial []rune
}

func newTextPane(max int) *textPane {
	if max <= 0 {
		max = defaultTextLines
	}
	return &textPane{max: max}
}

func (p *textPane) apply(ev textEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !ev.newline {
		p.partial = append(p.partial, ev.r)
		return
	}
	p.lines = append(p.lines, string(p.partial))
	p.partial = p.partial[:0]
	if len(p.lines) > p.max {
		p.lines = p.lines[len(p.lines)-p.max:]
	}
}

// render returns the pane text with tview color tags escaped so decoded
// brackets are shown literally.
func (p *textPane) render() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var b strings.Builder
	for _, l := range p.lines {
		b.WriteString(tview.Escape(l))
		b.WriteByte('\n')
	}
	b.WriteString(tview.Escape(string(p.partial)))
	return b.String()
}

func newDashboard(enable bool, station string, textLines int) *dashboard {
	if !enable {
		return nil
	}

	makePane := func(title string) *tview.TextView {
		tv := tview.NewTextView().
			SetDynamicColors(true).
			SetWrap(true)
		tv.SetBorder(true)
		if title != "" {
			tv.SetTitle(" " + title + " ").SetTitleAlign(tview.AlignLeft)
		}
		return tv
	}

	stats := tview.NewTextView().SetDynamicColors(true).SetWrap(false)
	stats.SetTextColor(tcell.ColorYellow)
	textPaneView := makePane(station + " decoded text")
	textPaneView.SetTextColor(tcell.ColorGreen)
	systemPane := makePane("System")
	systemPane.SetTextColor(tcell.ColorYellow)
	systemPane.SetMaxLines(500)

	layout := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(stats, statsPaneHeight, 0, false).
		AddItem(textPaneView, 0, 1, false).
		AddItem(systemPane, systemPaneHeight, 0, false)

	app := tview.NewApplication().SetRoot(layout, true).EnableMouse(false)
	ready := make(chan struct{})
	var once sync.Once
	app.SetBeforeDrawFunc(func(screen tcell.Screen) bool {
		once.Do(func() { close(ready) })
		return false
	})
	d := &dashboard{
		app:        app,
		statsView:  stats,
		textView:   textPaneView,
		systemView: systemPane,
		text:       newTextPane(textLines),
		events:     make(chan textEvent, dashboardEventQueue),
		ready:      ready,
		done:       make(chan struct{}),
	}

	// Dedicated flusher so the decoder can drop instead of blocking when the UI lags.
	go d.runEventLoop()

	go func() {
		defer close(d.done)
		if err := app.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "dashboard error: %v\n", err)
		}
	}()

	return d
}

// Done is closed when the UI exits, including when the operator quits it
// with Ctrl+C.
func (d *dashboard) Done() <-chan struct{} {
	return d.done
}

func (d *dashboard) Stop() {
	if d == nil || d.app == nil {
		return
	}
	d.stopOnce.Do(func() {
		d.closed.Store(true)
		close(d.events)
		d.app.Stop()
	})
}

func (d *dashboard) WaitReady() {
	if d == nil || d.ready == nil {
		return
	}
	<-d.ready
}

func (d *dashboard) SetStats(lines []string) {
	if d == nil {
		return
	}
	text := strings.Join(lines, "\n")
	d.app.QueueUpdateDraw(func() {
		d.statsView.SetText(text)
	})
}

// EmitChar queues one decoded character. A saturated queue drops it rather
// than stall the decoder.
func (d *dashboard) EmitChar(r rune) error {
	d.enqueue(textEvent{r: r})
	return nil
}

// FlushLine queues the end of the current line.
func (d *dashboard) FlushLine() error {
	d.enqueue(textEvent{newline: true})
	return nil
}

func (d *dashboard) enqueue(ev textEvent) {
	if d == nil || d.closed.Load() {
		return
	}
	select {
	case d.events <- ev:
	default:
	}
}

// runEventLoop applies every queued event, then redraws once per burst.
func (d *dashboard) runEventLoop() {
	for ev := range d.events {
		d.text.apply(ev)
	drain:
		for {
			select {
			case next, ok := <-d.events:
				if !ok {
					break drain
				}
				d.text.apply(next)
			default:
				break drain
			}
		}
		text := d.text.render()
		d.app.QueueUpdateDraw(func() {
			d.textView.SetText(text)
			d.textView.ScrollToEnd()
		})
	}
}

func (d *dashboard) SystemWriter() *paneWriter {
	if d == nil {
		return nil
	}
	return &paneWriter{view: d.systemView, app: d.app}
}

type paneWriter struct {
	view *tview.TextView
	app  *tview.Application
}

func (w *paneWriter) Write(p []byte) (int, error) {
	if w == nil || w.view == nil {
		return len(p), nil
	}
	text := tview.Escape(string(p))
	if w.app == nil {
		fmt.Fprint(w.view, text)
		return len(p), nil
	}
	w.app.QueueUpdateDraw(func() {
		fmt.Fprint(w.view, text)
		w.view.ScrollToEnd()
	})
	return len(p), nil
}
