package progress

import (
	"sync"

	"github.com/pterm/pterm"
)

// Reporter receives coarse progress from a stage: one Start, some Increments, one Stop.
type Reporter interface {
	Start(title string, total int)
	Increment()
	Stop()
}

// OrNop returns r, or a reporter that ignores everything when r is nil.
func OrNop(r Reporter) Reporter {
	if r == nil {
		return nop{}
	}
	return r
}

type nop struct{}

func (nop) Start(string, int) {}
func (nop) Increment()        {}
func (nop) Stop()             {}

// Terminal draws a pterm progress bar per stage.
type Terminal struct {
	mu  sync.Mutex
	bar *pterm.ProgressbarPrinter
}

// NewTerminal returns a reporter that renders to the terminal.
func NewTerminal() *Terminal {
	return &Terminal{}
}

func (t *Terminal) Start(title string, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if total <= 0 {
		total = 1
	}
	bar, err := pterm.DefaultProgressbar.
		WithTotal(total).
		WithTitle(title).
		WithRemoveWhenDone(false).
		Start()
	if err != nil {
		t.bar = nil
		return
	}
	t.bar = bar
}

func (t *Terminal) Increment() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bar != nil {
		t.bar.Increment()
	}
}

func (t *Terminal) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bar != nil {
		_, _ = t.bar.Stop()
		t.bar = nil
	}
}

// Event is one call observed by a Recorder.
type Event struct {
	Kind  string // start, increment, stop
	Title string
	Total int
}

// Recorder keeps every call. Used by the server stream and tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	notify func(Event)
}

// NewRecorder returns a Recorder that also forwards each event to notify, if set.
func NewRecorder(notify func(Event)) *Recorder {
	return &Recorder{notify: notify}
}

func (r *Recorder) add(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	notify := r.notify
	r.mu.Unlock()
	if notify != nil {
		notify(e)
	}
}

func (r *Recorder) Start(title string, total int) { r.add(Event{Kind: "start", Title: title, Total: total}) }
func (r *Recorder) Increment()                    { r.add(Event{Kind: "increment"}) }
func (r *Recorder) Stop()                         { r.add(Event{Kind: "stop"}) }

// Events returns a copy of what was recorded.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Increments counts increment events.
func (r *Recorder) Increments() int {
	n := 0
	for _, e := range r.Events() {
		if e.Kind == "increment" {
			n++
		}
	}
	return n
}
