package stream

import (
	"sync"

	"github.com/hetulpatel/crossmatch/internal/collectors"
)

const (
	TypeProgress = "progress"
	TypeDone     = "done"
	TypeError    = "error"
)

// Frame is one message of a run's progress stream.
type Frame struct {
	Type     string             `json:"type"`
	Msg      string             `json:"msg,omitempty"`
	Data     any                `json:"data,omitempty"`
	PMEvents []collectors.Event `json:"pm_events,omitempty"`
	KSEvents []collectors.Event `json:"ks_events,omitempty"`
	Warnings []string           `json:"warnings,omitempty"`
}

// Done is the payload of a successful run's terminal frame.
type Done struct {
	Data     any
	PMEvents []collectors.Event
	KSEvents []collectors.Event
	Warnings []string
}

// Reporter receives a run's progress and its terminal outcome.
type Reporter interface {
	Progress(msg string)
	Done(d Done)
	Error(msg string)
}

// Sink delivers encoded frames, e.g. to a websocket connection.
type Sink func(Frame)

// Guard turns a Sink into a Reporter that emits zero or more progress frames and
// then exactly one terminal frame. Anything after the terminal frame is dropped.
type Guard struct {
	sink Sink

	mu   sync.Mutex
	done bool
}

func NewGuard(sink Sink) *Guard {
	return &Guard{sink: sink}
}

// Guarded wraps r unless it already is a Guard.
func Guarded(r Reporter) *Guard {
	if g, ok := r.(*Guard); ok {
		return g
	}
	if r == nil {
		r = Discard{}
	}
	return NewGuard(func(f Frame) {
		switch f.Type {
		case TypeProgress:
			r.Progress(f.Msg)
		case TypeDone:
			r.Done(Done{Data: f.Data, PMEvents: f.PMEvents, KSEvents: f.KSEvents, Warnings: f.Warnings})
		case TypeError:
			r.Error(f.Msg)
		}
	})
}

func (g *Guard) emit(f Frame, terminal bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.done {
		return
	}
	if terminal {
		g.done = true
	}
	if g.sink != nil {
		g.sink(f)
	}
}

func (g *Guard) Progress(msg string) {
	g.emit(Frame{Type: TypeProgress, Msg: msg}, false)
}

func (g *Guard) Done(d Done) {
	g.emit(Frame{Type: TypeDone, Data: d.Data, PMEvents: d.PMEvents, KSEvents: d.KSEvents, Warnings: d.Warnings}, true)
}

func (g *Guard) Error(msg string) {
	g.emit(Frame{Type: TypeError, Msg: msg}, true)
}

// Finished reports whether a terminal frame has been emitted.
func (g *Guard) Finished() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.done
}

// Recorder keeps every frame it receives. Safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	frames []Frame
}

func (r *Recorder) add(f Frame) {
	r.mu.Lock()
	r.frames = append(r.frames, f)
	r.mu.Unlock()
}

func (r *Recorder) Progress(msg string) { r.add(Frame{Type: TypeProgress, Msg: msg}) }

func (r *Recorder) Done(d Done) {
	r.add(Frame{Type: TypeDone, Data: d.Data, PMEvents: d.PMEvents, KSEvents: d.KSEvents, Warnings: d.Warnings})
}

func (r *Recorder) Error(msg string) { r.add(Frame{Type: TypeError, Msg: msg}) }

// Frames returns a copy of the recorded frames.
func (r *Recorder) Frames() []Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Frame(nil), r.frames...)
}

// Discard drops everything.
type Discard struct{}

func (Discard) Progress(string) {}
func (Discard) Done(Done)       {}
func (Discard) Error(string)    {}
