package mixer

import (
	"math"
	"sync/atomic"

	"github.com/cbegin/layerloop-go/internal/transport"
)

// EventKind identifies transport notifications raised while rendering.
type EventKind int

const (
	EventBarStarted EventKind = iota
	EventLoopCompleted
	EventPlaybackEnded
)

// Event is delivered to the renderer's callback. Bar is set for
// EventBarStarted.
type Event struct {
	Kind EventKind
	Bar  int
}

// Renderer is the real-time side of the mixer. Process is called from the
// audio goroutine; SetSchedule and Reset come from control goroutines and
// never block it.
type Renderer struct {
	schedule atomic.Pointer[Schedule]
	clock    transport.Clock
	lastBar  atomic.Int64
	ended    atomic.Bool
	onEvent  func(Event)
}

// NewRenderer creates a renderer. onEvent, if non-nil, runs on the audio
// goroutine and must not block.
func NewRenderer(onEvent func(Event)) *Renderer {
	r := &Renderer{onEvent: onEvent}
	r.lastBar.Store(-1)
	return r
}

// SetSchedule atomically replaces the active schedule. nil silences output.
func (r *Renderer) SetSchedule(s *Schedule) {
	r.schedule.Store(s)
}

func (r *Renderer) Schedule() *Schedule {
	return r.schedule.Load()
}

// Frames returns the number of frames rendered since the last Reset.
func (r *Renderer) Frames() int64 {
	return r.clock.Frames()
}

// Reset rewinds the transport. Call it only while no stream is pulling.
func (r *Renderer) Reset() {
	r.clock.Reset()
	r.lastBar.Store(-1)
	r.ended.Store(false)
}

// Process renders the next len(dst)/2 frames and advances the transport.
func (r *Renderer) Process(dst []float32) {
	n := int64(len(dst) / 2)
	s := r.schedule.Load()
	from := r.clock.Frames()
	s.Mix(dst, from)
	r.clock.Advance(int(n))
	if r.onEvent != nil && s != nil {
		r.notify(s, from, n)
	}
}

func (r *Renderer) notify(s *Schedule, from, n int64) {
	if !s.wrap {
		r.notifyBars(s, from, min(from+n, s.loopFrames))
		if from+n >= s.loopFrames && !r.ended.Swap(true) {
			r.onEvent(Event{Kind: EventPlaybackEnded})
		}
		return
	}
	if s.loopFrames <= 0 {
		return
	}
	pos := from % s.loopFrames
	var done int64
	for done < n {
		seg := min(n-done, s.loopFrames-pos)
		r.notifyBars(s, pos, pos+seg)
		done += seg
		if pos+seg == s.loopFrames {
			r.lastBar.Store(-1)
			r.onEvent(Event{Kind: EventLoopCompleted})
		}
		pos = 0
	}
}

// notifyBars raises EventBarStarted for bars first reached in [from, to).
func (r *Renderer) notifyBars(s *Schedule, from, to int64) {
	if to <= from {
		return
	}
	first := int64(math.Floor(s.Bar(from)))
	last := int64(math.Floor(s.Bar(to - 1)))
	for b := max(first, r.lastBar.Load()+1); b <= last; b++ {
		r.lastBar.Store(b)
		r.onEvent(Event{Kind: EventBarStarted, Bar: int(b)})
	}
}
