package transport

import (
	"math"
	"sync/atomic"
)

// BeatsPerBar is fixed; the beat is a quarter note.
const BeatsPerBar = 4

// BarPosition converts a rendered frame count into a position in bars.
func BarPosition(frames int64, sampleRate int, bpm float64) float64 {
	seconds := float64(frames) / float64(sampleRate)
	return seconds * (bpm / 60 / BeatsPerBar)
}

// FramesPerBar returns the (fractional) number of frames in one bar.
func FramesPerBar(sampleRate int, bpm float64) float64 {
	return float64(sampleRate) * 60 * BeatsPerBar / bpm
}

// MaxFrame bounds frame positions so that frame arithmetic never overflows.
const MaxFrame = math.MaxInt64 / 2

// InRange reports whether bar converts to a frame position below MaxFrame.
func InRange(bar float64, sampleRate int, bpm float64) bool {
	return bar*FramesPerBar(sampleRate, bpm) < MaxFrame
}

// FrameAtBar returns the first frame whose BarPosition is >= bar. Block and
// loop boundaries are converted with it so that integer frame arithmetic
// agrees with BarPosition exactly, rounding included.
func FrameAtBar(bar float64, sampleRate int, bpm float64) int64 {
	if bar <= 0 {
		return 0
	}
	if !InRange(bar, sampleRate, bpm) {
		return MaxFrame
	}
	f := int64(math.Ceil(bar * FramesPerBar(sampleRate, bpm)))
	for f > 0 && BarPosition(f-1, sampleRate, bpm) >= bar {
		f--
	}
	for BarPosition(f, sampleRate, bpm) < bar {
		f++
	}
	return f
}

// AnchorFrame is round(bar*FramesPerBar): the frame at which a block that
// starts at bar reads the first sample of its waveform.
func AnchorFrame(bar float64, sampleRate int, bpm float64) int64 {
	return int64(math.Round(bar * FramesPerBar(sampleRate, bpm)))
}

// Clock is the transport's frame counter. Only the goroutine that owns the
// output stream advances it; any goroutine may read it.
type Clock struct {
	frames atomic.Int64
}

func (c *Clock) Frames() int64 { return c.frames.Load() }

// Advance adds n frames and returns the count before the addition.
func (c *Clock) Advance(n int) int64 {
	return c.frames.Add(int64(n)) - int64(n)
}

func (c *Clock) Reset() { c.frames.Store(0) }

// Bar returns the current position in bars.
func (c *Clock) Bar(sampleRate int, bpm float64) float64 {
	return BarPosition(c.frames.Load(), sampleRate, bpm)
}
