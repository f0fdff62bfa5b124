package mixer

import (
	"github.com/pkg/errors"

	"github.com/cbegin/layerloop-go/internal/layer"
	"github.com/cbegin/layerloop-go/internal/transport"
)

// span is a pattern block converted to frames. A block is audible for
// frames in [first, end) and reads waveform frame (f - anchor).
type span struct {
	first  int64
	end    int64
	anchor int64
}

type track struct {
	id       int
	samples  []int16
	channels int
	spans    []span
}

// Schedule is an immutable, render-ready copy of a layer set. It is built on
// a control goroutine and handed to the audio goroutine by pointer.
type Schedule struct {
	sampleRate int
	bpm        float64
	loopBars   float64
	loopFrames int64
	wrap       bool
	tracks     []track
}

// Options control how a layer set is compiled.
type Options struct {
	SampleRate       int
	BPM              float64
	LoopLengthInBars float64
	// Wrap restarts the timeline at the loop end instead of going silent.
	Wrap bool
}

// Compile converts layers into a Schedule. Waveform sample slices are
// shared, not copied; callers must not modify them afterwards.
func Compile(layers []layer.Layer, opts Options) (*Schedule, error) {
	if opts.SampleRate <= 0 {
		return nil, errors.Errorf("sample rate must be positive, got %d", opts.SampleRate)
	}
	if opts.BPM <= 0 {
		return nil, errors.Errorf("bpm must be positive, got %v", opts.BPM)
	}
	if opts.LoopLengthInBars < 0 {
		return nil, errors.Errorf("loop length must be non-negative, got %v", opts.LoopLengthInBars)
	}
	if !transport.InRange(opts.LoopLengthInBars, opts.SampleRate, opts.BPM) {
		return nil, errors.Errorf("loop length of %v bars is too long", opts.LoopLengthInBars)
	}
	s := &Schedule{
		sampleRate: opts.SampleRate,
		bpm:        opts.BPM,
		loopBars:   opts.LoopLengthInBars,
		loopFrames: transport.FrameAtBar(opts.LoopLengthInBars, opts.SampleRate, opts.BPM),
		wrap:       opts.Wrap,
		tracks:     make([]track, 0, len(layers)),
	}
	for _, l := range layers {
		ch := l.Waveform.NumChannels
		if ch <= 0 {
			return nil, errors.Errorf("layer %d: waveform has %d channels", l.ID, ch)
		}
		tr := track{id: l.ID, samples: l.Waveform.Samples, channels: ch}
		for _, b := range l.Blocks {
			if !b.Valid() {
				return nil, errors.Errorf("layer %d: invalid pattern block {start: %v, length: %v}", l.ID, b.Start, b.Length)
			}
			if !transport.InRange(b.End(), opts.SampleRate, opts.BPM) {
				return nil, errors.Errorf("layer %d: pattern block ends too late at bar %v", l.ID, b.End())
			}
			sp := span{
				first:  transport.FrameAtBar(b.Start, opts.SampleRate, opts.BPM),
				end:    transport.FrameAtBar(b.End(), opts.SampleRate, opts.BPM),
				anchor: transport.AnchorFrame(b.Start, opts.SampleRate, opts.BPM),
			}
			if sp.end > sp.first {
				tr.spans = append(tr.spans, sp)
			}
		}
		s.tracks = append(s.tracks, tr)
	}
	return s, nil
}

func (s *Schedule) SampleRate() int { return s.sampleRate }
func (s *Schedule) BPM() float64 { return s.bpm }
func (s *Schedule) LoopLengthInBars() float64 { return s.loopBars }
func (s *Schedule) Wraps() bool { return s.wrap }
func (s *Schedule) NumLayers() int { return len(s.tracks) }

// LoopFrames is the first frame at or past the loop end.
func (s *Schedule) LoopFrames() int64 { return s.loopFrames }

// Bar converts an absolute frame count to a bar position.
func (s *Schedule) Bar(frames int64) float64 {
	return transport.BarPosition(frames, s.sampleRate, s.bpm)
}
