package layer

import "math"

// FullScale is the divisor that maps int16 samples onto [-1, 1).
const FullScale = 32768.0

// Waveform is an interleaved 16-bit PCM buffer plus the metadata describing
// where it came from. Samples must not be modified once the waveform is
// attached to a Layer.
type Waveform struct {
	Samples       []int16
	SampleRate    int
	NumChannels   int
	LengthSeconds float64
}

// Frames returns the number of whole frames held in Samples.
func (w Waveform) Frames() int {
	if w.NumChannels <= 0 {
		return 0
	}
	return len(w.Samples) / w.NumChannels
}

// ExpectedSamples is round(LengthSeconds*SampleRate)*NumChannels.
func (w Waveform) ExpectedSamples() int {
	return int(math.Round(w.LengthSeconds*float64(w.SampleRate))) * w.NumChannels
}

// Consistent reports whether the sample count agrees with the declared
// duration, sample rate and channel count.
func (w Waveform) Consistent() bool {
	if w.NumChannels < 1 || w.NumChannels > 2 || w.SampleRate <= 0 {
		return false
	}
	return len(w.Samples) == w.ExpectedSamples()
}

// PatternBlock places a layer on the timeline. Start and Length are in bars.
type PatternBlock struct {
	Start  float64 `json:"start"`
	Length float64 `json:"length"`
}

// End returns the first bar position after the block.
func (b PatternBlock) End() float64 { return b.Start + b.Length }

// Contains reports whether bar lies in [Start, Start+Length).
func (b PatternBlock) Contains(bar float64) bool {
	return bar >= b.Start && bar < b.End()
}

// Valid reports whether both fields are finite and non-negative.
func (b PatternBlock) Valid() bool {
	if math.IsNaN(b.Start) || math.IsNaN(b.Length) || math.IsInf(b.Start, 0) || math.IsInf(b.Length, 0) {
		return false
	}
	return b.Start >= 0 && b.Length >= 0
}

// Layer is one playable track: a waveform and the blocks that schedule it.
type Layer struct {
	ID       int
	Waveform Waveform
	Blocks   []PatternBlock
}

// ActiveAt reports whether any of the layer's blocks contains bar.
func (l Layer) ActiveAt(bar float64) bool {
	for _, b := range l.Blocks {
		if b.Contains(bar) {
			return true
		}
	}
	return false
}

// MaxUsedBars returns the furthest block end across layers, rounded up to a
// whole bar.
func MaxUsedBars(layers []Layer) float64 {
	var end float64
	for _, l := range layers {
		for _, b := range l.Blocks {
			if e := b.End(); e > end {
				end = e
			}
		}
	}
	return math.Ceil(end)
}
