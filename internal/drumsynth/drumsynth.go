package drumsynth

import (
	"math"
	"math/rand/v2"
	"strings"

	"github.com/pkg/errors"

	"github.com/cbegin/layerloop-go/internal/layer"
)

const (
	SampleRate  = 44100
	NumChannels = 2

	KickSeconds  = 0.8
	SnareSeconds = 0.4
	HiHatSeconds = 0.07

	twoPi       = math.Pi * 2
	scale       = 32767.0
	kickFadeIn  = 256
	kickFadeOut = 512
)

// Kind names a generator in a layer description.
type Kind string

const (
	KindKick  Kind = "kick"
	KindSnare Kind = "snare"
	KindHiHat Kind = "hihat"
)

// ParseKind accepts the names used in project files.
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "kick", "bd":
		return KindKick, nil
	case "snare", "sd":
		return KindSnare, nil
	case "hihat", "hi-hat", "hat", "hh":
		return KindHiHat, nil
	default:
		return "", errors.Errorf("unknown drum %q (expected kick|snare|hihat)", name)
	}
}

// Generate renders the named drum. rng may be nil.
func Generate(kind Kind, rng *rand.Rand) (layer.Waveform, error) {
	switch kind {
	case KindKick:
		return Kick(), nil
	case KindSnare:
		return Snare(rng), nil
	case KindHiHat:
		return HiHat(rng), nil
	default:
		return layer.Waveform{}, errors.Errorf("unknown drum kind %q", kind)
	}
}

func frameCount(seconds float64) int {
	return int(math.Round(SampleRate * seconds))
}

func newWaveform(seconds float64) layer.Waveform {
	return layer.Waveform{
		Samples:       make([]int16, frameCount(seconds)*NumChannels),
		SampleRate:    SampleRate,
		NumChannels:   NumChannels,
		LengthSeconds: seconds,
	}
}

// toPCM scales v to 16-bit and saturates at the int16 limits.
func toPCM(v float64) int16 {
	s := v * scale
	if s > math.MaxInt16 {
		return math.MaxInt16
	}
	if s < math.MinInt16 {
		return math.MinInt16
	}
	return int16(s)
}

func put(w *layer.Waveform, frame int, s int16) {
	w.Samples[frame*2] = s
	w.Samples[frame*2+1] = s
}

// Kick is a sine with a falling pitch and a slow exponential decay.
func Kick() layer.Waveform {
	w := newWaveform(KickSeconds)
	n := w.Frames()
	for i := 0; i < n; i++ {
		t := float64(i) / SampleRate
		freq := 150 * math.Exp(-8*t)
		env := math.Exp(-6 * t)

		fadeIn := 1.0
		if i < kickFadeIn {
			fadeIn = float64(i) / kickFadeIn
		}
		fadeOut := 1.0
		if i > n-kickFadeOut {
			fadeOut = 1 - float64(i-(n-kickFadeOut))/kickFadeOut
		}

		put(&w, i, toPCM(math.Sin(twoPi*freq*t)*env*fadeIn*fadeOut))
	}
	return w
}

// Snare mixes gaussian noise with a 300 Hz body under a fast decay.
func Snare(rng *rand.Rand) layer.Waveform {
	w := newWaveform(SnareSeconds)
	norm := normal(rng)
	for i := 0; i < w.Frames(); i++ {
		t := float64(i) / SampleRate
		env := math.Exp(-25 * t)
		tone := math.Sin(twoPi * 300 * t)
		put(&w, i, toPCM((0.6*norm()+0.4*tone)*env))
	}
	return w
}

// HiHat is low-passed noise with a little 8 kHz tone and a very short decay.
func HiHat(rng *rand.Rand) layer.Waveform {
	const (
		noiseStdDev = 0.7
		cutoff      = 0.6
		toneGain    = 0.2
		trim        = 0.8
	)
	w := newWaveform(HiHatSeconds)
	norm := normal(rng)
	var last float64
	for i := 0; i < w.Frames(); i++ {
		t := float64(i) / SampleRate
		env := math.Exp(-70*t) * (1 - t)

		filtered := cutoff*norm()*noiseStdDev + (1-cutoff)*last
		last = filtered

		tone := math.Sin(twoPi*8000*t) * toneGain
		put(&w, i, toPCM((0.65*filtered+0.35*tone)*env*trim))
	}
	return w
}

func normal(rng *rand.Rand) func() float64 {
	if rng == nil {
		return rand.NormFloat64
	}
	return rng.NormFloat64
}
