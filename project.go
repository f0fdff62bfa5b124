package layerloop

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	intlayer "github.com/cbegin/layerloop-go/internal/layer"
)

// PatternBlock schedules a layer for [Start, Start+Length) bars.
type PatternBlock = intlayer.PatternBlock

// Waveform is an interleaved 16-bit PCM buffer with its format.
type Waveform = intlayer.Waveform

// Description is everything SetLayers needs, passed in one value.
//
// A zero BPM falls back to the session's WithBPM value. A zero
// LoopLengthInBars means "up to the last used bar", rounded up.
type Description struct {
	BPM              float64            `json:"bpm,omitempty"`
	LoopLengthInBars float64            `json:"loopLengthInBars,omitempty"`
	Layers           []LayerDescription `json:"layers"`
}

// LayerDescription names one layer's sound source and its placements. Exactly
// one of Synth (kick, snare, hihat) and SamplePath must be set.
type LayerDescription struct {
	ID            int            `json:"id"`
	Synth         string         `json:"synth,omitempty"`
	SamplePath    string         `json:"samplePath,omitempty"`
	PatternBlocks []PatternBlock `json:"patternBlocks"`
}

// Source returns a short label for logs and reports.
func (l LayerDescription) Source() string {
	if l.Synth != "" {
		return "synth:" + l.Synth
	}
	return l.SamplePath
}

// Validate checks the description without loading anything.
func (d Description) Validate() error {
	if d.BPM < 0 {
		return errors.Errorf("bpm must not be negative, got %v", d.BPM)
	}
	if d.LoopLengthInBars < 0 {
		return errors.Errorf("loopLengthInBars must not be negative, got %v", d.LoopLengthInBars)
	}
	seen := make(map[int]struct{}, len(d.Layers))
	for i, l := range d.Layers {
		if _, dup := seen[l.ID]; dup {
			return errors.Errorf("layer %d: duplicate id %d", i, l.ID)
		}
		seen[l.ID] = struct{}{}
		hasSynth := strings.TrimSpace(l.Synth) != ""
		hasPath := strings.TrimSpace(l.SamplePath) != ""
		if hasSynth == hasPath {
			return errors.Errorf("layer %d: exactly one of synth and samplePath must be set", l.ID)
		}
		for _, b := range l.PatternBlocks {
			if !b.Valid() {
				return errors.Errorf("layer %d: invalid pattern block {start: %v, length: %v}", l.ID, b.Start, b.Length)
			}
		}
	}
	return nil
}

// MaxUsedBars is the end of the last pattern block, rounded up to a bar.
func (d Description) MaxUsedBars() float64 {
	layers := make([]intlayer.Layer, len(d.Layers))
	for i, l := range d.Layers {
		layers[i] = intlayer.Layer{ID: l.ID, Blocks: l.PatternBlocks}
	}
	return intlayer.MaxUsedBars(layers)
}

// ParseDescription decodes a JSON project.
func ParseDescription(r io.Reader) (Description, error) {
	var d Description
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&d); err != nil {
		return Description{}, errors.Wrap(err, "decode project")
	}
	if err := d.Validate(); err != nil {
		return Description{}, err
	}
	return d, nil
}

// LoadProject reads a JSON project file. Relative sample paths are resolved
// against the file's directory.
func LoadProject(path string) (Description, error) {
	f, err := os.Open(path)
	if err != nil {
		return Description{}, errors.Wrap(err, "open project")
	}
	defer f.Close()

	d, err := ParseDescription(f)
	if err != nil {
		return Description{}, errors.Wrapf(err, "project %s", path)
	}
	dir := filepath.Dir(path)
	for i := range d.Layers {
		p := d.Layers[i].SamplePath
		if p != "" && !filepath.IsAbs(p) {
			d.Layers[i].SamplePath = filepath.Join(dir, p)
		}
	}
	return d, nil
}
