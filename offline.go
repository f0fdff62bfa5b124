package layerloop

import (
	"github.com/pkg/errors"

	intmix "github.com/cbegin/layerloop-go/internal/mixer"
	"github.com/cbegin/layerloop-go/internal/wavio"
)

// OutputChannels is the channel count of every rendered buffer.
const OutputChannels = 2

// Render mixes totalFrames stereo frames of the current layer set from bar 0.
// It does not touch the live transport, so it may run during playback.
func (s *Session) Render(totalFrames int64) []float32 {
	return intmix.Render(s.renderer.Schedule(), 0, totalFrames)
}

// RenderToFile bounces the current layer set to a 16-bit stereo WAV at path.
// totalFrames of 0 renders one pass of the loop. The file appears only once
// it has been fully written.
func (s *Session) RenderToFile(path string, totalFrames int64) error {
	sched := s.renderer.Schedule()
	if sched == nil || sched.NumLayers() == 0 {
		return errors.New("no layers to render")
	}
	if totalFrames < 0 {
		return errors.Errorf("totalFrames must not be negative, got %d", totalFrames)
	}
	if totalFrames == 0 {
		totalFrames = sched.LoopFrames()
	}
	if totalFrames == 0 {
		return errors.New("loop is empty; pass totalFrames explicitly")
	}
	samples := intmix.Render(sched, 0, totalFrames)
	if err := wavio.WriteFile(path, samples, s.sampleRate, OutputChannels); err != nil {
		return errors.Wrap(err, "render to file")
	}
	s.cfg.logger.Info("rendered", "path", path, "frames", totalFrames,
		"seconds", float64(totalFrames)/float64(s.sampleRate))
	return nil
}

// DurationSeconds reports the length of a WAV file from its header.
func DurationSeconds(path string) (float64, error) {
	return wavio.DurationSeconds(path)
}
