package mixer

import "github.com/cbegin/layerloop-go/internal/layer"

// Mix fills dst with len(dst)/2 interleaved stereo frames of the timeline
// starting at absolute frame from. The result depends only on the schedule
// and the frame range, so any split of a range into consecutive calls
// produces the same samples as a single call. Mix does not allocate.
func (s *Schedule) Mix(dst []float32, from int64) {
	clear(dst)
	if s == nil {
		return
	}
	n := int64(len(dst) / 2)
	if !s.wrap {
		s.mixRange(dst, from, n)
	} else if s.loopFrames > 0 {
		pos := from % s.loopFrames
		var done int64
		for done < n {
			seg := min(n-done, s.loopFrames-pos)
			s.mixRange(dst[done*2:(done+seg)*2], pos, seg)
			done += seg
			pos = 0
		}
	}
	for i, v := range dst {
		if v > 1 {
			dst[i] = 1
		} else if v < -1 {
			dst[i] = -1
		}
	}
}

// mixRange adds timeline frames [from, from+n) into dst without clearing or
// clamping. Frames at or past the loop end contribute nothing.
func (s *Schedule) mixRange(dst []float32, from, n int64) {
	to := min(from+n, s.loopFrames)
	if to <= from {
		return
	}
	for ti := range s.tracks {
		tr := &s.tracks[ti]
		ch := int64(tr.channels)
		total := int64(len(tr.samples))
		for _, sp := range tr.spans {
			lo := max(sp.first, from)
			hi := min(sp.end, to, sp.anchor+(total+ch-1)/ch)
			for f := lo; f < hi; f++ {
				base := (f - sp.anchor) * ch
				if base < 0 {
					continue
				}
				i := (f - from) * 2
				v := float32(tr.samples[base]) / layer.FullScale
				dst[i] += v
				if ch == 1 {
					dst[i+1] += v
				} else if base+1 < total {
					dst[i+1] += float32(tr.samples[base+1]) / layer.FullScale
				}
			}
		}
	}
}

// Render is the offline path: it mixes frames [from, from+frames) in one
// pass into a freshly allocated buffer.
func Render(s *Schedule, from, frames int64) []float32 {
	if frames < 0 {
		frames = 0
	}
	out := make([]float32, frames*2)
	s.Mix(out, from)
	return out
}
