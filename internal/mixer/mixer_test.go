package mixer

import (
	"math/rand/v2"
	"testing"

	"github.com/cbegin/layerloop-go/internal/layer"
	"github.com/cbegin/layerloop-go/internal/transport"
)

const (
	testRate     = 44100
	testBPM      = 120
	framesPerBar = 88200
	fullScale    = float32(layer.FullScale)
)

func rampWave(frames, channels int) layer.Waveform {
	w := layer.Waveform{
		Samples:       make([]int16, frames*channels),
		SampleRate:    testRate,
		NumChannels:   channels,
		LengthSeconds: float64(frames) / testRate,
	}
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			w.Samples[i*channels+ch] = int16((i%400)*10 - 2000 + ch*7)
		}
	}
	return w
}

func constWave(frames int, v int16) layer.Waveform {
	w := rampWave(frames, 2)
	for i := range w.Samples {
		w.Samples[i] = v
	}
	return w
}

func mustCompile(t testing.TB, layers []layer.Layer, loopBars float64, wrap bool) *Schedule {
	t.Helper()
	s, err := Compile(layers, Options{SampleRate: testRate, BPM: testBPM, LoopLengthInBars: loopBars, Wrap: wrap})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return s
}

func TestShortBufferInOneBarBlock(t *testing.T) {
	w := rampWave(4410, 2)
	s := mustCompile(t, []layer.Layer{{ID: 1, Waveform: w, Blocks: []layer.PatternBlock{{Start: 0, Length: 1}}}}, 1, false)
	out := Render(s, 0, framesPerBar)
	for i := 0; i < 4410*2; i++ {
		if want := float32(w.Samples[i]) / fullScale; out[i] != want {
			t.Fatalf("sample %d = %v, want %v", i, out[i], want)
		}
	}
	for i := 4410 * 2; i < len(out); i++ {
		if out[i] != 0 {
			t.Fatalf("sample %d = %v after the buffer ran out, want silence", i, out[i])
		}
	}
}

func TestSilentAtAndAfterLoopEnd(t *testing.T) {
	w := constWave(framesPerBar*3, 1000)
	s := mustCompile(t, []layer.Layer{{ID: 1, Waveform: w, Blocks: []layer.PatternBlock{{Start: 7.5, Length: 2}}}}, 8, false)
	loopEnd := transport.FrameAtBar(8, testRate, testBPM)

	before := Render(s, loopEnd-1, 1)
	if before[0] == 0 {
		t.Fatalf("expected audio on the last frame before the loop end")
	}
	after := Render(s, loopEnd, 4096)
	for i, v := range after {
		if v != 0 {
			t.Fatalf("sample %d = %v at bar >= 8, want silence", i, v)
		}
	}
	far := Render(s, loopEnd+10*framesPerBar, 512)
	for i, v := range far {
		if v != 0 {
			t.Fatalf("sample %d = %v well past the loop, want silence", i, v)
		}
	}
}

func TestLayersSumLinearly(t *testing.T) {
	blocks := []layer.PatternBlock{{Start: 0, Length: 1}}
	a := layer.Layer{ID: 1, Waveform: constWave(1000, 1000), Blocks: blocks}
	b := layer.Layer{ID: 2, Waveform: constWave(1000, 2000), Blocks: blocks}

	solo := Render(mustCompile(t, []layer.Layer{a}, 1, false), 0, 100)
	both := Render(mustCompile(t, []layer.Layer{a, b}, 1, false), 0, 100)
	want := float32(3000) / fullScale
	for i := range both {
		if both[i] != want {
			t.Fatalf("sample %d = %v, want additive %v", i, both[i], want)
		}
		if solo[i] != float32(1000)/fullScale {
			t.Fatalf("solo sample %d = %v", i, solo[i])
		}
	}
}

func TestMixClampsToUnitRange(t *testing.T) {
	blocks := []layer.PatternBlock{{Start: 0, Length: 1}}
	stack := func(v int16, count int) []layer.Layer {
		var layers []layer.Layer
		for i := 0; i < count; i++ {
			layers = append(layers, layer.Layer{ID: i, Waveform: constWave(256, v), Blocks: blocks})
		}
		return layers
	}
	cases := []struct {
		name   string
		layers []layer.Layer
		want   float32
	}{
		{"positive overload", stack(30000, 3), 1},
		{"negative overload", stack(-32768, 4), -1},
	}
	for _, tc := range cases {
		out := Render(mustCompile(t, tc.layers, 1, false), 0, 256)
		for i, v := range out {
			if v != tc.want {
				t.Fatalf("%s: sample %d = %v, want %v", tc.name, i, v, tc.want)
			}
		}
	}
	mixed := append(stack(30000, 5), stack(-20000, 2)...)
	for i, v := range Render(mustCompile(t, mixed, 1, false), 0, 256) {
		if v < -1 || v > 1 {
			t.Fatalf("sample %d = %v outside [-1, 1]", i, v)
		}
	}
}

func TestSilenceOutsideBlocks(t *testing.T) {
	l := layer.Layer{
		ID:       1,
		Waveform: constWave(framesPerBar*2, 500),
		Blocks:   []layer.PatternBlock{{Start: 0.25, Length: 0.5}, {Start: 2, Length: 1.5}, {Start: 5.125, Length: 0.25}},
	}
	s := mustCompile(t, []layer.Layer{l}, 8, false)
	out := Render(s, 0, 8*framesPerBar)
	for f := 0; f < 8*framesPerBar; f += 37 {
		bar := transport.BarPosition(int64(f), testRate, testBPM)
		active := l.ActiveAt(bar)
		if !active && (out[f*2] != 0 || out[f*2+1] != 0) {
			t.Fatalf("frame %d (bar %.4f) sounds outside every block", f, bar)
		}
		if active && out[f*2] == 0 {
			t.Fatalf("frame %d (bar %.4f) is silent inside a block", f, bar)
		}
	}
}

func TestReadOffsetAnchoredToBlockStart(t *testing.T) {
	w := rampWave(framesPerBar, 2)
	s := mustCompile(t, []layer.Layer{{ID: 1, Waveform: w, Blocks: []layer.PatternBlock{{Start: 0.5, Length: 1}, {Start: 2, Length: 0.5}}}}, 4, false)
	for _, start := range []int64{framesPerBar / 2, 2 * framesPerBar} {
		for _, k := range []int64{0, 1, 999, 30000} {
			out := Render(s, start+k, 1)
			if want := float32(w.Samples[k*2]) / fullScale; out[0] != want {
				t.Fatalf("frame %d: got %v, want waveform frame %d (%v)", start+k, out[0], k, want)
			}
			if want := float32(w.Samples[k*2+1]) / fullScale; out[1] != want {
				t.Fatalf("frame %d right: got %v, want %v", start+k, out[1], want)
			}
		}
	}
}

func TestMonoIsDuplicated(t *testing.T) {
	w := rampWave(300, 1)
	s := mustCompile(t, []layer.Layer{{ID: 1, Waveform: w, Blocks: []layer.PatternBlock{{Start: 0, Length: 1}}}}, 1, false)
	out := Render(s, 0, 300)
	for i := 0; i < 300; i++ {
		want := float32(w.Samples[i]) / fullScale
		if out[i*2] != want || out[i*2+1] != want {
			t.Fatalf("frame %d = (%v, %v), want %v on both sides", i, out[i*2], out[i*2+1], want)
		}
	}
}

func TestMalformedLayerDoesNotOverread(t *testing.T) {
	w := rampWave(100, 2)
	w.Samples = w.Samples[:151] // frame 75 keeps only its left sample
	w.LengthSeconds = 1
	if w.Consistent() {
		t.Fatalf("test waveform should be malformed")
	}
	s := mustCompile(t, []layer.Layer{{ID: 1, Waveform: w, Blocks: []layer.PatternBlock{{Start: 0, Length: 1}}}}, 1, false)
	out := Render(s, 0, 200)
	if out[75*2] != float32(w.Samples[150])/fullScale {
		t.Fatalf("left half of the partial frame should still play")
	}
	if out[75*2+1] != 0 {
		t.Fatalf("missing right sample should be silent, got %v", out[75*2+1])
	}
	for i := 76 * 2; i < len(out); i++ {
		if out[i] != 0 {
			t.Fatalf("sample %d = %v past the end of the buffer", i, out[i])
		}
	}
}

func TestSlicingMatchesSinglePass(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 5))
	var layers []layer.Layer
	for id := 0; id < 4; id++ {
		var blocks []layer.PatternBlock
		for b := 0; b < 5; b++ {
			blocks = append(blocks, layer.PatternBlock{Start: float64(rng.IntN(16)) / 4, Length: float64(1+rng.IntN(8)) / 8})
		}
		layers = append(layers, layer.Layer{ID: id, Waveform: rampWave(2000+rng.IntN(40000), 1+id%2), Blocks: blocks})
	}
	for _, wrap := range []bool{false, true} {
		s := mustCompile(t, layers, 3.5, wrap)
		total := int64(5 * framesPerBar)
		want := Render(s, 0, total)

		r := NewRenderer(nil)
		r.SetSchedule(s)
		got := make([]float32, 0, total*2)
		buf := make([]float32, 4096*2)
		for int64(len(got)) < total*2 {
			n := min(1+rng.IntN(4096), int(total-int64(len(got))/2))
			r.Process(buf[:n*2])
			got = append(got, buf[:n*2]...)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("wrap=%v: sample %d differs: sliced %v, single pass %v", wrap, i, got[i], want[i])
			}
		}
		if r.Frames() != total {
			t.Fatalf("wrap=%v: renderer advanced %d frames, want %d", wrap, r.Frames(), total)
		}
	}
}

func TestSplitAtAnyPointIsIdentical(t *testing.T) {
	l := layer.Layer{ID: 1, Waveform: rampWave(50000, 2), Blocks: []layer.PatternBlock{{Start: 0.1, Length: 0.9}}}
	s := mustCompile(t, []layer.Layer{l}, 2, false)
	a, b := int64(1000), int64(70000)
	whole := Render(s, a, b-a)
	for _, m := range []int64{a, a + 1, 8820, 8821, 40000, b} {
		left := Render(s, a, m-a)
		right := Render(s, m, b-m)
		joined := append(left, right...)
		for i := range whole {
			if joined[i] != whole[i] {
				t.Fatalf("split at %d: sample %d differs", m, i)
			}
		}
	}
}

func TestWrapRestartsAtLoopEnd(t *testing.T) {
	w := rampWave(1000, 2)
	s := mustCompile(t, []layer.Layer{{ID: 1, Waveform: w, Blocks: []layer.PatternBlock{{Start: 0, Length: 1}}}}, 2, true)
	first := Render(s, 0, 1000)
	second := Render(s, 2*framesPerBar, 1000)
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("sample %d differs between loop passes", i)
		}
	}
}

func TestNilScheduleIsSilent(t *testing.T) {
	buf := []float32{1, 2, 3, 4}
	var s *Schedule
	s.Mix(buf, 0)
	for i, v := range buf {
		if v != 0 {
			t.Fatalf("sample %d = %v, want 0", i, v)
		}
	}
	r := NewRenderer(nil)
	r.Process(buf)
	if r.Frames() != 2 {
		t.Fatalf("renderer should advance even without a schedule, frames=%d", r.Frames())
	}
}

func TestCompileRejectsBadInput(t *testing.T) {
	good := []layer.Layer{{ID: 1, Waveform: constWave(10, 1), Blocks: []layer.PatternBlock{{Start: 0, Length: 1}}}}
	cases := []struct {
		name   string
		layers []layer.Layer
		opts   Options
	}{
		{"zero bpm", good, Options{SampleRate: testRate, BPM: 0, LoopLengthInBars: 1}},
		{"zero rate", good, Options{SampleRate: 0, BPM: 120, LoopLengthInBars: 1}},
		{"negative loop", good, Options{SampleRate: testRate, BPM: 120, LoopLengthInBars: -1}},
		{"negative block", []layer.Layer{{ID: 1, Waveform: constWave(10, 1), Blocks: []layer.PatternBlock{{Start: -1, Length: 1}}}}, Options{SampleRate: testRate, BPM: 120, LoopLengthInBars: 1}},
		{"huge loop", good, Options{SampleRate: testRate, BPM: 120, LoopLengthInBars: 1e16}},
		{"huge block start", []layer.Layer{{ID: 1, Waveform: constWave(10, 1), Blocks: []layer.PatternBlock{{Start: 1e20, Length: 1}}}}, Options{SampleRate: testRate, BPM: 120, LoopLengthInBars: 1}},
		{"huge block length", []layer.Layer{{ID: 1, Waveform: constWave(10, 1), Blocks: []layer.PatternBlock{{Start: 0, Length: 1e300}}}}, Options{SampleRate: testRate, BPM: 120, LoopLengthInBars: 1}},
		{"no channels", []layer.Layer{{ID: 1, Waveform: layer.Waveform{Samples: make([]int16, 10), SampleRate: testRate}, Blocks: []layer.PatternBlock{{Start: 0, Length: 1}}}}, Options{SampleRate: testRate, BPM: 120, LoopLengthInBars: 1}},
	}
	for _, tc := range cases {
		if _, err := Compile(tc.layers, tc.opts); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestRendererEvents(t *testing.T) {
	var events []Event
	r := NewRenderer(func(ev Event) { events = append(events, ev) })
	r.SetSchedule(mustCompile(t, []layer.Layer{{ID: 1, Waveform: constWave(10, 1), Blocks: []layer.PatternBlock{{Start: 0, Length: 1}}}}, 3, false))
	buf := make([]float32, 8192*2)
	for r.Frames() < 4*framesPerBar {
		r.Process(buf)
	}
	var bars []int
	ended := 0
	for _, ev := range events {
		switch ev.Kind {
		case EventBarStarted:
			bars = append(bars, ev.Bar)
		case EventPlaybackEnded:
			ended++
		}
	}
	if len(bars) != 3 || bars[0] != 0 || bars[1] != 1 || bars[2] != 2 {
		t.Fatalf("bar events = %v, want [0 1 2]", bars)
	}
	if ended != 1 {
		t.Fatalf("playback ended fired %d times, want 1", ended)
	}

	events = nil
	r.Reset()
	r.Process(buf)
	if len(events) != 1 || events[0].Kind != EventBarStarted || events[0].Bar != 0 {
		t.Fatalf("after reset, events = %+v, want bar 0", events)
	}
}

func TestRendererLoopEvents(t *testing.T) {
	loops := 0
	bar0 := 0
	r := NewRenderer(func(ev Event) {
		switch {
		case ev.Kind == EventLoopCompleted:
			loops++
		case ev.Kind == EventBarStarted && ev.Bar == 0:
			bar0++
		}
	})
	r.SetSchedule(mustCompile(t, nil, 1, true))
	buf := make([]float32, 10000*2)
	for r.Frames() < 3*framesPerBar {
		r.Process(buf)
	}
	if loops != 3 {
		t.Fatalf("loop completed %d times, want 3", loops)
	}
	if bar0 != 4 {
		t.Fatalf("bar 0 started %d times, want 4", bar0)
	}
}

func TestScheduleSwapTakesEffectOnNextCallback(t *testing.T) {
	blocks := []layer.PatternBlock{{Start: 0, Length: 8}}
	quiet := mustCompile(t, []layer.Layer{{ID: 1, Waveform: constWave(framesPerBar, 100), Blocks: blocks}}, 8, false)
	loud := mustCompile(t, []layer.Layer{{ID: 1, Waveform: constWave(framesPerBar, 200), Blocks: blocks}}, 8, false)
	r := NewRenderer(nil)
	r.SetSchedule(quiet)
	buf := make([]float32, 64)
	r.Process(buf)
	if buf[0] != float32(100)/fullScale {
		t.Fatalf("unexpected first buffer value %v", buf[0])
	}
	r.SetSchedule(loud)
	r.Process(buf)
	if buf[0] != float32(200)/fullScale {
		t.Fatalf("swap not observed, got %v", buf[0])
	}
	if r.Schedule() != loud {
		t.Fatalf("Schedule() should return the installed snapshot")
	}
}

func BenchmarkRendererProcess(b *testing.B) {
	var layers []layer.Layer
	for id := 0; id < 8; id++ {
		var blocks []layer.PatternBlock
		for bar := 0; bar < 8; bar++ {
			blocks = append(blocks, layer.PatternBlock{Start: float64(bar) + float64(id)/8, Length: 0.5})
		}
		layers = append(layers, layer.Layer{ID: id, Waveform: rampWave(30000, 2), Blocks: blocks})
	}
	s := mustCompile(b, layers, 8, true)
	r := NewRenderer(nil)
	r.SetSchedule(s)
	buf := make([]float32, 512*2)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.Process(buf)
	}
}
