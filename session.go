package layerloop

import (
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	intaudio "github.com/cbegin/layerloop-go/internal/audio"
	intsynth "github.com/cbegin/layerloop-go/internal/drumsynth"
	intlayer "github.com/cbegin/layerloop-go/internal/layer"
	intmix "github.com/cbegin/layerloop-go/internal/mixer"
	"github.com/cbegin/layerloop-go/internal/wavio"
)

// PlaybackEvent carries transport events from Watch().
type PlaybackEvent struct {
	Kind int // EventBarStarted, EventLoopCompleted, or EventPlaybackEnded
	Bar  int // bar index for EventBarStarted
}

const (
	EventBarStarted int = iota
	EventLoopCompleted
	EventPlaybackEnded
)

const DefaultBPM = 120

// Device, Stream and SampleSource describe the audio output collaborator.
type (
	Device       = intaudio.Device
	Stream       = intaudio.Stream
	SampleSource = intaudio.SampleSource
)

// Loader reads a waveform from storage.
type Loader interface {
	Load(path string) (Waveform, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(path string) (Waveform, error)

func (f LoaderFunc) Load(path string) (Waveform, error) { return f(path) }

type SessionOption func(*sessionConfig)

type sessionConfig struct {
	bpm          float64
	loopPlayback bool
	device       Device
	bufferSize   time.Duration
	loader       Loader
	logger       *slog.Logger
	sampleTap    func([]float32)
	rng          *rand.Rand
}

func defaultSessionConfig() sessionConfig {
	return sessionConfig{
		bpm:    DefaultBPM,
		loader: LoaderFunc(wavio.Load),
		logger: slog.Default(),
	}
}

// WithBPM sets the tempo used when a Description leaves BPM at zero.
func WithBPM(bpm float64) SessionOption {
	return func(cfg *sessionConfig) {
		cfg.bpm = bpm
	}
}

// WithLoopPlayback makes the timeline wrap at the loop end instead of going
// silent there.
func WithLoopPlayback(enabled bool) SessionOption {
	return func(cfg *sessionConfig) {
		cfg.loopPlayback = enabled
	}
}

// WithDevice replaces the default ebiten audio output.
func WithDevice(d Device) SessionOption {
	return func(cfg *sessionConfig) {
		cfg.device = d
	}
}

// WithBufferSize sets the output buffer length of the default device.
func WithBufferSize(d time.Duration) SessionOption {
	return func(cfg *sessionConfig) {
		cfg.bufferSize = d
	}
}

// WithLoader replaces the WAV file loader used for SamplePath layers.
func WithLoader(l Loader) SessionOption {
	return func(cfg *sessionConfig) {
		cfg.loader = l
	}
}

func WithLogger(l *slog.Logger) SessionOption {
	return func(cfg *sessionConfig) {
		cfg.logger = l
	}
}

// WithSampleTap installs a callback invoked with each generated stereo buffer.
// The callback runs on the audio thread; keep work brief and non-blocking.
func WithSampleTap(tap func([]float32)) SessionOption {
	return func(cfg *sessionConfig) {
		cfg.sampleTap = tap
	}
}

// WithNoiseSource seeds the drum synthesizer's noise. The default is the
// process-wide generator.
func WithNoiseSource(rng *rand.Rand) SessionOption {
	return func(cfg *sessionConfig) {
		cfg.rng = rng
	}
}

// SkippedLayer records a layer that could not be loaded.
type SkippedLayer struct {
	ID     int
	Source string
	Err    error
}

// LoadReport lists what SetLayers installed and what it dropped.
type LoadReport struct {
	Loaded  []int
	Skipped []SkippedLayer
}

// Session owns one layer set, one transport and at most one output stream.
type Session struct {
	mu         sync.Mutex
	sampleRate int
	cfg        sessionConfig
	renderer   *intmix.Renderer
	stream     Stream
	eventCh    atomic.Pointer[chan PlaybackEvent]
	done       atomic.Pointer[doneSignal]
}

type doneSignal struct {
	ch   chan struct{}
	once sync.Once
}

func newDoneSignal() *doneSignal { return &doneSignal{ch: make(chan struct{})} }

func (d *doneSignal) close() {
	if d != nil {
		d.once.Do(func() { close(d.ch) })
	}
}

// tapSource runs the sample tap after the renderer on the audio thread.
type tapSource struct {
	renderer *intmix.Renderer
	tap      func([]float32)
}

func (t *tapSource) Process(dst []float32) {
	t.renderer.Process(dst)
	t.tap(dst)
}

func NewSession(sampleRate int, opts ...SessionOption) (*Session, error) {
	if sampleRate <= 0 {
		return nil, errors.New("sampleRate must be positive")
	}
	cfg := defaultSessionConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.bpm <= 0 {
		return nil, errors.Errorf("bpm must be positive, got %v", cfg.bpm)
	}
	if cfg.device == nil {
		cfg.device = intaudio.EbitenDevice{BufferSize: cfg.bufferSize}
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	s := &Session{sampleRate: sampleRate, cfg: cfg}
	s.renderer = intmix.NewRenderer(s.onRendererEvent)
	return s, nil
}

func (s *Session) SampleRate() int { return s.sampleRate }

// onRendererEvent runs on the audio thread.
func (s *Session) onRendererEvent(ev intmix.Event) {
	switch ev.Kind {
	case intmix.EventBarStarted:
		s.sendEvent(PlaybackEvent{Kind: EventBarStarted, Bar: ev.Bar})
	case intmix.EventLoopCompleted:
		s.sendEvent(PlaybackEvent{Kind: EventLoopCompleted})
	case intmix.EventPlaybackEnded:
		s.sendEvent(PlaybackEvent{Kind: EventPlaybackEnded})
		s.done.Load().close()
	}
}

// SetLayers builds layers from d and swaps them in atomically; playback, if
// running, continues from the current position with the new set. Layers
// whose waveform cannot be loaded are left out and listed in the report.
func (s *Session) SetLayers(d Description) (LoadReport, error) {
	if err := d.Validate(); err != nil {
		return LoadReport{}, err
	}
	bpm := d.BPM
	if bpm == 0 {
		bpm = s.cfg.bpm
	}
	loopBars := d.LoopLengthInBars
	if loopBars == 0 {
		loopBars = d.MaxUsedBars()
	}

	var report LoadReport
	layers := make([]intlayer.Layer, 0, len(d.Layers))
	for _, ld := range d.Layers {
		w, err := s.loadWaveform(ld)
		if err != nil {
			s.cfg.logger.Warn("layer skipped", "id", ld.ID, "source", ld.Source(), "err", err)
			report.Skipped = append(report.Skipped, SkippedLayer{ID: ld.ID, Source: ld.Source(), Err: err})
			continue
		}
		if !w.Consistent() {
			s.cfg.logger.Warn("layer waveform length does not match its metadata",
				"id", ld.ID, "samples", len(w.Samples), "expected", w.ExpectedSamples())
		}
		if w.SampleRate != s.sampleRate {
			s.cfg.logger.Warn("layer sample rate differs from output; playing unconverted",
				"id", ld.ID, "layerRate", w.SampleRate, "outputRate", s.sampleRate)
		}
		s.cfg.logger.Debug("layer loaded", "id", ld.ID, "source", ld.Source(),
			"frames", w.Frames(), "channels", w.NumChannels, "blocks", len(ld.PatternBlocks))
		layers = append(layers, intlayer.Layer{ID: ld.ID, Waveform: w, Blocks: ld.PatternBlocks})
		report.Loaded = append(report.Loaded, ld.ID)
	}

	sched, err := intmix.Compile(layers, intmix.Options{
		SampleRate:       s.sampleRate,
		BPM:              bpm,
		LoopLengthInBars: loopBars,
		Wrap:             s.cfg.loopPlayback,
	})
	if err != nil {
		return report, err
	}
	s.renderer.SetSchedule(sched)
	s.cfg.logger.Info("layers installed", "loaded", len(report.Loaded), "skipped", len(report.Skipped),
		"bpm", bpm, "loopBars", loopBars)
	return report, nil
}

func (s *Session) loadWaveform(ld LayerDescription) (Waveform, error) {
	if ld.Synth != "" {
		kind, err := intsynth.ParseKind(ld.Synth)
		if err != nil {
			return Waveform{}, err
		}
		return intsynth.Generate(kind, s.cfg.rng)
	}
	w, err := s.cfg.loader.Load(ld.SamplePath)
	if err != nil {
		return Waveform{}, errors.Wrapf(err, "load %s", ld.SamplePath)
	}
	if w.NumChannels < 1 || w.NumChannels > 2 {
		return Waveform{}, errors.Errorf("%s: only 1 or 2 channels are supported, got %d", ld.SamplePath, w.NumChannels)
	}
	return w, nil
}

// Start opens the output device and plays from bar 0. A running stream is
// stopped first. If the device fails to open, no stream is held.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stream != nil {
		if err := s.stream.Stop(); err != nil {
			s.cfg.logger.Warn("stopping previous stream", "err", err)
		}
		s.stream = nil
		s.done.Swap(nil).close()
	}

	var src SampleSource = s.renderer
	if s.cfg.sampleTap != nil {
		src = &tapSource{renderer: s.renderer, tap: s.cfg.sampleTap}
	}
	stream, err := s.cfg.device.Open(s.sampleRate, src)
	if err != nil {
		return errors.Wrap(err, "open audio device")
	}
	s.renderer.Reset()
	s.done.Store(newDoneSignal())
	s.stream = stream
	stream.Play()
	s.cfg.logger.Info("playback started", "sampleRate", s.sampleRate)
	return nil
}

// Stop closes the output stream. It is safe to call from any goroutine and
// is a no-op when nothing is playing. Once it returns no further audio
// callback runs.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.stream == nil {
		s.mu.Unlock()
		return nil
	}
	err := s.stream.Stop()
	s.stream = nil
	done := s.done.Swap(nil)
	s.mu.Unlock()

	s.sendEvent(PlaybackEvent{Kind: EventPlaybackEnded})
	done.close()
	s.cfg.logger.Info("playback stopped", "frames", s.renderer.Frames())
	return errors.Wrap(err, "stop audio stream")
}

// Pause suspends the output without rewinding the transport.
func (s *Session) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != nil {
		s.stream.Pause()
	}
}

// Resume continues after Pause.
func (s *Session) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != nil {
		s.stream.Play()
	}
}

func (s *Session) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream != nil
}

// Position returns the frames rendered since Start and the matching bar.
func (s *Session) Position() (frames int64, bar float64) {
	frames = s.renderer.Frames()
	if sched := s.renderer.Schedule(); sched != nil {
		bar = sched.Bar(frames)
	}
	return frames, bar
}

// LoopLengthInBars reports the loop length of the installed layer set.
func (s *Session) LoopLengthInBars() float64 {
	if sched := s.renderer.Schedule(); sched != nil {
		return sched.LoopLengthInBars()
	}
	return 0
}

// Wait blocks until playback reaches the loop end or is stopped. With loop
// playback enabled it blocks until Stop, and so does a session started
// before any SetLayers, since it has no loop end until layers arrive. It
// returns immediately if nothing is playing.
func (s *Session) Wait() {
	if d := s.done.Load(); d != nil {
		<-d.ch
	}
}

// Watch returns a channel that receives playback events:
//   - EventBarStarted: rendering reached a new bar (Bar is set)
//   - EventLoopCompleted: the timeline wrapped (loop playback only)
//   - EventPlaybackEnded: the loop end was reached, or Stop was called
//
// The channel is buffered (cap 16) and events are dropped when it is full;
// receive in a goroutine. Only the most recent Watch() channel receives
// events.
func (s *Session) Watch() <-chan PlaybackEvent {
	ch := make(chan PlaybackEvent, 16)
	s.eventCh.Store(&ch)
	return ch
}

func (s *Session) sendEvent(ev PlaybackEvent) {
	p := s.eventCh.Load()
	if p == nil {
		return
	}
	select {
	case *p <- ev:
	default:
		// Channel full; drop event
	}
}
