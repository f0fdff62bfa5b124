package audio

import (
	"encoding/binary"
	"io"
	"math"
	"sync"
	"time"

	ebitaudio "github.com/hajimehoshi/ebiten/v2/audio"
	"github.com/pkg/errors"
)

// SampleSource fills dst with interleaved stereo float32 frames.
type SampleSource interface {
	Process(dst []float32)
}

// Stream is an open output connection.
type Stream interface {
	Play()
	Pause()
	// Stop releases the connection. After Stop returns the source is never
	// called again.
	Stop() error
}

// Device opens output streams that pull from a SampleSource.
type Device interface {
	Open(sampleRate int, source SampleSource) (Stream, error)
}

// StreamReader adapts a SampleSource to the little-endian float32 byte
// stream the output driver reads.
type StreamReader struct {
	mu     sync.Mutex
	source SampleSource
	buf    []float32
	closed bool
}

// NewStreamReader wraps source. maxFrames sizes the scratch buffer up front
// so reads of that size or smaller never allocate.
func NewStreamReader(source SampleSource, maxFrames int) *StreamReader {
	return &StreamReader{source: source, buf: make([]float32, 0, maxFrames*2)}
}

func (r *StreamReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, io.EOF
	}
	frames := len(p) / 8
	if frames == 0 {
		return 0, nil
	}
	need := frames * 2
	if cap(r.buf) < need {
		r.buf = make([]float32, need)
	}
	r.buf = r.buf[:need]
	r.source.Process(r.buf)
	for i := 0; i < need; i++ {
		u := math.Float32bits(r.buf[i])
		binary.LittleEndian.PutUint32(p[i*4:], u)
	}
	return frames * 8, nil
}

// Close waits for an in-flight Read and stops further calls to the source.
func (r *StreamReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// EbitenDevice plays through ebiten's audio context. BufferSize, when
// non-zero, overrides the player's default buffer length.
type EbitenDevice struct {
	BufferSize time.Duration
}

type ebitenStream struct {
	player *ebitaudio.Player
	reader *StreamReader
}

var (
	audioContextMu  sync.Mutex
	audioContext    *ebitaudio.Context
	audioSampleRate int
)

// sharedAudioContext returns the process-wide ebiten context; ebiten allows
// only one, at one sample rate.
func sharedAudioContext(sampleRate int) (*ebitaudio.Context, error) {
	audioContextMu.Lock()
	defer audioContextMu.Unlock()
	if audioContext == nil {
		audioSampleRate = sampleRate
		audioContext = ebitaudio.NewContext(sampleRate)
	}
	if audioSampleRate != sampleRate {
		return nil, errors.Errorf("audio context already initialized at %d Hz (requested %d Hz)", audioSampleRate, sampleRate)
	}
	return audioContext, nil
}

func (d EbitenDevice) Open(sampleRate int, source SampleSource) (Stream, error) {
	ctx, err := sharedAudioContext(sampleRate)
	if err != nil {
		return nil, err
	}
	reader := NewStreamReader(source, sampleRate/10)
	pl, err := ctx.NewPlayerF32(reader)
	if err != nil {
		return nil, errors.Wrap(err, "open audio player")
	}
	if d.BufferSize > 0 {
		pl.SetBufferSize(d.BufferSize)
	}
	return &ebitenStream{player: pl, reader: reader}, nil
}

func (s *ebitenStream) Play()  { s.player.Play() }
func (s *ebitenStream) Pause() { s.player.Pause() }

func (s *ebitenStream) Stop() error {
	s.player.Pause()
	err := s.player.Close()
	if cerr := s.reader.Close(); err == nil {
		err = cerr
	}
	return err
}
