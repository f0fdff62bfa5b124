package wavio

import (
	"math"
	"os"
	"path/filepath"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/pkg/errors"

	"github.com/cbegin/layerloop-go/internal/layer"
)

const (
	formatPCM        = 1
	formatExtensible = 0xFFFE
)

// Load decodes a PCM WAV file into a 16-bit waveform. 8, 24 and 32-bit
// integer files are rescaled to 16 bits; the sample rate is kept as is.
func Load(path string) (layer.Waveform, error) {
	f, err := os.Open(path)
	if err != nil {
		return layer.Waveform{}, errors.Wrap(err, "open waveform")
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return layer.Waveform{}, errors.Errorf("invalid WAV file: %s", path)
	}
	if dec.WavAudioFormat != formatPCM && dec.WavAudioFormat != formatExtensible {
		return layer.Waveform{}, errors.Errorf("%s: unsupported WAV encoding %d (integer PCM only)", path, dec.WavAudioFormat)
	}
	channels := int(dec.NumChans)
	if channels < 1 || channels > 2 {
		return layer.Waveform{}, errors.Errorf("%s: only 1 or 2 channels are supported, got %d", path, channels)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return layer.Waveform{}, errors.Wrapf(err, "decode %s", path)
	}
	bitDepth := int(dec.BitDepth)
	samples := make([]int16, len(buf.Data)-len(buf.Data)%channels)
	for i := range samples {
		samples[i] = to16(buf.Data[i], bitDepth)
	}
	sampleRate := int(dec.SampleRate)
	if sampleRate <= 0 {
		return layer.Waveform{}, errors.Errorf("%s: invalid sample rate %d", path, sampleRate)
	}
	return layer.Waveform{
		Samples:       samples,
		SampleRate:    sampleRate,
		NumChannels:   channels,
		LengthSeconds: float64(len(samples)/channels) / float64(sampleRate),
	}, nil
}

func to16(v int, bitDepth int) int16 {
	switch {
	case bitDepth == 8:
		return int16((v - 128) << 8)
	case bitDepth > 16:
		return int16(v >> (bitDepth - 16))
	default:
		return int16(v)
	}
}

// DurationSeconds reports a file's length from its data chunk size, without
// decoding samples.
func DurationSeconds(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.Wrap(err, "open waveform")
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return 0, errors.Errorf("invalid WAV file: %s", path)
	}
	if err := dec.FwdToPCM(); err != nil {
		return 0, errors.Wrapf(err, "find PCM data in %s", path)
	}
	frameBytes := int64(dec.NumChans) * int64(dec.BitDepth) / 8
	if frameBytes <= 0 || dec.SampleRate == 0 {
		return 0, errors.Errorf("%s: invalid format %d Hz x%d, %d-bit", path, dec.SampleRate, dec.NumChans, dec.BitDepth)
	}
	frames := dec.PCMLen() / frameBytes
	return float64(frames) / float64(dec.SampleRate), nil
}

// WriteFile encodes interleaved float samples in [-1, 1] as 16-bit PCM and
// atomically replaces path. On failure nothing is left at path and the
// temporary file is removed.
func WriteFile(path string, samples []float32, sampleRate int, channels int) (err error) {
	if sampleRate <= 0 || channels <= 0 {
		return errors.Errorf("invalid output format %d Hz x%d", sampleRate, channels)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "create temporary output")
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	enc := wav.NewEncoder(tmp, sampleRate, 16, channels, formatPCM)
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(math.Round(float64(clamp(s)) * math.MaxInt16))
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err = enc.Write(buf); err != nil {
		return errors.Wrap(err, "encode WAV")
	}
	if err = enc.Close(); err != nil {
		return errors.Wrap(err, "finalize WAV")
	}
	if err = tmp.Sync(); err != nil {
		return errors.Wrap(err, "sync output")
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrap(err, "close output")
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrapf(err, "move output into place at %s", path)
	}
	return nil
}

func clamp(v float32) float32 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
