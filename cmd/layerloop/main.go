package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alexflint/go-arg"

	"github.com/cbegin/layerloop-go"
)

type playCmd struct {
	Project string `arg:"positional,required" help:"path to a JSON project"`
	Loop    bool   `arg:"--loop" help:"wrap at the loop end instead of stopping"`
	Loops   int    `arg:"--loops" default:"0" help:"with --loop, stop after N loops (0 = until interrupted)"`
}

type bounceCmd struct {
	Project string `arg:"positional,required" help:"path to a JSON project"`
	Out     string `arg:"-o,--out" default:"bounce.wav" help:"output WAV file"`
	Frames  int64  `arg:"--frames" default:"0" help:"frames to render (0 = one pass of the loop)"`
}

type durationCmd struct {
	Path string `arg:"positional,required" help:"WAV file to inspect"`
}

type args struct {
	SampleRate int     `arg:"--sample-rate,env:LAYERLOOP_SAMPLE_RATE" default:"44100" help:"output sample rate"`
	BPM        float64 `arg:"--bpm,env:LAYERLOOP_BPM" default:"120" help:"tempo when the project sets none"`
	Verbose    bool    `arg:"-v,--verbose,env:LAYERLOOP_VERBOSE" help:"log layer loading and every bar"`

	Play     *playCmd     `arg:"subcommand:play" help:"play a project through the default output device"`
	Bounce   *bounceCmd   `arg:"subcommand:bounce" help:"render a project to a WAV file"`
	Duration *durationCmd `arg:"subcommand:duration" help:"print the length of a WAV file in seconds"`
}

func (args) Description() string {
	return "layerloop plays and bounces bar-aligned loops of drum and sample layers.\n"
}

func main() {
	var a args
	p := arg.MustParse(&a)
	if p.Subcommand() == nil {
		p.Fail("missing subcommand (play, bounce or duration)")
	}

	level := slog.LevelInfo
	if a.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	var err error
	switch {
	case a.Play != nil:
		err = runPlay(logger, a, a.Play)
	case a.Bounce != nil:
		err = runBounce(logger, a, a.Bounce)
	case a.Duration != nil:
		err = runDuration(a.Duration)
	}
	if err != nil {
		logger.Error("layerloop failed", "err", err)
		os.Exit(1)
	}
}

func newSession(logger *slog.Logger, a args, opts ...layerloop.SessionOption) (*layerloop.Session, error) {
	base := []layerloop.SessionOption{layerloop.WithBPM(a.BPM), layerloop.WithLogger(logger)}
	return layerloop.NewSession(a.SampleRate, append(base, opts...)...)
}

func loadLayers(logger *slog.Logger, s *layerloop.Session, path string) error {
	desc, err := layerloop.LoadProject(path)
	if err != nil {
		return err
	}
	report, err := s.SetLayers(desc)
	if err != nil {
		return err
	}
	for _, sk := range report.Skipped {
		logger.Warn("layer not playable", "id", sk.ID, "source", sk.Source, "err", sk.Err)
	}
	if len(report.Loaded) == 0 {
		return fmt.Errorf("%s: no playable layers", path)
	}
	return nil
}

func runPlay(logger *slog.Logger, a args, cmd *playCmd) error {
	s, err := newSession(logger, a, layerloop.WithLoopPlayback(cmd.Loop))
	if err != nil {
		return err
	}
	if err := loadLayers(logger, s, cmd.Project); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	ch := s.Watch()
	if err := s.Start(); err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()

	loopCount := 0
	for {
		select {
		case event := <-ch:
			switch event.Kind {
			case layerloop.EventBarStarted:
				logger.Debug("bar", "index", event.Bar)
			case layerloop.EventLoopCompleted:
				loopCount++
				logger.Info("loop completed", "count", loopCount)
				if cmd.Loops > 0 && loopCount >= cmd.Loops {
					s.Stop()
				}
			}
		case <-done:
			logger.Info("playback ended", "loops", loopCount)
			return s.Stop()
		}
	}
}

func runBounce(logger *slog.Logger, a args, cmd *bounceCmd) error {
	s, err := newSession(logger, a, layerloop.WithDevice(noDevice{}))
	if err != nil {
		return err
	}
	if err := loadLayers(logger, s, cmd.Project); err != nil {
		return err
	}
	if err := s.RenderToFile(cmd.Out, cmd.Frames); err != nil {
		return err
	}
	secs, err := layerloop.DurationSeconds(cmd.Out)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %.3f s\n", cmd.Out, secs)
	return nil
}

func runDuration(cmd *durationCmd) error {
	secs, err := layerloop.DurationSeconds(cmd.Path)
	if err != nil {
		return err
	}
	fmt.Printf("%.6f\n", secs)
	return nil
}

// noDevice keeps bounce from touching the audio hardware.
type noDevice struct{}

func (noDevice) Open(int, layerloop.SampleSource) (layerloop.Stream, error) {
	return nil, fmt.Errorf("bounce does not open an audio device")
}
