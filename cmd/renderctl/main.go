// renderctl is a headless front end for the engine: it loads a project
// document, prints timeline summaries, and runs exports with progress on
// stderr.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/openreel/engine/internal/audio"
	"github.com/openreel/engine/internal/config"
	"github.com/openreel/engine/internal/events"
	"github.com/openreel/engine/internal/export"
	"github.com/openreel/engine/internal/logger"
	"github.com/openreel/engine/internal/media"
	"github.com/openreel/engine/internal/session"
	"github.com/openreel/engine/internal/timeline"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "renderctl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("renderctl", flag.ContinueOnError)
	configPath := fs.String("config", os.Getenv("OPENREEL_CONFIG"), "engine config file (yaml or json)")
	output := fs.String("o", "", "export output path (export command)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) < 2 {
		fmt.Fprintln(os.Stderr, "usage: renderctl [flags] <summary|export> <project.json>")
		fs.PrintDefaults()
		return fmt.Errorf("missing command or project file")
	}
	command, projectPath := rest[0], rest[1]

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	log := logger.New(cfg.Logging)

	data, err := os.ReadFile(projectPath)
	if err != nil {
		return fmt.Errorf("failed to read project: %w", err)
	}

	bus := events.NewBus()
	// Bootstrap with an empty shell, then load the real document through the
	// same validated path hosts use.
	shell := timeline.NewProject("bootstrap", "bootstrap", 1920, 1080, 30, 48000)
	sess, err := session.New(shell, cfg, bus, log)
	if err != nil {
		return err
	}
	defer sess.Close()
	if err := sess.LoadSnapshot(data); err != nil {
		return err
	}

	switch command {
	case "summary":
		return printSummary(sess)
	case "export":
		return runExport(sess, bus, cfg, *output)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func printSummary(sess *session.Session) error {
	p := sess.Project()
	fmt.Printf("project %s (%s)\n", p.Title, p.ID)
	fmt.Printf("assets: %d\n", len(p.Assets))
	for _, seq := range p.Sequences {
		fmt.Printf("sequence %s: %dx%d @ %gfps, %.2fs, %d tracks\n",
			seq.Name, seq.Width, seq.Height, seq.FPS, seq.Duration, len(seq.Tracks))
		for _, track := range seq.Tracks {
			flags := ""
			if track.Muted {
				flags += " muted"
			}
			if track.Soloed {
				flags += " solo"
			}
			if track.Locked {
				flags += " locked"
			}
			fmt.Printf("  [%s] %-8s %d clips%s\n", track.ID, track.Kind, len(track.Clips), flags)
			for _, clip := range track.Clips {
				fmt.Printf("    %s  %8.3f → %8.3f  (%s)\n", clip.ID, clip.Start, clip.End(), clip.MediaID)
			}
		}
	}
	return nil
}

func runExport(sess *session.Session, bus *events.Bus, cfg *config.Config, output string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if output == "" {
		output = filepath.Join(cfg.Export.OutputDir, "export.mp4")
	}
	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return err
	}

	audioCodec, err := export.PickAudioCodec(ctx, media.ProbeAudioEncoder)
	if err != nil {
		return err
	}
	settings := export.Settings{
		OutputPath:   output,
		VideoCodec:   cfg.Export.VideoCodec,
		VideoBitrate: cfg.Export.VideoBitrate,
		SampleRate:   cfg.Export.SampleRate,
		AudioCodec:   audioCodec,
	}

	done := make(chan error, 1)
	bus.Subscribe(events.EventExportDone, func(events.Event) { done <- nil })
	bus.Subscribe(events.EventExportFailed, func(e events.Event) {
		done <- fmt.Errorf("%v", e.Data["error"])
	})
	bus.Subscribe(events.EventExportProgress, func(e events.Event) {
		fmt.Fprintf(os.Stderr, "\r%-11s %5.1f%% (frame %v/%v)",
			e.Data["stage"], e.Data["percent"], e.Data["frame"], e.Data["total"])
	})

	sources, err := buildAudioSources(ctx, sess, settings.SampleRate)
	if err != nil {
		return err
	}
	if err := sess.StartExport(ctx, settings, export.NewFFmpegEncoder(), sources); err != nil {
		return err
	}

	return waitExport(ctx, sess, done, output)
}

// buildAudioSources wires one PCM reader per audio asset referenced by the
// active sequence.
func buildAudioSources(_ context.Context, sess *session.Session, rate int) (map[string]audio.SampleSource, error) {
	seq, err := sess.ActiveSequence()
	if err != nil {
		return nil, err
	}
	p := sess.Project()
	sources := make(map[string]audio.SampleSource)
	for _, track := range seq.Tracks {
		if track.Kind != timeline.TrackAudio {
			continue
		}
		for _, clip := range track.Clips {
			if _, ok := sources[clip.MediaID]; ok {
				continue
			}
			asset, ok := p.Assets[clip.MediaID]
			if !ok {
				return nil, fmt.Errorf("clip %s references unknown asset %s", clip.ID, clip.MediaID)
			}
			locs := asset.ExportLocations()
			if len(locs) == 0 {
				continue
			}
			sources[clip.MediaID] = media.NewPCMSource(locs[0], rate)
		}
	}
	return sources, nil
}

func waitExport(ctx context.Context, sess *session.Session, done chan error, output string) error {
	select {
	case err := <-done:
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return fmt.Errorf("export failed: %w", err)
		}
		fmt.Printf("wrote %s\n", output)
		return nil
	case <-ctx.Done():
		sess.CancelExport()
		<-done
		fmt.Fprintln(os.Stderr)
		return fmt.Errorf("export cancelled")
	}
}
