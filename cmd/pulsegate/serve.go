package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrCodeEU/pulsegate/pkg/capture"
	"github.com/MrCodeEU/pulsegate/pkg/detector"
	"github.com/MrCodeEU/pulsegate/pkg/frame"
	"github.com/MrCodeEU/pulsegate/pkg/hostapi"
	"github.com/MrCodeEU/pulsegate/pkg/liveness"
	"github.com/MrCodeEU/pulsegate/pkg/logging"
	"github.com/MrCodeEU/pulsegate/pkg/roi"
)

// openSession builds a session with the configured face detector. The
// returned cleanup closes both.
func openSession(ctx context.Context) (*liveness.Session, func(), error) {
	loader, err := detector.Open(ctx, cfg.Detector.Backend, cfg.Detector.ModelPath, cfg.Detector.MinQuality)
	if err != nil {
		return nil, nil, err
	}

	var det roi.FaceDetector
	if loader != nil {
		det = loader
	}

	session, err := liveness.NewSession(liveness.ConfigFrom(cfg), det)
	if err != nil {
		if loader != nil {
			_ = loader.Close()
		}
		return nil, nil, err
	}

	cleanup := func() {
		_ = session.Close()
		if loader != nil {
			_ = loader.Close()
		}
	}
	return session, cleanup, nil
}

// ErrNotLive is returned when the configured input is a regular file.
var ErrNotLive = errors.New("input is not a live stream")

// openInput opens the configured frame source: stdin, a FIFO or a character
// device. Frames are stamped on arrival, so recordings are refused.
func openInput(input string) (io.ReadCloser, error) {
	if input == "-" || input == "" {
		return os.Stdin, nil
	}

	f, err := os.Open(input)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if info.Mode().IsRegular() {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotLive, input)
	}
	return f, nil
}

func cmdServe(args []string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session, cleanup, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	store, err := capture.NewStore(cfg.CapturesDir(), cfg.Capture.EncryptionEnabled)
	if err != nil {
		return err
	}

	in, err := openInput(cfg.Source.Input)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	src := frame.NewMJPEGSource(in)

	log := logging.Component("serve")
	log.Infof("Session %s started, reading frames from %s", session.ID(), cfg.Source.Input)

	frames := make(chan *frame.Frame, 8)
	server := hostapi.NewServer(cfg.Server.Listen, hostapi.NewAPI(session, store))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return src.Stream(gctx, frames)
	})
	g.Go(func() error {
		// Unblocks a pending read on shutdown.
		<-gctx.Done()
		return in.Close()
	})
	g.Go(func() error {
		// ErrStreamEnded cancels gctx, which stops the host API with the feed.
		err := session.Run(gctx, frames)
		if errors.Is(err, liveness.ErrStreamEnded) {
			decoded, skipped := src.Stats()
			log.Infof("Frame stream ended (%d decoded, %d skipped); final state %s", decoded, skipped, session.Verdict().State)
		}
		return err
	})
	g.Go(func() error {
		return server.Run(gctx)
	})

	err = g.Wait()
	if err != nil && !isCleanExit(err) {
		return err
	}
	log.Info("Shut down")
	return nil
}

// isCleanExit reports whether err only records an orderly shutdown: a signal,
// the closed input or the end of the frame stream.
func isCleanExit(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, os.ErrClosed) ||
		errors.Is(err, liveness.ErrStreamEnded)
}

func cmdCaptures(args []string) error {
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	store, err := capture.NewStore(cfg.CapturesDir(), cfg.Capture.EncryptionEnabled)
	if err != nil {
		return err
	}

	sub := "list"
	if len(args) > 0 {
		sub, args = args[0], args[1:]
	}

	switch sub {
	case "list":
		return listCaptures(store)
	case "show":
		return showCapture(store, args)
	case "delete":
		if len(args) < 1 {
			return fmt.Errorf("capture id required\nUsage: %s", commands["captures"].Usage)
		}
		if err := store.Delete(args[0]); err != nil {
			return err
		}
		fmt.Printf("Capture %s has been removed.\n", args[0])
		return nil
	default:
		return fmt.Errorf("unknown captures command: %s\nUsage: %s", sub, commands["captures"].Usage)
	}
}

func listCaptures(store *capture.Store) error {
	ids, err := store.List()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Println("No captures stored.")
		return nil
	}

	fmt.Println("Stored captures:")
	for _, id := range ids {
		rec, err := store.Load(id)
		if err != nil {
			fmt.Printf("  - %s (unreadable: %v)\n", id, err)
			continue
		}
		fmt.Printf("  - %s  %s  %-10s %5.1f bpm\n", id, rec.CapturedAt.Format(time.RFC3339), rec.State, rec.BPM)
	}
	fmt.Printf("\nTotal: %d capture(s)\n", len(ids))
	return nil
}

func showCapture(store *capture.Store, args []string) error {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	out := fs.String("o", "", "Write the JPEG to this file")
	if len(args) < 1 {
		return fmt.Errorf("capture id required\nUsage: %s", commands["captures"].Usage)
	}
	id := args[0]
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	rec, err := store.Load(id)
	if err != nil {
		return err
	}

	fmt.Printf("ID:          %s\n", rec.ID)
	fmt.Printf("Session:     %s\n", rec.SessionID)
	fmt.Printf("Captured:    %s\n", rec.CapturedAt.Format(time.RFC3339))
	fmt.Printf("State:       %s\n", rec.State)
	fmt.Printf("Message:     %s\n", rec.Message)
	fmt.Printf("Heart rate:  %.1f bpm\n", rec.BPM)
	fmt.Printf("Image:       %d bytes\n", len(rec.Image))

	if *out != "" {
		if err := os.WriteFile(*out, rec.Image, 0600); err != nil {
			return fmt.Errorf("failed to write image: %w", err)
		}
		fmt.Printf("Image written to %s\n", *out)
	}
	return nil
}
