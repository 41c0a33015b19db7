package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/petems/screenreview/internal/app"
	"github.com/petems/screenreview/internal/permissions"
	"github.com/petems/screenreview/internal/queue"
	"github.com/petems/screenreview/internal/recorder"
	"github.com/spf13/cobra"
)

func NewRecordCmd(deps *Dependencies) *cobra.Command {
	var screens []string
	var dir string
	var duration time.Duration

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a review of one or more screens",
		Long: "Record webcam video and microphone audio for each screen in turn. Finished\n" +
			"screens are verified and get a session.json in the background while the\n" +
			"next one records. Type p + Enter to pause or resume, Enter to move to the\n" +
			"next screen, Ctrl+C to stop.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := *deps.Config
			if dir != "" {
				cfg.OutputDir = dir
			}
			log := deps.Logger
			f := newFormatter(cmd.OutOrStdout())

			if err := permissions.EnsurePermissions(); err != nil {
				f.warn("%v", err)
			}

			opts := recorder.OptionsFromConfig(&cfg, log)
			opts.OnStatus = func(s recorder.Status) {
				log.Debug().
					Bool("recording", s.Recording).
					Bool("paused", s.Paused).
					Dur("elapsed", s.Elapsed).
					Msg("Recorder status")
			}
			rec := recorder.New(opts)

			events := queue.NewEventQueue(64)
			q := queue.New(cfg.Queue.MaxWorkers, events.Hooks(), log)

			application := app.New(app.Config{
				Recorder:      rec,
				Queue:         q,
				Config:        &cfg,
				Logger:        log,
				StatusUpdater: consoleStatus{f: f},
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			input := make(chan string)
			go func() {
				sc := bufio.NewScanner(cmd.InOrStdin())
				for sc.Scan() {
					select {
					case input <- strings.TrimSpace(sc.Text()):
					case <-ctx.Done():
						return
					}
				}
			}()

			var handles []*queue.Handle
			for i, screen := range screens {
				if ctx.Err() != nil {
					f.warn("skipping %s", strings.Join(screens[i:], ", "))
					break
				}
				h, err := recordScreen(ctx, application, rec, f, input, screen, duration)
				if err != nil {
					return err
				}
				handles = append(handles, h)
			}

			for _, h := range handles {
				waitPrinting(h, events, f)
			}
			events.Drain(f.event)

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := application.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			var errs []error
			for _, h := range handles {
				if err := h.Err(); err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", h.UnitID, err))
				}
			}
			return errors.Join(errs...)
		},
	}

	cmd.Flags().StringArrayVarP(&screens, "screen", "s", nil, "Name of a screen under review (repeatable)")
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "Output directory (defaults to output_dir from config)")
	cmd.Flags().DurationVar(&duration, "duration", 0, "Stop each screen automatically after this long")
	_ = cmd.MarkFlagRequired("screen")

	return cmd
}

func recordScreen(ctx context.Context, application *app.App, rec *recorder.Recorder, f *formatter,
	input <-chan string, screen string, duration time.Duration) (*queue.Handle, error) {
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	if err := application.StartScreen(screen); err != nil {
		return nil, err
	}
	f.info("recording %s", screen)
	<-rec.Ready()
	if mode := rec.BackendMode(); mode != recorder.ModeLive {
		f.warn("capture mode %s", mode)
		for _, note := range rec.BackendNotes() {
			f.warn("  %s", note)
		}
	}

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line := <-input:
			if line != "p" {
				break loop
			}
			application.TogglePause()
		case <-ticker.C:
			f.recordingTick(rec.Duration(), rec.AudioLevel(), rec.State() == recorder.StatePaused)
		}
	}
	f.endLine()

	h, err := application.StopScreen()
	if err != nil {
		return nil, err
	}
	video, audio := rec.Paths()
	f.info("video: %s", video)
	f.info("audio: %s", audio)
	return h, nil
}

// waitPrinting prints queue events until h is done.
func waitPrinting(h *queue.Handle, events *queue.EventQueue, f *formatter) {
	for {
		select {
		case e := <-events.Events():
			f.event(e)
		case <-h.Done():
			return
		}
	}
}
