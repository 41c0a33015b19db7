package cli

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/petems/screenreview/internal/capture"
	"github.com/petems/screenreview/internal/config"
	"github.com/petems/screenreview/internal/monitor"
	"github.com/petems/screenreview/internal/recorder"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func NewMonitorCmd(deps *Dependencies) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Preview a device until Ctrl+C; restarts when the config file changes",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "camera",
		Short: "Show the configured camera's frame size and rate",
		RunE: func(cmd *cobra.Command, args []string) error {
			m := monitor.NewCameraMonitor(monitorOptions(deps.Config, deps.Logger))
			start := func(cfg *config.Config) {
				p := recorder.StartParamsFromConfig(cfg)
				w, h := config.ResolutionSize(p.Resolution)
				m.Start(p.Camera, capture.Size{Width: w, Height: h}, p.FPS)
			}
			var lastSeq int64
			var lastAt time.Time
			report := func(f *formatter) {
				frame, ok := m.LastFrame()
				if !ok {
					if msg := m.LastError(); msg != "" {
						f.warn("%s", msg)
					}
					return
				}
				fps := 0.0
				if !lastAt.IsZero() && frame.At.After(lastAt) {
					fps = float64(frame.Seq-lastSeq) / frame.At.Sub(lastAt).Seconds()
				}
				lastSeq, lastAt = frame.Seq, frame.At
				f.info("frame %d  %dx%d  %.1f fps", frame.Seq, frame.Width, frame.Height, fps)
			}
			return runMonitor(cmd, deps, start, m.Stop, report)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "mic",
		Short: "Show the configured microphone's level",
		RunE: func(cmd *cobra.Command, args []string) error {
			m := monitor.NewMicMonitor(monitorOptions(deps.Config, deps.Logger))
			start := func(cfg *config.Config) {
				m.Start(cfg.Webcam.MicrophoneIndex)
			}
			report := func(f *formatter) {
				if msg := m.LastError(); msg != "" && !m.IsRunning() {
					f.warn("%s", msg)
					return
				}
				f.info("mic %s", meter(m.LastLevel(), 30))
			}
			return runMonitor(cmd, deps, start, m.Stop, report)
		},
	})
	return cmd
}

// runMonitor starts the device, reports every second and restarts it with the
// new device selection whenever the config file is rewritten.
func runMonitor(cmd *cobra.Command, deps *Dependencies, start func(*config.Config), stop func(), report func(*formatter)) error {
	f := newFormatter(cmd.OutOrStdout())
	log := deps.Logger

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reload := make(chan *config.Config, 1)
	go watchConfig(ctx, deps.ConfigPath, log, reload)

	start(deps.Config)
	defer stop()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case cfg := <-reload:
			f.info("config changed, restarting monitor")
			start(cfg)
		case <-ticker.C:
			report(f)
		}
	}
}

func watchConfig(ctx context.Context, path string, log zerolog.Logger, out chan<- *config.Config) {
	err := config.Watch(ctx, path, func(cfg *config.Config) {
		select {
		case out <- cfg:
		case <-ctx.Done():
		}
	}, func(err error) {
		log.Warn().Err(err).Msg("Config reload failed")
	})
	if err != nil {
		log.Warn().Err(err).Msg("Config watching disabled")
	}
}
