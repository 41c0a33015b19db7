package cli

import (
	"context"
	"time"

	"github.com/petems/screenreview/internal/capture"
	"github.com/petems/screenreview/internal/config"
	"github.com/petems/screenreview/internal/recorder"
	"github.com/spf13/cobra"
)

func NewDevicesCmd(deps *Dependencies) *cobra.Command {
	var probeResolutions bool
	var listen time.Duration

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List microphones and probe the configured camera",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(cmd.OutOrStdout())
			cfg := deps.Config
			ctx := cmd.Context()

			devices, err := capture.ListAudioDevices()
			if err != nil {
				f.warn("microphones: %v", err)
			}
			for _, d := range devices {
				mark := " "
				if d.Default {
					mark = "*"
				}
				f.info("%s mic %d: %s", mark, d.Index, d.Name)
			}

			params := recorder.StartParamsFromConfig(cfg)
			w, h := config.ResolutionSize(params.Resolution)
			size := capture.Size{Width: w, Height: h}
			opener := capture.NewFFmpegOpener()

			frameCtx, cancel := context.WithTimeout(ctx, cfg.Tuning.OpenTimeout)
			res := capture.CaptureSingleFrame(frameCtx, opener, params.Camera, size, params.FPS)
			cancel()
			f.check(params.Camera.String(), res.OK, res.Message)

			if listen > 0 {
				ro := recorder.OptionsFromConfig(cfg, deps.Logger)
				lvl := capture.SampleAudioLevel(ctx, capture.DefaultAudioOpeners(), params.Mic,
					ro.AudioSpec, ro.LevelScale, listen)
				f.check(capture.AudioKey(params.Mic), lvl.OK, lvl.Message)
			}

			if probeResolutions {
				var candidates []capture.ResolutionOption
				for _, label := range config.ResolutionLabels() {
					w, h := config.ResolutionSize(label)
					candidates = append(candidates, capture.ResolutionOption{
						Label: label,
						Size:  capture.Size{Width: w, Height: h},
					})
				}
				probe := capture.ProbeResolutionOptions(ctx, opener, params.Camera, candidates)
				f.check("resolutions", probe.OK, probe.Message)
				for _, label := range probe.Options {
					f.info("  %s", label)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&probeResolutions, "resolutions", false, "Probe which resolutions the camera delivers")
	cmd.Flags().DurationVar(&listen, "listen", 0, "Sample the configured microphone for this long")

	return cmd
}
