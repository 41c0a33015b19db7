// Package cli wires the capture core into the screenreview command line.
package cli

import (
	"fmt"

	"github.com/petems/screenreview/internal/config"
	"github.com/petems/screenreview/internal/monitor"
	"github.com/petems/screenreview/internal/recorder"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type Dependencies struct {
	Config     *config.Config
	ConfigPath string
	Logger     zerolog.Logger
	Version    string
	Commit     string
}

func NewRootCmd(deps *Dependencies) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "screenreview",
		Short:         "Record webcam and microphone reviews of app screens",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.Version = deps.Version
	rootCmd.SetVersionTemplate(fmt.Sprintf("screenreview %s (%s)\n", deps.Version, deps.Commit))

	rootCmd.AddCommand(NewDoctorCmd(deps))
	rootCmd.AddCommand(NewDevicesCmd(deps))
	rootCmd.AddCommand(NewRecordCmd(deps))
	rootCmd.AddCommand(NewMonitorCmd(deps))

	return rootCmd
}

// monitorOptions shares the recorder's tuning with the live monitors.
func monitorOptions(cfg *config.Config, log zerolog.Logger) monitor.Options {
	ro := recorder.OptionsFromConfig(cfg, log)
	return monitor.Options{
		Tuning:      ro.Tuning,
		AudioSpec:   ro.AudioSpec,
		LevelScale:  ro.LevelScale,
		OpenTimeout: ro.OpenTimeout,
		JoinTimeout: ro.JoinTimeout,
		Logger:      log,
	}
}
