package cli

import (
	"github.com/petems/screenreview/internal/capture"
	"github.com/petems/screenreview/internal/permissions"
	"github.com/spf13/cobra"
)

func NewDoctorCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check capture libraries and permissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(cmd.OutOrStdout())
			caps := capture.ProbeCapabilities()

			if caps.FFmpeg {
				f.check("ffmpeg", true, "installed")
			} else {
				f.check("ffmpeg", false, "not found, video will be a placeholder. Install with: brew install ffmpeg")
			}
			f.check("portaudio", caps.PortAudio, availability(caps.PortAudio))
			f.check("miniaudio", caps.Malgo, availability(caps.Malgo))
			if !caps.AudioLibrary() {
				f.warn("no audio library usable, audio will be a placeholder")
			}

			cam, _ := permissions.CheckCamera()
			f.check("camera", cam == permissions.Authorized, "permission "+cam.String())
			mic, _ := permissions.CheckMicrophone()
			f.check("microphone", mic == permissions.Authorized, "permission "+mic.String())

			f.check("config", true, deps.ConfigPath)
			f.check("output dir", true, deps.Config.OutputDir)

			if caps.LiveVideoSupported() && caps.LiveAudioSupported() {
				f.success("Live capture available")
			} else {
				f.warn("Recordings will run in mixed or placeholder mode")
			}
			return nil
		},
	}
}

func availability(ok bool) string {
	if ok {
		return "available"
	}
	return "unavailable"
}
