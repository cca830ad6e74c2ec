package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/attendo/internal/imagenorm"
	"github.com/andresmejia3/attendo/internal/outcome"
	"github.com/andresmejia3/attendo/internal/pipeline"
	"github.com/andresmejia3/attendo/internal/types"
	"github.com/andresmejia3/attendo/internal/utils"
)

// attendOptions holds the flags of the attend command.
type attendOptions struct {
	ImagePath string
	Threshold float64
	Guidance  string
}

var attendOpts attendOptions

var attendCmd = &cobra.Command{
	Use:   "attend",
	Short: "Take attendance from a captured photo",
	Long: "Normalizes the photo, makes sure the encoding gallery exists and asks the recognition engine\n" +
		"who is in it. Without --image the run reports that no photo was captured.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := buildAttendRequest(attendOpts, cmd.Flags().Changed("threshold"))
		if err != nil {
			utils.Die("Invalid attend flags", err, nil)
		}

		runner, client := newRunner(cfg)
		defer client.Close()

		return finish(os.Stdout, "Attendance failed", runner.Attend(cmd.Context(), req))
	},
}

func init() {
	attendCmd.Flags().StringVarP(&attendOpts.ImagePath, "image", "i", "", "Path to the captured photo")
	attendCmd.Flags().Float64VarP(&attendOpts.Threshold, "threshold", "t", 0, "Liveness threshold passed to the engine (default: engine decides)")
	attendCmd.Flags().StringVarP(&attendOpts.Guidance, "guidance", "g", "", "Latest face guidance status, e.g. well_positioned (capture is refused otherwise)")
	rootCmd.AddCommand(attendCmd)
}

// buildAttendRequest turns the flags into a pipeline request. An unset threshold stays nil
// so the configured default, or none at all, applies.
func buildAttendRequest(opts attendOptions, thresholdSet bool) (pipeline.AttendRequest, error) {
	var req pipeline.AttendRequest

	img, err := captureFromFlag(opts.ImagePath)
	if err != nil {
		return req, err
	}
	req.Image = img

	if thresholdSet {
		v := opts.Threshold
		req.LivenessThreshold = &v
	}

	if opts.Guidance != "" {
		g, err := types.ParseGuidance(opts.Guidance)
		if err != nil {
			return req, err
		}
		req.Guidance = g
	}
	return req, nil
}

// captureFromFlag returns nil for an empty path; the pipeline reports the missing photo.
func captureFromFlag(path string) (*types.CapturedImage, error) {
	if path == "" {
		return nil, nil
	}
	img, err := imagenorm.Capture(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("image %s does not exist", path)
		}
		return nil, fmt.Errorf("unable to access image: %w", err)
	}
	return img, nil
}

// finish prints the outcome and turns a failed run into errRunFailed.
func finish(w io.Writer, context string, o outcome.Outcome) error {
	report(w, o)
	if o.Kind == outcome.Failed {
		utils.ShowError(context, o.Err, nil)
		return errRunFailed
	}
	return nil
}

func report(w io.Writer, o outcome.Outcome) {
	switch o.Kind {
	case outcome.Recognized, outcome.Enrolled:
		fmt.Fprint(w, "✅ ")
	case outcome.Rejected:
		fmt.Fprint(w, "🚫 ")
	case outcome.Unknown:
		fmt.Fprint(w, "❔ ")
	case outcome.Failed:
		fmt.Fprint(w, "❌ ")
	}
	fmt.Fprintln(w, o.Summary())
}
