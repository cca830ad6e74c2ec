package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/andresmejia3/attendo/internal/outcome"
	"github.com/andresmejia3/attendo/internal/pipeline"
	"github.com/andresmejia3/attendo/internal/utils"
)

var enrollDirCmd = &cobra.Command{
	Use:   "enroll-dir <dir>",
	Short: "Register every <name>.jpg in a directory",
	Long: "Walks the directory in name order and registers each image under its file name,\n" +
		"e.g. \"Jane Doe.jpg\" becomes \"Jane Doe\". A failed file does not stop the batch.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runner, client := newRunner(cfg)
		defer client.Close()

		var bar *progressbar.ProgressBar
		progress := func(done, total int, entry pipeline.DirEntry) {
			if bar == nil {
				bar = progressbar.NewOptions(total,
					progressbar.OptionSetDescription("📸 Enrolling"),
					progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
					progressbar.OptionShowCount(),
				)
			}
			bar.Add(1)
		}

		entries, err := runner.RegisterDir(cmd.Context(), args[0], progress)
		if bar != nil {
			bar.Finish()
			fmt.Fprintln(os.Stderr)
		}
		if err != nil && len(entries) == 0 {
			utils.Die("Failed to enroll directory", err, nil)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "⚠️  Stopped after %d files: %v\n", len(entries), err)
		}

		if len(entries) == 0 {
			fmt.Println("No images found in directory.")
			return nil
		}

		if failed := printEnrollSummary(os.Stdout, entries); failed > 0 {
			return errRunFailed
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(enrollDirCmd)
}

// printEnrollSummary writes one row per file and returns how many did not enroll.
func printEnrollSummary(out io.Writer, entries []pipeline.DirEntry) int {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "NAME\tRESULT\tDETAILS")
	fmt.Fprintln(w, "----\t------\t-------")

	failed := 0
	for _, e := range entries {
		details := e.Outcome.Message
		if e.Outcome.Kind == outcome.Failed {
			details = e.Outcome.Reason
		}
		if e.Outcome.Kind != outcome.Enrolled {
			failed++
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", e.Name, e.Outcome.Kind, details)
	}
	w.Flush()

	fmt.Fprintf(out, "\n🏁 Enrolled %d of %d images.\n", len(entries)-failed, len(entries))
	return failed
}
