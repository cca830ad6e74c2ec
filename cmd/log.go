package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/attendo/internal/store"
	"github.com/andresmejia3/attendo/internal/utils"
)

var (
	logName          string
	logLimit         int
	logRegistrations bool
)

var errNoDatabase = errors.New("set ATTENDO_DATABASE_URL or pass --db")

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "List recorded attendance or registrations",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if DB == nil {
			utils.Die("Attendance log is not configured", errNoDatabase, nil)
		}

		if logRegistrations {
			regs, err := DB.ListRegistrations(cmd.Context())
			if err != nil {
				utils.Die("Failed to list registrations", err, nil)
			}
			printRegistrations(os.Stdout, regs)
			return
		}

		if logLimit < 1 {
			utils.Die("Invalid limit", fmt.Errorf("must be >= 1, got %d", logLimit), nil)
		}
		records, err := DB.ListAttendance(cmd.Context(), logName, logLimit)
		if err != nil {
			utils.Die("Failed to list attendance", err, nil)
		}
		printAttendance(os.Stdout, records)
	},
}

func init() {
	logCmd.Flags().StringVarP(&logName, "name", "n", "", "Only show records for this person")
	logCmd.Flags().IntVarP(&logLimit, "limit", "l", 50, "Maximum number of records")
	logCmd.Flags().BoolVarP(&logRegistrations, "registrations", "r", false, "List registrations instead of attendance")
	rootCmd.AddCommand(logCmd)
}

func printAttendance(out io.Writer, records []store.AttendanceRecord) {
	if len(records) == 0 {
		fmt.Fprintln(out, "No attendance recorded.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "NAME\tTIME\tEMOTION\tLIGHT\tRECOGNITION\tRECORDED")
	fmt.Fprintln(w, "----\t----\t-------\t-----\t-----------\t--------")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%.2f\t%s\n",
			r.Name, orDash(r.AttendanceTime), orDash(r.Emotion),
			r.LightThreshold, r.RecognitionThreshold,
			r.RecordedAt.Local().Format("2006-01-02 15:04"))
	}
	w.Flush()
}

func printRegistrations(out io.Writer, regs []store.Registration) {
	if len(regs) == 0 {
		fmt.Fprintln(out, "No registrations recorded.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "NAME\tPROFILE\tREGISTERED")
	fmt.Fprintln(w, "----\t-------\t----------")
	for _, r := range regs {
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.Name, r.ProfilePath, r.RegisteredAt.Local().Format("2006-01-02 15:04"))
	}
	w.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
