package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/attendo/internal/utils"
)

var (
	resetDB      bool
	resetFiles   bool
	resetGallery bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset system state (Attendance log, Profiles, Temp files, Gallery)",
	Long:  "Clears all data. By default, it resets everything. Use flags to clear specific components.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		// If no flags are set, default to clearing EVERYTHING
		if !resetDB && !resetFiles && !resetGallery {
			resetDB = true
			resetFiles = true
			resetGallery = true
		}

		reader := bufio.NewReader(os.Stdin)

		if resetDB {
			switch {
			case DB == nil:
				fmt.Println("⏭️  No database configured, skipping attendance log.")
			case confirm(os.Stdout, reader, "⚠️  Are you sure you want to DROP the attendance and registration tables?"):
				fmt.Println("🗑️  Clearing Attendance Log...")
				if err := DB.Reset(cmd.Context()); err != nil {
					utils.Die("Failed to reset database", err, nil)
				}
			}
		}

		if resetFiles {
			if confirm(os.Stdout, reader, "⚠️  Are you sure you want to delete all profile images and temp files?") {
				fmt.Println("🗑️  Clearing Profiles and Temp Files...")
				removeDir(cfg.ProfilesDir())
				if n, err := utils.RemoveMatching(cfg.TempDir(), "*"); err != nil {
					fmt.Fprintf(os.Stderr, "⚠️  Failed to clear %s: %v\n", cfg.TempDir(), err)
				} else if n > 0 {
					fmt.Printf("   removed %d temp files\n", n)
				}
			}
		}

		if resetGallery {
			if confirm(os.Stdout, reader, "⚠️  Are you sure you want to delete the encoding gallery? Every registration is lost.") {
				fmt.Println("🗑️  Clearing Encoding Gallery...")
				if err := newGallery(cfg).Reset(); err != nil {
					utils.Die("Failed to reset gallery", err, nil)
				}
			}
		}

		fmt.Println("✨ System Reset Complete.")
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetDB, "log", false, "Clear the PostgreSQL attendance log")
	resetCmd.Flags().BoolVar(&resetFiles, "files", false, "Clear profile images and temp files")
	resetCmd.Flags().BoolVar(&resetGallery, "gallery", false, "Delete the encoding gallery")
	rootCmd.AddCommand(resetCmd)
}

func confirm(out io.Writer, r *bufio.Reader, prompt string) bool {
	fmt.Fprintf(out, "%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

func removeDir(path string) {
	if err := os.RemoveAll(path); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}
