package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/attendo/internal/gallery"
	"github.com/andresmejia3/attendo/internal/utils"
)

var galleryCmd = &cobra.Command{
	Use:   "gallery",
	Short: "Show the state of the encoding gallery",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		info, err := newGallery(cfg).Info()
		if err != nil {
			utils.Die("Failed to inspect gallery", err, nil)
		}
		printGalleryInfo(os.Stdout, info)
	},
}

var galleryInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the encoding gallery from the seed template if it is missing or empty",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		path, err := newGallery(cfg).Ready()
		if err != nil {
			utils.Die("Failed to initialize gallery", err, nil)
		}
		fmt.Printf("✅ Gallery ready at %s\n", path)
	},
}

func init() {
	galleryCmd.AddCommand(galleryInitCmd)
	rootCmd.AddCommand(galleryCmd)
}

func printGalleryInfo(out io.Writer, info gallery.Info) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintf(w, "PATH\t%s\n", info.Path)
	if !info.Exists {
		fmt.Fprintf(w, "STATUS\tmissing (created on first run or with 'attendo gallery init')\n")
		w.Flush()
		return
	}
	status := "ready"
	if !info.Usable {
		status = "not usable (check permissions)"
	}
	fmt.Fprintf(w, "STATUS\t%s\n", status)
	fmt.Fprintf(w, "SIZE\t%d bytes\n", info.Size)
	fmt.Fprintf(w, "MODIFIED\t%s\n", info.ModTime.Local().Format("2006-01-02 15:04"))
	w.Flush()
}
