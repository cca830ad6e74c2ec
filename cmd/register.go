package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/attendo/internal/pipeline"
	"github.com/andresmejia3/attendo/internal/utils"
)

var registerImage string

var registerCmd = &cobra.Command{
	Use:   "register <name>",
	Short: "Register a person from a captured photo",
	Long: "Stores the normalized photo as the profile image for <name> and enrolls it into the\n" +
		"encoding gallery. Registering an existing name replaces its profile image.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		img, err := captureFromFlag(registerImage)
		if err != nil {
			utils.Die("Invalid register flags", err, nil)
		}

		runner, client := newRunner(cfg)
		defer client.Close()

		o := runner.Register(cmd.Context(), pipeline.RegisterRequest{Name: args[0], Image: img})
		return finish(os.Stdout, "Registration failed", o)
	},
}

func init() {
	registerCmd.Flags().StringVarP(&registerImage, "image", "i", "", "Path to the captured photo")
	rootCmd.AddCommand(registerCmd)
}
