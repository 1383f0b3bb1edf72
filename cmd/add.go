package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/picbreeder/host/internal/history"
	"github.com/picbreeder/host/internal/imagedata"
)

func newAddCmd(opts *globalOptions) *cobra.Command {
	var genomePath string

	cmd := &cobra.Command{
		Use:   "add <session-id|-> <image-file>...",
		Short: "Add images to a session, creating it if needed",
		Long: `Add images to a session, creating it if needed.

Pass "-" as the session id to start a new session with a generated id.
Every image gets a new id. Once the images are stored, they are mirrored
to the images folder and the companion server; the command waits for
those writes before exiting.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID := args[0]
			if sessionID == "-" {
				sessionID = ""
			}

			var genome json.RawMessage
			if genomePath != "" {
				data, err := os.ReadFile(genomePath)
				if err != nil {
					return fmt.Errorf("read genome: %w", err)
				}
				genome = data
			}

			images := make([]history.Image, 0, len(args)-1)
			for _, path := range args[1:] {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read image: %w", err)
				}
				images = append(images, history.Image{
					Thumbnail: imagedata.Encode("", data),
					Genome:    genome,
				})
			}

			return opts.withApp(func(a *app) error {
				added, err := a.repo.AddToSession(sessionID, images)
				if err != nil {
					return err
				}

				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "Session: %s\n", added.SessionID)
				for i, img := range added.Images {
					fmt.Fprintf(w, "  %s  %s\n", img.ID, args[i+1])
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&genomePath, "genome", "", "JSON genome file attached to every added image")
	return cmd
}
