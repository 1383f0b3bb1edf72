package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newImageCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "image",
		Short: "Manage individual images",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "delete <session-id> <image-id>",
		Short: "Delete one image; deleting the last image deletes the session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(func(a *app) error {
				if err := a.repo.DeleteImage(args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted image %s from session %s\n", args[1], args[0])
				return nil
			})
		},
	})
	return cmd
}
