package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newExportCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Write a JSON snapshot of the history into the save folder",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(func(a *app) error {
				sessions, err := a.repo.ListSessions()
				if err != nil {
					return err
				}
				path, err := a.exporter.Export(cmd.Context(), sessions)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Exported %d sessions to %s\n", len(sessions), path)
				return nil
			})
		},
	}
}
