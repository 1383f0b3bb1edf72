package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/picbreeder/host/internal/history"
)

func newSessionsCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List, inspect, create and delete sessions",
	}
	cmd.AddCommand(
		newSessionsListCmd(opts),
		newSessionsShowCmd(opts),
		newSessionsCreateCmd(opts),
		newSessionsDeleteCmd(opts),
	)
	return cmd
}

func newSessionsListCmd(opts *globalOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(func(a *app) error {
				sessions, err := a.repo.ListSessions()
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), sessions)
				}
				printSessions(cmd.OutOrStdout(), sessions)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the sessions as JSON")
	return cmd
}

func printSessions(w io.Writer, sessions []history.Session) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No sessions.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tIMAGES\tUPDATED")
	for _, s := range sessions {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", s.ID, len(s.Images), humanize.Time(s.LastTouched()))
	}
	tw.Flush()
}

func newSessionsShowCmd(opts *globalOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show one session and its images",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(func(a *app) error {
				s, err := a.repo.GetSession(args[0])
				if err != nil {
					return err
				}
				if s == nil {
					return fmt.Errorf("session %s not found", args[0])
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), s)
				}

				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "Session: %s\n", s.ID)
				fmt.Fprintf(w, "Updated: %s (%s)\n", s.LastTouched().Format("2006-01-02 15:04:05"), humanize.Time(s.LastTouched()))
				fmt.Fprintf(w, "Images:  %d\n", len(s.Images))

				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "IMAGE\tTHUMBNAIL\tGENOME")
				for _, img := range s.Images {
					genome := "-"
					if len(img.Genome) > 0 {
						genome = humanize.Bytes(uint64(len(img.Genome)))
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\n", img.ID, humanize.Bytes(uint64(len(img.Thumbnail))), genome)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the session as JSON")
	return cmd
}

func newSessionsCreateCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Create an empty session and print its id",
		Long: `Create an empty session and print its id.

An empty session is only kept while images are added to it in the same
process; a later run discards it. Prefer "picbreeder add -" to create a
session together with its first images.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(func(a *app) error {
				id, err := a.repo.CreateSession()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			})
		},
	}
}

func newSessionsDeleteCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session and all of its images",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(func(a *app) error {
				if err := a.repo.DeleteSession(args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", args[0])
				return nil
			})
		},
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
