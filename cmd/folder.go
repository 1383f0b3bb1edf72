package main

import (
	"fmt"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	apperrors "github.com/picbreeder/host/internal/errors"
	"github.com/picbreeder/host/internal/handles"
)

// parsePurpose accepts the short names "images" and "save" as well as the
// stored purpose keys.
func parsePurpose(name string) (handles.Purpose, error) {
	switch name {
	case "images", string(handles.ImagesFolder):
		return handles.ImagesFolder, nil
	case "save", string(handles.SaveFolder):
		return handles.SaveFolder, nil
	}
	return "", fmt.Errorf("unknown folder %q (want images or save)", name)
}

func newFolderCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "folder",
		Short: "Configure the images folder and the export folder",
	}
	cmd.AddCommand(
		newFolderSetCmd(opts),
		newFolderShowCmd(opts),
		newFolderClearCmd(opts),
	)
	return cmd
}

func newFolderSetCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set <images|save> <path>",
		Short: "Grant a folder for mirrored images or history exports",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			purpose, err := parsePurpose(args[0])
			if err != nil {
				return err
			}
			path, err := filepath.Abs(args[1])
			if err != nil {
				return err
			}

			return opts.withApp(func(a *app) error {
				ctx := cmd.Context()
				// Granting happens up front; every later use asks again.
				if !a.gate.Authorize(ctx, path) {
					return apperrors.PermissionDenied(path)
				}
				if err := a.handles.Put(ctx, purpose, handles.Handle{Path: path, GrantedAt: time.Now()}); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s set to %s\n", purpose, path)
				return nil
			})
		},
	}
}

func newFolderShowCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the configured folders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(func(a *app) error {
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "PURPOSE\tPATH\tGRANTED")
				for _, p := range handles.Purposes {
					h, err := a.handles.Get(cmd.Context(), p)
					if err != nil {
						return err
					}
					if h == nil {
						fmt.Fprintf(tw, "%s\t-\t-\n", p)
						continue
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\n", p, h.Path, humanize.Time(h.GrantedAt))
				}
				return tw.Flush()
			})
		},
	}
}

func newFolderClearCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear <images|save>",
		Short: "Forget a configured folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			purpose, err := parsePurpose(args[0])
			if err != nil {
				return err
			}
			return opts.withApp(func(a *app) error {
				if err := a.handles.Delete(cmd.Context(), purpose); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s cleared\n", purpose)
				return nil
			})
		},
	}
}
