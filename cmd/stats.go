package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// warnPercent is the fill level at which stats suggests exporting.
const warnPercent = 80

func newStatsCmd(opts *globalOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show history size and how full the store is",
		Long: `Show history size and how full the store is.

"Full" is measured against the configured capacity_bytes, not the real free
space of the medium, so it is an estimate. When it approaches 100%, the
next write evicts whole sessions.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(func(a *app) error {
				st, err := a.repo.Stats()
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), st)
				}

				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "Sessions:  %d\n", st.SessionCount)
				fmt.Fprintf(w, "Images:    %d\n", st.ImageCount)
				fmt.Fprintf(w, "Size:      %s (%d KB)\n", humanize.IBytes(uint64(st.SizeBytes)), st.SizeKB)
				fmt.Fprintf(w, "Capacity:  %s\n", humanize.IBytes(uint64(a.cfg.CapacityBytes)))
				fmt.Fprintf(w, "Full:      %d%%\n", st.PercentFull)
				if st.PercentFull >= warnPercent {
					fmt.Fprintln(w, "Warning: history is nearly full; run \"picbreeder export\" to keep a copy.")
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the stats as JSON")
	return cmd
}
