package main

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/justyntemme/waypoint/internal/app"
	"github.com/justyntemme/waypoint/internal/nav"
	"github.com/justyntemme/waypoint/internal/vfs"
)

// newLsCmd creates the ls command.
func newLsCmd() *cobra.Command {
	var long bool

	cmd := &cobra.Command{
		Use:   "ls <location>",
		Short: "List a folder without navigating to it",
		Long: `List a folder without navigating to it. History is not touched.

Examples:
  waypoint ls mem:///
  waypoint ls -l sftp://ci/var/log`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			folder, err := vfs.Parse(args[0])
			if err != nil {
				return err
			}
			return withApp(app.Options{}, func(ctx context.Context, a *app.App) error {
				var r *nav.Request
				if err := a.Do(func(c *nav.Coordinator) { r = c.ListChildren(folder) }); err != nil {
					return err
				}
				if _, err := app.Wait(ctx, r); err != nil {
					return err
				}
				return printFiles(cmd.OutOrStdout(), a.Tree.Children(folder), nil, long)
			})
		},
	}

	cmd.Flags().BoolVarP(&long, "long", "l", false, "Show size, modification time and type")
	return cmd
}

// newRootsCmd creates the roots command.
func newRootsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "roots",
		Short: "List entry points: home, volumes, bookmarks, hosts and buckets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(app.Options{}, func(ctx context.Context, a *app.App) error {
				return printEntryPoints(cmd.OutOrStdout(), a.Registry.EntryPoints())
			})
		},
	}
}

// newDfCmd creates the df command.
func newDfCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "df [location...]",
		Short: "Show free space of the volumes holding locations",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			locs, err := parseLocations(args)
			if err != nil {
				return err
			}
			return withApp(app.Options{}, func(ctx context.Context, a *app.App) error {
				if len(locs) == 0 {
					home := a.Settings().Browser.HomeLocation
					if home == "" {
						home = "~"
					}
					loc, err := vfs.Parse(home)
					if err != nil {
						return err
					}
					locs = []vfs.Location{loc}
				}

				tw := newTable(cmd.OutOrStdout())
				fmt.Fprintln(tw, "LOCATION\tSIZE\tFREE\tUSED")
				for _, loc := range locs {
					space, err := a.FreeSpace(ctx, loc)
					if err != nil {
						fmt.Fprintf(tw, "%s\t-\t-\t%v\n", loc, err)
						continue
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", loc,
						humanize.IBytes(space.Total), humanize.IBytes(space.Free), usedPercent(space))
				}
				return tw.Flush()
			})
		},
	}
}

// newHistoryCmd creates the history command.
func newHistoryCmd() *cobra.Command {
	var clearAll bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show or clear the navigation history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(app.Options{}, func(ctx context.Context, a *app.App) error {
				if clearAll {
					if err := a.ClearHistory(ctx); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), "History cleared.")
					return nil
				}
				entries, index, err := a.History()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(entries) == 0 {
					fmt.Fprintln(out, "No history.")
					return nil
				}
				for i, loc := range entries {
					mark := " "
					if i == index {
						mark = ">"
					}
					fmt.Fprintf(out, "%s %3d  %s\n", mark, i, loc)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&clearAll, "clear", false, "Forget every history entry")
	return cmd
}
