package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/justyntemme/waypoint/internal/app"
	"github.com/justyntemme/waypoint/internal/filter"
	"github.com/justyntemme/waypoint/internal/nav"
	"github.com/justyntemme/waypoint/internal/vfs"
)

// newBrowseCmd creates the browse command.
func newBrowseCmd() *cobra.Command {
	var (
		selectFile string
		filterExpr string
		sortBy     string
		inverse    bool
		hidden     bool
		long       bool
		watch      bool
	)

	cmd := &cobra.Command{
		Use:   "browse [location]",
		Short: "Navigate to a location and show its contents",
		Long: `Navigate to a location and show its contents.

Without a location the configured home is opened. When the location is a
file its folder is shown with the file selected. A location that cannot be
loaded falls back to its parent folder.

Examples:
  waypoint browse ~/Documents
  waypoint browse sftp://build@ci:22/var/log --watch
  waypoint browse s3://assets/img --filter "ext:png size:>1MB" -l
  waypoint browse . --sort size --inverse`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var order *nav.SortOrder
			if sortBy != "" {
				by, ok := nav.ParseSortBy(sortBy)
				if !ok {
					return fmt.Errorf("unknown sort key %q (want name, date, size or type)", sortBy)
				}
				order = &nav.SortOrder{By: by, Inverse: inverse}
			}

			changed := make(chan struct{}, 1)
			opts := app.Options{OnChange: func() {
				select {
				case changed <- struct{}{}:
				default:
				}
			}}

			return withApp(opts, func(ctx context.Context, a *app.App) error {
				err := a.Do(func(c *nav.Coordinator) {
					if cmd.Flags().Changed("hidden") {
						c.SetShowHidden(hidden)
					}
					if filterExpr != "" {
						c.SetFilter(filter.Parse(filterExpr))
					}
				})
				if err != nil {
					return err
				}

				if err := browse(ctx, a, args, selectFile); err != nil {
					return err
				}
				if order != nil {
					var f *vfs.Future[struct{}]
					if err := a.Do(func(c *nav.Coordinator) { f = c.SetSortOrder(*order) }); err != nil {
						return err
					}
					if _, err := f.Await(ctx); err != nil && !vfs.IsCancelled(err) {
						return fmt.Errorf("store sort order: %w", err)
					}
				}

				out := cmd.OutOrStdout()
				if err := printSnapshot(out, a.Tree.Snapshot(), long); err != nil {
					return err
				}
				if !watch {
					return nil
				}
				return watchChanges(ctx, a, changed, out, long)
			})
		},
	}

	cmd.Flags().StringVar(&selectFile, "select", "", "File to select after loading")
	cmd.Flags().StringVarP(&filterExpr, "filter", "f", "", "Filter expression, e.g. \"ext:jpg size:>1MB\"")
	cmd.Flags().StringVar(&sortBy, "sort", "", "Sort the folder by name, date, size or type and remember it")
	cmd.Flags().BoolVar(&inverse, "inverse", false, "Reverse the --sort order")
	cmd.Flags().BoolVarP(&hidden, "hidden", "a", false, "Show hidden files")
	cmd.Flags().BoolVarP(&long, "long", "l", false, "Show size, modification time and type")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Keep running and print the folder again when it changes")

	return cmd
}

func browse(ctx context.Context, a *app.App, args []string, selectFile string) error {
	var sel vfs.Location
	if selectFile != "" {
		loc, err := vfs.Parse(selectFile)
		if err != nil {
			return err
		}
		sel = loc
	}
	if len(args) == 1 {
		loc, err := vfs.Parse(args[0])
		if err != nil {
			return err
		}
		_, err = a.Navigate(ctx, loc, sel)
		return err
	}

	var r *nav.Request
	if err := a.Do(func(c *nav.Coordinator) { r = c.GoHome() }); err != nil {
		return err
	}
	_, err := app.Wait(ctx, r)
	return err
}

// watchChanges reprints the current folder after every burst of changes
// until ctx ends.
func watchChanges(ctx context.Context, a *app.App, changed <-chan struct{}, out io.Writer, long bool) error {
	// Drain the notifications produced by the initial load.
	select {
	case <-changed:
	default:
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changed:
		}
		fmt.Fprintln(out)
		if err := printSnapshot(out, a.Tree.Snapshot(), long); err != nil {
			return err
		}
	}
}
