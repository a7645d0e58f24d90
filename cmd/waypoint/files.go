package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/justyntemme/waypoint/internal/app"
	"github.com/justyntemme/waypoint/internal/vfs"
)

// newCopyCmd creates the cp command, or mv when move is set.
func newCopyCmd(move bool) *cobra.Command {
	var (
		onConflict string
		quiet      bool
	)

	use, short, verb := "cp", "Copy files into a folder", "copied"
	if move {
		use, short, verb = "mv", "Move files into a folder", "moved"
	}

	cmd := &cobra.Command{
		Use:   use + " <source...> <folder>",
		Short: short,
		Long: short + ` on the same backend.

--on-conflict decides what happens when a target already exists:
overwrite, skip, keep-both, abort, or ask. When asking, an uppercase
answer applies to every remaining conflict.

Examples:
  waypoint ` + use + ` report.pdf notes.txt ~/Archive
  waypoint ` + use + ` --on-conflict ask s3://assets/a.png s3://assets/old`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			locs, err := parseLocations(args)
			if err != nil {
				return err
			}
			files, dest := locs[:len(locs)-1], locs[len(locs)-1]

			policy, err := conflictPolicy(onConflict, cmd.InOrStdin(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			progress := newCopyProgress(quiet)

			return withApp(app.Options{}, func(ctx context.Context, a *app.App) error {
				err := a.Copy(ctx, files, dest, app.CopyOptions{
					Move:     move,
					Progress: progress.Update,
					Conflict: policy.Resolve,
				})
				progress.Finish()
				if err != nil {
					return err
				}
				if !quiet {
					fmt.Fprintf(cmd.OutOrStdout(), "%d item(s) %s to %s", len(files), verb, dest)
					if n := policy.Conflicts(); n > 0 {
						fmt.Fprintf(cmd.OutOrStdout(), ", %d conflict(s) resolved", n)
					}
					fmt.Fprintln(cmd.OutOrStdout())
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&onConflict, "on-conflict", "keep-both", "overwrite, skip, keep-both, abort or ask")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not show progress")
	return cmd
}

// newRmCmd creates the rm command.
func newRmCmd() *cobra.Command {
	var permanent bool

	cmd := &cobra.Command{
		Use:   "rm <location...>",
		Short: "Move files to the trash, or delete them",
		Long: `Move files to the trash, or delete them with --permanent.

Backends without a trash (sftp, s3) need --permanent.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := parseLocations(args)
			if err != nil {
				return err
			}
			return withApp(app.Options{}, func(ctx context.Context, a *app.App) error {
				return a.Remove(ctx, files, permanent)
			})
		},
	}

	cmd.Flags().BoolVar(&permanent, "permanent", false, "Delete instead of moving to the trash")
	return cmd
}

// newRenameCmd creates the rename command.
func newRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <location> <new-name>",
		Short: "Rename a file inside its folder",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := vfs.Parse(args[0])
			if err != nil {
				return err
			}
			return withApp(app.Options{}, func(ctx context.Context, a *app.App) error {
				renamed, err := a.Rename(ctx, file, args[1])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), renamed)
				return nil
			})
		},
	}
}

// newBookmarkCmd creates the bookmark command group.
func newBookmarkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bookmark",
		Short: "Manage bookmarked entry points",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add <location> [name]",
		Short: "Bookmark a location",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := vfs.Parse(args[0])
			if err != nil {
				return err
			}
			name := ""
			if len(args) == 2 {
				name = args[1]
			}
			return withApp(app.Options{}, func(ctx context.Context, a *app.App) error {
				return a.AddBookmark(ctx, loc, name)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:     "rm <location>",
		Aliases: []string{"remove"},
		Short:   "Forget a bookmark",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := vfs.Parse(args[0])
			if err != nil {
				return err
			}
			return withApp(app.Options{}, func(ctx context.Context, a *app.App) error {
				return a.RemoveBookmark(ctx, loc)
			})
		},
	})

	return cmd
}
