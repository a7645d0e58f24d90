package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"github.com/justyntemme/waypoint/internal/presenter"
	"github.com/justyntemme/waypoint/internal/vfs"
)

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func displayName(f *vfs.FileData) string {
	if f.IsDir() {
		return f.Name + "/"
	}
	return f.Name
}

func sizeColumn(f *vfs.FileData) string {
	if f.IsDir() {
		return "-"
	}
	return humanize.IBytes(uint64(f.Size))
}

func timeColumn(f *vfs.FileData) string {
	if f.ModTime.IsZero() {
		return "-"
	}
	return humanize.Time(f.ModTime)
}

// printFiles writes one line per file, with details when long is set.
// Selected files are marked with '*'.
func printFiles(w io.Writer, files []*vfs.FileData, selected []vfs.Location, long bool) error {
	marked := make(map[vfs.Location]bool, len(selected))
	for _, s := range selected {
		marked[s] = true
	}
	tw := newTable(w)
	for _, f := range files {
		mark := " "
		if marked[f.Location] {
			mark = "*"
		}
		if long {
			typ := f.ContentType
			if typ == "" {
				typ = f.Kind.String()
			}
			fmt.Fprintf(tw, "%s %s\t%s\t%s\t%s\n", mark, displayName(f), sizeColumn(f), timeColumn(f), typ)
			continue
		}
		fmt.Fprintf(tw, "%s %s\n", mark, displayName(f))
	}
	return tw.Flush()
}

// printSnapshot renders the current folder of a presenter snapshot.
func printSnapshot(w io.Writer, snap presenter.Snapshot, long bool) error {
	if snap.Location == nil {
		_, err := fmt.Fprintln(w, "(no location)")
		return err
	}
	order := snap.Order.By.String()
	if snap.Order.Inverse {
		order += ", inverse"
	}
	fmt.Fprintf(w, "%s  (%d items, by %s)\n", snap.Location.Location, len(snap.Files), order)
	return printFiles(w, snap.Files, snap.Selected, long)
}

func printEntryPoints(w io.Writer, eps []vfs.EntryPoint) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "NAME\tKIND\tLOCATION")
	for _, ep := range eps {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", ep.Name, ep.Icon, ep.Location)
	}
	return tw.Flush()
}

func usedPercent(s vfs.Space) string {
	if s.Total == 0 {
		return "-"
	}
	used := float64(s.Total-s.Free) / float64(s.Total) * 100
	return humanize.FtoaWithDigits(used, 1) + "%"
}
