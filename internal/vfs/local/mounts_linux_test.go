//go:build linux

package local

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/justyntemme/waypoint/internal/vfs"
)

func TestParseMounts(t *testing.T) {
	table := filepath.Join(t.TempDir(), "mounts")
	content := `/dev/sda1 / ext4 rw 0 0
proc /proc proc rw 0 0
tmpfs /tmp tmpfs rw 0 0
/dev/sda2 /home ext4 rw 0 0
/dev/sdb1 /media/usb\040stick vfat rw 0 0
/dev/sdc1 /mnt/backup ext4 rw 0 0
/dev/sdc1 /mnt/backup ext4 rw 0 0
cgroup2 /sys/fs/cgroup cgroup2 rw 0 0
`
	if err := os.WriteFile(table, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	got := parseMounts(table)
	want := []mount{
		{Name: "/ (Root)", Path: "/"},
		{Name: "Home", Path: "/home"},
		{Name: "usb stick", Path: "/media/usb stick"},
		{Name: "backup", Path: "/mnt/backup"},
	}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("mount %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestParseMountsMissingTable(t *testing.T) {
	got := parseMounts(filepath.Join(t.TempDir(), "none"))
	if len(got) != 1 || got[0].Path != "/" {
		t.Errorf("got %v", got)
	}
}

func TestFreeSpace(t *testing.T) {
	b, _ := newBackend(t)
	space, err := b.FreeSpace(context.Background(), vfs.FromPath(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	if space.Total == 0 || space.Free > space.Total {
		t.Errorf("unexpected space %+v", space)
	}
}
