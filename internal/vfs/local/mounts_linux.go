//go:build linux

package local

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// mount is a mounted volume.
type mount struct {
	Name string
	Path string
}

// listMounts returns the root plus real mounts from /proc/mounts.
func listMounts() []mount {
	return parseMounts("/proc/mounts")
}

func parseMounts(table string) []mount {
	mounts := []mount{{Name: "/ (Root)", Path: "/"}}

	file, err := os.Open(table)
	if err != nil {
		return mounts
	}
	defer file.Close()

	seen := map[string]bool{"/": true}
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		mountPoint, fsType := unescapeMount(fields[1]), fields[2]
		if virtualMount(mountPoint, fsType) || seen[mountPoint] {
			continue
		}

		name := mountPoint
		if strings.HasPrefix(mountPoint, "/media/") || strings.HasPrefix(mountPoint, "/mnt/") {
			name = filepath.Base(mountPoint)
		} else if mountPoint == "/home" {
			name = "Home"
		}
		seen[mountPoint] = true
		mounts = append(mounts, mount{Name: name, Path: mountPoint})
	}
	return mounts
}

func virtualMount(mountPoint, fsType string) bool {
	for _, prefix := range []string{"/sys", "/proc", "/dev", "/run", "/snap"} {
		if mountPoint == prefix || strings.HasPrefix(mountPoint, prefix+"/") {
			return true
		}
	}
	switch fsType {
	case "tmpfs", "devtmpfs", "cgroup", "cgroup2", "overlay", "squashfs":
		return true
	}
	return false
}

// unescapeMount decodes the octal escapes /proc/mounts uses for spaces.
func unescapeMount(s string) string {
	r := strings.NewReplacer(`\040`, " ", `\011`, "\t", `\012`, "\n", `\134`, `\`)
	return r.Replace(s)
}
