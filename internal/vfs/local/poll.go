package local

import (
	"slices"
	"time"

	"github.com/justyntemme/waypoint/internal/debug"
	"github.com/justyntemme/waypoint/internal/monitor"
)

// mountPollInterval is how often the mount table is compared.
const mountPollInterval = 2 * time.Second

func pollMounts(stop <-chan struct{}, hub *monitor.Hub) {
	ticker := time.NewTicker(mountPollInterval)
	defer ticker.Stop()

	last := listMounts()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			cur := listMounts()
			if slices.Equal(cur, last) {
				continue
			}
			debug.Log(debug.MONITOR, "mounts changed: %d -> %d", len(last), len(cur))
			last = cur
			hub.EntryPointsChanged()
		}
	}
}
