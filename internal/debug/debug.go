// Package debug provides categorized debug logging on top of the zap logger.
//
// Categories are off by default. WAYPOINT_DEBUG selects them at startup:
// WAYPOINT_DEBUG=NAV,QUEUE, WAYPOINT_DEBUG=all or WAYPOINT_DEBUG=none.
package debug

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/justyntemme/waypoint/internal/logging"
)

// Category represents a debug logging category
type Category string

const (
	APP     Category = "APP"     // Wiring, startup and shutdown
	FS      Category = "FS"      // Backend primitives
	QUEUE   Category = "QUEUE"   // Operation queue submit/dispatch/complete
	NAV     Category = "NAV"     // Navigation requests and history
	MONITOR Category = "MONITOR" // Change monitor events and bridge decisions
	STORE   Category = "STORE"   // Database operations
	CLI     Category = "CLI"     // Command line handling

	// Verbose
	FS_ENTRY Category = "FS_ENTRY" // Individual entry processing
)

var (
	enabledCategories = map[Category]bool{
		APP:      false,
		FS:       false,
		QUEUE:    false,
		NAV:      false,
		MONITOR:  false,
		STORE:    false,
		CLI:      false,
		FS_ENTRY: false,
	}
	categoryMu sync.RWMutex
)

func init() {
	if env := os.Getenv("WAYPOINT_DEBUG"); env != "" {
		Configure(env)
	}
}

// Configure applies a category list in the WAYPOINT_DEBUG format.
func Configure(value string) {
	categoryMu.Lock()
	defer categoryMu.Unlock()

	value = strings.ToUpper(strings.TrimSpace(value))
	switch value {
	case "ALL":
		for cat := range enabledCategories {
			enabledCategories[cat] = true
		}
	case "NONE", "":
		for cat := range enabledCategories {
			enabledCategories[cat] = false
		}
	default:
		for cat := range enabledCategories {
			enabledCategories[cat] = false
		}
		for _, cat := range strings.Split(value, ",") {
			cat = strings.TrimSpace(cat)
			if cat != "" {
				enabledCategories[Category(cat)] = true
			}
		}
	}
}

// Log logs a debug message for the specified category
func Log(cat Category, format string, args ...interface{}) {
	categoryMu.RLock()
	enabled := enabledCategories[cat]
	categoryMu.RUnlock()

	if !enabled {
		return
	}

	logging.L().Debug(fmt.Sprintf(format, args...), zap.String("category", string(cat)))
}

// Enable enables a debug category
func Enable(cat Category) {
	categoryMu.Lock()
	enabledCategories[cat] = true
	categoryMu.Unlock()
}

// Disable disables a debug category
func Disable(cat Category) {
	categoryMu.Lock()
	enabledCategories[cat] = false
	categoryMu.Unlock()
}

// IsEnabled returns whether a category is enabled
func IsEnabled(cat Category) bool {
	categoryMu.RLock()
	defer categoryMu.RUnlock()
	return enabledCategories[cat]
}

// ListEnabled returns the enabled categories in name order
func ListEnabled() []Category {
	categoryMu.RLock()
	defer categoryMu.RUnlock()

	var enabled []Category
	for cat, on := range enabledCategories {
		if on {
			enabled = append(enabled, cat)
		}
	}
	sort.Slice(enabled, func(i, j int) bool { return enabled[i] < enabled[j] })
	return enabled
}
