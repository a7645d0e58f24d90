//go:build linux

package trash

import (
	"os"
	"path/filepath"
)

// defaultDir follows XDG: $XDG_DATA_HOME/Trash, else ~/.local/share/Trash.
func defaultDir() (string, error) {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", ErrUnavailable
		}
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "Trash"), nil
}
