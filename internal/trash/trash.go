// Package trash moves files into a freedesktop.org style trash directory
// instead of deleting them.
//
// Layout:
//
//	<dir>/files/  trashed files
//	<dir>/info/   <name>.trashinfo metadata
package trash

import (
	"bufio"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrUnavailable is returned when the platform has no usable trash.
var ErrUnavailable = errors.New("trash not available")

const dateLayout = "2006-01-02T15:04:05"

// Item represents a file or directory in the trash
type Item struct {
	Name         string    // Name inside the trash
	OriginalPath string    // Full path where the file was deleted from
	TrashPath    string    // Current path in trash
	DeletedAt    time.Time // When the file was deleted
	Size         int64
	IsDir        bool
}

// Bin is one trash directory.
type Bin struct {
	dir string
	now func() time.Time
}

// New returns a bin rooted at dir.
func New(dir string) *Bin {
	return &Bin{dir: dir, now: time.Now}
}

// Default returns the user's trash, see defaultDir.
func Default() (*Bin, error) {
	dir, err := defaultDir()
	if err != nil {
		return nil, err
	}
	return New(dir), nil
}

// Path returns the trash directory.
func (b *Bin) Path() string { return b.dir }

func (b *Bin) filesDir() string { return filepath.Join(b.dir, "files") }
func (b *Bin) infoDir() string  { return filepath.Join(b.dir, "info") }

// Move moves path into the trash and returns its new location.
func (b *Bin) Move(path string) (string, error) {
	if err := os.MkdirAll(b.filesDir(), 0o700); err != nil {
		return "", fmt.Errorf("cannot create trash files directory: %w", err)
	}
	if err := os.MkdirAll(b.infoDir(), 0o700); err != nil {
		return "", fmt.Errorf("cannot create trash info directory: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if _, err := os.Lstat(absPath); err != nil {
		return "", err
	}

	// Handle conflicts by appending numbers
	baseName := filepath.Base(absPath)
	destName := baseName
	destPath := filepath.Join(b.filesDir(), destName)
	for counter := 1; ; counter++ {
		if _, err := os.Lstat(destPath); os.IsNotExist(err) {
			break
		}
		ext := filepath.Ext(baseName)
		destName = fmt.Sprintf("%s.%d%s", strings.TrimSuffix(baseName, ext), counter, ext)
		destPath = filepath.Join(b.filesDir(), destName)
	}

	info := fmt.Sprintf("[Trash Info]\nPath=%s\nDeletionDate=%s\n",
		url.PathEscape(absPath), b.now().Format(dateLayout))
	infoPath := filepath.Join(b.infoDir(), destName+".trashinfo")
	if err := os.WriteFile(infoPath, []byte(info), 0o600); err != nil {
		return "", fmt.Errorf("cannot create trashinfo file: %w", err)
	}

	if err := os.Rename(absPath, destPath); err != nil {
		os.Remove(infoPath)
		return "", fmt.Errorf("cannot move file to trash: %w", err)
	}
	return destPath, nil
}

// List returns all items currently in the trash.
func (b *Bin) List() ([]Item, error) {
	entries, err := os.ReadDir(b.filesDir())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		item := Item{
			Name:      entry.Name(),
			TrashPath: filepath.Join(b.filesDir(), entry.Name()),
			DeletedAt: info.ModTime(),
			Size:      info.Size(),
			IsDir:     entry.IsDir(),
		}
		if orig, deleted, err := parseInfo(filepath.Join(b.infoDir(), entry.Name()+".trashinfo")); err == nil {
			item.OriginalPath = orig
			if !deleted.IsZero() {
				item.DeletedAt = deleted
			}
		}
		items = append(items, item)
	}
	return items, nil
}

// Empty permanently deletes all items in the trash.
func (b *Bin) Empty() error {
	var errs []error
	for _, dir := range []string{b.filesDir(), b.infoDir()} {
		entries, err := os.ReadDir(dir)
		if err != nil && !os.IsNotExist(err) {
			return err
		}
		for _, entry := range entries {
			if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func parseInfo(path string) (originalPath string, deletionDate time.Time, err error) {
	file, err := os.Open(path)
	if err != nil {
		return "", time.Time{}, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if v, ok := strings.CutPrefix(line, "Path="); ok {
			originalPath = v
			if decoded, err := url.PathUnescape(v); err == nil {
				originalPath = decoded
			}
		} else if v, ok := strings.CutPrefix(line, "DeletionDate="); ok {
			if t, err := time.ParseInLocation(dateLayout, v, time.Local); err == nil {
				deletionDate = t
			}
		}
	}
	return originalPath, deletionDate, scanner.Err()
}

// PermanentDelete removes path without using the trash.
func PermanentDelete(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return os.RemoveAll(path)
	}
	return os.Remove(path)
}
