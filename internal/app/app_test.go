package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justyntemme/waypoint/internal/nav"
	"github.com/justyntemme/waypoint/internal/vfs"
)

const testConfig = `{
	"browser": {"homeLocation": "mem:///"},
	"monitor": {"debounceMs": 10},
	"shutdown": {"pollIntervalMs": 5},
	"log": {"level": "error", "format": "console", "output": "stderr"}
}`

func testOptions(t *testing.T) Options {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(testConfig), 0o600))
	return Options{ConfigPath: cfgPath, DataPath: filepath.Join(dir, "waypoint.db")}
}

func openApp(t *testing.T, opts Options) *App {
	t.Helper()
	a, err := Open(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close(context.Background()) })
	return a
}

func seed(t *testing.T, a *App) {
	t.Helper()
	mem := a.Memory()
	require.NoError(t, mem.WriteFile("mem:///docs/a.txt", []byte("a")))
	require.NoError(t, mem.WriteFile("mem:///docs/sub/b.txt", []byte("bb")))
	require.NoError(t, mem.WriteFile("mem:///docs/.hidden", nil))
}

func fileNames(files []*vfs.FileData) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Name
	}
	return out
}

func ctxTimeout(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestNavigateAndPersistHistory(t *testing.T) {
	opts := testOptions(t)
	a, err := Open(context.Background(), opts)
	require.NoError(t, err)
	seed(t, a)
	ctx := ctxTimeout(t)

	r, err := a.Navigate(ctx, "mem:///docs", "")
	require.NoError(t, err)
	assert.Equal(t, nav.StateSucceeded, r.State())
	snap := a.Tree.Snapshot()
	assert.Equal(t, vfs.Location("mem:///docs"), snap.Location.Location)
	assert.Equal(t, []string{"sub", "a.txt"}, fileNames(snap.Files))

	r, err = a.Navigate(ctx, "mem:///docs/sub/b.txt", "")
	require.NoError(t, err)
	assert.Equal(t, vfs.Location("mem:///docs/sub"), r.Location())
	assert.Equal(t, []vfs.Location{"mem:///docs/sub/b.txt"}, a.Tree.Snapshot().Selected)

	entries, index, err := a.History()
	require.NoError(t, err)
	assert.Equal(t, []vfs.Location{"mem:///docs", "mem:///docs/sub"}, entries)
	assert.Equal(t, 1, index)
	require.NoError(t, a.Close(ctx))

	b := openApp(t, opts)
	entries, _, err = b.History()
	require.NoError(t, err)
	assert.Equal(t, []vfs.Location{"mem:///docs", "mem:///docs/sub"}, entries)

	require.NoError(t, b.ClearHistory(ctx))
	saved, err := b.Store.LoadHistory(ctx)
	require.NoError(t, err)
	assert.Empty(t, saved)
}

func TestNavigateFallsBackToParent(t *testing.T) {
	a := openApp(t, testOptions(t))
	seed(t, a)

	r, err := a.Navigate(ctxTimeout(t), "mem:///docs/missing", "")
	require.NoError(t, err)
	assert.True(t, r.IsFallback())
	assert.Equal(t, vfs.Location("mem:///docs"), r.Location())
}

func TestNavigateUnknownScheme(t *testing.T) {
	a := openApp(t, testOptions(t))

	_, err := a.Navigate(ctxTimeout(t), "nope:///x", "")
	assert.ErrorIs(t, err, vfs.ErrNoSuitableBackend)
}

func TestChangesReachTheTree(t *testing.T) {
	a := openApp(t, testOptions(t))
	seed(t, a)

	_, err := a.Navigate(ctxTimeout(t), "mem:///docs", "")
	require.NoError(t, err)

	require.NoError(t, a.Memory().WriteFile("mem:///docs/c.txt", []byte("c")))
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"sub", "a.txt", "c.txt"}, fileNames(a.Tree.Snapshot().Files))
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPreferencesPersist(t *testing.T) {
	opts := testOptions(t)
	a, err := Open(context.Background(), opts)
	require.NoError(t, err)
	seed(t, a)
	ctx := ctxTimeout(t)

	_, err = a.Navigate(ctx, "mem:///docs", "")
	require.NoError(t, err)
	require.NoError(t, a.SetShowHidden(ctx, true))
	require.NoError(t, a.SetDefaultSort(ctx, nav.SortOrder{By: nav.SortBySize, Inverse: true}))
	require.NoError(t, a.Close(ctx))

	b := openApp(t, opts)
	var vis nav.Visibility
	require.NoError(t, b.Do(func(c *nav.Coordinator) { vis = c.Visibility() }))
	assert.True(t, vis.ShowHidden)
	assert.Equal(t, nav.SortOrder{By: nav.SortBySize, Inverse: true}, b.defaultSort(ctx))
}

func TestBookmarks(t *testing.T) {
	opts := testOptions(t)
	a, err := Open(context.Background(), opts)
	require.NoError(t, err)
	ctx := ctxTimeout(t)

	require.NoError(t, a.AddBookmark(ctx, "mem:///docs", "Docs"))
	require.Eventually(t, func() bool {
		for _, ep := range a.Tree.Snapshot().Roots {
			if ep.Location == "mem:///docs" && ep.Name == "Docs" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, a.Close(ctx))

	b := openApp(t, opts)
	eps := b.Registry.EntryPoints()
	require.NotEmpty(t, eps)
	assert.Equal(t, vfs.EntryPoint{Location: "mem:///docs", Name: "Docs", Icon: "bookmark"}, eps[0])

	require.NoError(t, b.RemoveBookmark(ctx, "mem:///docs"))
	for _, ep := range b.Registry.EntryPoints() {
		assert.NotEqual(t, vfs.Location("mem:///docs"), ep.Location)
	}
}

func TestFileOperations(t *testing.T) {
	a := openApp(t, testOptions(t))
	seed(t, a)
	ctx := ctxTimeout(t)

	require.NoError(t, a.Copy(ctx, []vfs.Location{"mem:///docs/a.txt"}, "mem:///docs/sub", CopyOptions{}))
	fd, err := a.Stat(ctx, "mem:///docs/sub/a.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(1), fd.Size)

	policy := Fixed(vfs.ConflictSkip)
	require.NoError(t, a.Copy(ctx, []vfs.Location{"mem:///docs/a.txt"}, "mem:///docs/sub",
		CopyOptions{Conflict: policy.Resolve}))
	assert.Equal(t, 1, policy.Conflicts())

	require.NoError(t, a.Copy(ctx, []vfs.Location{"mem:///docs/sub/b.txt"}, "mem:///docs", CopyOptions{Move: true}))
	_, err = a.Stat(ctx, "mem:///docs/sub/b.txt")
	assert.Error(t, err)

	to, err := a.Rename(ctx, "mem:///docs/b.txt", "renamed.txt")
	require.NoError(t, err)
	assert.Equal(t, vfs.Location("mem:///docs/renamed.txt"), to)

	_, err = a.Rename(ctx, "mem:///docs/renamed.txt", "a/b")
	assert.Error(t, err)

	require.NoError(t, a.Remove(ctx, []vfs.Location{"mem:///docs/renamed.txt", "mem:///docs/sub"}, true))
	_, err = a.Stat(ctx, "mem:///docs/sub")
	assert.Error(t, err)

	err = a.Copy(ctx, []vfs.Location{"mem:///docs/a.txt"}, vfs.FromPath(t.TempDir()), CopyOptions{})
	assert.ErrorIs(t, err, vfs.ErrNotSupported)

	_, err = a.FreeSpace(ctx, "mem:///docs")
	assert.ErrorIs(t, err, vfs.ErrNotSupported)
}
