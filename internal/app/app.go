// Package app wires the backends, the change monitor, the store and the
// navigation coordinator into one running instance.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/justyntemme/waypoint/internal/config"
	"github.com/justyntemme/waypoint/internal/debug"
	"github.com/justyntemme/waypoint/internal/filter"
	"github.com/justyntemme/waypoint/internal/logging"
	"github.com/justyntemme/waypoint/internal/loop"
	"github.com/justyntemme/waypoint/internal/monitor"
	"github.com/justyntemme/waypoint/internal/nav"
	"github.com/justyntemme/waypoint/internal/presenter"
	"github.com/justyntemme/waypoint/internal/store"
	"github.com/justyntemme/waypoint/internal/trash"
	"github.com/justyntemme/waypoint/internal/vfs"
	"github.com/justyntemme/waypoint/internal/vfs/local"
	"github.com/justyntemme/waypoint/internal/vfs/memfs"
	"github.com/justyntemme/waypoint/internal/vfs/s3"
	"github.com/justyntemme/waypoint/internal/vfs/sftp"
)

// Settings keys for runtime preference overrides.
const (
	prefShowHidden  = "browser.showHidden"
	prefDefaultSort = "browser.defaultSort"
	prefSortInverse = "browser.sortInverse"
)

// Options tune Open. Zero values use the configuration defaults.
type Options struct {
	ConfigPath string
	DataPath   string // database file; defaults to waypoint.db next to the config
	LogLevel   string
	LogFormat  string

	// Notifier receives navigation outcomes in addition to the log.
	Notifier nav.Notifier
	// OnChange is called on the event loop after every presenter update.
	OnChange func()
}

// App is a running instance.
type App struct {
	Config      *config.Manager
	Loop        *loop.Loop
	Hub         *monitor.Hub
	Store       *store.DB // nil when the database could not be opened
	Registry    *vfs.Registry
	Resolver    *vfs.Resolver
	Tree        *presenter.Tree
	Coordinator *nav.Coordinator

	cfg    config.Config
	local  *local.Backend
	memory *memfs.Backend
	sftp   *sftp.Backend
	s3     *s3.Backend

	unsubscribe func()
	closeOnce   sync.Once
	closeErr    error
}

// Open loads the configuration and starts the event loop.
func Open(ctx context.Context, opts Options) (*App, error) {
	a := &App{Config: config.NewManager()}

	cfgPath := opts.ConfigPath
	if cfgPath == "" {
		cfgPath = config.ConfigPath()
	}
	if err := a.Config.LoadFrom(cfgPath); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	a.cfg = a.Config.Get()

	logCfg := logging.Config{
		Level:      a.cfg.Log.Level,
		Format:     a.cfg.Log.Format,
		OutputPath: a.cfg.Log.Output,
	}
	if opts.LogLevel != "" {
		logCfg.Level = opts.LogLevel
	}
	if opts.LogFormat != "" {
		logCfg.Format = opts.LogFormat
	}
	if err := logging.Init(logCfg); err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	if err := a.Config.ParseError(); err != nil {
		logging.Warn("config: using defaults", zap.String("path", cfgPath), zap.Error(err))
	}

	dataPath := opts.DataPath
	if dataPath == "" {
		dataPath = filepath.Join(filepath.Dir(cfgPath), "waypoint.db")
	}
	db := store.NewDB()
	if err := db.Open(dataPath); err != nil {
		logging.Warn("store unavailable, history and preferences will not persist",
			zap.String("path", dataPath), zap.Error(err))
	} else {
		a.Store = db
	}

	a.Loop = loop.New()
	a.Hub = monitor.NewHub(a.cfg.Debounce())
	a.Registry = vfs.NewRegistry()
	a.Resolver = vfs.NewResolver(a.Registry)

	home, err := a.home()
	if err != nil {
		a.abort()
		return nil, err
	}
	if err := a.register(home); err != nil {
		a.abort()
		return nil, err
	}
	a.loadBookmarks(ctx)
	if err := a.Registry.Refresh(ctx); err != nil {
		a.abort()
		return nil, fmt.Errorf("entry points: %w", err)
	}

	a.Tree = presenter.NewTree(opts.OnChange)
	a.Tree.SetEntryPoints(a.Registry.EntryPoints())
	a.Coordinator = nav.New(nav.Deps{
		Loop:        a.Loop,
		Registry:    a.Registry,
		Resolver:    a.Resolver,
		Presenter:   a.Tree,
		Notifier:    &notifier{next: opts.Notifier},
		History:     a.loadHistory(ctx),
		Home:        home,
		Visibility:  a.visibility(ctx),
		DefaultSort: a.defaultSort(ctx),
	})
	a.unsubscribe = a.Coordinator.Bridge().Attach(a.Hub)

	go func() {
		if err := a.Loop.Run(context.Background()); err != nil {
			logging.Warn("event loop stopped", zap.Error(err))
		}
	}()
	for _, src := range a.Registry.Sources() {
		src.MonitorEntryPoints()
	}

	debug.Log(debug.APP, "app: ready, %d entry points", len(a.Registry.EntryPoints()))
	return a, nil
}

func (a *App) home() (vfs.Location, error) {
	if h := a.cfg.Browser.HomeLocation; h != "" {
		loc, err := vfs.Parse(h)
		if err != nil {
			return "", fmt.Errorf("home location: %w", err)
		}
		return loc, nil
	}
	dir, err := os.UserHomeDir()
	if err != nil {
		return vfs.FromPath(string(filepath.Separator)), nil
	}
	return vfs.FromPath(dir), nil
}

func (a *App) register(home vfs.Location) error {
	bin, err := trash.Default()
	if err != nil {
		debug.Log(debug.APP, "app: trash unavailable: %v", err)
		bin = nil
	}
	opts := local.Options{Hub: a.Hub, Trash: bin}
	if home.Scheme() == vfs.FileScheme {
		opts.Home = home.LocalPath()
	}
	if a.Store != nil {
		opts.Store = a.Store
	}
	if a.local, err = local.New(opts); err != nil {
		return fmt.Errorf("local backend: %w", err)
	}
	a.memory = memfs.New(a.Hub)

	hosts := make([]sftp.Host, 0, len(a.cfg.SFTP))
	for _, h := range a.cfg.SFTP {
		hosts = append(hosts, sftp.Host{
			Name:       h.Name,
			Address:    h.Address,
			User:       h.User,
			Password:   h.Password,
			KeyFile:    h.KeyFile,
			KnownHosts: h.KnownHosts,
		})
	}
	a.sftp = sftp.New(sftp.Options{Hosts: hosts, Hub: a.Hub})

	buckets := make([]s3.Bucket, 0, len(a.cfg.S3))
	for _, b := range a.cfg.S3 {
		buckets = append(buckets, s3.Bucket(b))
	}
	a.s3 = s3.New(s3.Options{Buckets: buckets, Hub: a.Hub})

	for _, b := range []vfs.Backend{a.local, a.memory, a.sftp, a.s3} {
		if _, err := a.Registry.Register(b); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) loadBookmarks(ctx context.Context) {
	for _, ep := range a.cfg.EntryPoints {
		a.addEntryPoint(ep.Location, ep.Name)
	}
	if a.Store == nil {
		return
	}
	marks, err := a.Store.Bookmarks(ctx)
	if err != nil {
		logging.Warn("bookmarks unavailable", zap.Error(err))
		return
	}
	for _, m := range marks {
		a.addEntryPoint(m.Location, m.Name)
	}
}

func (a *App) addEntryPoint(location, name string) {
	loc, err := vfs.Parse(location)
	if err != nil {
		logging.Warn("invalid bookmark", zap.String("location", location), zap.Error(err))
		return
	}
	if name == "" {
		name = loc.Base()
	}
	a.Registry.AddEntryPoint(vfs.EntryPoint{Location: loc, Name: name, Icon: "bookmark"})
}

func (a *App) loadHistory(ctx context.Context) *nav.History {
	h := nav.NewHistory(a.cfg.History.MaxLength)
	if a.Store == nil {
		return h
	}
	if !a.cfg.History.Save {
		if err := a.Store.ClearHistory(ctx); err != nil {
			logging.Warn("history: clear failed", zap.Error(err))
		}
		return h
	}
	saved, err := a.Store.LoadHistory(ctx)
	if err != nil {
		logging.Warn("history: load failed", zap.Error(err))
		return h
	}
	locs := make([]vfs.Location, 0, len(saved))
	for _, s := range saved {
		if loc, err := vfs.Parse(s); err == nil {
			locs = append(locs, loc)
		}
	}
	h.Load(locs)
	debug.Log(debug.NAV, "history: loaded %d entries", h.Len())
	return h
}

// setting returns a stored preference override.
func (a *App) setting(ctx context.Context, key string) (string, bool) {
	if a.Store == nil {
		return "", false
	}
	v, ok, err := a.Store.Setting(ctx, key)
	if err != nil {
		logging.Warn("settings: read failed", zap.String("key", key), zap.Error(err))
		return "", false
	}
	return v, ok
}

func (a *App) saveSetting(ctx context.Context, key, value string) error {
	if a.Store == nil {
		return nil
	}
	return a.Store.SaveSetting(ctx, key, value)
}

func (a *App) visibility(ctx context.Context) nav.Visibility {
	v := nav.Visibility{ShowHidden: a.cfg.Browser.ShowHidden}
	if s, ok := a.setting(ctx, prefShowHidden); ok {
		if show, err := strconv.ParseBool(s); err == nil {
			v.ShowHidden = show
		}
	}
	if q := filter.Parse(a.cfg.Browser.FileFilter); !q.Empty() {
		v.Filter = q
	}
	return v
}

func (a *App) defaultSort(ctx context.Context) nav.SortOrder {
	order := nav.SortOrder{Inverse: a.cfg.Browser.SortInverse}
	order.By, _ = nav.ParseSortBy(a.cfg.Browser.DefaultSort)
	if s, ok := a.setting(ctx, prefDefaultSort); ok {
		if by, ok := nav.ParseSortBy(s); ok {
			order.By = by
		}
	}
	if s, ok := a.setting(ctx, prefSortInverse); ok {
		if inv, err := strconv.ParseBool(s); err == nil {
			order.Inverse = inv
		}
	}
	return order
}

// Settings returns the loaded configuration.
func (a *App) Settings() config.Config { return a.cfg }

// Memory returns the in-memory backend.
func (a *App) Memory() *memfs.Backend { return a.memory }

// Do runs fn on the event loop and waits for it.
func (a *App) Do(fn func(c *nav.Coordinator)) error {
	return a.Loop.Call(func() { fn(a.Coordinator) })
}

// Navigate goes to loc and waits for the outcome, following the automatic
// fallback to the parent folder when one is started.
func (a *App) Navigate(ctx context.Context, loc, selectFile vfs.Location) (*nav.Request, error) {
	var r *nav.Request
	if err := a.Do(func(c *nav.Coordinator) { r = c.GoTo(loc, selectFile) }); err != nil {
		return nil, err
	}
	return Wait(ctx, r)
}

// Wait blocks until r, or the fallback started for it, settles.
func Wait(ctx context.Context, r *nav.Request) (*nav.Request, error) {
	if r == nil {
		return nil, errors.New("nothing to navigate to")
	}
	for {
		select {
		case <-r.Done():
		case <-ctx.Done():
			return r, ctx.Err()
		}
		fb := r.Fallback()
		if fb == nil {
			return r, r.Err()
		}
		r = fb
	}
}

// SetShowHidden changes the hidden file policy and remembers it.
func (a *App) SetShowHidden(ctx context.Context, show bool) error {
	if err := a.Do(func(c *nav.Coordinator) { c.SetShowHidden(show) }); err != nil {
		return err
	}
	return a.saveSetting(ctx, prefShowHidden, strconv.FormatBool(show))
}

// SetDefaultSort changes the order of folders without a stored one and
// remembers it.
func (a *App) SetDefaultSort(ctx context.Context, order nav.SortOrder) error {
	if err := a.Do(func(c *nav.Coordinator) { c.SetDefaultSort(order) }); err != nil {
		return err
	}
	return errors.Join(
		a.saveSetting(ctx, prefDefaultSort, order.By.String()),
		a.saveSetting(ctx, prefSortInverse, strconv.FormatBool(order.Inverse)),
	)
}

// AddBookmark stores a bookmarked entry point and announces it.
func (a *App) AddBookmark(ctx context.Context, loc vfs.Location, name string) error {
	if a.Store == nil {
		return errors.New("bookmarks need the database")
	}
	if name == "" {
		name = loc.Base()
	}
	if err := a.Store.AddBookmark(ctx, loc.String(), name); err != nil {
		return err
	}
	a.Registry.AddEntryPoint(vfs.EntryPoint{Location: loc, Name: name, Icon: "bookmark"})
	a.Hub.EntryPointsChanged()
	return nil
}

// RemoveBookmark forgets a bookmarked entry point.
func (a *App) RemoveBookmark(ctx context.Context, loc vfs.Location) error {
	if a.Store == nil {
		return errors.New("bookmarks need the database")
	}
	if err := a.Store.RemoveBookmark(ctx, loc.String()); err != nil {
		return err
	}
	a.Registry.RemoveEntryPoint(loc)
	a.Hub.EntryPointsChanged()
	return nil
}

// History returns the history entries and the cursor.
func (a *App) History() (entries []vfs.Location, index int, err error) {
	err = a.Do(func(c *nav.Coordinator) {
		entries = c.History().Entries()
		index = c.History().Index()
	})
	return entries, index, err
}

// ClearHistory empties the history in memory and on disk.
func (a *App) ClearHistory(ctx context.Context) error {
	if err := a.Do(func(c *nav.Coordinator) { c.ClearHistory() }); err != nil {
		return err
	}
	if a.Store == nil {
		return nil
	}
	return a.Store.ClearHistory(ctx)
}

func (a *App) saveHistory(ctx context.Context) {
	if a.Store == nil || !a.cfg.History.Save {
		return
	}
	entries, _, err := a.History()
	if err != nil {
		logging.Warn("history: not saved", zap.Error(err))
		return
	}
	locs := make([]string, len(entries))
	for i, e := range entries {
		locs[i] = e.String()
	}
	if err := a.Store.SaveHistory(ctx, locs); err != nil {
		logging.Warn("history: save failed", zap.Error(err))
	}
}

// Close saves history, cancels every request and operation, waits for
// them to settle and releases the backends.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		a.saveHistory(ctx)

		var errs []error
		if err := a.Coordinator.Shutdown(ctx, a.cfg.PollInterval()); err != nil {
			errs = append(errs, fmt.Errorf("shutdown: %w", err))
		}
		a.unsubscribe()
		a.Loop.Close()
		<-a.Loop.Done()

		errs = append(errs, a.closeBackends()...)
		a.Hub.Close()
		if a.Store != nil {
			errs = append(errs, a.Store.Close())
		}
		a.closeErr = errors.Join(errs...)
		debug.Log(debug.APP, "app: closed")
		_ = logging.Sync()
	})
	return a.closeErr
}

func (a *App) closeBackends() []error {
	var errs []error
	if a.local != nil {
		errs = append(errs, a.local.Close())
	}
	if a.sftp != nil {
		errs = append(errs, a.sftp.Close())
	}
	return errs
}

// abort releases what Open created before it failed.
func (a *App) abort() {
	a.closeBackends()
	a.Hub.Close()
	if a.Store != nil {
		a.Store.Close()
	}
}

// notifier logs navigation outcomes and forwards them.
type notifier struct {
	next nav.Notifier
}

func (n *notifier) LocationReady(r *nav.Request) {
	debug.Log(debug.NAV, "ready: %s (%s)", r.Location(), r.Action)
	if n.next != nil {
		n.next.LocationReady(r)
	}
}

func (n *notifier) NavigationFailed(title string, err error) {
	logging.Error(title, zap.Error(err))
	if n.next != nil {
		n.next.NavigationFailed(title, err)
	}
}
