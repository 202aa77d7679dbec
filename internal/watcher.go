package internal

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
)

const (
	DefaultLatency  = 100 * time.Millisecond
	DefaultMaxBatch = 1024
)

var DefaultIgnorePatterns = []string{
	".swp",
	".goutputstream",
	":Zone.Identifier",
	"~",
}

type State int

const (
	Active State = iota + 1
	Stopped
)

func (s State) String() string {
	switch s {
	case Active:
		return "ACTIVE"
	case Stopped:
		return "STOPPED"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type Option func(w *Watch)

// WithLatency sets how long notifications are collected before a batch is
// delivered.
func WithLatency(d time.Duration) Option {
	return func(w *Watch) {
		if d > 0 {
			w.latency = d
		}
	}
}

func WithMaxBatch(size int) Option {
	return func(w *Watch) {
		if size > 0 {
			w.maxBatch = size
		}
	}
}

// WithIgnorePatterns drops notifications whose base name contains any of
// the patterns. An empty list disables filtering.
func WithIgnorePatterns(patterns []string) Option {
	return func(w *Watch) {
		w.ignore = patterns
	}
}

func WithCoalesce(coalesce bool) Option {
	return func(w *Watch) {
		w.coalesce = coalesce
	}
}

func WithSuppressEmpty(suppress bool) Option {
	return func(w *Watch) {
		w.dispatcherOptions = append(w.dispatcherOptions, WithEmptyBatches(!suppress))
	}
}

func WithLogger(lg *log.Logger) Option {
	return func(w *Watch) {
		if lg != nil {
			w.logger = lg
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(w *Watch) {
		if m != nil {
			w.metrics = m
		}
	}
}

// Watch
// binds a root directory to a notifier. Raw notifications come from an
// fsnotify watcher over every directory of the subtree, are batched for
// the configured latency and handed to the dispatcher from a single
// delivery goroutine.
type Watch struct {
	ID   string
	root string

	fw *fsnotify.Watcher
	d  *Dispatcher
	b  *batcher

	latency           time.Duration
	maxBatch          int
	ignore            []string
	coalesce          bool
	dispatcherOptions []DispatcherOption

	metrics *Metrics
	logger  *log.Logger
	rescan  chan struct{}
	closed  chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

// CreateWatch starts watching root and delivers classified batches to n.
// The returned error matches ErrInvalidPath when root does not exist, is
// not a directory or cannot be registered.
//
// n runs synchronously on the watch's delivery goroutine. A slow notifier
// holds back later batches of the same watch; nothing is dropped.
func CreateWatch(root string, n Notifier, options ...Option) (*Watch, error) {
	if n == nil {
		return nil, ErrNilNotifier
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Join(ErrInvalidPath, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, errors.Join(ErrInvalidPath, err)
	}
	if !info.IsDir() {
		return nil, errors.Join(ErrInvalidPath, fmt.Errorf("%s is not a directory", abs))
	}

	w := Watch{
		ID:       uuid.NewString(),
		root:     abs,
		latency:  DefaultLatency,
		maxBatch: DefaultMaxBatch,
		ignore:   DefaultIgnorePatterns,
		metrics:  NewMetrics(),
		logger:   log.New(os.Stdout, "fsevents --> ", 1|4),
		rescan:   make(chan struct{}),
		closed:   make(chan struct{}),
	}

	for _, op := range options {
		op(&w)
	}

	w.d, err = NewDispatcher(n, append(w.dispatcherOptions, WithDispatcherMetrics(w.metrics))...)
	if err != nil {
		return nil, err
	}
	w.b = newBatcher(w.maxBatch, w.coalesce)

	w.fw, err = fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if _, err = w.watchPath(abs, false); err != nil {
		_ = w.fw.Close()
		return nil, errors.Join(ErrInvalidPath, err)
	}

	w.logger.Printf("watch :: %s active on %s\n", w.ID, w.root)

	w.wg.Add(1)
	go w.run()

	return &w, nil
}

func (w *Watch) Root() string { return w.root }

func (w *Watch) Metrics() *Metrics { return w.metrics }

func (w *Watch) State() State {
	if w.d.Stopped() {
		return Stopped
	}
	return Active
}

// Rescan asks the consumer to re-enumerate the whole root: pending
// notifications are delivered together with a RescanFolder for the root.
func (w *Watch) Rescan() error {
	select {
	case <-w.closed:
		return ErrWatchStopped
	default:
	}

	select {
	case w.rescan <- struct{}{}:
		return nil
	case <-w.closed:
		return ErrWatchStopped
	}
}

// Stop unregisters the watch. Once it returns the notifier is never called
// again; pending notifications that were not yet delivered are dropped.
// Calling Stop more than once is a no-op. It must not be called from
// inside the notifier.
func (w *Watch) Stop() {
	w.once.Do(func() {
		w.d.Stop()
		close(w.closed)
		if err := w.fw.Close(); err != nil {
			w.logger.Printf("ERROR watch :: %s close fsnotify watcher %v\n", w.ID, err)
		}
		w.wg.Wait()
		w.logger.Printf("watch :: %s stopped\n", w.ID)
	})
}

// watchPath registers path and every directory below it. With collect set
// it also returns the entries found below path, in walk order.
func (w *Watch) watchPath(path string, collect bool) ([]Notification, error) {
	var found []Notification
	err := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p != path {
			if w.ignored(p) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if collect {
				found = append(found, Notification{Path: p, Flags: FlagItemCreated | kindFlag(d.Type())})
			}
		}
		if d.IsDir() {
			if err := w.fw.Add(p); err != nil {
				return fmt.Errorf("failed to watch directory %s: %w", p, err)
			}
			w.metrics.RecordDirectoryAdded()
		}
		return nil
	})
	return found, err
}

func (w *Watch) run() {
	defer w.wg.Done()

	timer := time.NewTimer(w.latency)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	var tick <-chan time.Time
	schedule := func() {
		if tick == nil {
			timer.Reset(w.latency)
			tick = timer.C
		}
	}

	for {
		select {
		case e, ok := <-w.fw.Events:
			if !ok {
				return
			}
			full := false
			for _, n := range w.translate(e) {
				full = w.b.add(n) || full
			}
			if full {
				w.flush()
			} else if w.b.len() > 0 {
				schedule()
			}
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			if w.handleError(err) {
				w.flush()
			}
		case <-w.rescan:
			w.b.add(Notification{Path: w.root, Flags: FlagMustScanSubDirs | FlagItemIsDir})
			w.flush()
		case <-tick:
			tick = nil
			w.flush()
		case <-w.closed:
			return
		}
	}
}

func (w *Watch) flush() {
	if w.b.len() == 0 {
		return
	}
	paths, flags := w.b.take()
	w.d.ProcessBatch(paths, flags)
}

// translate maps one fsnotify event onto raw flags. A newly created
// directory is registered and its existing entries are reported as
// created, since they may predate the registration.
func (w *Watch) translate(e fsnotify.Event) []Notification {
	if len(e.Name) == 0 || w.ignored(e.Name) {
		return nil
	}

	var f Flag
	if e.Has(fsnotify.Create) {
		f |= FlagItemCreated
	}
	if e.Has(fsnotify.Remove) {
		f |= FlagItemRemoved
	}
	if e.Has(fsnotify.Write) {
		f |= FlagItemModified
	}
	if e.Has(fsnotify.Chmod) {
		f |= FlagItemInodeMetaMod
	}

	info, statErr := os.Lstat(e.Name)
	if e.Has(fsnotify.Rename) {
		f |= FlagItemRenamed
		if statErr != nil {
			f |= FlagItemRemoved
		}
	}
	if statErr == nil {
		f |= kindFlag(info.Mode().Type())
	}
	if e.Name == w.root && f.Any(FlagItemRemoved) {
		f |= FlagRootChanged
	}

	out := []Notification{{Path: e.Name, Flags: f}}

	if f.Has(FlagItemCreated|FlagItemIsDir) && e.Name != w.root {
		found, err := w.watchPath(e.Name, true)
		if err != nil {
			w.logger.Printf("ERROR watch :: %s add directory %s %v\n", w.ID, e.Name, err)
			w.metrics.RecordError()
		}
		out = append(out, found...)
	}

	return out
}

// handleError reports whether the error produced a notification that has
// to be delivered right away.
func (w *Watch) handleError(err error) bool {
	w.metrics.RecordError()

	if errors.Is(err, fsnotify.ErrEventOverflow) {
		w.logger.Printf("watch :: %s event queue overflow, requesting rescan of %s\n", w.ID, w.root)
		w.b.add(Notification{Path: w.root, Flags: FlagMustScanSubDirs | FlagKernelDropped})
		return true
	}

	w.logger.Printf("ERROR watch :: %s got error %v\n", w.ID, err)
	return false
}

func (w *Watch) ignored(path string) bool {
	name := filepath.Base(path)
	for _, pattern := range w.ignore {
		if pattern != "" && strings.Contains(name, pattern) {
			return true
		}
	}
	return false
}

func kindFlag(mode fs.FileMode) Flag {
	switch {
	case mode&fs.ModeSymlink != 0:
		return FlagItemIsSymlink
	case mode.IsDir():
		return FlagItemIsDir
	case mode.IsRegular():
		return FlagItemIsFile
	}
	return FlagNone
}
