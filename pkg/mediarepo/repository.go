package mediarepo

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ManouchehrRasoulli/fsevents/internal"
)

var (
	ErrFolderNotFound = errors.New("media folder not found")
)

type Media struct {
	Path      string
	Type      MediaType
	Size      int64
	Timestamp time.Time
}

func (m Media) String() string {
	return fmt.Sprintf("media :: path: %s, type: %s, size: %d, timestamp: %v", m.Path, m.Type, m.Size, m.Timestamp.String())
}

type Option func(r *Repository)

func WithRawImages(include bool) Option {
	return func(r *Repository) {
		r.includeRaw = include
	}
}

// WithUpdateHook registers a function called after a folder was loaded
// and after every applied batch.
func WithUpdateHook(hook func()) Option {
	return func(r *Repository) {
		r.onUpdate = hook
	}
}

// Repository
// media files of a set of folders ordered by timestamp, kept current by
// applying classified change batches.
type Repository struct {
	// files
	// sorted by timestamp then path, see less.
	files      []Media
	roots      []string
	rwM        sync.RWMutex
	includeRaw bool
	onUpdate   func()
	logger     *log.Logger
}

func NewRepository(logger *log.Logger, options ...Option) *Repository {
	r := Repository{
		files:  make([]Media, 0),
		roots:  make([]string, 0),
		logger: logger,
	}
	for _, op := range options {
		op(&r)
	}
	return &r
}

// AddFolder loads the media below root. Adding a folder twice is a no-op.
func (r *Repository) AddFolder(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return errors.Join(ErrFolderNotFound, err)
	}

	r.rwM.Lock()
	if slices.Contains(r.roots, abs) {
		r.rwM.Unlock()
		return nil
	}

	if _, err = os.Stat(abs); err != nil {
		r.rwM.Unlock()
		return errors.Join(ErrFolderNotFound, err)
	}

	r.logger.Printf("media repository :: add folder %s\n", abs)
	if err = r.readDir(abs); err != nil {
		r.rwM.Unlock()
		return err
	}
	r.roots = append(r.roots, abs)
	r.rwM.Unlock()

	r.updated()
	return nil
}

// readDir must be called with the write lock held.
func (r *Repository) readDir(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p != root && isHidden(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			r.logger.Printf("ERROR media repository :: got error %v on %s\n", err, p)
			return nil
		}
		r.upsert(p, info)
		return nil
	})
}

// Refresh reloads every folder from disk.
func (r *Repository) Refresh() error {
	r.rwM.Lock()
	r.files = r.files[:0]
	var errs []error
	for _, root := range r.roots {
		if err := r.readDir(root); err != nil {
			errs = append(errs, err)
		}
	}
	r.rwM.Unlock()

	r.updated()
	return errors.Join(errs...)
}

func (r *Repository) Clear() {
	r.rwM.Lock()
	defer r.rwM.Unlock()
	r.files = make([]Media, 0)
	r.roots = make([]string, 0)
}

func (r *Repository) Len() int {
	r.rwM.RLock()
	defer r.rwM.RUnlock()
	return len(r.files)
}

func (r *Repository) At(index int) (Media, bool) {
	r.rwM.RLock()
	defer r.rwM.RUnlock()
	if index < 0 || index >= len(r.files) {
		return Media{}, false
	}
	return r.files[index], true
}

func (r *Repository) Find(path string) (Media, bool) {
	r.rwM.RLock()
	defer r.rwM.RUnlock()
	if i := r.indexOf(path); i >= 0 {
		return r.files[i], true
	}
	return Media{}, false
}

func (r *Repository) Files() []Media {
	r.rwM.RLock()
	defer r.rwM.RUnlock()
	return slices.Clone(r.files)
}

func (r *Repository) Roots() []string {
	r.rwM.RLock()
	defer r.rwM.RUnlock()
	return slices.Clone(r.roots)
}

// Notify applies a classified batch in order. It satisfies
// internal.Notifier.
func (r *Repository) Notify(numEvents int, types []internal.ChangeType, paths []string) {
	r.rwM.Lock()
	for i := 0; i < numEvents; i++ {
		r.apply(types[i], paths[i])
	}
	r.rwM.Unlock()

	r.updated()
}

func (r *Repository) apply(ct internal.ChangeType, path string) {
	if ct == internal.RescanFolder {
		r.rescan(path)
		return
	}
	if r.hidden(path) {
		return
	}

	if TypeOf(path, r.includeRaw) == Unknown {
		if ct == internal.Removed {
			// a removed directory takes its media with it
			r.removeTree(path)
		}
		return
	}

	if ct == internal.Removed {
		if !r.remove(path) {
			r.logger.Printf("media repository :: unable to remove %s, not in media files\n", path)
		}
		return
	}

	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		// gone again before we got to it
		return
	}

	switch ct {
	case internal.Created, internal.Updated:
		r.upsert(path, info)
	}
}

func (r *Repository) rescan(path string) {
	root := r.rootOf(path)
	if root == "" {
		r.logger.Printf("media repository :: rescan of unknown path %s ignored\n", path)
		return
	}

	r.logger.Printf("media repository :: rescan %s\n", root)
	r.removeTree(root)
	if err := r.readDir(root); err != nil {
		r.logger.Printf("ERROR media repository :: got error %v on rescan of %s\n", err, root)
	}
}

func (r *Repository) rootOf(path string) string {
	for _, root := range r.roots {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			return root
		}
	}
	return ""
}

// hidden reports whether path or one of its folders below the watched root
// is a dot entry.
func (r *Repository) hidden(path string) bool {
	rel := filepath.Base(path)
	if root := r.rootOf(path); root != "" && root != path {
		rel, _ = filepath.Rel(root, path)
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if isHidden(part) {
			return true
		}
	}
	return false
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".") && name != "." && name != ".."
}

func (r *Repository) upsert(path string, info fs.FileInfo) {
	mediaType := TypeOf(path, r.includeRaw)
	if mediaType == Unknown {
		return
	}

	m := Media{
		Path:      path,
		Type:      mediaType,
		Size:      info.Size(),
		Timestamp: info.ModTime(),
	}

	r.remove(path)
	i, _ := slices.BinarySearchFunc(r.files, m, compare)
	r.files = slices.Insert(r.files, i, m)
}

func (r *Repository) remove(path string) bool {
	i := r.indexOf(path)
	if i < 0 {
		return false
	}
	r.files = slices.Delete(r.files, i, i+1)
	return true
}

func (r *Repository) removeTree(dir string) {
	prefix := dir + string(filepath.Separator)
	r.files = slices.DeleteFunc(r.files, func(m Media) bool {
		return strings.HasPrefix(m.Path, prefix)
	})
}

func (r *Repository) indexOf(path string) int {
	return slices.IndexFunc(r.files, func(m Media) bool { return m.Path == path })
}

func (r *Repository) updated() {
	if r.onUpdate != nil {
		r.onUpdate()
	}
}

func compare(a, b Media) int {
	if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
		return c
	}
	return strings.Compare(a.Path, b.Path)
}
