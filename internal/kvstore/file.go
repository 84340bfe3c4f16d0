package kvstore

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

const fileSuffix = ".json"

// File is the durable, file-backed Store.
//
// Each key is persisted as one file under the store directory, written via
// temp file + rename so a reader never observes a torn value. A filesystem
// watcher turns writes made by other processes into subscriber
// notifications, standing in for the browser's cross-tab storage event.
type File struct {
	dir     string
	mu      sync.RWMutex
	subs    *subscribers
	watcher *fsnotify.Watcher
	done    chan struct{}

	selfMu sync.Mutex
	self   map[string]int // filenames with in-flight local writes
}

// NewFile creates the directory if needed, starts the external-change
// watcher and returns the store. Call Close when done.
func NewFile(dir string) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory %s: %w", dir, err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	f := &File{
		dir:     dir,
		subs:    newSubscribers(),
		watcher: w,
		done:    make(chan struct{}),
		self:    make(map[string]int),
	}
	go f.watch()
	return f, nil
}

// Close stops the external-change watcher.
func (f *File) Close() error {
	close(f.done)
	return f.watcher.Close()
}

// Get returns the value for key and whether it was present.
func (f *File) Get(key string) (string, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	data, err := os.ReadFile(f.pathFor(key))
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read key %q: %w", key, err)
	}
	return string(data), true, nil
}

// Set stores value under key. The value is fully on disk before subscribers
// are notified and before Set returns.
func (f *File) Set(key, value string) error {
	path := f.pathFor(key)
	f.mu.Lock()
	err := f.writeAtomic(path, value)
	f.mu.Unlock()
	if err != nil {
		return err
	}
	f.subs.notify(key)
	return nil
}

// Delete removes key. Idempotent.
func (f *File) Delete(key string) error {
	path := f.pathFor(key)
	f.markSelf(filepath.Base(path))
	f.mu.Lock()
	err := os.Remove(path)
	f.mu.Unlock()
	if err != nil {
		if os.IsNotExist(err) {
			f.unmarkSelf(filepath.Base(path))
			return nil
		}
		return fmt.Errorf("failed to delete key %q: %w", key, err)
	}
	f.subs.notify(key)
	return nil
}

// Subscribe registers fn for mutation notifications, local and external.
func (f *File) Subscribe(fn func(key string)) func() {
	return f.subs.add(fn)
}

func (f *File) writeAtomic(path, value string) error {
	tmp, err := os.CreateTemp(f.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.WriteString(value); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write value: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	f.markSelf(filepath.Base(path))
	if err := os.Rename(tmp.Name(), path); err != nil {
		f.unmarkSelf(filepath.Base(path))
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to finalize value: %w", err)
	}
	return nil
}

// pathFor maps a key to its file. Keys are path-escaped so hierarchical
// keys ("videos/asl") and collection names share one flat directory.
func (f *File) pathFor(key string) string {
	return filepath.Join(f.dir, url.PathEscape(key)+fileSuffix)
}

func keyFromFilename(name string) (string, bool) {
	if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, fileSuffix) {
		return "", false
	}
	key, err := url.PathUnescape(strings.TrimSuffix(name, fileSuffix))
	if err != nil {
		return "", false
	}
	return key, true
}

// markSelf records an in-flight local mutation of the named file so the
// watcher does not re-notify for our own write.
func (f *File) markSelf(name string) {
	f.selfMu.Lock()
	f.self[name]++
	f.selfMu.Unlock()
}

func (f *File) unmarkSelf(name string) {
	f.selfMu.Lock()
	if f.self[name] > 0 {
		f.self[name]--
	}
	if f.self[name] == 0 {
		delete(f.self, name)
	}
	f.selfMu.Unlock()
}

// isSelf consumes one pending self-mutation marker for the named file.
func (f *File) isSelf(name string) bool {
	f.selfMu.Lock()
	defer f.selfMu.Unlock()
	if f.self[name] > 0 {
		f.self[name]--
		if f.self[name] == 0 {
			delete(f.self, name)
		}
		return true
	}
	return false
}

func (f *File) watch() {
	for {
		select {
		case <-f.done:
			return
		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
				!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			name := filepath.Base(event.Name)
			key, ok := keyFromFilename(name)
			if !ok {
				continue
			}
			if f.isSelf(name) {
				continue
			}
			f.subs.notify(key)
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("kvstore watcher error", "err", err)
		}
	}
}
