// Package sendfile implements the zero-copy file transmission engine:
// an inline fast path looping the kernel sendfile(2) syscall, and a
// parked path that registers incomplete transfers with a dedicated
// write-readiness poller. Open file handles are shared through an LRU
// FileCache owned by the Engine.
package sendfile

import (
	"container/list"
	"os"
	"sync"
)

// FileCache is an LRU cache of open file handles so repeated sendfile
// jobs against the same path do not reopen it every time.
type FileCache struct {
	mu       sync.Mutex
	cache    map[string]*cacheEntry
	lru      *list.List
	maxFiles int
}

type cacheEntry struct {
	file    *os.File
	element *list.Element
}

// NewFileCache creates an LRU cache capped at maxFiles open handles.
func NewFileCache(maxFiles int) *FileCache {
	return &FileCache{
		cache:    make(map[string]*cacheEntry),
		lru:      list.New(),
		maxFiles: maxFiles,
	}
}

// Get returns the cached handle for path, opening and caching it if
// this is the first request.
func (fc *FileCache) Get(path string) (*os.File, error) {
	fc.mu.Lock()
	if entry, ok := fc.cache[path]; ok {
		fc.lru.MoveToFront(entry.element)
		fc.mu.Unlock()
		return entry.file, nil
	}
	fc.mu.Unlock()

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	fc.mu.Lock()
	defer fc.mu.Unlock()
	if entry, ok := fc.cache[path]; ok {
		// lost the race to another opener; keep theirs, close ours.
		file.Close()
		fc.lru.MoveToFront(entry.element)
		return entry.file, nil
	}
	element := fc.lru.PushFront(path)
	fc.cache[path] = &cacheEntry{file: file, element: element}
	if fc.lru.Len() > fc.maxFiles {
		oldest := fc.lru.Back()
		if oldest != nil {
			oldPath := oldest.Value.(string)
			if oldEntry, ok := fc.cache[oldPath]; ok {
				oldEntry.file.Close()
				delete(fc.cache, oldPath)
			}
			fc.lru.Remove(oldest)
		}
	}
	return file, nil
}

// Close releases every cached handle.
func (fc *FileCache) Close() {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	for _, entry := range fc.cache {
		entry.file.Close()
	}
	fc.cache = make(map[string]*cacheEntry)
	fc.lru.Init()
}
