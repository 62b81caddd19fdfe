package credsource

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/llmgate/llmgate/internal/observability"
)

// FileCache caches trimmed secret file contents and invalidates them
// when the file changes on disk, so rotated secrets are picked up
// without a restart.
type FileCache struct {
	mu      sync.RWMutex
	values  map[string]string
	watcher *fsnotify.Watcher
	logger  observability.Logger
	done    chan struct{}
}

// FileCacheOption is a functional option for the file cache.
type FileCacheOption func(*FileCache)

// WithFileCacheLogger sets the logger.
func WithFileCacheLogger(logger observability.Logger) FileCacheOption {
	return func(c *FileCache) {
		c.logger = logger
	}
}

// NewFileCache creates a file cache with a running change watcher.
func NewFileCache(opts ...FileCacheOption) (*FileCache, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	c := &FileCache{
		values:  make(map[string]string),
		watcher: watcher,
		logger:  observability.NopLogger(),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	go c.watch()
	return c, nil
}

// Get returns the trimmed content of path, reading it on a cache miss.
func (c *FileCache) Get(path string) (string, error) {
	c.mu.RLock()
	value, ok := c.values[path]
	c.mu.RUnlock()
	if ok {
		return value, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read secret file: %w", err)
	}
	value = strings.TrimSpace(string(data))

	c.mu.Lock()
	c.values[path] = value
	c.mu.Unlock()

	if err := c.watcher.Add(path); err != nil {
		// The next Get re-reads, so a missing watch only costs a read.
		c.logger.Warn("failed to watch secret file",
			observability.String("path", path),
			observability.Error(err),
		)
		c.Invalidate(path)
	}
	return value, nil
}

// Invalidate drops the cached value of path.
func (c *FileCache) Invalidate(path string) {
	c.mu.Lock()
	delete(c.values, path)
	c.mu.Unlock()
}

func (c *FileCache) watch() {
	for {
		select {
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename|fsnotify.Create) != 0 {
				c.logger.Info("secret file changed",
					observability.String("path", event.Name),
					observability.String("op", event.Op.String()),
				)
				c.Invalidate(event.Name)
			}
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.logger.Warn("secret file watcher error", observability.Error(err))
		case <-c.done:
			return
		}
	}
}

// Close stops the watcher.
func (c *FileCache) Close() error {
	close(c.done)
	return c.watcher.Close()
}
