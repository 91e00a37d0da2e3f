// Package knowledge holds the read-only snippet corpus used to enrich
// prompts. The corpus is built once at process start and injected where
// needed; there is no lazy global state.
package knowledge

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Corpus maps account categories to marketing/knowledge snippets. Reads are
// lock-free copies; Reload swaps the whole map.
type Corpus struct {
	dir string

	mu         sync.RWMutex
	byCategory map[string][]string

	watcher *fsnotify.Watcher
	done    chan struct{}
}

type snippetFile struct {
	Category string   `yaml:"category"`
	Snippets []string `yaml:"snippets"`
}

// Load reads every .yaml/.yml file in dir into a corpus. A missing
// directory yields an empty corpus, not an error: prompts degrade
// gracefully without knowledge snippets.
func Load(dir string) (*Corpus, error) {
	c := &Corpus{
		dir:        dir,
		byCategory: make(map[string][]string),
		done:       make(chan struct{}),
	}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload re-reads the snippet directory and atomically replaces the corpus.
func (c *Corpus) Reload() error {
	entries, err := os.ReadDir(c.dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read knowledge dir: %w", err)
	}

	byCategory := make(map[string][]string)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || (!strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml")) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(c.dir, name))
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", name, err)
		}
		var file snippetFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return fmt.Errorf("failed to parse %s: %w", name, err)
		}
		if file.Category == "" {
			file.Category = strings.TrimSuffix(strings.TrimSuffix(name, ".yaml"), ".yml")
		}
		for _, s := range file.Snippets {
			if s = strings.TrimSpace(s); s != "" {
				byCategory[file.Category] = append(byCategory[file.Category], s)
			}
		}
	}

	c.mu.Lock()
	c.byCategory = byCategory
	c.mu.Unlock()
	return nil
}

// Snippets returns up to n snippets for a category. n <= 0 returns all.
func (c *Corpus) Snippets(category string, n int) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	all := c.byCategory[category]
	if n <= 0 || n > len(all) {
		n = len(all)
	}
	out := make([]string, n)
	copy(out, all[:n])
	return out
}

// Categories lists the loaded categories.
func (c *Corpus) Categories() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cats := make([]string, 0, len(c.byCategory))
	for cat := range c.byCategory {
		cats = append(cats, cat)
	}
	return cats
}

// Watch reloads the corpus whenever files in the snippet directory change.
func (c *Corpus) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(c.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", c.dir, err)
	}
	c.watcher = watcher

	go func() {
		for {
			select {
			case <-c.done:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if err := c.Reload(); err != nil {
					log.Printf("[Knowledge] reload failed after %s: %v", event.Name, err)
				} else {
					log.Printf("[Knowledge] reloaded corpus after change to %s", event.Name)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[Knowledge] watcher error: %v", err)
			}
		}
	}()
	return nil
}

// Close stops the watcher, if running.
func (c *Corpus) Close() error {
	close(c.done)
	if c.watcher != nil {
		return c.watcher.Close()
	}
	return nil
}
