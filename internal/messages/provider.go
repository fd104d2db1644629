// Package messages supplies the outreach message text. Templates live in a
// flat file, one message per line; blank lines and #-comments are ignored.
// The file is watched and reloaded on change so operators can rotate copy
// without restarting the engine.
package messages

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 250 * time.Millisecond

// Provider hands out a randomly chosen message template per send
type Provider struct {
	path   string
	logger *slog.Logger

	mu        sync.RWMutex
	templates []string

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewProvider loads the template file at path. The file must exist and
// contain at least one non-empty template.
func NewProvider(path string, logger *slog.Logger) (*Provider, error) {
	p := &Provider{
		path:   path,
		logger: logger,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if err := p.reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// Pick returns one template chosen uniformly at random
func (p *Provider) Pick() string {
	p.mu.RLock()
	templates := p.templates
	p.mu.RUnlock()

	p.rngMu.Lock()
	defer p.rngMu.Unlock()
	return templates[p.rng.Intn(len(templates))]
}

// Count returns the number of loaded templates
func (p *Provider) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.templates)
}

func (p *Provider) reload() error {
	f, err := os.Open(p.path)
	if err != nil {
		return fmt.Errorf("open message templates: %w", err)
	}
	defer f.Close()

	var templates []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		templates = append(templates, line)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read message templates: %w", err)
	}
	if len(templates) == 0 {
		return fmt.Errorf("message template file %s contains no templates", p.path)
	}

	p.mu.Lock()
	p.templates = templates
	p.mu.Unlock()

	p.logger.Info("message templates loaded", "path", p.path, "count", len(templates))
	return nil
}

// Watch reloads the template file when it changes on disk. The parent
// directory is watched rather than the file itself so editor save patterns
// (rename-over, truncate-and-write) are still observed. A failed reload
// keeps the previous template set. Blocks until ctx is cancelled.
func (p *Provider) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create template watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(p.path)
	base := filepath.Base(p.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch template dir %s: %w", dir, err)
	}
	p.logger.Debug("template watcher started", "dir", dir, "file", base)

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	// debounce so partial writes don't trigger a reload mid-save
	schedule := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(reloadDebounce, func() {
			if err := p.reload(); err != nil {
				p.logger.Warn("template reload failed, keeping previous set", "error", err)
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				schedule()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			p.logger.Warn("template watcher error", "error", err)
		}
	}
}
