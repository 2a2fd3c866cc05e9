// Package skills loads reusable capability documents: markdown files with a
// YAML frontmatter header, gathered from the global skills directory and the
// bot's own. Skill bodies are injected into the prompt each iteration.
package skills

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var frontmatterFence = []byte("---")

// Skill is one loaded capability document.
type Skill struct {
	Name        string
	Description string
	Body        string
	Path        string
}

type frontmatter struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// Parse reads a skill file's contents. Frontmatter is optional; without it
// the skill is named after the file.
func Parse(path string, data []byte) (Skill, error) {
	s := Skill{
		Name: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Path: path,
	}

	body := data
	if bytes.HasPrefix(data, frontmatterFence) {
		rest := data[len(frontmatterFence):]
		idx := bytes.Index(rest, append([]byte("\n"), frontmatterFence...))
		if idx < 0 {
			return Skill{}, fmt.Errorf("%s: unterminated frontmatter", path)
		}
		var fm frontmatter
		if err := yaml.Unmarshal(rest[:idx], &fm); err != nil {
			return Skill{}, fmt.Errorf("%s: parsing frontmatter: %w", path, err)
		}
		if fm.Name != "" {
			s.Name = fm.Name
		}
		s.Description = fm.Description

		body = rest[idx+1+len(frontmatterFence):]
		if nl := bytes.IndexByte(body, '\n'); nl >= 0 {
			body = body[nl+1:]
		} else {
			body = nil
		}
	}

	s.Body = strings.TrimSpace(string(body))
	return s, nil
}

// Loader scans skill directories and caches the result. When watching is
// active, directories are only re-read after the filesystem reports a
// change, so the per-iteration reload stays cheap.
type Loader struct {
	dirs   []string
	logger *zap.Logger

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	watching bool
	dirty    bool
	cached   []Skill
}

// NewLoader builds a loader over the given directories. Earlier directories
// take precedence on name collisions.
func NewLoader(dirs []string, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{dirs: dirs, logger: logger, dirty: true}
}

// Watch starts filesystem monitoring. Without it every Load rescans.
func (l *Loader) Watch() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.watcher != nil {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("starting skills watcher: %w", err)
	}

	watchedAll := true
	for _, dir := range l.dirs {
		if err := w.Add(dir); err != nil {
			// Directory may not exist yet; fall back to rescanning.
			l.logger.Debug("skills dir not watchable", zap.String("dir", dir), zap.Error(err))
			watchedAll = false
		}
	}

	l.watcher = w
	l.watching = watchedAll
	go l.run(w)
	return nil
}

func (l *Loader) run(w *fsnotify.Watcher) {
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			l.logger.Debug("skills changed", zap.String("path", ev.Name))
			l.mu.Lock()
			l.dirty = true
			l.mu.Unlock()
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			l.logger.Warn("skills watcher error", zap.Error(err))
		}
	}
}

// Close stops the watcher.
func (l *Loader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.watcher == nil {
		return nil
	}
	err := l.watcher.Close()
	l.watcher = nil
	l.watching = false
	return err
}

// Load returns all skills, sorted by name. Files that fail to parse are
// skipped with a warning rather than failing the run.
func (l *Loader) Load() []Skill {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.watching && !l.dirty {
		return l.cached
	}
	l.dirty = false
	l.cached = l.scan()
	return l.cached
}

func (l *Loader) scan() []Skill {
	seen := map[string]bool{}
	var out []Skill

	for _, dir := range l.dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if !os.IsNotExist(err) {
				l.logger.Warn("reading skills dir", zap.String("dir", dir), zap.Error(err))
			}
			continue
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
				continue
			}
			path := filepath.Join(dir, e.Name())
			data, err := os.ReadFile(path)
			if err != nil {
				l.logger.Warn("reading skill", zap.String("path", path), zap.Error(err))
				continue
			}
			skill, err := Parse(path, data)
			if err != nil {
				l.logger.Warn("skipping invalid skill", zap.Error(err))
				continue
			}
			if seen[skill.Name] {
				continue
			}
			seen[skill.Name] = true
			out = append(out, skill)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
