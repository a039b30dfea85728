package lexicon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// File is the on-disk YAML form of a lexicon.
type File struct {
	FlaggedTerms   []string `yaml:"flaggedTerms"`
	ProtectedNames []string `yaml:"protectedNames"`
	Friendly       []string `yaml:"friendly,omitempty"`
	Hostile        []string `yaml:"hostile,omitempty"`
	Negative       []string `yaml:"negative,omitempty"`
	Questions      []string `yaml:"questions,omitempty"`
}

// LoadFile reads a lexicon file. A missing file yields os.ErrNotExist.
func LoadFile(path string) (File, error) {
	var f File
	data, err := os.ReadFile(path)
	if err != nil {
		return f, err
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("parse lexicon %s: %w", path, err)
	}
	return f, nil
}

// SaveFile writes f to path, creating the parent directory.
func SaveFile(path string, f File) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create lexicon dir: %w", err)
	}
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal lexicon: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write lexicon: %w", err)
	}
	return os.Rename(tmp, path)
}

// Load builds a lexicon from path, falling back to the defaults when the
// file does not exist.
func Load(path string, protected ...string) (*Lexicon, error) {
	if path == "" {
		return Default(protected...), nil
	}
	f, err := LoadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(protected...), nil
	}
	if err != nil {
		return nil, err
	}
	f.ProtectedNames = append(f.ProtectedNames, protected...)
	return New(f), nil
}

// Save persists the current contents of l to path.
func (l *Lexicon) Save(path string) error {
	if path == "" {
		return nil
	}
	return SaveFile(path, l.Export())
}

// Watch reloads l whenever the file at path changes. It blocks until ctx is
// cancelled. Parse errors keep the previous contents.
func (l *Lexicon) Watch(ctx context.Context, path string, logger *zap.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Editors replace files by rename, so watch the directory.
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create lexicon dir: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			f, err := LoadFile(path)
			if err != nil {
				logger.Warn("lexicon reload failed", zap.String("path", path), zap.Error(err))
				continue
			}
			l.Replace(f)
			logger.Info("lexicon reloaded",
				zap.Int("flagged", len(f.FlaggedTerms)),
				zap.Int("protected", len(f.ProtectedNames)))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("lexicon watcher error", zap.Error(err))
		}
	}
}
