package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/synctab/synctab/internal/model"
)

// Store loads and saves the whole catalog.
type Store interface {
	Load(ctx context.Context) (model.Catalog, error)
	Save(ctx context.Context, c model.Catalog) error
}

// FileStore keeps the catalog in a single file. A .toml extension
// selects TOML, anything else is YAML.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) isTOML() bool {
	return strings.EqualFold(filepath.Ext(s.path), ".toml")
}

// Load returns an empty catalog if the file does not exist yet.
func (s *FileStore) Load(_ context.Context) (model.Catalog, error) {
	var c model.Catalog
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return c, fmt.Errorf("reading catalog: %w", err)
	}

	if s.isTOML() {
		err = toml.Unmarshal(b, &c)
	} else {
		err = yaml.Unmarshal(b, &c)
	}
	if err != nil {
		return model.Catalog{}, fmt.Errorf("decoding catalog %s: %w", s.path, err)
	}
	return c, nil
}

// Save writes to a temporary file renamed over the catalog, so readers
// never observe a partial file.
func (s *FileStore) Save(_ context.Context, c model.Catalog) error {
	var buf bytes.Buffer
	var err error
	if s.isTOML() {
		err = toml.NewEncoder(&buf).Encode(c)
	} else {
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		err = errors.Join(enc.Encode(c), enc.Close())
	}
	if err != nil {
		return fmt.Errorf("encoding catalog: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, ".catalog-*")
	if err != nil {
		return fmt.Errorf("creating catalog: %w", err)
	}
	defer func() {
		_ = os.Remove(f.Name())
	}()
	if _, err := f.Write(buf.Bytes()); err != nil {
		_ = f.Close()
		return fmt.Errorf("saving catalog: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing catalog: %w", err)
	}
	return os.Rename(f.Name(), s.path)
}

// MemoryStore keeps the last saved catalog in memory.
type MemoryStore struct {
	mx    sync.Mutex
	c     model.Catalog
	saves int
}

func NewMemoryStore(c model.Catalog) *MemoryStore {
	return &MemoryStore{c: c}
}

func (s *MemoryStore) Load(_ context.Context) (model.Catalog, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	return cloneCatalog(s.c), nil
}

func (s *MemoryStore) Save(_ context.Context, c model.Catalog) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.c = cloneCatalog(c)
	s.saves++
	return nil
}

// Saves returns how many times Save was called.
func (s *MemoryStore) Saves() int {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.saves
}

func cloneCatalog(c model.Catalog) model.Catalog {
	ret := model.Catalog{
		Jobs:  make([]model.Job, 0, len(c.Jobs)),
		Tasks: make([]model.Task, 0, len(c.Tasks)),
	}
	for _, j := range c.Jobs {
		ret.Jobs = append(ret.Jobs, j.Clone())
	}
	for _, t := range c.Tasks {
		ret.Tasks = append(ret.Tasks, t.Clone())
	}
	return ret
}
