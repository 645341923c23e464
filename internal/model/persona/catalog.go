package persona

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// catalogDocument is the on-disk shape of a catalog file.
type catalogDocument struct {
	Default       string        `yaml:"default" toml:"default"`
	Personalities []Personality `yaml:"personalities" toml:"personalities"`
}

// FileCatalog keeps the personality catalog in a file so registrations survive restarts.
// A ".toml" path is read and written as TOML, anything else as YAML.
type FileCatalog struct {
	Path string
}

// NewFileCatalog returns a catalog bound to path.
func NewFileCatalog(path string) *FileCatalog {
	return &FileCatalog{Path: path}
}

// Load reads the catalog. A missing file yields an error matching fs.ErrNotExist.
func (c *FileCatalog) Load() (string, []Personality, error) {
	raw, err := os.ReadFile(c.Path)
	if err != nil {
		return "", nil, fmt.Errorf("read catalog %s: %w", c.Path, err)
	}

	var doc catalogDocument
	if c.isTOML() {
		err = toml.Unmarshal(raw, &doc)
	} else {
		err = yaml.Unmarshal(raw, &doc)
	}
	if err != nil {
		return "", nil, fmt.Errorf("decode catalog %s: %w", c.Path, err)
	}
	if len(doc.Personalities) == 0 {
		return "", nil, fmt.Errorf("catalog %s has no personalities", c.Path)
	}
	return doc.Default, doc.Personalities, nil
}

// Save writes the catalog atomically via a temp file in the same directory.
func (c *FileCatalog) Save(defaultName string, items []Personality) error {
	doc := catalogDocument{Default: defaultName, Personalities: items}
	var (
		raw []byte
		err error
	)
	if c.isTOML() {
		raw, err = toml.Marshal(doc)
	} else {
		raw, err = yaml.Marshal(doc)
	}
	if err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}

	dir := filepath.Dir(c.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create catalog dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".catalog-*"+filepath.Ext(c.Path))
	if err != nil {
		return fmt.Errorf("create temp catalog: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp catalog: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp catalog: %w", err)
	}
	if err := os.Rename(tmpName, c.Path); err != nil {
		return fmt.Errorf("replace catalog: %w", err)
	}
	return nil
}

func (c *FileCatalog) isTOML() bool {
	return strings.EqualFold(filepath.Ext(c.Path), ".toml")
}

// OpenRegistry builds a Registry backed by the catalog file, seeding the file from seed when it
// does not exist yet. The file's own default wins over fallbackDefault when present.
func OpenRegistry(catalog *FileCatalog, seed []Personality, fallbackDefault string) (*Registry, error) {
	defaultName, items, err := catalog.Load()
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := catalog.Save(fallbackDefault, seed); err != nil {
			return nil, err
		}
		defaultName, items = fallbackDefault, seed
	case err != nil:
		return nil, err
	}

	if defaultName == "" {
		defaultName = fallbackDefault
	}
	return NewRegistry(items, defaultName, WithPersister(catalog))
}
