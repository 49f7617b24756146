package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bull/irb-compliance/internal/storage"
)

// DirSource reads .txt and .md files from a local directory. Subdirectories
// are not traversed.
type DirSource struct {
	dir string
}

// NewDirSource creates a source over dir.
func NewDirSource(dir string) *DirSource {
	return &DirSource{dir: dir}
}

func (s *DirSource) Name() string {
	return "dir:" + s.dir
}

// List returns the supported file names in lexical order.
func (s *DirSource) List(context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !supported(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Load reads one file. The file name is both the document ID and title.
func (s *DirSource) Load(_ context.Context, name string) (storage.Document, error) {
	if name != filepath.Base(name) {
		return storage.Document{}, fmt.Errorf("invalid document name %q", name)
	}
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return storage.Document{}, fmt.Errorf("read %s: %w", name, err)
	}
	return storage.Document{
		ID:      name,
		Content: string(data),
		Metadata: storage.DocumentMetadata{
			Title:      name,
			Attributes: map[string]string{"source": "file"},
		},
	}, nil
}

func supported(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt", ".md":
		return true
	}
	return false
}
