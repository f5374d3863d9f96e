package metastore

import (
	"context"
	"os"
	"sync"

	"github.com/goccy/go-yaml"
	"github.com/google/renameio"
)

// fileData is the on-disk shape of a FileStore: the same two tables a real
// metadata store exposes, serialized as YAML.
type fileData struct {
	Queries    []QueryDefinition `yaml:"queries"`
	Connectors []ConnectorConfig `yaml:"connectors"`
}

// FileStore persists queries and connectors in a single YAML file,
// atomically rewritten on every Put: read once at construction,
// rewrite-whole-file on update. It exists so the gateway runs end to end
// without a live Supabase project, for local development.
type FileStore struct {
	path string
	mu   sync.RWMutex
	data fileData
}

// NewFileStore loads (or initializes) a FileStore backed by path.
func NewFileStore(path string) (*FileStore, error) {
	data := fileData{}

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(raw, &data); err != nil {
			return nil, err
		}
	}

	return &FileStore{path: path, data: data}, nil
}

func (s *FileStore) Query(ctx context.Context, id string) (*QueryDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.data.Queries {
		if s.data.Queries[i].ID == id {
			q := s.data.Queries[i]
			return &q, nil
		}
	}
	return nil, ErrNotFound
}

func (s *FileStore) Connector(ctx context.Context, id string) (*ConnectorConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.data.Connectors {
		if s.data.Connectors[i].ID == id {
			c := s.data.Connectors[i]
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

// PutQuery upserts a query definition and atomically rewrites the backing
// file.
func (s *FileStore) PutQuery(q QueryDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.data.Queries {
		if s.data.Queries[i].ID == q.ID {
			s.data.Queries[i] = q
			return s.persist()
		}
	}
	s.data.Queries = append(s.data.Queries, q)
	return s.persist()
}

// PutConnector upserts a connector config and atomically rewrites the
// backing file.
func (s *FileStore) PutConnector(c ConnectorConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.data.Connectors {
		if s.data.Connectors[i].ID == c.ID {
			s.data.Connectors[i] = c
			return s.persist()
		}
	}
	s.data.Connectors = append(s.data.Connectors, c)
	return s.persist()
}

// persist must be called with s.mu held for writing.
func (s *FileStore) persist() error {
	raw, err := yaml.Marshal(s.data)
	if err != nil {
		return err
	}
	return renameio.WriteFile(s.path, raw, 0o600)
}
