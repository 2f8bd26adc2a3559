package streams

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pelletier/go-toml/v2"
)

// StoredStream is a persisted stream definition restarted on service
// startup.
type StoredStream struct {
	Source          string `toml:"source"`
	LifetimeMinutes int    `toml:"lifetime_minutes"`
}

// storeFile is the on-disk layout of the streams store.
type storeFile struct {
	Version int                     `toml:"version"`
	Streams map[string]StoredStream `toml:"streams"`
}

// TOMLRepository persists stream definitions to a TOML file so streams
// started with persist=true survive a service restart.
type TOMLRepository struct {
	mu   sync.Mutex
	path string
	file storeFile
}

// NewTOMLRepository creates a repository backed by the given file path.
func NewTOMLRepository(path string) *TOMLRepository {
	if path == "" {
		path = "streams.toml"
	}
	return &TOMLRepository{
		path: path,
		file: storeFile{
			Version: 1,
			Streams: make(map[string]StoredStream),
		},
	}
}

// Load reads the store from disk. A missing file is an empty store.
func (r *TOMLRepository) Load() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read streams store: %w", err)
	}

	if err := toml.Unmarshal(data, &r.file); err != nil {
		return fmt.Errorf("parse streams store: %w", err)
	}
	if r.file.Streams == nil {
		r.file.Streams = make(map[string]StoredStream)
	}
	if r.file.Version == 0 {
		r.file.Version = 1
	}
	return nil
}

// All returns the persisted stream definitions keyed by stream ID.
func (r *TOMLRepository) All() map[string]StoredStream {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]StoredStream, len(r.file.Streams))
	for id, def := range r.file.Streams {
		out[id] = def
	}
	return out
}

// Put stores a stream definition and writes the file.
func (r *TOMLRepository) Put(id string, def StoredStream) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.file.Streams[id] = def
	return r.save()
}

// Delete removes a stream definition and writes the file. Deleting an
// unknown ID is a no-op.
func (r *TOMLRepository) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.file.Streams[id]; !ok {
		return nil
	}
	delete(r.file.Streams, id)
	return r.save()
}

// save writes the store; callers hold the mutex.
func (r *TOMLRepository) save() error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}

	data, err := toml.Marshal(r.file)
	if err != nil {
		return fmt.Errorf("marshal streams store: %w", err)
	}
	if err := os.WriteFile(r.path, data, 0644); err != nil {
		return fmt.Errorf("write streams store: %w", err)
	}
	return nil
}
