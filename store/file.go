package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/golang/glog"
)

// FileStore keeps the whole document in a single JSON file. Every
// mutation rewrites the full file. A mutex makes each View/Update cycle
// atomic with respect to the others; without it two interleaved
// load-mutate-save cycles could silently drop one side's write.
type FileStore struct {
	sync.Mutex
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) View(ctx context.Context, fn func(doc *Document) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.Lock()
	defer s.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	return fn(doc)
}

func (s *FileStore) Update(ctx context.Context, fn func(doc *Document) (bool, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.Lock()
	defer s.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}

	changed, err := fn(doc)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	return s.save(doc)
}

func (s *FileStore) Close() error {
	return nil
}

// load reads and parses the document, creating an empty one on first use.
func (s *FileStore) load() (*Document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			doc := &Document{Users: []*User{}, Messages: []*Message{}}
			if err := s.save(doc); err != nil {
				return nil, err
			}
			glog.Infof("file store: created empty document at %s", s.path)
			return doc, nil
		}
		return nil, fmt.Errorf("%w: read %s: %v", ErrStorageUnavailable, s.path, err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrCorruptState, s.path, err)
	}
	return &doc, nil
}

// save writes to a temp file then renames, so a crash mid-write cannot
// leave a truncated document behind.
func (s *FileStore) save(doc *Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal: %v", ErrStorageUnavailable, err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0750); err != nil {
		return fmt.Errorf("%w: mkdir: %v", ErrStorageUnavailable, err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrStorageUnavailable, tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("%w: rename %s: %v", ErrStorageUnavailable, s.path, err)
	}
	return nil
}
