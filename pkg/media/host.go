package media

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FileStore hosts files in memory and serves them over HTTP. The gateway
// mounts it under /files/.
type FileStore struct {
	baseURL string
	ttl     time.Duration
	now     func() time.Time

	mu    sync.Mutex
	files map[string]storedFile
}

type storedFile struct {
	data    []byte
	created time.Time
}

// NewFileStore serves files under baseURL + "/files/". Files older than ttl
// are dropped; zero keeps them until the process exits.
func NewFileStore(baseURL string, ttl time.Duration) *FileStore {
	return &FileStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		ttl:     ttl,
		now:     time.Now,
		files:   make(map[string]storedFile),
	}
}

func (s *FileStore) FileToURL(_ context.Context, name string, data []byte) (string, error) {
	if s.baseURL == "" {
		return "", fmt.Errorf("file store has no public url")
	}
	id := uuid.NewString() + path.Ext(name)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	s.files[id] = storedFile{data: data, created: s.now()}
	return s.baseURL + "/files/" + id, nil
}

func (s *FileStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := path.Base(r.URL.Path)

	s.mu.Lock()
	f, ok := s.files[id]
	if ok && s.expired(f) {
		delete(s.files, id)
		ok = false
	}
	s.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(f.data))
	_, _ = w.Write(f.data)
}

func (s *FileStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.files)
}

func (s *FileStore) expired(f storedFile) bool {
	return s.ttl > 0 && s.now().Sub(f.created) > s.ttl
}

func (s *FileStore) sweepLocked() {
	if s.ttl <= 0 {
		return
	}
	for id, f := range s.files {
		if s.expired(f) {
			delete(s.files, id)
		}
	}
}
