// Package identity resolves the anonymous id an emitter stamps on every
// event. The id is created on first use and reused for as long as the
// backing store keeps it.
package identity

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	ANONYMOUS_ID_KEY = "analytics_anonymous_id"

	anonymousIDPrefix   = "anon_"
	anonymousIDFragment = 9
)

// Store is a key/value store that returns the value held for key, creating
// and persisting a fresh anonymous id first when there is none.
type Store interface {
	GetOrCreate(key string) (string, error)
}

type IDGenerator func() string

// NewAnonymousID builds an id of the form anon_<unix millis>_<fragment>.
func NewAnonymousID(now time.Time) string {
	fragment := strings.ReplaceAll(uuid.NewString(), "-", "")[:anonymousIDFragment]

	return fmt.Sprintf("%s%d_%s", anonymousIDPrefix, now.UnixMilli(), fragment)
}

func defaultGenerator() string {
	return NewAnonymousID(time.Now())
}

// MemoryStore keeps ids for the life of the process only.
type MemoryStore struct {
	mu       sync.Mutex
	values   map[string]string
	generate IDGenerator
}

func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithGenerator(defaultGenerator)
}

func NewMemoryStoreWithGenerator(generate IDGenerator) *MemoryStore {
	return &MemoryStore{
		values:   map[string]string{},
		generate: generate,
	}
}

func (s *MemoryStore) GetOrCreate(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.values[key]; ok && id != "" {
		return id, nil
	}

	id := s.generate()
	s.values[key] = id

	return id, nil
}
