package identity

import (
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var anonymousIDPattern = regexp.MustCompile(`^anon_\d+_[0-9a-f]{9}$`)

func TestNewAnonymousIDFormat(t *testing.T) {
	now := time.UnixMilli(1700000000123)

	id := NewAnonymousID(now)

	assert.Regexp(t, anonymousIDPattern, id)
	assert.Contains(t, id, "_1700000000123_")
	assert.NotEqual(t, id, NewAnonymousID(now))
}

func TestMemoryStoreReturnsSameID(t *testing.T) {
	s := NewMemoryStore()

	first, err := s.GetOrCreate(ANONYMOUS_ID_KEY)
	require.NoError(t, err)

	second, err := s.GetOrCreate(ANONYMOUS_ID_KEY)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Regexp(t, anonymousIDPattern, first)
}

func TestMemoryStoreKeysAreIndependent(t *testing.T) {
	s := NewMemoryStore()

	a, _ := s.GetOrCreate("a")
	b, _ := s.GetOrCreate("b")

	assert.NotEqual(t, a, b)
}

func TestBadgerStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := OpenBadgerStore(dir)
	require.NoError(t, err)

	first, err := s.GetOrCreate(ANONYMOUS_ID_KEY)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = OpenBadgerStore(dir)
	require.NoError(t, err)
	defer s.Close()

	second, err := s.GetOrCreate(ANONYMOUS_ID_KEY)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestBadgerStoreConcurrentFirstUseGeneratesOnce(t *testing.T) {
	s, err := OpenBadgerStore("")
	require.NoError(t, err)
	defer s.Close()

	var generated atomic.Int32
	s.WithGenerator(func() string {
		generated.Add(1)
		return NewAnonymousID(time.Now())
	})

	var wg sync.WaitGroup
	ids := make([]string, 16)

	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], _ = s.GetOrCreate(ANONYMOUS_ID_KEY)
		}(i)
	}

	wg.Wait()

	assert.Equal(t, int32(1), generated.Load())
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestBadgerStoreClosedDatabaseFails(t *testing.T) {
	s, err := OpenBadgerStore("")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.GetOrCreate(ANONYMOUS_ID_KEY)
	assert.Error(t, err)
}
