package workload

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager() *Manager {
	return NewManager(nil, "", 10000, "")
}

func TestGetVersionHashPrefersETag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"abc123"`)
		w.Header().Set("Last-Modified", "Mon, 01 Jan 2024 00:00:00 GMT")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := newTestManager()
	hash1, err := m.getVersionHash(srv.URL)
	require.NoError(t, err)
	assert.Len(t, hash1, 16) // 8 bytes hex-encoded
	etagSum := sha256.Sum256([]byte(`etag:"abc123"`))
	assert.Equal(t, hex.EncodeToString(etagSum[:8]), hash1)

	hash2, err := m.getVersionHash(srv.URL)
	require.NoError(t, err)
	assert.Equal(t, hash1, hash2)
}

func TestGetVersionHashChangesWithETag(t *testing.T) {
	etag := "v1"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := newTestManager()
	hash1, err := m.getVersionHash(srv.URL)
	require.NoError(t, err)

	// Force cache expiry and change the served ETag.
	m.versionCacheMutex.Lock()
	delete(m.versionCache, srv.URL)
	m.versionCacheMutex.Unlock()
	etag = "v2"

	hash2, err := m.getVersionHash(srv.URL)
	require.NoError(t, err)
	assert.NotEqual(t, hash1, hash2)
}

func TestGetVersionHashCacheExpiry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("ETag", "fixed")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := newTestManager()
	m.versionCacheTTL = 10 * time.Millisecond

	_, err := m.getVersionHash(srv.URL)
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))

	// Still within TTL: cached.
	_, err = m.getVersionHash(srv.URL)
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))

	time.Sleep(20 * time.Millisecond)

	_, err = m.getVersionHash(srv.URL)
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestGetVersionHashFallsBackThroughPriority(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "42")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := newTestManager()
	hash, err := m.getVersionHash(srv.URL)
	require.NoError(t, err)
	assert.Len(t, hash, 16)
	sizeSum := sha256.Sum256([]byte("size:42"))
	assert.Equal(t, hex.EncodeToString(sizeSum[:8]), hash)
}

func TestGetVersionHashNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	m := newTestManager()
	_, err := m.getVersionHash(srv.URL)
	assert.Error(t, err)
}

func TestGetVersionHashSingleFlight(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		<-release
		w.Header().Set("ETag", "concurrent")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := newTestManager()

	const n = 5
	results := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = m.getVersionHash(srv.URL)
		}(i)
	}

	// Give every goroutine a chance to reach the HEAD request before releasing it.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&calls), "only one HEAD request should have been made")
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0], results[i])
	}
}
