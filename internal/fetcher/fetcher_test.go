package fetcher

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newRecordingFetcher returns a fetcher whose sleeps are recorded instead of
// executed, so backoff behavior can be asserted without waiting.
func newRecordingFetcher(maxRetries int) (*ImageFetcher, *[]time.Duration) {
	f := New(nil, 0, maxRetries)
	var sleeps []time.Duration
	f.sleep = func(d time.Duration) { sleeps = append(sleeps, d) }
	return f, &sleeps
}

func TestDownloadImageSuccess(t *testing.T) {
	body := []byte("jpeg payload")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	f, _ := newRecordingFetcher(5)
	data, err := f.DownloadImage(srv.URL + "/image.jpg")
	require.NoError(t, err)
	assert.Equal(t, body, data)
}

func TestDownloadImage404IsTerminal(t *testing.T) {
	var requests int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&requests, 1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f, sleeps := newRecordingFetcher(5)
	data, err := f.DownloadImage(srv.URL + "/missing.jpg")

	assert.Nil(t, data)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "404")
	// Exactly one HTTP request, no retries, no backoff sleeps.
	assert.Equal(t, int64(1), atomic.LoadInt64(&requests))
	assert.Empty(t, *sleeps)
}

func TestDownloadImageRetriesTransientThenSucceeds(t *testing.T) {
	var requests int64
	body := []byte("eventually fine")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&requests, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write(body)
	}))
	defer srv.Close()

	f, sleeps := newRecordingFetcher(5)
	data, err := f.DownloadImage(srv.URL + "/flaky.jpg")

	require.NoError(t, err)
	assert.Equal(t, body, data)
	assert.Equal(t, int64(3), atomic.LoadInt64(&requests))
	// Backoff between the two failures: 2^0 then 2^1 seconds.
	assert.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second}, *sleeps)
}

func TestDownloadImageBackoffBound(t *testing.T) {
	var requests int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&requests, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f, sleeps := newRecordingFetcher(5)
	_, err := f.DownloadImage(srv.URL + "/broken.jpg")

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrHTTPStatus))
	assert.Equal(t, int64(5), atomic.LoadInt64(&requests))

	// 4 backoff sleeps between 5 attempts: 1+2+4+8 seconds.
	require.Len(t, *sleeps, 4)
	var total time.Duration
	for _, d := range *sleeps {
		assert.LessOrEqual(t, d, maxBackoff)
		total += d
	}
	assert.GreaterOrEqual(t, total, 15*time.Second)
}

func TestBackoffDelayCap(t *testing.T) {
	assert.Equal(t, 1*time.Second, backoffDelay(0))
	assert.Equal(t, 8*time.Second, backoffDelay(3))
	assert.Equal(t, 32*time.Second, backoffDelay(5))
	assert.Equal(t, maxBackoff, backoffDelay(6))
	assert.Equal(t, maxBackoff, backoffDelay(20))
}

func TestDownloadImageConnectionErrorExhaustsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL + "/gone.jpg"
	srv.Close() // connection refused from here on

	f, sleeps := newRecordingFetcher(3)
	_, err := f.DownloadImage(url)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRequest))
	assert.Len(t, *sleeps, 2)
}

func TestDownloadImageMalformedURLNoRetry(t *testing.T) {
	f, sleeps := newRecordingFetcher(5)
	_, err := f.DownloadImage("http://%zz-not-a-url")

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRequest))
	assert.Empty(t, *sleeps)
}

func TestCheckImageExists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodHead, r.Method)
		if r.URL.Path == "/there.jpg" {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f, _ := newRecordingFetcher(5)
	assert.True(t, f.CheckImageExists(srv.URL+"/there.jpg"))
	assert.False(t, f.CheckImageExists(srv.URL+"/absent.jpg"))
	// Unreachable host is absence, never an error.
	assert.False(t, f.CheckImageExists("http://127.0.0.1:1/x.jpg"))
}

func TestImageSize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/sized.jpg" {
			w.Header().Set("Content-Length", "1234")
			w.WriteHeader(http.StatusOK)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f, _ := newRecordingFetcher(5)

	size, ok := f.ImageSize(srv.URL + "/sized.jpg")
	require.True(t, ok)
	assert.Equal(t, int64(1234), size)

	_, ok = f.ImageSize(srv.URL + "/absent.jpg")
	assert.False(t, ok)
}

func TestRateLimitSharedClock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := New(nil, 500*time.Millisecond, 5)
	var sleeps []time.Duration
	f.sleep = func(d time.Duration) { sleeps = append(sleeps, d) }

	// First request pays nothing; GET then HEAD share the same clock, so the
	// probe right after a download must wait out the remaining delta.
	_, err := f.DownloadImage(srv.URL + "/a.jpg")
	require.NoError(t, err)
	f.CheckImageExists(srv.URL + "/b.jpg")

	require.Len(t, sleeps, 1)
	assert.Greater(t, sleeps[0], time.Duration(0))
	assert.LessOrEqual(t, sleeps[0], 500*time.Millisecond)
}
