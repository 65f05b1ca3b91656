// Package fetcher is the low-level HTTP layer: single-URL byte fetches with
// a shared rate limiter, retry with capped exponential backoff, and HEAD
// probes for existence/size checks.
package fetcher

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Custom fetcher errors. Callers discriminate with errors.Is: ErrNotFound is
// definitive absence (never worth retrying at a higher level within the same
// sweep), ErrHTTPStatus and ErrRequest are transient and may succeed on a
// later monitoring cycle.
var (
	ErrNotFound   = errors.New("image not found (404)")
	ErrHTTPStatus = errors.New("unexpected HTTP status code")
	ErrRequest    = errors.New("HTTP request creation/execution error")
)

const (
	getTimeout  = 30 * time.Second
	headTimeout = 10 * time.Second

	// DefaultMaxRetries bounds download attempts per URL.
	DefaultMaxRetries = 5

	maxBackoff = 60 * time.Second
)

// ImageFetcher downloads image bytes with politeness and resilience. All
// requests issued through one fetcher — GETs, HEADs and retries alike —
// share a single rate-limit clock.
type ImageFetcher struct {
	client     *http.Client
	headClient *http.Client

	rateLimitDelay time.Duration
	maxRetries     int

	mu              sync.Mutex
	lastRequestTime time.Time

	// sleep is swapped out by tests to observe backoff without waiting.
	sleep func(time.Duration)
}

// New creates an ImageFetcher. A nil client gets a default with the standard
// GET timeout; maxRetries <= 0 falls back to DefaultMaxRetries.
func New(client *http.Client, rateLimitDelay time.Duration, maxRetries int) *ImageFetcher {
	if client == nil {
		client = &http.Client{Timeout: getTimeout}
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &ImageFetcher{
		client:         client,
		headClient:     &http.Client{Timeout: headTimeout, Transport: client.Transport},
		rateLimitDelay: rateLimitDelay,
		maxRetries:     maxRetries,
		sleep:          time.Sleep,
	}
}

// enforceRateLimit sleeps whatever remains of rateLimitDelay since the last
// request issued through this fetcher. The mutex is held across the sleep so
// concurrent callers are serialized against the same clock.
func (f *ImageFetcher) enforceRateLimit() {
	f.mu.Lock()
	defer f.mu.Unlock()

	sinceLast := time.Since(f.lastRequestTime)
	if sinceLast < f.rateLimitDelay {
		wait := f.rateLimitDelay - sinceLast
		log.Debugf("Rate limiting: sleeping for %v", wait)
		f.sleep(wait)
	}
	f.lastRequestTime = time.Now()
}

// backoffDelay is min(2^attempt, 60s) for a 0-based attempt number.
func backoffDelay(attempt int) time.Duration {
	d := time.Duration(1<<uint(attempt)) * time.Second
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// DownloadImage fetches the raw bytes at url with retry logic.
//   - 200: bytes returned immediately.
//   - 404: terminal, exactly one request, ErrNotFound.
//   - Other statuses and transport errors: retried with capped exponential
//     backoff until maxRetries attempts are spent, then ErrHTTPStatus or
//     ErrRequest with the last failure.
//
// A request that cannot even be constructed aborts without retrying; that is
// a caller bug, not an operational condition.
func (f *ImageFetcher) DownloadImage(url string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: creating request for %s: %v", ErrRequest, url, err)
	}

	f.enforceRateLimit()

	var lastErr error
	for attempt := 0; attempt < f.maxRetries; attempt++ {
		log.Debugf("Downloading %s (attempt %d/%d)", url, attempt+1, f.maxRetries)

		resp, err := f.client.Do(req)
		if err != nil {
			// Timeout or connection failure; transient.
			lastErr = fmt.Errorf("%w: performing request for %s: %v", ErrRequest, url, err)
			log.WithError(err).Warnf("Request failed for %s", url)
			if attempt < f.maxRetries-1 {
				delay := backoffDelay(attempt)
				log.Infof("Retrying in %v...", delay)
				f.sleep(delay)
				continue
			}
			return nil, lastErr
		}

		switch resp.StatusCode {
		case http.StatusOK:
			data, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			if readErr != nil {
				lastErr = fmt.Errorf("%w: reading body from %s: %v", ErrRequest, url, readErr)
				log.WithError(readErr).Warnf("Body read failed for %s", url)
				if attempt < f.maxRetries-1 {
					f.sleep(backoffDelay(attempt))
					continue
				}
				return nil, lastErr
			}
			log.Infof("Successfully downloaded: %s", url)
			return data, nil

		case http.StatusNotFound:
			// The image simply doesn't exist; never retried.
			resp.Body.Close()
			log.Debugf("Image not found (404): %s", url)
			return nil, fmt.Errorf("%w: %s", ErrNotFound, url)

		default:
			resp.Body.Close()
			lastErr = fmt.Errorf("%w: received status %d from %s", ErrHTTPStatus, resp.StatusCode, url)
			log.Warnf("HTTP %d: %s", resp.StatusCode, url)
			if attempt < f.maxRetries-1 {
				delay := backoffDelay(attempt)
				log.Infof("Retrying in %v...", delay)
				f.sleep(delay)
				continue
			}
			return nil, lastErr
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("%w: max retries exceeded for %s", ErrRequest, url)
	}
	return nil, lastErr
}

// CheckImageExists issues a HEAD request; true iff the status is 200. Any
// failure is swallowed and reported as absence — this probe never errors.
func (f *ImageFetcher) CheckImageExists(url string) bool {
	f.enforceRateLimit()

	resp, err := f.headClient.Head(url)
	if err != nil {
		log.Debugf("Error checking image existence %s: %v", url, err)
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// ImageSize probes Content-Length via HEAD. ok=false on any failure or when
// the header is missing; used for consumer-side pre-download space checks.
func (f *ImageFetcher) ImageSize(url string) (int64, bool) {
	f.enforceRateLimit()

	resp, err := f.headClient.Head(url)
	if err != nil {
		log.Debugf("Error getting image size %s: %v", url, err)
		return 0, false
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.ContentLength < 0 {
		return 0, false
	}
	return resp.ContentLength, true
}
