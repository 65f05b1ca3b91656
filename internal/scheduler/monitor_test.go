package scheduler

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"go-sdo-download/internal/downloader"
	"go-sdo-download/internal/fetcher"
	"go-sdo-download/internal/models"
	"go-sdo-download/internal/storage"
	"go-sdo-download/internal/urlgen"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	// The heuristic sweep logs every 404; keep test output readable.
	log.SetOutput(io.Discard)
	os.Exit(m.Run())
}

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestMonitor(t *testing.T, baseURL string, rangeDays int) (*Monitor, *storage.Organizer) {
	t.Helper()
	org, err := storage.NewOrganizer(t.TempDir(), urlgen.Resolution, urlgen.InstrumentCode)
	require.NoError(t, err)
	mgr := downloader.NewManager(fetcher.New(nil, 0, 1), org, nil)

	m, err := NewMonitor(mgr, org, time.Hour, rangeDays)
	require.NoError(t, err)
	m.generator = urlgen.NewWithBase(baseURL)
	m.now = func() time.Time { return fixedNow }
	return m, org
}

func drainEvents(m *Monitor) []Event {
	var events []Event
	for {
		select {
		case ev := <-m.Events():
			events = append(events, ev)
		default:
			return events
		}
	}
}

func TestNewMonitorRejectsInvalidRange(t *testing.T) {
	_, err := NewMonitor(nil, nil, time.Minute, 0)
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestForceCheckDownloadsNewImages(t *testing.T) {
	const hit = "/2024/03/01/20240301_000000_4096_0211.jpg"
	body := []byte("solar disk")

	var requests int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&requests, 1)
		if r.URL.Path == hit {
			w.Write(body)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	m, org := newTestMonitor(t, srv.URL, 1)
	m.ForceCheck()

	// One candidate per minute/second mark; only one existed upstream.
	assert.Equal(t, int64(360), atomic.LoadInt64(&requests))
	assert.True(t, org.FileExists("20240301_000000_4096_0211.jpg", fixedNow))

	status := m.Status()
	assert.False(t, status.IsRunning)
	assert.Equal(t, 1, status.TotalChecks)
	assert.Equal(t, 1, status.NewImagesFound)
	assert.Equal(t, 1, status.TotalDownloads)
	assert.Equal(t, 359, status.FailedDownloads)
	assert.Equal(t, fixedNow, status.LastCheckTime)

	events := drainEvents(m)
	require.Len(t, events, 3)
	assert.Equal(t, CheckStarted, events[0].Type)
	assert.Equal(t, NewImagesFound, events[1].Type)
	assert.Equal(t, 1, events[1].NewImages)
	assert.Equal(t, CheckCompleted, events[2].Type)
	assert.Equal(t, 360, events[2].Candidates)
	assert.Equal(t, 359, events[2].Failed)
}

func TestForceCheckSkipsImagesOnDisk(t *testing.T) {
	var requests int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&requests, 1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	m, org := newTestMonitor(t, srv.URL, 1)

	// Pre-populate every candidate; the sweep must make no HTTP calls.
	for _, url := range m.generator.GenerateDateRangeURLs(1, fixedNow) {
		date, seq, ok := m.generator.ExtractMetadataFromURL(url)
		require.True(t, ok, url)
		filename := models.ImageFilename(date, seq, urlgen.Resolution, urlgen.InstrumentCode)
		_, err := org.SaveImage([]byte("x"), filename, date)
		require.NoError(t, err)
	}

	m.ForceCheck()

	assert.Equal(t, int64(0), atomic.LoadInt64(&requests))
	status := m.Status()
	assert.Equal(t, 1, status.TotalChecks)
	assert.Equal(t, 0, status.NewImagesFound)
	assert.Equal(t, 0, status.FailedDownloads)

	events := drainEvents(m)
	require.Len(t, events, 2) // no NewImagesFound event on an empty cycle
	assert.Equal(t, CheckStarted, events[0].Type)
	assert.Equal(t, CheckCompleted, events[1].Type)
	assert.Equal(t, 0, events[1].Candidates)
}

func TestSetMonitoringRange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(http.NotFound))
	defer srv.Close()
	m, _ := newTestMonitor(t, srv.URL, 1)

	assert.ErrorIs(t, m.SetMonitoringRange(0), ErrInvalidRange)
	assert.ErrorIs(t, m.SetMonitoringRange(-3), ErrInvalidRange)
	assert.Equal(t, 1, m.MonitoringRange())

	require.NoError(t, m.SetMonitoringRange(3))
	assert.Equal(t, 3, m.MonitoringRange())
	assert.Equal(t, 3, m.Status().MonitoringRangeDays)
}

func TestRangeChangeTakesEffectNextCycle(t *testing.T) {
	var requests int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&requests, 1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	m, _ := newTestMonitor(t, srv.URL, 1)

	m.ForceCheck()
	assert.Equal(t, int64(360), atomic.LoadInt64(&requests))

	require.NoError(t, m.SetMonitoringRange(2))
	atomic.StoreInt64(&requests, 0)
	m.ForceCheck()
	assert.Equal(t, int64(720), atomic.LoadInt64(&requests))
}

func TestStartStopLifecycle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(http.NotFound))
	defer srv.Close()
	m, _ := newTestMonitor(t, srv.URL, 1)

	require.NoError(t, m.Start())
	assert.ErrorIs(t, m.Start(), ErrAlreadyRunning)
	assert.True(t, m.Status().IsRunning)

	// The immediate check publishes CheckStarted then CheckCompleted.
	waitForEvent(t, m, CheckCompleted)

	m.Stop()
	assert.False(t, m.Status().IsRunning)
	assert.Equal(t, 1, m.Status().TotalChecks)

	// Stopping again is a no-op.
	m.Stop()

	// The loop can be restarted after a clean stop.
	require.NoError(t, m.Start())
	waitForEvent(t, m, CheckCompleted)
	m.Stop()
	assert.Equal(t, 2, m.Status().TotalChecks)
}

func waitForEvent(t *testing.T, m *Monitor, want EventType) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-m.Events():
			if ev.Type == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", want)
		}
	}
}
