package downloader

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"go-sdo-download/internal/database"
	"go-sdo-download/internal/fetcher"
	"go-sdo-download/internal/models"
	"go-sdo-download/internal/scraper"
	"go-sdo-download/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day1 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func quietFetcher(maxRetries int) *fetcher.ImageFetcher {
	return fetcher.New(nil, 0, maxRetries)
}

func newTestManager(t *testing.T) (*Manager, *storage.Organizer) {
	t.Helper()
	org, err := storage.NewOrganizer(t.TempDir(), "1024", "0211")
	require.NoError(t, err)
	return NewManager(quietFetcher(2), org, nil), org
}

func imageServer(t *testing.T, body []byte, requests *int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(requests, 1)
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDownloadAndSaveHappyPath(t *testing.T) {
	m, org := newTestManager(t)
	body := []byte("solar jpeg")
	var requests int64
	srv := imageServer(t, body, &requests)

	filename := "20240301_001200_1024_0211.jpg"
	task := &models.DownloadTask{
		URL:        srv.URL + "/2024/03/01/" + filename,
		TargetPath: org.LocalPath(filename, day1),
		Status:     models.StatusPending,
	}

	require.NoError(t, m.DownloadAndSave(task))

	assert.Equal(t, models.StatusCompleted, task.Status)
	assert.Equal(t, 1, m.DownloadCount())
	size, ok := org.FileSize(filename, day1)
	require.True(t, ok)
	assert.Equal(t, int64(len(body)), size)
}

func TestDownloadAndSaveIdempotent(t *testing.T) {
	m, org := newTestManager(t)
	var requests int64
	srv := imageServer(t, []byte("bytes"), &requests)

	filename := "20240301_001200_1024_0211.jpg"
	task := &models.DownloadTask{
		URL:        srv.URL + "/" + filename,
		TargetPath: org.LocalPath(filename, day1),
	}

	require.NoError(t, m.DownloadAndSave(task))
	require.NoError(t, m.DownloadAndSave(task))

	// Network I/O happened at most once; the second call short-circuited.
	assert.Equal(t, int64(1), atomic.LoadInt64(&requests))
	assert.Equal(t, models.StatusCompleted, task.Status)
	assert.Equal(t, 1, m.DownloadCount())
}

func TestDownloadAndSaveUnparseableFilename(t *testing.T) {
	m, org := newTestManager(t)
	var requests int64
	srv := imageServer(t, []byte("bytes"), &requests)

	task := &models.DownloadTask{
		URL:        srv.URL + "/whatever.jpg",
		TargetPath: filepath.Join(org.BaseDir(), "whatever.jpg"),
	}

	err := m.DownloadAndSave(task)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadTask)
	assert.Equal(t, models.StatusFailed, task.Status)
	assert.Contains(t, task.ErrorMessage, "could not parse date")
	// Fails before any networking.
	assert.Equal(t, int64(0), atomic.LoadInt64(&requests))
}

func TestDownloadAndSave404(t *testing.T) {
	m, org := newTestManager(t)
	srv := httptest.NewServer(http.HandlerFunc(http.NotFound))
	defer srv.Close()

	filename := "20240301_001200_1024_0211.jpg"
	task := &models.DownloadTask{
		URL:        srv.URL + "/" + filename,
		TargetPath: org.LocalPath(filename, day1),
	}

	err := m.DownloadAndSave(task)
	require.Error(t, err)
	assert.ErrorIs(t, err, fetcher.ErrNotFound)
	assert.Equal(t, models.StatusFailed, task.Status)
	assert.Contains(t, task.ErrorMessage, "404")
	require.Len(t, m.FailedTasks(), 1)
	assert.False(t, org.FileExists(filename, day1))
}

func TestDownloadAndSaveJournalsCatalog(t *testing.T) {
	org, err := storage.NewOrganizer(t.TempDir(), "1024", "0211")
	require.NoError(t, err)
	db, err := database.Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	defer db.Close()

	m := NewManager(quietFetcher(2), org, db)
	body := []byte("image body")
	var requests int64
	srv := imageServer(t, body, &requests)

	filename := "20240301_001200_1024_0211.jpg"
	task := &models.DownloadTask{
		URL:        srv.URL + "/" + filename,
		TargetPath: org.LocalPath(filename, day1),
	}
	require.NoError(t, m.DownloadAndSave(task))

	entry, err := db.GetEntry(filename)
	require.NoError(t, err)
	assert.Equal(t, database.StatusDownloaded, entry.Status)
	assert.Equal(t, "20240301", entry.Date)
	assert.Equal(t, int64(len(body)), entry.SizeBytes)
	assert.NotEmpty(t, entry.BLAKE3)
}

func TestRunBatchReport(t *testing.T) {
	m, org := newTestManager(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/20240301_003600_1024_0211.jpg" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	// One already on disk, one fresh, one missing upstream.
	_, err := org.SaveImage([]byte("pre"), "20240301_001200_1024_0211.jpg", day1)
	require.NoError(t, err)

	var tasks []*models.DownloadTask
	for _, name := range []string{
		"20240301_001200_1024_0211.jpg",
		"20240301_002400_1024_0211.jpg",
		"20240301_003600_1024_0211.jpg",
	} {
		tasks = append(tasks, &models.DownloadTask{
			URL:        srv.URL + "/" + name,
			TargetPath: org.LocalPath(name, day1),
		})
	}

	var progress int
	report := m.Run(tasks, func(_ *models.DownloadTask, done, total int) {
		progress = done
		assert.Equal(t, 3, total)
	})

	assert.Equal(t, 3, report.Attempted)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Failures, 1)
	assert.Contains(t, report.Failures[0].ErrorMessage, "404")
	assert.Equal(t, 3, progress)
	assert.InDelta(t, 66.7, report.SuccessRate(), 0.1)
}

func TestResetCounters(t *testing.T) {
	m, org := newTestManager(t)
	var requests int64
	srv := imageServer(t, []byte("a"), &requests)

	filename := "20240301_001200_1024_0211.jpg"
	require.NoError(t, m.DownloadAndSave(&models.DownloadTask{
		URL:        srv.URL + "/" + filename,
		TargetPath: org.LocalPath(filename, day1),
	}))
	require.Equal(t, 1, m.DownloadCount())

	m.ResetCounters()
	assert.Equal(t, 0, m.DownloadCount())
	assert.Empty(t, m.FailedTasks())
}

// End-to-end: directory listing -> filter -> tasks -> download, the
// interactive flow the download command wires together.
func TestScrapeThenDownloadScenario(t *testing.T) {
	filename := "20240301_001200_1024_0211.jpg"
	body := []byte("jpeg-bytes-here")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/2024/03/01/":
			fmt.Fprintf(w, `<html><body><a href="%s">%s</a></body></html>`, filename, filename)
		case "/2024/03/01/" + filename:
			w.Write(body)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	org, err := storage.NewOrganizer(t.TempDir(), "1024", "0211")
	require.NoError(t, err)
	s := scraper.New(nil, srv.URL, 0, "1024", "0211")
	m := NewManager(quietFetcher(2), org, nil)

	available := s.AvailableImagesForDateRange(day1, day1)
	newImages := s.FilterNewImages(available, org)
	tasks := s.CreateDownloadTasks(newImages, org)
	require.Len(t, tasks, 1)

	require.NoError(t, m.DownloadAndSave(tasks[0]))

	size, ok := org.FileSize(filename, day1)
	require.True(t, ok)
	assert.Equal(t, int64(len(body)), size)
	assert.Equal(t, 1, m.DownloadCount())
	assert.Equal(t,
		filepath.Join(org.BaseDir(), "2024", "03", "01", filename),
		org.LocalPath(filename, day1))
}
