// Package downloader orchestrates single download tasks end to end:
// dedup check, fetch, persist, integrity validation, status bookkeeping.
package downloader

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go-sdo-download/internal/database"
	"go-sdo-download/internal/fetcher"
	"go-sdo-download/internal/helpers"
	"go-sdo-download/internal/models"
	"go-sdo-download/internal/storage"

	log "github.com/sirupsen/logrus"
)

// Custom manager errors.
var (
	ErrIntegrity = errors.New("file integrity check failed")
	ErrBadTask   = errors.New("malformed download task")
)

// Manager executes DownloadTasks with at-most-once semantics per
// (filename, date): a re-run for an image already on disk short-circuits
// without network I/O.
type Manager struct {
	fetcher *fetcher.ImageFetcher
	storage *storage.Organizer
	catalog *database.DB // optional journal; nil disables it

	mu            sync.Mutex // guards the counters; status snapshots read them cross-goroutine
	downloadCount int
	failedTasks   []*models.DownloadTask
}

// BatchReport aggregates the outcome of one batch of tasks. It is returned
// from Run so repeated or interleaved batches compose without relying on the
// manager's cumulative counters.
type BatchReport struct {
	Attempted  int
	Succeeded  int
	Failed     int
	Skipped    int // already on disk
	BytesSaved uint64
	Failures   []*models.DownloadTask
}

// SuccessRate is Succeeded+Skipped over Attempted, in percent.
func (r BatchReport) SuccessRate() float64 {
	if r.Attempted == 0 {
		return 0
	}
	return float64(r.Succeeded+r.Skipped) / float64(r.Attempted) * 100
}

// NewManager creates a Manager. catalog may be nil when no journal is wanted.
func NewManager(f *fetcher.ImageFetcher, org *storage.Organizer, catalog *database.DB) *Manager {
	return &Manager{
		fetcher: f,
		storage: org,
		catalog: catalog,
	}
}

// DownloadAndSave drives one task to completion. The task is mutated in
// place; a nil return means the image is on disk and validated (or already
// was). The capture date is re-derived from the filename's leading YYYYMMDD
// segment, not from the target path — the embedded date is the identity key.
func (m *Manager) DownloadAndSave(task *models.DownloadTask) error {
	task.Status = models.StatusDownloading
	filename := filepath.Base(task.TargetPath)

	date, err := helpers.ParseFilenameDate(filename)
	if err != nil {
		// Not transient; fail immediately with no retry.
		task.Status = models.StatusFailed
		task.ErrorMessage = fmt.Sprintf("could not parse date from filename: %s", filename)
		log.Error(task.ErrorMessage)
		return fmt.Errorf("%w: %v", ErrBadTask, err)
	}

	// Duplicate detection: the filesystem is the index.
	if m.storage.FileExists(filename, date) {
		log.Infof("File already exists, skipping: %s", filename)
		task.Status = models.StatusCompleted
		return nil
	}

	data, err := m.fetcher.DownloadImage(task.URL)
	if err != nil {
		m.failTask(task, filename, date, err.Error())
		return err
	}

	if _, err := m.storage.SaveImage(data, filename, date); err != nil {
		m.failTask(task, filename, date, fmt.Sprintf("error saving file: %v", err))
		return err
	}

	if !m.storage.ValidateFileIntegrity(filename, date, int64(len(data))) {
		// The mismatched file is left on disk for manual inspection.
		m.failTask(task, filename, date, "file integrity check failed")
		return fmt.Errorf("%w: %s", ErrIntegrity, filename)
	}

	task.Status = models.StatusCompleted
	m.mu.Lock()
	m.downloadCount++
	m.mu.Unlock()
	m.journal(database.CatalogEntry{
		Filename:     filename,
		Date:         date.Format("20060102"),
		URL:          task.URL,
		LocalPath:    task.TargetPath,
		SizeBytes:    int64(len(data)),
		BLAKE3:       helpers.HashBytes(data),
		DownloadedAt: time.Now(),
		Status:       database.StatusDownloaded,
	})
	log.Infof("Successfully downloaded and saved: %s", filename)
	return nil
}

// Run executes tasks sequentially and returns an aggregate report. onTask,
// if non-nil, is called after each task with the running completion count.
func (m *Manager) Run(tasks []*models.DownloadTask, onTask func(task *models.DownloadTask, done, total int)) BatchReport {
	report := BatchReport{Attempted: len(tasks)}
	for i, task := range tasks {
		existedBefore := false
		if date, err := helpers.ParseFilenameDate(filepath.Base(task.TargetPath)); err == nil {
			existedBefore = m.storage.FileExists(filepath.Base(task.TargetPath), date)
		}

		err := m.DownloadAndSave(task)
		switch {
		case err != nil:
			report.Failed++
			report.Failures = append(report.Failures, task)
		case existedBefore:
			report.Skipped++
		default:
			report.Succeeded++
			if size, ok := m.storage.FileSize(filepath.Base(task.TargetPath), mustDate(task)); ok {
				report.BytesSaved += uint64(size)
			}
		}

		if onTask != nil {
			onTask(task, i+1, len(tasks))
		}
	}
	return report
}

// mustDate re-derives the date for a task already validated by
// DownloadAndSave; zero time on malformed names keeps FileSize a no-op.
func mustDate(task *models.DownloadTask) time.Time {
	date, _ := helpers.ParseFilenameDate(filepath.Base(task.TargetPath))
	return date
}

func (m *Manager) failTask(task *models.DownloadTask, filename string, date time.Time, msg string) {
	task.Status = models.StatusFailed
	task.ErrorMessage = msg
	m.mu.Lock()
	m.failedTasks = append(m.failedTasks, task)
	m.mu.Unlock()
	m.journal(database.CatalogEntry{
		Filename:     filename,
		Date:         date.Format("20060102"),
		URL:          task.URL,
		LocalPath:    task.TargetPath,
		DownloadedAt: time.Now(),
		Status:       database.StatusError,
		ErrorDetails: msg,
	})
	log.Errorf("Download failed: %s", msg)
}

// journal records a catalog entry when a catalog is attached. Journal
// failures are logged, never fatal: the catalog is derived bookkeeping.
func (m *Manager) journal(entry database.CatalogEntry) {
	if m.catalog == nil {
		return
	}
	if err := m.catalog.PutEntry(entry); err != nil {
		log.WithError(err).Warnf("Failed to journal catalog entry for %s", entry.Filename)
	}
}

// DownloadCount returns the number of successful downloads since the last
// ResetCounters.
func (m *Manager) DownloadCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.downloadCount
}

// FailedTasks returns a copy of the failed-task list for reporting.
func (m *Manager) FailedTasks() []*models.DownloadTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.DownloadTask, len(m.failedTasks))
	copy(out, m.failedTasks)
	return out
}

// ResetCounters clears the cumulative counters. Callers own when to reset
// (per monitoring cycle vs. cumulative).
func (m *Manager) ResetCounters() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.downloadCount = 0
	m.failedTasks = nil
}
