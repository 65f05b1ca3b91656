// Package scheduler runs the unattended discovery+download loop: every
// check interval it sweeps a trailing day window with the URL pattern
// generator, filters out images already on disk, and downloads the rest
// sequentially on a single background goroutine.
package scheduler

import (
	"errors"
	"sync"
	"time"

	"go-sdo-download/internal/downloader"
	"go-sdo-download/internal/models"
	"go-sdo-download/internal/storage"
	"go-sdo-download/internal/urlgen"

	log "github.com/sirupsen/logrus"
)

// Custom scheduler errors.
var (
	ErrAlreadyRunning = errors.New("monitoring is already running")
	ErrInvalidRange   = errors.New("monitoring range must be at least 1 day")
)

// stopTimeout bounds how long Stop waits for an in-flight cycle. A cycle
// already underway runs to completion; Stop only prevents future ones.
const stopTimeout = 30 * time.Second

// EventType discriminates monitor lifecycle events.
type EventType string

const (
	CheckStarted   EventType = "check_started"
	NewImagesFound EventType = "new_images_found"
	CheckCompleted EventType = "check_completed"
)

// Event is published on the monitor's event channel once per cycle phase.
// Consumers that fall behind lose events rather than stalling the cycle.
type Event struct {
	Type       EventType
	Time       time.Time
	NewImages  int // images downloaded this cycle
	Failed     int // failures this cycle (404s from the heuristic sweep included)
	Candidates int // candidate URLs after dedup
}

// Monitor is the periodic monitoring loop. All downloads within a cycle run
// sequentially on the monitor's goroutine, so the fetcher's shared rate
// limiter stays a correct global throttle. Exactly one cycle runs at a time;
// ForceCheck from another goroutine serializes behind the in-flight one.
type Monitor struct {
	manager   *downloader.Manager
	storage   *storage.Organizer
	generator *urlgen.URLGenerator

	checkInterval time.Duration

	mu             sync.Mutex // guards the fields below
	running        bool
	rangeDays      int
	totalChecks    int
	lastCheckTime  time.Time
	newImagesFound int
	stop           chan struct{}
	done           chan struct{}

	cycleMu sync.Mutex // serializes cycles (ticker vs. ForceCheck)
	events  chan Event

	now func() time.Time
}

// NewMonitor creates a stopped Monitor sweeping rangeDays trailing days
// every checkInterval.
func NewMonitor(manager *downloader.Manager, org *storage.Organizer, checkInterval time.Duration, rangeDays int) (*Monitor, error) {
	if rangeDays < 1 {
		return nil, ErrInvalidRange
	}
	return &Monitor{
		manager:       manager,
		storage:       org,
		generator:     urlgen.New(),
		checkInterval: checkInterval,
		rangeDays:     rangeDays,
		events:        make(chan Event, 16),
		now:           time.Now,
	}, nil
}

// Events returns the channel lifecycle events are published on. The channel
// is never closed; consumers should select against their own shutdown signal.
func (m *Monitor) Events() <-chan Event {
	return m.events
}

// Start fires one check immediately, then schedules recurring checks on a
// background goroutine. Starting a running monitor is an error.
func (m *Monitor) Start() error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	m.running = true
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	stop, done := m.stop, m.done
	m.mu.Unlock()

	log.Infof("Starting monitoring loop (interval %s, range %d days)", m.checkInterval, m.MonitoringRange())

	go func() {
		defer close(done)
		m.checkForNewImages()
		ticker := time.NewTicker(m.checkInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				m.checkForNewImages()
			}
		}
	}()
	return nil
}

// Stop prevents future cycles and joins the background goroutine with a
// bounded timeout. It does not interrupt an in-flight request or sleep.
// Stopping a stopped monitor is a no-op.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stop)
	done := m.done
	m.mu.Unlock()

	select {
	case <-done:
		log.Info("Monitoring loop stopped")
	case <-time.After(stopTimeout):
		log.Warn("Monitoring loop did not stop within timeout, abandoning join")
	}
}

// ForceCheck runs one cycle synchronously on the caller's goroutine.
func (m *Monitor) ForceCheck() {
	m.checkForNewImages()
}

// SetMonitoringRange changes the trailing window. The change takes effect on
// the next cycle, not retroactively.
func (m *Monitor) SetMonitoringRange(days int) error {
	if days < 1 {
		return ErrInvalidRange
	}
	m.mu.Lock()
	m.rangeDays = days
	m.mu.Unlock()
	return nil
}

// MonitoringRange returns the current trailing window in days.
func (m *Monitor) MonitoringRange() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rangeDays
}

// Status returns a snapshot of the loop's runtime statistics.
func (m *Monitor) Status() models.MonitorStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return models.MonitorStatus{
		IsRunning:            m.running,
		CheckIntervalMinutes: int(m.checkInterval / time.Minute),
		MonitoringRangeDays:  m.rangeDays,
		TotalChecks:          m.totalChecks,
		LastCheckTime:        m.lastCheckTime,
		NewImagesFound:       m.newImagesFound,
		TotalDownloads:       m.manager.DownloadCount(),
		FailedDownloads:      len(m.manager.FailedTasks()),
	}
}

// checkForNewImages is one full cycle: generate the heuristic URL superset
// for the trailing window, drop URLs whose image is already on disk, and
// download the rest sequentially. A cycle never panics out; anything
// unexpected is logged and the cycle ends early, leaving the schedule intact.
func (m *Monitor) checkForNewImages() {
	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Monitoring cycle aborted: %v", r)
		}
	}()

	m.publish(Event{Type: CheckStarted, Time: m.now()})
	log.Debug("Checking for new images")

	urls := m.generator.GenerateDateRangeURLs(m.MonitoringRange(), m.now())

	var tasks []*models.DownloadTask
	for _, url := range urls {
		date, seq, ok := m.generator.ExtractMetadataFromURL(url)
		if !ok {
			continue
		}
		filename := models.ImageFilename(date, seq, urlgen.Resolution, urlgen.InstrumentCode)
		if m.storage.FileExists(filename, date) {
			continue
		}
		tasks = append(tasks, &models.DownloadTask{
			URL:        url,
			TargetPath: m.storage.LocalPath(filename, date),
			Status:     models.StatusPending,
		})
	}

	downloaded, failed := 0, 0
	for _, task := range tasks {
		if err := m.manager.DownloadAndSave(task); err != nil {
			// Most heuristic candidates simply do not exist upstream.
			failed++
			continue
		}
		downloaded++
	}

	m.mu.Lock()
	m.totalChecks++
	m.lastCheckTime = m.now()
	m.newImagesFound += downloaded
	m.mu.Unlock()

	if downloaded > 0 {
		m.publish(Event{Type: NewImagesFound, Time: m.now(), NewImages: downloaded})
		log.Infof("Downloaded %d new images", downloaded)
	}
	m.publish(Event{
		Type:       CheckCompleted,
		Time:       m.now(),
		NewImages:  downloaded,
		Failed:     failed,
		Candidates: len(tasks),
	})
}

// publish sends without blocking; a full channel drops the event.
func (m *Monitor) publish(ev Event) {
	select {
	case m.events <- ev:
	default:
		log.Debugf("Event channel full, dropping %s", ev.Type)
	}
}
