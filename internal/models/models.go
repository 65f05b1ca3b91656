package models

import (
	"fmt"
	"time"
)

type (
	Config struct {
		// Paths
		DataDir        string `toml:"DataDir"`
		DatabasePath   string `toml:"DatabasePath"`
		BleveIndexPath string `toml:"BleveIndexPath"`

		// Image selection
		Resolution  string `toml:"Resolution"`  // 1024, 2048 or 4096
		SolarFilter string `toml:"SolarFilter"` // e.g. 0211, 0193, 0304

		// Fetch behavior
		RateLimitDelayMs int `toml:"RateLimitDelayMs"`
		MaxRetries       int `toml:"MaxRetries"`
		HTTPTimeoutSec   int `toml:"HTTPTimeoutSec"`

		// Monitoring behavior
		CheckIntervalMinutes int `toml:"CheckIntervalMinutes"`
		MonitoringRangeDays  int `toml:"MonitoringRangeDays"`

		// Other
		LogHTTPRequests bool `toml:"LogHTTPRequests"`
	}

	// DownloadTask is one unit of download work. It is created per candidate
	// image and mutated in place as it moves through states.
	DownloadTask struct {
		URL          string
		TargetPath   string
		RetryCount   int
		Status       TaskStatus
		ErrorMessage string
	}

	// ImageMetadata describes a file already stored on disk. It is derived
	// on demand; the filesystem layout itself is the source of truth.
	ImageMetadata struct {
		Date              time.Time
		TimeSequence      string // HHMMSS
		Filename          string
		LocalPath         string
		FileSize          int64
		DownloadTimestamp time.Time
		URL               string
	}

	// MonitorStatus is the status snapshot UI layers poll. The field set is
	// a contract; do not remove or rename fields.
	MonitorStatus struct {
		IsRunning            bool
		CheckIntervalMinutes int
		MonitoringRangeDays  int
		TotalChecks          int
		LastCheckTime        time.Time
		NewImagesFound       int
		TotalDownloads       int
		FailedDownloads      int
	}
)

// TaskStatus tracks a DownloadTask through its lifecycle.
type TaskStatus string

const (
	StatusPending     TaskStatus = "pending"
	StatusDownloading TaskStatus = "downloading"
	StatusCompleted   TaskStatus = "completed"
	StatusFailed      TaskStatus = "failed"
)

// ValidResolutions lists the image sizes offered by the NASA SDO browse tree.
var ValidResolutions = []string{"1024", "2048", "4096"}

// ImageFilename builds the canonical filename for a capture:
// YYYYMMDD_HHMMSS_<resolution>_<filter>.jpg. This is the only identity key
// for an image; its embedded date must match the containing directory.
func ImageFilename(date time.Time, timeSequence, resolution, filter string) string {
	return fmt.Sprintf("%s_%s_%s_%s.jpg", date.Format("20060102"), timeSequence, resolution, filter)
}
