// Package storage maps logical image identity (filename, capture date) to a
// deterministic on-disk location under a date-partitioned tree:
// <base>/<YYYY>/<MM>/<DD>/<filename>. The tree is the only index — every
// existence or listing check stats the disk, never a cache.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go-sdo-download/internal/helpers"
	"go-sdo-download/internal/models"

	log "github.com/sirupsen/logrus"
)

// Organizer owns the date-partitioned image tree. Listing and cleanup are
// views scoped to the currently configured resolution/filter pair; changing
// the pair changes what those methods return even for the same date.
type Organizer struct {
	baseDir string

	mu          sync.RWMutex // guards resolution/solarFilter
	resolution  string
	solarFilter string
}

// NewOrganizer creates the base directory if needed and returns an Organizer
// scoped to the given resolution/filter pair.
func NewOrganizer(baseDir, resolution, solarFilter string) (*Organizer, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("creating base data directory %s: %w", baseDir, err)
	}
	return &Organizer{
		baseDir:     baseDir,
		resolution:  resolution,
		solarFilter: solarFilter,
	}, nil
}

// UpdateFilePattern switches the resolution/filter the organizer globs for.
// Callers changing settings must update the scraper pattern in the same
// breath or discovery and dedup silently diverge.
func (o *Organizer) UpdateFilePattern(resolution, solarFilter string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.resolution = resolution
	o.solarFilter = solarFilter
}

// BaseDir returns the root of the image tree.
func (o *Organizer) BaseDir() string {
	return o.baseDir
}

// DatePath returns <base>/YYYY/MM/DD for a date.
func (o *Organizer) DatePath(date time.Time) string {
	return filepath.Join(o.baseDir, date.Format("2006"), date.Format("01"), date.Format("02"))
}

// CreateDateStructure makes the date directory (and parents) idempotently.
func (o *Organizer) CreateDateStructure(date time.Time) (string, error) {
	datePath := o.DatePath(date)
	if err := os.MkdirAll(datePath, 0700); err != nil {
		return "", fmt.Errorf("creating date directory %s: %w", datePath, err)
	}
	log.Debugf("Created directory structure: %s", datePath)
	return datePath, nil
}

// LocalPath returns the deterministic full path for (filename, date).
// Pure function of its inputs.
func (o *Organizer) LocalPath(filename string, date time.Time) string {
	return filepath.Join(o.DatePath(date), filename)
}

// FileExists stats the disk; there is no cached index.
func (o *Organizer) FileExists(filename string, date time.Time) bool {
	_, err := os.Stat(o.LocalPath(filename, date))
	return err == nil
}

// FileSize returns the stored size of a file, or ok=false if it is absent.
func (o *Organizer) FileSize(filename string, date time.Time) (int64, bool) {
	info, err := os.Stat(o.LocalPath(filename, date))
	if err != nil {
		return 0, false
	}
	return info.Size(), true
}

// SaveImage writes image bytes under the deterministic path, creating the
// directory structure first. Overwrite semantics: an existing file is
// replaced, and a crash mid-write can leave a partial file (only the
// zero-byte case is caught later by CleanupCorruptedFiles).
func (o *Organizer) SaveImage(data []byte, filename string, date time.Time) (string, error) {
	datePath, err := o.CreateDateStructure(date)
	if err != nil {
		return "", err
	}
	localPath := filepath.Join(datePath, filename)
	if err := os.WriteFile(localPath, data, 0644); err != nil {
		return "", fmt.Errorf("writing image %s: %w", localPath, err)
	}
	log.Infof("Saved image: %s", localPath)
	return localPath, nil
}

// ValidateFileIntegrity re-stats a just-written file and compares its size
// against the downloaded byte count. This size check is the only integrity
// check; no checksum of the stored file is verified here.
func (o *Organizer) ValidateFileIntegrity(filename string, date time.Time, expectedSize int64) bool {
	actualSize, ok := o.FileSize(filename, date)
	if !ok {
		log.Warnf("File not found for integrity check: %s", filename)
		return false
	}
	if actualSize != expectedSize {
		log.Warnf("File size mismatch for %s: expected %d, got %d", filename, expectedSize, actualSize)
		return false
	}
	return true
}

// filePattern returns the glob for the current resolution/filter pair.
func (o *Organizer) filePattern() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return fmt.Sprintf("*_%s_%s.jpg", o.resolution, o.solarFilter)
}

// ListLocalImages lists filenames stored for a date, scoped to the current
// resolution/filter pair, sorted lexicographically (= chronologically,
// since filenames embed timestamps).
func (o *Organizer) ListLocalImages(date time.Time) []string {
	matches, err := filepath.Glob(filepath.Join(o.DatePath(date), o.filePattern()))
	if err != nil {
		log.WithError(err).Errorf("Error globbing images for %s", date.Format("2006-01-02"))
		return nil
	}
	images := make([]string, 0, len(matches))
	for _, m := range matches {
		images = append(images, filepath.Base(m))
	}
	sort.Strings(images)
	return images
}

// CleanupCorruptedFiles deletes zero-byte files matching the active pattern
// for a date and returns the count removed. Partial-but-nonzero files are
// left alone.
func (o *Organizer) CleanupCorruptedFiles(date time.Time) (int, error) {
	matches, err := filepath.Glob(filepath.Join(o.DatePath(date), o.filePattern()))
	if err != nil {
		return 0, fmt.Errorf("globbing %s for cleanup: %w", o.DatePath(date), err)
	}

	removed := 0
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.Size() == 0 {
			if err := os.Remove(path); err != nil {
				log.WithError(err).Warnf("Failed to remove corrupted file %s", path)
				continue
			}
			removed++
			log.Infof("Removed corrupted file: %s", path)
		}
	}
	return removed, nil
}

// ImageMetadataFor derives an ImageMetadata record from a file on disk.
// Returns an error if the file does not exist.
func (o *Organizer) ImageMetadataFor(filename string, date time.Time, url string) (*models.ImageMetadata, error) {
	localPath := o.LocalPath(filename, date)
	info, err := os.Stat(localPath)
	if err != nil {
		return nil, fmt.Errorf("image %s not on disk: %w", localPath, err)
	}
	return &models.ImageMetadata{
		Date:              date,
		TimeSequence:      helpers.ParseTimeSequence(filename),
		Filename:          filename,
		LocalPath:         localPath,
		FileSize:          info.Size(),
		DownloadTimestamp: info.ModTime(),
		URL:               url,
	}, nil
}

// AvailableDates walks the whole tree and returns every date directory that
// contains at least one image matching the active pattern, ascending.
// Cost is O(all days x all files); acceptable at the documented scale.
func (o *Organizer) AvailableDates() ([]time.Time, error) {
	yearDirs, err := os.ReadDir(o.baseDir)
	if err != nil {
		return nil, fmt.Errorf("reading base directory %s: %w", o.baseDir, err)
	}

	var dates []time.Time
	for _, yearDir := range yearDirs {
		if !yearDir.IsDir() {
			continue
		}
		monthDirs, err := os.ReadDir(filepath.Join(o.baseDir, yearDir.Name()))
		if err != nil {
			continue
		}
		for _, monthDir := range monthDirs {
			if !monthDir.IsDir() {
				continue
			}
			dayDirs, err := os.ReadDir(filepath.Join(o.baseDir, yearDir.Name(), monthDir.Name()))
			if err != nil {
				continue
			}
			for _, dayDir := range dayDirs {
				if !dayDir.IsDir() {
					continue
				}
				date, err := time.Parse("2006/01/02",
					yearDir.Name()+"/"+monthDir.Name()+"/"+dayDir.Name())
				if err != nil {
					continue // stray directory, not a date
				}
				if len(o.ListLocalImages(date)) > 0 {
					dates = append(dates, date)
				}
			}
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates, nil
}
