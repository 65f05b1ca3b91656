// Package scraper is the authoritative discovery mechanism: it fetches
// NASA's per-day HTML directory listings and parses out the image filenames
// that actually exist for a given resolution/filter pair. Unlike the urlgen
// heuristic it never guesses; a filename it returns was listed by the server.
package scraper

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sort"
	"sync"
	"time"

	"go-sdo-download/internal/models"

	"github.com/PuerkitoBio/goquery"
	log "github.com/sirupsen/logrus"
)

const userAgent = "go-sdo-download/1.0"

// ImageStore is the storage surface the scraper needs for dedup and task
// construction. *storage.Organizer satisfies it.
type ImageStore interface {
	FileExists(filename string, date time.Time) bool
	LocalPath(filename string, date time.Time) string
}

// DiscoveredImage is one (capture date, filename) pair found in a listing.
type DiscoveredImage struct {
	Date     time.Time
	Filename string
}

// DirectoryScraper scrapes per-day directory listings for an arbitrary
// (resolution, filter) pair.
type DirectoryScraper struct {
	baseURL        string
	client         *http.Client
	rateLimitDelay time.Duration

	mu          sync.RWMutex // guards resolution/solarFilter/filePattern
	resolution  string
	solarFilter string
	filePattern *regexp.Regexp

	// sleep is swapped out by tests.
	sleep func(time.Duration)
}

// New creates a DirectoryScraper. A nil client gets a default with a 30s
// timeout; an empty baseURL defaults to the NASA browse tree.
func New(client *http.Client, baseURL string, rateLimitDelay time.Duration, resolution, solarFilter string) *DirectoryScraper {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if baseURL == "" {
		baseURL = "https://sdo.gsfc.nasa.gov/assets/img/browse"
	}
	s := &DirectoryScraper{
		baseURL:        baseURL,
		client:         client,
		rateLimitDelay: rateLimitDelay,
		sleep:          time.Sleep,
	}
	s.UpdateFilters(resolution, solarFilter)
	return s
}

// UpdateFilters recompiles the filename pattern for a new resolution/filter
// pair. Callers must invoke this whenever settings change, together with
// Organizer.UpdateFilePattern, or discovery and dedup drift apart.
func (s *DirectoryScraper) UpdateFilters(resolution, solarFilter string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolution = resolution
	s.solarFilter = solarFilter
	s.filePattern = regexp.MustCompile(fmt.Sprintf(`(\d{8}_\d{6}_%s_%s\.jpg)`, resolution, solarFilter))
}

func (s *DirectoryScraper) pattern() *regexp.Regexp {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filePattern
}

// DirectoryURL returns BASE/{YYYY}/{MM}/{DD}/ for a date.
func (s *DirectoryScraper) DirectoryURL(date time.Time) string {
	return fmt.Sprintf("%s/%s/%s/%s/",
		s.baseURL, date.Format("2006"), date.Format("01"), date.Format("02"))
}

// ImageURL constructs the full fetch URL for a discovered filename.
func (s *DirectoryScraper) ImageURL(date time.Time, filename string) string {
	return s.DirectoryURL(date) + filename
}

// ScrapeDirectory fetches one day's listing and returns matching filenames,
// sorted lexicographically (= chronologically). A 404 means the day has no
// directory yet and yields an empty list, as does any other failure: one
// day's trouble must never abort a whole range scan.
func (s *DirectoryScraper) ScrapeDirectory(date time.Time) []string {
	directoryURL := s.DirectoryURL(date)
	log.Infof("Scraping directory: %s", directoryURL)

	req, err := http.NewRequest(http.MethodGet, directoryURL, nil)
	if err != nil {
		log.WithError(err).Errorf("Error building request for directory %s", directoryURL)
		return nil
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		log.WithError(err).Errorf("Error scraping directory %s", directoryURL)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		log.Debugf("Directory not found (404): %s", directoryURL)
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		log.Warnf("HTTP %d for directory: %s", resp.StatusCode, directoryURL)
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.WithError(err).Errorf("Error reading directory listing %s", directoryURL)
		return nil
	}

	pattern := s.pattern()
	var imageFiles []string
	seen := make(map[string]bool)

	// Anchor hrefs first.
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		log.WithError(err).Warnf("Error parsing directory HTML %s", directoryURL)
	} else {
		doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
			href, _ := sel.Attr("href")
			if match := pattern.FindString(href); match != "" && !seen[match] {
				seen[match] = true
				imageFiles = append(imageFiles, match)
			}
		})
	}

	// Some servers list files outside anchor tags; scan the raw page text
	// too, adding only what the anchor pass missed (first-seen order).
	for _, match := range pattern.FindAllString(string(body), -1) {
		if !seen[match] {
			seen[match] = true
			imageFiles = append(imageFiles, match)
		}
	}

	log.Infof("Found %d images in directory for %s", len(imageFiles), date.Format("2006-01-02"))
	sort.Strings(imageFiles)
	return imageFiles
}

// AvailableImagesForDateRange scrapes every calendar day in [start, end]
// inclusive and returns the discovered (date, filename) pairs concatenated
// in date order, sleeping rateLimitDelay between days (not after the last).
func (s *DirectoryScraper) AvailableImagesForDateRange(start, end time.Time) []DiscoveredImage {
	var all []DiscoveredImage
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		for _, filename := range s.ScrapeDirectory(d) {
			all = append(all, DiscoveredImage{Date: d, Filename: filename})
		}
		if d.AddDate(0, 0, 1).After(end) {
			break // skip the sleep after the last day
		}
		s.sleep(s.rateLimitDelay)
	}
	return all
}

// FilterNewImages keeps only images not already on disk: a pure set
// difference against the filesystem, preserving the input order. There is
// no separate index — existence is always re-checked from disk.
func (s *DirectoryScraper) FilterNewImages(available []DiscoveredImage, store ImageStore) []DiscoveredImage {
	var newImages []DiscoveredImage
	for _, img := range available {
		if !store.FileExists(img.Filename, img.Date) {
			newImages = append(newImages, img)
		}
	}
	log.Infof("Filtered to %d new images out of %d available", len(newImages), len(available))
	return newImages
}

// CreateDownloadTasks maps discovered images to pending DownloadTasks with
// their fetch URL and deterministic target path.
func (s *DirectoryScraper) CreateDownloadTasks(newImages []DiscoveredImage, store ImageStore) []*models.DownloadTask {
	tasks := make([]*models.DownloadTask, 0, len(newImages))
	for _, img := range newImages {
		tasks = append(tasks, &models.DownloadTask{
			URL:        s.ImageURL(img.Date, img.Filename),
			TargetPath: store.LocalPath(img.Filename, img.Date),
			Status:     models.StatusPending,
		})
	}
	return tasks
}
