// Package urlgen constructs and validates NASA SDO browse URLs from
// date/time patterns. It is the fallback discovery mechanism: it guesses
// plausible capture timestamps without knowing which images actually exist,
// so most generated URLs will 404. The scraper package is the authoritative
// mechanism for finding real files.
package urlgen

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// DefaultBaseURL is the root of NASA's SDO browse tree.
const DefaultBaseURL = "https://sdo.gsfc.nasa.gov/assets/img/browse"

// The generator is pinned to the 4096/0211 combination. Other components
// take resolution and filter as configuration; this heuristic path does
// not, and its Validate/Extract methods only recognize these constants.
const (
	Resolution     = "4096"
	InstrumentCode = "0211"
)

// SDO captures land roughly every 12 minutes with irregular seconds.
// These marks approximate the observed cadence; together they discretize a
// day into 24h x 5 minutes x 3 seconds = 360 candidate timestamps.
var (
	minuteMarks = []int{0, 12, 24, 36, 48}
	secondMarks = []int{0, 30, 59}
)

// URLGenerator produces syntactically valid SDO image URLs for a date range.
type URLGenerator struct {
	baseURL    string
	urlPattern *regexp.Regexp
}

// New returns a generator rooted at the NASA browse tree.
func New() *URLGenerator {
	return NewWithBase(DefaultBaseURL)
}

// NewWithBase returns a generator rooted at an alternate base URL. Used by
// tests to point at a local server; the filename pattern stays fixed.
func NewWithBase(baseURL string) *URLGenerator {
	baseURL = strings.TrimRight(baseURL, "/")
	pattern := regexp.MustCompile(
		"^" + regexp.QuoteMeta(baseURL) +
			`/(\d{4})/(\d{2})/(\d{2})/(\d{8})_(\d{6})_` + Resolution + `_` + InstrumentCode + `\.jpg$`)
	return &URLGenerator{
		baseURL:    baseURL,
		urlPattern: pattern,
	}
}

// GenerateDailyURLs produces the heuristic URL superset for a single day.
func (g *URLGenerator) GenerateDailyURLs(date time.Time) []string {
	urls := make([]string, 0, 24*len(minuteMarks)*len(secondMarks))
	for hour := 0; hour < 24; hour++ {
		for _, minute := range minuteMarks {
			for _, second := range secondMarks {
				timeSequence := fmt.Sprintf("%02d%02d%02d", hour, minute, second)
				urls = append(urls, g.ConstructURL(date, timeSequence))
			}
		}
	}
	return urls
}

// GenerateDateRangeURLs spans [endDate-(days-1), endDate] inclusive;
// days=1 yields exactly endDate. A zero endDate means now.
func (g *URLGenerator) GenerateDateRangeURLs(days int, endDate time.Time) []string {
	if endDate.IsZero() {
		endDate = time.Now()
	}
	startDate := endDate.AddDate(0, 0, -(days - 1))

	var urls []string
	for d := startDate; !d.After(endDate); d = d.AddDate(0, 0, 1) {
		urls = append(urls, g.GenerateDailyURLs(d)...)
	}
	return urls
}

// ConstructURL formats the deterministic URL for a capture:
// BASE/{year}/{month}/{day}/{YYYYMMDD}_{HHMMSS}_{resolution}_{filter}.jpg.
func (g *URLGenerator) ConstructURL(date time.Time, timeSequence string) string {
	filename := fmt.Sprintf("%s_%s_%s_%s.jpg",
		date.Format("20060102"), timeSequence, Resolution, InstrumentCode)
	return fmt.Sprintf("%s/%s/%s/%s/%s",
		g.baseURL, date.Format("2006"), date.Format("01"), date.Format("02"), filename)
}

// ValidateURL reports whether a URL matches the fixed 4096/0211 pattern,
// embeds a real calendar date, and agrees with its own path segments.
// Used as a guard before trusting a URL's metadata.
func (g *URLGenerator) ValidateURL(url string) bool {
	if url == "" {
		return false
	}
	match := g.urlPattern.FindStringSubmatch(url)
	if match == nil {
		return false
	}
	year, month, day, datePart, timePart := match[1], match[2], match[3], match[4], match[5]

	if _, err := time.Parse("20060102", year+month+day); err != nil {
		return false
	}
	if datePart != year+month+day {
		return false
	}
	var hour, minute, second int
	if _, err := fmt.Sscanf(timePart, "%02d%02d%02d", &hour, &minute, &second); err != nil {
		return false
	}
	return hour <= 23 && minute <= 59 && second <= 59
}

// ExtractMetadataFromURL is the inverse of ConstructURL. It returns the
// capture date and HHMMSS time sequence, or ok=false if the URL doesn't
// match the fixed pattern.
func (g *URLGenerator) ExtractMetadataFromURL(url string) (date time.Time, timeSequence string, ok bool) {
	match := g.urlPattern.FindStringSubmatch(url)
	if match == nil {
		return time.Time{}, "", false
	}
	date, err := time.Parse("20060102", match[1]+match[2]+match[3])
	if err != nil {
		return time.Time{}, "", false
	}
	return date, match[5], true
}
