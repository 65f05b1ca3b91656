package cmd

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	index "go-sdo-download/index"
	"go-sdo-download/internal/helpers"
	"go-sdo-download/internal/models"
	"go-sdo-download/internal/storage"

	"github.com/blevesearch/bleve/v2"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// searchQuery holds the value of the --query flag
var searchQuery string

// searchCmd represents the search command
var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search the Bleve index of downloaded images",
	Long: `Performs a search against the Bleve index of the local image archive.

Supports Bleve's query string syntax. The following fields (lowercase JSON
tag names) are indexed:
  - id (string): canonical filename
  - date (string): capture date, YYYYMMDD
  - timeSequence (string): capture time, HHMMSS
  - resolution (string): pixel resolution
  - filter (string): instrument wavelength code
  - filePath (string): local path

Examples:
  sdo-downloader search -q "date:20240301"
  sdo-downloader search -q "+date:20240301 +timeSequence:001200"`,
	Run: runSearch,
}

// searchReindexCmd rebuilds the index from the filesystem tree.
var searchReindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the search index from the local image tree",
	Long: `Walks the date-keyed image tree and re-adds every image to the Bleve
index. The filesystem is the source of truth; run this after manual changes
to the tree or if the index is lost.`,
	Run: runSearchReindex,
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.AddCommand(searchReindexCmd)

	searchCmd.Flags().StringVarP(&searchQuery, "query", "q", "", "Search query (uses Bleve query string syntax)")
}

func runSearch(cmd *cobra.Command, args []string) {
	initLogging()

	if searchQuery == "" {
		log.Error("Search query cannot be empty; use -q.")
		return
	}

	indexPath := bleveIndexPath()
	log.Infof("Opening Bleve index at: %s", indexPath)
	// Use Open instead of OpenOrCreateIndex to avoid creating an index during search
	bleveIndex, err := bleve.Open(indexPath)
	if err != nil {
		if err == bleve.ErrorIndexPathDoesNotExist {
			log.Errorf("Bleve index not found at %s. Run 'search reindex' or a download command first.", indexPath)
		} else {
			log.Errorf("Failed to open Bleve index at %s: %v", indexPath, err)
		}
		return
	}
	defer func() {
		if err := bleveIndex.Close(); err != nil {
			log.Errorf("Error closing Bleve index: %v", err)
		}
	}()

	searchResults, err := index.SearchIndex(bleveIndex, searchQuery)
	if err != nil {
		log.Errorf("Error performing search: %v", err)
		return
	}

	log.Infof("Search finished. Hits: %d, Total: %d, Took: %s",
		len(searchResults.Hits), searchResults.Total, searchResults.Took)

	if searchResults.Total > 0 {
		fmt.Println("--- Search Results ---")
		for i, hit := range searchResults.Hits {
			fmt.Printf("[%d] ID: %s (Score: %.2f)\n", i+1, hit.ID, hit.Score)
			for field, value := range hit.Fields {
				fmt.Printf("  %s: %v\n", field, value)
			}
			fmt.Println("---")
		}
	} else {
		fmt.Println("No results found matching your query.")
	}
}

func runSearchReindex(cmd *cobra.Command, args []string) {
	initLogging()

	org := newOrganizer()
	indexPath := bleveIndexPath()

	bleveIndex, err := index.OpenOrCreateIndex(indexPath)
	if err != nil {
		log.Errorf("Failed to open or create Bleve index at %s: %v", indexPath, err)
		return
	}
	defer bleveIndex.Close()

	dates, err := org.AvailableDates()
	if err != nil {
		log.Errorf("Failed to enumerate archive dates: %v", err)
		return
	}

	indexed := 0
	for _, date := range dates {
		for _, filename := range org.ListLocalImages(date) {
			item, ok := itemFromFile(org, filename, date, "")
			if !ok {
				log.Warnf("Skipping file with unexpected name: %s", filename)
				continue
			}
			if err := index.IndexItem(bleveIndex, item); err != nil {
				log.Warnf("Failed to index %s: %v", filename, err)
				continue
			}
			indexed++
		}
	}
	log.Infof("Reindex complete: %d image(s) indexed at %s", indexed, indexPath)
}

// itemFromFile builds an index entry from a file already on disk. The
// canonical filename carries the identity: YYYYMMDD_HHMMSS_RES_FILTER.jpg.
func itemFromFile(org *storage.Organizer, filename string, date time.Time, sourceURL string) (index.Item, bool) {
	parts := strings.Split(strings.TrimSuffix(filename, ".jpg"), "_")
	if len(parts) != 4 {
		return index.Item{}, false
	}
	item := index.Item{
		ID:           filename,
		Date:         parts[0],
		TimeSequence: parts[1],
		Resolution:   parts[2],
		Filter:       parts[3],
		FilePath:     org.LocalPath(filename, date),
		SourceURL:    sourceURL,
	}
	if size, ok := org.FileSize(filename, date); ok {
		item.FileSizeKB = float64(size) / 1024.0
	}
	if meta, err := org.ImageMetadataFor(filename, date, sourceURL); err == nil {
		item.DownloadedAt = meta.DownloadTimestamp
	}
	return item, true
}

// indexCompletedTasks adds freshly downloaded images to the search index.
// Index trouble never fails a download batch.
func indexCompletedTasks(tasks []*models.DownloadTask) {
	var completed []*models.DownloadTask
	for _, task := range tasks {
		if task.Status == models.StatusCompleted {
			completed = append(completed, task)
		}
	}
	if len(completed) == 0 {
		return
	}

	org := newOrganizer()
	bleveIndex, err := index.OpenOrCreateIndex(bleveIndexPath())
	if err != nil {
		log.Warnf("Failed to open Bleve index, skipping indexing: %v", err)
		return
	}
	defer bleveIndex.Close()

	for _, task := range completed {
		filename := filepath.Base(task.TargetPath)
		date, err := helpers.ParseFilenameDate(filename)
		if err != nil {
			continue
		}
		item, ok := itemFromFile(org, filename, date, task.URL)
		if !ok {
			continue
		}
		if err := index.IndexItem(bleveIndex, item); err != nil {
			log.Warnf("Failed to index %s: %v", filename, err)
		}
	}
	log.Debugf("Indexed %d downloaded image(s)", len(completed))
}
