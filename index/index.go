package index

import (
	"log"
	"os"
	"time"

	"github.com/blevesearch/bleve/v2"
)

const defaultIndexPath = "sdo-archive.bleve"

// Item is one archived solar image in the search index. All fields are
// indexed and searchable by their lowercase JSON tag names (e.g., query
// '+date:20240301' or '+timeSequence:001200').
type Item struct {
	ID           string    `json:"id"`                     // canonical filename, unique per (date, time sequence)
	Date         string    `json:"date"`                   // capture date, YYYYMMDD
	TimeSequence string    `json:"timeSequence"`           // capture time, HHMMSS
	Resolution   string    `json:"resolution"`             // pixel resolution (1024, 2048, 4096)
	Filter       string    `json:"filter"`                 // instrument wavelength code (e.g., 0211)
	FilePath     string    `json:"filePath"`               // absolute or base-relative local path
	FileSizeKB   float64   `json:"fileSizeKB,omitempty"`   // size on disk in KB
	DownloadedAt time.Time `json:"downloadedAt,omitempty"` // when the file was fetched
	SourceURL    string    `json:"sourceURL,omitempty"`    // upstream URL, when known
}

// OpenOrCreateIndex opens an existing Bleve index or creates a new one if it doesn't exist.
func OpenOrCreateIndex(indexPath string) (bleve.Index, error) {
	if indexPath == "" {
		indexPath = defaultIndexPath
	}

	index, err := bleve.Open(indexPath)
	if err == bleve.ErrorIndexPathDoesNotExist {
		log.Printf("Creating new index at: %s", indexPath)
		mapping := bleve.NewIndexMapping()
		index, err = bleve.New(indexPath, mapping)
		if err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err // Other error opening index
	} else {
		log.Printf("Opened existing index at: %s", indexPath)
	}
	return index, nil
}

// IndexItem adds or updates an image in the Bleve index, keyed by filename.
func IndexItem(index bleve.Index, item Item) error {
	return index.Index(item.ID, item)
}

// SearchIndex performs a query-string search against the index.
func SearchIndex(index bleve.Index, query string) (*bleve.SearchResult, error) {
	searchQuery := bleve.NewQueryStringQuery(query)
	searchRequest := bleve.NewSearchRequest(searchQuery)
	searchRequest.Fields = []string{"*"} // Request all stored fields
	searchResults, err := index.Search(searchRequest)
	if err != nil {
		return nil, err
	}
	return searchResults, nil
}

// DeleteIndex removes the index directory. Use with caution!
func DeleteIndex(indexPath string) error {
	if indexPath == "" {
		indexPath = defaultIndexPath
	}
	log.Printf("Attempting to delete index at: %s", indexPath)
	return os.RemoveAll(indexPath)
}
