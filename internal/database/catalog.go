package database

import (
	"encoding/json"
	"fmt"
	"time"
)

// Catalog entry status values.
const (
	StatusDownloaded = "Downloaded"
	StatusError      = "Error"
)

// CatalogEntry is the journal record kept per download attempt, keyed by the
// canonical filename. It is derived bookkeeping for reporting; dedup always
// goes to the filesystem, never here.
type CatalogEntry struct {
	Filename     string    `json:"filename"`
	Date         string    `json:"date"` // YYYYMMDD
	URL          string    `json:"url"`
	LocalPath    string    `json:"localPath"`
	SizeBytes    int64     `json:"sizeBytes"`
	BLAKE3       string    `json:"blake3,omitempty"`
	DownloadedAt time.Time `json:"downloadedAt"`
	Status       string    `json:"status"`
	ErrorDetails string    `json:"errorDetails,omitempty"`
}

// PutEntry serializes and stores a catalog entry under its filename.
func (d *DB) PutEntry(entry CatalogEntry) error {
	if entry.Filename == "" {
		return fmt.Errorf("cannot store catalog entry with empty filename")
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("error marshalling catalog entry for %s: %w", entry.Filename, err)
	}
	return d.Put([]byte(entry.Filename), data)
}

// GetEntry retrieves the catalog entry for a filename. Returns ErrNotFound
// when the filename has never been journaled.
func (d *DB) GetEntry(filename string) (CatalogEntry, error) {
	data, err := d.Get([]byte(filename))
	if err != nil {
		return CatalogEntry{}, err
	}
	var entry CatalogEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return CatalogEntry{}, fmt.Errorf("error unmarshalling catalog entry for %s: %w", filename, err)
	}
	return entry, nil
}

// Entries folds over the whole catalog and returns every entry.
func (d *DB) Entries() ([]CatalogEntry, error) {
	var entries []CatalogEntry
	err := d.Fold(func(key, value []byte) error {
		var entry CatalogEntry
		if err := json.Unmarshal(value, &entry); err != nil {
			return nil // skip malformed records, keep folding
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Counts tallies catalog entries by status.
func (d *DB) Counts() (downloaded, failed int, err error) {
	entries, err := d.Entries()
	if err != nil {
		return 0, 0, err
	}
	for _, e := range entries {
		switch e.Status {
		case StatusDownloaded:
			downloaded++
		case StatusError:
			failed++
		}
	}
	return downloaded, failed, nil
}
