package helpers

import (
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"lukechampine.com/blake3"
)

// ParseFilenameDate extracts the capture date from the leading YYYYMMDD
// segment of a canonical image filename (YYYYMMDD_HHMMSS_<res>_<filter>.jpg).
// The embedded date is load-bearing: storage paths are re-derived from it.
func ParseFilenameDate(filename string) (time.Time, error) {
	parts := strings.SplitN(filename, "_", 2)
	if len(parts) < 2 || len(parts[0]) != 8 {
		return time.Time{}, fmt.Errorf("filename %q has no leading YYYYMMDD segment", filename)
	}
	date, err := time.Parse("20060102", parts[0])
	if err != nil {
		return time.Time{}, fmt.Errorf("filename %q has invalid date segment: %w", filename, err)
	}
	return date, nil
}

// ParseTimeSequence extracts the HHMMSS segment of a canonical image
// filename, falling back to "000000" when the filename is not canonical.
func ParseTimeSequence(filename string) string {
	parts := strings.Split(filename, "_")
	if len(parts) >= 2 && len(parts[1]) == 6 {
		return parts[1]
	}
	return "000000"
}

// HashBytes returns the uppercase hex BLAKE3 digest of data.
func HashBytes(data []byte) string {
	sum := blake3.Sum256(data)
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// BytesToSize converts a byte count into a human-readable string (KB, MB, GB, etc.).
func BytesToSize(bytes uint64) string {
	sizes := []string{"B", "KB", "MB", "GB", "TB"}
	if bytes == 0 {
		return "0B"
	}
	i := int(math.Floor(math.Log(float64(bytes)) / math.Log(1024)))
	if i >= len(sizes) {
		i = len(sizes) - 1 // Handle very large sizes
	}
	return fmt.Sprintf("%.2f%s", float64(bytes)/math.Pow(1024, float64(i)), sizes[i])
}

// CheckAndMakeDir ensures a directory exists, creating it if necessary.
func CheckAndMakeDir(dir string) bool {
	// Use MkdirAll to create parent directories if they don't exist
	err := os.MkdirAll(dir, 0700)
	if err != nil {
		log.WithError(err).Errorf("Error creating directory %s", dir)
		return false
	}
	return true
}
