package cmd

import (
	"fmt"
	"os"

	"go-sdo-download/internal/helpers"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarize the local archive and download catalog",
	Long: `Prints a per-date summary of the local image tree (the authoritative
record of what has been downloaded) plus the catalog's cumulative counters.`,
	Run: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	initLogging()

	org := newOrganizer()

	dates, err := org.AvailableDates()
	if err != nil {
		log.Errorf("Failed to enumerate archive dates: %v", err)
		os.Exit(1)
	}

	if len(dates) == 0 {
		fmt.Printf("No images found under %s (resolution %s, filter %s).\n",
			org.BaseDir(), globalConfig.Resolution, globalConfig.SolarFilter)
	} else {
		fmt.Printf("Archive at %s (resolution %s, filter %s):\n",
			org.BaseDir(), globalConfig.Resolution, globalConfig.SolarFilter)
		totalImages := 0
		var totalBytes uint64
		for _, date := range dates {
			images := org.ListLocalImages(date)
			var dayBytes uint64
			for _, filename := range images {
				if size, ok := org.FileSize(filename, date); ok {
					dayBytes += uint64(size)
				}
			}
			fmt.Printf("  %s  %4d image(s)  %s\n",
				date.Format("2006-01-02"), len(images), helpers.BytesToSize(dayBytes))
			totalImages += len(images)
			totalBytes += dayBytes
		}
		fmt.Printf("Total: %d image(s) across %d date(s), %s on disk.\n",
			totalImages, len(dates), helpers.BytesToSize(totalBytes))
	}

	// Catalog counters are derived bookkeeping; absence is not an error.
	db := openCatalog()
	if db == nil {
		return
	}
	defer db.Close()
	downloaded, failed, err := db.Counts()
	if err != nil {
		log.Warnf("Failed to read catalog counters: %v", err)
		return
	}
	fmt.Printf("Catalog: %d recorded download(s), %d recorded failure(s).\n", downloaded, failed)
}
