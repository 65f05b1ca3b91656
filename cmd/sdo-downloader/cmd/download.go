package cmd

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"go-sdo-download/internal/downloader"
	"go-sdo-download/internal/helpers"
	"go-sdo-download/internal/models"
	"go-sdo-download/internal/scraper"

	"github.com/gosuri/uilive"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// downloadCmd represents the download command
var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download solar images for a date range",
	Long: `Scrapes the SDO browse archive directory listings for a date range,
filters out images already present in the local tree, and downloads the rest.
Per-item failures are reported and never abort the batch.`,
	Run: runDownload,
}

func init() {
	rootCmd.AddCommand(downloadCmd)

	downloadCmd.Flags().IntP("days", "d", 1, "Number of trailing days to download (ending at --end-date)")
	downloadCmd.Flags().StringP("end-date", "e", "", "Last day of the range, YYYY-MM-DD (default: today)")
	downloadCmd.Flags().StringP("resolution", "r", "", "Image resolution (1024, 2048, 4096). Overrides config.")
	downloadCmd.Flags().StringP("filter", "f", "", "Instrument wavelength code (e.g. 0211, 0193). Overrides config.")

	// Bind flags to Viper
	viper.BindPFlag("download.days", downloadCmd.Flags().Lookup("days"))
	viper.BindPFlag("download.end_date", downloadCmd.Flags().Lookup("end-date"))
	viper.BindPFlag("download.resolution", downloadCmd.Flags().Lookup("resolution"))
	viper.BindPFlag("download.filter", downloadCmd.Flags().Lookup("filter"))
}

func runDownload(cmd *cobra.Command, args []string) {
	initLogging()
	log.Info("Starting SDO Downloader - Download Command")

	days := viper.GetInt("download.days")
	if days < 1 {
		log.Errorf("Invalid --days value %d, must be at least 1", days)
		os.Exit(1)
	}

	endDate := time.Now().UTC().Truncate(24 * time.Hour)
	if endStr := viper.GetString("download.end_date"); endStr != "" {
		var err error
		endDate, err = time.Parse("2006-01-02", endStr)
		if err != nil {
			log.Errorf("Invalid --end-date %q, expected YYYY-MM-DD: %v", endStr, err)
			os.Exit(1)
		}
	}
	startDate := endDate.AddDate(0, 0, -(days - 1))

	applyImageSelectionOverrides(cmd)

	report := runScrapeDownload(startDate, endDate)
	if report.Failed > 0 {
		log.Warnf("%d download(s) failed; see log above for details", report.Failed)
	}
}

// applyImageSelectionOverrides folds the --resolution/--filter flags into the
// global config, validating the resolution against the supported set.
func applyImageSelectionOverrides(cmd *cobra.Command) {
	if res := viper.GetString("download.resolution"); res != "" {
		valid := false
		for _, r := range models.ValidResolutions {
			if r == res {
				valid = true
				break
			}
		}
		if !valid {
			log.Errorf("Invalid resolution %q, must be one of %v", res, models.ValidResolutions)
			os.Exit(1)
		}
		globalConfig.Resolution = res
	}
	if filter := viper.GetString("download.filter"); filter != "" {
		globalConfig.SolarFilter = filter
	}
}

// runScrapeDownload is the scrape -> filter-new -> download pipeline shared by
// the download and today commands. Days are processed in ascending date order
// and files within a day in chronological filename order.
func runScrapeDownload(startDate, endDate time.Time) downloader.BatchReport {
	org := newOrganizer()
	db := openCatalog()
	if db != nil {
		defer db.Close()
	}

	rateDelay := time.Duration(globalConfig.RateLimitDelayMs) * time.Millisecond
	scrapeClient := &http.Client{
		Timeout:   time.Duration(globalConfig.HTTPTimeoutSec) * time.Second,
		Transport: globalHTTPTransport,
	}
	s := scraper.New(scrapeClient, "", rateDelay, globalConfig.Resolution, globalConfig.SolarFilter)
	manager := downloader.NewManager(newFetcher(), org, db)

	log.Infof("Scraping archive listings from %s to %s (resolution %s, filter %s)",
		startDate.Format("2006-01-02"), endDate.Format("2006-01-02"),
		globalConfig.Resolution, globalConfig.SolarFilter)

	available := s.AvailableImagesForDateRange(startDate, endDate)
	log.Infof("Found %d image(s) in the archive listings", len(available))

	newImages := s.FilterNewImages(available, org)
	tasks := s.CreateDownloadTasks(newImages, org)
	if len(tasks) == 0 {
		log.Info("Nothing to download; local tree is up to date.")
		return downloader.BatchReport{}
	}
	log.Infof("Downloading %d new image(s)...", len(tasks))

	writer := uilive.New()
	writer.Start()
	report := manager.Run(tasks, func(task *models.DownloadTask, done, total int) {
		fmt.Fprintf(writer, "Downloading images: %d/%d (%s)\n", done, total, task.Status)
	})
	writer.Stop()

	indexCompletedTasks(tasks)

	log.Infof("Download complete. Attempted: %d, Succeeded: %d, Skipped: %d, Failed: %d (%.1f%% success)",
		report.Attempted, report.Succeeded, report.Skipped, report.Failed, report.SuccessRate())
	if report.BytesSaved > 0 {
		log.Infof("Fetched %s", helpers.BytesToSize(report.BytesSaved))
	}
	for _, failed := range report.Failures {
		log.Warnf("Failed: %s (%s)", failed.URL, failed.ErrorMessage)
	}
	return report
}
