package cmd

import (
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// todayCmd represents the today command
var todayCmd = &cobra.Command{
	Use:   "today",
	Short: "Download all of today's solar images",
	Long: `One-shot scrape and download of every image published so far today.
Equivalent to 'download --days 1' with the end date pinned to the current day.`,
	Run: runToday,
}

func init() {
	rootCmd.AddCommand(todayCmd)
}

func runToday(cmd *cobra.Command, args []string) {
	initLogging()
	log.Info("Starting SDO Downloader - Today Command")

	today := time.Now().UTC().Truncate(24 * time.Hour)
	report := runScrapeDownload(today, today)
	if report.Failed > 0 {
		log.Warnf("%d download(s) failed; see log above for details", report.Failed)
	}
}
