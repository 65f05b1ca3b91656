package cmd

import (
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(cleanCmd)

	cleanCmd.Flags().StringP("date", "D", "", "Single day to clean, YYYY-MM-DD (default: today)")
	cleanCmd.Flags().IntP("days", "d", 1, "Number of trailing days to clean (ending at --date)")
	cleanCmd.Flags().BoolP("all", "a", false, "Clean every date present in the local tree")
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove zero-byte image files from the local tree",
	Long: `Scans the date directories for image files that exist but are empty
(zero bytes, typically from an interrupted write) and removes them so a later
download can fetch them again. Non-empty files are never touched.`,
	Run: runClean,
}

func runClean(cmd *cobra.Command, args []string) {
	initLogging()

	org := newOrganizer()

	cleanAll, _ := cmd.Flags().GetBool("all")
	days, _ := cmd.Flags().GetInt("days")
	dateStr, _ := cmd.Flags().GetString("date")

	var dates []time.Time
	if cleanAll {
		var err error
		dates, err = org.AvailableDates()
		if err != nil {
			log.Errorf("Failed to enumerate archive dates: %v", err)
			os.Exit(1)
		}
	} else {
		endDate := time.Now().UTC().Truncate(24 * time.Hour)
		if dateStr != "" {
			var err error
			endDate, err = time.Parse("2006-01-02", dateStr)
			if err != nil {
				log.Errorf("Invalid --date %q, expected YYYY-MM-DD: %v", dateStr, err)
				os.Exit(1)
			}
		}
		if days < 1 {
			log.Errorf("Invalid --days value %d, must be at least 1", days)
			os.Exit(1)
		}
		for d := endDate.AddDate(0, 0, -(days - 1)); !d.After(endDate); d = d.AddDate(0, 0, 1) {
			dates = append(dates, d)
		}
	}

	log.Infof("Scanning %d date(s) for zero-byte files...", len(dates))

	totalRemoved := 0
	failures := 0
	for _, date := range dates {
		removed, err := org.CleanupCorruptedFiles(date)
		if err != nil {
			log.Errorf("Cleanup failed for %s: %v", date.Format("2006-01-02"), err)
			failures++
			continue
		}
		if removed > 0 {
			log.Infof("Removed %d zero-byte file(s) from %s", removed, date.Format("2006-01-02"))
		}
		totalRemoved += removed
	}

	log.Infof("Clean complete. Removed %d zero-byte file(s).", totalRemoved)
	if failures > 0 {
		os.Exit(1)
	}
}
