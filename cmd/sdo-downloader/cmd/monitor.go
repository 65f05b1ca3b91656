package cmd

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"go-sdo-download/internal/downloader"
	"go-sdo-download/internal/scheduler"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Continuously monitor the archive for new images",
	Long: `Runs the background monitoring loop: every check interval the trailing
day window is swept for images not yet in the local tree, and new ones are
downloaded. Press Ctrl+C to stop; an in-flight cycle runs to completion.`,
	Run: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)

	monitorCmd.Flags().IntP("interval", "i", 0, "Minutes between checks (overrides config)")
	monitorCmd.Flags().Int("range", 0, "Trailing day window to sweep each check (overrides config)")

	viper.BindPFlag("monitor.interval", monitorCmd.Flags().Lookup("interval"))
	viper.BindPFlag("monitor.range", monitorCmd.Flags().Lookup("range"))
}

func runMonitor(cmd *cobra.Command, args []string) {
	initLogging()
	log.Info("Starting SDO Downloader - Monitor Command")

	intervalMinutes := globalConfig.CheckIntervalMinutes
	if v := viper.GetInt("monitor.interval"); v > 0 {
		intervalMinutes = v
	}
	rangeDays := globalConfig.MonitoringRangeDays
	if v := viper.GetInt("monitor.range"); v > 0 {
		rangeDays = v
	}

	org := newOrganizer()
	db := openCatalog()
	if db != nil {
		defer db.Close()
	}
	manager := downloader.NewManager(newFetcher(), org, db)

	monitor, err := scheduler.NewMonitor(manager, org, time.Duration(intervalMinutes)*time.Minute, rangeDays)
	if err != nil {
		log.WithError(err).Error("Failed to create monitor")
		os.Exit(1)
	}

	if err := monitor.Start(); err != nil {
		log.WithError(err).Error("Failed to start monitoring")
		os.Exit(1)
	}
	log.Infof("Monitoring every %d minute(s) over a %d-day window. Ctrl+C to stop.", intervalMinutes, rangeDays)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case ev := <-monitor.Events():
			reportEvent(monitor, ev)
		case sig := <-sigCh:
			log.Infof("Received %s, stopping monitor...", sig)
			monitor.Stop()
			status := monitor.Status()
			log.Infof("Monitoring stopped after %d check(s): %d new image(s), %d download(s), %d failure(s)",
				status.TotalChecks, status.NewImagesFound, status.TotalDownloads, status.FailedDownloads)
			return
		}
	}
}

// reportEvent translates monitor lifecycle events into console output.
func reportEvent(monitor *scheduler.Monitor, ev scheduler.Event) {
	switch ev.Type {
	case scheduler.CheckStarted:
		log.Debug("Check started")
	case scheduler.NewImagesFound:
		log.Infof("Found %d new image(s)", ev.NewImages)
	case scheduler.CheckCompleted:
		status := monitor.Status()
		log.Infof("Check #%d complete: %d candidate(s), %d downloaded, %d failed (cumulative: %d downloads, %d failures)",
			status.TotalChecks, ev.Candidates, ev.NewImages, ev.Failed,
			status.TotalDownloads, status.FailedDownloads)
	}
}
