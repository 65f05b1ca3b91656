package cmd

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-sdo-download/internal/config"
	"go-sdo-download/internal/database"
	"go-sdo-download/internal/fetcher"
	"go-sdo-download/internal/helpers"
	"go-sdo-download/internal/models"
	"go-sdo-download/internal/storage"
)

// cfgFile holds the path to the config file specified by the user
var cfgFile string

// logHTTPFlag holds the value of the --log-http flag
var logHTTPFlag bool

// dataDirFlag holds the value of the --data-dir flag
var dataDirFlag string

// rateDelayFlag holds the value of the --rate-delay flag
var rateDelayFlag int

// httpTimeoutFlag holds the value of the --http-timeout flag
var httpTimeoutFlag int

// Logging flags shared by all commands
var logLevel string
var logFormat string

// globalConfig holds the loaded configuration
var globalConfig models.Config

// globalHTTPTransport holds the globally configured HTTP transport (base or
// logging-wrapped)
var globalHTTPTransport http.RoundTripper

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "sdo-downloader",
	Short: "A tool to download solar images from NASA SDO",
	Long: `SDO Downloader fetches AIA imagery from the NASA Solar Dynamics
Observatory browse archive, organizes it into a date-keyed local tree,
and can monitor the archive for newly published images.`,
	PersistentPreRunE: loadGlobalConfig, // Load config before any command runs
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	// Flush and close the HTTP logging transport if it was initialized
	defer func() {
		if loggingTransport, ok := globalHTTPTransport.(*fetcher.LoggingTransport); ok && loggingTransport != nil {
			if err := loggingTransport.Close(); err != nil {
				log.WithError(err).Error("Error closing HTTP log file")
			}
		}
	}()

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	// Add persistent flags that apply to all commands
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.toml", "Configuration file path")
	rootCmd.PersistentFlags().BoolVar(&logHTTPFlag, "log-http", false, "Log HTTP requests/responses to http.log (overrides config)")
	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "Directory to store downloaded images (overrides config)")
	rootCmd.PersistentFlags().IntVar(&rateDelayFlag, "rate-delay", -1, "Delay between HTTP requests in ms (overrides config, -1 uses config default)")
	rootCmd.PersistentFlags().IntVar(&httpTimeoutFlag, "http-timeout", -1, "Timeout for image GET requests in seconds (overrides config, -1 uses config default)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Logging level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Logging format (text, json)")

	// Hook to configure logging before any command runs
	cobra.OnInitialize(initLogging)
}

// initLogging configures logrus based on persistent flags
func initLogging() {
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		log.WithError(err).Warnf("Invalid log level '%s', using default 'info'", logLevel)
		level = log.InfoLevel
	}
	log.SetLevel(level)

	switch logFormat {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		log.Warnf("Invalid log format '%s', using default 'text'", logFormat)
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}

// loadGlobalConfig attempts to load the configuration and applies flag overrides.
// It also sets up the global HTTP transport based on logging settings.
func loadGlobalConfig(cmd *cobra.Command, args []string) error {
	var err error
	globalConfig, err = config.LoadConfig(cfgFile)
	if err != nil {
		// Not fatal; the defaults cover every field a command needs.
		log.WithError(err).Warnf("Failed to load configuration from %s, using defaults", cfgFile)
		globalConfig = config.DefaultConfig()
	}

	// Override LogHTTPRequests if flag was used
	if cmd.Flags().Changed("log-http") {
		globalConfig.LogHTTPRequests = logHTTPFlag
		log.Debugf("Overriding LogHTTPRequests based on --log-http flag: %t", logHTTPFlag)
	}

	// Override DataDir if flag was used
	if cmd.Flags().Changed("data-dir") {
		if dataDirFlag != "" {
			globalConfig.DataDir = dataDirFlag
			log.Debugf("Overriding DataDir based on --data-dir flag: %s", dataDirFlag)
		} else {
			log.Warn("--data-dir flag provided but value is empty, ignoring.")
		}
	}

	// Override RateLimitDelayMs if flag was used and valid
	if cmd.Flags().Changed("rate-delay") {
		if rateDelayFlag >= 0 { // Allow 0 delay if specified
			globalConfig.RateLimitDelayMs = rateDelayFlag
			log.Debugf("Overriding RateLimitDelayMs based on --rate-delay flag: %d ms", rateDelayFlag)
		} else {
			log.Warnf("--rate-delay flag provided with invalid value %d, using config value: %d ms", rateDelayFlag, globalConfig.RateLimitDelayMs)
		}
	}

	// Override HTTPTimeoutSec if flag was used and valid
	if cmd.Flags().Changed("http-timeout") {
		if httpTimeoutFlag > 0 {
			globalConfig.HTTPTimeoutSec = httpTimeoutFlag
			log.Debugf("Overriding HTTPTimeoutSec based on --http-timeout flag: %d sec", httpTimeoutFlag)
		} else {
			log.Warnf("--http-timeout flag provided with invalid value %d, using config value: %d sec", httpTimeoutFlag, globalConfig.HTTPTimeoutSec)
		}
	}

	// --- Setup Global HTTP Transport ---
	baseTransport := http.DefaultTransport
	globalHTTPTransport = baseTransport
	if globalConfig.LogHTTPRequests {
		logFilePath := "http.log"
		if globalConfig.DataDir != "" {
			if helpers.CheckAndMakeDir(globalConfig.DataDir) {
				logFilePath = filepath.Join(globalConfig.DataDir, logFilePath)
			} else {
				log.Warnf("DataDir '%s' not usable, saving http.log to current directory.", globalConfig.DataDir)
			}
		}
		log.Infof("HTTP logging to file: %s", logFilePath)

		loggingTransport, err := fetcher.NewLoggingTransport(baseTransport, logFilePath)
		if err != nil {
			log.WithError(err).Error("Failed to initialize HTTP logging transport, logging disabled.")
		} else {
			globalHTTPTransport = loggingTransport
		}
	}
	// --- End Setup Global HTTP Transport ---

	return nil
}

// newFetcher builds an ImageFetcher from the global configuration and the
// globally configured transport.
func newFetcher() *fetcher.ImageFetcher {
	if globalHTTPTransport == nil {
		// Fallback in case root command setup failed silently
		log.Error("Global HTTP transport not initialized, using default transport without logging.")
		globalHTTPTransport = http.DefaultTransport
	}
	client := &http.Client{
		Timeout:   time.Duration(globalConfig.HTTPTimeoutSec) * time.Second,
		Transport: globalHTTPTransport,
	}
	return fetcher.New(client, time.Duration(globalConfig.RateLimitDelayMs)*time.Millisecond, globalConfig.MaxRetries)
}

// newOrganizer builds the storage organizer rooted at the configured DataDir.
func newOrganizer() *storage.Organizer {
	org, err := storage.NewOrganizer(globalConfig.DataDir, globalConfig.Resolution, globalConfig.SolarFilter)
	if err != nil {
		log.WithError(err).Fatalf("Failed to initialize storage at %s", globalConfig.DataDir)
	}
	return org
}

// openCatalog opens the download catalog. The catalog is derived bookkeeping,
// so failure to open it degrades to a nil catalog rather than aborting.
func openCatalog() *database.DB {
	dbPath := globalConfig.DatabasePath
	if dbPath == "" {
		dbPath = filepath.Join(globalConfig.DataDir, "catalog.db")
		log.Debugf("DatabasePath not set, using default: %s", dbPath)
	}
	db, err := database.Open(dbPath)
	if err != nil {
		log.WithError(err).Warnf("Failed to open catalog at %s, continuing without it", dbPath)
		return nil
	}
	return db
}

// bleveIndexPath resolves the archive index location.
func bleveIndexPath() string {
	if globalConfig.BleveIndexPath != "" {
		return globalConfig.BleveIndexPath
	}
	return filepath.Join(globalConfig.DataDir, "sdo-archive.bleve")
}
