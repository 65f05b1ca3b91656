package main

import (
	"go-sdo-download/cmd/sdo-downloader/cmd"
)

func main() {
	// Execute the root command (defined in cmd/root.go)
	cmd.Execute()
}
