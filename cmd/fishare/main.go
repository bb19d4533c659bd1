// Package main provides the CLI entry point for FIshare.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "fishare",
		Short:   "FIshare - peer-to-peer LAN file transfer",
		Version: Version,
		Long: `FIshare discovers other FIshare devices on the local network and
transfers files to them directly, with an authenticated encrypted
connection and an explicit accept/reject prompt on the receiving end.`,
	}

	rootCmd.AddGroup(&cobra.Group{ID: "main", Title: "Transfer:"})
	rootCmd.AddGroup(&cobra.Group{ID: "info", Title: "Status:"})

	rootCmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "d", defaultDataDir(), "Directory for identity, config, and history")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text, json")

	serve := serveCmd()
	serve.GroupID = "main"
	rootCmd.AddCommand(serve)

	send := sendCmd()
	send.GroupID = "main"
	rootCmd.AddCommand(send)

	devices := devicesCmd()
	devices.GroupID = "info"
	rootCmd.AddCommand(devices)

	history := historyCmd()
	history.GroupID = "info"
	rootCmd.AddCommand(history)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Shared persistent flags, populated by cobra before any RunE executes.
var (
	dataDir   string
	logLevel  string
	logFormat string
)

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home + "/.fishare"
	}
	return "./fishare-data"
}
