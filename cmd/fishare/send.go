package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/fishare/fishare/internal/config"
	"github.com/fishare/fishare/internal/history"
	"github.com/fishare/fishare/internal/identity"
	"github.com/fishare/fishare/internal/logging"
	"github.com/fishare/fishare/internal/metrics"
	"github.com/fishare/fishare/internal/state"
	"github.com/fishare/fishare/internal/transfer"
)

func sendCmd() *cobra.Command {
	var deviceName string

	cmd := &cobra.Command{
		Use:   "send <host:port> <file>...",
		Short: "Send one or more files to a FIshare device",
		Long: `Connect directly to a FIshare device's transfer listener and offer it one
or more files. The recipient must accept the transfer before any data is
sent; a rejection or busy status is reported as an error.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := args[0]
			files := args[1:]

			for _, f := range files {
				if _, err := os.Stat(f); err != nil {
					return fmt.Errorf("%s: %w", f, err)
				}
			}

			host, portStr, err := net.SplitHostPort(addr)
			if err != nil {
				return fmt.Errorf("invalid address %q: %w", addr, err)
			}
			port, err := strconv.Atoi(portStr)
			if err != nil {
				return fmt.Errorf("invalid port in %q: %w", addr, err)
			}

			logger := logging.NewLogger(logLevel, logFormat)

			cfg, err := config.Load(dataDir)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if deviceName == "" {
				deviceName = cfg.DeviceName
			}

			id, err := identity.LoadOrCreate(dataDir)
			if err != nil {
				return fmt.Errorf("load identity: %w", err)
			}

			hist, err := history.Open(dataDir)
			if err != nil {
				return fmt.Errorf("open history: %w", err)
			}

			st := state.New(state.StatusAvailable)
			dev := state.Device{DeviceID: addr, Name: addr, Host: host, Port: port, Status: state.StatusAvailable}

			sender := &transfer.Sender{
				DeviceName:     deviceName,
				Identity:       id,
				State:          st,
				History:        hist,
				Logger:         logger,
				Metrics:        metrics.Default(),
				RateLimitBytes: cfg.RateLimitBytesPerSec,
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			progressDone := make(chan struct{})
			go reportProgress(ctx, st, dev.DeviceID, progressDone)

			fmt.Printf("sending %d file(s) to %s...\n", len(files), addr)
			err = sender.Send(ctx, dev, files)
			cancel()
			<-progressDone

			if err != nil {
				return fmt.Errorf("transfer failed: %w", err)
			}

			fmt.Println(okStyle.Render("transfer complete"))
			return nil
		},
	}

	cmd.Flags().StringVar(&deviceName, "name", "", "Display name to offer the recipient (defaults to this device's configured name)")

	return cmd
}

// reportProgress polls the shared aggregate progress value and prints a
// single updating line until ctx is canceled, matching the teacher's
// preference for simple polled status output over a full TUI.
func reportProgress(ctx context.Context, st *state.AppState, deviceID string, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ratio := st.AggregateProgress(deviceID)
			fmt.Printf("\r%s", dimStyle.Render(fmt.Sprintf("progress: %s", humanize.FormatFloat("#.#%", ratio*100))))
		}
	}
}
